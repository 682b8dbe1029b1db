package segfit

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultPageSize = 64 * 1024

// Config fixes the allocator's shape at construction time, mirroring
// the teacher's mallocinit sizing inputs (spec.md §6).
type Config struct {
	// MaxThreads upper-bounds concurrent workers; rounded up to the
	// next power of two as NWorkers.
	MaxThreads int
	// PageSize is the size, in bytes, of one data page. Must be a
	// power of two and at least MaxAllocSize. Defaults to 64 KiB.
	PageSize int
	// NumHeaps seeds the shard count; rounded up to the next power of
	// two as NShards. Defaults to 4x GOMAXPROCS.
	NumHeaps int
	// Logger receives coarse lifecycle events at debug level:
	// construction, and CollectGarbage over all shards. Page-allocator
	// exhaustion is not logged. Never written to on the alloc/free hot
	// path. Defaults to a logger whose output is discarded.
	Logger *logrus.Logger
}

// Validate fills in defaults and rejects a config the allocator cannot
// carve a region for, the way the teacher's mallocinit sanity-checks
// its size-class table before using it (DESIGN.md).
func (c *Config) Validate() error {
	if c.MaxThreads <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "MaxThreads must be > 0, got %d", c.MaxThreads)
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.PageSize <= 0 || c.PageSize&(c.PageSize-1) != 0 {
		return errors.Wrapf(ErrInvalidConfig, "PageSize must be a power of two, got %d", c.PageSize)
	}
	if uintptr(c.PageSize) < MaxAllocSize {
		return errors.Wrapf(ErrInvalidConfig, "PageSize must be >= MaxAllocSize (%d), got %d", MaxAllocSize, c.PageSize)
	}
	if c.NumHeaps <= 0 {
		c.NumHeaps = 4 * runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
		c.Logger.SetOutput(discardWriter{})
	}
	return nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
