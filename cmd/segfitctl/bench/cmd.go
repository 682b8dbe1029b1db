// Package bench implements "segfitctl bench": the randomized-mix
// workload from spec.md §8 scenario 2, driven across a worker pool
// with golang.org/x/sync/errgroup, the way cmd/opm/serve/serve.go
// fans out concurrent work in the teacher pack.
package bench

import (
	"math/rand"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"segfit"
)

func NewCmd() *cobra.Command {
	var (
		workers    int
		opsPerWork int
		regionMB   int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "run a randomized alloc/free/gc mix against an in-process allocator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logrus.New()
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logger.SetLevel(logrus.DebugLevel)
			}

			region := make([]byte, regionMB*1024*1024)
			a, err := segfit.New(region, segfit.Config{
				MaxThreads: workers,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			start := time.Now()
			g := new(errgroup.Group)
			for w := 0; w < workers; w++ {
				w := w
				g.Go(func() error {
					runWorker(a, w, opsPerWork)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			a.CollectGarbage(-1, true)
			logger.WithFields(logrus.Fields{
				"workers":  workers,
				"opsEach":  opsPerWork,
				"elapsed":  time.Since(start),
				"maxAlloc": a.MaxAllocSize(),
			}).Info("segfitctl bench: done")
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 8, "number of concurrent workers")
	cmd.Flags().IntVar(&opsPerWork, "ops", 100000, "operations per worker")
	cmd.Flags().IntVar(&regionMB, "region-mb", 64, "backing region size in MiB")

	return cmd
}

// runWorker replays spec.md §8 scenario 2's per-op mix: 50% alloc,
// 49.99% free, 0.01% full garbage collection.
func runWorker(a *segfit.Allocator, tid, ops int) {
	rng := rand.New(rand.NewSource(int64(tid) + 1))
	live := make([]unsafe.Pointer, 0, 1024)

	for i := 0; i < ops; i++ {
		switch roll := rng.Float64(); {
		case roll < 0.5:
			size := uintptr(32 + rng.Intn(int(segfit.MaxAllocSize)-32+1))
			if ptr, ok := a.Alloc(tid, size); ok {
				live = append(live, ptr)
			}
		case roll < 0.9999:
			if len(live) > 0 {
				idx := rng.Intn(len(live))
				a.Free(live[idx])
				live[idx] = live[len(live)-1]
				live = live[:len(live)-1]
			}
		default:
			a.CollectGarbage(-1, false)
		}
	}

	for _, ptr := range live {
		a.Free(ptr)
	}
}
