// Package segfit implements a concurrent segregated-fit region
// allocator over a caller-supplied, fixed-size byte buffer: a
// thread-cache fast path, a sharded heap tier with deferred cross-
// thread frees, and a page allocator that bump-allocates and recycles
// fixed-size pages. See SPEC_FULL.md for the full design.
//
// Grounded throughout on the Go runtime's own allocator
// (runtime/malloc.go, mcache.go, mcentral.go, mheap.go in the teacher
// pack) with the garbage collector's sweep-generation bookkeeping
// stripped out: this allocator's reclamation is explicit
// (CollectGarbage), not concurrent-mark-and-sweep.
package segfit

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Allocator is the top-level handle returned by New. It carves the
// caller's region into a page-data area and dispatches Alloc/Free to
// the appropriate shard and thread cache, per spec.md §4.8.
type Allocator struct {
	cfg Config
	log *logrus.Logger

	nWorkers int
	nShards  int
	nBins    int
	pageSize uintptr

	region []byte // retained so the GC never reclaims memory the page allocator hands out

	pages     []page
	pageAlloc pageAllocator
	shards    []heapShard
	tcache    [][]threadCache // [worker][bin]
}

// New partitions base into control structures and a page-data area per
// cfg. Go structs backing shard/store/cache state are allocated
// normally on the Go heap (a raw caller-supplied buffer cannot safely
// host live, GC-scanned Go values); base is reserved entirely for the
// bounded resource the spec cares about — object storage.
func New(base []byte, cfg Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pageSize := uintptr(cfg.PageSize)
	numPages := len(base) / int(pageSize)
	if numPages < 1 {
		return nil, errors.Wrapf(ErrRegionTooSmall, "region of %d bytes yields 0 pages at page size %d", len(base), cfg.PageSize)
	}

	a := &Allocator{
		cfg:      cfg,
		log:      cfg.Logger,
		nWorkers: nextPow2(cfg.MaxThreads),
		nShards:  nextPow2(cfg.NumHeaps),
		nBins:    numBins(),
		pageSize: pageSize,
		region:   base,
	}

	a.pages = make([]page, numPages)
	dataBase := unsafe.Pointer(&base[0])
	a.pageAlloc.init(a.pages, dataBase, pageSize)

	a.shards = make([]heapShard, a.nShards)
	for i := range a.shards {
		a.shards[i].init(i, &a.pageAlloc, pageSize)
	}

	a.tcache = make([][]threadCache, a.nWorkers)
	for w := range a.tcache {
		a.tcache[w] = make([]threadCache, a.nBins)
		for b := range a.tcache[w] {
			a.tcache[w][b].init()
		}
	}

	a.log.WithFields(logrus.Fields{
		"pages":    numPages,
		"pageSize": cfg.PageSize,
		"shards":   a.nShards,
		"workers":  a.nWorkers,
		"bins":     a.nBins,
	}).Debug("segfit: allocator constructed")

	return a, nil
}

func hashTid(tid int) uint64 {
	x := uint64(tid)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

func (a *Allocator) shardFor(tid int) *heapShard {
	return &a.shards[hashTid(tid)&uint64(a.nShards-1)]
}

// cacheFor masks tid directly rather than hashing it, so every tid in
// [0, nWorkers) gets a thread-cache row of its own.
func (a *Allocator) cacheFor(tid, bin int) *threadCache {
	return &a.tcache[uint64(tid)&uint64(a.nWorkers-1)][bin]
}

func (a *Allocator) allocBin(tid, bin int) (unsafe.Pointer, bool) {
	shard := a.shardFor(tid)
	cache := a.cacheFor(tid, bin)
	return cache.alloc(
		func() (*page, int) { return shard.allocPages(bin) },
		func(head *page, cnt int) { shard.pushFull(bin, head, cnt) },
	)
}

// Alloc serves a size-byte request for worker tid. Returns (ptr, true)
// on success; (nil, false) if size exceeds MaxAllocSize or the region
// is exhausted for that bin at this moment (spec.md §7).
func (a *Allocator) Alloc(tid int, size uintptr) (unsafe.Pointer, bool) {
	bin, ok := binOfSize(size)
	if !ok {
		return nil, false
	}
	return a.allocBin(tid, bin)
}

// headerSize is the width of the slot-base pointer AlignedAlloc writes
// immediately before a non-slot-aligned return value, so Free can
// recover the real slot without relying on alignment-down (spec.md §9
// Open Question: "record the padding explicitly").
const headerSize = unsafe.Sizeof(uintptr(0))

// AlignedAlloc returns a pointer aligned to align (a power of two). If
// the target bin's natural alignment already satisfies align, this
// simply delegates to Alloc — no padding, no header, identical to a
// plain allocation of that bin (spec.md §4.8).
func (a *Allocator) AlignedAlloc(tid int, size, align uintptr) (unsafe.Pointer, bool) {
	if align == 0 || align&(align-1) != 0 {
		return nil, false
	}
	bin, ok := binOfSize(size)
	if !ok {
		return nil, false
	}
	if classAlign(bin) >= align {
		return a.allocBin(tid, bin)
	}

	need := size + align - 1 + headerSize
	biggerBin, ok := binOfSize(need)
	if !ok {
		return nil, false
	}
	slotBase, ok := a.allocBin(tid, biggerBin)
	if !ok {
		return nil, false
	}

	raw := uintptr(slotBase) + headerSize
	aligned := (raw + align - 1) &^ (align - 1)
	*(*unsafe.Pointer)(unsafe.Pointer(aligned - headerSize)) = slotBase
	return unsafe.Pointer(aligned), true
}

// Free returns ptr, previously returned by Alloc or AlignedAlloc on
// this allocator, to its owning page. The free is always queued on the
// owning shard's lock-free intake list for that bin; it is applied to
// the page by a later drain (CollectGarbage, or the shard's next
// allocation for that bin) once the page is back in its used-page
// store (spec.md §4.8, §4.5).
func (a *Allocator) Free(ptr unsafe.Pointer) {
	p := a.pageAlloc.pageFor(ptr)
	if p == nil {
		return
	}
	slot := ptr
	if off := uintptr(ptr) - uintptr(p.base); off%p.elemSize != 0 {
		slot = *(*unsafe.Pointer)(unsafe.Pointer(uintptr(ptr) - headerSize))
	}
	a.shards[p.shard].deferredFree(p.bin, slot)
}

// CollectGarbage drains deferred frees and reclaims empty pages.
// tidOrAll < 0 sweeps every shard; otherwise only the shard tid
// selects. flushCache additionally returns each shard's entire
// empty-page cache to the page allocator.
func (a *Allocator) CollectGarbage(tidOrAll int, flushCache bool) {
	if tidOrAll < 0 {
		for i := range a.shards {
			a.shards[i].collectGarbage(flushCache)
		}
		a.log.WithField("flushCache", flushCache).Debug("segfit: collected garbage on all shards")
		return
	}
	a.shardFor(tidOrAll).collectGarbage(flushCache)
}

// MaxAllocSize returns the largest size Alloc will serve.
func (a *Allocator) MaxAllocSize() uintptr { return MaxAllocSize }

var autoTidCounter uint64

// AllocAuto is the convenience overload spec.md §9 leaves open: a
// caller that does not want to track its own tid gets one derived for
// it. Go exposes no stable per-goroutine identity, so — unlike a
// pthread_self()-keyed original — this assigns a fresh round-robin tid
// on every call. That means a goroutine calling AllocAuto twice may
// land in two different thread-cache cells; it is a convenience for
// one-shot call sites, not a substitute for pinning a real tid across
// a goroutine's lifetime (spec.md's own recommendation still stands
// for latency-sensitive callers).
func (a *Allocator) AllocAuto(size uintptr) (unsafe.Pointer, bool) {
	tid := int(atomic.AddUint64(&autoTidCounter, 1))
	return a.Alloc(tid, size)
}

// Stats is a point-in-time counter snapshot, the GC-free subset of the
// teacher's memstats/heapStats accounting (DESIGN.md).
type Stats struct {
	TotalPages    int
	PagesBumped   int
	PagesFreeList int
	PagesPerShard []ShardStats
}

// ShardStats summarizes one heap shard's page bookkeeping.
type ShardStats struct {
	Shard           int
	EmptyCachePages int
	BinsWithPartial int
	BinsWithFull    int
}

// Stats returns a snapshot. Not safe-guarded against concurrent
// alloc/free beyond what the underlying spin locks already provide
// per field; like the teacher's memstats, it is a best-effort view.
func (a *Allocator) Stats() Stats {
	a.pageAlloc.lock.lock()
	bumped := a.pageAlloc.nextPage
	freeListed := a.pageAlloc.freeList.len()
	a.pageAlloc.lock.unlock()

	s := Stats{
		TotalPages:    len(a.pages),
		PagesBumped:   bumped,
		PagesFreeList: freeListed,
		PagesPerShard: make([]ShardStats, len(a.shards)),
	}
	for i := range a.shards {
		sh := &a.shards[i]
		sh.cacheLock.lock()
		cached := sh.emptyCache.len()
		sh.cacheLock.unlock()

		partial, full := 0, 0
		for b := range sh.stores {
			st := &sh.stores[b]
			st.lock.lock()
			if !st.partial.empty() {
				partial++
			}
			if !st.full.empty() {
				full++
			}
			st.lock.unlock()
		}
		s.PagesPerShard[i] = ShardStats{
			Shard:           i,
			EmptyCachePages: cached,
			BinsWithPartial: partial,
			BinsWithFull:    full,
		}
	}
	return s
}
