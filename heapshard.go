package segfit

import "unsafe"

const (
	// MinFreeObjs is the cumulative free-slot threshold a used-page
	// store or heap shard tries to satisfy in one replenishment batch.
	MinFreeObjs = 50
	// NumCachedPages bounds a shard's empty-page cache (spec.md P7).
	NumCachedPages = 100
)

// heapShard groups one used-page store per bin plus a bounded
// empty-page cache, and brokers pages between the page allocator and
// thread caches. Grounded on the teacher's mheap central-array-per-
// sizeclass layout (malloc.go / mheap.go), generalized from a single
// global heap to Nshards instances addressed by hash(tid).
type heapShard struct {
	index     int
	pageAlloc *pageAllocator
	pageSize  uintptr

	stores []usedPageStore // indexed by bin

	cacheLock  spinLock
	emptyCache pageList
}

func (h *heapShard) init(index int, pa *pageAllocator, pageSize uintptr) {
	h.index = index
	h.pageAlloc = pa
	h.pageSize = pageSize
	h.stores = make([]usedPageStore, numBins())
	for b := range h.stores {
		h.stores[b].init(b, index, pa)
	}
}

// allocPages returns a batch of pages assigned to bin, each with at
// least one free slot: used-page store partials first, then the
// shard's empty-page cache, then fresh pages from the page allocator
// (spec.md §4.6).
func (h *heapShard) allocPages(bin int) (head *page, count int) {
	partial, pcount, purgeable, purgeableCount := h.stores[bin].alloc(MinFreeObjs)
	h.purge(purgeable, purgeableCount)
	if partial != nil {
		return partial, pcount
	}

	if head, count = h.allocFromCache(bin); head != nil {
		return head, count
	}

	return h.allocFresh(bin)
}

func (h *heapShard) allocFromCache(bin int) (head *page, count int) {
	h.cacheLock.lock()
	defer h.cacheLock.unlock()

	freeObjs := 0
	for freeObjs < MinFreeObjs {
		p := h.emptyCache.popFront()
		if p == nil {
			break
		}
		p.initialize(bin, h.index, p.base, h.pageSize)
		freeObjs += int(p.numFree())
		p.next = head
		head = p
		count++
	}
	return head, count
}

func (h *heapShard) allocFresh(bin int) (head *page, count int) {
	freeObjs := 0
	for freeObjs < MinFreeObjs {
		p := h.pageAlloc.alloc()
		if p == nil {
			break
		}
		p.initialize(bin, h.index, p.base, h.pageSize)
		freeObjs += int(p.numFree())
		p.next = head
		head = p
		count++
	}
	return head, count
}

func (h *heapShard) pushFull(bin int, head *page, count int) {
	h.stores[bin].pushFull(head, count)
}

func (h *heapShard) deferredFree(bin int, obj unsafe.Pointer) {
	h.stores[bin].deferredFree(obj)
}

// collectGarbage drains every bin's used-page store into the
// empty-page cache (spilling overflow to the page allocator) and, if
// flushCache is set, returns the entire cache to the page allocator.
func (h *heapShard) collectGarbage(flushCache bool) {
	for b := range h.stores {
		purgeable, count := h.stores[b].drain()
		h.purge(purgeable, count)
	}
	if flushCache {
		h.cacheLock.lock()
		count := h.emptyCache.len()
		head := h.emptyCache.takeAll()
		h.cacheLock.unlock()
		h.pageAlloc.freeAll(head, count)
	}
}

// purge moves newly empty pages into the empty-page cache up to its
// bound, returning any overflow straight to the page allocator. This
// throttles per-bin cache churn while keeping the cache warm across
// bin rotations (spec.md "Empty-page purging policy").
func (h *heapShard) purge(head *page, count int) {
	if head == nil {
		return
	}
	h.cacheLock.lock()
	room := NumCachedPages - h.emptyCache.len()
	if room < 0 {
		room = 0
	}
	if room >= count {
		h.emptyCache.pushAllFront(head, count)
		h.cacheLock.unlock()
		return
	}

	var toCache *page
	cur := head
	var prev *page
	for i := 0; i < room && cur != nil; i++ {
		prev = cur
		cur = cur.next
	}
	if room > 0 {
		toCache = head
		prev.next = nil
		h.emptyCache.pushAllFront(toCache, room)
	}
	overflow := cur
	overflowCount := count - room
	h.cacheLock.unlock()

	h.pageAlloc.freeAll(overflow, overflowCount)
}
