package segfit

import "unsafe"

// threadCache is a single worker's, single bin's front end: an active
// page served without any synchronization, a reserve of pages ready to
// become active, and a used list of pages exhausted since the last
// trip to the shard. Exactly one goroutine ever touches a given cell
// (spec.md §5: "single-writer, no sync").
//
// Grounded on the teacher's mcache.go refill/releaseAll state machine,
// generalized from "one active span per spanClass" plus an implicit
// request-on-empty to an explicit reserve/used pair so the very-slow
// path can return a whole batch of exhausted pages in one shot, per
// spec.md §4.7.
type threadCache struct {
	active  *page
	reserve pageList
	used    pageList
}

func (c *threadCache) init() {
	c.active = nullPage
}

// pageBatchFunc draws a fresh batch of pages for this bin from the
// owning heap shard (either its used-page store, empty-page cache, or
// the page allocator).
type pageBatchFunc func() (head *page, count int)

// pageReturnFunc hands a batch of exhausted pages back to the owning
// heap shard's used-page store.
type pageReturnFunc func(head *page, count int)

// alloc serves one slot. Fast path needs zero atomics. The slow and
// very-slow paths are spec.md §4.7 verbatim: exhausted pages are
// always returned to the shard before new ones are requested, so one
// stalled worker cannot starve the others of pages.
func (c *threadCache) alloc(pageAlloc pageBatchFunc, pageReturn pageReturnFunc) (unsafe.Pointer, bool) {
	for {
		if slot, ok := c.active.alloc(); ok {
			return slot, true
		}

		// Slow path: rotate the exhausted active page out, try reserve.
		if !c.active.isNull() {
			c.used.pushFront(c.active)
			c.active = nullPage
		}
		if p := c.reserve.popFront(); p != nil {
			c.active = p
			continue
		}

		// Very slow path: return exhausted pages, then ask for more.
		if !c.used.empty() {
			cnt := c.used.len()
			head := c.used.takeAll()
			pageReturn(head, cnt)
		}
		head, cnt := pageAlloc()
		if head == nil {
			return nil, false
		}
		c.reserve.pushAllFront(head, cnt)
	}
}

// releaseAll returns every page this cache holds (active, reserve, and
// used) to the shard, leaving the cache empty. No allocator path calls
// it: CollectGarbage does not flush thread caches.
func (c *threadCache) releaseAll(pageReturn pageReturnFunc) {
	if !c.active.isNull() {
		c.used.pushFront(c.active)
		c.active = nullPage
	}
	reserveCount := c.reserve.len()
	c.used.pushAllFront(c.reserve.takeAll(), reserveCount)
	if !c.used.empty() {
		cnt := c.used.len()
		head := c.used.takeAll()
		pageReturn(head, cnt)
	}
}
