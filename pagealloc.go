package segfit

import "unsafe"

// pageAllocator bump-allocates raw pages from the pre-carved page-data
// area and recycles returned pages through a single shared free list.
// Grounded on the teacher's mheap arena-growth pattern (malloc.go /
// mheap.go): a monotonic cursor over backing memory, with reuse
// layered on top via a free list instead of ever calling back into the
// OS, since the backing region here is caller-owned and fixed-size
// (spec.md §1 Non-goals: "growing the backing region").
type pageAllocator struct {
	lock spinLock

	pages    []page // metadata array, one entry per page slot in the region
	dataBase unsafe.Pointer
	pageSize uintptr

	nextPage int // bump cursor into pages
	freeList pageList
}

func (a *pageAllocator) init(pages []page, dataBase unsafe.Pointer, pageSize uintptr) {
	a.pages = pages
	a.dataBase = dataBase
	a.pageSize = pageSize
	a.nextPage = 0
}

// alloc returns a raw, uninitialized page (still carrying whatever bin
// assignment it last had, if recycled), or nil if the region is
// exhausted. Callers must call page.initialize before use.
func (a *pageAllocator) alloc() *page {
	a.lock.lock()
	defer a.lock.unlock()

	if p := a.freeList.popFront(); p != nil {
		return p
	}
	if a.nextPage < len(a.pages) {
		p := &a.pages[a.nextPage]
		p.index = a.nextPage
		p.base = unsafe.Pointer(uintptr(a.dataBase) + uintptr(a.nextPage)*a.pageSize)
		a.nextPage++
		return p
	}
	return nil
}

// free returns a single page to the shared pool.
func (a *pageAllocator) free(p *page) {
	a.lock.lock()
	a.freeList.pushFront(p)
	a.lock.unlock()
}

// freeAll splices an already-built list of pages onto the shared pool
// under one lock acquisition. It walks the chain to find its tail, so
// its cost is linear in the number of pages, not O(1).
func (a *pageAllocator) freeAll(head *page, count int) {
	if head == nil {
		return
	}
	a.lock.lock()
	a.freeList.pushAllFront(head, count)
	a.lock.unlock()
}

// pageFor locates the page metadata owning ptr via the contiguous
// data-area trick (spec.md §9 "Address→page lookup"): no hashing, just
// (ptr-dataBase) >> log2(pageSize) once pageSize is a power of two.
// Bounds are checked with plain pointer comparison first so an
// out-of-range or foreign ptr can never wrap into a bogus index.
func (a *pageAllocator) pageFor(ptr unsafe.Pointer) *page {
	base := uintptr(a.dataBase)
	p := uintptr(ptr)
	if p < base {
		return nil
	}
	idx := int((p - base) / a.pageSize)
	if idx < 0 || idx >= len(a.pages) {
		return nil
	}
	return &a.pages[idx]
}
