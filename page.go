package segfit

import (
	"sync/atomic"
	"unsafe"
)

// page is a fixed-size, aligned run of pageSize bytes subdivided into
// equal-size slots of a single bin. It is the unit of ownership
// handoff between the page allocator, a heap shard's used-page store,
// its empty-page cache, and a worker's thread cache.
//
// Only one field governs which owner may touch the page at any given
// moment: inHeap. The teacher's mspan keeps two separate list-hook
// fields (one for the shard's owned lists, one for the global
// free-page list) because a C mspan can in principle be reachable from
// stale pointers held by more than one subsystem during a handoff.
// Here a page is a member of exactly one Go-level list at a time (full,
// partial, thread-cache reserve/used, empty-page cache, or the page
// allocator's free list), so a single next pointer suffices.
type page struct {
	base     unsafe.Pointer // start of this page's slot storage
	index    int            // position in the context's page array, for address lookup
	bin      int            // assigned size class; -1 if unassigned
	shard    int            // owning heap shard index
	elemSize uintptr
	numObjs  uint32

	freeCount uint32
	freeHead  unsafe.Pointer // intrusive free list threaded through slot bodies

	inHeap uint32 // atomic bool; true while owned by a used-page store

	next *page // single list-hook; see type comment
}

// nullPage is the process-wide sentinel thread caches reference when
// they hold no active page. Its alloc always fails, which removes a
// nil check from the hot path (spec.md §9 "Null-page sentinel").
var nullPage = &page{index: -1}

func (p *page) isNull() bool { return p == nullPage }

// initialize assigns bin and base and rebuilds the free list. Called
// once when a fresh page is drawn from the page allocator and again
// every time an empty page is reused for a (possibly different) bin.
func (p *page) initialize(bin, shard int, base unsafe.Pointer, pageSize uintptr) {
	p.bin = bin
	p.shard = shard
	p.base = base
	p.elemSize = classSize(bin)
	p.numObjs = uint32(pageSize / p.elemSize)
	p.freeCount = p.numObjs
	p.next = nil
	atomic.StoreUint32(&p.inHeap, 0)

	var head unsafe.Pointer
	for i := int(p.numObjs) - 1; i >= 0; i-- {
		slot := unsafe.Pointer(uintptr(base) + uintptr(i)*p.elemSize)
		*(*unsafe.Pointer)(slot) = head
		head = slot
	}
	p.freeHead = head
}

// alloc pops the head of the free list. O(1). Must only be called by
// the page's current single owner (a thread cache's active cell, or a
// used-page store holding its lock).
func (p *page) alloc() (unsafe.Pointer, bool) {
	if p.freeHead == nil {
		return nil, false
	}
	slot := p.freeHead
	p.freeHead = *(*unsafe.Pointer)(slot)
	p.freeCount--
	return slot, true
}

// free pushes slot back onto the free list. Its only caller in the
// allocator is the used-page store's drain, which first confirms
// inHeap is true and holds the owning store's lock; thread caches
// never call it.
func (p *page) free(slot unsafe.Pointer) {
	*(*unsafe.Pointer)(slot) = p.freeHead
	p.freeHead = slot
	p.freeCount++
}

func (p *page) isEmpty() bool     { return p.freeCount == p.numObjs }
func (p *page) isFull() bool      { return p.freeCount == 0 }
func (p *page) numFree() uint32   { return p.freeCount }
func (p *page) isInHeap() bool    { return atomic.LoadUint32(&p.inHeap) == 1 }
func (p *page) setInHeap(v bool) {
	var x uint32
	if v {
		x = 1
	}
	atomic.StoreUint32(&p.inHeap, x)
}

// containsAddr reports whether ptr falls within this page's slot area.
func (p *page) containsAddr(ptr unsafe.Pointer, pageSize uintptr) bool {
	off := uintptr(ptr) - uintptr(p.base)
	return off < pageSize
}

// slotBase rounds ptr down to the start of the slot that contains it.
func (p *page) slotBase(ptr unsafe.Pointer) unsafe.Pointer {
	off := uintptr(ptr) - uintptr(p.base)
	slotIdx := off / p.elemSize
	return unsafe.Pointer(uintptr(p.base) + slotIdx*p.elemSize)
}

// pageList is a singly-linked list of *page built on the page's own
// next hook. It is not safe for concurrent use; every owner (store,
// thread cache, page allocator, empty-page cache) guards it with
// either single-goroutine ownership or its own spin lock.
type pageList struct {
	head *page
	n    int
}

func (l *pageList) pushFront(p *page) {
	p.next = l.head
	l.head = p
	l.n++
}

func (l *pageList) popFront() *page {
	p := l.head
	if p == nil {
		return nil
	}
	l.head = p.next
	p.next = nil
	l.n--
	return p
}

func (l *pageList) remove(target *page) bool {
	prev := (*page)(nil)
	for p := l.head; p != nil; p = p.next {
		if p == target {
			if prev == nil {
				l.head = p.next
			} else {
				prev.next = p.next
			}
			p.next = nil
			l.n--
			return true
		}
		prev = p
	}
	return false
}

// takeAll detaches the whole list and returns its former head, leaving
// l empty. O(1).
func (l *pageList) takeAll() *page {
	head := l.head
	l.head = nil
	l.n = 0
	return head
}

// pushAllFront splices an externally-built chain onto the front of l.
func (l *pageList) pushAllFront(head *page, count int) {
	if head == nil {
		return
	}
	tail := head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = l.head
	l.head = head
	l.n += count
}

func (l *pageList) empty() bool { return l.head == nil }
func (l *pageList) len() int    { return l.n }
