package segfit

import "unsafe"

// usedPageStore is the per-(shard, bin) owner of in-heap pages: a full
// list, a partial list, and a lock-free intake list of deferred frees.
// Grounded on the teacher's mcentral.go, with its sweepgen-indexed
// double-buffered partial/full sets collapsed to plain lists — there
// is no garbage collector here, so there is nothing to sweep (see
// DESIGN.md "Dropped teacher concerns").
type usedPageStore struct {
	bin   int
	shard int

	lock    spinLock
	full    pageList
	partial pageList

	intake intakeList

	pageAlloc *pageAllocator // for address -> page resolution during drain
}

func (s *usedPageStore) init(bin, shard int, pa *pageAllocator) {
	s.bin = bin
	s.shard = shard
	s.pageAlloc = pa
}

// pushFull accepts pages a thread cache has exhausted on its very-slow
// path (spec.md §4.7 step 3) and marks them in-heap.
func (s *usedPageStore) pushFull(head *page, count int) {
	if head == nil {
		return
	}
	s.lock.lock()
	p := head
	for p != nil {
		next := p.next
		p.setInHeap(true)
		s.full.pushFront(p)
		p = next
	}
	s.lock.unlock()
}

// deferredFree queues obj for later reclamation. Lock-free; safe from
// any goroutine, including one that does not own the page obj lives
// on (spec.md §4.5 "May be called from any worker").
func (s *usedPageStore) deferredFree(obj unsafe.Pointer) {
	s.intake.push(obj)
}

// applyChain walks a detached intake chain, applying each free to its
// page when the page is currently in-heap, and re-deferring it
// otherwise. Must be called with s.lock held.
func (s *usedPageStore) applyChain(chain unsafe.Pointer) (purgeableHead *page, purgeableCount int) {
	if chain == nil {
		return nil, 0
	}

	var redeferHead unsafe.Pointer
	var redeferTail *deferredNode

	cur := chain
	for cur != nil {
		node := nodeAt(cur)
		next := node.next
		obj := cur

		p := s.pageAlloc.pageFor(obj)
		if p == nil || !p.isInHeap() {
			// The page is elsewhere right now (a thread cache, the
			// empty-page cache, or mid-transfer). Re-queue the object;
			// it will be reapplied once the page returns to this store.
			dn := nodeAt(obj)
			dn.next = redeferHead
			redeferHead = obj
			if redeferTail == nil {
				redeferTail = dn
			}
		} else {
			wasFull := p.isFull()
			p.free(p.slotBase(obj))
			if wasFull && !p.isFull() {
				s.full.remove(p)
				s.partial.pushFront(p)
			}
			if p.isEmpty() {
				s.partial.remove(p)
				p.setInHeap(false)
				p.next = purgeableHead
				purgeableHead = p
				purgeableCount++
			}
		}
		cur = next
	}

	if redeferHead != nil {
		s.intake.splice(redeferHead, redeferTail)
	}
	return purgeableHead, purgeableCount
}

// drain detaches and applies the intake list, returning pages that
// became empty as a result (the caller, a heap shard, moves these to
// its empty-page cache).
func (s *usedPageStore) drain() (purgeableHead *page, purgeableCount int) {
	chain := s.intake.detach()
	s.lock.lock()
	purgeableHead, purgeableCount = s.applyChain(chain)
	s.lock.unlock()
	return
}

// alloc performs a drain and then, still under the same lock, peels
// partial pages off the front of the partial list until the cumulative
// free-slot count reaches minFreeObjs or the list is exhausted. Each
// transferred page has inHeap cleared; the caller (a heap shard) hands
// these to a thread cache's reserve.
func (s *usedPageStore) alloc(minFreeObjs int) (partialHead *page, partialCount int, purgeableHead *page, purgeableCount int) {
	chain := s.intake.detach()
	s.lock.lock()
	purgeableHead, purgeableCount = s.applyChain(chain)

	freeObjs := 0
	for freeObjs < minFreeObjs {
		p := s.partial.popFront()
		if p == nil {
			break
		}
		p.setInHeap(false)
		freeObjs += int(p.numFree())
		p.next = partialHead
		partialHead = p
		partialCount++
	}
	s.lock.unlock()
	return
}
