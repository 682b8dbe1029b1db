// Lock-free stack: the deferred-free intake list.
//
// Grounded on the teacher pack's runtime/lfstack.go Treiber-stack
// (lfstackpush/lfstackpop), generalized from a single global head to
// one intake list per (shard, bin). Rather than packing a generation
// counter into the head word (lfstack.go's defense against ABA on a
// freelist it shares with the GC), this stack never recycles freed
// objects behind the allocator's back, so plain CAS on the head
// pointer is ABA-safe: a slot can only reappear on this list through
// another deferred_free call after having been reused, by which point
// it is a distinct logical push.

package segfit

import (
	"sync/atomic"
	"unsafe"
)

// deferredNode overlays the first machine word of a freed slot while
// it sits on an intake list, per spec.md §3 ("Deferred-free node").
type deferredNode struct {
	next unsafe.Pointer
}

func nodeAt(p unsafe.Pointer) *deferredNode {
	return (*deferredNode)(p)
}

// intakeList is a lock-free LIFO of deferred frees. push may be called
// from any goroutine, concurrently, without ever blocking; detach and
// splice are used only by the owning used-page store (drain and alloc).
// detach is a single atomic swap taken just before that store's spin
// lock is acquired; splice runs while the lock is held.
type intakeList struct {
	head unsafe.Pointer // *deferredNode
}

// push adds obj to the list. obj's first word is overwritten to link
// it in; the caller must not touch obj's contents again until it is
// observed off the list by a drain.
func (l *intakeList) push(obj unsafe.Pointer) {
	node := nodeAt(obj)
	for {
		old := atomic.LoadPointer(&l.head)
		node.next = old
		if atomic.CompareAndSwapPointer(&l.head, old, obj) {
			return
		}
	}
}

// detach atomically takes the whole chain, leaving the list empty, and
// returns the former head (nil if the list was empty). O(1): the
// list's owner then walks the returned chain privately.
func (l *intakeList) detach() unsafe.Pointer {
	return atomic.SwapPointer(&l.head, nil)
}

// splice pushes an already-built chain (head..tail) back onto the list
// as a single unit. Per spec.md §9 ("Intake list re-splice"): tail's
// next pointer must be updated to the observed head immediately before
// each CAS attempt, not once before the loop starts, or a concurrent
// pusher's node can be overwritten and lost.
func (l *intakeList) splice(head unsafe.Pointer, tail *deferredNode) {
	if head == nil {
		return
	}
	for {
		old := atomic.LoadPointer(&l.head)
		tail.next = old
		if atomic.CompareAndSwapPointer(&l.head, old, head) {
			return
		}
	}
}
