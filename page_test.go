package segfit

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestPage(t *testing.T, bin int, pageSize uintptr) (*page, []byte) {
	t.Helper()
	buf := make([]byte, pageSize)
	p := &page{}
	p.initialize(bin, 0, unsafe.Pointer(&buf[0]), pageSize)
	return p, buf
}

func TestPageAllocFreeRoundTrip(t *testing.T) {
	bin, _ := BinOf(32)
	p, _ := newTestPage(t, bin, 4096)

	require.True(t, p.isEmpty())
	require.EqualValues(t, p.numObjs, p.numFree())

	var got []unsafe.Pointer
	for {
		ptr, ok := p.alloc()
		if !ok {
			break
		}
		got = append(got, ptr)
	}
	require.True(t, p.isFull())
	require.Len(t, got, int(p.numObjs))

	seen := make(map[unsafe.Pointer]bool)
	for _, ptr := range got {
		require.Falsef(t, seen[ptr], "slot %p allocated twice", ptr)
		seen[ptr] = true
	}

	for _, ptr := range got {
		p.free(ptr)
	}
	require.True(t, p.isEmpty())
}

func TestPageContainsAddrAndSlotBase(t *testing.T) {
	bin, _ := BinOf(64)
	p, buf := newTestPage(t, bin, 4096)

	inside := unsafe.Pointer(&buf[100])
	require.True(t, p.containsAddr(inside, 4096))

	base := p.slotBase(inside)
	off := uintptr(base) - uintptr(p.base)
	require.Zero(t, off%p.elemSize)
	require.LessOrEqual(t, uintptr(base), uintptr(inside))
	require.Less(t, uintptr(inside)-uintptr(base), p.elemSize)

	outside := unsafe.Pointer(uintptr(p.base) + 4096 + 8)
	require.False(t, p.containsAddr(outside, 4096))
}

func TestPageInHeapFlag(t *testing.T) {
	bin, _ := BinOf(32)
	p, _ := newTestPage(t, bin, 4096)

	require.False(t, p.isInHeap())
	p.setInHeap(true)
	require.True(t, p.isInHeap())
	p.setInHeap(false)
	require.False(t, p.isInHeap())
}

func TestNullPageAllocAlwaysFails(t *testing.T) {
	require.True(t, nullPage.isNull())
	_, ok := nullPage.alloc()
	require.False(t, ok)
}

func TestPageListBasics(t *testing.T) {
	var l pageList
	a := &page{index: 1}
	b := &page{index: 2}
	c := &page{index: 3}

	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)
	require.Equal(t, 3, l.len())

	require.True(t, l.remove(b))
	require.Equal(t, 2, l.len())
	require.False(t, l.remove(b), "removing an already-removed page must report false")

	require.Equal(t, c, l.popFront())
	require.Equal(t, a, l.popFront())
	require.Nil(t, l.popFront())
	require.True(t, l.empty())
}

func TestPageListTakeAllAndPushAllFront(t *testing.T) {
	var l pageList
	a := &page{index: 1}
	b := &page{index: 2}
	l.pushFront(a)
	l.pushFront(b)

	head := l.takeAll()
	require.True(t, l.empty())
	require.Equal(t, 0, l.len())

	var dst pageList
	dst.pushFront(&page{index: 99})
	dst.pushAllFront(head, 2)
	require.Equal(t, 3, dst.len())
}
