package segfit

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fakeShard is a minimal stand-in for heapShard's batch/return contract,
// letting threadCache tests exercise the alloc state machine without a
// real page allocator backing each page's slot storage.
type fakeShard struct {
	pageSize   uintptr
	bin        int
	budget     int // pages allocFunc will still hand out before exhaustion
	returned   []*page
	returnCall int
}

func newFakeShard(t *testing.T, bin int, pageSize uintptr, pageBudget int) *fakeShard {
	t.Helper()
	return &fakeShard{pageSize: pageSize, bin: bin, budget: pageBudget}
}

func (f *fakeShard) allocFunc() (*page, int) {
	if f.budget <= 0 {
		return nil, 0
	}
	buf := make([]byte, f.pageSize)
	p := &page{}
	p.initialize(f.bin, 0, unsafe.Pointer(&buf[0]), f.pageSize)
	f.budget--
	return p, 1
}

func (f *fakeShard) returnFunc(head *page, count int) {
	f.returnCall++
	for p := head; p != nil; p = p.next {
		f.returned = append(f.returned, p)
	}
}

func TestThreadCacheFastPath(t *testing.T) {
	bin, _ := BinOf(32)
	const pageSize = 4096

	var c threadCache
	c.init()

	buf := make([]byte, pageSize)
	c.active = &page{}
	c.active.initialize(bin, 0, unsafe.Pointer(&buf[0]), pageSize)

	ptr, ok := c.alloc(
		func() (*page, int) { t.Fatal("pageAlloc must not be called while the active page has room"); return nil, 0 },
		func(*page, int) { t.Fatal("pageReturn must not be called on the fast path") },
	)
	require.True(t, ok)
	require.NotNil(t, ptr)
}

func TestThreadCacheSlowPathUsesReserve(t *testing.T) {
	bin, _ := BinOf(4096) // largest bin: few slots per page, easy to exhaust
	const pageSize = 4096

	var c threadCache
	c.init()

	shard := newFakeShard(t, bin, pageSize, 0)
	buf := make([]byte, pageSize)
	active := &page{}
	active.initialize(bin, 0, unsafe.Pointer(&buf[0]), pageSize)
	c.active = active

	reserveBuf := make([]byte, pageSize)
	reservePage := &page{}
	reservePage.initialize(bin, 0, unsafe.Pointer(&reserveBuf[0]), pageSize)
	c.reserve.pushFront(reservePage)

	// Drain the active page.
	for {
		_, ok := c.active.alloc()
		if !ok {
			break
		}
	}

	ptr, ok := c.alloc(shard.allocFunc, shard.returnFunc)
	require.True(t, ok)
	require.NotNil(t, ptr)
	require.Equal(t, reservePage, c.active, "exhausted active page must be swapped for the reserve page")
	require.Equal(t, 1, c.used.len())
}

func TestThreadCacheVerySlowPathRequestsMoreAndReturnsUsed(t *testing.T) {
	bin, _ := BinOf(4096)
	const pageSize = 4096

	var c threadCache
	c.init()

	shard := newFakeShard(t, bin, pageSize, 3)

	for i := 0; i < 20; i++ {
		ptr, ok := c.alloc(shard.allocFunc, shard.returnFunc)
		if !ok {
			break
		}
		require.NotNil(t, ptr)
	}

	require.Greater(t, shard.returnCall, 0, "an exhausted-and-rotated page must be returned to the shard at least once")
}

func TestThreadCacheAllocFailsWhenShardExhausted(t *testing.T) {
	bin, _ := BinOf(32)
	const pageSize = 4096

	var c threadCache
	c.init()
	shard := newFakeShard(t, bin, pageSize, 0)

	ptr, ok := c.alloc(shard.allocFunc, shard.returnFunc)
	require.False(t, ok)
	require.Nil(t, ptr)
}

func TestThreadCacheReleaseAllReturnsEverything(t *testing.T) {
	bin, _ := BinOf(32)
	const pageSize = 4096

	var c threadCache
	c.init()

	buf1 := make([]byte, pageSize)
	active := &page{}
	active.initialize(bin, 0, unsafe.Pointer(&buf1[0]), pageSize)
	c.active = active

	buf2 := make([]byte, pageSize)
	reservePage := &page{}
	reservePage.initialize(bin, 0, unsafe.Pointer(&buf2[0]), pageSize)
	c.reserve.pushFront(reservePage)

	buf3 := make([]byte, pageSize)
	usedPage := &page{}
	usedPage.initialize(bin, 0, unsafe.Pointer(&buf3[0]), pageSize)
	c.used.pushFront(usedPage)

	var returned []*page
	c.releaseAll(func(head *page, count int) {
		require.Equal(t, 3, count)
		for p := head; p != nil; p = p.next {
			returned = append(returned, p)
		}
	})

	require.Len(t, returned, 3)
	require.True(t, c.active.isNull())
	require.True(t, c.reserve.empty())
	require.True(t, c.used.empty())
}
