package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/heap"
	"github.com/thek-os/segheap/memutils"
)

func TestBox(t *testing.T) {
	allocator := readyAllocator(t, heap.CreateOptions{})

	box, err := heap.NewBox(allocator, 100)
	require.NoError(t, err)
	require.Equal(t, 100, box.Size())
	require.Equal(t, box.Bottom()+100, box.Top())
	require.True(t, memutils.IsAligned(uintptr(box.Bottom()), arena.Alignment))
	require.Len(t, box.Bytes(), 100)
	require.Equal(t, []int{0, 1}, usedSegments(allocator))

	box.Release()
	box.Release()
	require.True(t, box.Released())
	require.Equal(t, []int{0, 0}, usedSegments(allocator))
	require.Panics(t, func() { box.Bytes() })
}

func TestBoxErrors(t *testing.T) {
	allocator := readyAllocator(t, heap.CreateOptions{})

	_, err := heap.NewBox(allocator, 129)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	_, err = heap.NewBox(allocator, -1)
	require.Error(t, err)
}
