package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/memutils"
)

// Box owns a single allocation of at least size bytes and frees it on Release
type Box struct {
	allocator *Allocator
	addr      arena.Addr
	size      int
}

// NewBox allocates size bytes at arena.Alignment from allocator. It returns an error wrapping
// memutils.ErrOutOfMemory if no pool can serve the request.
func NewBox(allocator *Allocator, size int) (*Box, error) {
	if size < 0 {
		return nil, errors.Newf("box size must not be negative, got %d", size)
	}

	addr := allocator.Allocate(size, arena.Alignment)
	if addr == arena.NullAddr {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "could not box %d bytes", size)
	}

	return &Box{
		allocator: allocator,
		addr:      addr,
		size:      size,
	}, nil
}

// Bottom is the first address of the boxed buffer
func (b *Box) Bottom() arena.Addr { return b.addr }

// Top is the first address past the end of the boxed buffer
func (b *Box) Top() arena.Addr { return b.addr + arena.Addr(b.size) }

func (b *Box) Size() int { return b.size }

// Released reports whether Release has been called
func (b *Box) Released() bool { return b.addr == arena.NullAddr }

// Bytes returns the boxed buffer. It panics if the box has been released.
func (b *Box) Bytes() []byte {
	if b.Released() {
		panic(errors.AssertionFailedf("use of a released box"))
	}

	data, err := b.allocator.Bytes(b.addr, b.size)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "box at %#x", uintptr(b.addr)))
	}
	return data
}

// Release frees the boxed buffer. Calls after the first do nothing.
func (b *Box) Release() {
	if b.Released() {
		return
	}

	b.allocator.Deallocate(b.addr, b.size, arena.Alignment)
	b.addr = arena.NullAddr
}
