package arena

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/thek-os/segheap/memutils"
)

// Addr is a logical address within a Region
type Addr uintptr

const (
	// NullAddr is never a valid address within a region. It is returned by allocation
	// functions on failure and written into checked-out free-address table slots.
	NullAddr Addr = 0

	// Alignment is the alignment every carved area boundary is rounded to
	Alignment = 8
	// AddrSize is the number of bytes a single address occupies when it is stored in the region
	AddrSize = 8
)

// Descriptor is the boot-time description of the raw region: where it lives and how large it is
type Descriptor struct {
	Base Addr
	Size int
}

// Validate checks that the descriptor could describe a usable region
func (d Descriptor) Validate() error {
	if d.Base == NullAddr {
		return errors.Wrap(memutils.ErrConfiguration, "region base address may not be null")
	}

	if !memutils.IsAligned(uintptr(d.Base), Alignment) {
		return errors.Wrapf(memutils.ErrConfiguration, "region base address %#x is not aligned to %d", uintptr(d.Base), Alignment)
	}

	if d.Size <= 0 {
		return errors.Wrapf(memutils.ErrConfiguration, "region size must be positive, got %d", d.Size)
	}

	if uint64(d.Size) > math.MaxUint64-uint64(d.Base) {
		return errors.Wrapf(memutils.ErrConfiguration, "region of %d bytes at %#x overflows the address space", d.Size, uintptr(d.Base))
	}

	return nil
}

// Region is the contiguous byte buffer the heap manages. It is created once at boot and never
// resized.
type Region struct {
	base  Addr
	data  []byte
	close func() error
}

// NewRegion wraps data as a region whose first byte lives at the logical address base
func NewRegion(base Addr, data []byte) (*Region, error) {
	desc := Descriptor{Base: base, Size: len(data)}
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	return &Region{
		base: base,
		data: data,
	}, nil
}

// Allocate creates a region backed by ordinary Go memory
func Allocate(desc Descriptor) (*Region, error) {
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	return NewRegion(desc.Base, make([]byte, desc.Size))
}

// Close releases the backing memory if it was mapped by this package. Using the region
// afterward is invalid.
func (r *Region) Close() error {
	if r.close == nil {
		return nil
	}

	err := r.close()
	r.close = nil
	r.data = nil
	return err
}

func (r *Region) Base() Addr { return r.base }
func (r *Region) Size() int  { return len(r.data) }

// End returns the first address past the end of the region
func (r *Region) End() Addr { return r.base + Addr(len(r.data)) }

// Contains returns true if the length bytes starting at addr lie entirely within the region
func (r *Region) Contains(addr Addr, length int) bool {
	if length < 0 || addr < r.base {
		return false
	}

	offset := uint64(addr - r.base)
	return offset <= uint64(len(r.data)) && uint64(length) <= uint64(len(r.data))-offset
}

// OffsetOf converts a logical address to an offset from the start of the region
func (r *Region) OffsetOf(addr Addr) (int, error) {
	if !r.Contains(addr, 0) {
		return 0, errors.Wrapf(memutils.ErrOutOfBounds, "address %#x is outside [%#x, %#x)", uintptr(addr), uintptr(r.base), uintptr(r.End()))
	}

	return int(addr - r.base), nil
}

// AddrAt converts an offset from the start of the region to a logical address
func (r *Region) AddrAt(offset int) Addr {
	return r.base + Addr(offset)
}

// View returns a bounds-checked window of length bytes starting offset bytes into the region
func (r *Region) View(offset, length int) (View, error) {
	if offset < 0 || length < 0 || offset > len(r.data) || length > len(r.data)-offset {
		return View{}, errors.Wrapf(memutils.ErrOutOfBounds, "view [%d, +%d) does not fit in a region of %d bytes", offset, length, len(r.data))
	}

	return View{region: r, offset: offset, length: length}, nil
}

// Bytes returns the length bytes of backing memory starting at addr
func (r *Region) Bytes(addr Addr, length int) ([]byte, error) {
	if !r.Contains(addr, length) {
		return nil, errors.Wrapf(memutils.ErrOutOfBounds, "range [%#x, +%d) is outside [%#x, %#x)", uintptr(addr), length, uintptr(r.base), uintptr(r.End()))
	}

	offset := int(addr - r.base)
	return r.data[offset : offset+length : offset+length], nil
}

// Copy moves length bytes from src to dst. The ranges may overlap.
func (r *Region) Copy(dst, src Addr, length int) error {
	dstBytes, err := r.Bytes(dst, length)
	if err != nil {
		return err
	}

	srcBytes, err := r.Bytes(src, length)
	if err != nil {
		return err
	}

	copy(dstBytes, srcBytes)
	return nil
}
