package arena

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/thek-os/segheap/memutils"
)

// View is a bounds-checked window into a Region. The zero value is an empty view that belongs
// to no region.
type View struct {
	region *Region
	offset int
	length int
}

func (v View) Offset() int { return v.offset }
func (v View) Len() int    { return v.length }

// Base returns the logical address of the first byte of the view
func (v View) Base() Addr {
	if v.region == nil {
		return NullAddr
	}
	return v.region.AddrAt(v.offset)
}

// End returns the first logical address past the end of the view
func (v View) End() Addr {
	return v.Base() + Addr(v.length)
}

// Contains returns true if addr falls within [Base, End)
func (v View) Contains(addr Addr) bool {
	return v.region != nil && addr >= v.Base() && addr < v.End()
}

// Bytes returns the backing memory for the view
func (v View) Bytes() []byte {
	if v.region == nil {
		return nil
	}
	return v.region.data[v.offset : v.offset+v.length : v.offset+v.length]
}

// Sub returns a view of length bytes starting offset bytes into this view
func (v View) Sub(offset, length int) (View, error) {
	if offset < 0 || length < 0 || offset > v.length || length > v.length-offset {
		return View{}, errors.Wrapf(memutils.ErrOutOfBounds, "sub-view [%d, +%d) does not fit in a view of %d bytes", offset, length, v.length)
	}

	return View{region: v.region, offset: v.offset + offset, length: length}, nil
}

// Slots returns the number of address-sized slots the view can hold
func (v View) Slots() int {
	return v.length / AddrSize
}

// ReadSlot decodes the address stored in slot index. It panics if the slot lies outside the view,
// since that can only happen when the caller's own bookkeeping is broken.
func (v View) ReadSlot(index int) Addr {
	return Addr(binary.LittleEndian.Uint64(v.slot(index)))
}

// WriteSlot encodes addr into slot index
func (v View) WriteSlot(index int, addr Addr) {
	binary.LittleEndian.PutUint64(v.slot(index), uint64(addr))
}

func (v View) slot(index int) []byte {
	if index < 0 || index >= v.Slots() {
		panic(errors.Wrapf(memutils.ErrOutOfBounds, "slot %d outside a table of %d slots", index, v.Slots()))
	}

	start := v.offset + index*AddrSize
	return v.region.data[start : start+AddrSize]
}
