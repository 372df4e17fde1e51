package pool

import (
	"fmt"
	"math/bits"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/memutils"
)

const maxPoolAlignment uint = 1 << (bits.UintSize - 1)

// Statistics is a snapshot of a single pool's counters
type Statistics struct {
	Index        int
	SegmentSize  int
	NumSegments  int
	UsedSegments int
	BlockSize    int
}

// SegmentPool hands out equal-size segments from a contiguous payload area. The addresses of
// free segments are kept in a free-address table at the start of the pool's block: slots
// [UsedSegments, NumSegments) hold free addresses and slots below UsedSegments hold
// arena.NullAddr. Segments are reused last-in-first-out.
type SegmentPool struct {
	index        int
	segmentSize  int
	numSegments  int
	usedSegments int
	alignment    uint

	// checkedOut has one bit per segment, set while the segment is handed out
	checkedOut []uint64

	block   arena.View
	table   arena.View
	payload arena.View
}

// carveBlock lays a pool out over block: the free-address table first, the payload after it.
// The segment count is the largest n with n*AddrSize + n*segmentSize <= block size. A block too
// small to hold a single segment of the requested size becomes a single segment pool using
// everything left after its one table slot.
func carveBlock(index int, block arena.View, segmentSize int) (SegmentPool, error) {
	blockSize := block.Len()
	var numSegments int

	switch {
	case blockSize == 0:
		numSegments = 0
	case segmentSize > blockSize-arena.AddrSize:
		if blockSize < arena.AddrSize+arena.Alignment {
			return SegmentPool{}, errors.Wrapf(memutils.ErrConfiguration, "pool %d received %d bytes, which cannot hold a single segment", index, blockSize)
		}
		numSegments = 1
		segmentSize = blockSize - arena.AddrSize
	default:
		numSegments = blockSize / (arena.AddrSize + segmentSize)
	}

	payloadSize := numSegments * segmentSize
	tableSize := blockSize - payloadSize

	table, err := block.Sub(0, numSegments*arena.AddrSize)
	if err != nil {
		return SegmentPool{}, err
	}

	payload, err := block.Sub(tableSize, payloadSize)
	if err != nil {
		return SegmentPool{}, err
	}

	if !memutils.IsAligned(uintptr(payload.Base()), arena.Alignment) {
		return SegmentPool{}, errors.Wrapf(memutils.ErrConfiguration, "pool %d payload at %#x is not aligned to %d", index, uintptr(payload.Base()), arena.Alignment)
	}

	if numSegments > 1 && !memutils.IsAligned(segmentSize, arena.Alignment) {
		return SegmentPool{}, errors.Wrapf(memutils.ErrConfiguration, "pool %d segment size %d is not a multiple of %d", index, segmentSize, arena.Alignment)
	}

	alignment := memutils.LargestPow2Divisor(uint(payload.Base()), maxPoolAlignment)
	if numSegments > 1 {
		alignment = min(alignment, memutils.LargestPow2Divisor(uint(segmentSize), maxPoolAlignment))
	}
	memutils.DebugCheckPow2(alignment, "pool alignment")

	pool := SegmentPool{
		index:       index,
		segmentSize: segmentSize,
		numSegments: numSegments,
		alignment:   alignment,
		checkedOut:  make([]uint64, (numSegments+63)/64),
		block:       block,
		table:       table,
		payload:     payload,
	}

	for segmentIndex := 0; segmentIndex < numSegments; segmentIndex++ {
		table.WriteSlot(segmentIndex, pool.segmentAddr(segmentIndex))
	}

	return pool, nil
}

func (p *SegmentPool) Index() int        { return p.index }
func (p *SegmentPool) SegmentSize() int  { return p.segmentSize }
func (p *SegmentPool) NumSegments() int  { return p.numSegments }
func (p *SegmentPool) UsedSegments() int { return p.usedSegments }
func (p *SegmentPool) FreeSegments() int { return p.numSegments - p.usedSegments }
func (p *SegmentPool) BlockSize() int    { return p.block.Len() }

// Alignment is the largest power of two every segment address in the pool is a multiple of
func (p *SegmentPool) Alignment() uint { return p.alignment }

// PayloadBase is the address of the pool's first segment
func (p *SegmentPool) PayloadBase() arena.Addr { return p.payload.Base() }

// PayloadEnd is the first address past the pool's last segment
func (p *SegmentPool) PayloadEnd() arena.Addr { return p.payload.End() }

// HasCapacity returns true if at least one segment is free
func (p *SegmentPool) HasCapacity() bool {
	return p.usedSegments < p.numSegments
}

// Fits returns true if a segment of this pool can hold size bytes at the requested alignment.
// A request exactly the size of a segment fits.
func (p *SegmentPool) Fits(size int, align uint) bool {
	return size <= p.segmentSize && align <= p.alignment
}

// Owns returns true if addr lies anywhere within the pool's payload
func (p *SegmentPool) Owns(addr arena.Addr) bool {
	return p.payload.Contains(addr)
}

func (p *SegmentPool) segmentAddr(segmentIndex int) arena.Addr {
	return p.payload.Base() + arena.Addr(segmentIndex*p.segmentSize)
}

// IsSegmentStart returns true if addr is the first byte of one of the pool's segments
func (p *SegmentPool) IsSegmentStart(addr arena.Addr) bool {
	return p.payload.Contains(addr) && int(addr-p.payload.Base())%p.segmentSize == 0
}

func (p *SegmentPool) segmentIndex(addr arena.Addr) int {
	return int(addr-p.payload.Base()) / p.segmentSize
}

func (p *SegmentPool) isCheckedOut(segmentIndex int) bool {
	return p.checkedOut[segmentIndex/64]&(1<<(segmentIndex%64)) != 0
}

func (p *SegmentPool) setCheckedOut(segmentIndex int, checkedOut bool) {
	if checkedOut {
		p.checkedOut[segmentIndex/64] |= 1 << (segmentIndex % 64)
	} else {
		p.checkedOut[segmentIndex/64] &^= 1 << (segmentIndex % 64)
	}
}

// TakeAddress checks out the most recently returned free segment. It returns false when the
// pool is exhausted.
func (p *SegmentPool) TakeAddress() (arena.Addr, bool) {
	if p.usedSegments >= p.numSegments {
		return arena.NullAddr, false
	}

	addr := p.table.ReadSlot(p.usedSegments)
	if !p.IsSegmentStart(addr) {
		panic(errors.Wrapf(memutils.ErrStaleSlot, "pool %d slot %d holds %#x", p.index, p.usedSegments, uintptr(addr)))
	}

	segmentIndex := p.segmentIndex(addr)
	if p.isCheckedOut(segmentIndex) {
		panic(errors.Wrapf(memutils.ErrStaleSlot, "pool %d slot %d holds %#x, which is already handed out", p.index, p.usedSegments, uintptr(addr)))
	}
	p.setCheckedOut(segmentIndex, true)

	p.table.WriteSlot(p.usedSegments, arena.NullAddr)
	p.usedSegments++

	return addr, true
}

// ReturnAddress puts a segment checked out by TakeAddress back into the free-address table.
// Returning more addresses than were taken, an address that is not the start of one of this
// pool's segments, or a segment that is not currently checked out panics: the table can no longer
// be trusted.
func (p *SegmentPool) ReturnAddress(addr arena.Addr) {
	if p.usedSegments == 0 {
		panic(errors.Wrapf(memutils.ErrPoolUnderflow, "pool %d received %#x with no segments in use", p.index, uintptr(addr)))
	}

	if !p.IsSegmentStart(addr) {
		panic(errors.Wrapf(memutils.ErrForeignAddress, "%#x is not the start of a segment in pool %d", uintptr(addr), p.index))
	}

	segmentIndex := p.segmentIndex(addr)
	if !p.isCheckedOut(segmentIndex) {
		panic(errors.Wrapf(memutils.ErrDoubleFree, "%#x is not checked out of pool %d", uintptr(addr), p.index))
	}
	p.setCheckedOut(segmentIndex, false)

	p.usedSegments--
	p.table.WriteSlot(p.usedSegments, addr)
}

// VisitFreeSegments calls visit with each free segment address, most recently freed first,
// until visit returns false
func (p *SegmentPool) VisitFreeSegments(visit func(addr arena.Addr) bool) {
	for slot := p.usedSegments; slot < p.numSegments; slot++ {
		if !visit(p.table.ReadSlot(slot)) {
			return
		}
	}
}

// Statistics returns a snapshot of the pool's counters
func (p *SegmentPool) Statistics() Statistics {
	return Statistics{
		Index:        p.index,
		SegmentSize:  p.segmentSize,
		NumSegments:  p.numSegments,
		UsedSegments: p.usedSegments,
		BlockSize:    p.block.Len(),
	}
}

// AddStatistics sums this pool's counters into stats
func (p *SegmentPool) AddStatistics(stats *memutils.Statistics) {
	stats.PoolCount++
	stats.SegmentCount += p.numSegments
	stats.UsedSegments += p.usedSegments
	stats.PayloadBytes += p.payload.Len()
	stats.UsedBytes += p.usedSegments * p.segmentSize
}

// AddDetailedStatistics sums this pool's counters into stats
func (p *SegmentPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddPool(p.segmentSize, p.numSegments, p.usedSegments)
}

// Validate walks the whole free-address table. It is linear in the number of segments and
// intended for diagnostics.
func (p *SegmentPool) Validate() error {
	if p.usedSegments < 0 || p.usedSegments > p.numSegments {
		return errors.Errorf("pool %d has %d segments in use out of %d", p.index, p.usedSegments, p.numSegments)
	}

	if p.payload.Len() != p.numSegments*p.segmentSize {
		return errors.Errorf("pool %d payload is %d bytes, expected %d segments of %d bytes", p.index, p.payload.Len(), p.numSegments, p.segmentSize)
	}

	if p.table.Slots() != p.numSegments {
		return errors.Errorf("pool %d table has %d slots for %d segments", p.index, p.table.Slots(), p.numSegments)
	}

	if p.table.End() > p.payload.Base() || p.payload.End() > p.block.End() {
		return errors.Errorf("pool %d table and payload overlap or escape the block", p.index)
	}

	if len(p.checkedOut) != (p.numSegments+63)/64 {
		return errors.Errorf("pool %d tracks %d checked-out words for %d segments", p.index, len(p.checkedOut), p.numSegments)
	}

	var checkedOut int
	for _, word := range p.checkedOut {
		checkedOut += bits.OnesCount64(word)
	}
	if checkedOut != p.usedSegments {
		return errors.Errorf("pool %d has %d segments marked checked out, but %d in use", p.index, checkedOut, p.usedSegments)
	}

	for slot := 0; slot < p.usedSegments; slot++ {
		if addr := p.table.ReadSlot(slot); addr != arena.NullAddr {
			return errors.Errorf("pool %d checked-out slot %d still holds %#x", p.index, slot, uintptr(addr))
		}
	}

	seen := swiss.NewMap[arena.Addr, int](uint32(p.FreeSegments()))
	for slot := p.usedSegments; slot < p.numSegments; slot++ {
		addr := p.table.ReadSlot(slot)
		if !p.IsSegmentStart(addr) {
			return errors.Errorf("pool %d free slot %d holds %#x, which is not one of its segments", p.index, slot, uintptr(addr))
		}

		if p.isCheckedOut(p.segmentIndex(addr)) {
			return errors.Errorf("pool %d lists %#x as free in slot %d, but it is checked out", p.index, uintptr(addr), slot)
		}

		if other, ok := seen.Get(addr); ok {
			return errors.Errorf("pool %d lists %#x as free in both slot %d and slot %d", p.index, uintptr(addr), other, slot)
		}
		seen.Put(addr, slot)
	}

	return nil
}

// BlockJsonData populates a json object with information about this pool
func (p *SegmentPool) BlockJsonData(json jwriter.ObjectState) {
	json.Name("Index").Int(p.index)
	json.Name("SegmentSize").Int(p.segmentSize)
	json.Name("Segments").Int(p.numSegments)
	json.Name("UsedSegments").Int(p.usedSegments)
	json.Name("FreeSegments").Int(p.FreeSegments())
	json.Name("BlockBytes").Int(p.block.Len())
	json.Name("TableBytes").Int(p.payload.Offset() - p.block.Offset())
	json.Name("PayloadBase").String(fmt.Sprintf("%#x", uintptr(p.payload.Base())))
	json.Name("Alignment").Int(int(p.alignment))
}
