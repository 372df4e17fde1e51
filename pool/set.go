package pool

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/memutils"
)

const (
	// poolHeaderFields is the number of address-sized words recorded per pool in the set header:
	// segment size, segment count, block offset, block size, table offset, payload offset
	poolHeaderFields = 6
	poolHeaderSize   = poolHeaderFields * arena.AddrSize

	// SetHeaderSize is the number of bytes at the start of the region reserved for the pool set's
	// own header: a pool count followed by one descriptor per possible pool
	SetHeaderSize = arena.AddrSize + MaxPools*poolHeaderSize
)

// PoolSet is the ordered collection of pools that together cover the whole region. Pools are
// strictly ascending by segment size.
type PoolSet struct {
	region *arena.Region
	header arena.View
	pools  [MaxPools]SegmentPool
	count  int
}

// Carve splits region into pools according to schema. The region's first SetHeaderSize bytes
// hold the set header; each pool then receives its percentage of the remaining bytes, rounded
// down to arena.Alignment, and the last pool with a non-zero percentage also receives whatever
// rounding left over. An empty schema is replaced with DefaultSchema.
//
// Every error returned wraps memutils.ErrConfiguration.
func Carve(region *arena.Region, schema Schema) (*PoolSet, error) {
	schema = schema.OrDefault()
	err := schema.Validate()
	if err != nil {
		return nil, err
	}

	if region.Size() <= SetHeaderSize {
		return nil, errors.Wrapf(memutils.ErrConfiguration, "region of %d bytes cannot hold the %d byte pool set header", region.Size(), SetHeaderSize)
	}

	header, err := region.View(0, SetHeaderSize)
	if err != nil {
		return nil, errors.Wrap(memutils.ErrConfiguration, err.Error())
	}

	set := &PoolSet{
		region: region,
		header: header,
		count:  len(schema),
	}

	usable := region.Size() - SetHeaderSize
	offset := SetHeaderSize

	lastFunded := -1
	for index, spec := range schema {
		if spec.Percentage > 0 {
			lastFunded = index
		}
	}

	for index, spec := range schema {
		blockSize := memutils.AlignDown(usable*int(spec.Percentage)/100, arena.Alignment)
		if index == lastFunded {
			blockSize = memutils.AlignDown(region.Size()-offset, arena.Alignment)
		}

		if !memutils.IsAligned(offset, arena.Alignment) {
			return nil, errors.Wrapf(memutils.ErrConfiguration, "pool %d starts at misaligned offset %d", index, offset)
		}

		block, err := region.View(offset, blockSize)
		if err != nil {
			return nil, errors.Wrap(memutils.ErrConfiguration, err.Error())
		}

		set.pools[index], err = carveBlock(index, block, spec.SegmentSize)
		if err != nil {
			return nil, err
		}

		if index > 0 && set.pools[index].segmentSize <= set.pools[index-1].segmentSize {
			return nil, errors.Wrapf(memutils.ErrConfiguration, "pool %d carved to a segment size of %d, which does not exceed pool %d's %d",
				index, set.pools[index].segmentSize, index-1, set.pools[index-1].segmentSize)
		}

		offset += blockSize
	}

	set.writeHeader()
	return set, nil
}

func (s *PoolSet) writeHeader() {
	s.header.WriteSlot(0, arena.Addr(s.count))
	for index := 0; index < MaxPools; index++ {
		fields := s.headerFields(index)
		for field, value := range fields {
			s.header.WriteSlot(1+index*poolHeaderFields+field, arena.Addr(value))
		}
	}
}

func (s *PoolSet) headerFields(index int) [poolHeaderFields]int {
	if index >= s.count {
		return [poolHeaderFields]int{}
	}

	p := &s.pools[index]
	return [poolHeaderFields]int{
		p.segmentSize,
		p.numSegments,
		p.block.Offset(),
		p.block.Len(),
		p.table.Offset(),
		p.payload.Offset(),
	}
}

// Region returns the region the set was carved from
func (s *PoolSet) Region() *arena.Region { return s.region }

// Len returns the number of pools in the set
func (s *PoolSet) Len() int { return s.count }

// Pool returns the pool at index, in ascending segment size order
func (s *PoolSet) Pool(index int) *SegmentPool {
	if index < 0 || index >= s.count {
		return nil
	}
	return &s.pools[index]
}

// CarvedSize returns the total number of bytes handed to pools
func (s *PoolSet) CarvedSize() int {
	var size int
	for index := 0; index < s.count; index++ {
		size += s.pools[index].block.Len()
	}
	return size
}

// FindPool returns the smallest pool whose segments fit size bytes at align and that still has a
// free segment. When the smallest fitting pool is exhausted, larger pools are tried in turn. It
// returns nil if no pool can serve the request or if align is not a power of two; an align of 0
// is treated as 1.
func (s *PoolSet) FindPool(size int, align uint) *SegmentPool {
	if size < 0 {
		return nil
	}

	if align == 0 {
		align = 1
	}

	if memutils.CheckPow2(align, "align") != nil {
		return nil
	}

	for index := 0; index < s.count; index++ {
		p := &s.pools[index]
		if p.Fits(size, align) && p.HasCapacity() {
			return p
		}
	}

	return nil
}

// OwningPool returns the pool whose payload contains addr, or nil if no pool does
func (s *PoolSet) OwningPool(addr arena.Addr) *SegmentPool {
	for index := 0; index < s.count; index++ {
		p := &s.pools[index]
		if p.Owns(addr) {
			return p
		}
	}

	return nil
}

// Statistics returns a snapshot of every pool's counters
func (s *PoolSet) Statistics() []Statistics {
	stats := make([]Statistics, 0, s.count)
	for index := 0; index < s.count; index++ {
		stats = append(stats, s.pools[index].Statistics())
	}
	return stats
}

// AddStatistics sums every pool's counters into stats
func (s *PoolSet) AddStatistics(stats *memutils.Statistics) {
	for index := 0; index < s.count; index++ {
		s.pools[index].AddStatistics(stats)
	}
}

// AddDetailedStatistics sums every pool's counters into stats
func (s *PoolSet) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for index := 0; index < s.count; index++ {
		s.pools[index].AddDetailedStatistics(stats)
	}
}

// Validate checks the header against the carved layout, the ordering and placement of the pools
// and then each pool's own free-address table
func (s *PoolSet) Validate() error {
	if s.count < 1 || s.count > MaxPools {
		return errors.Errorf("pool set has %d pools", s.count)
	}

	if count := int(s.header.ReadSlot(0)); count != s.count {
		return errors.Errorf("pool set header records %d pools, but the set has %d", count, s.count)
	}

	offset := SetHeaderSize
	for index := 0; index < s.count; index++ {
		p := &s.pools[index]

		fields := s.headerFields(index)
		for field, expected := range fields {
			recorded := int(s.header.ReadSlot(1 + index*poolHeaderFields + field))
			if recorded != expected {
				return errors.Errorf("pool set header field %d of pool %d is %d, expected %d", field, index, recorded, expected)
			}
		}

		if p.block.Offset() != offset {
			return errors.Errorf("pool %d starts at offset %d, expected %d", index, p.block.Offset(), offset)
		}
		offset += p.block.Len()

		if index > 0 && p.segmentSize <= s.pools[index-1].segmentSize {
			return errors.Errorf("pool %d segment size %d does not exceed pool %d's %d", index, p.segmentSize, index-1, s.pools[index-1].segmentSize)
		}

		err := p.Validate()
		if err != nil {
			return err
		}
	}

	if offset > s.region.Size() {
		return errors.Errorf("pools extend to offset %d, past the end of a %d byte region", offset, s.region.Size())
	}

	return nil
}

// PrintDetailedMap writes the set's layout and every pool's counters into json
func (s *PoolSet) PrintDetailedMap(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	s.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(s.region.Size())
	json.Name("HeaderBytes").Int(SetHeaderSize)
	json.Name("CarvedBytes").Int(s.CarvedSize())
	json.Name("Segments").Int(stats.SegmentCount)
	json.Name("UsedSegments").Int(stats.UsedSegments)
	json.Name("UsedBytes").Int(stats.UsedBytes)

	pools := json.Name("Pools").Array()
	defer pools.End()

	for index := 0; index < s.count; index++ {
		obj := pools.Object()
		s.pools[index].BlockJsonData(obj)
		obj.End()
	}
}
