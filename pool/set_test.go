package pool_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/memutils"
	"github.com/thek-os/segheap/pool"
)

const testBase arena.Addr = 0x10000

// twoPoolSet carves 1000 usable bytes into a 64 byte pool with 6 segments and a 128 byte pool
// with 3 segments
func twoPoolSet(t *testing.T) (*arena.Region, *pool.PoolSet) {
	region, err := arena.Allocate(arena.Descriptor{Base: testBase, Size: pool.SetHeaderSize + 1000})
	require.NoError(t, err)

	set, err := pool.Carve(region, pool.Schema{{64, 50}, {128, 50}})
	require.NoError(t, err)
	require.NoError(t, set.Validate())

	return region, set
}

func requirePanicsWith(t *testing.T, target error, fn func()) {
	t.Helper()

	defer func() {
		recovered := recover()
		require.NotNil(t, recovered)

		err, isError := recovered.(error)
		require.True(t, isError)
		require.ErrorIs(t, err, target)
		require.ErrorIs(t, err, memutils.ErrInvariant)
	}()

	fn()
}

func TestCarveSmallSchema(t *testing.T) {
	region, err := arena.Allocate(arena.Descriptor{Base: testBase, Size: 10 * 1024 * 1024})
	require.NoError(t, err)

	set, err := pool.Carve(region, pool.SmallSchema())
	require.NoError(t, err)
	require.NoError(t, set.Validate())

	require.Equal(t, 4, set.Len())
	require.Equal(t, region.Size()-pool.SetHeaderSize, set.CarvedSize())

	require.Equal(t, 256, set.Pool(0).SegmentSize())
	require.Equal(t, 31774, set.Pool(0).NumSegments())
	require.Equal(t, 1024, set.Pool(1).SegmentSize())
	require.Equal(t, 1016, set.Pool(1).NumSegments())
	require.Equal(t, 524264, set.Pool(2).SegmentSize())
	require.Equal(t, 1, set.Pool(2).NumSegments())
	require.Equal(t, 524280, set.Pool(3).SegmentSize())
	require.Equal(t, 1, set.Pool(3).NumSegments())
	require.Nil(t, set.Pool(4))

	for index := 1; index < set.Len(); index++ {
		require.Greater(t, set.Pool(index).SegmentSize(), set.Pool(index-1).SegmentSize())
		require.Equal(t, set.Pool(index-1).PayloadEnd(), set.Pool(index).PayloadBase()-arena.Addr(set.Pool(index).BlockSize()-set.Pool(index).NumSegments()*set.Pool(index).SegmentSize()))
	}

	for index := 0; index < set.Len(); index++ {
		require.True(t, memutils.IsAligned(uintptr(set.Pool(index).PayloadBase()), arena.Alignment))
	}
}

func TestCarveDefaultSchema(t *testing.T) {
	region, err := arena.Allocate(arena.Descriptor{Base: testBase, Size: pool.SetHeaderSize + 1024*1024})
	require.NoError(t, err)

	set, err := pool.Carve(region, nil)
	require.NoError(t, err)
	require.NoError(t, set.Validate())

	require.Equal(t, 1, set.Len())
	require.Equal(t, pool.DefaultSegmentSize, set.Pool(0).SegmentSize())
	require.Equal(t, 1024*1024/(pool.DefaultSegmentSize+arena.AddrSize), set.Pool(0).NumSegments())
}

func TestCarveHeader(t *testing.T) {
	region, set := twoPoolSet(t)

	header, err := region.View(0, pool.SetHeaderSize)
	require.NoError(t, err)

	require.Equal(t, arena.Addr(2), header.ReadSlot(0))
	require.Equal(t, arena.Addr(64), header.ReadSlot(1))
	require.Equal(t, arena.Addr(6), header.ReadSlot(2))
	require.Equal(t, arena.Addr(pool.SetHeaderSize), header.ReadSlot(3))
	require.Equal(t, arena.Addr(496), header.ReadSlot(4))
	require.Equal(t, arena.Addr(128), header.ReadSlot(7))
	require.Equal(t, arena.Addr(3), header.ReadSlot(8))
	require.Equal(t, arena.Addr(0), header.ReadSlot(13))

	header.WriteSlot(2, 7)
	require.Error(t, set.Validate())
}

func TestCarveTrailingEmptyPool(t *testing.T) {
	region, err := arena.Allocate(arena.Descriptor{Base: testBase, Size: pool.SetHeaderSize + 1000})
	require.NoError(t, err)

	set, err := pool.Carve(region, pool.Schema{{64, 50}, {128, 50}, {256, 0}})
	require.NoError(t, err)
	require.NoError(t, set.Validate())

	require.Equal(t, 3, set.Len())
	require.Equal(t, 1000, set.CarvedSize())
	require.Equal(t, 496, set.Pool(0).BlockSize())
	require.Equal(t, 504, set.Pool(1).BlockSize())
	require.Equal(t, 0, set.Pool(2).BlockSize())
	require.Equal(t, 0, set.Pool(2).NumSegments())

	require.Nil(t, set.FindPool(200, 8))
}

func TestCarveErrors(t *testing.T) {
	testCases := map[string]struct {
		size   int
		schema pool.Schema
	}{
		"HeaderOnly":        {size: pool.SetHeaderSize, schema: pool.DefaultSchema},
		"InvalidSchema":     {size: 4096, schema: pool.Schema{{64, 40}}},
		"BlockTooSmall":     {size: pool.SetHeaderSize + 800, schema: pool.Schema{{64, 1}, {128, 99}}},
		"MisalignedSegment": {size: pool.SetHeaderSize + 1000, schema: pool.Schema{{60, 50}, {128, 50}}},
		"ClampedDescending": {size: pool.SetHeaderSize + 1000, schema: pool.Schema{{600, 60}, {1000, 40}}},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			region, err := arena.Allocate(arena.Descriptor{Base: testBase, Size: testCase.size})
			require.NoError(t, err)

			_, err = pool.Carve(region, testCase.schema)
			require.ErrorIs(t, err, memutils.ErrConfiguration)
		})
	}
}

func TestFindPoolBoundaries(t *testing.T) {
	_, set := twoPoolSet(t)

	require.Same(t, set.Pool(0), set.FindPool(0, 8))
	require.Same(t, set.Pool(0), set.FindPool(64, 8))
	require.Same(t, set.Pool(1), set.FindPool(65, 8))
	require.Same(t, set.Pool(1), set.FindPool(128, 8))
	require.Nil(t, set.FindPool(129, 8))
	require.Nil(t, set.FindPool(-1, 8))
}

func TestFindPoolAlignment(t *testing.T) {
	_, set := twoPoolSet(t)

	require.Equal(t, uint(8), set.Pool(0).Alignment())
	require.Equal(t, uint(32), set.Pool(1).Alignment())

	require.Same(t, set.Pool(0), set.FindPool(8, 0))
	require.Same(t, set.Pool(0), set.FindPool(8, 1))
	require.Same(t, set.Pool(1), set.FindPool(8, 16))
	require.Same(t, set.Pool(1), set.FindPool(8, 32))
	require.Nil(t, set.FindPool(8, 64))
	require.Nil(t, set.FindPool(8, 3))
}

func TestExhaustionCascades(t *testing.T) {
	_, set := twoPoolSet(t)

	seen := map[arena.Addr]bool{}
	for index := 0; index < 9; index++ {
		p := set.FindPool(64, 8)
		require.NotNil(t, p)
		if index < 6 {
			require.Same(t, set.Pool(0), p)
		} else {
			require.Same(t, set.Pool(1), p)
		}

		addr, ok := p.TakeAddress()
		require.True(t, ok)
		require.False(t, seen[addr])
		seen[addr] = true

		require.Same(t, p, set.OwningPool(addr))
	}

	require.Nil(t, set.FindPool(64, 8))
	_, ok := set.Pool(0).TakeAddress()
	require.False(t, ok)

	var stats memutils.DetailedStatistics
	stats.Clear()
	set.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PoolCount:    2,
			SegmentCount: 9,
			UsedSegments: 9,
			PayloadBytes: 768,
			UsedBytes:    768,
		},
		ExhaustedPools:     2,
		SegmentSizeMin:     64,
		SegmentSizeMax:     128,
		FreeSegmentSizeMax: 0,
	}, stats)

	require.NoError(t, set.Validate())
}

func TestReturnIsLastInFirstOut(t *testing.T) {
	_, set := twoPoolSet(t)
	p := set.Pool(0)

	first, ok := p.TakeAddress()
	require.True(t, ok)
	second, ok := p.TakeAddress()
	require.True(t, ok)
	require.Equal(t, first+64, second)

	p.ReturnAddress(first)
	reused, ok := p.TakeAddress()
	require.True(t, ok)
	require.Equal(t, first, reused)

	p.ReturnAddress(second)
	p.ReturnAddress(first)
	require.Equal(t, 0, p.UsedSegments())

	var free []arena.Addr
	p.VisitFreeSegments(func(addr arena.Addr) bool {
		free = append(free, addr)
		return len(free) < 2
	})
	require.Equal(t, []arena.Addr{first, second}, free)

	require.NoError(t, set.Validate())
}

func TestReturnAddressPanics(t *testing.T) {
	_, set := twoPoolSet(t)
	p := set.Pool(0)

	requirePanicsWith(t, memutils.ErrPoolUnderflow, func() {
		p.ReturnAddress(p.PayloadBase())
	})

	addr, ok := p.TakeAddress()
	require.True(t, ok)

	requirePanicsWith(t, memutils.ErrForeignAddress, func() {
		p.ReturnAddress(addr + 8)
	})
	requirePanicsWith(t, memutils.ErrForeignAddress, func() {
		p.ReturnAddress(set.Pool(1).PayloadBase())
	})
	requirePanicsWith(t, memutils.ErrDoubleFree, func() {
		p.ReturnAddress(addr + 64)
	})
	require.Equal(t, 1, p.UsedSegments())
	require.NoError(t, set.Validate())

	p.ReturnAddress(addr)
	requirePanicsWith(t, memutils.ErrPoolUnderflow, func() {
		p.ReturnAddress(addr)
	})
	require.NoError(t, set.Validate())

	require.Nil(t, set.OwningPool(testBase))
	require.Nil(t, set.OwningPool(set.Pool(1).PayloadEnd()))
}

func TestCorruptTable(t *testing.T) {
	region, set := twoPoolSet(t)

	table, err := region.View(pool.SetHeaderSize, 6*arena.AddrSize)
	require.NoError(t, err)

	table.WriteSlot(1, table.ReadSlot(0))
	require.Error(t, set.Validate())

	table.WriteSlot(0, 0x1)
	requirePanicsWith(t, memutils.ErrStaleSlot, func() {
		set.Pool(0).TakeAddress()
	})
}

func TestPrintDetailedMap(t *testing.T) {
	_, set := twoPoolSet(t)

	_, ok := set.Pool(1).TakeAddress()
	require.True(t, ok)

	w := jwriter.NewWriter()
	obj := w.Object()
	set.PrintDetailedMap(obj)
	obj.End()
	require.NoError(t, w.Error())

	require.JSONEq(t, `{
		"TotalBytes": 1248,
		"HeaderBytes": 248,
		"CarvedBytes": 1000,
		"Segments": 9,
		"UsedSegments": 1,
		"UsedBytes": 128,
		"Pools": [
			{"Index": 0, "SegmentSize": 64, "Segments": 6, "UsedSegments": 0, "FreeSegments": 6,
			 "BlockBytes": 496, "TableBytes": 112, "PayloadBase": "0x10168", "Alignment": 8},
			{"Index": 1, "SegmentSize": 128, "Segments": 3, "UsedSegments": 1, "FreeSegments": 2,
			 "BlockBytes": 504, "TableBytes": 120, "PayloadBase": "0x10360", "Alignment": 32}
		]
	}`, string(w.Bytes()))
}
