package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/klock"
	"github.com/thek-os/segheap/memutils"
	"github.com/thek-os/segheap/pool"
	"golang.org/x/exp/slog"
)

// heapState is everything the allocator's lock protects
type heapState struct {
	pools *pool.PoolSet

	// live maps each outstanding address to the size requested for it. It is nil unless
	// AllocatorCreateTrackAllocations was set.
	live      *swiss.Map[arena.Addr, int]
	requested int
}

// Allocator hands out segments of a single region. It is safe for concurrent use.
type Allocator struct {
	logger       *slog.Logger
	region       *arena.Region
	createFlags  CreateFlags
	onExhaustion func(report ExhaustionReport)

	lock *klock.TicketLock[heapState]
}

var _ Service = &Allocator{}

// Region returns the region this allocator manages
func (a *Allocator) Region() *arena.Region { return a.region }

// Flags returns the flags the allocator was created with
func (a *Allocator) Flags() CreateFlags { return a.createFlags }

// Allocate returns the address of a segment that can hold size bytes at the requested
// alignment, or arena.NullAddr if no pool can serve the request. align must be a power of two;
// 0 is treated as 1.
func (a *Allocator) Allocate(size int, align uint) arena.Addr {
	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size), slog.Int("Align", int(align)))

	guard := a.lock.Acquire()
	defer guard.Release()

	return a.allocate(guard.Value(), size, align)
}

func (a *Allocator) allocate(state *heapState, size int, align uint) arena.Addr {
	p := state.pools.FindPool(size, align)
	if p == nil {
		return arena.NullAddr
	}

	addr, ok := p.TakeAddress()
	if !ok {
		return arena.NullAddr
	}

	if state.live != nil {
		state.live.Put(addr, size)
		state.requested += size
	}

	memutils.DebugValidate(state)
	return addr
}

// Deallocate returns addr to the pool it came from. size and align are the values addr was
// allocated with; they are accepted for symmetry with Allocate and are not needed to locate the
// owning pool.
//
// Freeing an address that no pool owns, or one that points inside a segment, panics with an error
// wrapping memutils.ErrForeignAddress. Freeing a segment that is not allocated panics with an
// error wrapping memutils.ErrDoubleFree.
func (a *Allocator) Deallocate(addr arena.Addr, size int, align uint) {
	a.logger.Debug("Allocator::Deallocate", slog.String("Address", fmt.Sprintf("%#x", uintptr(addr))), slog.Int("Size", size))

	guard := a.lock.Acquire()
	defer guard.Release()

	a.deallocate(guard.Value(), addr)
}

func (a *Allocator) owningPool(state *heapState, addr arena.Addr) *pool.SegmentPool {
	p := state.pools.OwningPool(addr)
	if p == nil {
		a.logger.Error("address not owned by any pool", slog.String("Address", fmt.Sprintf("%#x", uintptr(addr))))
		panic(errors.Wrapf(memutils.ErrForeignAddress, "%#x", uintptr(addr)))
	}
	if !p.IsSegmentStart(addr) {
		a.logger.Error("address is inside a segment", slog.String("Address", fmt.Sprintf("%#x", uintptr(addr))), slog.Int("Pool", p.Index()))
		panic(errors.Wrapf(memutils.ErrForeignAddress, "%#x is not the start of a segment in pool %d", uintptr(addr), p.Index()))
	}
	return p
}

func (a *Allocator) deallocate(state *heapState, addr arena.Addr) {
	p := a.owningPool(state, addr)

	if state.live != nil {
		requested, ok := state.live.Get(addr)
		if !ok {
			a.logger.Error("address released twice", slog.String("Address", fmt.Sprintf("%#x", uintptr(addr))), slog.Int("Pool", p.Index()))
			panic(errors.Wrapf(memutils.ErrDoubleFree, "%#x", uintptr(addr)))
		}
		state.live.Delete(addr)
		state.requested -= requested
	}

	p.ReturnAddress(addr)

	if a.createFlags&AllocatorCreatePoisonFreed != 0 {
		data, err := a.region.Bytes(addr, p.SegmentSize())
		if err != nil {
			panic(errors.NewAssertionErrorWithWrappedErrf(err, "pool %d segment %#x escapes the region", p.Index(), uintptr(addr)))
		}
		memutils.Poison(data)
	}

	memutils.DebugValidate(state)
}

// Reallocate resizes the allocation at addr from oldSize to newSize bytes.
//
// If newSize still fits in the segment addr already occupies, addr is returned unchanged.
// Otherwise a new segment is allocated, the first min(oldSize, newSize) bytes are copied into it
// and addr is freed. If no segment can hold newSize bytes, arena.NullAddr is returned and addr is
// left allocated and untouched.
//
// Reallocating arena.NullAddr is the same as calling Allocate. Any other addr must be the start of
// an allocated segment, as with Deallocate.
func (a *Allocator) Reallocate(addr arena.Addr, oldSize int, align uint, newSize int) arena.Addr {
	a.logger.Debug("Allocator::Reallocate",
		slog.String("Address", fmt.Sprintf("%#x", uintptr(addr))),
		slog.Int("OldSize", oldSize),
		slog.Int("NewSize", newSize),
	)

	guard := a.lock.Acquire()
	defer guard.Release()

	state := guard.Value()
	if addr == arena.NullAddr {
		return a.allocate(state, newSize, align)
	}

	p := a.owningPool(state, addr)
	if align == 0 {
		align = 1
	}

	if memutils.CheckPow2(align, "align") != nil {
		return arena.NullAddr
	}

	if newSize >= 0 && p.Fits(newSize, align) && memutils.IsAligned(uint(addr), align) {
		if state.live != nil {
			requested, ok := state.live.Get(addr)
			if ok {
				state.live.Put(addr, newSize)
				state.requested += newSize - requested
			}
		}
		return addr
	}

	newAddr := a.allocate(state, newSize, align)
	if newAddr == arena.NullAddr {
		return arena.NullAddr
	}

	copySize := min(oldSize, newSize, p.SegmentSize())
	if copySize > 0 {
		err := a.region.Copy(newAddr, addr, copySize)
		if err != nil {
			panic(errors.NewAssertionErrorWithWrappedErrf(err, "could not move %d bytes from %#x to %#x", copySize, uintptr(addr), uintptr(newAddr)))
		}
	}

	a.deallocate(state, addr)
	return newAddr
}

// Bytes returns the length bytes of the region starting at addr. It does not take the lock:
// the caller must own the allocation addr belongs to.
func (a *Allocator) Bytes(addr arena.Addr, length int) ([]byte, error) {
	return a.region.Bytes(addr, length)
}

// Statistics returns the summed counters of every pool
func (a *Allocator) Statistics() memutils.Statistics {
	var stats memutils.Statistics

	a.lock.Do(func(state *heapState) {
		state.pools.AddStatistics(&stats)
	})

	return stats
}

// DetailedStatistics returns the summed counters of every pool, along with the requested byte
// count if allocations are tracked
func (a *Allocator) DetailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()

	a.lock.Do(func(state *heapState) {
		state.pools.AddDetailedStatistics(&stats)
		stats.RequestedBytes = state.requested
	})

	return stats
}

// PoolStatistics returns a snapshot of each pool's counters, ascending by segment size
func (a *Allocator) PoolStatistics() []pool.Statistics {
	var stats []pool.Statistics

	a.lock.Do(func(state *heapState) {
		stats = state.pools.Statistics()
	})

	return stats
}

// PrintDetailedMap writes the allocator's layout, counters and, when allocations are tracked,
// the number of live allocations into writer as a JSON object
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	a.lock.Do(func(state *heapState) {
		obj := writer.Object()
		defer obj.End()

		obj.Name("Flags").String(a.createFlags.String())
		if state.live != nil {
			obj.Name("LiveAllocations").Int(state.live.Count())
			obj.Name("RequestedBytes").Int(state.requested)
		}

		heapObj := obj.Name("Heap").Object()
		state.pools.PrintDetailedMap(heapObj)
		heapObj.End()
	})
}

// Validate checks every pool's bookkeeping and, when allocations are tracked, that the live
// allocation table agrees with the pools
func (a *Allocator) Validate() error {
	var err error

	a.lock.Do(func(state *heapState) {
		err = state.Validate()
	})

	return err
}

func (s *heapState) Validate() error {
	err := s.pools.Validate()
	if err != nil {
		return err
	}

	if s.live == nil {
		return nil
	}

	var stats memutils.Statistics
	s.pools.AddStatistics(&stats)
	if s.live.Count() != stats.UsedSegments {
		return errors.Newf("%d live allocations are tracked, but %d segments are in use", s.live.Count(), stats.UsedSegments)
	}

	requested := 0
	s.live.Iter(func(addr arena.Addr, size int) (stop bool) {
		p := s.pools.OwningPool(addr)
		if p == nil {
			err = errors.Newf("live allocation %#x is not owned by any pool", uintptr(addr))
			return true
		}
		if size > p.SegmentSize() {
			err = errors.Newf("live allocation %#x of %d bytes does not fit the %d byte segments of pool %d", uintptr(addr), size, p.SegmentSize(), p.Index())
			return true
		}
		requested += size
		return false
	})
	if err != nil {
		return err
	}

	if requested != s.requested {
		return errors.Newf("live allocations sum to %d requested bytes, but %d are recorded", requested, s.requested)
	}

	return nil
}
