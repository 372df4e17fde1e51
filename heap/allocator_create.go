package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/klock"
	"github.com/thek-os/segheap/memutils"
	"github.com/thek-os/segheap/pool"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateTrackAllocations keeps a table of every live allocation and the size that was
	// requested for it. Freeing an address twice is caught immediately rather than only when a
	// pool underflows, and DetailedStatistics reports RequestedBytes.
	AllocatorCreateTrackAllocations CreateFlags = 1 << iota
	// AllocatorCreatePoisonFreed fills every segment with memutils.PoisonByte when it is freed
	AllocatorCreatePoisonFreed
)

func init() {
	AllocatorCreateTrackAllocations.Register("AllocatorCreateTrackAllocations")
	AllocatorCreatePoisonFreed.Register("AllocatorCreatePoisonFreed")
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// Schema describes how the region is carved into pools. If it is left empty,
	// pool.DefaultSchema is used.
	Schema pool.Schema

	// Waiter is consulted while the allocator's lock is contended. If it is left nil, the lock
	// busy-waits.
	Waiter klock.Waiter

	// OnExhaustion is an optional callback that MustAllocate runs with the utilization report
	// before it panics
	OnExhaustion func(report ExhaustionReport)
}

// New creates a new Allocator that manages region
//
// logger - Receives debug and diagnostic records. It may be nil.
//
// region - The memory the allocator carves into pools. The allocator writes its own bookkeeping
// into the region, so it may not be shared with anything else.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, region *arena.Region, options CreateOptions) (*Allocator, error) {
	if region == nil {
		return nil, errors.Wrap(memutils.ErrConfiguration, "heap region may not be nil")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	pools, err := pool.Carve(region, options.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "could not carve heap region")
	}

	state := heapState{pools: pools}
	if options.Flags&AllocatorCreateTrackAllocations != 0 {
		state.live = swiss.NewMap[arena.Addr, int](42)
	}

	allocator := &Allocator{
		logger:       logger,
		region:       region,
		createFlags:  options.Flags,
		onExhaustion: options.OnExhaustion,
		lock:         klock.New(state, options.Waiter),
	}

	logger.Debug("Allocator::New",
		slog.Int("RegionBytes", region.Size()),
		slog.Int("Pools", pools.Len()),
		slog.String("Flags", options.Flags.String()),
		slog.Bool("DebugChecks", memutils.DebugChecks),
	)

	return allocator, nil
}
