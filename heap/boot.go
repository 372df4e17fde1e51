package heap

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/thek-os/segheap/arena"
	"github.com/thek-os/segheap/klock"
	"github.com/thek-os/segheap/memutils"
	"golang.org/x/exp/slog"
)

var (
	kernel   atomic.Pointer[Allocator]
	bootLock = klock.New(struct{}{}, nil)
)

// Boot creates the process-wide allocator over the region desc describes and installs it so
// that Kernel returns it. The region is mapped with arena.Map. Boot may succeed only once;
// later calls return an error wrapping memutils.ErrConfiguration.
func Boot(logger *slog.Logger, desc arena.Descriptor, options CreateOptions) (*Allocator, error) {
	guard := bootLock.Acquire()
	defer guard.Release()

	if kernel.Load() != nil {
		return nil, errors.Wrap(memutils.ErrConfiguration, "heap has already been booted")
	}

	region, err := arena.Map(desc)
	if err != nil {
		return nil, err
	}

	allocator, err := New(logger, region, options)
	if err != nil {
		_ = region.Close()
		return nil, err
	}

	kernel.Store(allocator)
	return allocator, nil
}

// MustBoot is Boot for bootstrap code that cannot continue without a heap
func MustBoot(logger *slog.Logger, desc arena.Descriptor, options CreateOptions) *Allocator {
	allocator, err := Boot(logger, desc, options)
	if err != nil {
		panic(err)
	}
	return allocator
}

// Kernel returns the allocator installed by Boot. It panics if Boot has not succeeded yet.
func Kernel() *Allocator {
	allocator := kernel.Load()
	if allocator == nil {
		panic(errors.AssertionFailedf("heap.Kernel called before heap.Boot"))
	}
	return allocator
}

// Booted reports whether Boot has succeeded
func Booted() bool {
	return kernel.Load() != nil
}
