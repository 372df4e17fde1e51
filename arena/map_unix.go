//go:build unix

package arena

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Map creates a region backed by an anonymous private memory mapping, which keeps the heap's
// memory outside of the Go garbage collector. The mapping is released by Region.Close.
func Map(desc Descriptor) (*Region, error) {
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(-1, 0, desc.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes for the heap region", desc.Size)
	}

	region, err := NewRegion(desc.Base, data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}

	region.close = func() error {
		return unix.Munmap(data)
	}
	return region, nil
}
