package heap

import "github.com/thek-os/segheap/arena"

// Service is the narrow allocation interface the hosting runtime and other kernel subsystems
// consume. *Allocator implements it.
type Service interface {
	Allocate(size int, align uint) arena.Addr
	Deallocate(addr arena.Addr, size int, align uint)
	Reallocate(addr arena.Addr, oldSize int, align uint, newSize int) arena.Addr
}
