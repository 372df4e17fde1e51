// Package heap is the allocator service built over a carved pool.PoolSet. A single
// klock.TicketLock guards the whole set, so every Allocate, Deallocate and Reallocate call is
// serialized regardless of which pool it ends up touching.
//
// The process-wide allocator is installed exactly once with Boot and read back with Kernel.
package heap
