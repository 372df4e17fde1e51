// Package arena owns the single contiguous memory region handed to the heap at boot.
//
// Every structure the heap carves out of the region (the pool set header, each pool's free-address
// table and each pool's payload) is addressed through a bounds-checked View. Callers outside of this
// package only ever see logical addresses (Addr), which are the region's base address plus an
// offset, never Go pointers into the backing buffer.
package arena
