package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrConfiguration is wrapped by every error produced while validating a schema or carving the
	// region. These are only ever produced during boot.
	ErrConfiguration = errors.New("invalid heap configuration")
	// ErrOutOfMemory indicates that no pool could satisfy a request
	ErrOutOfMemory = errors.New("heap exhausted")
	// ErrOutOfBounds is returned when an address or view falls outside of the arena
	ErrOutOfBounds = errors.New("address range outside of arena")

	// ErrInvariant is the parent of every error the heap panics with when its bookkeeping
	// can no longer be trusted.
	ErrInvariant = errors.New("heap invariant violated")
	// ErrForeignAddress is raised when an address handed back to the heap is not owned by any pool
	ErrForeignAddress = errors.Wrap(ErrInvariant, "address not owned by any pool")
	// ErrDoubleFree is raised when a segment that is not allocated is released
	ErrDoubleFree = errors.Wrap(ErrInvariant, "address released twice")
	// ErrPoolUnderflow is raised when a pool receives more addresses than it handed out
	ErrPoolUnderflow = errors.Wrap(ErrInvariant, "pool received more addresses than it handed out")
	// ErrStaleSlot is raised when a free-address table slot holds a checked-out sentinel or
	// an address that does not belong to its pool
	ErrStaleSlot = errors.Wrap(ErrInvariant, "free-address table slot is corrupt")
)
