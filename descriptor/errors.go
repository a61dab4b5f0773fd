package descriptor

import "errors"

// Allocation errors.
var (
	// ErrHeapCreation is returned when the device cannot create a heap store.
	ErrHeapCreation = errors.New("descriptor: heap store creation failed")

	// ErrInvalidCount is returned when zero descriptors are requested.
	ErrInvalidCount = errors.New("descriptor: descriptor count must be positive")

	// ErrInvalidHeapType is returned for unknown heap types.
	ErrInvalidHeapType = errors.New("descriptor: invalid heap type")

	// ErrInvalidVisibility is returned when a CPU-only heap type is requested
	// as shader visible.
	ErrInvalidVisibility = errors.New("descriptor: heap type cannot be shader visible")

	// ErrNoActiveFrame is returned for transient allocations outside a frame.
	ErrNoActiveFrame = errors.New("descriptor: no frame open for transient allocation")

	// ErrInvalidFrameIndex is returned when a frame resource index is out of range.
	ErrInvalidFrameIndex = errors.New("descriptor: frame resource index out of range")
)
