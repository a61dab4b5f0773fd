package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNilDevice is returned when a HAL device or queue is missing.
	ErrNilDevice = errors.New("native: HAL device or queue is nil")

	// ErrNoHALAccess is returned when a device provider does not expose
	// its HAL device and queue.
	ErrNoHALAccess = errors.New("native: provider does not expose HAL types")

	// ErrDeviceLost is returned when a submission fails. Every later
	// submission and fence wait fails with it as well.
	ErrDeviceLost = errors.New("native: GPU device lost")

	// ErrFenceValue is returned when a fence target does not increase.
	ErrFenceValue = errors.New("native: fence target must increase")

	// ErrInvalidDimensions is returned when width or height is zero.
	ErrInvalidDimensions = errors.New("native: invalid dimensions")

	// ErrDestroyed is returned when a released object is used.
	ErrDestroyed = errors.New("native: object has been released")
)
