package renderer

import "errors"

// Renderer errors.
var (
	// ErrNotStarted is returned when the renderer is used before Start or
	// after ShutDown.
	ErrNotStarted = errors.New("renderer: not started")

	// ErrUnknownPass is returned by AddRenderPass for unknown pass types.
	ErrUnknownPass = errors.New("renderer: unknown render pass type")

	// ErrSlotOutOfRange is returned when a vertex buffer slot is not below
	// gpuframe.MaxGeometryBufferCount.
	ErrSlotOutOfRange = errors.New("renderer: vertex buffer slot out of range")

	// ErrTooManyRenderTargets is returned when more than
	// gpuframe.MaxRenderTargetCount render targets are added to a unit.
	ErrTooManyRenderTargets = errors.New("renderer: too many render targets")

	// ErrDuplicateRenderTarget is returned when a render target is added twice.
	ErrDuplicateRenderTarget = errors.New("renderer: duplicate render target")

	// ErrNilResource is returned when a required resource is nil.
	ErrNilResource = errors.New("renderer: nil resource")

	// ErrDeviceLost is returned when a fence wait or a submission fails.
	// The renderer cannot recover from it.
	ErrDeviceLost = errors.New("renderer: device lost")

	// ErrInvalidFormat is returned when a depth-stencil buffer is requested
	// with a color format.
	ErrInvalidFormat = errors.New("renderer: invalid depth-stencil format")
)
