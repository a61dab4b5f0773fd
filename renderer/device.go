package renderer

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe/descriptor"
)

// Fence is a GPU timeline with a monotonically increasing completed value.
type Fence interface {
	// SetTargetValue submits the work recorded so far and asks the GPU to
	// signal v once it has finished.
	SetTargetValue(v uint64) error

	// TargetValue returns the last value passed to SetTargetValue.
	TargetValue() uint64

	// CompletedValue returns the highest value the GPU has signaled.
	CompletedValue() uint64

	// WaitForTarget blocks until CompletedValue reaches TargetValue.
	// There is no timeout; an error means the device is lost.
	WaitForTarget() error

	// Release frees the fence.
	Release()
}

// Device creates the GPU objects the renderer needs.
type Device interface {
	descriptor.Device

	// CreateFence creates a fence with target and completed value 0.
	CreateFence() (Fence, error)

	// CreateDepthStencilBuffer creates a depth-stencil buffer of the given
	// size and depth format.
	CreateDepthStencilBuffer(width, height uint32, format gputypes.TextureFormat) (DepthStencilBuffer, error)
}

// SwapChain presents frames. The index of the next back buffer is decided by
// the presentation engine.
type SwapChain interface {
	// CurrentBackBufferIndex returns the back buffer the next frame renders to.
	CurrentBackBufferIndex() int

	// CurrentRenderTarget returns the render target of the current back buffer.
	CurrentRenderTarget() RenderTarget

	// Present shows the current back buffer.
	Present() error

	// Release frees the swap chain.
	Release()
}

// CommandRecorder records GPU commands for the frame being built.
// Devices that record commands expose one through RecorderProvider.
type CommandRecorder interface {
	// ClearRenderTarget clears rt to c.
	ClearRenderTarget(rt RenderTarget, c gputypes.Color)

	// ClearDepthStencil clears ds to its clear values.
	ClearDepthStencil(ds DepthStencilBuffer)

	// Draw records one draw. It is called concurrently from pool workers,
	// each with its own worker id.
	Draw(worker int, u *Unit, cmd *DrawCommand)
}

// RecorderProvider is implemented by devices that record commands.
type RecorderProvider interface {
	CommandRecorder() CommandRecorder
}
