package gpuframe

// FrameCount is the number of frame resource slots (frames in flight).
const FrameCount = 3

// Limits shared by render units and passes.
const (
	// MaxGeometryBufferCount is the maximum number of vertex buffer slots per unit.
	MaxGeometryBufferCount = 8

	// MaxRenderTargetCount is the maximum number of simultaneous render targets.
	MaxRenderTargetCount = 8
)
