package descriptor

import "fmt"

// HeapType identifies the kind of descriptors a heap holds.
type HeapType uint8

const (
	// HeapTypeCBVSRVUAV holds constant buffer, shader resource and unordered access views.
	HeapTypeCBVSRVUAV HeapType = iota
	// HeapTypeSampler holds sampler descriptors.
	HeapTypeSampler
	// HeapTypeRTV holds render target views.
	HeapTypeRTV
	// HeapTypeDSV holds depth-stencil views.
	HeapTypeDSV

	numHeapTypes
)

// String returns the string representation of HeapType.
func (t HeapType) String() string {
	switch t {
	case HeapTypeCBVSRVUAV:
		return "CBV_SRV_UAV"
	case HeapTypeSampler:
		return "Sampler"
	case HeapTypeRTV:
		return "RTV"
	case HeapTypeDSV:
		return "DSV"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// valid reports whether t is a known heap type.
func (t HeapType) valid() bool { return t < numHeapTypes }

// shaderVisibleAllowed reports whether heaps of this type may be bound to shaders.
// Render target and depth-stencil views are only ever used on the CPU side.
func (t HeapType) shaderVisibleAllowed() bool {
	return t == HeapTypeCBVSRVUAV || t == HeapTypeSampler
}

// Handle is an opaque descriptor address. CPU handles address the descriptor
// for writing, GPU handles address it for binding.
type Handle uint64

// Offset returns the handle advanced by n descriptors of the given size.
func (h Handle) Offset(n, incrementSize uint32) Handle {
	return h + Handle(uint64(n)*uint64(incrementSize))
}

// Interval is a half-open range [Start, End) of descriptor slots.
type Interval struct {
	Start uint32
	End   uint32
}

// Len returns the number of slots in the interval.
func (iv Interval) Len() uint32 { return iv.End - iv.Start }

// String returns the interval in [start,end) notation.
func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Start, iv.End)
}

// HeapDesc describes a descriptor heap to create.
type HeapDesc struct {
	Type          HeapType
	ShaderVisible bool
	Count         uint32
}

// Heap is a device descriptor heap backing one HeapStore.
type Heap interface {
	// CPUStart returns the CPU handle of the first descriptor.
	CPUStart() Handle

	// GPUStart returns the GPU handle of the first descriptor.
	// Heaps that are not shader visible may return 0.
	GPUStart() Handle

	// Destroy releases the device heap.
	Destroy()
}

// Device creates descriptor heaps. It is implemented by the graphics backend.
type Device interface {
	// CreateHeap creates a heap with desc.Count descriptors.
	// A failure means the device is out of descriptor memory.
	CreateHeap(desc HeapDesc) (Heap, error)

	// IncrementSize returns the size in bytes of one descriptor of type t.
	IncrementSize(t HeapType) uint32
}

// FrameIndexer supplies the frame resource index that transient allocations
// belong to. The frame scheduler implements it.
type FrameIndexer interface {
	// TransientFrameIndex returns the index of the frame currently being
	// recorded, and false when no frame is open for transient allocation.
	TransientFrameIndex() (int, bool)
}
