package renderer

import (
	"errors"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe/descriptor"
)

var errGPUHang = errors.New("gpu hang")

// =============================================================================
// Resources
// =============================================================================

type mockResource struct {
	RefCount
	destroyed bool
}

func (m *mockResource) init() { m.Init(func() { m.destroyed = true }) }

type mockVertexBuffer struct {
	mockResource
	count uint32
}

func newVertexBuffer(count uint32) *mockVertexBuffer {
	vb := &mockVertexBuffer{count: count}
	vb.init()
	return vb
}

func (b *mockVertexBuffer) VertexCount() uint32 { return b.count }
func (b *mockVertexBuffer) Stride() uint32      { return 32 }

type mockIndexBuffer struct {
	mockResource
	count uint32
}

func newIndexBuffer(count uint32) *mockIndexBuffer {
	ib := &mockIndexBuffer{count: count}
	ib.init()
	return ib
}

func (b *mockIndexBuffer) IndexCount() uint32                 { return b.count }
func (b *mockIndexBuffer) IndexFormat() gputypes.IndexFormat { return gputypes.IndexFormatUint16 }

type mockMaterial struct {
	mockResource
	name        string
	descriptors uint32
}

func newMaterial(name string, descriptors uint32) *mockMaterial {
	m := &mockMaterial{name: name, descriptors: descriptors}
	m.init()
	return m
}

func (m *mockMaterial) DescriptorCount() uint32 { return m.descriptors }

type mockRenderTarget struct {
	mockResource
}

func newRenderTarget() *mockRenderTarget {
	rt := &mockRenderTarget{}
	rt.init()
	return rt
}

func (*mockRenderTarget) Format() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

type mockDepthStencil struct {
	mockResource
	width, height uint32
	format        gputypes.TextureFormat
}

func newDepthStencil(width, height uint32, format gputypes.TextureFormat) *mockDepthStencil {
	ds := &mockDepthStencil{width: width, height: height, format: format}
	ds.init()
	return ds
}

func (d *mockDepthStencil) Format() gputypes.TextureFormat { return d.format }
func (*mockDepthStencil) DepthClearValue() float32         { return 1 }
func (*mockDepthStencil) StencilClearValue() uint8         { return 0 }

// =============================================================================
// Fence
// =============================================================================

// mockFence only completes work when it is waited on, so a missing wait
// shows up as outstanding frames.
type mockFence struct {
	dev *mockDevice

	mu         sync.Mutex
	target     uint64
	completed  uint64
	waits      int
	released   bool
	failWait   error
	failSubmit error
}

func (f *mockFence) SetTargetValue(v uint64) error {
	f.mu.Lock()
	if f.failSubmit != nil {
		f.mu.Unlock()
		return f.failSubmit
	}
	f.target = v
	f.mu.Unlock()
	f.dev.submitted()
	return nil
}

func (f *mockFence) TargetValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

func (f *mockFence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *mockFence) WaitForTarget() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWait != nil {
		return f.failWait
	}
	f.completed = f.target
	f.waits++
	return nil
}

func (f *mockFence) Release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

func (f *mockFence) outstanding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target > f.completed
}

// =============================================================================
// Device
// =============================================================================

type mockHeap struct {
	cpu, gpu  descriptor.Handle
	destroyed bool
}

func (h *mockHeap) CPUStart() descriptor.Handle { return h.cpu }
func (h *mockHeap) GPUStart() descriptor.Handle { return h.gpu }
func (h *mockHeap) Destroy()                    { h.destroyed = true }

type mockDevice struct {
	mu             sync.Mutex
	nextHandle     descriptor.Handle
	heaps          []*mockHeap
	fences         []*mockFence
	depthBuffers   []*mockDepthStencil
	maxOutstanding int
	failFence      bool

	recorder *mockRecorder
}

func newMockDevice() *mockDevice {
	return &mockDevice{nextHandle: 0x1000, recorder: &mockRecorder{}}
}

func (d *mockDevice) CreateHeap(desc descriptor.HeapDesc) (descriptor.Heap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &mockHeap{cpu: d.nextHandle}
	if desc.ShaderVisible {
		h.gpu = d.nextHandle | 1<<40
	}
	d.nextHandle += descriptor.Handle(desc.Count*32) + 0x100
	d.heaps = append(d.heaps, h)
	return h, nil
}

func (d *mockDevice) IncrementSize(descriptor.HeapType) uint32 { return 32 }

func (d *mockDevice) CreateFence() (Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFence {
		return nil, errGPUHang
	}
	f := &mockFence{dev: d}
	d.fences = append(d.fences, f)
	return f, nil
}

func (d *mockDevice) CreateDepthStencilBuffer(width, height uint32, format gputypes.TextureFormat) (DepthStencilBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ds := newDepthStencil(width, height, format)
	d.depthBuffers = append(d.depthBuffers, ds)
	return ds, nil
}

func (d *mockDevice) CommandRecorder() CommandRecorder { return d.recorder }

// submitted records how many fences have work the GPU has not finished.
func (d *mockDevice) submitted() {
	d.mu.Lock()
	fences := d.fences
	d.mu.Unlock()
	n := 0
	for _, f := range fences {
		if f.outstanding() {
			n++
		}
	}
	d.mu.Lock()
	d.maxOutstanding = max(d.maxOutstanding, n)
	d.mu.Unlock()
}

func (d *mockDevice) outstandingPeak() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOutstanding
}

// =============================================================================
// Swap chain and recorder
// =============================================================================

type mockSwapChain struct {
	index      int
	order      []int // back buffer sequence; round-robin when empty
	targets    [3]*mockRenderTarget
	presents   int
	presentErr error
	released   bool
}

func newMockSwapChain() *mockSwapChain {
	s := &mockSwapChain{}
	for i := range s.targets {
		s.targets[i] = newRenderTarget()
	}
	return s
}

func (s *mockSwapChain) CurrentBackBufferIndex() int { return s.index }

func (s *mockSwapChain) CurrentRenderTarget() RenderTarget { return s.targets[s.index] }

func (s *mockSwapChain) Present() error {
	s.presents++
	if len(s.order) > 0 {
		s.index = s.order[s.presents%len(s.order)]
	} else {
		s.index = (s.index + 1) % len(s.targets)
	}
	return s.presentErr
}

func (s *mockSwapChain) Release() { s.released = true }

type recordedDraw struct {
	worker   int
	material Material
	cmd      DrawCommand
}

type mockRecorder struct {
	mu          sync.Mutex
	draws       []recordedDraw
	colorClears int
	depthClears int
	lastColor   gputypes.Color
}

func (r *mockRecorder) ClearRenderTarget(_ RenderTarget, c gputypes.Color) {
	r.mu.Lock()
	r.colorClears++
	r.lastColor = c
	r.mu.Unlock()
}

func (r *mockRecorder) ClearDepthStencil(DepthStencilBuffer) {
	r.mu.Lock()
	r.depthClears++
	r.mu.Unlock()
}

func (r *mockRecorder) Draw(worker int, u *Unit, cmd *DrawCommand) {
	r.mu.Lock()
	r.draws = append(r.draws, recordedDraw{worker: worker, material: u.Material(), cmd: *cmd})
	r.mu.Unlock()
}

// take returns and forgets the draws recorded so far.
func (r *mockRecorder) take() []recordedDraw {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.draws
	r.draws = nil
	return out
}
