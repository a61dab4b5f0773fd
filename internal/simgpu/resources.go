package simgpu

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe/descriptor"
	"github.com/gogpu/gpuframe/renderer"
)

// gpuHandleBit marks shader-visible handles so they never equal CPU ones.
const gpuHandleBit = 1 << 62

type heap struct {
	dev      *Device
	count    uint64
	size     uint64
	cpu, gpu descriptor.Handle
	done     atomic.Bool
}

func (h *heap) CPUStart() descriptor.Handle { return h.cpu }
func (h *heap) GPUStart() descriptor.Handle { return h.gpu }

func (h *heap) Destroy() {
	if h.done.CompareAndSwap(false, true) {
		h.dev.releaseHeap(h)
	}
}

// Texture is a render target or depth-stencil buffer. It holds no pixels.
type Texture struct {
	renderer.RefCount
	width, height uint32
	format        gputypes.TextureFormat
	destroyed     atomic.Bool

	depthClear   float32
	stencilClear uint8
}

func newTexture(width, height uint32, format gputypes.TextureFormat) *Texture {
	t := &Texture{width: width, height: height, format: format, depthClear: 1}
	t.Init(func() { t.destroyed.Store(true) })
	return t
}

// NewRenderTarget returns a color target with one reference.
func NewRenderTarget(width, height uint32, format gputypes.TextureFormat) *Texture {
	return newTexture(width, height, format)
}

// NewDepthStencil returns a depth-stencil buffer with one reference,
// cleared to depth 1 and stencil 0.
func NewDepthStencil(width, height uint32, format gputypes.TextureFormat) *Texture {
	return newTexture(width, height, format)
}

func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// Size returns the texture size in pixels.
func (t *Texture) Size() (width, height uint32) { return t.width, t.height }

// Destroyed reports whether the last reference was released.
func (t *Texture) Destroyed() bool { return t.destroyed.Load() }

func (t *Texture) DepthClearValue() float32 { return t.depthClear }
func (t *Texture) StencilClearValue() uint8 { return t.stencilClear }

// Buffer is a vertex or index buffer.
type Buffer struct {
	renderer.RefCount
	count       uint32
	stride      uint32
	indexFormat gputypes.IndexFormat
	destroyed   atomic.Bool
}

// NewVertexBuffer returns a vertex buffer of count vertices.
func NewVertexBuffer(count, stride uint32) *Buffer {
	b := &Buffer{count: count, stride: stride}
	b.Init(func() { b.destroyed.Store(true) })
	return b
}

// NewIndexBuffer returns an index buffer of count indices.
func NewIndexBuffer(count uint32, format gputypes.IndexFormat) *Buffer {
	b := &Buffer{count: count, indexFormat: format, stride: format.Size()}
	b.Init(func() { b.destroyed.Store(true) })
	return b
}

func (b *Buffer) VertexCount() uint32               { return b.count }
func (b *Buffer) Stride() uint32                    { return b.stride }
func (b *Buffer) IndexCount() uint32                { return b.count }
func (b *Buffer) IndexFormat() gputypes.IndexFormat { return b.indexFormat }
func (b *Buffer) Destroyed() bool                   { return b.destroyed.Load() }

// Material is a named shader binding with a descriptor table size.
type Material struct {
	renderer.RefCount
	name        string
	descriptors uint32
}

// NewMaterial returns a material with one reference.
func NewMaterial(name string, descriptors uint32) *Material {
	m := &Material{name: name, descriptors: descriptors}
	m.Init(nil)
	return m
}

func (m *Material) DescriptorCount() uint32 { return m.descriptors }
func (m *Material) Name() string            { return m.name }
