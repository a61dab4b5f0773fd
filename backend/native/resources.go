package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe/descriptor"
	"github.com/gogpu/gpuframe/renderer"
)

// gpuHandleBit marks GPU descriptor handles so they never equal CPU ones.
const gpuHandleBit = 1 << 62

// heap is a descriptor heap backed by a storage buffer.
type heap struct {
	dev  hal.Device
	buf  hal.Buffer
	size uint64
	cpu  descriptor.Handle
	gpu  descriptor.Handle
}

func (h *heap) CPUStart() descriptor.Handle { return h.cpu }
func (h *heap) GPUStart() descriptor.Handle { return h.gpu }

func (h *heap) Destroy() {
	if h.buf != nil {
		h.dev.DestroyBuffer(h.buf)
		h.buf = nil
	}
}

// Texture is a 2D texture with a default view. It implements
// renderer.RenderTarget.
type Texture struct {
	renderer.RefCount

	tex    hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

// Format returns the texture format.
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// Size returns the texture size in pixels.
func (t *Texture) Size() (width, height uint32) { return t.width, t.height }

// HAL returns the texture and its default view.
func (t *Texture) HAL() (hal.Texture, hal.TextureView) { return t.tex, t.view }

// DepthStencilBuffer is a depth-stencil texture.
type DepthStencilBuffer struct {
	*Texture

	depthClear   float32
	stencilClear uint8
}

// DepthClearValue implements renderer.DepthStencilBuffer.
func (d *DepthStencilBuffer) DepthClearValue() float32 { return d.depthClear }

// StencilClearValue implements renderer.DepthStencilBuffer.
func (d *DepthStencilBuffer) StencilClearValue() uint8 { return d.stencilClear }

// SetClearValues sets the values ClearDepthStencil clears to.
func (d *DepthStencilBuffer) SetClearValues(depth float32, stencil uint8) {
	d.depthClear = depth
	d.stencilClear = stencil
}

// Buffer is a vertex or index buffer. It implements renderer.VertexBuffer
// and renderer.IndexBuffer.
type Buffer struct {
	renderer.RefCount

	buf         hal.Buffer
	size        uint64
	count       uint32
	stride      uint32
	indexFormat gputypes.IndexFormat
}

// VertexCount returns the number of vertices of a vertex buffer.
func (b *Buffer) VertexCount() uint32 { return b.count }

// Stride returns the vertex size in bytes.
func (b *Buffer) Stride() uint32 { return b.stride }

// IndexCount returns the number of indices of an index buffer.
func (b *Buffer) IndexCount() uint32 { return b.count }

// IndexFormat returns the index format of an index buffer.
func (b *Buffer) IndexFormat() gputypes.IndexFormat { return b.indexFormat }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// HAL returns the underlying buffer.
func (b *Buffer) HAL() hal.Buffer { return b.buf }

// Material pairs a render pipeline with its bind group.
// The caller owns both HAL objects.
type Material struct {
	renderer.RefCount

	pipeline    hal.RenderPipeline
	bindGroup   hal.BindGroup
	descriptors uint32
}

// NewMaterial returns a material drawing with pipeline. descriptors is the
// size of the descriptor table each draw reserves.
func NewMaterial(pipeline hal.RenderPipeline, bindGroup hal.BindGroup, descriptors uint32) *Material {
	m := &Material{pipeline: pipeline, bindGroup: bindGroup, descriptors: descriptors}
	m.Init(nil)
	return m
}

// DescriptorCount implements renderer.Material.
func (m *Material) DescriptorCount() uint32 { return m.descriptors }

// Pipeline returns the render pipeline.
func (m *Material) Pipeline() hal.RenderPipeline { return m.pipeline }
