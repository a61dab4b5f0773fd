package renderer

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
)

// Resource is a reference counted GPU object. A render unit holds one
// reference on every resource it points to.
type Resource interface {
	AddRef()
	Release()
}

// RefCount is an embeddable atomic reference count.
//
// A RefCount starts with one reference once Init is called. The destroy
// callback runs when the last reference is released.
type RefCount struct {
	refs    atomic.Int64
	destroy func()
}

// Init sets the count to one and registers the destroy callback.
func (r *RefCount) Init(destroy func()) {
	r.refs.Store(1)
	r.destroy = destroy
}

// AddRef adds a reference.
func (r *RefCount) AddRef() {
	if r.refs.Add(1) <= 1 {
		panic(errors.AssertionFailedf("renderer: AddRef on a released resource"))
	}
}

// Release drops a reference and destroys the resource when none remain.
func (r *RefCount) Release() {
	switch n := r.refs.Add(-1); {
	case n == 0:
		if r.destroy != nil {
			r.destroy()
		}
	case n < 0:
		panic(errors.AssertionFailedf("renderer: Release on a released resource"))
	}
}

// Refs returns the current number of references.
func (r *RefCount) Refs() int64 { return r.refs.Load() }

// VertexBuffer is a GPU buffer of vertices.
type VertexBuffer interface {
	Resource
	VertexCount() uint32
	Stride() uint32
}

// IndexBuffer is a GPU buffer of indices.
type IndexBuffer interface {
	Resource
	IndexCount() uint32
	IndexFormat() gputypes.IndexFormat
}

// Material binds shaders and their resources. DescriptorCount is the size
// of the shader-visible descriptor table a draw with the material needs.
type Material interface {
	Resource
	DescriptorCount() uint32
}

// RenderTarget is a color attachment.
type RenderTarget interface {
	Resource
	Format() gputypes.TextureFormat
}

// DepthStencilBuffer is a depth-stencil attachment.
type DepthStencilBuffer interface {
	Resource
	Format() gputypes.TextureFormat
	DepthClearValue() float32
	StencilClearValue() uint8
}

// Matrix4 is a column-major 4x4 matrix.
type Matrix4 [16]float32

// Identity returns the identity matrix.
func Identity() Matrix4 {
	return Matrix4{0: 1, 5: 1, 10: 1, 15: 1}
}

// Mul returns m * n.
func (m Matrix4) Mul(n Matrix4) Matrix4 {
	var out Matrix4
	for col := range 4 {
		for row := range 4 {
			var sum float32
			for k := range 4 {
				sum += m[k*4+row] * n[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// Viewport is the rectangle and depth range primitives are mapped to.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// ScissorRect clips rasterization to a rectangle in pixels.
type ScissorRect struct {
	X, Y          int32
	Width, Height int32
}

// ViewportScissor pairs a viewport with its scissor rectangle.
type ViewportScissor struct {
	Viewport Viewport
	Scissor  ScissorRect
}

// FullViewport returns a viewport and scissor covering width x height pixels.
func FullViewport(width, height uint32) ViewportScissor {
	return ViewportScissor{
		Viewport: Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1},
		Scissor:  ScissorRect{Width: int32(width), Height: int32(height)},
	}
}
