package renderer

import (
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/framealloc"
)

// unitMatrices lives in frame memory.
type unitMatrices struct {
	Transform  Matrix4
	View       Matrix4
	Projection Matrix4
}

// Unit is an immutable snapshot of a RenderUnit.
//
// The header comes from a pool and holds one reference per resource. Plain
// data (matrices, viewports) lives in the committing worker's frame memory
// and stays valid until the frame that rendered the unit is released.
type Unit struct {
	topology gputypes.PrimitiveTopology

	indexBuffer       IndexBuffer
	vertexBuffers     [gpuframe.MaxGeometryBufferCount]VertexBuffer
	vertexBufferCount int

	material Material

	renderTargets     [gpuframe.MaxRenderTargetCount]RenderTarget
	renderTargetCount int
	depthStencil      DepthStencilBuffer

	matrices  *unitMatrices
	viewports []ViewportScissor

	queue  *renderQueue
	worker int
}

var unitPool = sync.Pool{
	New: func() any { return new(Unit) },
}

// commitDefaults are the values resolved for state the builder left unset.
type commitDefaults struct {
	renderTarget RenderTarget
	depthStencil DepthStencilBuffer
	width        uint32
	height       uint32
}

// commit freezes u into a pooled Unit allocated from local.
func (u *RenderUnit) commit(local *framealloc.Local, d commitDefaults) *Unit {
	out := unitPool.Get().(*Unit)
	out.topology = u.topology
	out.worker = local.Worker()

	if u.indexBuffer != nil {
		u.indexBuffer.AddRef()
		out.indexBuffer = u.indexBuffer
	}
	for slot, vb := range u.vertexBuffers {
		if vb != nil {
			vb.AddRef()
			out.vertexBuffers[slot] = vb
			out.vertexBufferCount++
		}
	}
	if u.material != nil {
		u.material.AddRef()
		out.material = u.material
	}

	if len(u.renderTargets) > 0 {
		for i, rt := range u.renderTargets {
			rt.AddRef()
			out.renderTargets[i] = rt
		}
		out.renderTargetCount = len(u.renderTargets)
	} else if d.renderTarget != nil {
		d.renderTarget.AddRef()
		out.renderTargets[0] = d.renderTarget
		out.renderTargetCount = 1
	}

	ds := d.depthStencil
	if u.customDepthStencil {
		ds = u.depthStencil
	}
	if ds != nil {
		ds.AddRef()
		out.depthStencil = ds
	}

	m := framealloc.NewValue[unitMatrices](local)
	m.Transform = u.transform
	m.View = u.view
	m.Projection = u.projection
	out.matrices = m

	if len(u.viewports) > 0 {
		out.viewports = framealloc.Copy(local, u.viewports)
	} else {
		vs := framealloc.Alloc[ViewportScissor](local, 1)
		vs[0] = FullViewport(d.width, d.height)
		out.viewports = vs
	}
	return out
}

// PrimitiveTopology returns the primitive topology.
func (u *Unit) PrimitiveTopology() gputypes.PrimitiveTopology { return u.topology }

// IndexBuffer returns the index buffer or nil.
func (u *Unit) IndexBuffer() IndexBuffer { return u.indexBuffer }

// VertexBuffer returns the buffer bound to slot or nil.
func (u *Unit) VertexBuffer(slot int) VertexBuffer {
	if slot < 0 || slot >= gpuframe.MaxGeometryBufferCount {
		return nil
	}
	return u.vertexBuffers[slot]
}

// VertexBufferCount returns the number of bound vertex buffers.
func (u *Unit) VertexBufferCount() int { return u.vertexBufferCount }

// Material returns the material or nil.
func (u *Unit) Material() Material { return u.material }

// Transform returns the world matrix.
func (u *Unit) Transform() Matrix4 { return u.matrices.Transform }

// ViewMatrix returns the view matrix.
func (u *Unit) ViewMatrix() Matrix4 { return u.matrices.View }

// ProjectionMatrix returns the projection matrix.
func (u *Unit) ProjectionMatrix() Matrix4 { return u.matrices.Projection }

// RenderTargetCount returns the number of render targets.
func (u *Unit) RenderTargetCount() int { return u.renderTargetCount }

// RenderTarget returns the i-th render target.
func (u *Unit) RenderTarget(i int) RenderTarget {
	if i < 0 || i >= u.renderTargetCount {
		return nil
	}
	return u.renderTargets[i]
}

// DepthStencilBuffer returns the depth-stencil buffer or nil.
func (u *Unit) DepthStencilBuffer() DepthStencilBuffer { return u.depthStencil }

// ViewportCount returns the number of viewports.
func (u *Unit) ViewportCount() int { return len(u.viewports) }

// Viewport returns the i-th viewport and scissor rectangle.
func (u *Unit) Viewport(i int) ViewportScissor { return u.viewports[i] }

// Worker returns the id of the worker whose frame memory holds the unit's data.
func (u *Unit) Worker() int { return u.worker }

// drawCount returns the number of indices, or vertices for non-indexed
// units, a draw of u consumes.
func (u *Unit) drawCount() (count uint32, indexed bool) {
	if u.indexBuffer != nil {
		return u.indexBuffer.IndexCount(), true
	}
	for _, vb := range u.vertexBuffers {
		if vb != nil {
			return vb.VertexCount(), false
		}
	}
	return 0, false
}

// release drops every reference and returns the header to the pool.
func (u *Unit) release() {
	if u.indexBuffer != nil {
		u.indexBuffer.Release()
	}
	for _, vb := range u.vertexBuffers {
		if vb != nil {
			vb.Release()
		}
	}
	if u.material != nil {
		u.material.Release()
	}
	for _, rt := range u.renderTargets[:u.renderTargetCount] {
		rt.Release()
	}
	if u.depthStencil != nil {
		u.depthStencil.Release()
	}
	*u = Unit{}
	unitPool.Put(u)
}
