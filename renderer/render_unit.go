package renderer

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe"
)

// RenderUnit accumulates the state of one draw. It holds a reference on
// every resource set on it until the resource is replaced or Reset is called.
//
// A RenderUnit is not safe for concurrent use. Commit it with
// Renderer.CommitRenderUnit to obtain an immutable Unit.
type RenderUnit struct {
	topology      gputypes.PrimitiveTopology
	indexBuffer   IndexBuffer
	vertexBuffers [gpuframe.MaxGeometryBufferCount]VertexBuffer
	material      Material

	transform  Matrix4
	view       Matrix4
	projection Matrix4

	renderTargets      []RenderTarget
	depthStencil       DepthStencilBuffer
	customDepthStencil bool
	viewports          []ViewportScissor
}

// NewRenderUnit returns an empty unit with identity matrices.
func NewRenderUnit() *RenderUnit {
	u := &RenderUnit{}
	u.resetMatrices()
	return u
}

func (u *RenderUnit) resetMatrices() {
	u.transform = Identity()
	u.view = Identity()
	u.projection = Identity()
}

// SetPrimitiveTopology sets how vertices are assembled.
func (u *RenderUnit) SetPrimitiveTopology(t gputypes.PrimitiveTopology) { u.topology = t }

// PrimitiveTopology returns the primitive topology.
func (u *RenderUnit) PrimitiveTopology() gputypes.PrimitiveTopology { return u.topology }

// SetIndexBuffer sets or, with nil, clears the index buffer.
func (u *RenderUnit) SetIndexBuffer(ib IndexBuffer) {
	if ib != nil {
		ib.AddRef()
	}
	if u.indexBuffer != nil {
		u.indexBuffer.Release()
	}
	u.indexBuffer = ib
}

// IndexBuffer returns the index buffer or nil.
func (u *RenderUnit) IndexBuffer() IndexBuffer { return u.indexBuffer }

// SetVertexBuffer binds vb to slot. A nil vb unbinds the slot.
func (u *RenderUnit) SetVertexBuffer(slot int, vb VertexBuffer) error {
	if slot < 0 || slot >= gpuframe.MaxGeometryBufferCount {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, slot)
	}
	if vb != nil {
		vb.AddRef()
	}
	if old := u.vertexBuffers[slot]; old != nil {
		old.Release()
	}
	u.vertexBuffers[slot] = vb
	return nil
}

// VertexBuffer returns the buffer bound to slot or nil.
func (u *RenderUnit) VertexBuffer(slot int) VertexBuffer {
	if slot < 0 || slot >= gpuframe.MaxGeometryBufferCount {
		return nil
	}
	return u.vertexBuffers[slot]
}

// ClearVertexBuffers unbinds every vertex buffer.
func (u *RenderUnit) ClearVertexBuffers() {
	for i, vb := range u.vertexBuffers {
		if vb != nil {
			vb.Release()
			u.vertexBuffers[i] = nil
		}
	}
}

// SetMaterial sets or, with nil, clears the material.
func (u *RenderUnit) SetMaterial(m Material) {
	if m != nil {
		m.AddRef()
	}
	if u.material != nil {
		u.material.Release()
	}
	u.material = m
}

// Material returns the material or nil.
func (u *RenderUnit) Material() Material { return u.material }

// SetTransform sets the world matrix.
func (u *RenderUnit) SetTransform(m Matrix4) { u.transform = m }

// SetViewMatrix sets the view matrix.
func (u *RenderUnit) SetViewMatrix(m Matrix4) { u.view = m }

// SetProjectionMatrix sets the projection matrix.
func (u *RenderUnit) SetProjectionMatrix(m Matrix4) { u.projection = m }

// AddRenderTarget appends a custom render target. Units without custom
// render targets draw to the swap chain's current back buffer.
func (u *RenderUnit) AddRenderTarget(rt RenderTarget) error {
	if rt == nil {
		return ErrNilResource
	}
	if slices.Contains(u.renderTargets, rt) {
		return ErrDuplicateRenderTarget
	}
	if len(u.renderTargets) >= gpuframe.MaxRenderTargetCount {
		return fmt.Errorf("%w: limit is %d", ErrTooManyRenderTargets, gpuframe.MaxRenderTargetCount)
	}
	rt.AddRef()
	u.renderTargets = append(u.renderTargets, rt)
	return nil
}

// RemoveRenderTarget removes rt if present.
func (u *RenderUnit) RemoveRenderTarget(rt RenderTarget) {
	if i := slices.Index(u.renderTargets, rt); i >= 0 {
		rt.Release()
		u.renderTargets = slices.Delete(u.renderTargets, i, i+1)
	}
}

// RenderTargetCount returns the number of custom render targets.
func (u *RenderUnit) RenderTargetCount() int { return len(u.renderTargets) }

// ClearRenderTargets removes every custom render target.
func (u *RenderUnit) ClearRenderTargets() {
	for _, rt := range u.renderTargets {
		rt.Release()
	}
	clear(u.renderTargets)
	u.renderTargets = u.renderTargets[:0]
}

// SetDepthStencilBuffer sets a custom depth-stencil buffer. Setting nil
// explicitly disables depth testing; call ResetDepthStencilBuffer to go back
// to the renderer's default buffer.
func (u *RenderUnit) SetDepthStencilBuffer(ds DepthStencilBuffer) {
	if ds != nil {
		ds.AddRef()
	}
	if u.depthStencil != nil {
		u.depthStencil.Release()
	}
	u.depthStencil = ds
	u.customDepthStencil = true
}

// ResetDepthStencilBuffer goes back to the default depth-stencil buffer.
func (u *RenderUnit) ResetDepthStencilBuffer() {
	if u.depthStencil != nil {
		u.depthStencil.Release()
	}
	u.depthStencil = nil
	u.customDepthStencil = false
}

// AddViewport appends a viewport and scissor rectangle. Units without
// viewports use one covering the whole window.
func (u *RenderUnit) AddViewport(vs ViewportScissor) {
	u.viewports = append(u.viewports, vs)
}

// ClearViewports removes every custom viewport.
func (u *RenderUnit) ClearViewports() {
	u.viewports = u.viewports[:0]
}

// Reset releases every resource and restores the initial state. The unit
// can then be reused for another draw.
func (u *RenderUnit) Reset() {
	u.SetIndexBuffer(nil)
	u.SetMaterial(nil)
	u.ClearVertexBuffers()
	u.ClearRenderTargets()
	u.ResetDepthStencilBuffer()
	u.ClearViewports()
	u.topology = gputypes.PrimitiveTopologyTriangleList
	u.resetMatrices()
}
