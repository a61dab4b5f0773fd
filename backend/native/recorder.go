// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/renderer"
)

// RecorderStats counts what the recorder has encoded.
type RecorderStats struct {
	Submissions  uint64
	RenderPasses uint64
	Draws        uint64
	// Unbound counts draws dropped because their material has no pipeline
	// or their targets are not native textures.
	Unbound uint64
	Clears  uint64
}

// String returns a human-readable summary of the stats.
func (s RecorderStats) String() string {
	return fmt.Sprintf("Recorder[submissions=%d passes=%d draws=%d unbound=%d clears=%d]",
		s.Submissions, s.RenderPasses, s.Draws, s.Unbound, s.Clears)
}

// drawOp is a draw recorded by a worker. The unit stays valid until the
// frame that drew it retires, which is after it has been encoded.
type drawOp struct {
	unit *renderer.Unit
	cmd  renderer.DrawCommand
}

type workerLog struct {
	mu    sync.Mutex
	draws []drawOp
}

type colorClear struct {
	target *Texture
	color  gputypes.Color
}

type depthClear struct {
	target  *Texture
	depth   float32
	stencil uint8
}

// attachments identifies the targets of a render pass.
type attachments struct {
	colors [gpuframe.MaxRenderTargetCount]*Texture
	count  int
	depth  *Texture
}

type passBuild struct {
	key         attachments
	clearColors [gpuframe.MaxRenderTargetCount]*gputypes.Color
	clearDepth  *depthClear
	draws       []drawOp
}

// Recorder implements renderer.CommandRecorder. Draws are collected per
// worker without contention and encoded into render passes when the
// frame is submitted.
type Recorder struct {
	dev *Device

	mu          sync.Mutex
	workers     []*workerLog
	colorClears []colorClear
	depthClears []depthClear
	stats       RecorderStats
}

func newRecorder(dev *Device) *Recorder {
	return &Recorder{dev: dev}
}

func (r *Recorder) log(worker int) *workerLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.workers) <= worker {
		r.workers = append(r.workers, &workerLog{})
	}
	return r.workers[worker]
}

// ClearRenderTarget records a clear of rt.
func (r *Recorder) ClearRenderTarget(rt renderer.RenderTarget, c gputypes.Color) {
	tex := textureOf(rt)
	if tex == nil {
		return
	}
	r.mu.Lock()
	r.colorClears = append(r.colorClears, colorClear{target: tex, color: c})
	r.mu.Unlock()
}

// ClearDepthStencil records a clear of ds to its clear values.
func (r *Recorder) ClearDepthStencil(ds renderer.DepthStencilBuffer) {
	tex := textureOf(ds)
	if tex == nil {
		return
	}
	r.mu.Lock()
	r.depthClears = append(r.depthClears, depthClear{
		target: tex, depth: ds.DepthClearValue(), stencil: ds.StencilClearValue(),
	})
	r.mu.Unlock()
}

// Draw records a draw of u. It is safe for concurrent use with distinct
// worker ids.
func (r *Recorder) Draw(worker int, u *renderer.Unit, cmd *renderer.DrawCommand) {
	l := r.log(worker)
	l.mu.Lock()
	l.draws = append(l.draws, drawOp{unit: u, cmd: *cmd})
	l.mu.Unlock()
}

// Stats returns the encoding counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Pending returns the number of draws recorded and not yet encoded.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	workers := r.workers
	r.mu.Unlock()
	n := 0
	for _, l := range workers {
		l.mu.Lock()
		n += len(l.draws)
		l.mu.Unlock()
	}
	return n
}

// take drains everything recorded so far, draws in worker order.
func (r *Recorder) take() ([]drawOp, []colorClear, []depthClear) {
	r.mu.Lock()
	workers := r.workers
	colors, depths := r.colorClears, r.depthClears
	r.colorClears, r.depthClears = nil, nil
	r.mu.Unlock()

	var draws []drawOp
	for _, l := range workers {
		l.mu.Lock()
		draws = append(draws, l.draws...)
		clear(l.draws)
		l.draws = l.draws[:0]
		l.mu.Unlock()
	}
	return draws, colors, depths
}

// encode writes the recorded work into enc, one render pass per distinct
// set of attachments.
func (r *Recorder) encode(enc hal.CommandEncoder) {
	draws, colors, depths := r.take()
	passes := buildPasses(draws, colors, depths)

	var drawn uint64
	for _, p := range passes {
		drawn += encodePass(enc, p)
	}

	r.mu.Lock()
	r.stats.Submissions++
	r.stats.RenderPasses += uint64(len(passes))
	r.stats.Draws += drawn
	r.stats.Unbound += uint64(len(draws)) - drawn
	r.stats.Clears += uint64(len(colors) + len(depths))
	r.mu.Unlock()
}

// buildPasses groups draws by attachments in first-use order and attaches
// each clear to the first pass writing its target. Draws whose targets are
// not native textures are dropped.
func buildPasses(draws []drawOp, colors []colorClear, depths []depthClear) []*passBuild {
	var passes []*passBuild
	index := make(map[attachments]*passBuild)

	for _, d := range draws {
		key, ok := attachmentsOf(d.unit)
		if !ok {
			continue
		}
		p := index[key]
		if p == nil {
			p = &passBuild{key: key}
			index[key] = p
			passes = append(passes, p)
		}
		p.draws = append(p.draws, d)
	}

	for i := range colors {
		c := &colors[i]
		if !markColorClear(passes, c) {
			p := &passBuild{key: attachments{count: 1}}
			p.key.colors[0] = c.target
			p.clearColors[0] = &c.color
			passes = append(passes, p)
		}
	}
	for i := range depths {
		dc := &depths[i]
		found := false
		for _, p := range passes {
			if p.key.depth == dc.target && p.clearDepth == nil {
				p.clearDepth = dc
				found = true
				break
			}
		}
		if !found {
			passes = append(passes, &passBuild{key: attachments{depth: dc.target}, clearDepth: dc})
		}
	}
	return passes
}

// markColorClear sets the clear of the first pass writing c.target.
func markColorClear(passes []*passBuild, c *colorClear) bool {
	for _, p := range passes {
		for i := range p.key.count {
			if p.key.colors[i] == c.target && p.clearColors[i] == nil {
				p.clearColors[i] = &c.color
				return true
			}
		}
	}
	return false
}

func attachmentsOf(u *renderer.Unit) (attachments, bool) {
	var key attachments
	for i := range u.RenderTargetCount() {
		tex := textureOf(u.RenderTarget(i))
		if tex == nil {
			return key, false
		}
		key.colors[i] = tex
		key.count++
	}
	if ds := u.DepthStencilBuffer(); ds != nil {
		key.depth = textureOf(ds)
		if key.depth == nil {
			return key, false
		}
	}
	return key, key.count > 0 || key.depth != nil
}

func encodePass(enc hal.CommandEncoder, p *passBuild) uint64 {
	desc := &hal.RenderPassDescriptor{Label: "gpuframe pass"}
	for i := range p.key.count {
		att := hal.RenderPassColorAttachment{
			View:    p.key.colors[i].view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}
		if c := p.clearColors[i]; c != nil {
			att.LoadOp = gputypes.LoadOpClear
			att.ClearValue = *c
		}
		desc.ColorAttachments = append(desc.ColorAttachments, att)
	}
	if p.key.depth != nil {
		att := &hal.RenderPassDepthStencilAttachment{
			View:           p.key.depth.view,
			DepthLoadOp:    gputypes.LoadOpLoad,
			DepthStoreOp:   gputypes.StoreOpStore,
			StencilLoadOp:  gputypes.LoadOpLoad,
			StencilStoreOp: gputypes.StoreOpStore,
		}
		if dc := p.clearDepth; dc != nil {
			att.DepthLoadOp = gputypes.LoadOpClear
			att.StencilLoadOp = gputypes.LoadOpClear
			att.DepthClearValue = dc.depth
			att.StencilClearValue = uint32(dc.stencil)
		}
		desc.DepthStencilAttachment = att
	}

	pass := enc.BeginRenderPass(desc)
	defer pass.End()

	var drawn uint64
	for _, d := range p.draws {
		if encodeDraw(pass, d) {
			drawn++
		}
	}
	return drawn
}

func encodeDraw(pass hal.RenderPassEncoder, d drawOp) bool {
	u := d.unit
	m, ok := u.Material().(*Material)
	if !ok || m.pipeline == nil {
		return false
	}
	pass.SetPipeline(m.pipeline)
	if m.bindGroup != nil {
		pass.SetBindGroup(0, m.bindGroup, nil)
	}
	for slot := range gpuframe.MaxGeometryBufferCount {
		if b, ok := u.VertexBuffer(slot).(*Buffer); ok {
			pass.SetVertexBuffer(uint32(slot), b.buf, 0)
		}
	}
	if u.ViewportCount() > 0 {
		vs := u.Viewport(0)
		v := vs.Viewport
		pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
		s := vs.Scissor
		pass.SetScissorRect(uint32(max(s.X, 0)), uint32(max(s.Y, 0)), uint32(max(s.Width, 0)), uint32(max(s.Height, 0)))
	}
	if d.cmd.Indexed {
		ib, ok := u.IndexBuffer().(*Buffer)
		if !ok {
			return false
		}
		pass.SetIndexBuffer(ib.buf, ib.indexFormat, 0)
		pass.DrawIndexed(d.cmd.Count, d.cmd.InstanceCount, 0, 0, 0)
		return true
	}
	pass.Draw(d.cmd.Count, d.cmd.InstanceCount, 0, 0)
	return true
}

// textureOf returns the native texture behind a target, or nil.
func textureOf(r any) *Texture {
	switch t := r.(type) {
	case *Texture:
		return t
	case *DepthStencilBuffer:
		return t.Texture
	default:
		return nil
	}
}
