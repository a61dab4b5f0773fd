package simgpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe/renderer"
)

// RecorderStats counts recorded commands.
type RecorderStats struct {
	Draws        uint64
	IndexedDraws uint64
	Primitives   uint64
	Descriptors  uint64
	ColorClears  uint64
	DepthClears  uint64
	LastFrame    uint64
}

// String returns a human-readable summary of the stats.
func (s RecorderStats) String() string {
	return fmt.Sprintf("Recorder[draws=%d indexed=%d primitives=%d descriptors=%d clears=%d/%d frame=%d]",
		s.Draws, s.IndexedDraws, s.Primitives, s.Descriptors, s.ColorClears, s.DepthClears, s.LastFrame)
}

// Recorder counts commands instead of encoding them.
type Recorder struct {
	draws        atomic.Uint64
	indexedDraws atomic.Uint64
	primitives   atomic.Uint64
	descriptors  atomic.Uint64
	colorClears  atomic.Uint64
	depthClears  atomic.Uint64
	lastFrame    atomic.Uint64
}

// ClearRenderTarget implements renderer.CommandRecorder.
func (r *Recorder) ClearRenderTarget(renderer.RenderTarget, gputypes.Color) {
	r.colorClears.Add(1)
}

// ClearDepthStencil implements renderer.CommandRecorder.
func (r *Recorder) ClearDepthStencil(renderer.DepthStencilBuffer) {
	r.depthClears.Add(1)
}

// Draw implements renderer.CommandRecorder.
func (r *Recorder) Draw(_ int, _ *renderer.Unit, cmd *renderer.DrawCommand) {
	r.draws.Add(1)
	if cmd.Indexed {
		r.indexedDraws.Add(1)
	}
	r.primitives.Add(uint64(primitiveCount(cmd.Topology, cmd.Count)))
	r.descriptors.Add(uint64(cmd.DescriptorCount))
	for {
		last := r.lastFrame.Load()
		if cmd.Frame <= last || r.lastFrame.CompareAndSwap(last, cmd.Frame) {
			break
		}
	}
}

// Stats returns the recorded counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Draws:        r.draws.Load(),
		IndexedDraws: r.indexedDraws.Load(),
		Primitives:   r.primitives.Load(),
		Descriptors:  r.descriptors.Load(),
		ColorClears:  r.colorClears.Load(),
		DepthClears:  r.depthClears.Load(),
		LastFrame:    r.lastFrame.Load(),
	}
}

// primitiveCount returns the primitives n vertices assemble into.
func primitiveCount(t gputypes.PrimitiveTopology, n uint32) uint32 {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return n
	case gputypes.PrimitiveTopologyLineList:
		return n / 2
	case gputypes.PrimitiveTopologyLineStrip:
		return max(n, 1) - 1
	case gputypes.PrimitiveTopologyTriangleStrip:
		return max(n, 2) - 2
	default:
		return n / 3
	}
}
