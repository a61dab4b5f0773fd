package renderer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/descriptor"
	"github.com/gogpu/gpuframe/framealloc"
	"github.com/gogpu/gpuframe/internal/parallel"
)

// PassType selects a built-in render pass.
type PassType int

const (
	// PassForward draws every unit directly to its render targets.
	PassForward PassType = iota

	// PassDeferred gathers units into a geometry list grouped by material.
	PassDeferred
)

// String returns the string representation of PassType.
func (t PassType) String() string {
	switch t {
	case PassForward:
		return "Forward"
	case PassDeferred:
		return "Deferred"
	default:
		return fmt.Sprintf("PassType(%d)", int(t))
	}
}

// DrawCommand is the per-draw data a pass hands to the CommandRecorder.
// It lives in frame memory of the recording worker.
type DrawCommand struct {
	Frame    uint64
	Topology gputypes.PrimitiveTopology

	// Indexed reports whether Count counts indices rather than vertices.
	Indexed       bool
	Count         uint32
	InstanceCount uint32

	// DescriptorTable is the shader-visible descriptor range of the draw.
	// DescriptorCount is zero for materials without descriptors.
	DescriptorTable descriptor.Handle
	DescriptorCount uint32

	WorldViewProjection Matrix4
}

// passContext is what a pass sees of the frame being rendered.
type passContext struct {
	frame       uint64
	frameIndex  int
	units       []*Unit
	queue       *renderQueue
	descriptors *descriptor.Allocator
	frameAlloc  *framealloc.Allocator
	pool        *parallel.WorkerPool
	recorder    CommandRecorder

	// controlWorker is the frame allocator id of the render loop goroutine.
	controlWorker int
}

// passResult counts the draws of one pass.
type passResult struct {
	drawn   int
	skipped int
}

type renderPass interface {
	passType() PassType
	onAddUnit(u *Unit)
	// onQueueReleased is called before the units of q are released.
	onQueueReleased(q *renderQueue)
	apply(ctx *passContext) (passResult, error)
	onFrameEnd()
	reset()
}

func newRenderPass(t PassType) (renderPass, error) {
	switch t {
	case PassForward:
		return &forwardPass{}, nil
	case PassDeferred:
		return &deferredPass{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPass, t)
	}
}

// prepareDraw fills a DrawCommand for u. It reserves the material's
// descriptor table from the transient heap of the current frame and reports
// false when the draw has to be skipped.
func prepareDraw(ctx *passContext, cmd *DrawCommand, u *Unit) (bool, error) {
	count, indexed := u.drawCount()
	if count == 0 {
		return false, nil
	}
	cmd.Frame = ctx.frame
	cmd.Topology = u.topology
	cmd.Indexed = indexed
	cmd.Count = count
	cmd.InstanceCount = 1
	cmd.WorldViewProjection = u.matrices.Projection.Mul(u.matrices.View).Mul(u.matrices.Transform)

	if m := u.material; m != nil {
		if n := m.DescriptorCount(); n > 0 {
			table, err := ctx.descriptors.Allocate(descriptor.HeapTypeCBVSRVUAV, true, n, true)
			if err != nil {
				return false, err
			}
			cmd.DescriptorTable = table.GPUHandle()
			cmd.DescriptorCount = n
		}
	}
	return true, nil
}

// =============================================================================
// Forward pass
// =============================================================================

// forwardPass records every unit of the frame in parallel on the worker pool.
type forwardPass struct{}

func (*forwardPass) passType() PassType { return PassForward }
func (*forwardPass) onAddUnit(*Unit)              {}
func (*forwardPass) onQueueReleased(*renderQueue) {}
func (*forwardPass) onFrameEnd()                  {}
func (*forwardPass) reset()                       {}

func (p *forwardPass) apply(ctx *passContext) (passResult, error) {
	if len(ctx.units) == 0 {
		return passResult{}, nil
	}

	var drawn, skipped atomic.Int64
	var firstErr atomic.Pointer[error]
	ok := ctx.pool.ForEach(len(ctx.units), func(worker, i int) {
		u := ctx.units[i]
		cmd := framealloc.NewValue[DrawCommand](ctx.frameAlloc.Local(worker))
		ready, err := prepareDraw(ctx, cmd, u)
		if err != nil {
			firstErr.CompareAndSwap(nil, &err)
		}
		if !ready {
			skipped.Add(1)
			return
		}
		if ctx.recorder != nil {
			ctx.recorder.Draw(worker, u, cmd)
		}
		drawn.Add(1)
	})
	if !ok {
		return passResult{}, ErrNotStarted
	}

	res := passResult{drawn: int(drawn.Load()), skipped: int(skipped.Load())}
	if errp := firstErr.Load(); errp != nil {
		return res, fmt.Errorf("forward pass: %d of %d draws skipped: %w", res.skipped, len(ctx.units), *errp)
	}
	return res, nil
}

// =============================================================================
// Deferred pass
// =============================================================================

// deferredPass collects units as they are committed and, once per frame,
// resolves those belonging to the frame into a geometry list grouped by
// material. The geometry list is recorded on the render loop goroutine.
type deferredPass struct {
	mu      sync.Mutex
	pending []*Unit

	geometry []*Unit
	batches  int
}

func (*deferredPass) passType() PassType { return PassDeferred }

func (p *deferredPass) onAddUnit(u *Unit) {
	p.mu.Lock()
	p.pending = append(p.pending, u)
	p.mu.Unlock()
}

// onQueueReleased drops pending units of q that were never resolved.
func (p *deferredPass) onQueueReleased(q *renderQueue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keep := p.pending[:0]
	for _, u := range p.pending {
		if u.queue != q {
			keep = append(keep, u)
		}
	}
	clear(p.pending[len(keep):])
	p.pending = keep
}

func (p *deferredPass) apply(ctx *passContext) (passResult, error) {
	p.mu.Lock()
	keep := p.pending[:0]
	for _, u := range p.pending {
		if u.queue == ctx.queue {
			p.geometry = append(p.geometry, u)
		} else {
			keep = append(keep, u)
		}
	}
	clear(p.pending[len(keep):])
	p.pending = keep
	p.mu.Unlock()

	p.groupByMaterial()

	var res passResult
	var firstErr error
	local := ctx.frameAlloc.Local(ctx.controlWorker)
	for _, u := range p.geometry {
		cmd := framealloc.NewValue[DrawCommand](local)
		ready, err := prepareDraw(ctx, cmd, u)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !ready {
			res.skipped++
			continue
		}
		if ctx.recorder != nil {
			ctx.recorder.Draw(ctx.controlWorker, u, cmd)
		}
		res.drawn++
	}
	if firstErr != nil {
		return res, fmt.Errorf("deferred pass: %d of %d draws skipped: %w", res.skipped, len(p.geometry), firstErr)
	}
	return res, nil
}

// groupByMaterial stably reorders the geometry list so units sharing a
// material are adjacent, and counts the batches.
func (p *deferredPass) groupByMaterial() {
	if len(p.geometry) == 0 {
		p.batches = 0
		return
	}
	order := make(map[Material]int, 8)
	buckets := make([][]*Unit, 0, 8)
	for _, u := range p.geometry {
		i, ok := order[u.material]
		if !ok {
			i = len(buckets)
			order[u.material] = i
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], u)
	}
	p.geometry = p.geometry[:0]
	for _, b := range buckets {
		p.geometry = append(p.geometry, b...)
	}
	p.batches = len(buckets)
}

func (p *deferredPass) onFrameEnd() {
	clear(p.geometry)
	p.geometry = p.geometry[:0]
}

func (p *deferredPass) reset() {
	p.mu.Lock()
	clear(p.pending)
	p.pending = p.pending[:0]
	p.mu.Unlock()
	p.onFrameEnd()
	p.batches = 0
}

// controlWorkerID returns the frame allocator id used by the render loop,
// one past the pool's workers.
func controlWorkerID(pool *parallel.WorkerPool) int {
	return pool.Workers()
}

// logSkipped reports a degraded pass.
func logSkipped(t PassType, frame uint64, res passResult, err error) {
	gpuframe.Logger().Warn("renderer: render pass degraded",
		"pass", t, "frame", frame, "drawn", res.drawn, "skipped", res.skipped, "err", err)
}
