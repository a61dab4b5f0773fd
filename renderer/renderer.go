package renderer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"go.uber.org/multierr"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/descriptor"
	"github.com/gogpu/gpuframe/framealloc"
	"github.com/gogpu/gpuframe/internal/parallel"
)

// FrameStats describes the last rendered frame.
type FrameStats struct {
	Frame      uint64
	FrameIndex int
	Units      int
	Draws      int
	Skipped    int
	Duration   time.Duration
}

// String returns a human-readable summary of the stats.
func (s FrameStats) String() string {
	return fmt.Sprintf("Frame[%d slot=%d units=%d draws=%d skipped=%d %v]",
		s.Frame, s.FrameIndex, s.Units, s.Draws, s.Skipped, s.Duration)
}

// Renderer drives the frame cycle. It owns the descriptor allocator, the
// frame memory allocator, the recording workers and the frame resource slots.
//
// Render, Start and ShutDown must be called from one goroutine.
// CommitRenderUnit and the accessors may be called from any goroutine while
// the renderer is started.
type Renderer struct {
	device   Device
	swap     SwapChain
	recorder CommandRecorder
	opts     options

	mu            sync.Mutex // serializes Start, Render and ShutDown
	descriptors   *descriptor.Allocator
	frameAlloc    *framealloc.Allocator
	pool          *parallel.WorkerPool
	controlWorker int
	frames        [gpuframe.FrameCount]frameResource
	queues        [gpuframe.FrameCount + 1]renderQueue
	freeQueues    []*renderQueue // neither current nor attached to a slot

	started    atomic.Bool
	current    atomic.Pointer[renderQueue]
	frame      atomic.Uint64
	frameIndex atomic.Int32
	inFrame    atomic.Bool

	passMu sync.Mutex
	passes atomic.Pointer[[]renderPass]

	cbMu      sync.Mutex
	callbacks [numEvents][]Callback

	statsMu    sync.Mutex
	clearColor gputypes.Color
	lastStats  FrameStats
}

// New creates a renderer for device and swapChain. Nothing is allocated on
// the device until Start.
func New(device Device, swapChain SwapChain, opts ...Option) *Renderer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Renderer{
		device:     device,
		swap:       swapChain,
		opts:       o,
		clearColor: o.clearColor,
	}
	if rp, ok := device.(RecorderProvider); ok {
		r.recorder = rp.CommandRecorder()
	}
	r.passes.Store(&[]renderPass{})
	return r
}

// Start creates the frame resources and the recording workers. Calling
// Start on a started renderer does nothing.
func (r *Renderer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.Load() {
		return nil
	}
	index, err := r.backBufferIndex()
	if err != nil {
		return err
	}

	var allocOpts []descriptor.Option
	allocOpts = append(allocOpts, descriptor.WithFrameIndexer(r))
	if r.opts.allocUnit > 0 {
		allocOpts = append(allocOpts, descriptor.WithAllocUnit(r.opts.allocUnit))
	}
	r.descriptors = descriptor.NewAllocator(r.device, allocOpts...)

	var ringOpts []framealloc.Option
	if r.opts.minRingSize > 0 {
		ringOpts = append(ringOpts, framealloc.WithMinRingSize(r.opts.minRingSize))
	}
	r.frameAlloc = framealloc.New(ringOpts...)

	for i := range r.frames {
		if err := r.initFrameResource(i); err != nil {
			cleanupErr := r.destroyFrameResources()
			r.descriptors.Clear()
			cleanupErr = multierr.Append(cleanupErr, r.frameAlloc.Close())
			gpuframe.Logger().Error("renderer: start failed", "slot", i, "err", err)
			return multierr.Append(err, cleanupErr)
		}
	}

	r.pool = parallel.NewWorkerPool(r.opts.workers)
	r.controlWorker = controlWorkerID(r.pool)

	r.freeQueues = r.freeQueues[:0]
	for i := range len(r.queues) - 1 {
		r.freeQueues = append(r.freeQueues, &r.queues[i])
	}
	r.current.Store(&r.queues[len(r.queues)-1])
	r.frameIndex.Store(int32(index))
	r.frame.Store(0)

	if r.opts.defaultPass && len(*r.passes.Load()) == 0 {
		if err := r.AddRenderPass(PassForward); err != nil {
			return err
		}
	}
	for _, p := range *r.passes.Load() {
		p.reset()
	}

	r.started.Store(true)
	gpuframe.Logger().Info("renderer: started",
		"frames", gpuframe.FrameCount, "workers", r.pool.Workers(),
		"width", r.opts.width, "height", r.opts.height)
	return nil
}

func (r *Renderer) initFrameResource(i int) error {
	slot := &r.frames[i]

	fence, err := r.device.CreateFence()
	if err != nil {
		return fmt.Errorf("renderer: create fence for slot %d: %w", i, err)
	}
	slot.fence = fence

	if !r.opts.depthFormat.IsDepthStencil() {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, r.opts.depthFormat)
	}
	ds, err := r.device.CreateDepthStencilBuffer(r.opts.width, r.opts.height, r.opts.depthFormat)
	if err != nil {
		return fmt.Errorf("renderer: create depth-stencil buffer for slot %d: %w", i, err)
	}
	slot.depthStencil = ds

	dsv, err := r.descriptors.Allocate(descriptor.HeapTypeDSV, false, 1, false)
	if err != nil {
		return fmt.Errorf("renderer: depth-stencil view for slot %d: %w", i, err)
	}
	slot.dsv = dsv
	slot.frame = 0
	slot.queue = nil
	slot.setState(SlotIdle)
	return nil
}

// destroyFrameResources releases every slot. The GPU must be idle.
func (r *Renderer) destroyFrameResources() error {
	var err error
	for i := range r.frames {
		slot := &r.frames[i]
		slot.releaseQueue()
		slot.queue = nil
		if slot.dsv != nil {
			err = multierr.Append(err, r.descriptors.Deallocate(slot.dsv))
			slot.dsv = nil
		}
		if slot.depthStencil != nil {
			slot.depthStencil.Release()
			slot.depthStencil = nil
		}
		if slot.fence != nil {
			slot.fence.Release()
			slot.fence = nil
		}
		slot.frame = 0
		slot.setState(SlotIdle)
	}
	return err
}

func (r *Renderer) backBufferIndex() (int, error) {
	index := r.swap.CurrentBackBufferIndex()
	if index < 0 || index >= gpuframe.FrameCount {
		return 0, errors.AssertionFailedf("renderer: back buffer index %d outside [0, %d)", index, gpuframe.FrameCount)
	}
	return index, nil
}

// ShutDown waits for the GPU to finish every frame in flight and releases
// all resources. Errors from the fences and the allocators are combined.
// Calling ShutDown on a stopped renderer does nothing.
func (r *Renderer) ShutDown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started.Load() {
		return nil
	}
	r.started.Store(false)

	var err error

	// Bump every fence past its last value so the waits below cover all
	// submitted work, including slots that were never used.
	for i := range r.frames {
		f := r.frames[i].fence
		err = multierr.Append(err, f.SetTargetValue(f.TargetValue()+1))
	}
	for i := range r.frames {
		slot := &r.frames[i]
		if werr := slot.fence.WaitForTarget(); werr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: drain slot %d: %w", ErrDeviceLost, i, werr))
			continue
		}
		r.frameAlloc.ReleaseFramesBefore(slot.frame)
		slot.setState(SlotRetired)
	}

	r.pool.Close()

	for _, p := range *r.passes.Load() {
		p.reset()
	}
	err = multierr.Append(err, r.destroyFrameResources())
	pending := 0
	for i := range r.queues {
		pending += r.queues[i].release()
	}
	r.current.Store(nil)

	r.descriptors.Clear()
	err = multierr.Append(err, r.frameAlloc.Close())

	gpuframe.Logger().Info("renderer: shut down",
		"frame", r.frame.Load(), "droppedUnits", pending, "err", err)
	return err
}

// Render runs one frame cycle.
//
// It blocks until the GPU has finished the frame that last used the slot
// about to be reused. Render pass failures degrade the frame and are
// logged. An error wrapping ErrDeviceLost means the GPU stopped responding
// and the renderer must be shut down.
func (r *Renderer) Render() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started.Load() {
		return ErrNotStarted
	}
	start := time.Now()

	index := int(r.frameIndex.Load())
	slot := &r.frames[index]
	if err := r.retire(index); err != nil {
		return err
	}

	frame := r.frame.Add(1)
	queue := r.current.Load()
	slot.queue = queue

	// Frame memory allocated from here on, including units committed by
	// callbacks for the next frame, is retained until the next frame retires.
	r.frameAlloc.FinishFrame(frame)

	next, err := r.popFreeQueue()
	if err != nil {
		return err
	}
	r.current.Store(next)

	r.inFrame.Store(true)
	r.fire(EventFrameBegin)
	r.clearTargets(slot)
	r.fire(EventFrameUpdate)
	stats := r.applyPasses(frame, index, queue)
	r.fire(EventFrameEnd)
	for _, p := range *r.passes.Load() {
		p.onFrameEnd()
	}
	r.inFrame.Store(false)

	slot.frame = frame
	if err := slot.fence.SetTargetValue(frame); err != nil {
		gpuframe.Logger().Error("renderer: submit failed", "frame", frame, "err", err)
		return fmt.Errorf("%w: submit frame %d: %w", ErrDeviceLost, frame, err)
	}
	slot.setState(SlotSubmitted)

	if err := r.swap.Present(); err != nil {
		gpuframe.Logger().Warn("renderer: present failed", "frame", frame, "err", err)
	}

	nextIndex, err := r.backBufferIndex()
	if err != nil {
		return err
	}
	r.frameIndex.Store(int32(nextIndex))

	stats.Duration = time.Since(start)
	r.statsMu.Lock()
	r.lastStats = stats
	r.statsMu.Unlock()
	return nil
}

// retire waits for the slot's last frame and recycles everything it used.
func (r *Renderer) retire(index int) error {
	slot := &r.frames[index]
	if slot.getState() == SlotSubmitted {
		if err := slot.fence.WaitForTarget(); err != nil {
			gpuframe.Logger().Error("renderer: fence wait failed", "slot", index, "frame", slot.frame, "err", err)
			return fmt.Errorf("%w: wait for frame %d: %w", ErrDeviceLost, slot.frame, err)
		}
		if completed := slot.fence.CompletedValue(); completed < slot.frame {
			return errors.AssertionFailedf("renderer: slot %d reused at completed value %d before frame %d", index, completed, slot.frame)
		}
		slot.setState(SlotRetired)
	}

	released := 0
	if slot.queue != nil {
		for _, p := range *r.passes.Load() {
			p.onQueueReleased(slot.queue)
		}
		released = slot.queue.release()
		r.freeQueues = append(r.freeQueues, slot.queue)
		slot.queue = nil
	}
	if err := r.descriptors.ResetFrame(index); err != nil {
		return err
	}
	r.frameAlloc.ReleaseFramesBefore(slot.frame)
	if released > 0 {
		gpuframe.Logger().Debug("renderer: slot retired", "slot", index, "frame", slot.frame, "units", released)
	}
	return nil
}

// popFreeQueue takes a queue attached to no slot. One is always free after
// retire, since N slots and the current queue hold at most N+1 queues.
func (r *Renderer) popFreeQueue() (*renderQueue, error) {
	n := len(r.freeQueues)
	if n == 0 {
		return nil, errors.AssertionFailedf("renderer: no free render queue")
	}
	q := r.freeQueues[n-1]
	r.freeQueues[n-1] = nil
	r.freeQueues = r.freeQueues[:n-1]
	return q, nil
}

func (r *Renderer) clearTargets(slot *frameResource) {
	if r.recorder == nil {
		return
	}
	if rt := r.swap.CurrentRenderTarget(); rt != nil {
		r.recorder.ClearRenderTarget(rt, r.ClearColor())
	}
	if slot.depthStencil != nil {
		r.recorder.ClearDepthStencil(slot.depthStencil)
	}
}

func (r *Renderer) applyPasses(frame uint64, index int, queue *renderQueue) FrameStats {
	ctx := &passContext{
		frame:         frame,
		frameIndex:    index,
		units:         queue.snapshot(),
		queue:         queue,
		descriptors:   r.descriptors,
		frameAlloc:    r.frameAlloc,
		pool:          r.pool,
		recorder:      r.recorder,
		controlWorker: r.controlWorker,
	}
	stats := FrameStats{Frame: frame, FrameIndex: index, Units: len(ctx.units)}
	for _, p := range *r.passes.Load() {
		res, err := p.apply(ctx)
		stats.Draws += res.drawn
		stats.Skipped += res.skipped
		if err != nil {
			logSkipped(p.passType(), frame, res, err)
		}
	}
	return stats
}

// AddRenderPass appends a built-in pass. Passes run in the order they were
// added.
func (r *Renderer) AddRenderPass(t PassType) error {
	p, err := newRenderPass(t)
	if err != nil {
		return err
	}
	r.passMu.Lock()
	defer r.passMu.Unlock()
	old := *r.passes.Load()
	passes := make([]renderPass, len(old), len(old)+1)
	copy(passes, old)
	passes = append(passes, p)
	r.passes.Store(&passes)
	return nil
}

// PassTypes returns the types of the registered passes in run order.
func (r *Renderer) PassTypes() []PassType {
	passes := *r.passes.Load()
	out := make([]PassType, len(passes))
	for i, p := range passes {
		out[i] = p.passType()
	}
	return out
}

// CommitRenderUnit freezes u into a Unit rendered by the next frame, using
// the frame memory of the render loop goroutine. u can be reset or reused
// immediately afterwards.
//
// The returned Unit is owned by the renderer and stays valid until the frame
// that renders it has been retired.
func (r *Renderer) CommitRenderUnit(u *RenderUnit) (*Unit, error) {
	return r.CommitRenderUnitFrom(r.controlWorker, u)
}

// CommitRenderUnitFrom is CommitRenderUnit using the frame memory of worker.
// Goroutines started by Parallel pass the worker id they were given.
func (r *Renderer) CommitRenderUnitFrom(worker int, u *RenderUnit) (*Unit, error) {
	if u == nil {
		return nil, ErrNilResource
	}
	if !r.started.Load() {
		return nil, ErrNotStarted
	}
	queue := r.current.Load()
	if queue == nil {
		return nil, ErrNotStarted
	}

	d := commitDefaults{
		renderTarget: r.swap.CurrentRenderTarget(),
		depthStencil: r.frames[r.frameIndex.Load()].depthStencil,
		width:        r.opts.width,
		height:       r.opts.height,
	}
	unit := u.commit(r.frameAlloc.Local(worker), d)
	queue.push(unit)
	for _, p := range *r.passes.Load() {
		p.onAddUnit(unit)
	}
	return unit, nil
}

// Parallel runs fn for every index in [0, n) on the renderer's workers and
// waits for all of them. fn receives the id of the worker running it, to be
// passed to CommitRenderUnitFrom.
func (r *Renderer) Parallel(n int, fn func(worker, i int)) error {
	if !r.started.Load() {
		return ErrNotStarted
	}
	if !r.pool.ForEach(n, fn) {
		return ErrNotStarted
	}
	return nil
}

// TransientFrameIndex returns the frame resource index transient
// descriptors are allocated for. It reports false outside a frame.
func (r *Renderer) TransientFrameIndex() (int, bool) {
	return int(r.frameIndex.Load()), r.inFrame.Load()
}

// FrameResourceIndex returns the slot used by the current or next frame.
func (r *Renderer) FrameResourceIndex() int { return int(r.frameIndex.Load()) }

// CurrentFrame returns the number of the last frame begun. Frame numbers
// start at 1.
func (r *Renderer) CurrentFrame() uint64 { return r.frame.Load() }

// SlotState returns the state of frame resource slot i.
func (r *Renderer) SlotState(i int) SlotState {
	if i < 0 || i >= gpuframe.FrameCount {
		return SlotIdle
	}
	return r.frames[i].getState()
}

// DefaultDepthStencilBuffer returns the depth-stencil buffer of the current
// frame resource slot, or nil when the renderer is stopped.
func (r *Renderer) DefaultDepthStencilBuffer() DepthStencilBuffer {
	if !r.started.Load() {
		return nil
	}
	return r.frames[r.frameIndex.Load()].depthStencil
}

// Descriptors returns the descriptor allocator. It is valid between Start
// and ShutDown.
func (r *Renderer) Descriptors() *descriptor.Allocator { return r.descriptors }

// FrameAllocator returns the frame memory allocator. It is valid between
// Start and ShutDown.
func (r *Renderer) FrameAllocator() *framealloc.Allocator { return r.frameAlloc }

// Workers returns the number of recording workers, or 0 when stopped.
func (r *Renderer) Workers() int {
	if !r.started.Load() {
		return 0
	}
	return r.pool.Workers()
}

// Started reports whether the renderer is running.
func (r *Renderer) Started() bool { return r.started.Load() }

// PendingUnits returns the number of units committed for the next frame.
func (r *Renderer) PendingUnits() int {
	q := r.current.Load()
	if q == nil {
		return 0
	}
	return q.len()
}

// WindowSize returns the size of the default viewport.
func (r *Renderer) WindowSize() (width, height uint32) { return r.opts.width, r.opts.height }

// SetClearColor sets the back buffer clear color.
func (r *Renderer) SetClearColor(c gputypes.Color) {
	r.statsMu.Lock()
	r.clearColor = c
	r.statsMu.Unlock()
}

// ClearColor returns the back buffer clear color.
func (r *Renderer) ClearColor() gputypes.Color {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.clearColor
}

// LastFrameStats returns statistics of the last completed Render call.
func (r *Renderer) LastFrameStats() FrameStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.lastStats
}
