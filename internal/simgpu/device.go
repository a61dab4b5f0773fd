// Package simgpu is a software GPU for headless runs and tests.
//
// Submitted work completes asynchronously on a device goroutine that takes
// FrameCost per submission, so fences really lag behind the CPU the way
// they do on hardware. Device loss can be injected after a number of
// submissions.
package simgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/time/rate"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/descriptor"
	"github.com/gogpu/gpuframe/renderer"
)

// Errors returned by the simulated device.
var (
	// ErrDeviceLost is returned by every blocking call once the device is lost.
	ErrDeviceLost = errors.New("simgpu: device lost")

	// ErrClosed is the loss cause after Close.
	ErrClosed = errors.New("simgpu: device closed")

	// ErrFenceValue is returned when a fence target does not increase.
	ErrFenceValue = errors.New("simgpu: fence value must increase")

	// ErrOutOfMemory is returned by CreateHeap past the heap budget.
	ErrOutOfMemory = errors.New("simgpu: out of descriptor memory")
)

// submitQueueDepth bounds the submissions waiting for the device goroutine.
const submitQueueDepth = 64

var incrementSizes = [...]uint32{
	descriptor.HeapTypeCBVSRVUAV: 32,
	descriptor.HeapTypeSampler:   16,
	descriptor.HeapTypeRTV:       32,
	descriptor.HeapTypeDSV:       32,
}

// Option configures a Device.
type Option func(*Device)

// WithFrameCost sets the time the device spends on each submission.
// Zero completes submissions as fast as the goroutine runs.
func WithFrameCost(d time.Duration) Option {
	return func(dev *Device) {
		dev.frameCost = d
	}
}

// WithFailAfter loses the device when submission n+1 arrives.
// Zero never fails.
func WithFailAfter(n uint64) Option {
	return func(dev *Device) {
		dev.failAfter = n
	}
}

// WithHeapBudget limits the descriptors all heaps together may hold.
// Zero is unlimited.
func WithHeapBudget(n uint64) Option {
	return func(dev *Device) {
		dev.heapBudget = n
	}
}

type submission struct {
	fence *Fence
	value uint64
}

// Stats counts the work the device has seen.
type Stats struct {
	Submitted uint64
	Completed uint64
	Heaps     int
	HeapBytes uint64
	Fences    int
}

// String returns a human-readable summary of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("SimGPU[submitted=%d completed=%d heaps=%d heapBytes=%d fences=%d]",
		s.Submitted, s.Completed, s.Heaps, s.HeapBytes, s.Fences)
}

// Device is a simulated GPU. It implements renderer.Device and
// renderer.RecorderProvider.
type Device struct {
	frameCost  time.Duration
	failAfter  uint64
	heapBudget uint64

	limiter *rate.Limiter
	subs    chan submission
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	lost       atomic.Pointer[error]
	nextHandle atomic.Uint64
	recorder   *Recorder

	mu        sync.Mutex
	fences    map[*Fence]struct{}
	heaps     int
	heapDescs uint64
	heapBytes uint64
	submitted uint64
	completed uint64
	closeOnce sync.Once
}

// New starts a simulated device. Close stops its goroutine.
func New(opts ...Option) *Device {
	d := &Device{
		subs:   make(chan submission, submitQueueDepth),
		done:   make(chan struct{}),
		fences: make(map[*Fence]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limiter = rate.NewLimiter(rate.Inf, 1)
	if d.frameCost > 0 {
		d.limiter = rate.NewLimiter(rate.Every(d.frameCost), 1)
	}
	d.recorder = &Recorder{}
	d.nextHandle.Store(1 << 16)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go d.run()

	gpuframe.Logger().Debug("simgpu: device started", "frameCost", d.frameCost, "failAfter", d.failAfter)
	return d
}

// run executes submissions in order until the device is closed or lost.
func (d *Device) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case s := <-d.subs:
			if err := d.limiter.Wait(d.ctx); err != nil {
				return
			}
			if d.failAfter > 0 && d.completedCount() >= d.failAfter {
				d.lose(fmt.Errorf("injected fault after %d submissions", d.failAfter))
				return
			}
			s.fence.signal(s.value)
			d.mu.Lock()
			d.completed++
			d.mu.Unlock()
		}
	}
}

func (d *Device) completedCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// submit queues a fence signal behind the work submitted so far.
func (d *Device) submit(f *Fence, v uint64) error {
	if err := d.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.submitted++
	d.mu.Unlock()

	select {
	case d.subs <- submission{fence: f, value: v}:
		return nil
	case <-d.ctx.Done():
		return d.errOr(ErrClosed)
	}
}

// lose marks the device lost and wakes every fence waiter.
func (d *Device) lose(cause error) {
	err := fmt.Errorf("%w: %w", ErrDeviceLost, cause)
	if !d.lost.CompareAndSwap(nil, &err) {
		return
	}
	if !errors.Is(cause, ErrClosed) {
		gpuframe.Logger().Error("simgpu: device lost", "err", err)
	}
	d.cancel()

	d.mu.Lock()
	fences := make([]*Fence, 0, len(d.fences))
	for f := range d.fences {
		fences = append(fences, f)
	}
	d.mu.Unlock()
	for _, f := range fences {
		f.wake()
	}
}

// Err returns the loss error, or nil while the device is alive.
func (d *Device) Err() error {
	if p := d.lost.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Device) errOr(cause error) error {
	if err := d.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceLost, cause)
}

// Lose injects a device loss.
func (d *Device) Lose(cause error) { d.lose(cause) }

// Close stops the device goroutine. Pending submissions never complete and
// fence waits return ErrDeviceLost.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		d.lose(ErrClosed)
		<-d.done
	})
}

// Stats returns the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Submitted: d.submitted,
		Completed: d.completed,
		Heaps:     d.heaps,
		HeapBytes: d.heapBytes,
		Fences:    len(d.fences),
	}
}

// CommandRecorder implements renderer.RecorderProvider.
func (d *Device) CommandRecorder() renderer.CommandRecorder { return d.recorder }

// Recorder returns the device's command recorder.
func (d *Device) Recorder() *Recorder { return d.recorder }

// IncrementSize implements descriptor.Device.
func (d *Device) IncrementSize(t descriptor.HeapType) uint32 {
	if int(t) < len(incrementSizes) {
		return incrementSizes[t]
	}
	return 0
}

// CreateHeap implements descriptor.Device. Heaps get disjoint handle
// ranges aligned to 64 KiB.
func (d *Device) CreateHeap(desc descriptor.HeapDesc) (descriptor.Heap, error) {
	size := uint64(desc.Count) * uint64(d.IncrementSize(desc.Type))
	d.mu.Lock()
	if d.heapBudget > 0 && d.heapDescs+uint64(desc.Count) > d.heapBudget {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d descriptors in use", ErrOutOfMemory, d.heapDescs, d.heapBudget)
	}
	d.heaps++
	d.heapDescs += uint64(desc.Count)
	d.heapBytes += size
	d.mu.Unlock()

	span := (size + 0xFFFF) &^ 0xFFFF
	base := d.nextHandle.Add(span) - span
	h := &heap{dev: d, count: uint64(desc.Count), size: size, cpu: descriptor.Handle(base)}
	if desc.ShaderVisible {
		h.gpu = descriptor.Handle(base | gpuHandleBit)
	}
	return h, nil
}

// CreateFence implements renderer.Device.
func (d *Device) CreateFence() (renderer.Fence, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	f := &Fence{dev: d}
	f.cond = sync.NewCond(&f.mu)
	d.mu.Lock()
	d.fences[f] = struct{}{}
	d.mu.Unlock()
	return f, nil
}

// CreateDepthStencilBuffer implements renderer.Device.
func (d *Device) CreateDepthStencilBuffer(width, height uint32, format gputypes.TextureFormat) (renderer.DepthStencilBuffer, error) {
	if !format.IsDepthStencil() {
		return nil, fmt.Errorf("%w: %v is not a depth format", renderer.ErrInvalidFormat, format)
	}
	return NewDepthStencil(width, height, format), nil
}

func (d *Device) removeFence(f *Fence) {
	d.mu.Lock()
	delete(d.fences, f)
	d.mu.Unlock()
}

func (d *Device) releaseHeap(h *heap) {
	d.mu.Lock()
	d.heaps--
	d.heapDescs -= h.count
	d.heapBytes -= h.size
	d.mu.Unlock()
}
