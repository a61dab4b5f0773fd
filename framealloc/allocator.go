package framealloc

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"

	"github.com/gogpu/gpuframe"
)

const (
	// MinRingSize is the default size in bytes of the smallest ring a Local creates.
	MinRingSize = 2048

	// MaxAlign is the largest supported allocation alignment.
	MaxAlign = 8
)

// Option configures an Allocator.
type Option func(*Allocator)

// WithMinRingSize sets the size of the smallest ring. Values below MaxAlign
// are ignored.
func WithMinRingSize(n int) Option {
	return func(a *Allocator) {
		if n >= MaxAlign {
			a.minRingSize = alignUp(n, MaxAlign)
		}
	}
}

// Stats contains frame allocator statistics.
type Stats struct {
	// AllocatedBytes is the total size of all rings.
	AllocatedBytes int

	// UsedBytes is the number of bytes held by unreleased or open frames.
	UsedBytes int

	// PeakBytes is the largest UsedBytes any single Local has reached.
	PeakBytes int

	// Rings is the number of ring buffers.
	Rings int

	// Locals is the number of per-worker allocators.
	Locals int

	// PendingFrames is the largest number of finished, unreleased frames
	// held by any ring.
	PendingFrames int
}

// String returns a human-readable summary of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("FrameAlloc[%d/%d bytes used, peak %d, %d rings, %d locals, %d pending frames]",
		s.UsedBytes, s.AllocatedBytes, s.PeakBytes, s.Rings, s.Locals, s.PendingFrames)
}

// Allocator is the registry of per-worker frame allocators.
//
// Local may be called from any goroutine. FinishFrame, ReleaseFramesBefore,
// Stats and Close may run concurrently with allocation but are normally
// called by the render loop between frames.
type Allocator struct {
	minRingSize int

	mu          sync.Mutex
	locals      []*Local
	lastFrame   uint64
	frameClosed bool
	closed      bool
}

// New creates an empty Allocator. Rings are created on first use.
func New(opts ...Option) *Allocator {
	a := &Allocator{minRingSize: MinRingSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MinRingSize returns the size of the smallest ring.
func (a *Allocator) MinRingSize() int { return a.minRingSize }

// Local returns the allocator of worker, creating it if needed.
// Worker ids are small non-negative integers such as those handed out by a
// worker pool.
func (a *Allocator) Local(worker int) *Local {
	if worker < 0 {
		panic(errors.AssertionFailedf("framealloc: negative worker id %d", worker))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic(errors.AssertionFailedf("framealloc: Local(%d) after Close", worker))
	}
	for len(a.locals) <= worker {
		a.locals = append(a.locals, nil)
	}
	if a.locals[worker] == nil {
		a.locals[worker] = &Local{owner: a, worker: worker}
	}
	return a.locals[worker]
}

func (a *Allocator) snapshot() []*Local {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Local, 0, len(a.locals))
	for _, l := range a.locals {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// FinishFrame closes the open span of every ring as belonging to frame.
// Frame numbers must strictly increase.
func (a *Allocator) FinishFrame(frame uint64) {
	a.mu.Lock()
	if a.frameClosed && frame <= a.lastFrame {
		last := a.lastFrame
		a.mu.Unlock()
		panic(errors.AssertionFailedf("framealloc: FinishFrame(%d) after frame %d", frame, last))
	}
	a.lastFrame = frame
	a.frameClosed = true
	a.mu.Unlock()

	for _, l := range a.snapshot() {
		l.finishFrame(frame)
	}
}

// ReleaseFramesBefore recycles the memory of every finished frame numbered
// frame or lower. Releasing the same frames again has no effect.
func (a *Allocator) ReleaseFramesBefore(frame uint64) {
	for _, l := range a.snapshot() {
		l.releaseFramesBefore(frame)
	}
}

// Stats returns current usage statistics.
func (a *Allocator) Stats() Stats {
	locals := a.snapshot()
	s := Stats{Locals: len(locals)}
	for _, l := range locals {
		l.mu.Lock()
		for _, r := range l.rings {
			s.Rings++
			s.AllocatedBytes += r.capacity()
			s.UsedBytes += r.used
			s.PendingFrames = max(s.PendingFrames, r.pending())
		}
		s.PeakBytes = max(s.PeakBytes, l.peak)
		l.mu.Unlock()
	}
	return s
}

// Close frees every ring. Memory returned by earlier allocations must not be
// used afterwards.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	locals := a.locals
	a.locals = nil
	a.mu.Unlock()

	var err error
	for _, l := range locals {
		if l != nil {
			err = multierr.Append(err, l.close())
		}
	}
	return err
}

// Local allocates frame-scoped memory for one worker. A Local must only be
// used by one goroutine at a time.
type Local struct {
	owner  *Allocator
	worker int

	mu     sync.Mutex
	rings  []*ringBuffer
	peak   int
	closed bool
}

// Worker returns the worker id the Local belongs to.
func (l *Local) Worker() int { return l.worker }

// AllocBytes returns n zeroed bytes aligned to MaxAlign. The memory stays
// valid until the frame it was allocated in is released.
func (l *Local) AllocBytes(n int) []byte {
	return l.AllocAligned(n, MaxAlign)
}

// AllocAligned returns n zeroed bytes aligned to align, which must be a power
// of two no larger than MaxAlign.
func (l *Local) AllocAligned(n, align int) []byte {
	if align <= 0 || align > MaxAlign || align&(align-1) != 0 {
		panic(errors.AssertionFailedf("framealloc: invalid alignment %d", align))
	}
	if n < 0 {
		panic(errors.AssertionFailedf("framealloc: negative size %d", n))
	}
	if n == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic(errors.AssertionFailedf("framealloc: allocation on worker %d after Close", l.worker))
	}

	// Newest rings are the largest and the most likely to have room.
	for i := len(l.rings) - 1; i >= 0; i-- {
		r := l.rings[i]
		if off, ok := r.alloc(n, align); ok {
			return l.take(r, off, n)
		}
	}

	size := alignUp(max(l.owner.minRingSize, l.peak+n), MaxAlign)
	r, err := newRingBuffer(size)
	if err != nil {
		panic(errors.Wrapf(err, "framealloc: worker %d", l.worker))
	}
	l.rings = append(l.rings, r)
	gpuframe.Logger().Debug("framealloc: ring created",
		"worker", l.worker, "size", size, "rings", len(l.rings))

	off, ok := r.alloc(n, align)
	if !ok {
		panic(errors.AssertionFailedf("framealloc: fresh ring of %d bytes cannot hold %d", size, n))
	}
	return l.take(r, off, n)
}

// take zeroes and returns the allocated bytes and updates the high-water mark.
func (l *Local) take(r *ringBuffer, off, n int) []byte {
	b := r.mem[off : off+n : off+n]
	clear(b)

	used := 0
	for _, rr := range l.rings {
		used += rr.used
	}
	l.peak = max(l.peak, used)
	return b
}

func (l *Local) finishFrame(frame uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rings {
		r.finishFrame(frame)
	}
}

func (l *Local) releaseFramesBefore(frame uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rings {
		r.releaseFramesBefore(frame)
	}
}

func (l *Local) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	var err error
	for _, r := range l.rings {
		err = multierr.Append(err, r.free())
	}
	l.rings = nil
	return err
}
