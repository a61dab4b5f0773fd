package descriptor

import (
	"errors"
	"sync"
)

// fakeHeap is a test double for Heap.
type fakeHeap struct {
	desc      HeapDesc
	cpu       Handle
	gpu       Handle
	destroyed bool
}

func (h *fakeHeap) CPUStart() Handle { return h.cpu }
func (h *fakeHeap) GPUStart() Handle { return h.gpu }
func (h *fakeHeap) Destroy()         { h.destroyed = true }

// fakeDevice is a test double for Device that hands out non-overlapping
// handle ranges and can be told to fail.
type fakeDevice struct {
	mu       sync.Mutex
	next     Handle
	heaps    []*fakeHeap
	failNext bool
	failAll  bool
}

var errOutOfMemory = errors.New("out of descriptor memory")

func newFakeDevice() *fakeDevice {
	return &fakeDevice{next: 0x10000}
}

func (d *fakeDevice) CreateHeap(desc HeapDesc) (Heap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll || d.failNext {
		d.failNext = false
		return nil, errOutOfMemory
	}
	h := &fakeHeap{desc: desc, cpu: d.next}
	if desc.ShaderVisible {
		h.gpu = d.next + 0x8000_0000
	}
	d.next += Handle(uint64(desc.Count)*uint64(d.IncrementSize(desc.Type))) + 0x1000
	d.heaps = append(d.heaps, h)
	return h, nil
}

func (d *fakeDevice) IncrementSize(t HeapType) uint32 {
	switch t {
	case HeapTypeCBVSRVUAV:
		return 32
	case HeapTypeSampler:
		return 16
	default:
		return 8
	}
}

func (d *fakeDevice) heapCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.heaps)
}

// fixedFrame is a FrameIndexer with a settable index.
type fixedFrame struct {
	index int
	open  bool
}

func (f *fixedFrame) TransientFrameIndex() (int, bool) { return f.index, f.open }
