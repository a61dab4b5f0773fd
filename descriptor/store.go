package descriptor

import (
	"fmt"

	"github.com/gogpu/gpuframe"
)

// HeapStore is one device descriptor heap together with its free list.
// Stores are owned by the Allocator and live until Clear.
type HeapStore struct {
	typ           HeapType
	shaderVisible bool
	incrementSize uint32
	cpuStart      Handle
	gpuStart      Handle
	heap          Heap
	free          *IntervalList
}

// newHeapStore creates a device heap of capacity descriptors.
func newHeapStore(dev Device, typ HeapType, shaderVisible bool, capacity uint32) (*HeapStore, error) {
	heap, err := dev.CreateHeap(HeapDesc{Type: typ, ShaderVisible: shaderVisible, Count: capacity})
	if err != nil {
		return nil, fmt.Errorf("%w: %s visible=%t count=%d: %w", ErrHeapCreation, typ, shaderVisible, capacity, err)
	}
	if heap == nil {
		return nil, fmt.Errorf("%w: %s visible=%t count=%d: device returned no heap", ErrHeapCreation, typ, shaderVisible, capacity)
	}

	s := &HeapStore{
		typ:           typ,
		shaderVisible: shaderVisible,
		incrementSize: dev.IncrementSize(typ),
		cpuStart:      heap.CPUStart(),
		gpuStart:      heap.GPUStart(),
		heap:          heap,
		free:          NewIntervalList(capacity),
	}
	gpuframe.Logger().Debug("descriptor: heap store created",
		"type", typ, "shaderVisible", shaderVisible, "capacity", capacity)
	return s, nil
}

// Type returns the heap type of the store.
func (s *HeapStore) Type() HeapType { return s.typ }

// ShaderVisible reports whether the store's heap can be bound to shaders.
func (s *HeapStore) ShaderVisible() bool { return s.shaderVisible }

// Capacity returns the number of descriptors in the store.
func (s *HeapStore) Capacity() uint32 { return s.free.Capacity() }

// IncrementSize returns the size of one descriptor in bytes.
func (s *HeapStore) IncrementSize() uint32 { return s.incrementSize }

// Heap returns the device heap backing the store.
func (s *HeapStore) Heap() Heap { return s.heap }

// handles returns the CPU and GPU handles of the descriptor at offset.
func (s *HeapStore) handles(offset uint32) (cpu, gpu Handle) {
	cpu = s.cpuStart.Offset(offset, s.incrementSize)
	if s.gpuStart != 0 {
		gpu = s.gpuStart.Offset(offset, s.incrementSize)
	}
	return cpu, gpu
}

// destroy releases the device heap.
func (s *HeapStore) destroy() {
	if s.heap != nil {
		s.heap.Destroy()
		s.heap = nil
	}
}

// Allocation is a range of descriptors leased from a HeapStore.
//
// Persistent allocations are returned with Allocator.Deallocate. Transient
// allocations are never freed individually; they become invalid when the
// frame resource slot they were allocated for is reset.
type Allocation struct {
	store      *HeapStore
	interval   Interval
	cpu        Handle
	gpu        Handle
	transient  bool
	frameIndex int
	released   bool

	// next links transient allocations of one slot.
	next *Allocation
}

func newAllocation(store *HeapStore, iv Interval) *Allocation {
	cpu, gpu := store.handles(iv.Start)
	return &Allocation{store: store, interval: iv, cpu: cpu, gpu: gpu}
}

// Store returns the heap store the range belongs to.
func (a *Allocation) Store() *HeapStore { return a.store }

// Interval returns the slot range inside the store.
func (a *Allocation) Interval() Interval { return a.interval }

// Count returns the number of descriptors in the allocation.
func (a *Allocation) Count() uint32 { return a.interval.Len() }

// CPUHandle returns the CPU handle of the first descriptor.
func (a *Allocation) CPUHandle() Handle { return a.cpu }

// GPUHandle returns the GPU handle of the first descriptor, or 0 for heaps
// that are not shader visible.
func (a *Allocation) GPUHandle() Handle { return a.gpu }

// CPUHandleAt returns the CPU handle of the i-th descriptor of the range.
func (a *Allocation) CPUHandleAt(i uint32) Handle {
	return a.cpu.Offset(i, a.store.incrementSize)
}

// GPUHandleAt returns the GPU handle of the i-th descriptor of the range.
func (a *Allocation) GPUHandleAt(i uint32) Handle {
	if a.gpu == 0 {
		return 0
	}
	return a.gpu.Offset(i, a.store.incrementSize)
}

// Transient reports whether the allocation is a one-frame allocation.
func (a *Allocation) Transient() bool { return a.transient }

// FrameIndex returns the frame resource index of a transient allocation.
func (a *Allocation) FrameIndex() int { return a.frameIndex }
