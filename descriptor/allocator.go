package descriptor

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gpuframe"
)

// DefaultAllocUnit is the minimum number of descriptors per heap store.
// Creating stores in batches amortizes device heap creation.
const DefaultAllocUnit = 100

// Option configures an Allocator.
type Option func(*options)

type options struct {
	allocUnit uint32
	frames    FrameIndexer
}

// WithAllocUnit sets the minimum heap store size. Values of zero are ignored.
func WithAllocUnit(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.allocUnit = n
		}
	}
}

// WithFrameIndexer sets the source of the active frame resource index used by
// transient allocations.
func WithFrameIndexer(fi FrameIndexer) Option {
	return func(o *options) {
		o.frames = fi
	}
}

// Stats contains descriptor heap usage statistics.
type Stats struct {
	// PersistentStores is the number of persistent heap stores.
	PersistentStores int

	// PersistentCapacity is the total number of descriptors in persistent stores.
	PersistentCapacity uint64

	// PersistentFree is the number of free persistent descriptors.
	PersistentFree uint64

	// TransientStores is the number of heap stores owned by transient slots.
	TransientStores int

	// TransientAllocations is the number of live transient allocations.
	TransientAllocations uint64
}

// String returns a human-readable summary of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Descriptors[persistent %d/%d free in %d stores, transient %d allocs in %d stores]",
		s.PersistentFree, s.PersistentCapacity, s.PersistentStores,
		s.TransientAllocations, s.TransientStores)
}

// Allocator hands out descriptor ranges from lazily created heap stores.
//
// Persistent allocation and deallocation are guarded by a single mutex.
// Transient allocation only contends on an atomic add, except when a slot
// has to grow.
type Allocator struct {
	device    Device
	allocUnit uint32
	frames    FrameIndexer

	mu         sync.Mutex
	persistent [numHeapTypes][2][]*HeapStore

	transient [gpuframe.FrameCount][numHeapTypes][2]transientSlot
}

// NewAllocator creates an allocator that creates heaps on dev.
func NewAllocator(dev Device, opts ...Option) *Allocator {
	o := options{allocUnit: DefaultAllocUnit}
	for _, opt := range opts {
		opt(&o)
	}
	return &Allocator{
		device:    dev,
		allocUnit: o.allocUnit,
		frames:    o.frames,
	}
}

// AllocUnit returns the minimum heap store size.
func (a *Allocator) AllocUnit() uint32 { return a.allocUnit }

// Allocate returns count contiguous descriptors of type t.
//
// With transient set, the range is bump-allocated for the frame currently
// open on the FrameIndexer and stays valid until that frame resource slot is
// reset. Otherwise the range is persistent and must be returned with
// Deallocate.
//
// A nil allocation is returned with an error wrapping ErrHeapCreation when the
// device is out of descriptor memory; callers should skip the work that
// needed the descriptors.
func (a *Allocator) Allocate(t HeapType, shaderVisible bool, count uint32, transient bool) (*Allocation, error) {
	if err := validateRequest(t, shaderVisible, count); err != nil {
		return nil, err
	}
	if transient {
		return a.allocateTransient(t, shaderVisible, count)
	}
	return a.allocatePersistent(t, shaderVisible, count)
}

func validateRequest(t HeapType, shaderVisible bool, count uint32) error {
	if !t.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidHeapType, t)
	}
	if shaderVisible && !t.shaderVisibleAllowed() {
		return fmt.Errorf("%w: %s", ErrInvalidVisibility, t)
	}
	if count == 0 {
		return ErrInvalidCount
	}
	return nil
}

func visibilityIndex(shaderVisible bool) int {
	if shaderVisible {
		return 1
	}
	return 0
}

func (a *Allocator) storeSize(count uint32) uint32 {
	return max(count, a.allocUnit)
}

func (a *Allocator) allocatePersistent(t HeapType, shaderVisible bool, count uint32) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := &a.persistent[t][visibilityIndex(shaderVisible)]

	// Newest stores are the most likely to have room.
	for i := len(*list) - 1; i >= 0; i-- {
		store := (*list)[i]
		if iv, ok := store.free.Allocate(count); ok {
			return newAllocation(store, iv), nil
		}
	}

	store, err := newHeapStore(a.device, t, shaderVisible, a.storeSize(count))
	if err != nil {
		gpuframe.Logger().Error("descriptor: persistent allocation failed",
			"type", t, "shaderVisible", shaderVisible, "count", count, "err", err)
		return nil, err
	}
	*list = append(*list, store)

	iv, ok := store.free.Allocate(count)
	if !ok {
		return nil, errors.AssertionFailedf("fresh %s store of %d descriptors cannot hold %d", t, store.Capacity(), count)
	}
	return newAllocation(store, iv), nil
}

// Deallocate returns a persistent allocation to its store, coalescing it
// with adjacent free ranges. Deallocating a transient allocation or releasing
// the same allocation twice is a contract violation and returns an assertion
// failure error.
func (a *Allocator) Deallocate(alloc *Allocation) error {
	if alloc == nil {
		return nil
	}
	if alloc.transient {
		return errors.AssertionFailedf("deallocate of transient %s allocation %s", alloc.store.typ, alloc.interval)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if alloc.released {
		return errors.AssertionFailedf("double free of %s allocation %s", alloc.store.typ, alloc.interval)
	}
	if alloc.store.heap == nil {
		return errors.AssertionFailedf("deallocate of %s allocation %s after Clear", alloc.store.typ, alloc.interval)
	}
	if err := alloc.store.free.Free(alloc.interval); err != nil {
		gpuframe.Logger().Error("descriptor: deallocate failed", "err", err)
		return err
	}
	alloc.released = true
	return nil
}

// ResetFrame recycles every transient slot of frameIndex. It must only be
// called once the GPU has finished the frame that last used the slot.
func (a *Allocator) ResetFrame(frameIndex int) error {
	if frameIndex < 0 || frameIndex >= gpuframe.FrameCount {
		return fmt.Errorf("%w: %d", ErrInvalidFrameIndex, frameIndex)
	}
	for t := range a.transient[frameIndex] {
		for v := range a.transient[frameIndex][t] {
			a.transient[frameIndex][t][v].reset()
		}
	}
	return nil
}

// Stores returns the persistent heap stores of (t, shaderVisible) in creation order.
func (a *Allocator) Stores(t HeapType, shaderVisible bool) []*HeapStore {
	if !t.valid() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.persistent[t][visibilityIndex(shaderVisible)]
	out := make([]*HeapStore, len(list))
	copy(out, list)
	return out
}

// FreeIntervals returns a snapshot of the free list of a persistent store.
func (a *Allocator) FreeIntervals(store *HeapStore) []Interval {
	a.mu.Lock()
	defer a.mu.Unlock()
	return store.free.Intervals()
}

// Validate checks the free-list invariants of every persistent store.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for t := range a.persistent {
		for v := range a.persistent[t] {
			for i, store := range a.persistent[t][v] {
				if err := store.free.Validate(); err != nil {
					return errors.Wrapf(err, "%s store %d (visible=%t)", HeapType(t), i, v == 1)
				}
			}
		}
	}
	return nil
}

// Stats returns current usage statistics.
func (a *Allocator) Stats() Stats {
	var s Stats
	a.mu.Lock()
	for t := range a.persistent {
		for v := range a.persistent[t] {
			for _, store := range a.persistent[t][v] {
				s.PersistentStores++
				s.PersistentCapacity += uint64(store.Capacity())
				s.PersistentFree += uint64(store.free.FreeCount())
			}
		}
	}
	a.mu.Unlock()

	for f := range a.transient {
		for t := range a.transient[f] {
			for v := range a.transient[f][t] {
				stores, allocs := a.transient[f][t][v].stats()
				s.TransientStores += stores
				s.TransientAllocations += allocs
			}
		}
	}
	return s
}

// Clear destroys every heap store. Outstanding allocations become invalid.
// Clear must not run concurrently with allocation and must only be called
// once the GPU is idle.
func (a *Allocator) Clear() {
	a.mu.Lock()
	for t := range a.persistent {
		for v := range a.persistent[t] {
			for _, store := range a.persistent[t][v] {
				store.destroy()
			}
			a.persistent[t][v] = nil
		}
	}
	a.mu.Unlock()

	for f := range a.transient {
		for t := range a.transient[f] {
			for v := range a.transient[f][t] {
				a.transient[f][t][v].clear()
			}
		}
	}
	gpuframe.Logger().Debug("descriptor: all heap stores destroyed")
}
