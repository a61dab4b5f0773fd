package descriptor

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuframe"
)

// transientBlock is one heap store of a transient slot with its bump offset.
type transientBlock struct {
	store  *HeapStore
	offset atomic.Uint32
}

// transientSlot serves transient allocations for one
// (frame index, heap type, visibility) combination.
//
// The hot path is a single atomic add on the current block's offset. When the
// block is exhausted the slot moves to the next block of its chain, creating
// one if needed. Blocks are never destroyed before Clear, so handles handed
// out earlier in the frame stay valid after the slot grows.
type transientSlot struct {
	cur        atomic.Pointer[transientBlock]
	allocCount atomic.Uint64
	head       atomic.Pointer[Allocation]

	mu       sync.Mutex // guards blocks and curIndex
	blocks   []*transientBlock
	curIndex int
}

// bump tries to claim count descriptors from block b.
func (b *transientBlock) bump(count uint32) (uint32, bool) {
	capacity := b.store.Capacity()
	if count > capacity {
		return 0, false
	}
	end := b.offset.Add(count)
	if end > capacity || end < count {
		return 0, false
	}
	return end - count, true
}

func (a *Allocator) allocateTransient(t HeapType, shaderVisible bool, count uint32) (*Allocation, error) {
	if a.frames == nil {
		return nil, ErrNoActiveFrame
	}
	frameIndex, ok := a.frames.TransientFrameIndex()
	if !ok {
		return nil, ErrNoActiveFrame
	}
	if frameIndex < 0 || frameIndex >= gpuframe.FrameCount {
		return nil, ErrInvalidFrameIndex
	}

	slot := &a.transient[frameIndex][t][visibilityIndex(shaderVisible)]
	for {
		b := slot.cur.Load()
		if b != nil {
			if offset, ok := b.bump(count); ok {
				alloc := newAllocation(b.store, Interval{Start: offset, End: offset + count})
				alloc.transient = true
				alloc.frameIndex = frameIndex
				slot.record(alloc)
				return alloc, nil
			}
		}
		if err := slot.grow(a, b, t, shaderVisible, count); err != nil {
			gpuframe.Logger().Error("descriptor: transient allocation failed",
				"frameIndex", frameIndex, "type", t, "count", count, "err", err)
			return nil, err
		}
	}
}

// record pushes alloc on the slot's allocation list.
func (s *transientSlot) record(alloc *Allocation) {
	for {
		head := s.head.Load()
		alloc.next = head
		if s.head.CompareAndSwap(head, alloc) {
			break
		}
	}
	s.allocCount.Add(1)
}

// grow moves the slot past the exhausted block seen. If another goroutine
// already moved on, grow returns immediately and the caller retries.
func (s *transientSlot) grow(a *Allocator, seen *transientBlock, t HeapType, shaderVisible bool, count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.Load() != seen {
		return nil
	}

	// Reuse blocks kept from earlier frames before creating new ones.
	for s.curIndex+1 < len(s.blocks) {
		s.curIndex++
		next := s.blocks[s.curIndex]
		if next.store.Capacity() >= count {
			s.cur.Store(next)
			return nil
		}
	}

	store, err := newHeapStore(a.device, t, shaderVisible, a.storeSize(count))
	if err != nil {
		return err
	}
	b := &transientBlock{store: store}
	s.blocks = append(s.blocks, b)
	s.curIndex = len(s.blocks) - 1
	s.cur.Store(b)
	if len(s.blocks) > 1 {
		gpuframe.Logger().Debug("descriptor: transient slot grew",
			"type", t, "shaderVisible", shaderVisible, "blocks", len(s.blocks))
	}
	return nil
}

// reset rewinds the slot to offset 0 of its first block and forgets every
// allocation made since the last reset.
func (s *transientSlot) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks {
		b.offset.Store(0)
	}
	s.curIndex = 0
	if len(s.blocks) > 0 {
		s.cur.Store(s.blocks[0])
	} else {
		s.cur.Store(nil)
	}
	s.head.Store(nil)
	s.allocCount.Store(0)
}

// clear destroys every block of the slot.
func (s *transientSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.blocks {
		b.store.destroy()
	}
	s.blocks = nil
	s.curIndex = 0
	s.cur.Store(nil)
	s.head.Store(nil)
	s.allocCount.Store(0)
}

func (s *transientSlot) stats() (stores int, allocs uint64) {
	s.mu.Lock()
	stores = len(s.blocks)
	s.mu.Unlock()
	return stores, s.allocCount.Load()
}

// Allocations returns the live transient allocations of a slot, most recent
// first. It is intended for diagnostics and tests.
func (a *Allocator) Allocations(frameIndex int, t HeapType, shaderVisible bool) []*Allocation {
	if frameIndex < 0 || frameIndex >= gpuframe.FrameCount || !t.valid() {
		return nil
	}
	var out []*Allocation
	for alloc := a.transient[frameIndex][t][visibilityIndex(shaderVisible)].head.Load(); alloc != nil; alloc = alloc.next {
		out = append(out, alloc)
	}
	return out
}
