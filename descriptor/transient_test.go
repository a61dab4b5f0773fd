package descriptor

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Transient allocation
// =============================================================================

func TestTransient_NoActiveFrame(t *testing.T) {
	a := NewAllocator(newFakeDevice())
	_, err := a.Allocate(HeapTypeCBVSRVUAV, true, 1, true)
	require.ErrorIs(t, err, ErrNoActiveFrame)

	frame := &fixedFrame{}
	a = NewAllocator(newFakeDevice(), WithFrameIndexer(frame))
	_, err = a.Allocate(HeapTypeCBVSRVUAV, true, 1, true)
	require.ErrorIs(t, err, ErrNoActiveFrame)
}

func TestTransient_BumpAllocation(t *testing.T) {
	frame := &fixedFrame{index: 1, open: true}
	a := NewAllocator(newFakeDevice(), WithFrameIndexer(frame))

	x, err := a.Allocate(HeapTypeCBVSRVUAV, true, 3, true)
	require.NoError(t, err)
	y, err := a.Allocate(HeapTypeCBVSRVUAV, true, 5, true)
	require.NoError(t, err)

	require.True(t, x.Transient())
	require.Equal(t, 1, x.FrameIndex())
	require.Same(t, x.Store(), y.Store())
	require.Equal(t, Interval{0, 3}, x.Interval())
	require.Equal(t, Interval{3, 8}, y.Interval())

	allocs := a.Allocations(1, HeapTypeCBVSRVUAV, true)
	require.Equal(t, []*Allocation{y, x}, allocs)
	require.Empty(t, a.Allocations(0, HeapTypeCBVSRVUAV, true))
}

func TestTransient_DeallocateRejected(t *testing.T) {
	frame := &fixedFrame{open: true}
	a := NewAllocator(newFakeDevice(), WithFrameIndexer(frame))

	alloc, err := a.Allocate(HeapTypeSampler, true, 1, true)
	require.NoError(t, err)
	require.Error(t, a.Deallocate(alloc))
}

func TestTransient_ResetFrameRewinds(t *testing.T) {
	dev := newFakeDevice()
	frame := &fixedFrame{index: 2, open: true}
	a := NewAllocator(dev, WithFrameIndexer(frame), WithAllocUnit(16))

	for range 5 {
		_, err := a.Allocate(HeapTypeCBVSRVUAV, false, 3, true)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), a.Stats().TransientAllocations)

	require.NoError(t, a.ResetFrame(2))
	require.Empty(t, a.Allocations(2, HeapTypeCBVSRVUAV, false))
	require.Zero(t, a.Stats().TransientAllocations)

	alloc, err := a.Allocate(HeapTypeCBVSRVUAV, false, 3, true)
	require.NoError(t, err)
	require.Equal(t, uint32(0), alloc.Interval().Start)
	require.Equal(t, 1, dev.heapCount())
}

func TestTransient_ResetFrameOnlyTouchesOneIndex(t *testing.T) {
	frame := &fixedFrame{open: true}
	a := NewAllocator(newFakeDevice(), WithFrameIndexer(frame))

	frame.index = 0
	_, _ = a.Allocate(HeapTypeCBVSRVUAV, true, 2, true)
	frame.index = 1
	_, _ = a.Allocate(HeapTypeCBVSRVUAV, true, 2, true)

	require.NoError(t, a.ResetFrame(0))
	require.Empty(t, a.Allocations(0, HeapTypeCBVSRVUAV, true))
	require.Len(t, a.Allocations(1, HeapTypeCBVSRVUAV, true), 1)
}

func TestTransient_ResetFrameInvalidIndex(t *testing.T) {
	a := NewAllocator(newFakeDevice())
	require.ErrorIs(t, a.ResetFrame(-1), ErrInvalidFrameIndex)
	require.ErrorIs(t, a.ResetFrame(3), ErrInvalidFrameIndex)
}

func TestTransient_GrowthKeepsEarlierBlocks(t *testing.T) {
	dev := newFakeDevice()
	frame := &fixedFrame{open: true}
	a := NewAllocator(dev, WithFrameIndexer(frame), WithAllocUnit(8))

	first, err := a.Allocate(HeapTypeCBVSRVUAV, true, 6, true)
	require.NoError(t, err)
	second, err := a.Allocate(HeapTypeCBVSRVUAV, true, 6, true)
	require.NoError(t, err)
	require.NotSame(t, first.Store(), second.Store())
	require.Equal(t, uint32(0), second.Interval().Start)

	// The first block is still alive and keeps its handles.
	require.NotNil(t, first.Store().Heap())
	require.False(t, dev.heaps[0].destroyed)

	// Oversized requests get a store of their own size.
	big, err := a.Allocate(HeapTypeCBVSRVUAV, true, 50, true)
	require.NoError(t, err)
	require.Equal(t, uint32(50), big.Store().Capacity())
	require.Equal(t, 3, dev.heapCount())
	require.Equal(t, 3, a.Stats().TransientStores)

	// After a reset the chain is reused without new device heaps.
	require.NoError(t, a.ResetFrame(0))
	for range 3 {
		_, err := a.Allocate(HeapTypeCBVSRVUAV, true, 6, true)
		require.NoError(t, err)
	}
	require.Equal(t, 3, dev.heapCount())

	a.Clear()
	for _, h := range dev.heaps {
		require.True(t, h.destroyed)
	}
	require.Zero(t, a.Stats().TransientStores)
}

func TestTransient_CreationFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.failAll = true
	frame := &fixedFrame{open: true}
	a := NewAllocator(dev, WithFrameIndexer(frame))

	alloc, err := a.Allocate(HeapTypeSampler, false, 1, true)
	require.Nil(t, alloc)
	require.ErrorIs(t, err, ErrHeapCreation)
}

// TestTransient_ConcurrentAllocationsDisjoint allocates from many goroutines
// and checks that no two ranges of the same store overlap.
func TestTransient_ConcurrentAllocationsDisjoint(t *testing.T) {
	dev := newFakeDevice()
	frame := &fixedFrame{open: true}
	a := NewAllocator(dev, WithFrameIndexer(frame), WithAllocUnit(64))

	const goroutines = 8
	const perGoroutine = 200

	for round := range 3 {
		var wg sync.WaitGroup
		results := make([][]*Allocation, goroutines)
		for g := range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perGoroutine {
					n := uint32(i%7 + 1)
					alloc, err := a.Allocate(HeapTypeCBVSRVUAV, true, n, true)
					if err != nil {
						t.Errorf("allocate: %v", err)
						return
					}
					results[g] = append(results[g], alloc)
				}
			}()
		}
		wg.Wait()

		byStore := make(map[*HeapStore][]Interval)
		total := 0
		for _, rs := range results {
			for _, alloc := range rs {
				byStore[alloc.Store()] = append(byStore[alloc.Store()], alloc.Interval())
				total++
			}
		}
		require.Equal(t, goroutines*perGoroutine, total)
		require.Equal(t, uint64(total), a.Stats().TransientAllocations, "round %d", round)
		require.Len(t, a.Allocations(0, HeapTypeCBVSRVUAV, true), total)

		for store, ivs := range byStore {
			sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
			for i, iv := range ivs {
				require.LessOrEqual(t, iv.End, store.Capacity())
				if i > 0 {
					require.LessOrEqual(t, ivs[i-1].End, iv.Start, "round %d overlap", round)
				}
			}
		}

		require.NoError(t, a.ResetFrame(0))
	}
	a.Clear()
}
