package descriptor

import (
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestIntervalList_AllocateSplitsLeft(t *testing.T) {
	l := NewIntervalList(30)

	iv, ok := l.Allocate(10)
	require.True(t, ok)
	require.Equal(t, Interval{0, 10}, iv)
	require.Equal(t, []Interval{{10, 30}}, l.Intervals())
	require.Equal(t, uint32(20), l.FreeCount())
}

func TestIntervalList_AllocateExactRemovesInterval(t *testing.T) {
	l := NewIntervalList(10)

	iv, ok := l.Allocate(10)
	require.True(t, ok)
	require.Equal(t, Interval{0, 10}, iv)
	require.Empty(t, l.Intervals())

	_, ok = l.Allocate(1)
	require.False(t, ok)
}

func TestIntervalList_AllocateZero(t *testing.T) {
	l := NewIntervalList(10)
	_, ok := l.Allocate(0)
	require.False(t, ok)
}

func TestIntervalList_AdjacentFreesCoalesce(t *testing.T) {
	l := NewIntervalList(30)
	a, _ := l.Allocate(10)
	b, _ := l.Allocate(10)
	_, _ = l.Allocate(10)

	require.NoError(t, l.Free(a))
	require.NoError(t, l.Free(b))

	require.Equal(t, []Interval{{0, 20}}, l.Intervals())
	require.NoError(t, l.Validate())
}

func TestIntervalList_FreeMergesBothNeighbours(t *testing.T) {
	l := NewIntervalList(30)
	a, _ := l.Allocate(10)
	b, _ := l.Allocate(10)
	c, _ := l.Allocate(10)

	require.NoError(t, l.Free(a))
	require.NoError(t, l.Free(c))
	require.Equal(t, []Interval{{0, 10}, {20, 30}}, l.Intervals())

	require.NoError(t, l.Free(b))
	require.Equal(t, []Interval{{0, 30}}, l.Intervals())
	require.Equal(t, uint32(30), l.FreeCount())
}

func TestIntervalList_FreeMergesNextOnly(t *testing.T) {
	l := NewIntervalList(30)
	_, _ = l.Allocate(10)
	b, _ := l.Allocate(10)

	// [20,30) is free; freeing [10,20) must extend it backwards.
	require.NoError(t, l.Free(b))
	require.Equal(t, []Interval{{10, 30}}, l.Intervals())
}

func TestIntervalList_FreeWithoutNeighbours(t *testing.T) {
	l := NewIntervalList(40)
	a, _ := l.Allocate(10)
	_, _ = l.Allocate(10)
	c, _ := l.Allocate(10)
	_, _ = l.Allocate(10)

	require.NoError(t, l.Free(c))
	require.NoError(t, l.Free(a))
	require.Equal(t, []Interval{{0, 10}, {20, 30}}, l.Intervals())
	require.NoError(t, l.Validate())
}

func TestIntervalList_DoubleFree(t *testing.T) {
	l := NewIntervalList(30)
	a, _ := l.Allocate(10)
	require.NoError(t, l.Free(a))

	err := l.Free(a)
	require.Error(t, err)
	require.True(t, errors.HasAssertionFailure(err))
	require.Equal(t, []Interval{{0, 30}}, l.Intervals())
}

func TestIntervalList_FreeOutOfBounds(t *testing.T) {
	l := NewIntervalList(10)
	err := l.Free(Interval{5, 20})
	require.True(t, errors.HasAssertionFailure(err))

	err = l.Free(Interval{4, 4})
	require.True(t, errors.HasAssertionFailure(err))
}

func TestIntervalList_Reset(t *testing.T) {
	l := NewIntervalList(16)
	_, _ = l.Allocate(4)
	_, _ = l.Allocate(4)
	l.Reset()
	require.Equal(t, []Interval{{0, 16}}, l.Intervals())
	require.Equal(t, uint32(16), l.FreeCount())
}

func TestIntervalList_ValidateDetectsCorruption(t *testing.T) {
	l := NewIntervalList(30)
	l.free = []Interval{{0, 10}, {10, 20}}
	l.freeCount = 20
	require.True(t, errors.HasAssertionFailure(l.Validate()))

	l.free = []Interval{{5, 15}, {10, 20}}
	require.True(t, errors.HasAssertionFailure(l.Validate()))

	l.free = []Interval{{0, 10}}
	l.freeCount = 11
	require.True(t, errors.HasAssertionFailure(l.Validate()))
}

// TestIntervalList_RandomSequences checks that for arbitrary interleavings of
// Allocate and Free the list stays sorted, disjoint and fully coalesced, and
// that free space equals capacity minus live allocations.
func TestIntervalList_RandomSequences(t *testing.T) {
	for seed := uint64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		const capacity = 256
		l := NewIntervalList(capacity)
		var live []Interval
		var liveTotal uint32

		for step := 0; step < 400; step++ {
			if len(live) == 0 || rng.IntN(3) > 0 {
				n := uint32(rng.IntN(24) + 1)
				if iv, ok := l.Allocate(n); ok {
					require.Equal(t, n, iv.Len())
					live = append(live, iv)
					liveTotal += n
				}
			} else {
				i := rng.IntN(len(live))
				iv := live[i]
				live = append(live[:i], live[i+1:]...)
				liveTotal -= iv.Len()
				require.NoError(t, l.Free(iv))
			}
			require.NoError(t, l.Validate(), "seed %d step %d", seed, step)
			require.Equal(t, uint32(capacity)-liveTotal, l.FreeCount(), "seed %d step %d", seed, step)
		}

		for _, iv := range live {
			require.NoError(t, l.Free(iv))
		}
		require.Equal(t, []Interval{{0, capacity}}, l.Intervals(), "seed %d", seed)
	}
}
