package descriptor

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// IntervalList tracks the free slots of a fixed-capacity linear resource as a
// sorted list of disjoint, non-adjacent half-open intervals.
//
// IntervalList is not safe for concurrent use; HeapStore callers hold the
// allocator mutex.
type IntervalList struct {
	capacity  uint32
	freeCount uint32
	free      []Interval
}

// NewIntervalList returns a list covering [0, capacity) as one free interval.
func NewIntervalList(capacity uint32) *IntervalList {
	l := &IntervalList{capacity: capacity, freeCount: capacity}
	if capacity > 0 {
		l.free = []Interval{{Start: 0, End: capacity}}
	}
	return l
}

// Capacity returns the total number of slots.
func (l *IntervalList) Capacity() uint32 { return l.capacity }

// FreeCount returns the number of free slots.
func (l *IntervalList) FreeCount() uint32 { return l.freeCount }

// Intervals returns a copy of the free intervals in ascending order.
func (l *IntervalList) Intervals() []Interval {
	out := make([]Interval, len(l.free))
	copy(out, l.free)
	return out
}

// Allocate claims count slots from the first free interval large enough to
// hold them. The left part of that interval is returned; the remainder stays
// free in place. Returns false when no interval fits.
func (l *IntervalList) Allocate(count uint32) (Interval, bool) {
	if count == 0 || count > l.freeCount {
		return Interval{}, false
	}
	for i := range l.free {
		iv := l.free[i]
		if iv.Len() < count {
			continue
		}
		got := Interval{Start: iv.Start, End: iv.Start + count}
		if iv.Len() == count {
			l.free = append(l.free[:i], l.free[i+1:]...)
		} else {
			l.free[i].Start += count
		}
		l.freeCount -= count
		return got, true
	}
	return Interval{}, false
}

// Free returns iv to the free list. It is merged with the preceding free
// interval when they touch, and the result is then merged with the following
// one. Freeing a range that overlaps free slots is a contract violation and
// leaves the list unchanged.
func (l *IntervalList) Free(iv Interval) error {
	if iv.Start >= iv.End || iv.End > l.capacity {
		return errors.AssertionFailedf("free of invalid interval %s (capacity %d)", iv, l.capacity)
	}

	// next is the first free interval starting at or after iv.Start.
	next := sort.Search(len(l.free), func(i int) bool { return l.free[i].Start >= iv.Start })
	if next < len(l.free) && l.free[next].Start < iv.End {
		return errors.AssertionFailedf("double free: %s overlaps free interval %s", iv, l.free[next])
	}
	prev := next - 1
	if prev >= 0 && l.free[prev].End > iv.Start {
		return errors.AssertionFailedf("double free: %s overlaps free interval %s", iv, l.free[prev])
	}

	l.freeCount += iv.Len()

	cur := next
	if prev >= 0 && l.free[prev].End == iv.Start {
		l.free[prev].End = iv.End
		cur = prev
	} else {
		l.free = append(l.free, Interval{})
		copy(l.free[next+1:], l.free[next:])
		l.free[next] = iv
	}

	// Indices after cur may have shifted; look at the neighbour again.
	if cur+1 < len(l.free) && l.free[cur].End == l.free[cur+1].Start {
		l.free[cur].End = l.free[cur+1].End
		l.free = append(l.free[:cur+1], l.free[cur+2:]...)
	}
	return nil
}

// Reset marks every slot free again.
func (l *IntervalList) Reset() {
	l.free = l.free[:0]
	if l.capacity > 0 {
		l.free = append(l.free, Interval{Start: 0, End: l.capacity})
	}
	l.freeCount = l.capacity
}

// Validate checks the list invariants: intervals are non-empty, in bounds,
// sorted, neither overlapping nor touching, and their total length equals the
// free count.
func (l *IntervalList) Validate() error {
	var total uint32
	for i, iv := range l.free {
		if iv.Start >= iv.End {
			return errors.AssertionFailedf("interval %d is empty: %s", i, iv)
		}
		if iv.End > l.capacity {
			return errors.AssertionFailedf("interval %d out of bounds: %s > %d", i, iv, l.capacity)
		}
		if i > 0 {
			prev := l.free[i-1]
			if prev.End > iv.Start {
				return errors.AssertionFailedf("intervals %d and %d overlap or are unsorted: %s %s", i-1, i, prev, iv)
			}
			if prev.End == iv.Start {
				return errors.AssertionFailedf("intervals %d and %d are adjacent but not merged: %s %s", i-1, i, prev, iv)
			}
		}
		total += iv.Len()
	}
	if total != l.freeCount {
		return errors.AssertionFailedf("free count %d does not match interval total %d", l.freeCount, total)
	}
	return nil
}
