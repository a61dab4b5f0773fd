package framealloc

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// frameMarker records the span of ring memory written during one frame.
// The span starts at offset and covers size bytes, wrapping at the end of the
// ring. Alignment padding and the unused tail skipped on wrap-around are part
// of the span.
type frameMarker struct {
	offset int
	size   int
	frame  uint64
}

// ringBuffer is a circular byte arena. Memory between head and tail (going
// forward, wrapping at capacity) belongs to finished frames that have not
// been released yet, or to the currently open frame.
type ringBuffer struct {
	mem []byte

	head int
	tail int
	used int

	frameStart int
	frameSize  int

	markers []frameMarker
}

func newRingBuffer(size int) (*ringBuffer, error) {
	mem, err := mapMemory(size)
	if err != nil {
		return nil, err
	}
	return &ringBuffer{mem: mem}, nil
}

func (r *ringBuffer) capacity() int { return len(r.mem) }

// alloc reserves n bytes aligned to align and returns their offset.
// It fails when the bytes would overwrite memory of an unreleased frame.
func (r *ringBuffer) alloc(n, align int) (int, bool) {
	capacity := len(r.mem)
	if n <= 0 || n > capacity || r.used == capacity {
		return 0, false
	}

	if r.tail >= r.head {
		// Free space is [tail, capacity) followed by [0, head).
		start := alignUp(r.tail, align)
		if start+n <= capacity {
			r.commit(start, n, start+n-r.tail)
			return start, true
		}
		if n <= r.head {
			// Skip the rest of the ring and restart at zero.
			r.commit(0, n, capacity-r.tail+n)
			return 0, true
		}
		return 0, false
	}

	// Free space is [tail, head).
	start := alignUp(r.tail, align)
	if start+n <= r.head {
		r.commit(start, n, start+n-r.tail)
		return start, true
	}
	return 0, false
}

// commit moves tail to the end of [start, start+n) and charges consumed
// bytes, including padding, to the open frame.
func (r *ringBuffer) commit(start, n, consumed int) {
	r.tail = start + n
	r.used += consumed
	r.frameSize += consumed
}

// finishFrame closes the open span as a marker for frame.
func (r *ringBuffer) finishFrame(frame uint64) {
	if n := len(r.markers); n > 0 && r.markers[n-1].frame >= frame {
		panic(errors.AssertionFailedf("framealloc: frame %d finished after frame %d", frame, r.markers[n-1].frame))
	}
	r.markers = append(r.markers, frameMarker{offset: r.frameStart, size: r.frameSize, frame: frame})
	r.frameStart = r.tail
	r.frameSize = 0
}

// releaseFramesBefore frees the spans of all finished frames up to and
// including frame, oldest first.
func (r *ringBuffer) releaseFramesBefore(frame uint64) {
	released := 0
	for _, m := range r.markers {
		if m.frame > frame {
			break
		}
		released++
		if m.size == 0 {
			// Empty frames own no bytes; their offset may predate a reset.
			continue
		}
		if m.offset != r.head {
			panic(errors.AssertionFailedf("framealloc: marker of frame %d at %d does not start at head %d", m.frame, m.offset, r.head))
		}
		r.head = (m.offset + m.size) % len(r.mem)
		r.used -= m.size
	}
	if released == 0 {
		return
	}
	r.markers = append(r.markers[:0], r.markers[released:]...)

	if r.used == 0 {
		r.head = 0
		r.tail = 0
		r.frameStart = 0
	}
}

// pending returns the number of finished frames not yet released.
func (r *ringBuffer) pending() int { return len(r.markers) }

func (r *ringBuffer) free() error {
	if r.mem == nil {
		return nil
	}
	err := unmapMemory(r.mem)
	r.mem = nil
	return err
}

func (r *ringBuffer) String() string {
	return fmt.Sprintf("ring[cap=%d head=%d tail=%d used=%d open=%d markers=%d]",
		len(r.mem), r.head, r.tail, r.used, r.frameSize, len(r.markers))
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
