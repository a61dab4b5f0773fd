package renderer

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpuframe/descriptor"
)

// SlotState is the state of a frame resource slot.
type SlotState int32

const (
	// SlotIdle means the slot has never been submitted.
	SlotIdle SlotState = iota

	// SlotSubmitted means GPU work of the slot's frame may be in flight.
	SlotSubmitted

	// SlotRetired means the slot's fence has been observed complete.
	SlotRetired
)

// String returns the string representation of SlotState.
func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "Idle"
	case SlotSubmitted:
		return "Submitted"
	case SlotRetired:
		return "Retired"
	default:
		return fmt.Sprintf("SlotState(%d)", int32(s))
	}
}

// frameResource is one of the renderer's buffered frame slots.
type frameResource struct {
	fence        Fence
	frame        uint64
	depthStencil DepthStencilBuffer
	dsv          *descriptor.Allocation
	queue        *renderQueue
	state        atomic.Int32
}

func (f *frameResource) setState(s SlotState) { f.state.Store(int32(s)) }
func (f *frameResource) getState() SlotState  { return SlotState(f.state.Load()) }

// releaseQueue drops the units of the slot's last frame.
func (f *frameResource) releaseQueue() int {
	if f.queue == nil {
		return 0
	}
	return f.queue.release()
}
