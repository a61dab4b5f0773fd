package renderer

import "fmt"

// Event identifies a point of the frame cycle callbacks can hook into.
type Event int

const (
	// EventFrameBegin fires once the frame's slot has been recycled.
	EventFrameBegin Event = iota

	// EventFrameUpdate fires after the render targets are cleared and
	// before the render passes run.
	EventFrameUpdate

	// EventFrameEnd fires after the render passes and before the frame is
	// submitted.
	EventFrameEnd

	numEvents
)

// String returns the string representation of Event.
func (e Event) String() string {
	switch e {
	case EventFrameBegin:
		return "FrameBegin"
	case EventFrameUpdate:
		return "FrameUpdate"
	case EventFrameEnd:
		return "FrameEnd"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Callback is invoked on the render loop goroutine.
type Callback func(r *Renderer)

// RegisterCallback adds fn to the callbacks of ev. Callbacks run in
// registration order. Units committed from a callback are rendered in the
// next frame.
func (r *Renderer) RegisterCallback(ev Event, fn Callback) {
	if ev < 0 || ev >= numEvents || fn == nil {
		return
	}
	r.cbMu.Lock()
	r.callbacks[ev] = append(r.callbacks[ev], fn)
	r.cbMu.Unlock()
}

func (r *Renderer) fire(ev Event) {
	r.cbMu.Lock()
	cbs := r.callbacks[ev]
	r.cbMu.Unlock()
	for _, fn := range cbs {
		fn(r)
	}
}
