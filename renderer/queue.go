package renderer

import "sync"

// renderQueue holds the units committed for one frame.
type renderQueue struct {
	mu    sync.Mutex
	units []*Unit
}

func (q *renderQueue) push(u *Unit) {
	u.queue = q
	q.mu.Lock()
	q.units = append(q.units, u)
	q.mu.Unlock()
}

// snapshot returns the units committed so far.
func (q *renderQueue) snapshot() []*Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.units[:len(q.units):len(q.units)]
}

func (q *renderQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// release drops the references held by every unit and empties the queue.
func (q *renderQueue) release() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.units)
	for i, u := range q.units {
		u.release()
		q.units[i] = nil
	}
	q.units = q.units[:0]
	return n
}
