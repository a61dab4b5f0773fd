package simgpu

import (
	"fmt"
	"sync"
)

// Fence is a timeline signaled by the device goroutine. Waiters block on a
// condition variable; device loss wakes them with an error.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	cond      *sync.Cond
	target    uint64
	completed uint64
	waits     uint64
	released  bool
}

// SetTargetValue queues a signal of v behind all submitted work.
func (f *Fence) SetTargetValue(v uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return fmt.Errorf("%w: fence released", ErrDeviceLost)
	}
	if v <= f.target {
		return fmt.Errorf("%w: %d after %d", ErrFenceValue, v, f.target)
	}
	if err := f.dev.submit(f, v); err != nil {
		return err
	}
	f.target = v
	return nil
}

// TargetValue returns the last value passed to SetTargetValue.
func (f *Fence) TargetValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// CompletedValue returns the last value the device has signaled.
func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// WaitForTarget blocks until the device signals the target value.
func (f *Fence) WaitForTarget() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed < f.target {
		f.waits++
	}
	for f.completed < f.target {
		if err := f.dev.Err(); err != nil {
			return err
		}
		f.cond.Wait()
	}
	return nil
}

// Waits returns how many WaitForTarget calls had to block.
func (f *Fence) Waits() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

// Release removes the fence from the device.
func (f *Fence) Release() {
	f.mu.Lock()
	released := f.released
	f.released = true
	f.mu.Unlock()
	if !released {
		f.dev.removeFence(f)
	}
}

func (f *Fence) signal(v uint64) {
	f.mu.Lock()
	if v > f.completed {
		f.completed = v
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *Fence) wake() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}
