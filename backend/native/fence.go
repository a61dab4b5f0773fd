// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpuframe"
)

// fenceSignal maps a fence value to the submission that completes it.
type fenceSignal struct {
	value uint64
	index uint64
}

// Fence implements renderer.Fence on queue submission indices.
//
// SetTargetValue submits the commands recorded so far; the value completes
// once the queue reports that submission finished.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	target    uint64
	completed uint64
	pending   []fenceSignal
	released  bool
}

// SetTargetValue submits the recorded commands, completing v once they finish.
func (f *Fence) SetTargetValue(v uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrDestroyed
	}
	if v <= f.target {
		return fmt.Errorf("%w: %d after %d", ErrFenceValue, v, f.target)
	}
	index, err := f.dev.submit(fmt.Sprintf("%s frame %d", f.dev.label, v))
	if err != nil {
		return err
	}
	f.target = v
	f.pending = append(f.pending, fenceSignal{value: v, index: index})
	return nil
}

// TargetValue returns the last value passed to SetTargetValue.
func (f *Fence) TargetValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// CompletedValue returns the highest value whose submission has finished.
func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollLocked()
}

func (f *Fence) pollLocked() uint64 {
	if len(f.pending) == 0 {
		return f.completed
	}
	done := f.dev.pollCompleted()
	n := 0
	for _, s := range f.pending {
		if s.index > done {
			break
		}
		f.completed = s.value
		n++
	}
	f.pending = f.pending[n:]
	return f.completed
}

// WaitForTarget polls the queue until the target value completes. It has no
// timeout; it fails only once the device is lost.
func (f *Fence) WaitForTarget() error {
	target := f.TargetValue()
	if f.CompletedValue() >= target {
		return nil
	}

	start := time.Now()
	ticker := time.NewTicker(f.dev.waitSlice)
	defer ticker.Stop()
	for slice := 1; ; slice++ {
		<-ticker.C
		if err := f.dev.checkLost(); err != nil {
			return err
		}
		completed := f.CompletedValue()
		if completed >= target {
			return nil
		}
		gpuframe.Logger().Debug("native: waiting for fence",
			"target", target, "completed", completed, "slice", slice, "elapsed", time.Since(start))
	}
}

// Release drops the fence. Pending values are forgotten.
func (f *Fence) Release() {
	f.mu.Lock()
	f.released = true
	f.pending = nil
	f.mu.Unlock()
}
