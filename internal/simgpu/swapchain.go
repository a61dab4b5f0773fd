package simgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/renderer"
)

// SwapChain is an offscreen swap chain of FrameCount back buffers.
// Present rotates the back buffers in order unless a custom order is set.
type SwapChain struct {
	mu       sync.Mutex
	targets  [gpuframe.FrameCount]*Texture
	order    []int
	presents uint64
	index    int
	released bool
}

// NewSwapChain creates the back buffers.
func NewSwapChain(width, height uint32, format gputypes.TextureFormat) (*SwapChain, error) {
	if format.IsDepthStencil() {
		return nil, fmt.Errorf("%w: back buffer format %v", renderer.ErrInvalidFormat, format)
	}
	s := &SwapChain{}
	for i := range s.targets {
		s.targets[i] = NewRenderTarget(width, height, format)
	}
	return s, nil
}

// SetPresentOrder makes Present cycle through order instead of rotating.
// Presentation engines may hand out back buffers in any order.
func (s *SwapChain) SetPresentOrder(order ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order[:0], order...)
	if len(s.order) > 0 {
		s.index = s.order[s.presents%uint64(len(s.order))]
	}
}

// CurrentBackBufferIndex implements renderer.SwapChain.
func (s *SwapChain) CurrentBackBufferIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// CurrentRenderTarget implements renderer.SwapChain.
func (s *SwapChain) CurrentRenderTarget() renderer.RenderTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	return s.targets[s.index]
}

// BackBuffer returns back buffer i.
func (s *SwapChain) BackBuffer(i int) *Texture { return s.targets[i] }

// Present implements renderer.SwapChain.
func (s *SwapChain) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("%w: swap chain released", ErrDeviceLost)
	}
	s.presents++
	if len(s.order) > 0 {
		s.index = s.order[s.presents%uint64(len(s.order))]
	} else {
		s.index = (s.index + 1) % len(s.targets)
	}
	return nil
}

// Presents returns the number of frames presented.
func (s *SwapChain) Presents() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// Release implements renderer.SwapChain.
func (s *SwapChain) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	for _, t := range s.targets {
		t.Release()
	}
}
