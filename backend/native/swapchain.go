package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/renderer"
)

// SwapChain is an offscreen swap chain of gpuframe.FrameCount color
// textures presented in round-robin order.
type SwapChain struct {
	mu       sync.Mutex
	targets  [gpuframe.FrameCount]*Texture
	index    int
	presents uint64
	released bool
}

// NewSwapChain creates the back buffers on dev.
func NewSwapChain(dev *Device, width, height uint32, format gputypes.TextureFormat) (*SwapChain, error) {
	if format.IsDepthStencil() {
		return nil, fmt.Errorf("%w: %s", renderer.ErrInvalidFormat, format)
	}
	s := &SwapChain{}
	for i := range s.targets {
		t, err := dev.CreateRenderTarget(width, height, format)
		if err != nil {
			s.Release()
			return nil, fmt.Errorf("native: back buffer %d: %w", i, err)
		}
		s.targets[i] = t
	}
	return s, nil
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
func (s *SwapChain) BackBuffer(i int) *Texture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[i]
}

// Present advances to the next back buffer.
func (s *SwapChain) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrDestroyed
	}
	s.presents++
	s.index = (s.index + 1) % len(s.targets)
	return nil
}

// Presents returns the number of presented frames.
func (s *SwapChain) Presents() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// Release drops the swap chain's reference on every back buffer.
func (s *SwapChain) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	for i, t := range s.targets {
		if t != nil {
			t.Release()
			s.targets[i] = nil
		}
	}
}
