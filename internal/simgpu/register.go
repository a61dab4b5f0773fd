package simgpu

import (
	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/renderer"
)

func init() {
	backend.Register(backend.BackendSim, func(cfg backend.Config) (backend.Backend, error) {
		return Open(cfg)
	})
}

// Backend is a simulated device with its swap chain.
type Backend struct {
	dev  *Device
	swap *SwapChain
}

// Open starts a simulated device sized by cfg.
func Open(cfg backend.Config, opts ...Option) (*Backend, error) {
	swap, err := NewSwapChain(cfg.Width, cfg.Height, cfg.Format)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithFrameCost(cfg.FrameCost)}, opts...)
	return &Backend{dev: New(opts...), swap: swap}, nil
}

func (b *Backend) Name() string                  { return backend.BackendSim }
func (b *Backend) Device() renderer.Device       { return b.dev }
func (b *Backend) SwapChain() renderer.SwapChain { return b.swap }

// Sim returns the simulated device and swap chain.
func (b *Backend) Sim() (*Device, *SwapChain) { return b.dev, b.swap }

// Close releases the swap chain and stops the device.
func (b *Backend) Close() error {
	b.swap.Release()
	b.dev.Close()
	return nil
}
