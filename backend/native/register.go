package native

import (
	"github.com/gogpu/wgpu/hal/noop"
	"go.uber.org/multierr"

	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/renderer"
)

func init() {
	backend.Register(backend.BackendNoop, openNoop)
}

// nativeBackend is a Device with its offscreen SwapChain.
type nativeBackend struct {
	name string
	dev  *Device
	swap *SwapChain
}

func (b *nativeBackend) Name() string                  { return b.name }
func (b *nativeBackend) Device() renderer.Device       { return b.dev }
func (b *nativeBackend) SwapChain() renderer.SwapChain { return b.swap }

func (b *nativeBackend) Close() error {
	b.swap.Release()
	return b.dev.Release()
}

// openNoop opens the native backend over the wgpu no-op HAL.
func openNoop(cfg backend.Config) (backend.Backend, error) {
	dev, err := NewDevice(&noop.Device{}, &noop.Queue{}, WithLabel("noop"))
	if err != nil {
		return nil, err
	}
	return Open(backend.BackendNoop, dev, cfg)
}

// Open wraps dev and a new offscreen swap chain as a backend.
func Open(name string, dev *Device, cfg backend.Config) (backend.Backend, error) {
	swap, err := NewSwapChain(dev, cfg.Width, cfg.Height, cfg.Format)
	if err != nil {
		return nil, multierr.Append(err, dev.Release())
	}
	return &nativeBackend{name: name, dev: dev, swap: swap}, nil
}
