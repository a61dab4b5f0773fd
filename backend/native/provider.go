package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe"
)

// halProvider is implemented by device providers that expose their HAL
// objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewDeviceFromProvider creates a Device sharing the GPU device of an
// application framework such as gogpu.
//
// The provider's Device and Queue are used when they are HAL objects;
// otherwise the provider must implement HalDevice() any and HalQueue() any.
func NewDeviceFromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if p == nil {
		return nil, ErrNilDevice
	}
	dev, devOK := p.Device().(hal.Device)
	queue, queueOK := p.Queue().(hal.Queue)
	if !devOK || !queueOK {
		hp, ok := p.(halProvider)
		if !ok {
			return nil, ErrNoHALAccess
		}
		dev, devOK = hp.HalDevice().(hal.Device)
		queue, queueOK = hp.HalQueue().(hal.Queue)
		if !devOK || !queueOK {
			return nil, fmt.Errorf("%w: HalDevice is %T, HalQueue is %T", ErrNoHALAccess, hp.HalDevice(), hp.HalQueue())
		}
	}

	info := p.AdapterInfo()
	gpuframe.Logger().Info("native: using shared device",
		"adapter", info.Name, "type", info.Type, "surfaceFormat", p.SurfaceFormat())
	return NewDevice(dev, queue, opts...)
}
