package backend

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe/renderer"
)

// Backend names.
const (
	BackendNoop = "noop"
	BackendSim  = "sim"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Config describes the device and swap chain a backend opens.
type Config struct {
	// Width and Height are the back buffer size in pixels.
	Width, Height uint32

	// Format is the back buffer format. Zero selects BGRA8Unorm.
	Format gputypes.TextureFormat

	// FrameCost is the GPU time a frame takes on backends that simulate
	// execution. Backends that execute immediately ignore it.
	FrameCost time.Duration
}

func (c Config) withDefaults() Config {
	if c.Width == 0 || c.Height == 0 {
		c.Width, c.Height = renderer.DefaultWidth, renderer.DefaultHeight
	}
	if c.Format == gputypes.TextureFormatUndefined {
		c.Format = gputypes.TextureFormatBGRA8Unorm
	}
	return c
}

// Backend is an opened device with its swap chain.
type Backend interface {
	// Name returns the backend identifier (e.g., "noop", "sim").
	Name() string

	// Device returns the device frame resources are created on.
	Device() renderer.Device

	// SwapChain returns the swap chain frames are presented to.
	SwapChain() renderer.SwapChain

	// Close releases the swap chain and the device. The renderer using
	// them must have been shut down.
	Close() error
}
