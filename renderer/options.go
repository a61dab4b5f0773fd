package renderer

import "github.com/gogpu/gputypes"

// Default option values.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// DefaultClearColor is the back buffer clear color.
var DefaultClearColor = gputypes.Color{R: 0.5, G: 0.5, B: 0.5, A: 1}

// Option configures a Renderer.
type Option func(*options)

type options struct {
	width       uint32
	height      uint32
	workers     int
	allocUnit   uint32
	minRingSize int
	clearColor  gputypes.Color
	depthFormat gputypes.TextureFormat
	defaultPass bool
}

func defaultOptions() options {
	return options{
		width:       DefaultWidth,
		height:      DefaultHeight,
		clearColor:  DefaultClearColor,
		depthFormat: gputypes.TextureFormatDepth24PlusStencil8,
		defaultPass: true,
	}
}

// WithWindowSize sets the size of the default viewport and depth-stencil
// buffers. Zero values are ignored.
func WithWindowSize(width, height uint32) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.width = width
			o.height = height
		}
	}
}

// WithWorkers sets the number of recording workers.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithDescriptorAllocUnit sets the minimum descriptor heap store size.
func WithDescriptorAllocUnit(n uint32) Option {
	return func(o *options) {
		o.allocUnit = n
	}
}

// WithMinRingSize sets the minimum frame memory ring size in bytes.
func WithMinRingSize(n int) Option {
	return func(o *options) {
		o.minRingSize = n
	}
}

// WithClearColor sets the back buffer clear color.
func WithClearColor(c gputypes.Color) Option {
	return func(o *options) {
		o.clearColor = c
	}
}

// WithDepthFormat sets the format of the default depth-stencil buffers.
func WithDepthFormat(f gputypes.TextureFormat) Option {
	return func(o *options) {
		o.depthFormat = f
	}
}

// WithoutDefaultPass stops Start from adding a forward pass when no pass
// has been registered.
func WithoutDefaultPass() Option {
	return func(o *options) {
		o.defaultPass = false
	}
}
