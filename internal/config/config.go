// Package config loads frame simulation settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/gogpu/gputypes"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/renderer"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// Size is a byte count written as a human size such as "64KiB" or "1MB".
// Binary multiples are used for every suffix.
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	n, err := units.RAMInBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = Size(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s Size) String() string { return units.BytesSize(float64(s)) }

// Config is the complete simulation configuration.
type Config struct {
	Backend  string         `yaml:"backend"`
	Renderer RendererConfig `yaml:"renderer"`
	GPU      GPUConfig      `yaml:"gpu"`
	Run      RunConfig      `yaml:"run"`
	Log      LogConfig      `yaml:"log"`
}

// RendererConfig configures the frame scheduler.
type RendererConfig struct {
	Width       uint32     `yaml:"width"`
	Height      uint32     `yaml:"height"`
	Format      string     `yaml:"format"`
	DepthFormat string     `yaml:"depth_format"`
	Workers     int        `yaml:"workers"`
	ClearColor  [4]float64 `yaml:"clear_color"`
	Passes      []string   `yaml:"passes"`

	// DescriptorAllocUnit is the minimum descriptor heap size.
	DescriptorAllocUnit uint32 `yaml:"descriptor_alloc_unit"`

	// FrameMemory is the minimum size of a frame memory ring.
	FrameMemory Size `yaml:"frame_memory"`
}

// GPUConfig configures the simulated device.
type GPUConfig struct {
	FrameCost  time.Duration `yaml:"frame_cost"`
	FailAfter  uint64        `yaml:"fail_after"`
	HeapBudget uint64        `yaml:"heap_budget"`
}

// RunConfig describes the workload.
type RunConfig struct {
	Frames int     `yaml:"frames"`
	FPS    float64 `yaml:"fps"` // zero runs unpaced
	Units  int     `yaml:"units"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Backend: backend.BackendSim,
		Renderer: RendererConfig{
			Width:       renderer.DefaultWidth,
			Height:      renderer.DefaultHeight,
			Format:      gputypes.TextureFormatBGRA8Unorm.String(),
			DepthFormat: gputypes.TextureFormatDepth24PlusStencil8.String(),
			ClearColor: [4]float64{
				renderer.DefaultClearColor.R, renderer.DefaultClearColor.G,
				renderer.DefaultClearColor.B, renderer.DefaultClearColor.A,
			},
			Passes:      []string{renderer.PassForward.String()},
			FrameMemory: 64 * units.KiB,
		},
		GPU: GPUConfig{FrameCost: 4 * time.Millisecond},
		Run: RunConfig{Frames: 300, FPS: 60, Units: 256},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Backend == "" {
		invalid("backend is empty")
	}
	r := c.Renderer
	if r.Width == 0 || r.Height == 0 {
		invalid("window size %dx%d", r.Width, r.Height)
	}
	if f, ferr := ParseFormat(r.Format); ferr != nil {
		invalid("format: %v", ferr)
	} else if f.IsDepthStencil() {
		invalid("format %s is a depth format", r.Format)
	}
	if f, ferr := ParseFormat(r.DepthFormat); ferr != nil {
		invalid("depth_format: %v", ferr)
	} else if !f.IsDepthStencil() {
		invalid("depth_format %s is not a depth format", r.DepthFormat)
	}
	if r.Workers < 0 {
		invalid("workers %d", r.Workers)
	}
	for _, p := range r.Passes {
		if _, perr := ParsePass(p); perr != nil {
			invalid("passes: %v", perr)
		}
	}
	if r.FrameMemory < 0 {
		invalid("frame_memory %d", r.FrameMemory)
	}
	if c.GPU.FrameCost < 0 {
		invalid("frame_cost %v", c.GPU.FrameCost)
	}
	if c.Run.Frames < 0 || c.Run.Units < 0 || c.Run.FPS < 0 {
		invalid("run frames=%d units=%d fps=%g", c.Run.Frames, c.Run.Units, c.Run.FPS)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		invalid("log format %q", c.Log.Format)
	}
	return err
}

// ParseFormat returns the texture format named s, ignoring case.
func ParseFormat(s string) (gputypes.TextureFormat, error) {
	for f := gputypes.TextureFormatR8Unorm; f <= gputypes.TextureFormatASTC12x12UnormSrgb; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("unknown texture format %q", s)
}

// ParsePass returns the render pass named s, ignoring case.
func ParsePass(s string) (renderer.PassType, error) {
	for _, t := range []renderer.PassType{renderer.PassForward, renderer.PassDeferred} {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown render pass %q", s)
}

// RendererOptions converts the renderer section into options. The
// configuration must be valid.
func (c Config) RendererOptions() []renderer.Option {
	r := c.Renderer
	depth, _ := ParseFormat(r.DepthFormat)
	opts := []renderer.Option{
		renderer.WithWindowSize(r.Width, r.Height),
		renderer.WithWorkers(r.Workers),
		renderer.WithDepthFormat(depth),
		renderer.WithClearColor(gputypes.Color{
			R: r.ClearColor[0], G: r.ClearColor[1], B: r.ClearColor[2], A: r.ClearColor[3],
		}),
	}
	if r.DescriptorAllocUnit > 0 {
		opts = append(opts, renderer.WithDescriptorAllocUnit(r.DescriptorAllocUnit))
	}
	if r.FrameMemory > 0 {
		opts = append(opts, renderer.WithMinRingSize(int(r.FrameMemory)))
	}
	if len(r.Passes) > 0 {
		opts = append(opts, renderer.WithoutDefaultPass())
	}
	return opts
}

// PassTypes returns the configured passes in order.
func (c Config) PassTypes() []renderer.PassType {
	passes := make([]renderer.PassType, 0, len(c.Renderer.Passes))
	for _, p := range c.Renderer.Passes {
		if t, err := ParsePass(p); err == nil {
			passes = append(passes, t)
		}
	}
	return passes
}

// BackendConfig returns the device settings for backend.Open.
func (c Config) BackendConfig() backend.Config {
	format, _ := ParseFormat(c.Renderer.Format)
	return backend.Config{
		Width:     c.Renderer.Width,
		Height:    c.Renderer.Height,
		Format:    format,
		FrameCost: c.GPU.FrameCost,
	}
}
