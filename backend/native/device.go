// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements the renderer's device interfaces on top of the
// gogpu/wgpu hardware abstraction layer.
//
// Descriptor heaps are storage buffers sized to hold their descriptors,
// fences track queue submission indices, and draws recorded by the
// renderer's workers are encoded into one command buffer per frame when the
// frame's fence target is set.
package native

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/descriptor"
	"github.com/gogpu/gpuframe/renderer"
)

// DefaultWaitSlice is how long a fence wait sleeps between polls.
const DefaultWaitSlice = time.Millisecond

// descriptor sizes in bytes, per heap type.
var incrementSizes = [...]uint32{
	descriptor.HeapTypeCBVSRVUAV: 32,
	descriptor.HeapTypeSampler:   16,
	descriptor.HeapTypeRTV:       32,
	descriptor.HeapTypeDSV:       32,
}

// heapAddressAlign keeps the handle ranges of different heaps apart.
const heapAddressAlign = 1 << 16

// Option configures a Device.
type Option func(*Device)

// WithWaitSlice sets the polling interval of fence waits.
func WithWaitSlice(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.waitSlice = d
		}
	}
}

// WithLabel sets the prefix of debug labels given to HAL objects.
func WithLabel(label string) Option {
	return func(dev *Device) {
		dev.label = label
	}
}

// submission is a command buffer the GPU may still execute.
type submission struct {
	index   uint64
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
}

// Device implements renderer.Device on a HAL device and queue.
//
// Device is safe for concurrent use. Submissions happen on the goroutine
// that sets fence targets, which is the renderer's frame loop.
type Device struct {
	dev       hal.Device
	queue     hal.Queue
	label     string
	waitSlice time.Duration

	recorder   *Recorder
	nextHandle atomic.Uint64
	lost       atomic.Pointer[error]

	mu       sync.Mutex
	inflight []submission
	submits  uint64
	released bool
}

// NewDevice wraps a HAL device and queue. The caller keeps ownership of
// both; Release only frees what the Device created.
func NewDevice(dev hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, ErrNilDevice
	}
	d := &Device{
		dev:       dev,
		queue:     queue,
		label:     "gpuframe",
		waitSlice: DefaultWaitSlice,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.recorder = newRecorder(d)
	d.nextHandle.Store(heapAddressAlign)
	return d, nil
}

// HAL returns the wrapped device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.dev, d.queue }

// CommandRecorder implements renderer.RecorderProvider.
func (d *Device) CommandRecorder() renderer.CommandRecorder { return d.recorder }

// Recorder returns the device's command recorder.
func (d *Device) Recorder() *Recorder { return d.recorder }

// IncrementSize implements descriptor.Device.
func (d *Device) IncrementSize(t descriptor.HeapType) uint32 {
	if int(t) < len(incrementSizes) {
		return incrementSizes[t]
	}
	return 0
}

// CreateHeap implements descriptor.Device. The heap is backed by a storage
// buffer holding desc.Count descriptors.
func (d *Device) CreateHeap(desc descriptor.HeapDesc) (descriptor.Heap, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	size := uint64(desc.Count) * uint64(d.IncrementSize(desc.Type))
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("%s %s heap", d.label, desc.Type),
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create %s heap of %d descriptors: %w", desc.Type, desc.Count, err)
	}

	span := (size + heapAddressAlign - 1) &^ (heapAddressAlign - 1)
	base := d.nextHandle.Add(span+heapAddressAlign) - span - heapAddressAlign
	h := &heap{dev: d.dev, buf: buf, size: size, cpu: descriptor.Handle(base)}
	if desc.ShaderVisible {
		h.gpu = descriptor.Handle(base) | gpuHandleBit
	}
	gpuframe.Logger().Debug("native: descriptor heap created",
		"type", desc.Type, "count", desc.Count, "bytes", size, "shaderVisible", desc.ShaderVisible)
	return h, nil
}

// CreateFence implements renderer.Device.
func (d *Device) CreateFence() (renderer.Fence, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &Fence{dev: d}, nil
}

// CreateDepthStencilBuffer implements renderer.Device.
func (d *Device) CreateDepthStencilBuffer(width, height uint32, format gputypes.TextureFormat) (renderer.DepthStencilBuffer, error) {
	if !format.IsDepthStencil() {
		return nil, fmt.Errorf("%w: %s", renderer.ErrInvalidFormat, format)
	}
	tex, err := d.createTexture("depth-stencil", width, height, format, gputypes.TextureUsageRenderAttachment)
	if err != nil {
		return nil, err
	}
	return &DepthStencilBuffer{Texture: tex, depthClear: 1}, nil
}

// CreateRenderTarget creates a color texture usable as a custom render
// target of a render unit.
func (d *Device) CreateRenderTarget(width, height uint32, format gputypes.TextureFormat) (*Texture, error) {
	return d.createTexture("render target", width, height, format,
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageCopySrc|gputypes.TextureUsageTextureBinding)
}

func (d *Device) createTexture(what string, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*Texture, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	label := fmt.Sprintf("%s %s", d.label, what)
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create %s %dx%d %s: %w", what, width, height, format, err)
	}
	view, err := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + " view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return nil, fmt.Errorf("native: create %s view: %w", what, err)
	}
	t := &Texture{tex: tex, view: view, width: width, height: height, format: format}
	t.Init(func() {
		d.dev.DestroyTextureView(view)
		d.dev.DestroyTexture(tex)
	})
	return t, nil
}

// CreateVertexBuffer uploads data into a new vertex buffer of count
// vertices, stride bytes each.
func (d *Device) CreateVertexBuffer(data []byte, count, stride uint32) (*Buffer, error) {
	if uint64(len(data)) != uint64(count)*uint64(stride) {
		return nil, errors.Newf("native: vertex data is %d bytes, want %d x %d", len(data), count, stride)
	}
	b, err := d.createBuffer("vertex buffer", data, gputypes.BufferUsageVertex)
	if err != nil {
		return nil, err
	}
	b.count = count
	b.stride = stride
	return b, nil
}

// CreateIndexBuffer uploads data into a new index buffer.
func (d *Device) CreateIndexBuffer(data []byte, format gputypes.IndexFormat) (*Buffer, error) {
	size := uint64(format.Size())
	if size == 0 || uint64(len(data))%size != 0 {
		return nil, errors.Newf("native: index data of %d bytes does not hold %s indices", len(data), format)
	}
	b, err := d.createBuffer("index buffer", data, gputypes.BufferUsageIndex)
	if err != nil {
		return nil, err
	}
	b.count = uint32(uint64(len(data)) / size)
	b.indexFormat = format
	return b, nil
}

func (d *Device) createBuffer(what string, data []byte, usage gputypes.BufferUsage) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.Newf("native: empty %s", what)
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("%s %s", d.label, what),
		Size:  uint64(len(data)),
		Usage: usage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create %s of %d bytes: %w", what, len(data), err)
	}
	if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
		d.dev.DestroyBuffer(buf)
		return nil, fmt.Errorf("native: upload %s: %w", what, err)
	}
	b := &Buffer{buf: buf, size: uint64(len(data))}
	b.Init(func() { d.dev.DestroyBuffer(buf) })
	return b, nil
}

// submit encodes everything recorded since the last submission into one
// command buffer and submits it. It returns the queue submission index.
func (d *Device) submit(label string) (uint64, error) {
	if err := d.checkLost(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return 0, ErrDestroyed
	}
	d.reclaimLocked()

	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return 0, d.setLost(fmt.Errorf("native: create command encoder: %w", err))
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.Destroy()
		return 0, d.setLost(fmt.Errorf("native: begin encoding %s: %w", label, err))
	}
	d.recorder.encode(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.DiscardEncoding()
		enc.Destroy()
		return 0, d.setLost(fmt.Errorf("native: end encoding %s: %w", label, err))
	}
	index, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		d.dev.FreeCommandBuffer(cmd)
		enc.Destroy()
		return 0, d.setLost(fmt.Errorf("native: submit %s: %w", label, err))
	}
	d.inflight = append(d.inflight, submission{index: index, encoder: enc, cmd: cmd})
	d.submits++
	return index, nil
}

// pollCompleted returns the highest finished submission index and frees
// the command buffers of finished submissions.
func (d *Device) pollCompleted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reclaimLocked()
}

func (d *Device) reclaimLocked() uint64 {
	done := d.queue.PollCompleted()
	n := 0
	for _, s := range d.inflight {
		if s.index > done {
			break
		}
		d.dev.FreeCommandBuffer(s.cmd)
		s.encoder.Destroy()
		n++
	}
	if n > 0 {
		clear(d.inflight[:n])
		d.inflight = d.inflight[n:]
	}
	return done
}

// InFlight returns the number of submissions not yet known to be finished.
func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reclaimLocked()
	return len(d.inflight)
}

// Submissions returns the number of command buffers submitted.
func (d *Device) Submissions() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func (d *Device) setLost(err error) error {
	err = fmt.Errorf("%w: %w", ErrDeviceLost, err)
	if d.lost.CompareAndSwap(nil, &err) {
		gpuframe.Logger().Error("native: device lost", "err", err)
	}
	return err
}

func (d *Device) checkLost() error {
	if errp := d.lost.Load(); errp != nil {
		return *errp
	}
	return nil
}

// Release waits for the GPU to go idle and frees every command buffer.
// The HAL device and queue stay alive.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	err := d.dev.WaitIdle()
	for _, s := range d.inflight {
		d.dev.FreeCommandBuffer(s.cmd)
		s.encoder.Destroy()
	}
	d.inflight = nil
	if err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	return nil
}
