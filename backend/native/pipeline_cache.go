package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrPipelineCacheDestroyed is returned by a cache after DestroyAll.
var ErrPipelineCacheDestroyed = errors.New("native: pipeline cache destroyed")

// MaterialDesc describes the pipeline state of a material.
type MaterialDesc struct {
	// Label is an optional debug name. It does not take part in lookups.
	Label string

	// Shader names the shader program.
	Shader string

	Topology    gputypes.PrimitiveTopology
	ColorFormat gputypes.TextureFormat

	// DepthFormat is TextureFormatUndefined for materials drawn without a
	// depth-stencil buffer.
	DepthFormat gputypes.TextureFormat

	// Descriptors is the size of the material's descriptor table.
	Descriptors uint32
}

func (d *MaterialDesc) hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.Shader))
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(d.Topology))
	binary.LittleEndian.PutUint32(buf[4:], uint32(d.ColorFormat))
	binary.LittleEndian.PutUint32(buf[8:], uint32(d.DepthFormat))
	binary.LittleEndian.PutUint32(buf[12:], d.Descriptors)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// PipelineCache shares render pipelines between materials with the same
// pipeline state. It is safe for concurrent use.
type PipelineCache struct {
	dev *Device

	mu        sync.RWMutex
	pipelines map[uint64]hal.RenderPipeline
	destroyed bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPipelineCache returns an empty cache creating pipelines on dev.
func NewPipelineCache(dev *Device) *PipelineCache {
	return &PipelineCache{dev: dev, pipelines: make(map[uint64]hal.RenderPipeline)}
}

// Material returns a new material for desc, creating its pipeline on first
// use. The pipeline outlives the material and is destroyed by DestroyAll.
func (c *PipelineCache) Material(desc MaterialDesc) (*Material, error) {
	pipeline, err := c.pipeline(&desc)
	if err != nil {
		return nil, err
	}
	return NewMaterial(pipeline, nil, desc.Descriptors), nil
}

func (c *PipelineCache) pipeline(desc *MaterialDesc) (hal.RenderPipeline, error) {
	key := desc.hash()

	c.mu.RLock()
	p, ok := c.pipelines[key]
	destroyed := c.destroyed
	c.mu.RUnlock()
	if destroyed {
		return nil, ErrPipelineCacheDestroyed
	}
	if ok {
		c.hits.Add(1)
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil, ErrPipelineCacheDestroyed
	}
	if p, ok := c.pipelines[key]; ok {
		c.hits.Add(1)
		return p, nil
	}

	halDesc := &hal.RenderPipelineDescriptor{
		Label:     desc.Label,
		Primitive: gputypes.PrimitiveState{Topology: desc.Topology},
	}
	p, err := c.dev.dev.CreateRenderPipeline(halDesc)
	if err != nil {
		return nil, fmt.Errorf("native: create pipeline %q: %w", desc.Shader, err)
	}
	c.pipelines[key] = p
	c.misses.Add(1)
	return p, nil
}

// Stats returns the cache hits and misses.
func (c *PipelineCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (c *PipelineCache) HitRate() float64 {
	hits, misses := c.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Len returns the number of cached pipelines.
func (c *PipelineCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pipelines)
}

// DestroyAll destroys every cached pipeline. Materials created from the
// cache must no longer be drawn.
func (c *PipelineCache) DestroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pipelines {
		c.dev.dev.DestroyRenderPipeline(p)
	}
	clear(c.pipelines)
	c.destroyed = true
}
