package main

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/backend/native"
	"github.com/gogpu/gpuframe/internal/simgpu"
	"github.com/gogpu/gpuframe/renderer"
)

// materialCount is the number of distinct materials the workload cycles.
const materialCount = 4

// scene holds the geometry and materials units are built from.
type scene struct {
	vertices  renderer.VertexBuffer
	indices   renderer.IndexBuffer
	materials []renderer.Material
	pipelines *native.PipelineCache
}

// newScene creates the workload resources on the backend's device.
func newScene(b backend.Backend) (*scene, error) {
	s := &scene{}
	switch dev := b.Device().(type) {
	case *simgpu.Device:
		s.vertices = simgpu.NewVertexBuffer(24, 32)
		s.indices = simgpu.NewIndexBuffer(36, gputypes.IndexFormatUint16)
		for i := range materialCount {
			s.materials = append(s.materials, simgpu.NewMaterial(fmt.Sprintf("mat%d", i), uint32(i+1)))
		}
	case *native.Device:
		if err := s.initNative(dev); err != nil {
			s.release()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("framesim: no scene for %s device %T", b.Name(), dev)
	}
	return s, nil
}

func (s *scene) initNative(dev *native.Device) error {
	vb, err := dev.CreateVertexBuffer(make([]byte, 24*32), 24, 32)
	if err != nil {
		return err
	}
	s.vertices = vb
	ib, err := dev.CreateIndexBuffer(make([]byte, 36*2), gputypes.IndexFormatUint16)
	if err != nil {
		return err
	}
	s.indices = ib

	s.pipelines = native.NewPipelineCache(dev)
	for i := range materialCount {
		m, err := s.pipelines.Material(native.MaterialDesc{
			Label:       fmt.Sprintf("framesim mat%d", i),
			Shader:      "framesim",
			ColorFormat: gputypes.TextureFormatBGRA8Unorm,
			DepthFormat: gputypes.TextureFormatDepth24PlusStencil8,
			Descriptors: uint32(i + 1),
		})
		if err != nil {
			return err
		}
		s.materials = append(s.materials, m)
	}
	return nil
}

// build fills u with unit i of the workload.
func (s *scene) build(u *renderer.RenderUnit, i int) {
	_ = u.SetVertexBuffer(0, s.vertices)
	u.SetMaterial(s.materials[i%len(s.materials)])
	if i%4 == 0 {
		u.SetIndexBuffer(s.indices)
	}
	t := renderer.Identity()
	t[12] = float32(i%32) - 16
	t[13] = float32(i/32%32) - 16
	u.SetTransform(t)
}

func (s *scene) release() {
	if s.vertices != nil {
		s.vertices.Release()
	}
	if s.indices != nil {
		s.indices.Release()
	}
	for _, m := range s.materials {
		m.Release()
	}
	if s.pipelines != nil {
		s.pipelines.DestroyAll()
	}
}
