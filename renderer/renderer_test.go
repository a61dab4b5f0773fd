package renderer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/descriptor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startRenderer(t *testing.T, opts ...Option) (*Renderer, *mockDevice, *mockSwapChain) {
	t.Helper()
	dev := newMockDevice()
	swap := newMockSwapChain()
	opts = append([]Option{WithWorkers(4)}, opts...)
	r := New(dev, swap, opts...)
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		_ = r.ShutDown()
	})
	return r, dev, swap
}

func commitTriangle(t *testing.T, r *Renderer, vb VertexBuffer, m Material) *Unit {
	t.Helper()
	u := NewRenderUnit()
	require.NoError(t, u.SetVertexBuffer(0, vb))
	u.SetMaterial(m)
	unit, err := r.CommitRenderUnit(u)
	require.NoError(t, err)
	u.Reset()
	return unit
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestRenderer_NotStarted(t *testing.T) {
	r := New(newMockDevice(), newMockSwapChain())

	require.ErrorIs(t, r.Render(), ErrNotStarted)
	_, err := r.CommitRenderUnit(NewRenderUnit())
	require.ErrorIs(t, err, ErrNotStarted)
	require.ErrorIs(t, r.Parallel(1, func(int, int) {}), ErrNotStarted)
	require.NoError(t, r.ShutDown())
	require.Zero(t, r.Workers())
	require.Nil(t, r.DefaultDepthStencilBuffer())
}

func TestRenderer_StartCreatesFrameResources(t *testing.T) {
	r, dev, _ := startRenderer(t, WithWindowSize(640, 480))

	require.True(t, r.Started())
	require.Len(t, dev.fences, gpuframe.FrameCount)
	require.Len(t, dev.depthBuffers, gpuframe.FrameCount)
	for i, ds := range dev.depthBuffers {
		require.Equal(t, uint32(640), ds.width)
		require.Equal(t, gputypes.TextureFormatDepth24PlusStencil8, ds.format)
		require.NotNil(t, r.frames[i].dsv)
		require.Equal(t, SlotIdle, r.SlotState(i))
	}
	require.Equal(t, 4, r.Workers())
	require.Equal(t, []PassType{PassForward}, r.PassTypes())

	// Start is idempotent.
	require.NoError(t, r.Start())
	require.Len(t, dev.fences, gpuframe.FrameCount)
}

func TestRenderer_StartInvalidDepthFormat(t *testing.T) {
	dev := newMockDevice()
	r := New(dev, newMockSwapChain(), WithDepthFormat(gputypes.TextureFormatRGBA8Unorm))

	err := r.Start()
	require.ErrorIs(t, err, ErrInvalidFormat)
	require.False(t, r.Started())
	require.Len(t, dev.fences, 1)
	require.True(t, dev.fences[0].released)
}

func TestRenderer_StartFenceFailure(t *testing.T) {
	dev := newMockDevice()
	dev.failFence = true
	r := New(dev, newMockSwapChain())

	require.ErrorIs(t, r.Start(), errGPUHang)
	require.False(t, r.Started())
}

func TestRenderer_ShutDownReleasesEverything(t *testing.T) {
	dev := newMockDevice()
	swap := newMockSwapChain()
	r := New(dev, swap, WithWorkers(2))
	require.NoError(t, r.Start())

	vb := newVertexBuffer(3)
	for range 2 {
		commitTriangle(t, r, vb, nil)
		require.NoError(t, r.Render())
	}
	// Committed but never rendered.
	commitTriangle(t, r, vb, nil)
	require.Equal(t, int64(4), vb.Refs())

	require.NoError(t, r.ShutDown())
	require.False(t, r.Started())
	require.Equal(t, int64(1), vb.Refs())
	for _, f := range dev.fences {
		require.True(t, f.released)
		require.Equal(t, f.target, f.completed)
	}
	for _, ds := range dev.depthBuffers {
		require.True(t, ds.destroyed)
	}
	for _, rt := range swap.targets {
		require.Equal(t, int64(1), rt.Refs())
	}
	require.NoError(t, r.ShutDown())
}

func TestRenderer_Restart(t *testing.T) {
	dev := newMockDevice()
	r := New(dev, newMockSwapChain(), WithWorkers(2))
	for range 2 {
		require.NoError(t, r.Start())
		commitTriangle(t, r, newVertexBuffer(3), nil)
		require.NoError(t, r.Render())
		require.Equal(t, uint64(1), r.CurrentFrame())
		require.NoError(t, r.ShutDown())
	}
	require.Len(t, dev.fences, 2*gpuframe.FrameCount)
}

// =============================================================================
// Frame cycle
// =============================================================================

func TestRenderer_RenderDrawsCommittedUnits(t *testing.T) {
	r, dev, swap := startRenderer(t)
	vb := newVertexBuffer(6)

	for range 5 {
		commitTriangle(t, r, vb, nil)
	}
	require.Equal(t, 5, r.PendingUnits())
	require.NoError(t, r.Render())

	draws := dev.recorder.take()
	require.Len(t, draws, 5)
	for _, d := range draws {
		require.Equal(t, uint64(1), d.cmd.Frame)
		require.Equal(t, uint32(6), d.cmd.Count)
		require.False(t, d.cmd.Indexed)
		require.Equal(t, Identity(), d.cmd.WorldViewProjection)
	}
	require.Zero(t, r.PendingUnits())
	require.Equal(t, 1, swap.presents)
	require.Equal(t, 1, dev.recorder.colorClears)
	require.Equal(t, 1, dev.recorder.depthClears)
	require.Equal(t, DefaultClearColor, dev.recorder.lastColor)

	stats := r.LastFrameStats()
	require.Equal(t, uint64(1), stats.Frame)
	require.Equal(t, 0, stats.FrameIndex)
	require.Equal(t, 5, stats.Units)
	require.Equal(t, 5, stats.Draws)
	require.Zero(t, stats.Skipped)
}

func TestRenderer_SkipsEmptyUnits(t *testing.T) {
	r, dev, _ := startRenderer(t)

	_, err := r.CommitRenderUnit(NewRenderUnit())
	require.NoError(t, err)
	commitTriangle(t, r, newVertexBuffer(3), nil)
	require.NoError(t, r.Render())

	require.Len(t, dev.recorder.take(), 1)
	require.Equal(t, 1, r.LastFrameStats().Skipped)
}

func TestRenderer_SlotReuseWaitsForFence(t *testing.T) {
	r, dev, _ := startRenderer(t)

	for frame := 1; frame <= gpuframe.FrameCount; frame++ {
		require.NoError(t, r.Render())
		require.Equal(t, SlotSubmitted, r.SlotState(frame-1))
	}
	// Every slot has been submitted once and none has been waited on.
	for _, f := range dev.fences {
		require.Zero(t, f.waits)
		require.True(t, f.outstanding())
	}

	require.NoError(t, r.Render())
	require.Equal(t, 1, dev.fences[0].waits)
	require.Equal(t, uint64(gpuframe.FrameCount+1), dev.fences[0].target)
	require.Equal(t, uint64(1), dev.fences[0].completed)

	for range 20 {
		require.NoError(t, r.Render())
	}
	require.LessOrEqual(t, dev.outstandingPeak(), gpuframe.FrameCount)
	require.Equal(t, uint64(24), r.CurrentFrame())
}

func TestRenderer_SlotFollowsSwapChain(t *testing.T) {
	r, _, swap := startRenderer(t)

	for i := range 7 {
		want := swap.CurrentBackBufferIndex()
		require.Equal(t, want, r.FrameResourceIndex())
		require.NoError(t, r.Render())
		require.Equal(t, want, r.LastFrameStats().FrameIndex, "frame %d", i+1)
	}
}

// requireQueuesDisjoint checks that no render queue is shared between the
// current frame and a slot, or between two slots.
func requireQueuesDisjoint(t *testing.T, r *Renderer) {
	t.Helper()
	seen := map[*renderQueue]string{r.current.Load(): "current"}
	for i := range r.frames {
		q := r.frames[i].queue
		if q == nil {
			continue
		}
		owner, dup := seen[q]
		require.False(t, dup, "slot %d shares its queue with %s", i, owner)
		seen[q] = fmt.Sprintf("slot %d", i)
	}
	require.Len(t, r.freeQueues, len(r.queues)-len(seen))
}

func TestRenderer_OutOfOrderSlotsKeepUnits(t *testing.T) {
	for _, pass := range []PassType{PassForward, PassDeferred} {
		t.Run(pass.String(), func(t *testing.T) {
			r, dev, swap := startRenderer(t, WithoutDefaultPass())
			require.NoError(t, r.AddRenderPass(pass))
			swap.order = []int{0, 2, 2, 1}
			vb := newVertexBuffer(3)

			for frame := 1; frame <= 12; frame++ {
				commitTriangle(t, r, vb, nil)
				require.NoError(t, r.Render())
				stats := r.LastFrameStats()
				require.Equal(t, 1, stats.Units, "frame %d", frame)
				require.Equal(t, 1, stats.Draws, "frame %d", frame)
				require.Len(t, dev.recorder.take(), 1, "frame %d", frame)
				requireQueuesDisjoint(t, r)
			}
			require.NoError(t, r.ShutDown())
			require.Equal(t, int64(1), vb.Refs())
		})
	}
}

func TestDeferredPass_ReleasedQueueDropsPending(t *testing.T) {
	var a, b renderQueue
	p := &deferredPass{}
	u1, u2, u3 := &Unit{}, &Unit{}, &Unit{}
	a.push(u1)
	b.push(u2)
	a.push(u3)
	for _, u := range []*Unit{u1, u2, u3} {
		p.onAddUnit(u)
	}

	p.onQueueReleased(&a)
	require.Equal(t, []*Unit{u2}, p.pending)
	p.onQueueReleased(&a)
	require.Equal(t, []*Unit{u2}, p.pending)
	p.onQueueReleased(&b)
	require.Empty(t, p.pending)
}

func TestRenderer_UnitsHeldUntilSlotRetires(t *testing.T) {
	r, _, _ := startRenderer(t)
	vb := newVertexBuffer(3)
	mat := newMaterial("m", 0)

	unit := commitTriangle(t, r, vb, mat)
	require.Same(t, vb, unit.VertexBuffer(0))
	require.Equal(t, int64(2), vb.Refs())
	require.Equal(t, int64(2), mat.Refs())

	for range gpuframe.FrameCount {
		require.NoError(t, r.Render())
		require.Equal(t, int64(2), vb.Refs())
	}
	// The next frame reuses slot 0 and retires frame 1.
	require.NoError(t, r.Render())
	require.Equal(t, int64(1), vb.Refs())
	require.Equal(t, int64(1), mat.Refs())
	require.False(t, vb.destroyed)
}

func TestRenderer_CommitDefaults(t *testing.T) {
	r, _, swap := startRenderer(t, WithWindowSize(800, 600))

	u := NewRenderUnit()
	unit, err := r.CommitRenderUnit(u)
	require.NoError(t, err)
	require.Equal(t, 1, unit.RenderTargetCount())
	require.Same(t, swap.targets[0], unit.RenderTarget(0))
	require.Same(t, r.DefaultDepthStencilBuffer(), unit.DepthStencilBuffer())
	require.Equal(t, 1, unit.ViewportCount())
	require.Equal(t, FullViewport(800, 600), unit.Viewport(0))
	require.Equal(t, r.controlWorker, unit.Worker())

	// An explicit nil depth-stencil buffer disables depth.
	u.SetDepthStencilBuffer(nil)
	rt := newRenderTarget()
	require.NoError(t, u.AddRenderTarget(rt))
	u.AddViewport(FullViewport(10, 10))
	unit, err = r.CommitRenderUnit(u)
	require.NoError(t, err)
	require.Nil(t, unit.DepthStencilBuffer())
	require.Same(t, rt, unit.RenderTarget(0))
	require.Equal(t, FullViewport(10, 10), unit.Viewport(0))
	require.Equal(t, int64(3), rt.Refs())
}

func TestRenderer_WorldViewProjection(t *testing.T) {
	r, dev, _ := startRenderer(t)

	world := Identity()
	world[12] = 2
	view := Identity()
	view[13] = 3
	proj := Identity()
	proj[0] = 0.5

	u := NewRenderUnit()
	require.NoError(t, u.SetVertexBuffer(0, newVertexBuffer(3)))
	u.SetTransform(world)
	u.SetViewMatrix(view)
	u.SetProjectionMatrix(proj)
	unit, err := r.CommitRenderUnit(u)
	require.NoError(t, err)
	require.Equal(t, world, unit.Transform())
	require.Equal(t, view, unit.ViewMatrix())
	require.Equal(t, proj, unit.ProjectionMatrix())

	require.NoError(t, r.Render())
	draws := dev.recorder.take()
	require.Len(t, draws, 1)
	require.Equal(t, proj.Mul(view).Mul(world), draws[0].cmd.WorldViewProjection)
	require.Equal(t, float32(1), draws[0].cmd.WorldViewProjection[12])
}

func TestRenderer_IndexedDraw(t *testing.T) {
	r, dev, _ := startRenderer(t)

	u := NewRenderUnit()
	require.NoError(t, u.SetVertexBuffer(0, newVertexBuffer(4)))
	u.SetIndexBuffer(newIndexBuffer(6))
	_, err := r.CommitRenderUnit(u)
	require.NoError(t, err)
	require.NoError(t, r.Render())

	draws := dev.recorder.take()
	require.Len(t, draws, 1)
	require.True(t, draws[0].cmd.Indexed)
	require.Equal(t, uint32(6), draws[0].cmd.Count)
}

// =============================================================================
// Callbacks
// =============================================================================

func TestRenderer_CallbackOrder(t *testing.T) {
	r, _, _ := startRenderer(t)

	var events []Event
	for ev := EventFrameBegin; ev < numEvents; ev++ {
		r.RegisterCallback(ev, func(r *Renderer) {
			idx, open := r.TransientFrameIndex()
			require.True(t, open)
			require.Equal(t, r.FrameResourceIndex(), idx)
			events = append(events, ev)
		})
	}
	r.RegisterCallback(numEvents, func(*Renderer) { t.Fatal("invalid event registered") })

	require.NoError(t, r.Render())
	require.Equal(t, []Event{EventFrameBegin, EventFrameUpdate, EventFrameEnd}, events)

	_, open := r.TransientFrameIndex()
	require.False(t, open)
}

func TestRenderer_CallbackCommitsForNextFrame(t *testing.T) {
	r, dev, _ := startRenderer(t)
	vb := newVertexBuffer(3)

	r.RegisterCallback(EventFrameUpdate, func(r *Renderer) {
		commitTriangle(t, r, vb, nil)
	})

	require.NoError(t, r.Render())
	require.Empty(t, dev.recorder.take())
	require.Equal(t, 1, r.PendingUnits())

	require.NoError(t, r.Render())
	draws := dev.recorder.take()
	require.Len(t, draws, 1)
	require.Equal(t, uint64(2), draws[0].cmd.Frame)
}

func TestRenderer_ClearColor(t *testing.T) {
	c := gputypes.Color{R: 1, A: 1}
	r, dev, _ := startRenderer(t, WithClearColor(c))
	require.Equal(t, c, r.ClearColor())

	c2 := gputypes.Color{G: 1, A: 1}
	r.SetClearColor(c2)
	require.NoError(t, r.Render())
	require.Equal(t, c2, dev.recorder.lastColor)
}

// =============================================================================
// Descriptors
// =============================================================================

func TestRenderer_MaterialDescriptorTables(t *testing.T) {
	r, dev, _ := startRenderer(t)
	mat := newMaterial("lit", 4)
	vb := newVertexBuffer(3)

	for range 3 {
		commitTriangle(t, r, vb, mat)
	}
	require.NoError(t, r.Render())

	draws := dev.recorder.take()
	require.Len(t, draws, 3)
	tables := make(map[descriptor.Handle]bool)
	for _, d := range draws {
		require.Equal(t, uint32(4), d.cmd.DescriptorCount)
		require.NotZero(t, d.cmd.DescriptorTable)
		tables[d.cmd.DescriptorTable] = true
	}
	require.Len(t, tables, 3)
	require.Len(t, r.Descriptors().Allocations(0, descriptor.HeapTypeCBVSRVUAV, true), 3)

	// Frames 2 and 3 use the other slots; frame 4 recycles slot 0.
	for range gpuframe.FrameCount - 1 {
		require.NoError(t, r.Render())
	}
	commitTriangle(t, r, vb, mat)
	require.NoError(t, r.Render())
	require.Len(t, r.Descriptors().Allocations(0, descriptor.HeapTypeCBVSRVUAV, true), 1)
	require.NoError(t, r.Descriptors().Validate())
}

func TestRenderer_TransientOutsideFrame(t *testing.T) {
	r, _, _ := startRenderer(t)

	_, err := r.Descriptors().Allocate(descriptor.HeapTypeCBVSRVUAV, true, 1, true)
	require.ErrorIs(t, err, descriptor.ErrNoActiveFrame)

	var inFrameErr error
	r.RegisterCallback(EventFrameUpdate, func(r *Renderer) {
		_, inFrameErr = r.Descriptors().Allocate(descriptor.HeapTypeCBVSRVUAV, true, 1, true)
	})
	require.NoError(t, r.Render())
	require.NoError(t, inFrameErr)
}

// =============================================================================
// Passes
// =============================================================================

func TestRenderer_AddRenderPass(t *testing.T) {
	r := New(newMockDevice(), newMockSwapChain())
	require.ErrorIs(t, r.AddRenderPass(PassType(7)), ErrUnknownPass)
	require.NoError(t, r.AddRenderPass(PassDeferred))
	require.NoError(t, r.AddRenderPass(PassForward))
	require.Equal(t, []PassType{PassDeferred, PassForward}, r.PassTypes())
	require.Equal(t, "PassType(7)", PassType(7).String())
}

func TestRenderer_DeferredPassGroupsByMaterial(t *testing.T) {
	r, dev, _ := startRenderer(t, WithoutDefaultPass())
	require.NoError(t, r.AddRenderPass(PassDeferred))

	a := newMaterial("a", 1)
	b := newMaterial("b", 0)
	vb := newVertexBuffer(3)
	for _, m := range []Material{a, b, a, b, a} {
		commitTriangle(t, r, vb, m)
	}
	require.NoError(t, r.Render())

	draws := dev.recorder.take()
	require.Len(t, draws, 5)
	var order []Material
	for _, d := range draws {
		require.Equal(t, r.controlWorker, d.worker)
		order = append(order, d.material)
	}
	require.Equal(t, []Material{a, a, a, b, b}, order)
	require.Equal(t, r.Workers(), r.controlWorker)

	p := (*r.passes.Load())[0].(*deferredPass)
	require.Equal(t, 2, p.batches)
	require.Empty(t, p.geometry)
}

func TestRenderer_DeferredPassKeepsNextFrameUnits(t *testing.T) {
	r, dev, _ := startRenderer(t, WithoutDefaultPass())
	require.NoError(t, r.AddRenderPass(PassDeferred))
	vb := newVertexBuffer(3)

	r.RegisterCallback(EventFrameBegin, func(r *Renderer) {
		commitTriangle(t, r, vb, nil)
	})
	require.NoError(t, r.Render())
	require.Empty(t, dev.recorder.take())

	require.NoError(t, r.Render())
	draws := dev.recorder.take()
	require.Len(t, draws, 1)
	require.Equal(t, uint64(2), draws[0].cmd.Frame)
}

func TestRenderer_WithoutPasses(t *testing.T) {
	r, dev, _ := startRenderer(t, WithoutDefaultPass())
	commitTriangle(t, r, newVertexBuffer(3), nil)
	require.NoError(t, r.Render())
	require.Empty(t, dev.recorder.take())
	require.Equal(t, 1, r.LastFrameStats().Units)
}

// =============================================================================
// Parallel recording
// =============================================================================

func TestRenderer_ParallelCommit(t *testing.T) {
	r, dev, _ := startRenderer(t)
	vb := newVertexBuffer(3)

	const n = 200
	for frame := range 5 {
		var mu sync.Mutex
		workers := make(map[int]bool)
		err := r.Parallel(n, func(worker, i int) {
			u := NewRenderUnit()
			_ = u.SetVertexBuffer(0, vb)
			m := Identity()
			m[12] = float32(i)
			u.SetTransform(m)
			unit, err := r.CommitRenderUnitFrom(worker, u)
			if err == nil && unit.Transform()[12] == float32(i) {
				mu.Lock()
				workers[worker] = true
				mu.Unlock()
			}
			u.Reset()
		})
		require.NoError(t, err)
		require.NotEmpty(t, workers)
		require.Equal(t, n, r.PendingUnits())

		require.NoError(t, r.Render())
		require.Len(t, dev.recorder.take(), n, "frame %d", frame+1)
	}
	require.LessOrEqual(t, vb.Refs(), int64(1+gpuframe.FrameCount*n))
	require.Positive(t, r.FrameAllocator().Stats().Locals)
}

// =============================================================================
// Failures
// =============================================================================

func TestRenderer_FenceWaitFailureIsDeviceLost(t *testing.T) {
	r, dev, _ := startRenderer(t)
	for range gpuframe.FrameCount {
		require.NoError(t, r.Render())
	}
	dev.fences[0].failWait = errGPUHang

	err := r.Render()
	require.ErrorIs(t, err, ErrDeviceLost)
	require.ErrorIs(t, err, errGPUHang)
	dev.fences[0].failWait = nil
}

func TestRenderer_SubmitFailureIsDeviceLost(t *testing.T) {
	r, dev, _ := startRenderer(t)
	dev.fences[0].failSubmit = errGPUHang

	err := r.Render()
	require.ErrorIs(t, err, ErrDeviceLost)
	dev.fences[0].failSubmit = nil
}

func TestRenderer_PresentFailureIsNotFatal(t *testing.T) {
	r, _, swap := startRenderer(t)
	swap.presentErr = errGPUHang

	require.NoError(t, r.Render())
	require.NoError(t, r.Render())
	require.Equal(t, uint64(2), r.CurrentFrame())
}

func TestRenderer_CommitNil(t *testing.T) {
	r, _, _ := startRenderer(t)
	_, err := r.CommitRenderUnit(nil)
	require.ErrorIs(t, err, ErrNilResource)
}

func TestFrameStats_String(t *testing.T) {
	s := FrameStats{Frame: 3, FrameIndex: 2, Units: 4, Draws: 3, Skipped: 1}
	require.Contains(t, s.String(), "Frame[3 slot=2 units=4 draws=3 skipped=1")
}

func TestSlotState_String(t *testing.T) {
	require.Equal(t, "Idle", SlotIdle.String())
	require.Equal(t, "Submitted", SlotSubmitted.String())
	require.Equal(t, "Retired", SlotRetired.String())
	require.Equal(t, "SlotState(9)", SlotState(9).String())
	require.Equal(t, "FrameUpdate", EventFrameUpdate.String())
}
