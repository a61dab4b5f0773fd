// Package gpuframe manages descriptor tables, scratch host memory and frame
// slots for a renderer that keeps several frames in flight.
//
// # Overview
//
// The CPU records frame F+1 (and further) while the GPU still executes frame F.
// Everything the GPU may still read must stay untouched until the fence that
// guards it has signaled. gpuframe provides three building blocks and a frame
// loop that ties them together:
//
//   - descriptor: interval free-list allocation of persistent descriptor
//     ranges, plus lock-free bump allocation of per-frame transient ranges.
//   - framealloc: per-worker ring buffers for scratch host memory, reclaimed in
//     bulk once a frame has retired on the GPU.
//   - renderer: the N-buffered frame scheduler that waits on per-slot fences and
//     triggers reclamation in both allocators.
//
// # Quick Start
//
//	dev, err := native.NewDevice(halDevice, halQueue)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Release()
//	swap, _ := native.NewSwapChain(dev, 1280, 720, gputypes.TextureFormatBGRA8Unorm)
//
//	r := renderer.New(dev, swap, renderer.WithWindowSize(1280, 720))
//	if err := r.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.ShutDown()
//
//	for running {
//	    // workers build and commit render units ...
//	    if err := r.Render(); err != nil {
//	        log.Fatal(err) // fence wait failed: device lost
//	    }
//	}
//
// Backends can also be opened by name through the backend registry. The
// "noop" backend runs on the wgpu HAL noop device and "sim" on a software GPU
// that completes submissions asynchronously at a configurable frame cost:
//
//	b, err := backend.Open(backend.BackendSim, backend.Config{Width: 1280, Height: 720})
//
// # Frame Ordering
//
// Frame numbers increase strictly and are the only key used for reclamation.
// Slot i is reused only after its own fence reports the slot's last frame as
// completed, so at most FrameCount frames are ever outstanding.
//
// # Logging
//
// gpuframe is silent by default. Call SetLogger to route diagnostics to a
// *slog.Logger; all sub-packages read the logger through Logger.
package gpuframe
