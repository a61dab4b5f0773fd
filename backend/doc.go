// Package backend provides a registry of GPU backends the renderer can run on.
//
// A backend bundles a renderer.Device and a renderer.SwapChain. Backends are
// registered via init() functions and selected at runtime by name:
//
//	import (
//		_ "github.com/gogpu/gpuframe/backend/native"
//		_ "github.com/gogpu/gpuframe/internal/simgpu"
//	)
//
//	b, err := backend.Open("sim", backend.Config{Width: 1280, Height: 720})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	r := renderer.New(b.Device(), b.SwapChain())
//
// # Available Backends
//
//   - noop: the native backend over the wgpu no-op HAL. Every submission
//     completes immediately.
//   - sim: a simulated GPU that executes frames on its own goroutine with a
//     configurable cost per frame, for exercising frames in flight.
package backend
