// Package renderer implements the frame scheduler of a pipelined renderer.
//
// A Renderer keeps gpuframe.FrameCount frame resource slots. Each slot owns a
// fence, a default depth-stencil buffer and the render queue of the frame
// that last used it. Render waits on the fence of the slot it is about to
// reuse, recycles that slot's transient descriptors and frame memory, runs
// the registered render passes over the units committed since the previous
// frame, signals the slot's fence with the new frame number and presents.
//
// Units are built with a mutable RenderUnit and frozen with
// Renderer.CommitRenderUnit into an immutable Unit. Workers of the
// renderer's pool can commit concurrently through Renderer.Parallel.
//
// Basic usage:
//
//	r := renderer.New(device, swapChain, renderer.WithWindowSize(1280, 720))
//	if err := r.Start(); err != nil {
//	    return err
//	}
//	defer r.ShutDown()
//
//	u := renderer.NewRenderUnit()
//	u.SetVertexBuffer(0, vb)
//	u.SetMaterial(mat)
//	r.CommitRenderUnit(u)
//	u.Reset()
//
//	if err := r.Render(); err != nil {
//	    return err // device lost
//	}
package renderer
