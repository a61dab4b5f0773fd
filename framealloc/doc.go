// Package framealloc provides per-worker ring allocators for frame-scoped
// host memory.
//
// Render code running on a worker allocates scratch data (matrices,
// viewports, draw parameters) that the GPU may still read while later frames
// are being recorded. Each worker owns a Local with one or more ring buffers.
// The renderer closes the open span of every ring with FinishFrame and
// recycles spans with ReleaseFramesBefore once the frame's fence has
// completed, so memory is never overwritten while a frame that used it is in
// flight.
//
// Ring memory is not scanned by the garbage collector. Alloc and NewValue only
// accept element types that contain no Go pointers.
package framealloc
