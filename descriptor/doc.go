// Package descriptor allocates ranges of descriptor-heap slots.
//
// Two allocation strategies share one Allocator:
//
//   - Persistent ranges (render target views, long-lived resource views) come
//     from an interval free list per heap store. Freed ranges are coalesced
//     with adjacent free ranges, so adjacent frees never fragment a store.
//   - Transient ranges are valid for one frame. They are bump-allocated from a
//     slot keyed by (frame resource index, heap type, visibility) with a single
//     atomic add, and reclaimed wholesale by ResetFrame once the frame that
//     last used the slot has retired on the GPU.
//
// Heap stores are created lazily, in batches of at least AllocUnit
// descriptors, and destroyed only by Clear.
package descriptor
