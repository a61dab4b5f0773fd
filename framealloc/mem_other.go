//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package framealloc

import "unsafe"

// mapMemory falls back to the Go heap. The backing array is made of words so
// the base address is 8-byte aligned.
func mapMemory(size int) ([]byte, error) {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), size), nil
}

func unmapMemory([]byte) error { return nil }
