//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package framealloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapMemory reserves size bytes of anonymous, zero-filled memory outside the
// Go heap.
func mapMemory(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("framealloc: mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

func unmapMemory(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("framealloc: munmap %d bytes: %w", len(mem), err)
	}
	return nil
}
