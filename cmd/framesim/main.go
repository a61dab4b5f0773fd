package main

import (
	// Backends register themselves with the backend registry.
	_ "github.com/gogpu/gpuframe/backend/native"
	_ "github.com/gogpu/gpuframe/internal/simgpu"
)

func main() {
	execute()
}
