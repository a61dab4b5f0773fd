package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpuframe"
)

// Factory opens a backend.
type Factory func(cfg Config) (Backend, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendNoop, BackendSim}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens the backend registered as name.
func Open(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	cfg = cfg.withDefaults()
	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", name, err)
	}
	gpuframe.Logger().Info("backend: opened", "name", name, "width", cfg.Width, "height", cfg.Height)
	return b, nil
}

// OpenDefault opens the first registered backend in priority order,
// falling back to any registered backend.
func OpenDefault(cfg Config) (Backend, error) {
	for _, name := range backendPriority {
		if IsRegistered(name) {
			return Open(name, cfg)
		}
	}
	if names := Available(); len(names) > 0 {
		return Open(names[0], cfg)
	}
	return nil, ErrBackendNotAvailable
}
