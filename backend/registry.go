package backend

import (
	"fmt"
	"slices"
	"sync"
)

// Backend name constants.
const (
	// RasterSoftware is the name of the CPU raster backend.
	RasterSoftware = "software"
	// GPUWGPU is the name of the gogpu/wgpu HAL backend.
	GPUWGPU = "wgpu"
	// GPUSoft is the name of the in-memory GPU backend.
	GPUSoft = "softgpu"
	// GPUNone disables GPU work when passed as a GPU backend name.
	GPUNone = "none"
)

// RasterFactory creates a raster backend instance.
type RasterFactory func() (Raster, error)

// GPUFactory creates a GPU backend instance.
type GPUFactory func() (GPU, error)

// registry holds factories of one backend kind.
type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
	// Priority order for default selection (first available wins).
	priority []string
}

func newRegistry[F any](priority ...string) *registry[F] {
	return &registry[F]{factories: make(map[string]F), priority: priority}
}

func (r *registry[F]) register(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *registry[F]) unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

func (r *registry[F]) get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// ordered returns registered names, priority names first.
func (r *registry[F]) ordered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for _, n := range r.priority {
		if _, ok := r.factories[n]; ok {
			names = append(names, n)
		}
	}
	var rest []string
	for n := range r.factories {
		if !slices.Contains(names, n) {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

var (
	rasters = newRegistry[RasterFactory](RasterSoftware)
	// wgpu > softgpu: a real device beats the in-memory fallback.
	gpus = newRegistry[GPUFactory](GPUWGPU, GPUSoft)
)

// RegisterRaster registers a raster backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func RegisterRaster(name string, f RasterFactory) { rasters.register(name, f) }

// RegisterGPU registers a GPU backend factory with the given name.
func RegisterGPU(name string, f GPUFactory) { gpus.register(name, f) }

// UnregisterRaster removes a raster backend. This is useful for testing.
func UnregisterRaster(name string) { rasters.unregister(name) }

// UnregisterGPU removes a GPU backend. This is useful for testing.
func UnregisterGPU(name string) { gpus.unregister(name) }

// AvailableRaster returns the registered raster backend names in priority order.
func AvailableRaster() []string { return rasters.ordered() }

// AvailableGPU returns the registered GPU backend names in priority order.
func AvailableGPU() []string { return gpus.ordered() }

// NewRaster creates the raster backend registered under name.
func NewRaster(name string) (Raster, error) {
	f, ok := rasters.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: raster %q", ErrBackendNotAvailable, name)
	}
	return f()
}

// NewGPU creates the GPU backend registered under name.
func NewGPU(name string) (GPU, error) {
	f, ok := gpus.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: gpu %q", ErrBackendNotAvailable, name)
	}
	return f()
}

// DefaultRaster creates the best available raster backend.
func DefaultRaster() (Raster, error) {
	var errs []error
	for _, name := range rasters.ordered() {
		r, err := NewRaster(name)
		if err == nil && r != nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: no raster backend (%v)", ErrBackendNotAvailable, errs)
}

// DefaultGPU creates the best available GPU backend. A backend whose
// factory fails is skipped.
func DefaultGPU() (GPU, error) {
	var errs []error
	for _, name := range gpus.ordered() {
		g, err := NewGPU(name)
		if err == nil && g != nil {
			return g, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: no gpu backend (%v)", ErrBackendNotAvailable, errs)
}
