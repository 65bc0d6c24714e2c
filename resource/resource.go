// Package resource accounts for the raster and GPU memory held by live
// surfaces, textures and shader programs, and enforces per-category ceilings.
package resource

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gimage/imgerr"
)

// Category is a kind of accounted resource.
type Category uint8

// Resource categories.
const (
	RasterSurface Category = iota
	GPUSurface
	GPUShader
	GPUTexture

	numCategories
)

// Categories lists every category in report order.
var Categories = [...]Category{RasterSurface, GPUSurface, GPUShader, GPUTexture}

// String returns the category name.
func (c Category) String() string {
	switch c {
	case RasterSurface:
		return "RasterSurface"
	case GPUSurface:
		return "GPUSurface"
	case GPUShader:
		return "GPUShader"
	case GPUTexture:
		return "GPUTexture"
	default:
		return fmt.Sprintf("Category(%d)", c)
	}
}

// IsGPU reports whether the category is charged against GPU memory.
func (c Category) IsGPU() bool { return c != RasterSurface }

// ErrUnknownCategory is returned for a category outside the defined set.
var ErrUnknownCategory = errors.New("resource: unknown category")

// Usage is the instance count and memory held by one category, or by all of
// them together.
type Usage struct {
	Instances   int
	RasterBytes uint64
	GPUBytes    uint64
}

func (u *Usage) add(o Usage) {
	u.Instances += o.Instances
	u.RasterBytes += o.RasterBytes
	u.GPUBytes += o.GPUBytes
}

// Report is a snapshot of resource usage.
type Report struct {
	ByCategory [numCategories]Usage
	Total      Usage
}

// Category returns the usage of one category.
func (r Report) Category(c Category) Usage {
	if c >= numCategories {
		return Usage{}
	}
	return r.ByCategory[c]
}

// String returns a human-readable summary.
func (r Report) String() string {
	return fmt.Sprintf("Resources[%d instances, raster %d KB, gpu %d KB]",
		r.Total.Instances, r.Total.RasterBytes/1024, r.Total.GPUBytes/1024)
}

// Limits are the per-kind memory ceilings. Zero means unbounded.
type Limits struct {
	RasterBytes uint64 `toml:"raster_bytes"`
	GPUBytes    uint64 `toml:"gpu_bytes"`
}

// Tracker accumulates resource usage for one engine.
//
// Tracker is safe for concurrent use. Within an engine all calls come from
// the dispatcher goroutine, but the resource report may be read from any
// goroutine.
type Tracker struct {
	mu     sync.RWMutex
	limits Limits
	usage  [numCategories]Usage
	raster uint64
	gpu    uint64
}

// NewTracker returns a tracker with the given limits.
func NewTracker(limits Limits) *Tracker {
	return &Tracker{limits: limits}
}

// Limits returns the configured ceilings.
func (t *Tracker) Limits() Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits
}

// SetLimits replaces the ceilings. Usage already above a new ceiling is kept;
// only subsequent reservations are refused.
func (t *Tracker) SetLimits(limits Limits) {
	t.mu.Lock()
	t.limits = limits
	t.mu.Unlock()
}

// Reserve charges one instance of bytes against cat. It fails, without
// changing any counter, if the charge would push the category's memory kind
// over its non-zero limit.
func (t *Tracker) Reserve(cat Category, bytes uint64) error {
	if cat >= numCategories {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cat.IsGPU() {
		if t.limits.GPUBytes > 0 && t.gpu+bytes > t.limits.GPUBytes {
			return imgerr.New(imgerr.CodeOutOfGPUMemory, "Reserve",
				"%s needs %d bytes, %d of %d in use", cat, bytes, t.gpu, t.limits.GPUBytes)
		}
		t.gpu += bytes
		t.usage[cat].GPUBytes += bytes
	} else {
		if t.limits.RasterBytes > 0 && t.raster+bytes > t.limits.RasterBytes {
			return imgerr.New(imgerr.CodeOutOfRasterMemory, "Reserve",
				"%s needs %d bytes, %d of %d in use", cat, bytes, t.raster, t.limits.RasterBytes)
		}
		t.raster += bytes
		t.usage[cat].RasterBytes += bytes
	}
	t.usage[cat].Instances++
	return nil
}

// Release returns one instance of bytes previously reserved against cat.
// Counters never go below zero.
func (t *Tracker) Release(cat Category, bytes uint64) {
	if cat >= numCategories {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	u := &t.usage[cat]
	if u.Instances > 0 {
		u.Instances--
	}
	if cat.IsGPU() {
		bytes = min(bytes, u.GPUBytes)
		u.GPUBytes -= bytes
		t.gpu -= bytes
	} else {
		bytes = min(bytes, u.RasterBytes)
		u.RasterBytes -= bytes
		t.raster -= bytes
	}
}

// Available returns the bytes left before the limit of the memory kind cat
// belongs to, and false if that kind is unbounded.
func (t *Tracker) Available(cat Category) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	used, limit := t.raster, t.limits.RasterBytes
	if cat.IsGPU() {
		used, limit = t.gpu, t.limits.GPUBytes
	}
	if limit == 0 {
		return 0, false
	}
	if used >= limit {
		return 0, true
	}
	return limit - used, true
}

// Pressure returns the highest used/limit fraction over the bounded memory
// kinds, or 0 when both are unbounded.
func (t *Tracker) Pressure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var p float64
	if t.limits.RasterBytes > 0 {
		p = float64(t.raster) / float64(t.limits.RasterBytes)
	}
	if t.limits.GPUBytes > 0 {
		p = max(p, float64(t.gpu)/float64(t.limits.GPUBytes))
	}
	return p
}

// PressureOf returns the used/limit fraction of the memory kind cat belongs
// to, or 0 when that kind is unbounded.
func (t *Tracker) PressureOf(cat Category) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if cat.IsGPU() {
		if t.limits.GPUBytes == 0 {
			return 0
		}
		return float64(t.gpu) / float64(t.limits.GPUBytes)
	}
	if t.limits.RasterBytes == 0 {
		return 0
	}
	return float64(t.raster) / float64(t.limits.RasterBytes)
}

// Report returns a snapshot of current usage.
func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var r Report
	for _, c := range Categories {
		r.ByCategory[c] = t.usage[c]
		r.Total.add(t.usage[c])
	}
	return r
}

// Reset zeroes all counters. Limits are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.usage = [numCategories]Usage{}
	t.raster, t.gpu = 0, 0
	t.mu.Unlock()
}
