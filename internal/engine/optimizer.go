package engine

import (
	lru "github.com/hashicorp/golang-lru/simplelru"

	"github.com/gogpu/gimage/options"
	"github.com/gogpu/gimage/resource"
)

// DefaultEvictionThreshold is the memory pressure above which the LRU
// optimizer starts releasing representations.
const DefaultEvictionThreshold = 0.8

// lruCapacity bounds the number of tracked slots. Slots past it are no
// longer considered for eviction until touched again.
const lruCapacity = 1 << 16

// Optimizer decides which cached representations to release.
type Optimizer interface {
	Name() string

	// Touch records a use of representation r of img.
	Touch(img *Image, r Representation)

	// Forget stops tracking a released representation.
	Forget(img *Image, r Representation)

	// Optimize runs after top-level commands and returns the number of
	// representations it released.
	Optimize(e *Engine) int

	// Reclaim releases representations so that bytes more can be charged
	// to cat. It reports whether anything was released.
	Reclaim(e *Engine, cat resource.Category, bytes uint64) bool
}

func newOptimizer(name string) Optimizer {
	if name == options.OptimizerNull {
		return NullOptimizer{}
	}
	return NewLRUOptimizer(DefaultEvictionThreshold)
}

// NullOptimizer never releases anything.
type NullOptimizer struct{}

func (NullOptimizer) Name() string                                    { return options.OptimizerNull }
func (NullOptimizer) Touch(*Image, Representation)                    {}
func (NullOptimizer) Forget(*Image, Representation)                   {}
func (NullOptimizer) Optimize(*Engine) int                            { return 0 }
func (NullOptimizer) Reclaim(*Engine, resource.Category, uint64) bool { return false }

type slotKey struct {
	img  *Image
	repr Representation
}

func (k slotKey) category() resource.Category {
	if k.repr == ReprTexture {
		return resource.GPUTexture
	}
	return resource.RasterSurface
}

// LRUOptimizer releases least recently used representations once memory
// pressure of their kind exceeds a threshold. It never releases the only
// current representation of an image, nor anything of an image the running
// command uses.
type LRUOptimizer struct {
	order     *lru.LRU
	threshold float64
	evictions uint64
}

// NewLRUOptimizer returns an LRU optimizer that evicts above threshold,
// a fraction of the memory limit.
func NewLRUOptimizer(threshold float64) *LRUOptimizer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultEvictionThreshold
	}
	order, err := lru.NewLRU(lruCapacity, nil)
	if err != nil {
		panic(err) // unreachable: capacity is positive
	}
	return &LRUOptimizer{order: order, threshold: threshold}
}

// Name returns "lru".
func (o *LRUOptimizer) Name() string { return options.OptimizerLRU }

// Evictions returns the number of representations released so far.
func (o *LRUOptimizer) Evictions() uint64 { return o.evictions }

// Touch marks r of img as most recently used.
func (o *LRUOptimizer) Touch(img *Image, r Representation) {
	if r == ReprColor {
		return
	}
	o.order.Add(slotKey{img: img, repr: r}, nil)
}

// Forget removes r of img.
func (o *LRUOptimizer) Forget(img *Image, r Representation) {
	o.order.Remove(slotKey{img: img, repr: r})
}

// Optimize releases representations, oldest first, while their memory kind
// is above the threshold.
func (o *LRUOptimizer) Optimize(e *Engine) int {
	n := 0
	for _, k := range o.order.Keys() {
		key := k.(slotKey)
		if e.tracker.PressureOf(key.category()) <= o.threshold {
			continue
		}
		if o.evict(e, key) {
			n++
		}
	}
	return n
}

// Reclaim releases representations of the memory kind of cat, oldest
// first, until bytes fit.
func (o *LRUOptimizer) Reclaim(e *Engine, cat resource.Category, bytes uint64) bool {
	freed := false
	for _, k := range o.order.Keys() {
		if avail, bounded := e.tracker.Available(cat); !bounded || avail >= bytes {
			break
		}
		key := k.(slotKey)
		if key.category().IsGPU() != cat.IsGPU() {
			continue
		}
		if o.evict(e, key) {
			freed = true
		}
	}
	return freed
}

func (o *LRUOptimizer) evict(e *Engine, key slotKey) bool {
	img := key.img
	if img.eng != e || e.isPinned(img) || !img.evictable(key.repr) {
		return false
	}
	img.release(key.repr)
	o.evictions++
	e.log().Debug("engine: representation evicted", "handle", img.h, "repr", key.repr)
	return true
}
