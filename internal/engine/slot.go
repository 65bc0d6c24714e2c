package engine

// Representation names one of the three slots of an image.
type Representation uint8

// Representations.
const (
	ReprColor Representation = iota
	ReprSurface
	ReprTexture
)

func (r Representation) String() string {
	switch r {
	case ReprColor:
		return "color"
	case ReprSurface:
		return "surface"
	case ReprTexture:
		return "texture"
	default:
		return "unknown"
	}
}

// slot holds one representation of an image.
type slot[T any] struct {
	content   T
	allocated bool

	// current is set while content reflects the latest write.
	current bool

	// ratio is the downscale the content was allocated with.
	ratio float64

	width, height int

	// bytes is the amount charged to the tracker.
	bytes uint64
}

func (s *slot[T]) set(content T, ratio float64, w, h int, bytes uint64) {
	*s = slot[T]{content: content, allocated: true, ratio: ratio, width: w, height: h, bytes: bytes}
}

func (s *slot[T]) clear() {
	*s = slot[T]{}
}

func (s *slot[T]) matches(ratio float64, w, h int) bool {
	return s.allocated && s.ratio == ratio && s.width == w && s.height == h
}
