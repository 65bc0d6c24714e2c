package backend

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"

	"github.com/gogpu/gimage/internal/cache"
	"github.com/gogpu/gimage/internal/parallel"
)

// Uniforms are named program parameters.
type Uniforms map[string][]float32

// Float returns the first component of the named uniform, or def.
func (u Uniforms) Float(name string, def float32) float32 {
	if v := u[name]; len(v) > 0 {
		return v[0]
	}
	return def
}

// Inputs gives a kernel access to its bound textures.
type Inputs interface {
	// Len returns the number of bound inputs.
	Len() int

	// Sample returns input i at normalized coordinates (u, v) in [0, 1],
	// filtered as the binding requests. Out-of-range inputs sample as
	// transparent black.
	Sample(i int, u, v float64) Color
}

// Kernel computes one output pixel. (u, v) are the normalized coordinates of
// the pixel center within the destination rectangle. Rows are evaluated in
// parallel, so a kernel must be safe for concurrent use.
type Kernel func(u, v float64, in Inputs, uniforms Uniforms) Color

// ProgramSource describes a program.
//
// Kernel is evaluated per pixel by the backends in this module. WGSL, when
// set, is compiled to SPIR-V with naga at creation, which validates it and
// lets hardware backends use it.
type ProgramSource struct {
	Label  string
	WGSL   string
	Kernel Kernel
}

// ErrNoKernel is returned when a program has neither a kernel nor a source.
var ErrNoKernel = errors.New("backend: program has no kernel")

var spirvCache = cache.New[string, []byte](64)

// CompileWGSL compiles WGSL to SPIR-V. Results are cached by source.
func CompileWGSL(src string) ([]byte, error) {
	return spirvCache.GetOrCreate(src, func() ([]byte, error) {
		return naga.Compile(src)
	})
}

// ShaderCacheStats returns statistics of the compiled shader cache.
func ShaderCacheStats() cache.Stats {
	return spirvCache.Stats()
}

// ImageInputs samples a list of CPU images.
type ImageInputs struct {
	Images  []*image.NRGBA
	Filters []gputypes.FilterMode
}

// Len implements Inputs.
func (in ImageInputs) Len() int { return len(in.Images) }

// Sample implements Inputs.
func (in ImageInputs) Sample(i int, u, v float64) Color {
	if i < 0 || i >= len(in.Images) || in.Images[i] == nil {
		return Color{}
	}
	img := in.Images[i]
	filter := gputypes.FilterModeNearest
	if i < len(in.Filters) {
		filter = in.Filters[i]
	}
	if filter == gputypes.FilterModeLinear {
		return sampleLinear(img, u, v)
	}
	return sampleNearest(img, u, v)
}

func sampleNearest(img *image.NRGBA, u, v float64) Color {
	b := img.Bounds()
	x := b.Min.X + clampInt(int(u*float64(b.Dx())), 0, b.Dx()-1)
	y := b.Min.Y + clampInt(int(v*float64(b.Dy())), 0, b.Dy()-1)
	return FromNRGBA(img.NRGBAAt(x, y))
}

func sampleLinear(img *image.NRGBA, u, v float64) Color {
	b := img.Bounds()
	fx := u*float64(b.Dx()) - 0.5
	fy := v*float64(b.Dy()) - 0.5
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)

	at := func(x, y int) Color {
		x = b.Min.X + clampInt(x, 0, b.Dx()-1)
		y = b.Min.Y + clampInt(y, 0, b.Dy()-1)
		return FromNRGBA(img.NRGBAAt(x, y))
	}
	c00, c10 := at(x0, y0), at(x0+1, y0)
	c01, c11 := at(x0, y0+1), at(x0+1, y0+1)
	return Color{
		R: bilerp(c00.R, c10.R, c01.R, c11.R, tx, ty),
		G: bilerp(c00.G, c10.G, c01.G, c11.G, tx, ty),
		B: bilerp(c00.B, c10.B, c01.B, c11.B, tx, ty),
		A: bilerp(c00.A, c10.A, c01.A, c11.A, tx, ty),
	}
}

func bilerp(a, b, c, d, tx, ty float64) float64 {
	top := a + (b-a)*tx
	bottom := c + (d-c)*tx
	return top + (bottom-top)*ty
}

// RunKernel evaluates k over r of dst. When opaque is set, alpha is forced
// to 1. dst must not be one of the inputs.
func RunKernel(k Kernel, dst *image.NRGBA, r image.Rectangle, in Inputs, uniforms Uniforms, opaque bool) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	w, h := float64(r.Dx()), float64(r.Dy())
	parallel.Rows(r, func(band image.Rectangle) {
		for y := band.Min.Y; y < band.Max.Y; y++ {
			v := (float64(y-r.Min.Y) + 0.5) / h
			for x := band.Min.X; x < band.Max.X; x++ {
				u := (float64(x-r.Min.X) + 0.5) / w
				c := k(u, v, in, uniforms)
				if opaque {
					c.A = 1
				}
				dst.SetNRGBA(x, y, ToNRGBA(c))
			}
		}
	})
}

// ToNRGBA converts c to 8-bit straight alpha, clamping each component.
func ToNRGBA(c Color) color.NRGBA {
	return color.NRGBA{R: unit8(c.R), G: unit8(c.G), B: unit8(c.B), A: unit8(c.A)}
}

// FromNRGBA converts an 8-bit color.
func FromNRGBA(c color.NRGBA) Color {
	return Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
		A: float64(c.A) / 255,
	}
}

// FromColor converts any color.Color.
func FromColor(c color.Color) Color {
	return FromNRGBA(color.NRGBAModel.Convert(c).(color.NRGBA))
}

// Opaque returns c with alpha 1.
func Opaque(c Color) Color {
	c.A = 1
	return c
}

// ForceOpaque sets alpha to 255 for every pixel in r of img.
func ForceOpaque(img *image.NRGBA, r image.Rectangle) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Pix[off+3] = 0xff
			off += 4
		}
	}
}

func unit8(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 1:
		return 0xff
	}
	return uint8(v*255 + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
