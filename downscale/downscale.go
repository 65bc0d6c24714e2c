// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package downscale computes the physical size of a surface or texture
// allocated for a logical image.
//
// Every input contributes a candidate ratio in (0, 1] and the smallest one
// wins. The calculation is a pure function of its Params, so callers may
// compare a slot's recorded ratio with a fresh Compute to decide whether the
// slot has to be reallocated.
package downscale

import "math"

// epsilon absorbs float error before flooring, so that limit/dim*dim
// rounds back to limit.
const epsilon = 1e-9

// Params are the inputs of one downscale calculation.
type Params struct {
	// Width and Height are the logical image dimensions.
	Width, Height int

	// Downscale is the image's general downscale option. Zero means 1.
	Downscale float64

	// GPUDownscale is the image's GPU-only downscale option. Zero means 1.
	GPUDownscale float64

	// GPU selects the texture slot; Downscale and GPUDownscale both apply.
	GPU bool

	// ReadOnly selects the texture size limit instead of the render buffer
	// limit.
	ReadOnly bool

	// MaxTextureSize and MaxRenderBufferSize are the device limits.
	// Zero means unknown, which imposes no limit.
	MaxTextureSize      int
	MaxRenderBufferSize int

	// OverrideTextureSize and OverrideRenderBufferSize are engine-configured
	// limits that apply only where lower than the device's.
	OverrideTextureSize      int
	OverrideRenderBufferSize int

	// MaxImageWidth and MaxImageHeight bound the logical size of any image
	// unless AllowOversized is set. Zero means unbounded.
	MaxImageWidth, MaxImageHeight int
	AllowOversized                bool

	// Requested is a ratio to preserve from the caller, typically from
	// FromRequested. Zero means none.
	Requested float64
}

// Result is the outcome of a downscale calculation.
type Result struct {
	// Ratio is the chosen downscale ratio in (0, 1].
	Ratio float64

	// Width and Height are the physical dimensions, never below 1.
	Width, Height int

	// Oversized is set when the image exceeded the engine's maximum
	// dimensions and was shrunk to fit.
	Oversized bool
}

// Compute returns the downscale ratio and physical dimensions for p.
func Compute(p Params) Result {
	ratio := 1.0
	take := func(r float64) {
		if r > 0 && r < ratio {
			ratio = r
		}
	}

	take(p.Downscale)
	if p.GPU {
		take(p.GPUDownscale)
	}

	maxDim := max(p.Width, p.Height)
	device, override := p.MaxRenderBufferSize, p.OverrideRenderBufferSize
	if p.ReadOnly {
		device, override = p.MaxTextureSize, p.OverrideTextureSize
	}
	take(fit(maxDim, device))
	take(fit(maxDim, override))

	var oversized bool
	if !p.AllowOversized {
		rw := fit(p.Width, p.MaxImageWidth)
		rh := fit(p.Height, p.MaxImageHeight)
		if r := min(rw, rh); r < 1 {
			oversized = true
			take(r)
		}
	}

	take(p.Requested)

	w, h := Scale(p.Width, p.Height, ratio)
	return Result{Ratio: ratio, Width: w, Height: h, Oversized: oversized}
}

// fit returns limit/dim when dim exceeds a non-zero limit, or 1.
func fit(dim, limit int) float64 {
	if limit <= 0 || dim <= limit {
		return 1
	}
	return float64(limit) / float64(dim)
}

// Scale applies ratio to logical dimensions, flooring and clamping to 1.
func Scale(w, h int, ratio float64) (int, int) {
	return scale1(w, ratio), scale1(h, ratio)
}

func scale1(n int, ratio float64) int {
	if n <= 0 {
		return 0
	}
	s := int(math.Floor(float64(n)*ratio + epsilon))
	return max(s, 1)
}

// FromRequested returns the ratio implied by loading reqW×reqH pixels into a
// logicalW×logicalH image, and false when nothing should be preserved. A
// ratio is returned only when enabled, the requested size is strictly
// smaller, and its aspect ratio matches the logical one to within the
// rounding of a single pixel.
func FromRequested(logicalW, logicalH, reqW, reqH int, enabled bool) (float64, bool) {
	if !enabled || logicalW <= 0 || logicalH <= 0 || reqW <= 0 || reqH <= 0 {
		return 1, false
	}
	if reqW >= logicalW && reqH >= logicalH {
		return 1, false
	}
	if reqW > logicalW || reqH > logicalH {
		return 1, false
	}

	ratio := float64(reqW) / float64(logicalW)
	if rh := float64(reqH) / float64(logicalH); rh > ratio {
		// The larger of the two ratios keeps every requested pixel.
		ratio = rh
	}
	w, h := Scale(logicalW, logicalH, ratio)
	if absDiff(w, reqW) > 1 || absDiff(h, reqH) > 1 {
		return 1, false
	}
	return ratio, true
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
