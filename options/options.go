// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package options holds the image and execution options carried by engine
// commands.
//
// ImageOptions uses pointer fields so that an unset field can be told apart
// from a zero value. Options resolve field by field: image options override
// the engine defaults, which override the built-in defaults.
package options

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gimage/resource"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("options: invalid value")

// BitDepth is the number of bits per color channel of GPU textures.
type BitDepth int

// Supported bit depths.
const (
	Depth8  BitDepth = 8
	Depth16 BitDepth = 16
	Depth32 BitDepth = 32
)

// TextureFormat returns the texture format that stores this depth.
func (d BitDepth) TextureFormat() gputypes.TextureFormat {
	switch d {
	case Depth16:
		return gputypes.TextureFormatRGBA16Float
	case Depth32:
		return gputypes.TextureFormatRGBA32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

// Channels selects whether an image carries alpha.
type Channels string

// Channel layouts.
const (
	RGB  Channels = "rgb"
	RGBA Channels = "rgba"
)

// Sampling selects the filter used when an image is scaled or sampled.
type Sampling string

// Sampling modes.
const (
	Linear  Sampling = "linear"
	Nearest Sampling = "nearest"
)

// FilterMode returns the GPU filter for s.
func (s Sampling) FilterMode() gputypes.FilterMode {
	if s == Nearest {
		return gputypes.FilterModeNearest
	}
	return gputypes.FilterModeLinear
}

// ImageOptions configures one image. A nil field inherits.
type ImageOptions struct {
	BitDepth *BitDepth `toml:"bit_depth,omitempty"`
	Channels *Channels `toml:"channels,omitempty"`
	Sampling *Sampling `toml:"sampling,omitempty"`

	// BackupToRaster copies GPU results to the raster surface after every
	// execution.
	BackupToRaster *bool `toml:"backup_to_raster,omitempty"`

	// AllowOversized disables clamping to the engine's maximum image size.
	AllowOversized *bool `toml:"allow_oversized,omitempty"`

	// GPUReadOnly marks textures that are sampled but never rendered into.
	GPUReadOnly *bool `toml:"gpu_read_only,omitempty"`

	// Downscale is applied to every representation, in (0, 1].
	Downscale *float64 `toml:"downscale,omitempty"`

	// GPUDownscale is applied to textures only, in (0, 1].
	GPUDownscale *float64 `toml:"gpu_downscale,omitempty"`

	// PreserveDownscale keeps pixels loaded with smaller dimensions of the
	// same aspect ratio at their lower resolution.
	PreserveDownscale *bool `toml:"preserve_downscale,omitempty"`

	// ContextLostColor becomes the image content when a GPU context loss
	// leaves no current representation.
	ContextLostColor *gputypes.Color `toml:"context_lost_color,omitempty"`
}

// Inherit returns o with every unset field taken from parent.
func (o ImageOptions) Inherit(parent ImageOptions) ImageOptions {
	out := o
	if out.BitDepth == nil {
		out.BitDepth = parent.BitDepth
	}
	if out.Channels == nil {
		out.Channels = parent.Channels
	}
	if out.Sampling == nil {
		out.Sampling = parent.Sampling
	}
	if out.BackupToRaster == nil {
		out.BackupToRaster = parent.BackupToRaster
	}
	if out.AllowOversized == nil {
		out.AllowOversized = parent.AllowOversized
	}
	if out.GPUReadOnly == nil {
		out.GPUReadOnly = parent.GPUReadOnly
	}
	if out.Downscale == nil {
		out.Downscale = parent.Downscale
	}
	if out.GPUDownscale == nil {
		out.GPUDownscale = parent.GPUDownscale
	}
	if out.PreserveDownscale == nil {
		out.PreserveDownscale = parent.PreserveDownscale
	}
	if out.ContextLostColor == nil {
		out.ContextLostColor = parent.ContextLostColor
	}
	return out
}

// Validate checks the set fields.
func (o ImageOptions) Validate() error {
	if o.BitDepth != nil {
		switch *o.BitDepth {
		case Depth8, Depth16, Depth32:
		default:
			return fmt.Errorf("%w: bit depth %d", ErrInvalid, *o.BitDepth)
		}
	}
	if o.Channels != nil && *o.Channels != RGB && *o.Channels != RGBA {
		return fmt.Errorf("%w: channels %q", ErrInvalid, *o.Channels)
	}
	if o.Sampling != nil && *o.Sampling != Linear && *o.Sampling != Nearest {
		return fmt.Errorf("%w: sampling %q", ErrInvalid, *o.Sampling)
	}
	for name, v := range map[string]*float64{"downscale": o.Downscale, "gpu_downscale": o.GPUDownscale} {
		if v != nil && (*v <= 0 || *v > 1) {
			return fmt.Errorf("%w: %s %g not in (0, 1]", ErrInvalid, name, *v)
		}
	}
	return nil
}

// Resolved is an ImageOptions with every field set.
type Resolved struct {
	BitDepth          BitDepth
	Channels          Channels
	Sampling          Sampling
	BackupToRaster    bool
	AllowOversized    bool
	GPUReadOnly       bool
	Downscale         float64
	GPUDownscale      float64
	PreserveDownscale bool
	ContextLostColor  *gputypes.Color
}

// Resolve fills unset fields with the built-in defaults: 8 bits, RGBA,
// linear sampling, no downscale and everything else off.
func (o ImageOptions) Resolve() Resolved {
	r := Resolved{
		BitDepth:         Depth8,
		Channels:         RGBA,
		Sampling:         Linear,
		Downscale:        1,
		GPUDownscale:     1,
		ContextLostColor: o.ContextLostColor,
	}
	if o.BitDepth != nil {
		r.BitDepth = *o.BitDepth
	}
	if o.Channels != nil {
		r.Channels = *o.Channels
	}
	if o.Sampling != nil {
		r.Sampling = *o.Sampling
	}
	if o.BackupToRaster != nil {
		r.BackupToRaster = *o.BackupToRaster
	}
	if o.AllowOversized != nil {
		r.AllowOversized = *o.AllowOversized
	}
	if o.GPUReadOnly != nil {
		r.GPUReadOnly = *o.GPUReadOnly
	}
	if o.Downscale != nil {
		r.Downscale = *o.Downscale
	}
	if o.GPUDownscale != nil {
		r.GPUDownscale = *o.GPUDownscale
	}
	if o.PreserveDownscale != nil {
		r.PreserveDownscale = *o.PreserveDownscale
	}
	return r
}

// Opaque reports whether the image drops alpha.
func (r Resolved) Opaque() bool { return r.Channels == RGB }

// Ptr returns a pointer to v, for filling ImageOptions literals.
func Ptr[T any](v T) *T { return &v }

// Optimizer names.
const (
	OptimizerNull = "null"
	OptimizerLRU  = "lru"
)

// ExecutionOptions configures an engine.
type ExecutionOptions struct {
	// Debug checks the GPU for errors after every GPU operation.
	Debug bool `toml:"debug"`

	// MaxTextureSize and MaxRenderBufferSize override the device limits
	// when set and lower.
	MaxTextureSize      int `toml:"max_texture_size"`
	MaxRenderBufferSize int `toml:"max_render_buffer_size"`

	// MaxImageWidth and MaxImageHeight bound images that do not allow
	// oversizing. Zero means unbounded.
	MaxImageWidth  int `toml:"max_image_width"`
	MaxImageHeight int `toml:"max_image_height"`

	// Optimizer selects the eviction policy: "null" or "lru".
	Optimizer string `toml:"optimizer"`

	// Limits are the memory ceilings. Zero means unbounded.
	Limits resource.Limits `toml:"limits"`

	// Image holds the defaults inherited by every image of the engine.
	Image ImageOptions `toml:"image"`
}

// DefaultExecutionOptions returns the options of a new engine.
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		MaxImageWidth:  16384,
		MaxImageHeight: 16384,
		Optimizer:      OptimizerLRU,
	}
}

// Validate checks the execution options.
func (o ExecutionOptions) Validate() error {
	for name, v := range map[string]int{
		"max_texture_size":       o.MaxTextureSize,
		"max_render_buffer_size": o.MaxRenderBufferSize,
		"max_image_width":        o.MaxImageWidth,
		"max_image_height":       o.MaxImageHeight,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s %d", ErrInvalid, name, v)
		}
	}
	switch o.Optimizer {
	case "", OptimizerNull, OptimizerLRU:
	default:
		return fmt.Errorf("%w: optimizer %q", ErrInvalid, o.Optimizer)
	}
	return o.Image.Validate()
}
