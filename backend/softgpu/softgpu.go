// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package softgpu provides a GPU backend whose textures live in host memory.
//
// It honors device limits and texture formats like a real device, and it can
// simulate device loss and queue backend errors, which makes it the backend
// of choice for exercising GPU code paths without hardware.
package softgpu

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gimage/backend"
)

func init() {
	backend.RegisterGPU(backend.GPUSoft, func() (backend.GPU, error) {
		return New(Config{}), nil
	})
}

// Texture-related errors.
var (
	// ErrTextureTooLarge is returned when a texture exceeds the size limit.
	ErrTextureTooLarge = errors.New("softgpu: texture exceeds device limit")

	// ErrProgramDisposed is returned when running a disposed program.
	ErrProgramDisposed = errors.New("softgpu: program disposed")
)

// DefaultMaxTextureSize is the edge limit used when Config leaves it unset.
const DefaultMaxTextureSize = 8192

// Config configures a GPU.
type Config struct {
	// MaxTextureSize limits read-only textures. Defaults to DefaultMaxTextureSize.
	MaxTextureSize int

	// MaxRenderBufferSize limits render targets and readback tiles.
	// Defaults to MaxTextureSize.
	MaxRenderBufferSize int

	// Formats lists allocatable formats. Defaults to RGBA8Unorm, RGBA16Float
	// and RGBA32Float.
	Formats []gputypes.TextureFormat
}

// Stats counts operations performed by a GPU.
type Stats struct {
	TexturesCreated int
	Fills           int
	Uploads         int
	Reads           int
	Runs            int
}

// GPU is an in-memory GPU backend.
//
// GPU is safe for concurrent use.
type GPU struct {
	mu     sync.Mutex
	caps   backend.Capabilities
	stats  Stats
	errs   []error
	fail   error
	lost   bool
	epoch  uint64 // bumped on context loss; older textures are invalid
	logger atomic.Pointer[slog.Logger]
}

// New creates a GPU.
func New(cfg Config) *GPU {
	if cfg.MaxTextureSize <= 0 {
		cfg.MaxTextureSize = DefaultMaxTextureSize
	}
	if cfg.MaxRenderBufferSize <= 0 {
		cfg.MaxRenderBufferSize = cfg.MaxTextureSize
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []gputypes.TextureFormat{
			gputypes.TextureFormatRGBA8Unorm,
			gputypes.TextureFormatRGBA16Float,
			gputypes.TextureFormatRGBA32Float,
		}
	}
	g := &GPU{caps: backend.Capabilities{
		MaxTextureSize:      cfg.MaxTextureSize,
		MaxRenderBufferSize: cfg.MaxRenderBufferSize,
		Formats:             cfg.Formats,
	}}
	g.logger.Store(slog.New(slog.DiscardHandler))
	return g
}

// SetLogger sets the logger used for device events.
func (g *GPU) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger.Store(l)
	}
}

// Name returns the backend identifier.
func (g *GPU) Name() string { return backend.GPUSoft }

// Capabilities returns the device limits.
func (g *GPU) Capabilities() backend.Capabilities { return g.caps }

// Stats returns operation counters.
func (g *GPU) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// InjectError records err as if the device had reported it. It is returned
// by the next call to Errors.
func (g *GPU) InjectError(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}

// FailNext makes the next texture or program operation fail with err.
func (g *GPU) FailNext(err error) {
	g.mu.Lock()
	g.fail = err
	g.mu.Unlock()
}

// LoseContext simulates device loss.
func (g *GPU) LoseContext() {
	g.mu.Lock()
	g.lost = true
	g.epoch++
	g.mu.Unlock()
	g.logger.Load().Warn("softgpu: context lost")
}

// ContextLost reports whether the device was lost.
func (g *GPU) ContextLost() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lost
}

// Restore reacquires the device. Textures from before the loss stay invalid.
func (g *GPU) Restore() error {
	g.mu.Lock()
	g.lost = false
	g.mu.Unlock()
	g.logger.Load().Info("softgpu: context restored")
	return nil
}

// Errors returns and clears recorded errors.
func (g *GPU) Errors() []error {
	g.mu.Lock()
	defer g.mu.Unlock()
	errs := g.errs
	g.errs = nil
	return errs
}

// Close releases the backend.
func (g *GPU) Close() {}

// beginLocked checks device state before an operation and consumes a
// pending FailNext error. Caller must hold g.mu.
func (g *GPU) beginLocked() error {
	if g.lost {
		return backend.ErrContextLost
	}
	if err := g.fail; err != nil {
		g.fail = nil
		g.errs = append(g.errs, err)
		return err
	}
	return nil
}

// NewTexture creates a texture.
func (g *GPU) NewTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.beginLocked(); err != nil {
		return nil, err
	}
	if !g.caps.Supports(desc.Format) {
		return nil, fmt.Errorf("%w: %v", backend.ErrFormatUnsupported, desc.Format)
	}
	limit := g.caps.MaxRenderBufferSize
	if desc.ReadOnly {
		limit = g.caps.MaxTextureSize
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Width > limit || desc.Height > limit {
		return nil, fmt.Errorf("%w: %dx%d (limit %d)", ErrTextureTooLarge, desc.Width, desc.Height, limit)
	}

	g.stats.TexturesCreated++
	return &Texture{
		gpu:   g,
		desc:  desc,
		epoch: g.epoch,
		img:   image.NewNRGBA(image.Rect(0, 0, desc.Width, desc.Height)),
	}, nil
}

// NewProgram creates a program. WGSL sources are compiled for validation.
func (g *GPU) NewProgram(src backend.ProgramSource) (backend.Program, error) {
	g.mu.Lock()
	err := g.beginLocked()
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if src.Kernel == nil {
		return nil, backend.ErrNoKernel
	}
	if src.WGSL != "" {
		if _, err := backend.CompileWGSL(src.WGSL); err != nil {
			return nil, fmt.Errorf("softgpu: compile %q: %w", src.Label, err)
		}
	}
	return &Program{src: src}, nil
}

// Run evaluates p's kernel over dstRect of dst.
func (g *GPU) Run(p backend.Program, dst backend.Texture, dstRect image.Rectangle, inputs []backend.Binding, uniforms backend.Uniforms) error {
	prog, ok := p.(*Program)
	if !ok || prog.disposed {
		return ErrProgramDisposed
	}
	out, err := g.own(dst)
	if err != nil {
		return err
	}

	in := backend.ImageInputs{
		Images:  make([]*image.NRGBA, len(inputs)),
		Filters: make([]gputypes.FilterMode, len(inputs)),
	}
	for i, b := range inputs {
		t, err := g.own(b.Texture)
		if err != nil {
			return err
		}
		in.Images[i] = t.img
		in.Filters[i] = b.Filter
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.beginLocked(); err != nil {
		return err
	}
	dstRect = backend.Whole(dstRect, out.Width(), out.Height())
	if err := backend.CheckRect(dstRect, out.Width(), out.Height()); err != nil {
		return err
	}
	backend.RunKernel(prog.src.Kernel, out.img, dstRect, in, uniforms, out.desc.Opaque)
	g.stats.Runs++
	return nil
}

// own returns t as a live texture of this device.
func (g *GPU) own(t backend.Texture) (*Texture, error) {
	tex, ok := t.(*Texture)
	if !ok || tex.gpu != g {
		return nil, fmt.Errorf("softgpu: foreign texture %T", t)
	}
	return tex, tex.valid()
}

// Texture is an in-memory texture.
type Texture struct {
	gpu      *GPU
	desc     backend.TextureDescriptor
	epoch    uint64
	img      *image.NRGBA
	disposed bool
}

// Width returns the texture width.
func (t *Texture) Width() int { return t.desc.Width }

// Height returns the texture height.
func (t *Texture) Height() int { return t.desc.Height }

// Format returns the texture format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

func (t *Texture) valid() error {
	if t.disposed {
		return backend.ErrDisposed
	}
	t.gpu.mu.Lock()
	defer t.gpu.mu.Unlock()
	if t.epoch != t.gpu.epoch {
		return backend.ErrContextLost
	}
	return nil
}

// op runs f under the device lock after the usual state checks.
func (t *Texture) op(f func()) error {
	if t.disposed {
		return backend.ErrDisposed
	}
	g := t.gpu
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.epoch != g.epoch {
		return backend.ErrContextLost
	}
	if err := g.beginLocked(); err != nil {
		return err
	}
	f()
	return nil
}

// Fill clears the texture to c.
func (t *Texture) Fill(c backend.Color) error {
	if t.desc.Opaque {
		c = backend.Opaque(c)
	}
	px := backend.ToNRGBA(c)
	return t.op(func() {
		for i := 0; i < len(t.img.Pix); i += 4 {
			t.img.Pix[i+0] = px.R
			t.img.Pix[i+1] = px.G
			t.img.Pix[i+2] = px.B
			t.img.Pix[i+3] = px.A
		}
		t.gpu.stats.Fills++
	})
}

// Upload scales src into dst.
func (t *Texture) Upload(dst image.Rectangle, src image.Image, filter gputypes.FilterMode) error {
	dst = backend.Whole(dst, t.Width(), t.Height())
	if err := backend.CheckRect(dst, t.Width(), t.Height()); err != nil {
		return err
	}
	return t.op(func() {
		backend.Scale(t.img, dst, src, image.Rectangle{}, filter)
		if t.desc.Opaque {
			backend.ForceOpaque(t.img, dst)
		}
		t.gpu.stats.Uploads++
	})
}

// Read copies r back to host memory.
func (t *Texture) Read(r image.Rectangle) (*image.NRGBA, error) {
	r = backend.Whole(r, t.Width(), t.Height())
	if err := backend.CheckRect(r, t.Width(), t.Height()); err != nil {
		return nil, err
	}
	if lim := t.gpu.caps.MaxRenderBufferSize; r.Dx() > lim || r.Dy() > lim {
		return nil, fmt.Errorf("%w: readback %v (limit %d)", ErrTextureTooLarge, r, lim)
	}
	var out *image.NRGBA
	err := t.op(func() {
		out = image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		backend.Scale(out, out.Rect, t.img, r, gputypes.FilterModeNearest)
		t.gpu.stats.Reads++
	})
	return out, err
}

// Dispose releases the texture.
func (t *Texture) Dispose() {
	t.disposed = true
	t.img = nil
}

// Program is a kernel program.
type Program struct {
	src      backend.ProgramSource
	disposed bool
}

// Source returns the program description.
func (p *Program) Source() backend.ProgramSource { return p.src }

// Dispose releases the program.
func (p *Program) Dispose() { p.disposed = true }
