// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gimage/backend"
)

// Texture is a HAL texture.
type Texture struct {
	gpu      *GPU
	raw      hal.Texture
	desc     backend.TextureDescriptor
	epoch    uint64
	disposed bool
}

// Width returns the texture width.
func (t *Texture) Width() int { return t.desc.Width }

// Height returns the texture height.
func (t *Texture) Height() int { return t.desc.Height }

// Format returns the texture format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// checkLocked validates the texture for use. Caller must hold gpu.mu.
func (t *Texture) checkLocked() error {
	if t.disposed {
		return backend.ErrDisposed
	}
	if t.gpu.lost || t.epoch != t.gpu.epoch {
		return backend.ErrContextLost
	}
	return nil
}

// Fill clears the texture to c.
func (t *Texture) Fill(c backend.Color) error {
	if t.desc.Opaque {
		c = backend.Opaque(c)
	}
	px := backend.ToNRGBA(c)
	row := make([]byte, t.Width()*4)
	for i := 0; i < len(row); i += 4 {
		row[i], row[i+1], row[i+2], row[i+3] = px.R, px.G, px.B, px.A
	}
	data := make([]byte, 0, len(row)*t.Height())
	for y := 0; y < t.Height(); y++ {
		data = append(data, row...)
	}
	img := &image.NRGBA{Pix: data, Stride: len(row), Rect: image.Rect(0, 0, t.Width(), t.Height())}
	return t.write(img.Rect, img)
}

// Upload scales src into dst.
func (t *Texture) Upload(dst image.Rectangle, src image.Image, filter gputypes.FilterMode) error {
	dst = backend.Whole(dst, t.Width(), t.Height())
	if err := backend.CheckRect(dst, t.Width(), t.Height()); err != nil {
		return err
	}
	staged := image.NewNRGBA(image.Rect(0, 0, dst.Dx(), dst.Dy()))
	backend.Scale(staged, staged.Rect, src, image.Rectangle{}, filter)
	if t.desc.Opaque {
		backend.ForceOpaque(staged, staged.Rect)
	}
	return t.write(dst, staged)
}

// write uploads src, whose size must equal dst, to dst of the texture.
func (t *Texture) write(dst image.Rectangle, src *image.NRGBA) error {
	g := t.gpu
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return err
	}

	err := g.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture: t.raw,
			Origin:  hal.Origin3D{X: uint32(dst.Min.X), Y: uint32(dst.Min.Y)},
			Aspect:  gputypes.TextureAspectAll,
		},
		src.Pix,
		&hal.ImageDataLayout{BytesPerRow: uint32(src.Stride), RowsPerImage: uint32(dst.Dy())},
		&hal.Extent3D{Width: uint32(dst.Dx()), Height: uint32(dst.Dy()), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return g.recordLocked(fmt.Errorf("wgpu: write texture %q: %w", t.desc.Label, err))
	}
	return nil
}

// Read copies r back to host memory.
//
// The copy always starts at the texture origin and spans full rows down to
// r.Max.Y; r is cropped on the host. The software HAL ignores copy origins,
// so this is the only layout that reads the same pixels everywhere.
func (t *Texture) Read(r image.Rectangle) (*image.NRGBA, error) {
	r = backend.Whole(r, t.Width(), t.Height())
	if err := backend.CheckRect(r, t.Width(), t.Height()); err != nil {
		return nil, err
	}
	if lim := t.gpu.caps.MaxRenderBufferSize; r.Dx() > lim || r.Dy() > lim {
		return nil, fmt.Errorf("%w: readback %v (limit %d)", backend.ErrOutOfBounds, r, lim)
	}

	g := t.gpu
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return nil, err
	}

	rows := r.Max.Y
	tight := t.Width() * 4
	pitch := tight
	if !g.info.Software {
		pitch = (tight + copyPitch - 1) / copyPitch * copyPitch
	}
	size := uint64(pitch) * uint64(rows)

	buf, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gimage-readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, g.recordLocked(fmt.Errorf("wgpu: readback buffer: %w", err))
	}
	defer g.device.DestroyBuffer(buf)

	if err := g.copyToBufferLocked(t, buf, uint32(pitch), uint32(rows)); err != nil {
		return nil, err
	}

	mapping, err := g.device.MapBuffer(buf, 0, size)
	if err != nil {
		return nil, g.recordLocked(fmt.Errorf("wgpu: map readback: %w", err))
	}
	data := unsafe.Slice((*byte)(mapping.Ptr), size)

	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := data[y*pitch+r.Min.X*4 : y*pitch+r.Max.X*4]
		copy(out.Pix[(y-r.Min.Y)*out.Stride:], src)
	}
	if err := g.device.UnmapBuffer(buf); err != nil {
		return nil, g.recordLocked(fmt.Errorf("wgpu: unmap readback: %w", err))
	}
	return out, nil
}

// copyToBufferLocked records and submits a texture-to-buffer copy of the
// first rows of t and waits for it. Caller must hold g.mu.
func (g *GPU) copyToBufferLocked(t *Texture, buf hal.Buffer, pitch, rows uint32) error {
	encoder, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gimage-readback"})
	if err != nil {
		return g.recordLocked(fmt.Errorf("wgpu: create encoder: %w", err))
	}
	if err := encoder.BeginEncoding("gimage-readback"); err != nil {
		return g.recordLocked(fmt.Errorf("wgpu: begin encoding: %w", err))
	}
	encoder.CopyTextureToBuffer(t.raw, buf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: pitch, RowsPerImage: rows},
		TextureBase:  hal.ImageCopyTexture{Texture: t.raw, Aspect: gputypes.TextureAspectAll},
		Size:         hal.Extent3D{Width: uint32(t.Width()), Height: rows, DepthOrArrayLayers: 1},
	}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return g.recordLocked(fmt.Errorf("wgpu: end encoding: %w", err))
	}
	defer g.device.FreeCommandBuffer(cmd)

	if _, err := g.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return g.recordLocked(fmt.Errorf("wgpu: submit readback: %w", err))
	}
	if err := g.device.WaitIdle(); err != nil {
		return g.recordLocked(fmt.Errorf("wgpu: wait readback: %w", err))
	}
	return nil
}

// Dispose releases the texture.
func (t *Texture) Dispose() {
	g := t.gpu
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.disposed {
		return
	}
	t.disposed = true
	if t.epoch == g.epoch {
		g.device.DestroyTexture(t.raw)
	}
	t.raw = nil
}
