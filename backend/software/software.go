// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software provides the CPU raster backend. Surfaces are
// *image.NRGBA buffers; scaled copies use golang.org/x/image/draw.
package software

import (
	"fmt"
	"image"
	"image/draw"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gimage/backend"
)

func init() {
	backend.RegisterRaster(backend.RasterSoftware, func() (backend.Raster, error) {
		return New(), nil
	})
}

// Backend creates software surfaces.
type Backend struct {
	created atomic.Int64
}

// New creates a software raster backend.
func New() *Backend {
	return &Backend{}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.RasterSoftware }

// Created returns the number of surfaces created so far.
func (b *Backend) Created() int64 { return b.created.Load() }

// NewSurface creates a w×h surface, initially transparent black.
func (b *Backend) NewSurface(w, h int) (backend.Surface, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: surface %dx%d", backend.ErrOutOfBounds, w, h)
	}
	b.created.Add(1)
	return &Surface{img: image.NewNRGBA(image.Rect(0, 0, w, h))}, nil
}

// Surface is a CPU surface backed by an *image.NRGBA.
type Surface struct {
	img *image.NRGBA

	// disposed tracks if Dispose has been called
	disposed bool
}

// Wrap returns a surface that renders into img directly.
func Wrap(img *image.NRGBA) *Surface {
	return &Surface{img: img}
}

// Width returns the surface width.
func (s *Surface) Width() int { return s.img.Rect.Dx() }

// Height returns the surface height.
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Image returns the backing image. It must not be used after Dispose.
func (s *Surface) Image() *image.NRGBA { return s.img }

func (s *Surface) check(r image.Rectangle) (image.Rectangle, error) {
	if s.disposed {
		return r, backend.ErrDisposed
	}
	r = backend.Whole(r, s.Width(), s.Height())
	return r, backend.CheckRect(r, s.Width(), s.Height())
}

// Fill sets every pixel in r to c.
func (s *Surface) Fill(c backend.Color, r image.Rectangle) error {
	r, err := s.check(r)
	if err != nil {
		return err
	}
	draw.Draw(s.img, r, image.NewUniform(backend.ToNRGBA(c)), image.Point{}, draw.Src)
	return nil
}

// Pixel returns the color at (x, y).
func (s *Surface) Pixel(x, y int) (backend.Color, error) {
	if _, err := s.check(image.Rect(x, y, x+1, y+1)); err != nil {
		return backend.Color{}, err
	}
	return backend.FromNRGBA(s.img.NRGBAAt(x, y)), nil
}

// SetPixel sets the color at (x, y).
func (s *Surface) SetPixel(x, y int, c backend.Color) error {
	if _, err := s.check(image.Rect(x, y, x+1, y+1)); err != nil {
		return err
	}
	s.img.SetNRGBA(x, y, backend.ToNRGBA(c))
	return nil
}

// ReadPixels returns a copy of r with its origin at (0, 0).
func (s *Surface) ReadPixels(r image.Rectangle) (*image.NRGBA, error) {
	r, err := s.check(r)
	if err != nil {
		return nil, err
	}
	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Rect, s.img, r.Min, draw.Src)
	return out, nil
}

// WritePixels scales src into dst.
func (s *Surface) WritePixels(dst image.Rectangle, src image.Image, filter gputypes.FilterMode) error {
	dst, err := s.check(dst)
	if err != nil {
		return err
	}
	backend.Scale(s.img, dst, src, image.Rectangle{}, filter)
	return nil
}

// Draw scales srcRect of src into dst. Surfaces of other backends are read
// back first.
func (s *Surface) Draw(dst image.Rectangle, src backend.Surface, srcRect image.Rectangle, filter gputypes.FilterMode) error {
	dst, err := s.check(dst)
	if err != nil {
		return err
	}
	srcRect = backend.Whole(srcRect, src.Width(), src.Height())

	if other, ok := src.(*Surface); ok {
		if other.disposed {
			return backend.ErrDisposed
		}
		if err := backend.CheckRect(srcRect, other.Width(), other.Height()); err != nil {
			return err
		}
		if other == s {
			// Overlapping self-copies read from a snapshot.
			snap, err := s.ReadPixels(srcRect)
			if err != nil {
				return err
			}
			backend.Scale(s.img, dst, snap, image.Rectangle{}, filter)
			return nil
		}
		backend.Scale(s.img, dst, other.img, srcRect, filter)
		return nil
	}

	pix, err := src.ReadPixels(srcRect)
	if err != nil {
		return err
	}
	backend.Scale(s.img, dst, pix, image.Rectangle{}, filter)
	return nil
}

// Dispose releases the surface.
func (s *Surface) Dispose() {
	s.disposed = true
}
