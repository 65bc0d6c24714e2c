// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package codec encodes and decodes images for import and export.
//
// PNG, JPEG, GIF, TIFF and BMP go through github.com/disintegration/imaging,
// WebP through github.com/HugoSmits86/nativewebp. Format names are the
// lower-case names reported by image.DecodeConfig ("png", "jpeg", "webp", ...).
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"

	"github.com/gogpu/gimage/backend"
)

// Format names.
const (
	PNG  = "png"
	JPEG = "jpeg"
	GIF  = "gif"
	TIFF = "tiff"
	BMP  = "bmp"
	WebP = "webp"
)

// DefaultQuality is the JPEG quality used when the caller passes 0.
const DefaultQuality = 95

// ErrUnsupportedFormat is returned for a format name no codec handles.
var ErrUnsupportedFormat = errors.New("codec: unsupported format")

var imagingFormats = map[string]imaging.Format{
	PNG:  imaging.PNG,
	JPEG: imaging.JPEG,
	GIF:  imaging.GIF,
	TIFF: imaging.TIFF,
	BMP:  imaging.BMP,
}

// Codec implements backend.Codec.
type Codec struct {
	// AutoOrient applies the EXIF orientation tag of JPEG input.
	AutoOrient bool
}

var _ backend.Codec = (*Codec)(nil)

// New returns a codec with EXIF auto-orientation enabled.
func New() *Codec {
	return &Codec{AutoOrient: true}
}

// Decode reads a complete encoded image.
func (c *Codec) Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("codec: read: %w", err)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("codec: %w", err)
	}

	var img image.Image
	if format == WebP {
		img, err = nativewebp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(c.AutoOrient))
	}
	if err != nil {
		return nil, format, fmt.Errorf("codec: decode %s: %w", format, err)
	}
	return img, format, nil
}

// Encode writes img in format. Quality applies to JPEG only; 0 selects
// DefaultQuality.
func (c *Codec) Encode(w io.Writer, img image.Image, format string, quality int) error {
	format = Normalize(format)
	if format == WebP {
		if err := nativewebp.Encode(w, img, &nativewebp.Options{}); err != nil {
			return fmt.Errorf("codec: encode webp: %w", err)
		}
		return nil
	}

	f, ok := imagingFormats[format]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if err := imaging.Encode(w, img, f, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("codec: encode %s: %w", format, err)
	}
	return nil
}

// Normalize maps a format name or file extension to a canonical format name.
// Unknown names are returned lower-cased.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, "."))
	switch name {
	case "jpg":
		return JPEG
	case "tif":
		return TIFF
	}
	return name
}

// FormatFromFilename returns the format implied by a file extension.
func FormatFromFilename(path string) (string, error) {
	format := Normalize(filepath.Ext(path))
	if format == WebP {
		return format, nil
	}
	if _, ok := imagingFormats[format]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return format, nil
}

// Supported reports whether format can be encoded.
func Supported(format string) bool {
	format = Normalize(format)
	_, ok := imagingFormats[format]
	return ok || format == WebP
}
