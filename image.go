package gimage

import (
	"context"
	"image"
	"io"

	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
)

// Image is a logical image. Its content lives in a fill color, a raster
// surface or a GPU texture, whichever the last operation produced, and is
// converted between them on demand.
type Image struct {
	eng *Engine
	h   handle.Handle

	width, height int
}

// ID returns the image's handle.
func (img *Image) ID() handle.Handle { return img.h }

// Bounds returns the logical rectangle of the image.
func (img *Image) Bounds() image.Rectangle { return image.Rect(0, 0, img.width, img.height) }

// Engine returns the engine the image belongs to.
func (img *Image) Engine() *Engine { return img.eng }

func (img *Image) call(ctx context.Context, p dispatch.Payload) (any, error) {
	return img.eng.rt.call(ctx, img.h, p)
}

// FillSolid sets every pixel to c. It allocates nothing.
func (img *Image) FillSolid(ctx context.Context, c Color) error {
	_, err := img.call(ctx, dispatch.FillSolid{Color: c})
	return err
}

// FillSolidAsync is FillSolid without waiting for the result.
func (img *Image) FillSolidAsync(c Color) *Pending {
	return img.eng.rt.queue(img.h, dispatch.FillSolid{Color: c})
}

// GetPixel returns the color at (x, y).
func (img *Image) GetPixel(ctx context.Context, x, y int) (Color, error) {
	v, err := img.call(ctx, dispatch.GetPixel{X: x, Y: y})
	if err != nil {
		return Color{}, err
	}
	return v.(Color), nil
}

// SetPixel sets the color at (x, y).
func (img *Image) SetPixel(ctx context.Context, x, y int, c Color) error {
	_, err := img.call(ctx, dispatch.SetPixel{X: x, Y: y, Color: c})
	return err
}

// SetPixelAsync is SetPixel without waiting for the result.
func (img *Image) SetPixelAsync(x, y int, c Color) *Pending {
	return img.eng.rt.queue(img.h, dispatch.SetPixel{X: x, Y: y, Color: c})
}

// LoadPixels replaces the content with pix. A size other than the image's
// fails with InvalidDimensions unless allowRescale is set.
func (img *Image) LoadPixels(ctx context.Context, pix *image.NRGBA, allowRescale bool) error {
	_, err := img.call(ctx, dispatch.LoadPixelData{Pixels: pix, AllowRescale: allowRescale})
	return err
}

// LoadEncoded decodes data (PNG, JPEG, GIF, TIFF, BMP or WebP) and
// replaces the content with it.
func (img *Image) LoadEncoded(ctx context.Context, data []byte, allowRescale bool) error {
	_, err := img.call(ctx, dispatch.LoadEncoded{Data: data, AllowRescale: allowRescale})
	return err
}

// LoadFrom reads an encoded image from r.
func (img *Image) LoadFrom(ctx context.Context, r io.Reader, allowRescale bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return img.LoadEncoded(ctx, data, allowRescale)
}

// CopyFrom copies srcRect of src into dstRect of img, rescaling when the
// sizes differ. Empty rectangles mean the whole image.
func (img *Image) CopyFrom(ctx context.Context, src *Image, srcRect, dstRect image.Rectangle) error {
	_, err := img.call(ctx, dispatch.CopyFrom{Source: src.h, SrcRect: srcRect, DstRect: dstRect})
	return err
}

// Execute runs s over dstRect of img on the GPU. An empty rectangle means
// the whole image. img may be one of the shader's inputs.
func (img *Image) Execute(ctx context.Context, s *Shader, dstRect image.Rectangle) error {
	_, err := img.call(ctx, dispatch.Execute{Shader: s.h, DstRect: dstRect})
	return err
}

// ExportPixels returns r of the image at its logical resolution. An empty
// rectangle means the whole image.
func (img *Image) ExportPixels(ctx context.Context, r image.Rectangle) (*image.NRGBA, error) {
	v, err := img.call(ctx, dispatch.ExportPixels{Rect: r})
	if err != nil {
		return nil, err
	}
	return v.(*image.NRGBA), nil
}

// ExportEncoded encodes the image as format ("png", "jpeg", ...). Quality
// applies to JPEG; zero selects the default.
func (img *Image) ExportEncoded(ctx context.Context, format string, quality int) ([]byte, error) {
	v, err := img.call(ctx, dispatch.ExportEncoded{Format: format, Quality: quality})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// SetOptions overrides the set fields of o. Existing representations keep
// their size until they are next allocated.
func (img *Image) SetOptions(ctx context.Context, o ImageOptions) error {
	_, err := img.call(ctx, dispatch.SetOptions{Options: o})
	return err
}

// ReleaseResources drops the representations selected by flags.
func (img *Image) ReleaseResources(ctx context.Context, flags ReleaseFlags) error {
	_, err := img.call(ctx, dispatch.ReleaseResources{Flags: flags})
	return err
}

// Dispose releases every representation. Further operations fail with
// ObjectDisposed.
func (img *Image) Dispose(ctx context.Context) error {
	_, err := img.call(ctx, dispatch.Dispose{})
	return err
}
