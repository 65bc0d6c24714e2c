package engine

import (
	"image"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/downscale"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/resource"
)

func (img *Image) params(gpu bool) downscale.Params {
	e := img.eng
	o := img.resolved
	p := downscale.Params{
		Width:                    img.width,
		Height:                   img.height,
		Downscale:                o.Downscale,
		GPUDownscale:             o.GPUDownscale,
		GPU:                      gpu,
		ReadOnly:                 o.GPUReadOnly,
		OverrideTextureSize:      e.opts.MaxTextureSize,
		OverrideRenderBufferSize: e.opts.MaxRenderBufferSize,
		MaxImageWidth:            e.opts.MaxImageWidth,
		MaxImageHeight:           e.opts.MaxImageHeight,
		AllowOversized:           o.AllowOversized,
		Requested:                img.requested,
	}
	if e.gpu != nil {
		caps := e.gpu.Capabilities()
		p.MaxTextureSize = caps.MaxTextureSize
		p.MaxRenderBufferSize = caps.MaxRenderBufferSize
	}
	return p
}

func (img *Image) compute(gpu bool) downscale.Result {
	res := downscale.Compute(img.params(gpu))
	if res.Oversized && !img.warned {
		img.warned = true
		img.eng.log().Warn("engine: image exceeds the maximum size and is downscaled",
			"handle", img.h, "width", img.width, "height", img.height, "ratio", res.Ratio)
	}
	return res
}

// allocateSurface makes the surface slot hold a surface of the computed
// size. A matching surface is reused; its content is left stale.
func (img *Image) allocateSurface(op string) error {
	e := img.eng
	res := img.compute(false)
	s := &img.surface
	if s.matches(res.Ratio, res.Width, res.Height) {
		s.current = false
		e.optimizer.Touch(img, ReprSurface)
		return nil
	}
	img.freeSurface()

	n := resource.RasterBytes(res.Width, res.Height)
	if err := e.reserve(op, resource.RasterSurface, n); err != nil {
		return err
	}
	surf, err := e.raster.NewSurface(res.Width, res.Height)
	if err != nil {
		e.tracker.Release(resource.RasterSurface, n)
		return e.backendError(op, err)
	}
	s.set(surf, res.Ratio, res.Width, res.Height, n)
	e.optimizer.Touch(img, ReprSurface)
	e.log().Debug("engine: surface allocated", "handle", img.h,
		"width", res.Width, "height", res.Height, "ratio", res.Ratio)
	return nil
}

// populateSurface makes the surface current, converting from the color or
// the texture. A current surface is kept even if its ratio is outdated.
func (img *Image) populateSurface(op string) error {
	e := img.eng
	if img.surface.current {
		e.optimizer.Touch(img, ReprSurface)
		return nil
	}
	switch {
	case img.color.current:
		if err := img.allocateSurface(op); err != nil {
			return err
		}
		if err := img.surface.content.Fill(img.color.content, image.Rectangle{}); err != nil {
			return e.backendError(op, err)
		}
	case img.texture.current:
		if err := e.requireGPU(op); err != nil {
			return err
		}
		if err := img.allocateSurface(op); err != nil {
			return err
		}
		if err := img.readTexture(op); err != nil {
			return err
		}
	default:
		return uninitialized(op)
	}
	img.surface.current = true
	return nil
}

// readTexture copies the texture into the surface, one render-buffer
// sized tile at a time, each through a transient GPU surface.
func (img *Image) readTexture(op string) error {
	e := img.eng
	tex := img.texture.content
	tw, th := img.texture.width, img.texture.height
	sw, sh := img.surface.width, img.surface.height

	tile := max(tw, th)
	if m := e.gpu.Capabilities().MaxRenderBufferSize; m > 0 && m < tile {
		tile = m
	}
	if m := e.opts.MaxRenderBufferSize; m > 0 && m < tile {
		tile = m
	}

	for y := 0; y < th; y += tile {
		for x := 0; x < tw; x += tile {
			r := image.Rect(x, y, min(x+tile, tw), min(y+tile, th))
			n := resource.TextureBytes(r.Dx(), r.Dy(), int(img.resolved.BitDepth))
			if err := e.reserve(op, resource.GPUSurface, n); err != nil {
				return err
			}
			pix, err := tex.Read(r)
			e.tracker.Release(resource.GPUSurface, n)
			if err != nil {
				return e.gpuError(op, err)
			}
			dr := scaleRect(r, tw, th, sw, sh)
			if err := img.surface.content.WritePixels(dr, pix, img.filter()); err != nil {
				return e.backendError(op, err)
			}
		}
	}
	return nil
}

// allocateTexture makes the texture slot hold a texture of the computed
// size. A matching texture is reused; its content is left stale.
func (img *Image) allocateTexture(op string) error {
	e := img.eng
	if err := e.requireGPU(op); err != nil {
		return err
	}
	format := img.resolved.BitDepth.TextureFormat()
	if !e.gpu.Capabilities().Supports(format) {
		return imgerr.New(imgerr.CodeUnsupported, op, "%s does not support %d-bit textures",
			e.gpu.Name(), img.resolved.BitDepth)
	}

	res := img.compute(true)
	s := &img.texture
	if s.matches(res.Ratio, res.Width, res.Height) && s.content.Format() == format {
		s.current = false
		e.optimizer.Touch(img, ReprTexture)
		return nil
	}
	img.freeTexture()

	tex, n, err := img.newTexture(op, res.Width, res.Height)
	if err != nil {
		return err
	}
	s.set(tex, res.Ratio, res.Width, res.Height, n)
	e.optimizer.Touch(img, ReprTexture)
	e.log().Debug("engine: texture allocated", "handle", img.h,
		"width", res.Width, "height", res.Height, "ratio", res.Ratio, "format", format)
	return nil
}

// newTexture creates and accounts a texture in the image's format.
func (img *Image) newTexture(op string, w, h int) (backend.Texture, uint64, error) {
	e := img.eng
	n := resource.TextureBytes(w, h, int(img.resolved.BitDepth))
	if err := e.reserve(op, resource.GPUTexture, n); err != nil {
		return nil, 0, err
	}
	tex, err := e.gpu.NewTexture(backend.TextureDescriptor{
		Label:    string(img.h),
		Width:    w,
		Height:   h,
		Format:   img.resolved.BitDepth.TextureFormat(),
		ReadOnly: img.resolved.GPUReadOnly,
		Opaque:   img.resolved.Opaque(),
	})
	if err != nil {
		e.tracker.Release(resource.GPUTexture, n)
		return nil, 0, e.gpuError(op, err)
	}
	return tex, n, nil
}

// populateTexture makes the texture current, converting from the color or
// the surface.
func (img *Image) populateTexture(op string) error {
	e := img.eng
	if err := e.requireGPU(op); err != nil {
		return err
	}
	if img.texture.current {
		e.optimizer.Touch(img, ReprTexture)
		return nil
	}
	switch {
	case img.color.current:
		if err := img.allocateTexture(op); err != nil {
			return err
		}
		if err := img.texture.content.Fill(img.color.content); err != nil {
			return e.gpuError(op, err)
		}
	case img.surface.current:
		if err := img.allocateTexture(op); err != nil {
			return err
		}
		pix, err := img.surface.content.ReadPixels(image.Rectangle{})
		if err != nil {
			return e.backendError(op, err)
		}
		if err := img.texture.content.Upload(image.Rectangle{}, pix, img.filter()); err != nil {
			return e.gpuError(op, err)
		}
	default:
		return uninitialized(op)
	}
	img.texture.current = true
	return nil
}

func (img *Image) freeSurface() {
	s := &img.surface
	if !s.allocated {
		return
	}
	s.content.Dispose()
	img.eng.tracker.Release(resource.RasterSurface, s.bytes)
	img.eng.optimizer.Forget(img, ReprSurface)
	s.clear()
}

func (img *Image) freeTexture() {
	s := &img.texture
	if !s.allocated {
		return
	}
	s.content.Dispose()
	img.eng.tracker.Release(resource.GPUTexture, s.bytes)
	img.eng.optimizer.Forget(img, ReprTexture)
	s.clear()
}
