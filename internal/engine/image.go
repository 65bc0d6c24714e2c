package engine

import (
	"bytes"
	"errors"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/codec"
	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/downscale"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/options"
	"github.com/gogpu/gimage/resource"
)

// Image is a logical image with fixed dimensions and up to three
// representations of its content.
//
// After a write exactly the written representation is current. After a
// population the source and the populated representation are both current
// until the next write.
type Image struct {
	h   handle.Handle
	eng *Engine

	width, height int

	opts     options.ImageOptions
	resolved options.Resolved

	color   slot[backend.Color]
	surface slot[backend.Surface]
	texture slot[backend.Texture]

	// requested is a downscale preserved from pixels loaded at a lower
	// resolution. Zero means none.
	requested float64

	// warned is set once the oversize warning was logged.
	warned bool
}

// ID returns the image's handle.
func (img *Image) ID() handle.Handle { return img.h }

// Size returns the logical dimensions.
func (img *Image) Size() (int, int) { return img.width, img.height }

// Options returns the resolved options.
func (img *Image) Options() options.Resolved { return img.resolved }

// Current reports whether representation r reflects the latest write.
func (img *Image) Current(r Representation) bool {
	switch r {
	case ReprColor:
		return img.color.current
	case ReprSurface:
		return img.surface.current
	case ReprTexture:
		return img.texture.current
	}
	return false
}

// Allocated reports whether representation r holds a backing object.
func (img *Image) Allocated(r Representation) bool {
	switch r {
	case ReprColor:
		return img.color.allocated
	case ReprSurface:
		return img.surface.allocated
	case ReprTexture:
		return img.texture.allocated
	}
	return false
}

// Ratio returns the downscale representation r was allocated with, or 0.
func (img *Image) Ratio(r Representation) float64 {
	switch r {
	case ReprSurface:
		return img.surface.ratio
	case ReprTexture:
		return img.texture.ratio
	case ReprColor:
		if img.color.allocated {
			return 1
		}
	}
	return 0
}

func (img *Image) currentCount() int {
	n := 0
	for _, c := range []bool{img.color.current, img.surface.current, img.texture.current} {
		if c {
			n++
		}
	}
	return n
}

func (img *Image) resolve() {
	img.resolved = img.opts.Inherit(img.eng.opts.Image).Resolve()
}

func (img *Image) bounds() image.Rectangle {
	return image.Rect(0, 0, img.width, img.height)
}

// Handle implements dispatch.Handler.
func (img *Image) Handle(cmd dispatch.Command) (any, error) {
	e := img.eng
	defer e.pin(img)()

	switch p := cmd.Payload.(type) {
	case dispatch.FillSolid:
		img.fillSolid(p.Color)
		return img.done("FillSolid", nil, nil)
	case dispatch.GetPixel:
		c, err := img.getPixel(p.X, p.Y)
		return img.done("GetPixel", c, err)
	case dispatch.SetPixel:
		return img.done("SetPixel", nil, img.setPixel(p.X, p.Y, p.Color))
	case dispatch.LoadPixelData:
		if p.Pixels == nil {
			return img.done("LoadPixels", nil, imgerr.New(imgerr.CodeInvalidParameter, "LoadPixels", "nil pixels"))
		}
		return img.done("LoadPixels", nil, img.load("LoadPixels", p.Pixels, p.AllowRescale))
	case dispatch.LoadEncoded:
		return img.done("LoadEncoded", nil, img.loadEncoded(p.Data, p.AllowRescale))
	case dispatch.CopyFrom:
		return img.done("CopyFrom", nil, img.copyFrom(p))
	case dispatch.Execute:
		return img.done("Execute", nil, img.execute(p))
	case dispatch.ExportPixels:
		pix, err := img.exportPixels("ExportPixels", p.Rect)
		return img.done("ExportPixels", pix, err)
	case dispatch.ExportEncoded:
		data, err := img.exportEncoded(p.Format, p.Quality)
		return img.done("ExportEncoded", data, err)
	case dispatch.SetOptions:
		return img.done("SetOptions", nil, img.setOptions(p.Options))
	case dispatch.ReleaseResources:
		img.releaseRepresentations(p.Flags)
		return nil, nil
	case dispatch.Dispose:
		img.dispose()
		return nil, nil
	default:
		return nil, dispatch.Unhandled(cmd.Handle, cmd.Opcode())
	}
}

func (img *Image) done(op string, v any, err error) (any, error) {
	err = img.eng.finish(op, imgerr.WithHandle(err, string(img.h)))
	if err != nil {
		return nil, err
	}
	return v, nil
}

func uninitialized(op string) error {
	return imgerr.New(imgerr.CodeImageUninitialized, op, "no current representation")
}

// rect defaults an empty r to the whole image and checks that it fits.
func (img *Image) rect(op string, r image.Rectangle) (image.Rectangle, error) {
	if r.Empty() {
		return img.bounds(), nil
	}
	if !r.In(img.bounds()) {
		return r, imgerr.New(imgerr.CodeInvalidParameter, op, "rectangle %v outside %v", r, img.bounds())
	}
	return r, nil
}

func (img *Image) color4(c backend.Color) backend.Color {
	if img.resolved.Opaque() {
		return backend.Opaque(c)
	}
	return c
}

// markWritten makes r the only current representation.
func (img *Image) markWritten(r Representation) {
	img.color.current = r == ReprColor
	img.surface.current = r == ReprSurface
	img.texture.current = r == ReprTexture
	img.eng.optimizer.Touch(img, r)
}

func (img *Image) fillSolid(c backend.Color) {
	img.color.set(img.color4(c), 1, img.width, img.height, 0)
	img.requested = 0
	img.markWritten(ReprColor)
}

func (img *Image) getPixel(x, y int) (backend.Color, error) {
	const op = "GetPixel"
	if !image.Pt(x, y).In(img.bounds()) {
		return backend.Color{}, imgerr.New(imgerr.CodeInvalidParameter, op, "(%d,%d) outside %v", x, y, img.bounds())
	}
	if img.color.current {
		return img.color.content, nil
	}
	if err := img.populateSurface(op); err != nil {
		return backend.Color{}, err
	}
	sx, sy := img.toSurfacePoint(x, y)
	c, err := img.surface.content.Pixel(sx, sy)
	if err != nil {
		return backend.Color{}, img.eng.backendError(op, err)
	}
	return c, nil
}

func (img *Image) setPixel(x, y int, c backend.Color) error {
	const op = "SetPixel"
	if !image.Pt(x, y).In(img.bounds()) {
		return imgerr.New(imgerr.CodeInvalidParameter, op, "(%d,%d) outside %v", x, y, img.bounds())
	}
	if err := img.populateSurface(op); err != nil {
		return err
	}
	sx, sy := img.toSurfacePoint(x, y)
	if err := img.surface.content.SetPixel(sx, sy, img.color4(c)); err != nil {
		return img.eng.backendError(op, err)
	}
	img.markWritten(ReprSurface)
	return nil
}

// load replaces the content with src. A size different from the image is
// an error unless allowRescale is set; with PreserveDownscale a smaller
// source of the same aspect ratio keeps its resolution.
func (img *Image) load(op string, src image.Image, allowRescale bool) error {
	size := src.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 {
		return imgerr.New(imgerr.CodeInvalidDimensions, op, "empty source %v", src.Bounds())
	}
	if (size.X != img.width || size.Y != img.height) && !allowRescale {
		return imgerr.New(imgerr.CodeInvalidDimensions, op, "source is %dx%d, image is %dx%d",
			size.X, size.Y, img.width, img.height)
	}

	img.requested = 0
	if r, ok := downscale.FromRequested(img.width, img.height, size.X, size.Y, img.resolved.PreserveDownscale); ok {
		img.requested = r
	}
	if err := img.allocateSurface(op); err != nil {
		return err
	}
	if err := img.surface.content.WritePixels(image.Rectangle{}, src, img.filter()); err != nil {
		return img.eng.backendError(op, err)
	}
	img.markWritten(ReprSurface)
	return nil
}

func (img *Image) loadEncoded(data []byte, allowRescale bool) error {
	const op = "LoadEncoded"
	src, format, err := img.eng.codec.Decode(bytes.NewReader(data))
	if err != nil {
		return &imgerr.Error{Code: imgerr.CodeInvalidParameter, Op: op, Err: err}
	}
	img.eng.log().Debug("engine: decoded image", "handle", img.h, "format", format, "bounds", src.Bounds())
	return img.load(op, src, allowRescale)
}

func (img *Image) copyFrom(p dispatch.CopyFrom) error {
	const op = "CopyFrom"
	e := img.eng
	if p.Source == img.h {
		return imgerr.New(imgerr.CodeInvalidParameter, op, "image cannot copy from itself")
	}
	src, err := e.image(p.Source, op)
	if err != nil {
		return err
	}
	defer e.pin(src)()

	srcRect, err := src.rect(op, p.SrcRect)
	if err != nil {
		return err
	}
	dstRect, err := img.rect(op, p.DstRect)
	if err != nil {
		return err
	}

	if err := src.populateSurface(op); err != nil {
		return err
	}
	if dstRect == img.bounds() {
		img.requested = 0
		err = img.allocateSurface(op)
	} else {
		err = img.populateSurface(op)
	}
	if err != nil {
		return err
	}

	sr := src.toSurfaceRect(srcRect)
	dr := img.toSurfaceRect(dstRect)
	if err := img.surface.content.Draw(dr, src.surface.content, sr, img.filter()); err != nil {
		return e.backendError(op, err)
	}
	img.markWritten(ReprSurface)
	return nil
}

func (img *Image) execute(p dispatch.Execute) error {
	const op = "Execute"
	e := img.eng
	if img.resolved.GPUReadOnly {
		return imgerr.New(imgerr.CodeReadOnly, op, "image is GPU read-only")
	}
	if err := e.requireGPU(op); err != nil {
		return err
	}
	sh, err := e.shader(p.Shader, op)
	if err != nil {
		return err
	}
	dst, err := img.rect(op, p.DstRect)
	if err != nil {
		return err
	}
	if err := sh.compile(op); err != nil {
		return err
	}

	inputs := make([]*Image, len(sh.inputs))
	for i, hd := range sh.inputs {
		if inputs[i], err = e.image(hd, op); err != nil {
			return err
		}
	}
	defer e.pin(inputs...)()

	inPlace := false
	bindings := make([]backend.Binding, len(inputs))
	for i, in := range inputs {
		if in == img {
			inPlace = true
		}
		if err := in.populateTexture(op); err != nil {
			return err
		}
		bindings[i] = backend.Binding{Texture: in.texture.content, Filter: in.filter()}
	}

	full := dst == img.bounds()
	if full {
		img.requested = 0
	}
	switch {
	case inPlace:
		// The texture is current: it was populated as an input.
		err = img.executeInPlace(op, sh, dst, full, bindings)
	case full:
		if err = img.allocateTexture(op); err == nil {
			err = img.run(op, sh, img.texture.content, dst, bindings)
		}
	default:
		if err = img.populateTexture(op); err == nil {
			err = img.run(op, sh, img.texture.content, dst, bindings)
		}
	}
	if err != nil {
		return err
	}

	img.markWritten(ReprTexture)
	if img.resolved.BackupToRaster {
		return img.populateSurface(op)
	}
	return nil
}

// executeInPlace renders into a temporary texture and swaps it in, since
// a texture cannot be sampled and rendered into at once.
func (img *Image) executeInPlace(op string, sh *Shader, dst image.Rectangle, full bool, bindings []backend.Binding) error {
	e := img.eng
	w, h := img.texture.width, img.texture.height
	tmp, n, err := img.newTexture(op, w, h)
	if err != nil {
		return err
	}
	discard := func() {
		tmp.Dispose()
		e.tracker.Release(resource.GPUTexture, n)
	}
	if !full {
		if err := e.copyTexture(op, tmp, img.texture.content, img.filter()); err != nil {
			discard()
			return err
		}
	}
	if err := img.run(op, sh, tmp, dst, bindings); err != nil {
		discard()
		return err
	}
	ratio := img.texture.ratio
	img.freeTexture()
	img.texture.set(tmp, ratio, w, h, n)
	return nil
}

func (img *Image) run(op string, sh *Shader, target backend.Texture, dst image.Rectangle, bindings []backend.Binding) error {
	r := scaleRect(dst, img.width, img.height, target.Width(), target.Height())
	return img.eng.gpuError(op, img.eng.gpu.Run(sh.program, target, r, bindings, sh.uniforms))
}

// exportPixels reads r of the image at logical resolution. A downscaled
// surface is scaled up through a temporary surface.
func (img *Image) exportPixels(op string, r image.Rectangle) (*image.NRGBA, error) {
	e := img.eng
	r, err := img.rect(op, r)
	if err != nil {
		return nil, err
	}
	if err := img.populateSurface(op); err != nil {
		return nil, err
	}
	surf := img.surface.content
	if img.surface.width == img.width && img.surface.height == img.height {
		pix, err := surf.ReadPixels(r)
		return pix, e.backendError(op, err)
	}

	n := resource.RasterBytes(r.Dx(), r.Dy())
	if err := e.reserve(op, resource.RasterSurface, n); err != nil {
		return nil, err
	}
	defer e.tracker.Release(resource.RasterSurface, n)
	tmp, err := e.raster.NewSurface(r.Dx(), r.Dy())
	if err != nil {
		return nil, e.backendError(op, err)
	}
	defer tmp.Dispose()
	if err := tmp.Draw(image.Rectangle{}, surf, img.toSurfaceRect(r), img.filter()); err != nil {
		return nil, e.backendError(op, err)
	}
	pix, err := tmp.ReadPixels(image.Rectangle{})
	return pix, e.backendError(op, err)
}

func (img *Image) exportEncoded(format string, quality int) ([]byte, error) {
	const op = "ExportEncoded"
	pix, err := img.exportPixels(op, image.Rectangle{})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := img.eng.codec.Encode(&buf, pix, format, quality); err != nil {
		code := imgerr.CodeBackendFailure
		if errors.Is(err, codec.ErrUnsupportedFormat) {
			code = imgerr.CodeInvalidParameter
		}
		return nil, &imgerr.Error{Code: code, Op: op, Err: err}
	}
	return buf.Bytes(), nil
}

func (img *Image) setOptions(o options.ImageOptions) error {
	if err := o.Validate(); err != nil {
		return imgerr.Wrap(imgerr.CodeInvalidParameter, "SetOptions", err)
	}
	img.opts = o.Inherit(img.opts)
	img.resolve()
	return nil
}

// releaseRepresentations drops the representations selected by flags. An
// image left without a current representation adopts its fallback color.
func (img *Image) releaseRepresentations(flags resource.ReleaseFlags) {
	if flags.Any(resource.ReleaseRasterSurface) {
		img.freeSurface()
	}
	if flags.Any(resource.ReleaseGPUTexture) {
		img.freeTexture()
	}
	img.adoptFallback()
}

func (img *Image) adoptFallback() {
	if img.currentCount() > 0 || img.resolved.ContextLostColor == nil {
		return
	}
	img.fillSolid(*img.resolved.ContextLostColor)
}

// evictable reports whether r can be released without losing content.
func (img *Image) evictable(r Representation) bool {
	switch r {
	case ReprSurface:
		return img.surface.allocated && (!img.surface.current || img.currentCount() > 1)
	case ReprTexture:
		return img.texture.allocated && (!img.texture.current || img.currentCount() > 1)
	}
	return false
}

func (img *Image) release(r Representation) {
	switch r {
	case ReprSurface:
		img.freeSurface()
	case ReprTexture:
		img.freeTexture()
	}
}

func (img *Image) touchAll() {
	if img.surface.allocated {
		img.eng.optimizer.Touch(img, ReprSurface)
	}
	if img.texture.allocated {
		img.eng.optimizer.Touch(img, ReprTexture)
	}
}

func (img *Image) dispose() {
	img.freeSurface()
	img.freeTexture()
	img.color.clear()
	img.eng.removeImage(img)
}

func (img *Image) filter() gputypes.FilterMode {
	return img.resolved.Sampling.FilterMode()
}

func (img *Image) toSurfacePoint(x, y int) (int, int) {
	return x * img.surface.width / img.width, y * img.surface.height / img.height
}

func (img *Image) toSurfaceRect(r image.Rectangle) image.Rectangle {
	return scaleRect(r, img.width, img.height, img.surface.width, img.surface.height)
}

// scaleRect maps r from a w×h space to a tw×th space. A non-empty r maps to
// a non-empty rectangle.
func scaleRect(r image.Rectangle, w, h, tw, th int) image.Rectangle {
	if w == tw && h == th {
		return r
	}
	out := image.Rect(
		r.Min.X*tw/w, r.Min.Y*th/h,
		ceilDiv(r.Max.X*tw, w), ceilDiv(r.Max.Y*th, h),
	)
	return out.Intersect(image.Rect(0, 0, tw, th))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
