package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/backend/softgpu"
	"github.com/gogpu/gimage/backend/software"
	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/options"
	"github.com/gogpu/gimage/resource"
)

var (
	red   = backend.Color{R: 1, A: 1}
	green = backend.Color{G: 1, A: 1}
	blue  = backend.Color{B: 1, A: 1}
	cyan  = backend.Color{G: 1, B: 1, A: 1}
)

type fixture struct {
	t      *testing.T
	host   *Host
	eng    *Engine
	gpu    *softgpu.GPU
	raster *software.Backend
}

// newFixture creates an engine on a software raster backend and, when gpu is
// not nil, on that in-memory GPU.
func newFixture(t *testing.T, opts options.ExecutionOptions, gpu *softgpu.GPU) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		host:   NewHost(handle.NewAllocator(), nil),
		gpu:    gpu,
		raster: software.New(),
	}
	b := dispatch.Backends{Raster: f.raster, GPUName: backend.GPUNone}
	if gpu != nil {
		b.GPU = gpu
	}
	v, err := f.host.Handle(dispatch.Command{Payload: dispatch.Create{Options: opts, Backends: b}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	obj, err := f.host.Resolve(v.(handle.Handle))
	if err != nil {
		t.Fatalf("Resolve(engine): %v", err)
	}
	f.eng = obj.(*Engine)
	return f
}

func newGPUFixture(t *testing.T) *fixture {
	return newFixture(t, options.ExecutionOptions{}, softgpu.New(softgpu.Config{}))
}

func (f *fixture) do(h handle.Handle, p dispatch.Payload) (any, error) {
	f.t.Helper()
	obj, err := f.host.Resolve(h)
	if err != nil {
		return nil, err
	}
	return obj.Handle(dispatch.Command{Handle: h, Payload: p})
}

func (f *fixture) must(h handle.Handle, p dispatch.Payload) any {
	f.t.Helper()
	v, err := f.do(h, p)
	if err != nil {
		f.t.Fatalf("%v: %v", p.Opcode(), err)
	}
	return v
}

func (f *fixture) image(w, h int, opts options.ImageOptions) *Image {
	f.t.Helper()
	v := f.must(f.eng.h, dispatch.CreateImage{Width: w, Height: h, Options: opts})
	obj, err := f.host.Resolve(v.(handle.Handle))
	if err != nil {
		f.t.Fatalf("Resolve(image): %v", err)
	}
	return obj.(*Image)
}

func (f *fixture) shader(k backend.Kernel, inputs ...handle.Handle) *Shader {
	f.t.Helper()
	v := f.must(f.eng.h, dispatch.CreateShader{Source: backend.ProgramSource{Label: "test", Kernel: k}})
	obj, err := f.host.Resolve(v.(handle.Handle))
	if err != nil {
		f.t.Fatalf("Resolve(shader): %v", err)
	}
	s := obj.(*Shader)
	if len(inputs) > 0 {
		f.must(s.h, dispatch.SetUniforms{Inputs: inputs})
	}
	return s
}

func (f *fixture) export(img *Image, r image.Rectangle) *image.NRGBA {
	f.t.Helper()
	return f.must(img.h, dispatch.ExportPixels{Rect: r}).(*image.NRGBA)
}

func (f *fixture) report() resource.Report {
	f.t.Helper()
	return f.must(f.eng.h, dispatch.GetResourceUsage{}).(resource.Report)
}

func solidKernel(c backend.Color) backend.Kernel {
	return func(float64, float64, backend.Inputs, backend.Uniforms) backend.Color { return c }
}

func invertKernel(u, v float64, in backend.Inputs, _ backend.Uniforms) backend.Color {
	c := in.Sample(0, u, v)
	return backend.Color{R: 1 - c.R, G: 1 - c.G, B: 1 - c.B, A: c.A}
}

func nrgba(c backend.Color) color.NRGBA { return backend.ToNRGBA(c) }

// checkRegion fails unless every pixel of r in img equals want.
func checkRegion(t *testing.T, img *image.NRGBA, r image.Rectangle, want color.NRGBA) {
	t.Helper()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if got := img.NRGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func checkCurrent(t *testing.T, img *Image, want ...Representation) {
	t.Helper()
	set := map[Representation]bool{}
	for _, r := range want {
		set[r] = true
	}
	for _, r := range []Representation{ReprColor, ReprSurface, ReprTexture} {
		if got := img.Current(r); got != set[r] {
			t.Errorf("Current(%v) = %v, want %v", r, got, set[r])
		}
	}
}

func checkCode(t *testing.T, err error, want imgerr.Code) {
	t.Helper()
	if got := imgerr.CodeOf(err); got != want {
		t.Errorf("error code = %v (%v), want %v", got, err, want)
	}
}

func TestCreateEngineDefaults(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	if got := f.eng.Options().Optimizer; got != options.OptimizerLRU {
		t.Errorf("Optimizer = %q, want %q", got, options.OptimizerLRU)
	}
	if f.eng.GPU() != nil {
		t.Error("GPU() should be nil with the GPU disabled")
	}
	if f.host.Len() != 1 || len(f.host.Engines()) != 1 {
		t.Errorf("host holds %d objects and %d engines, want 1 and 1", f.host.Len(), len(f.host.Engines()))
	}

	_, err := f.host.Handle(dispatch.Command{Payload: dispatch.Create{
		Options:  options.ExecutionOptions{Optimizer: "fifo"},
		Backends: dispatch.Backends{Raster: software.New(), GPUName: backend.GPUNone},
	}})
	checkCode(t, err, imgerr.CodeInvalidParameter)

	_, err = f.host.Handle(dispatch.Command{Payload: dispatch.Create{
		Backends: dispatch.Backends{RasterName: "missing"},
	}})
	checkCode(t, err, imgerr.CodeUnsupported)
}

func TestClientHandles(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	want := f.eng.h + "/Image.100.photo"
	v := f.must(f.eng.h, dispatch.CreateImage{NewHandle: want, Width: 4, Height: 4})
	if v.(handle.Handle) != want {
		t.Errorf("CreateImage() = %q, want %q", v, want)
	}

	tests := []struct {
		name string
		h    handle.Handle
	}{
		{"duplicate", want},
		{"wrong parent", "Engine.99/Image.101"},
		{"wrong type", f.eng.h + "/Shader.102"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.do(f.eng.h, dispatch.CreateImage{NewHandle: tt.h, Width: 4, Height: 4})
			checkCode(t, err, imgerr.CodeInvalidHandle)
		})
	}
}

func TestCreateImageInvalidDimensions(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	for _, size := range [][2]int{{0, 10}, {10, 0}, {-1, 5}} {
		_, err := f.do(f.eng.h, dispatch.CreateImage{Width: size[0], Height: size[1]})
		checkCode(t, err, imgerr.CodeInvalidDimensions)
	}
	_, err := f.do(f.eng.h, dispatch.CreateImage{Width: 1, Height: 1,
		Options: options.ImageOptions{Downscale: options.Ptr(2.0)}})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestFillThenGetPixelAllocatesNothing(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(64, 64, options.ImageOptions{})

	f.must(img.h, dispatch.FillSolid{Color: blue})
	got := f.must(img.h, dispatch.GetPixel{X: 10, Y: 20}).(backend.Color)
	if got != blue {
		t.Errorf("GetPixel() = %v, want %v", got, blue)
	}
	if n := f.report().Total.Instances; n != 0 {
		t.Errorf("Total.Instances = %d, want 0", n)
	}
	if n := f.raster.Created(); n != 0 {
		t.Errorf("surfaces created = %d, want 0", n)
	}
	if n := f.gpu.Stats().TexturesCreated; n != 0 {
		t.Errorf("textures created = %d, want 0", n)
	}
	checkCurrent(t, img, ReprColor)
}

func TestExportAfterFill(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(100, 100, options.ImageOptions{})
	f.must(img.h, dispatch.FillSolid{Color: blue})

	pix := f.export(img, image.Rectangle{})
	if pix.Bounds() != image.Rect(0, 0, 100, 100) {
		t.Fatalf("bounds = %v", pix.Bounds())
	}
	checkRegion(t, pix, pix.Bounds(), nrgba(blue))

	rep := f.report()
	if got := rep.Category(resource.RasterSurface); got.Instances != 1 || got.RasterBytes != 40000 {
		t.Errorf("RasterSurface usage = %+v, want 1 instance of 40000 bytes", got)
	}
	if rep.Category(resource.GPUTexture).Instances != 0 {
		t.Error("export should not create a texture")
	}

	f.export(img, image.Rect(10, 10, 20, 20))
	if n := f.raster.Created(); n != 1 {
		t.Errorf("surfaces created = %d, want 1 after a second export", n)
	}
	checkCurrent(t, img, ReprColor, ReprSurface)
}

func TestCurrencyAfterEachOperation(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(16, 16, options.ImageOptions{})
	sh := f.shader(solidKernel(green))

	steps := []struct {
		name string
		p    dispatch.Payload
		want []Representation
	}{
		{"fill", dispatch.FillSolid{Color: red}, []Representation{ReprColor}},
		{"export", dispatch.ExportPixels{}, []Representation{ReprColor, ReprSurface}},
		{"set pixel", dispatch.SetPixel{X: 1, Y: 1, Color: blue}, []Representation{ReprSurface}},
		{"execute", dispatch.Execute{Shader: sh.h}, []Representation{ReprTexture}},
		{"get pixel", dispatch.GetPixel{X: 0, Y: 0}, []Representation{ReprSurface, ReprTexture}},
		{"fill again", dispatch.FillSolid{Color: blue}, []Representation{ReprColor}},
	}
	for _, st := range steps {
		f.must(img.h, st.p)
		if img.currentCount() == 0 {
			t.Fatalf("%s: no current representation", st.name)
		}
		t.Run(st.name, func(t *testing.T) {
			checkCurrent(t, img, st.want...)
		})
	}
	if !img.Allocated(ReprSurface) || !img.Allocated(ReprTexture) {
		t.Error("a fill should keep stale surfaces and textures allocated")
	}
}

func TestSetPixelRoundTrip(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(8, 8, options.ImageOptions{})
	f.must(img.h, dispatch.FillSolid{Color: red})
	f.must(img.h, dispatch.SetPixel{X: 3, Y: 4, Color: green})

	if got := f.must(img.h, dispatch.GetPixel{X: 3, Y: 4}); got != green {
		t.Errorf("GetPixel(3,4) = %v, want %v", got, green)
	}
	if got := f.must(img.h, dispatch.GetPixel{X: 4, Y: 4}); got != red {
		t.Errorf("GetPixel(4,4) = %v, want %v", got, red)
	}
	_, err := f.do(img.h, dispatch.SetPixel{X: 8, Y: 0, Color: green})
	checkCode(t, err, imgerr.CodeInvalidParameter)
	_, err = f.do(img.h, dispatch.GetPixel{X: -1, Y: 0})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestUninitializedImage(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(8, 8, options.ImageOptions{})
	_, err := f.do(img.h, dispatch.GetPixel{})
	checkCode(t, err, imgerr.CodeImageUninitialized)
	_, err = f.do(img.h, dispatch.ExportPixels{})
	checkCode(t, err, imgerr.CodeImageUninitialized)
	var e *imgerr.Error
	if errors.As(err, &e) && e.Handle != string(img.h) {
		t.Errorf("Handle = %q, want %q", e.Handle, img.h)
	}
}

func TestOpaqueImageDropsAlpha(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(4, 4, options.ImageOptions{Channels: options.Ptr(options.RGB)})
	f.must(img.h, dispatch.FillSolid{Color: backend.Color{R: 1, A: 0.25}})
	got := f.must(img.h, dispatch.GetPixel{}).(backend.Color)
	if got.A != 1 {
		t.Errorf("alpha = %v, want 1", got.A)
	}
}

func TestLoadPixels(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(20, 10, options.ImageOptions{})

	src := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 20), B: 7, A: 255})
		}
	}
	f.must(img.h, dispatch.LoadPixelData{Pixels: src})
	checkCurrent(t, img, ReprSurface)

	out := f.export(img, image.Rectangle{})
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			if out.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, out.NRGBAAt(x, y), src.NRGBAAt(x, y))
			}
		}
	}

	sub := f.export(img, image.Rect(5, 2, 8, 4))
	if sub.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("sub-rect bounds = %v", sub.Bounds())
	}
	if sub.NRGBAAt(0, 0) != src.NRGBAAt(5, 2) {
		t.Errorf("sub-rect origin = %v, want %v", sub.NRGBAAt(0, 0), src.NRGBAAt(5, 2))
	}

	_, err := f.do(img.h, dispatch.LoadPixelData{Pixels: image.NewNRGBA(image.Rect(0, 0, 10, 10))})
	checkCode(t, err, imgerr.CodeInvalidDimensions)
	_, err = f.do(img.h, dispatch.LoadPixelData{})
	checkCode(t, err, imgerr.CodeInvalidParameter)
	_, err = f.do(img.h, dispatch.ExportPixels{Rect: image.Rect(15, 5, 25, 8)})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestLoadRescaledAndPreserved(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	half := image.NewNRGBA(image.Rect(0, 0, 50, 25))

	plain := f.image(100, 50, options.ImageOptions{})
	f.must(plain.h, dispatch.LoadPixelData{Pixels: half, AllowRescale: true})
	if got := plain.Ratio(ReprSurface); got != 1 {
		t.Errorf("Ratio() = %v, want 1 without PreserveDownscale", got)
	}

	kept := f.image(100, 50, options.ImageOptions{PreserveDownscale: options.Ptr(true)})
	f.must(kept.h, dispatch.LoadPixelData{Pixels: half, AllowRescale: true})
	if got := kept.Ratio(ReprSurface); got != 0.5 {
		t.Errorf("Ratio() = %v, want 0.5", got)
	}
	if got := f.export(kept, image.Rectangle{}).Bounds(); got != image.Rect(0, 0, 100, 50) {
		t.Errorf("export bounds = %v, want logical size", got)
	}

	f.must(kept.h, dispatch.FillSolid{Color: red})
	f.export(kept, image.Rectangle{})
	if got := kept.Ratio(ReprSurface); got != 1 {
		t.Errorf("Ratio() after fill = %v, want 1", got)
	}
}

func TestLoadEncodedAndExportEncoded(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(12, 8, options.ImageOptions{})
	f.must(img.h, dispatch.FillSolid{Color: green})
	f.must(img.h, dispatch.SetPixel{X: 2, Y: 3, Color: red})

	data := f.must(img.h, dispatch.ExportEncoded{Format: "png"}).([]byte)
	if len(data) == 0 {
		t.Fatal("ExportEncoded() returned no data")
	}

	dst := f.image(12, 8, options.ImageOptions{})
	f.must(dst.h, dispatch.LoadEncoded{Data: data})
	if got := f.must(dst.h, dispatch.GetPixel{X: 2, Y: 3}); got != red {
		t.Errorf("GetPixel(2,3) = %v, want %v", got, red)
	}
	if got := f.must(dst.h, dispatch.GetPixel{X: 0, Y: 0}); got != green {
		t.Errorf("GetPixel(0,0) = %v, want %v", got, green)
	}

	_, err := f.do(dst.h, dispatch.LoadEncoded{Data: []byte("not an image")})
	checkCode(t, err, imgerr.CodeInvalidParameter)
	_, err = f.do(img.h, dispatch.ExportEncoded{Format: "xcf"})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestCopyFromFullRectSkipsReadback(t *testing.T) {
	f := newGPUFixture(t)
	src := f.image(10, 10, options.ImageOptions{})
	f.must(src.h, dispatch.FillSolid{Color: green})

	dst := f.image(10, 10, options.ImageOptions{})
	f.must(dst.h, dispatch.Execute{Shader: f.shader(solidKernel(red)).h})
	checkCurrent(t, dst, ReprTexture)

	reads := f.gpu.Stats().Reads
	f.must(dst.h, dispatch.CopyFrom{Source: src.h})
	if got := f.gpu.Stats().Reads; got != reads {
		t.Errorf("texture reads = %d, want %d: a full overwrite must not read the old content", got, reads)
	}
	checkCurrent(t, dst, ReprSurface)
	checkRegion(t, f.export(dst, image.Rectangle{}), image.Rect(0, 0, 10, 10), nrgba(green))
}

func TestCopyFromSubRectPreservesContent(t *testing.T) {
	f := newGPUFixture(t)
	src := f.image(10, 10, options.ImageOptions{})
	f.must(src.h, dispatch.FillSolid{Color: green})

	dst := f.image(10, 10, options.ImageOptions{})
	f.must(dst.h, dispatch.Execute{Shader: f.shader(solidKernel(red)).h})

	reads := f.gpu.Stats().Reads
	f.must(dst.h, dispatch.CopyFrom{Source: src.h, SrcRect: image.Rect(0, 0, 5, 5), DstRect: image.Rect(2, 2, 7, 7)})
	if got := f.gpu.Stats().Reads; got != reads+1 {
		t.Errorf("texture reads = %d, want %d", got, reads+1)
	}

	out := f.export(dst, image.Rectangle{})
	checkRegion(t, out, image.Rect(2, 2, 7, 7), nrgba(green))
	checkRegion(t, out, image.Rect(0, 0, 10, 2), nrgba(red))
	checkRegion(t, out, image.Rect(7, 0, 10, 10), nrgba(red))
}

func TestCopyFromErrors(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(4, 4, options.ImageOptions{})
	f.must(img.h, dispatch.FillSolid{Color: red})

	_, err := f.do(img.h, dispatch.CopyFrom{Source: img.h})
	checkCode(t, err, imgerr.CodeInvalidParameter)

	_, err = f.do(img.h, dispatch.CopyFrom{Source: f.eng.h + "/Image.999"})
	checkCode(t, err, imgerr.CodeInvalidHandle)

	other, err := f.host.Handle(dispatch.Command{Payload: dispatch.Create{
		Backends: dispatch.Backends{Raster: software.New(), GPUName: backend.GPUNone},
	}})
	if err != nil {
		t.Fatal(err)
	}
	foreign := f.must(other.(handle.Handle), dispatch.CreateImage{Width: 4, Height: 4}).(handle.Handle)
	f.must(foreign, dispatch.FillSolid{Color: blue})
	_, err = f.do(img.h, dispatch.CopyFrom{Source: foreign})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestExecuteWithInputs(t *testing.T) {
	f := newGPUFixture(t)
	src := f.image(8, 8, options.ImageOptions{})
	f.must(src.h, dispatch.FillSolid{Color: red})
	dst := f.image(8, 8, options.ImageOptions{})

	f.must(dst.h, dispatch.Execute{Shader: f.shader(invertKernel, src.h).h})
	checkRegion(t, f.export(dst, image.Rectangle{}), image.Rect(0, 0, 8, 8), nrgba(cyan))
	checkCurrent(t, src, ReprColor, ReprTexture)
}

func TestExecuteUniforms(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(4, 4, options.ImageOptions{})
	k := func(_, _ float64, _ backend.Inputs, u backend.Uniforms) backend.Color {
		return backend.Color{R: float64(u.Float("level", 0)), A: 1}
	}
	sh := f.shader(k)
	f.must(sh.h, dispatch.SetUniforms{Uniforms: backend.Uniforms{"level": {1}}})
	f.must(img.h, dispatch.Execute{Shader: sh.h})
	if got := f.must(img.h, dispatch.GetPixel{}); got != red {
		t.Errorf("GetPixel() = %v, want %v", got, red)
	}

	_, err := f.do(sh.h, dispatch.SetUniforms{Inputs: []handle.Handle{"Engine.404/Image.1"}})
	checkCode(t, err, imgerr.CodeInvalidHandle)
}

func TestExecuteInPlace(t *testing.T) {
	f := newGPUFixture(t)

	t.Run("full", func(t *testing.T) {
		img := f.image(10, 10, options.ImageOptions{})
		f.must(img.h, dispatch.FillSolid{Color: red})
		f.must(img.h, dispatch.Execute{Shader: f.shader(invertKernel, img.h).h})
		checkCurrent(t, img, ReprTexture)
		if got := f.must(img.h, dispatch.GetPixel{X: 9, Y: 9}); got != cyan {
			t.Errorf("GetPixel() = %v, want %v", got, cyan)
		}
		f.must(img.h, dispatch.Dispose{})
	})

	t.Run("partial", func(t *testing.T) {
		img := f.image(10, 10, options.ImageOptions{})
		f.must(img.h, dispatch.FillSolid{Color: red})
		f.must(img.h, dispatch.Execute{Shader: f.shader(invertKernel, img.h).h, DstRect: image.Rect(0, 0, 5, 5)})
		out := f.export(img, image.Rectangle{})
		checkRegion(t, out, image.Rect(0, 0, 5, 5), nrgba(cyan))
		checkRegion(t, out, image.Rect(5, 0, 10, 10), nrgba(red))
		checkRegion(t, out, image.Rect(0, 5, 10, 10), nrgba(red))
	})

	if got := f.report().Category(resource.GPUTexture).Instances; got != 1 {
		t.Errorf("GPUTexture instances = %d, want 1: the temporary texture replaces the old one", got)
	}
}

func TestExecuteBackupToRaster(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(6, 6, options.ImageOptions{BackupToRaster: options.Ptr(true)})
	f.must(img.h, dispatch.Execute{Shader: f.shader(solidKernel(blue)).h})
	checkCurrent(t, img, ReprSurface, ReprTexture)
}

func TestExecuteReadOnly(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(4, 4, options.ImageOptions{GPUReadOnly: options.Ptr(true)})
	_, err := f.do(img.h, dispatch.Execute{Shader: f.shader(solidKernel(red)).h})
	checkCode(t, err, imgerr.CodeReadOnly)
}

func TestExecuteWithoutGPU(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(4, 4, options.ImageOptions{})
	sh := f.shader(solidKernel(red))

	_, err := f.do(img.h, dispatch.Execute{Shader: sh.h})
	checkCode(t, err, imgerr.CodeUnsupported)

	f.must(img.h, dispatch.FillSolid{Color: blue})
	checkRegion(t, f.export(img, image.Rectangle{}), image.Rect(0, 0, 4, 4), nrgba(blue))
}

func TestExecuteUnsupportedBitDepth(t *testing.T) {
	gpu := softgpu.New(softgpu.Config{Formats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}})
	f := newFixture(t, options.ExecutionOptions{}, gpu)
	img := f.image(4, 4, options.ImageOptions{BitDepth: options.Ptr(options.Depth16)})
	_, err := f.do(img.h, dispatch.Execute{Shader: f.shader(solidKernel(red)).h})
	checkCode(t, err, imgerr.CodeUnsupported)
}

func TestCreateShaderCompileError(t *testing.T) {
	f := newGPUFixture(t)
	_, err := f.do(f.eng.h, dispatch.CreateShader{Source: backend.ProgramSource{
		WGSL:   "fn broken( {",
		Kernel: solidKernel(red),
	}})
	checkCode(t, err, imgerr.CodeShaderCompile)
	_, err = f.do(f.eng.h, dispatch.CreateShader{})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestBackendFailure(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(4, 4, options.ImageOptions{})
	sh := f.shader(solidKernel(red))

	f.gpu.FailNext(errors.New("device hiccup"))
	_, err := f.do(img.h, dispatch.Execute{Shader: sh.h})
	checkCode(t, err, imgerr.CodeBackendFailure)

	f.gpu.Errors()
	f.must(img.h, dispatch.Execute{Shader: sh.h})
}

func TestDebugCollapsesGPUErrors(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{Debug: true}, softgpu.New(softgpu.Config{}))
	img := f.image(4, 4, options.ImageOptions{})

	f.gpu.InjectError(errors.New("validation warning"))
	f.gpu.InjectError(fmt.Errorf("queue submit: %w", backend.ErrContextLost))
	_, err := f.do(img.h, dispatch.FillSolid{Color: red})
	var e *imgerr.Error
	if !errors.As(err, &e) {
		t.Fatalf("FillSolid() error = %v, want *imgerr.Error", err)
	}
	if e.Code != imgerr.CodeContextLost {
		t.Errorf("Code = %v, want ContextLost as the most severe", e.Code)
	}
	if len(e.Causes) != 2 {
		t.Errorf("len(Causes) = %d, want 2", len(e.Causes))
	}

	f.must(img.h, dispatch.FillSolid{Color: red})
}

func TestContextLoss(t *testing.T) {
	f := newGPUFixture(t)
	sh := f.shader(solidKernel(green))

	fallback := f.image(8, 8, options.ImageOptions{ContextLostColor: &red})
	f.must(fallback.h, dispatch.Execute{Shader: sh.h})
	bare := f.image(8, 8, options.ImageOptions{})
	f.must(bare.h, dispatch.Execute{Shader: sh.h})

	f.gpu.LoseContext()

	_, err := f.do(fallback.h, dispatch.GetPixel{})
	checkCode(t, err, imgerr.CodeContextLost)
	if !imgerr.KindOf(err).Recoverable() {
		t.Error("ContextLost should be recoverable")
	}

	if got := f.must(fallback.h, dispatch.GetPixel{}); got != red {
		t.Errorf("GetPixel() after loss = %v, want fallback %v", got, red)
	}
	_, err = f.do(bare.h, dispatch.GetPixel{})
	checkCode(t, err, imgerr.CodeImageUninitialized)

	if n := f.report().Category(resource.GPUTexture).Instances; n != 0 {
		t.Errorf("GPUTexture instances = %d, want 0 after loss", n)
	}

	f.must(bare.h, dispatch.Execute{Shader: sh.h})
	if got := f.must(bare.h, dispatch.GetPixel{}); got != green {
		t.Errorf("GetPixel() after recovery = %v, want %v", got, green)
	}
}

func TestDownscaledExport(t *testing.T) {
	opts := options.ExecutionOptions{MaxImageWidth: 50, MaxImageHeight: 50}
	f := newFixture(t, opts, nil)
	img := f.image(100, 100, options.ImageOptions{Sampling: options.Ptr(options.Nearest)})
	f.must(img.h, dispatch.FillSolid{Color: blue})

	pix := f.export(img, image.Rectangle{})
	if pix.Bounds() != image.Rect(0, 0, 100, 100) {
		t.Fatalf("bounds = %v, want logical size", pix.Bounds())
	}
	checkRegion(t, pix, pix.Bounds(), nrgba(blue))

	if got := img.Ratio(ReprSurface); got != 0.5 {
		t.Errorf("Ratio() = %v, want 0.5", got)
	}
	if !img.warned {
		t.Error("oversized image should be reported once")
	}
	if got := f.report().Category(resource.RasterSurface); got.Instances != 1 || got.RasterBytes != 10000 {
		t.Errorf("RasterSurface usage = %+v, want the 50x50 surface only", got)
	}

	big := f.image(100, 100, options.ImageOptions{AllowOversized: options.Ptr(true)})
	f.must(big.h, dispatch.FillSolid{Color: blue})
	f.export(big, image.Rectangle{})
	if got := big.Ratio(ReprSurface); got != 1 {
		t.Errorf("Ratio() = %v, want 1 with AllowOversized", got)
	}
}

func TestSetOptionsReallocates(t *testing.T) {
	f := newFixture(t, options.ExecutionOptions{}, nil)
	img := f.image(40, 40, options.ImageOptions{Downscale: options.Ptr(0.5)})
	f.must(img.h, dispatch.FillSolid{Color: red})
	f.export(img, image.Rectangle{})
	if got := img.Ratio(ReprSurface); got != 0.5 {
		t.Fatalf("Ratio() = %v, want 0.5", got)
	}

	f.must(img.h, dispatch.SetOptions{Options: options.ImageOptions{Downscale: options.Ptr(1.0)}})
	f.export(img, image.Rectangle{})
	if got := img.Ratio(ReprSurface); got != 0.5 {
		t.Errorf("Ratio() = %v, a current surface should be kept", got)
	}

	f.must(img.h, dispatch.FillSolid{Color: red})
	f.export(img, image.Rectangle{})
	if got := img.Ratio(ReprSurface); got != 1 {
		t.Errorf("Ratio() = %v, want 1 after the next allocation", got)
	}

	_, err := f.do(img.h, dispatch.SetOptions{Options: options.ImageOptions{Downscale: options.Ptr(0.0)}})
	checkCode(t, err, imgerr.CodeInvalidParameter)
}

func TestTiledReadback(t *testing.T) {
	gpu := softgpu.New(softgpu.Config{MaxTextureSize: 64, MaxRenderBufferSize: 16})
	f := newFixture(t, options.ExecutionOptions{}, gpu)

	src := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 6), G: uint8(y * 6), B: 128, A: 255})
		}
	}
	in := f.image(40, 40, options.ImageOptions{GPUReadOnly: options.Ptr(true)})
	f.must(in.h, dispatch.LoadPixelData{Pixels: src})

	out := f.image(16, 16, options.ImageOptions{})
	f.must(out.h, dispatch.Execute{Shader: f.shader(invertKernel, in.h).h})
	if !in.Current(ReprTexture) || in.texture.width != 40 {
		t.Fatalf("read-only input texture is %dx%d, want 40x40", in.texture.width, in.texture.height)
	}

	f.must(in.h, dispatch.ReleaseResources{Flags: resource.ReleaseRasterSurface})
	checkCurrent(t, in, ReprTexture)

	reads := gpu.Stats().Reads
	got := f.export(in, image.Rectangle{})
	if n := gpu.Stats().Reads - reads; n != 9 {
		t.Errorf("texture reads = %d, want 9 tiles of 16x16", n)
	}
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			if got.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got.NRGBAAt(x, y), src.NRGBAAt(x, y))
			}
		}
	}
	if n := f.report().Category(resource.GPUSurface).Instances; n != 0 {
		t.Errorf("GPUSurface instances = %d, want 0 after readback", n)
	}
}

func TestReleaseResources(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(8, 8, options.ImageOptions{})
	f.must(img.h, dispatch.FillSolid{Color: red})
	f.export(img, image.Rectangle{})
	f.must(img.h, dispatch.Execute{Shader: f.shader(invertKernel, img.h).h})
	f.export(img, image.Rectangle{})

	f.must(f.eng.h, dispatch.ReleaseResources{Flags: resource.ReleaseGPUAll})
	if img.Allocated(ReprTexture) {
		t.Error("texture should be released")
	}
	checkCurrent(t, img, ReprSurface)
	if n := f.report().Category(resource.GPUShader).Instances; n != 0 {
		t.Errorf("GPUShader instances = %d, want 0", n)
	}

	f.must(img.h, dispatch.ReleaseResources{Flags: resource.ReleaseRasterSurface})
	if img.currentCount() != 0 {
		t.Error("releasing the only representation leaves the image uninitialized")
	}
	_, err := f.do(img.h, dispatch.GetPixel{})
	checkCode(t, err, imgerr.CodeImageUninitialized)
	if n := f.report().Total.Instances; n != 0 {
		t.Errorf("Total.Instances = %d, want 0", n)
	}
}

func TestDispose(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(8, 8, options.ImageOptions{})
	f.must(img.h, dispatch.FillSolid{Color: red})
	f.export(img, image.Rectangle{})

	f.must(img.h, dispatch.Dispose{})
	_, err := f.do(img.h, dispatch.Dispose{})
	checkCode(t, err, imgerr.CodeObjectDisposed)
	_, err = f.do(img.h, dispatch.FillSolid{Color: red})
	if !errors.Is(err, imgerr.ErrObjectDisposed) {
		t.Errorf("FillSolid() after Dispose = %v, want ObjectDisposed", err)
	}
	if n := f.report().Total.Instances; n != 0 {
		t.Errorf("Total.Instances = %d, want 0", n)
	}

	kept := f.image(8, 8, options.ImageOptions{})
	f.must(kept.h, dispatch.FillSolid{Color: red})
	f.export(kept, image.Rectangle{})
	sh := f.shader(solidKernel(red))

	f.must(f.eng.h, dispatch.Dispose{})
	for _, h := range []handle.Handle{f.eng.h, kept.h, sh.h} {
		_, err := f.do(h, dispatch.GetResourceUsage{})
		checkCode(t, err, imgerr.CodeObjectDisposed)
	}
	if f.host.Len() != 0 || len(f.host.Engines()) != 0 {
		t.Errorf("host holds %d objects, want 0", f.host.Len())
	}
	if n := f.eng.Tracker().Report().Total.Instances; n != 0 {
		t.Errorf("Total.Instances = %d, want 0 after engine disposal", n)
	}
}

func TestUnhandledOpcodes(t *testing.T) {
	f := newGPUFixture(t)
	img := f.image(4, 4, options.ImageOptions{})
	sh := f.shader(solidKernel(red))

	tests := []struct {
		name string
		h    handle.Handle
		p    dispatch.Payload
	}{
		{"image", img.h, dispatch.SetUniforms{}},
		{"shader", sh.h, dispatch.FillSolid{Color: red}},
		{"engine", f.eng.h, dispatch.GetPixel{}},
		{"host", "", dispatch.FillSolid{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.do(tt.h, tt.p)
			checkCode(t, err, imgerr.CodeInvalidOpcode)
		})
	}
	_, err := f.do("Engine.77", dispatch.GetResourceUsage{})
	checkCode(t, err, imgerr.CodeInvalidHandle)
}

func TestThroughDispatcher(t *testing.T) {
	host := NewHost(handle.NewAllocator(), nil)
	d := dispatch.NewDispatcher(host, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	do := func(h handle.Handle, p dispatch.Payload) any {
		t.Helper()
		res, err := dispatch.Do(ctx, d, dispatch.Command{Handle: h, Payload: p})
		if err != nil {
			t.Fatalf("Do(%v): %v", p.Opcode(), err)
		}
		if res.Err != nil {
			t.Fatalf("%v: %v", p.Opcode(), res.Err)
		}
		return res.Value
	}

	eng := do("", dispatch.Create{Backends: dispatch.Backends{
		Raster: software.New(),
		GPU:    softgpu.New(softgpu.Config{}),
	}}).(handle.Handle)
	img := do(eng, dispatch.CreateImage{Width: 10, Height: 10}).(handle.Handle)
	do(img, dispatch.FillSolid{Color: blue})
	pix := do(img, dispatch.ExportPixels{}).(*image.NRGBA)
	checkRegion(t, pix, pix.Bounds(), nrgba(blue))

	res, err := dispatch.Do(ctx, d, dispatch.Command{Handle: img, Payload: dispatch.GetPixel{X: 20}})
	if err != nil {
		t.Fatal(err)
	}
	var e *imgerr.Error
	if !errors.As(res.Err, &e) || e.Handle != string(img) {
		t.Errorf("error = %v, want an *imgerr.Error for %s", res.Err, img)
	}
}
