package gimage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/gimage/options"
)

func TestDefaultConfig(t *testing.T) {
	c := newConfig(nil)
	if c.exec.Optimizer != OptimizerLRU {
		t.Errorf("default optimizer = %q, want %q", c.exec.Optimizer, OptimizerLRU)
	}
	if c.batching {
		t.Error("batching should be off by default")
	}
	if c.logger != nil {
		t.Error("default config should follow the package logger")
	}
}

func TestOptions(t *testing.T) {
	c := newConfig([]Option{
		WithName("thumbs"),
		WithLimits(Limits{RasterBytes: 1 << 20, GPUBytes: 2 << 20}),
		WithMaxImageSize(640, 480),
		WithOptimizer(OptimizerNull),
		WithDebug(true),
		WithDefaultImageOptions(ImageOptions{Sampling: Ptr(options.Nearest)}),
		WithRasterBackend(RasterSoftware),
		WithGPUBackend(GPUNone),
		WithBatching(8),
	})

	if c.name != "thumbs" {
		t.Errorf("name = %q, want %q", c.name, "thumbs")
	}
	if c.exec.Limits.RasterBytes != 1<<20 || c.exec.Limits.GPUBytes != 2<<20 {
		t.Errorf("limits = %+v", c.exec.Limits)
	}
	if c.exec.MaxImageWidth != 640 || c.exec.MaxImageHeight != 480 {
		t.Errorf("max image size = %dx%d, want 640x480", c.exec.MaxImageWidth, c.exec.MaxImageHeight)
	}
	if c.exec.Optimizer != OptimizerNull {
		t.Errorf("optimizer = %q, want %q", c.exec.Optimizer, OptimizerNull)
	}
	if !c.exec.Debug {
		t.Error("debug = false, want true")
	}
	if c.exec.Image.Sampling == nil || *c.exec.Image.Sampling != options.Nearest {
		t.Errorf("default sampling = %v, want nearest", c.exec.Image.Sampling)
	}
	b := c.backends()
	if b.RasterName != RasterSoftware || b.GPUName != GPUNone {
		t.Errorf("backends = %q/%q, want %q/%q", b.RasterName, b.GPUName, RasterSoftware, GPUNone)
	}
	if !c.batching || c.maxBatch != 8 {
		t.Errorf("batching = %v/%d, want true/8", c.batching, c.maxBatch)
	}
}

func TestWithExecutionOptionsThenOverride(t *testing.T) {
	exec := options.DefaultExecutionOptions()
	exec.MaxImageWidth = 100
	c := newConfig([]Option{WithExecutionOptions(exec), WithMaxImageSize(200, 200)})
	if c.exec.MaxImageWidth != 200 {
		t.Errorf("MaxImageWidth = %d, want 200 (later option wins)", c.exec.MaxImageWidth)
	}
}

const sampleOptions = `
name = "previews"
raster = "software"
gpu = "none"
batching = true
max_batch = 16

[execution]
optimizer = "null"
max_image_width = 4096
max_image_height = 2048

[execution.limits]
raster_bytes = 268435456

[execution.image]
sampling = "nearest"
downscale = 0.5
`

func TestDecodeOptions(t *testing.T) {
	o, err := DecodeOptions(strings.NewReader(sampleOptions))
	if err != nil {
		t.Fatalf("DecodeOptions() = %v", err)
	}
	if o.Name != "previews" || o.Raster != RasterSoftware || o.GPU != GPUNone {
		t.Errorf("names = %q/%q/%q", o.Name, o.Raster, o.GPU)
	}
	if !o.Batching || o.MaxBatch != 16 {
		t.Errorf("batching = %v/%d, want true/16", o.Batching, o.MaxBatch)
	}
	if o.Execution.Optimizer != OptimizerNull {
		t.Errorf("optimizer = %q, want %q", o.Execution.Optimizer, OptimizerNull)
	}
	if o.Execution.MaxImageWidth != 4096 || o.Execution.MaxImageHeight != 2048 {
		t.Errorf("max image size = %dx%d", o.Execution.MaxImageWidth, o.Execution.MaxImageHeight)
	}
	if o.Execution.Limits.RasterBytes != 256<<20 {
		t.Errorf("raster limit = %d, want %d", o.Execution.Limits.RasterBytes, 256<<20)
	}
	if o.Execution.Limits.GPUBytes != 0 {
		t.Errorf("gpu limit = %d, want 0", o.Execution.Limits.GPUBytes)
	}
	img := o.Execution.Image
	if img.Sampling == nil || *img.Sampling != options.Nearest {
		t.Errorf("sampling = %v, want nearest", img.Sampling)
	}
	if img.Downscale == nil || *img.Downscale != 0.5 {
		t.Errorf("downscale = %v, want 0.5", img.Downscale)
	}
	if img.BitDepth != nil {
		t.Errorf("bit depth = %v, want unset", *img.BitDepth)
	}
}

func TestDecodeOptionsKeepsDefaults(t *testing.T) {
	o, err := DecodeOptions(strings.NewReader(`gpu = "softgpu"`))
	if err != nil {
		t.Fatalf("DecodeOptions() = %v", err)
	}
	want := options.DefaultExecutionOptions()
	if o.Execution.Optimizer != want.Optimizer {
		t.Errorf("optimizer = %q, want %q", o.Execution.Optimizer, want.Optimizer)
	}
	if o.Execution.MaxImageWidth != want.MaxImageWidth {
		t.Errorf("MaxImageWidth = %d, want %d", o.Execution.MaxImageWidth, want.MaxImageWidth)
	}
}

func TestDecodeOptionsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"syntax", `gpu = `},
		{"optimizer", "[execution]\noptimizer = \"fifo\""},
		{"max batch", `max_batch = -1`},
		{"downscale", "[execution.image]\ndownscale = 2.0"},
		{"channels", "[execution.image]\nchannels = \"cmyk\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeOptions(strings.NewReader(tt.input)); err == nil {
				t.Errorf("DecodeOptions(%q) = nil, want error", tt.input)
			}
		})
	}

	_, err := DecodeOptions(strings.NewReader(`max_batch = -1`))
	if !errors.Is(err, options.ErrInvalid) {
		t.Errorf("DecodeOptions() = %v, want options.ErrInvalid", err)
	}
}

func TestEngineOptionsWriteToRoundTrip(t *testing.T) {
	o := DefaultEngineOptions()
	o.Name = "roundtrip"
	o.GPU = GPUSoft
	o.Batching = true
	o.Execution.Limits.GPUBytes = 64 << 20
	o.Execution.Image.Channels = Ptr(options.RGB)

	var buf bytes.Buffer
	n, err := o.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo() = %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo() = %d, wrote %d bytes", n, buf.Len())
	}

	got, err := DecodeOptions(&buf)
	if err != nil {
		t.Fatalf("DecodeOptions() = %v", err)
	}
	if got.Name != o.Name || got.GPU != o.GPU || got.Batching != o.Batching {
		t.Errorf("decoded %+v, want %+v", got, o)
	}
	if got.Execution.Limits != o.Execution.Limits {
		t.Errorf("limits = %+v, want %+v", got.Execution.Limits, o.Execution.Limits)
	}
	if got.Execution.Image.Channels == nil || *got.Execution.Image.Channels != options.RGB {
		t.Errorf("channels = %v, want rgb", got.Execution.Image.Channels)
	}
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gimage.toml")
	if err := os.WriteFile(path, []byte(sampleOptions), 0o600); err != nil {
		t.Fatal(err)
	}
	o, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions() = %v", err)
	}
	if o.Name != "previews" {
		t.Errorf("Name = %q, want %q", o.Name, "previews")
	}

	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadOptions(missing) = nil, want error")
	}
}

func TestEngineOptionsOptions(t *testing.T) {
	o, err := DecodeOptions(strings.NewReader(sampleOptions))
	if err != nil {
		t.Fatalf("DecodeOptions() = %v", err)
	}
	c := newConfig(o.Options())
	if c.name != "previews" {
		t.Errorf("name = %q, want %q", c.name, "previews")
	}
	if c.rasterName != RasterSoftware || c.gpuName != GPUNone {
		t.Errorf("backends = %q/%q", c.rasterName, c.gpuName)
	}
	if !c.batching || c.maxBatch != 16 {
		t.Errorf("batching = %v/%d, want true/16", c.batching, c.maxBatch)
	}
	if c.exec.Optimizer != OptimizerNull {
		t.Errorf("optimizer = %q, want %q", c.exec.Optimizer, OptimizerNull)
	}

	if n := len(DefaultEngineOptions().Options()); n != 1 {
		t.Errorf("len(DefaultEngineOptions().Options()) = %d, want 1", n)
	}
}
