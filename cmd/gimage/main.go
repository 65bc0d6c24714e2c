// Command gimage converts, resizes and filters images with the gimage
// engine.
//
// Usage:
//
//	gimage -input photo.jpg -output thumb.png -width 320 -height 240
//	gimage -output swatch.webp -width 64 -height 64 -fill 1,0.5,0
//	gimage -input photo.png -output inverted.png -invert -gpu softgpu
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gogpu/gimage"
	_ "github.com/gogpu/gimage/backend/softgpu"
	_ "github.com/gogpu/gimage/backend/wgpu"
	"github.com/gogpu/gimage/codec"
)

func main() {
	var (
		input   = flag.String("input", "", "input image (PNG, JPEG, GIF, TIFF, BMP or WebP)")
		output  = flag.String("output", "out.png", "output file; the extension selects the format")
		width   = flag.Int("width", 0, "output width (default: input width)")
		height  = flag.Int("height", 0, "output height (default: input height)")
		fill    = flag.String("fill", "", "fill color as r,g,b[,a] in [0,1] when there is no input")
		invert  = flag.Bool("invert", false, "invert colors on the GPU")
		quality = flag.Int("quality", 0, "JPEG quality, 1-100")
		config  = flag.String("config", "", "engine options file (TOML)")
		gpu     = flag.String("gpu", "", "GPU backend: wgpu, softgpu or none")
		verbose = flag.Bool("v", false, "log engine activity")
	)
	flag.Parse()

	if *verbose {
		gimage.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if err := run(context.Background(), params{
		input: *input, output: *output,
		width: *width, height: *height,
		fill: *fill, invert: *invert, quality: *quality,
		config: *config, gpu: *gpu,
	}); err != nil {
		log.Fatalf("gimage: %v", err)
	}
}

type params struct {
	input, output string
	width, height int
	fill          string
	invert        bool
	quality       int
	config, gpu   string
}

func run(ctx context.Context, p params) error {
	format, err := codec.FormatFromFilename(p.output)
	if err != nil {
		return err
	}

	opts := gimage.DefaultEngineOptions()
	if p.config != "" {
		if opts, err = gimage.LoadOptions(p.config); err != nil {
			return err
		}
	}
	engineOpts := opts.Options()
	if p.gpu != "" {
		engineOpts = append(engineOpts, gimage.WithGPUBackend(p.gpu))
	}

	eng, err := gimage.NewEngine(ctx, engineOpts...)
	if err != nil {
		return err
	}
	defer eng.Dispose(ctx)

	img, err := source(ctx, eng, p)
	if err != nil {
		return err
	}

	if p.invert {
		if err := invertImage(ctx, eng, img); err != nil {
			return err
		}
	}

	data, err := img.ExportEncoded(ctx, format, p.quality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.output, data, 0o644); err != nil {
		return err
	}

	rep, err := eng.ResourceUsage(ctx)
	if err != nil {
		return err
	}
	log.Printf("wrote %s (%dx%d, %d bytes); %s", p.output, img.Bounds().Dx(), img.Bounds().Dy(), len(data), rep)
	return nil
}

// source creates the output image from the input file, rescaled when a
// size is given, or from the fill color.
func source(ctx context.Context, eng *gimage.Engine, p params) (*gimage.Image, error) {
	if p.input == "" {
		if p.width <= 0 || p.height <= 0 {
			return nil, fmt.Errorf("-width and -height are required without -input")
		}
		c, err := parseColor(p.fill)
		if err != nil {
			return nil, err
		}
		img, err := eng.CreateImage(ctx, "output", p.width, p.height, gimage.ImageOptions{})
		if err != nil {
			return nil, err
		}
		return img, img.FillSolid(ctx, c)
	}

	f, err := os.Open(p.input)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.input, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	w, h := cfg.Width, cfg.Height
	if p.width > 0 {
		w = p.width
	}
	if p.height > 0 {
		h = p.height
	}
	img, err := eng.CreateImage(ctx, "output", w, h, gimage.ImageOptions{})
	if err != nil {
		return nil, err
	}
	return img, img.LoadFrom(ctx, f, true)
}

func invertImage(ctx context.Context, eng *gimage.Engine, img *gimage.Image) error {
	sh, err := eng.CreateShader(ctx, "invert", gimage.ProgramSource{
		Label: "invert",
		Kernel: func(u, v float64, in gimage.Inputs, _ gimage.Uniforms) gimage.Color {
			c := in.Sample(0, u, v)
			return gimage.Color{R: 1 - c.R, G: 1 - c.G, B: 1 - c.B, A: c.A}
		},
	})
	if err != nil {
		return err
	}
	defer sh.Dispose(ctx)
	if err := sh.SetImage(ctx, img); err != nil {
		return err
	}
	return img.Execute(ctx, sh, image.Rectangle{})
}

func parseColor(s string) (gimage.Color, error) {
	if s == "" {
		return gimage.Color{R: 1, G: 1, B: 1, A: 1}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return gimage.Color{}, fmt.Errorf("color %q: want r,g,b[,a]", s)
	}
	v := []float64{0, 0, 0, 1}
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f < 0 || f > 1 {
			return gimage.Color{}, fmt.Errorf("color %q: component %q not in [0,1]", s, part)
		}
		v[i] = f
	}
	return gimage.Color{R: v[0], G: v[1], B: v[2], A: v[3]}, nil
}
