package gimage

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/options"
	"github.com/gogpu/gimage/resource"
)

// Option configures a Runtime or an Engine during creation.
// Use functional options to customize behavior.
//
// Example:
//
//	// Default backends, unbounded memory
//	eng, err := gimage.NewEngine(ctx)
//
//	// CPU only, 256 MB of raster memory, batched submission
//	eng, err := gimage.NewEngine(ctx,
//	    gimage.WithGPUBackend(gimage.GPUNone),
//	    gimage.WithLimits(gimage.Limits{RasterBytes: 256 << 20}),
//	    gimage.WithBatching(0),
//	)
//
// WithBatching and WithLogger configure the runtime; Runtime.NewEngine
// ignores them.
type Option func(*config)

// config holds the optional configuration of a runtime and its engine.
type config struct {
	name string
	exec options.ExecutionOptions

	rasterName string
	gpuName    string
	raster     backend.Raster
	gpu        backend.GPU
	codec      backend.Codec

	batching bool
	maxBatch int
	logger   *slog.Logger
}

// defaultConfig returns the default options.
func defaultConfig() config {
	return config{exec: options.DefaultExecutionOptions()}
}

func newConfig(opts []Option) config {
	c := defaultConfig()
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c config) backends() dispatch.Backends {
	return dispatch.Backends{
		RasterName: c.rasterName,
		GPUName:    c.gpuName,
		Raster:     c.raster,
		GPU:        c.gpu,
		Codec:      c.codec,
	}
}

// WithName appends name to the engine's handle.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithExecutionOptions replaces all execution options at once.
func WithExecutionOptions(o ExecutionOptions) Option {
	return func(c *config) {
		c.exec = o
	}
}

// WithLimits sets the raster and GPU memory ceilings. Zero means unbounded.
func WithLimits(l Limits) Option {
	return func(c *config) {
		c.exec.Limits = l
	}
}

// WithMaxImageSize bounds the physical size of images that do not allow
// oversizing. Larger images are downscaled to fit.
func WithMaxImageSize(width, height int) Option {
	return func(c *config) {
		c.exec.MaxImageWidth = width
		c.exec.MaxImageHeight = height
	}
}

// WithOptimizer selects the eviction policy: OptimizerLRU (default) or
// OptimizerNull.
func WithOptimizer(name string) Option {
	return func(c *config) {
		c.exec.Optimizer = name
	}
}

// WithDebug checks the GPU for errors after every GPU operation.
func WithDebug(enabled bool) Option {
	return func(c *config) {
		c.exec.Debug = enabled
	}
}

// WithDefaultImageOptions sets the options inherited by every image.
func WithDefaultImageOptions(o ImageOptions) Option {
	return func(c *config) {
		c.exec.Image = o
	}
}

// WithRasterBackend selects a registered raster backend by name.
func WithRasterBackend(name string) Option {
	return func(c *config) {
		c.rasterName = name
	}
}

// WithGPUBackend selects a registered GPU backend by name. GPUNone
// disables GPU work.
func WithGPUBackend(name string) Option {
	return func(c *config) {
		c.gpuName = name
	}
}

// WithRaster uses r instead of a registered raster backend. The engine
// takes ownership of it.
func WithRaster(r backend.Raster) Option {
	return func(c *config) {
		c.raster = r
	}
}

// WithGPU uses g instead of a registered GPU backend. The engine takes
// ownership of it and closes it on Dispose.
func WithGPU(g backend.GPU) Option {
	return func(c *config) {
		c.gpu = g
	}
}

// WithCodec replaces the encoded-image codec.
func WithCodec(cd backend.Codec) Option {
	return func(c *config) {
		c.codec = cd
	}
}

// WithBatching queues commands that return nothing and submits them in
// batches of up to maxBatch, or dispatch.DefaultMaxBatch when maxBatch is
// not positive.
func WithBatching(maxBatch int) Option {
	return func(c *config) {
		c.batching = true
		c.maxBatch = maxBatch
	}
}

// WithLogger gives the runtime its own logger instead of following
// SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// EngineOptions is the file form of an engine configuration.
//
// Example file:
//
//	raster = "software"
//	gpu = "softgpu"
//	batching = true
//
//	[execution]
//	optimizer = "lru"
//	max_image_width = 8192
//	max_image_height = 8192
//
//	[execution.limits]
//	raster_bytes = 268435456
//
//	[execution.image]
//	sampling = "nearest"
type EngineOptions struct {
	Name      string           `toml:"name,omitempty"`
	Raster    string           `toml:"raster,omitempty"`
	GPU       string           `toml:"gpu,omitempty"`
	Batching  bool             `toml:"batching"`
	MaxBatch  int              `toml:"max_batch,omitempty"`
	Execution ExecutionOptions `toml:"execution"`
}

// DefaultEngineOptions returns the options NewEngine uses without any
// Option.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{Execution: options.DefaultExecutionOptions()}
}

// LoadOptions reads engine options from a TOML file. Keys absent from the
// file keep their DefaultEngineOptions value.
func LoadOptions(path string) (EngineOptions, error) {
	o := DefaultEngineOptions()
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return EngineOptions{}, fmt.Errorf("gimage: load options %s: %w", path, err)
	}
	return o, o.Validate()
}

// DecodeOptions reads engine options in TOML form from r.
func DecodeOptions(r io.Reader) (EngineOptions, error) {
	o := DefaultEngineOptions()
	if _, err := toml.NewDecoder(r).Decode(&o); err != nil {
		return EngineOptions{}, fmt.Errorf("gimage: decode options: %w", err)
	}
	return o, o.Validate()
}

// Validate checks the execution options and the batch size.
func (o EngineOptions) Validate() error {
	if o.MaxBatch < 0 {
		return fmt.Errorf("%w: max_batch %d", options.ErrInvalid, o.MaxBatch)
	}
	return o.Execution.Validate()
}

// WriteTo writes o in TOML form. It implements io.WriterTo.
func (o EngineOptions) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(o); err != nil {
		return 0, fmt.Errorf("gimage: encode options: %w", err)
	}
	return buf.WriteTo(w)
}

// Options converts o to the equivalent list of Option.
func (o EngineOptions) Options() []Option {
	opts := []Option{WithExecutionOptions(o.Execution)}
	if o.Name != "" {
		opts = append(opts, WithName(o.Name))
	}
	if o.Raster != "" {
		opts = append(opts, WithRasterBackend(o.Raster))
	}
	if o.GPU != "" {
		opts = append(opts, WithGPUBackend(o.GPU))
	}
	if o.Batching {
		opts = append(opts, WithBatching(o.MaxBatch))
	}
	return opts
}

// Types shared with the sub-packages.
type (
	// ImageOptions configures one image. A nil field inherits from the
	// engine defaults.
	ImageOptions = options.ImageOptions

	// ExecutionOptions configures an engine.
	ExecutionOptions = options.ExecutionOptions

	// Limits are the memory ceilings of an engine.
	Limits = resource.Limits

	// Report is a snapshot of an engine's resource usage.
	Report = resource.Report

	// ReleaseFlags select the representations ReleaseResources drops.
	ReleaseFlags = resource.ReleaseFlags

	// Color is a straight-alpha RGBA color with components in [0, 1].
	Color = backend.Color

	// ProgramSource describes a shader program.
	ProgramSource = backend.ProgramSource

	// Kernel computes one output pixel of a shader.
	Kernel = backend.Kernel

	// Inputs gives a kernel access to its input images.
	Inputs = backend.Inputs

	// Uniforms are named shader parameters.
	Uniforms = backend.Uniforms
)

// Release flags.
const (
	ReleaseRasterSurface = resource.ReleaseRasterSurface
	ReleaseGPUTexture    = resource.ReleaseGPUTexture
	ReleaseGPUSurface    = resource.ReleaseGPUSurface
	ReleaseGPUAll        = resource.ReleaseGPUAll
	ReleaseAll           = resource.ReleaseAll
)

// Optimizer names.
const (
	OptimizerLRU  = options.OptimizerLRU
	OptimizerNull = options.OptimizerNull
)

// Backend names.
const (
	RasterSoftware = backend.RasterSoftware
	GPUSoft        = backend.GPUSoft
	GPUWGPU        = backend.GPUWGPU
	GPUNone        = backend.GPUNone
)

// Ptr returns a pointer to v, for filling ImageOptions literals.
func Ptr[T any](v T) *T { return &v }
