package engine

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/codec"
	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/options"
	"github.com/gogpu/gimage/resource"
)

// Engine owns the backends, the resource tracker and the optimizer shared
// by its images and shaders.
type Engine struct {
	h    handle.Handle
	host *Host

	raster backend.Raster
	gpu    backend.GPU
	codec  backend.Codec

	tracker   *resource.Tracker
	opts      options.ExecutionOptions
	optimizer Optimizer

	images  []*Image
	shaders []*Shader

	// batching is set between BeginExecution and ExecutionBarrier.
	batching bool

	// pinned images are in use by the running command and are skipped by
	// the optimizer.
	pinned map[*Image]int

	copyProgram backend.Program

	// backendLogger is the logger last handed to the backends.
	backendLogger *slog.Logger
}

type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func newEngine(host *Host, p dispatch.Create) (*Engine, error) {
	const op = "Create"
	opts := p.Options
	if opts.Optimizer == "" {
		opts.Optimizer = options.OptimizerLRU
	}
	if err := opts.Validate(); err != nil {
		return nil, imgerr.Wrap(imgerr.CodeInvalidParameter, op, err)
	}
	hd, err := host.newHandle(p.NewHandle, "", TypeEngine, p.Name)
	if err != nil {
		return nil, err
	}

	raster, err := selectRaster(p.Backends)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeUnsupported, op, err)
	}
	gpu, err := selectGPU(p.Backends)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeUnsupported, op, err)
	}
	cd := p.Backends.Codec
	if cd == nil {
		cd = codec.New()
	}

	e := &Engine{
		h:         hd,
		host:      host,
		raster:    raster,
		gpu:       gpu,
		codec:     cd,
		tracker:   resource.NewTracker(opts.Limits),
		opts:      opts,
		optimizer: newOptimizer(opts.Optimizer),
		pinned:    make(map[*Image]int),
	}
	e.propagateLogger(host.log())
	host.register(hd, e)
	host.engines = append(host.engines, e)

	gpuName := backend.GPUNone
	if gpu != nil {
		gpuName = gpu.Name()
	}
	host.log().Info("engine: created", "handle", hd, "raster", raster.Name(), "gpu", gpuName,
		"optimizer", e.optimizer.Name())
	return e, nil
}

func selectRaster(b dispatch.Backends) (backend.Raster, error) {
	switch {
	case b.Raster != nil:
		return b.Raster, nil
	case b.RasterName != "":
		return backend.NewRaster(b.RasterName)
	default:
		return backend.DefaultRaster()
	}
}

// selectGPU returns a nil GPU when GPU work is disabled or no backend is
// available by default.
func selectGPU(b dispatch.Backends) (backend.GPU, error) {
	switch {
	case b.GPU != nil:
		return b.GPU, nil
	case b.GPUName == backend.GPUNone:
		return nil, nil
	case b.GPUName != "":
		return backend.NewGPU(b.GPUName)
	}
	gpu, err := backend.DefaultGPU()
	if errors.Is(err, backend.ErrBackendNotAvailable) {
		return nil, nil
	}
	return gpu, err
}

func (e *Engine) propagateLogger(l *slog.Logger) {
	e.backendLogger = l
	for _, b := range []any{e.raster, e.gpu, e.codec} {
		if ls, ok := b.(loggerSetter); ok {
			ls.SetLogger(l)
		}
	}
}

func (e *Engine) log() *slog.Logger { return e.host.log() }

// syncLogger hands a logger replaced through Host.SetLogger to the backends.
// It runs on the dispatcher goroutine, like every backend call.
func (e *Engine) syncLogger() {
	if l := e.host.log(); l != e.backendLogger {
		e.propagateLogger(l)
	}
}

// ID returns the engine's handle.
func (e *Engine) ID() handle.Handle { return e.h }

// Tracker returns the engine's resource tracker.
func (e *Engine) Tracker() *resource.Tracker { return e.tracker }

// GPU returns the engine's GPU backend, or nil.
func (e *Engine) GPU() backend.GPU { return e.gpu }

// Options returns the engine's execution options.
func (e *Engine) Options() options.ExecutionOptions { return e.opts }

// Images returns the live images in creation order.
func (e *Engine) Images() []*Image { return e.images }

// Handle implements dispatch.Handler.
func (e *Engine) Handle(cmd dispatch.Command) (any, error) {
	e.syncLogger()
	switch p := cmd.Payload.(type) {
	case dispatch.CreateImage:
		img, err := e.createImage(p)
		if err != nil {
			return nil, err
		}
		return img.h, nil
	case dispatch.CreateShader:
		s, err := e.createShader(p)
		if err != nil {
			return nil, err
		}
		return s.h, nil
	case dispatch.SetExecutionOptions:
		return nil, e.finish("SetExecutionOptions", e.setOptions(p.Options))
	case dispatch.BeginExecution:
		e.batching = true
		return nil, nil
	case dispatch.ExecutionBarrier:
		return nil, e.barrier()
	case dispatch.ReleaseResources:
		e.releaseResources(p.Flags)
		return nil, nil
	case dispatch.GetResourceUsage:
		return e.tracker.Report(), nil
	case dispatch.Dispose:
		e.dispose()
		return nil, nil
	default:
		return nil, dispatch.Unhandled(cmd.Handle, cmd.Opcode())
	}
}

func (e *Engine) createImage(p dispatch.CreateImage) (*Image, error) {
	const op = "CreateImage"
	if p.Width <= 0 || p.Height <= 0 {
		return nil, imgerr.New(imgerr.CodeInvalidDimensions, op, "%dx%d", p.Width, p.Height)
	}
	if err := p.Options.Validate(); err != nil {
		return nil, imgerr.Wrap(imgerr.CodeInvalidParameter, op, err)
	}
	hd, err := e.host.newHandle(p.NewHandle, e.h, TypeImage, p.Name)
	if err != nil {
		return nil, err
	}
	img := &Image{h: hd, eng: e, width: p.Width, height: p.Height, opts: p.Options}
	img.resolve()
	e.images = append(e.images, img)
	e.host.register(hd, img)
	e.log().Debug("engine: image created", "handle", hd, "width", p.Width, "height", p.Height)
	return img, nil
}

func (e *Engine) createShader(p dispatch.CreateShader) (*Shader, error) {
	const op = "CreateShader"
	if p.Source.Kernel == nil && p.Source.WGSL == "" {
		return nil, imgerr.New(imgerr.CodeInvalidParameter, op, "empty program source")
	}
	hd, err := e.host.newHandle(p.NewHandle, e.h, TypeShader, p.Name)
	if err != nil {
		return nil, err
	}
	s := &Shader{h: hd, eng: e, src: p.Source}
	if e.gpu != nil {
		if err := s.compile(op); err != nil {
			return nil, err
		}
	}
	e.shaders = append(e.shaders, s)
	e.host.register(hd, s)
	return s, nil
}

func (e *Engine) setOptions(o options.ExecutionOptions) error {
	const op = "SetExecutionOptions"
	if o.Optimizer == "" {
		o.Optimizer = e.opts.Optimizer
	}
	if err := o.Validate(); err != nil {
		return imgerr.Wrap(imgerr.CodeInvalidParameter, op, err)
	}
	if o.Optimizer != e.opts.Optimizer {
		e.optimizer = newOptimizer(o.Optimizer)
		for _, img := range e.images {
			img.touchAll()
		}
	}
	e.opts = o
	e.tracker.SetLimits(o.Limits)
	for _, img := range e.images {
		img.resolve()
	}
	return nil
}

// finish runs after every top-level command: outside a batch it lets the
// optimizer evict, and in debug mode it reports collected GPU errors.
func (e *Engine) finish(op string, err error) error {
	e.syncLogger()
	if err == nil && e.opts.Debug {
		err = e.checkGPUErrors(op)
	}
	if !e.batching {
		e.optimize()
	}
	return err
}

func (e *Engine) optimize() {
	if n := e.optimizer.Optimize(e); n > 0 {
		e.log().Debug("engine: optimizer released representations", "handle", e.h, "count", n)
	}
}

func (e *Engine) barrier() error {
	e.batching = false
	var err error
	if e.opts.Debug {
		err = e.checkGPUErrors("ExecutionBarrier")
	}
	e.optimize()
	return err
}

func (e *Engine) checkGPUErrors(op string) error {
	if e.gpu == nil {
		return nil
	}
	errs := e.gpu.Errors()
	if len(errs) == 0 {
		return nil
	}
	wrapped := make([]error, len(errs))
	for i, err := range errs {
		wrapped[i] = e.backendError(op, err)
	}
	return imgerr.Collapse(op, wrapped...)
}

func (e *Engine) releaseResources(flags resource.ReleaseFlags) {
	for _, img := range e.images {
		img.releaseRepresentations(flags)
	}
	if flags.Any(resource.ReleaseGPUAll) {
		for _, s := range e.shaders {
			s.release()
		}
		e.releaseCopyProgram()
	}
}

func (e *Engine) dispose() {
	for len(e.images) > 0 {
		e.images[len(e.images)-1].dispose()
	}
	for len(e.shaders) > 0 {
		e.shaders[len(e.shaders)-1].dispose()
	}
	e.releaseCopyProgram()
	if e.gpu != nil {
		e.gpu.Close()
	}
	e.tracker.Reset()
	e.host.removeEngine(e)
	e.log().Info("engine: disposed", "handle", e.h)
}

// pin marks imgs as in use until the returned func runs. Pins nest: an
// image pinned twice stays pinned until both are released.
func (e *Engine) pin(imgs ...*Image) func() {
	for _, img := range imgs {
		e.pinned[img]++
	}
	return func() {
		for _, img := range imgs {
			if e.pinned[img]--; e.pinned[img] <= 0 {
				delete(e.pinned, img)
			}
		}
	}
}

func (e *Engine) isPinned(img *Image) bool {
	return e.pinned[img] > 0
}

// reserve charges bytes to cat. When the charge does not fit, the
// optimizer is asked to reclaim memory and the charge is retried once.
func (e *Engine) reserve(op string, cat resource.Category, bytes uint64) error {
	err := e.tracker.Reserve(cat, bytes)
	if err == nil {
		return nil
	}
	if e.optimizer.Reclaim(e, cat, bytes) {
		err = e.tracker.Reserve(cat, bytes)
	}
	if err != nil {
		e.log().Debug("engine: reservation refused", "handle", e.h, "category", cat, "bytes", bytes)
	}
	return imgerr.Wrap(imgerr.CodeOutOfRasterMemory, op, err)
}

// requireGPU fails with Unsupported without a GPU and with ContextLost
// after a device loss, which it also handles.
func (e *Engine) requireGPU(op string) error {
	if e.gpu == nil {
		return imgerr.New(imgerr.CodeUnsupported, op, "no GPU backend")
	}
	if e.gpu.ContextLost() {
		e.contextLost()
		return imgerr.New(imgerr.CodeContextLost, op, "GPU context lost")
	}
	return nil
}

// contextLost drops every GPU object, gives images left without content
// their fallback color and tries to restore the device.
func (e *Engine) contextLost() {
	e.log().Warn("engine: GPU context lost", "handle", e.h, "gpu", e.gpu.Name())
	for _, img := range e.images {
		img.freeTexture()
		img.adoptFallback()
	}
	for _, s := range e.shaders {
		s.release()
	}
	e.releaseCopyProgram()
	if err := e.gpu.Restore(); err != nil {
		e.log().Warn("engine: GPU restore failed", "handle", e.h, "err", err)
	}
}

// backendError classifies an error returned by a backend call.
func (e *Engine) backendError(op string, err error) error {
	var ie *imgerr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ie):
		return imgerr.Wrap(imgerr.CodeBackendFailure, op, err)
	case errors.Is(err, backend.ErrContextLost):
		return &imgerr.Error{Code: imgerr.CodeContextLost, Op: op, Err: err}
	case errors.Is(err, backend.ErrFormatUnsupported):
		return &imgerr.Error{Code: imgerr.CodeUnsupported, Op: op, Err: err}
	case errors.Is(err, backend.ErrOutOfBounds):
		return &imgerr.Error{Code: imgerr.CodeInvalidParameter, Op: op, Err: err}
	default:
		return &imgerr.Error{Code: imgerr.CodeBackendFailure, Op: op, Err: err}
	}
}

// gpuError classifies an error from a GPU call and handles a context loss
// it reveals.
func (e *Engine) gpuError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrContextLost) || e.gpu.ContextLost() {
		e.contextLost()
		return &imgerr.Error{Code: imgerr.CodeContextLost, Op: op, Err: err}
	}
	return e.backendError(op, err)
}

// image resolves hd to an image of this engine.
func (e *Engine) image(hd handle.Handle, op string) (*Image, error) {
	obj, err := e.host.Resolve(hd)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeInvalidHandle, op, err)
	}
	img, ok := obj.(*Image)
	if !ok {
		return nil, imgerr.New(imgerr.CodeInvalidParameter, op, "%q is not an image", hd)
	}
	if img.eng != e {
		return nil, imgerr.New(imgerr.CodeInvalidParameter, op, "%q belongs to another engine", hd)
	}
	return img, nil
}

func (e *Engine) shader(hd handle.Handle, op string) (*Shader, error) {
	obj, err := e.host.Resolve(hd)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeInvalidHandle, op, err)
	}
	s, ok := obj.(*Shader)
	if !ok {
		return nil, imgerr.New(imgerr.CodeInvalidParameter, op, "%q is not a shader", hd)
	}
	if s.eng != e {
		return nil, imgerr.New(imgerr.CodeInvalidParameter, op, "%q belongs to another engine", hd)
	}
	return s, nil
}

func (e *Engine) removeImage(img *Image) {
	if i := slices.Index(e.images, img); i >= 0 {
		e.images = slices.Delete(e.images, i, i+1)
	}
	e.host.unregister(img.h)
}

func (e *Engine) removeShader(s *Shader) {
	if i := slices.Index(e.shaders, s); i >= 0 {
		e.shaders = slices.Delete(e.shaders, i, i+1)
	}
	e.host.unregister(s.h)
}
