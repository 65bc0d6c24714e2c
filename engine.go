package gimage

import (
	"context"

	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/internal/engine"
)

// Engine creates images and shaders that share backends, memory limits and
// an eviction policy.
//
// Every method sends a command through the runtime's dispatcher; methods
// are safe for concurrent use and run in call order.
type Engine struct {
	rt *Runtime
	h  handle.Handle

	// ownsRuntime is set for engines made by the package-level NewEngine.
	ownsRuntime bool
}

// NewEngine starts a private runtime and creates an engine in it. Dispose
// closes the runtime.
//
// Example:
//
//	eng, err := gimage.NewEngine(ctx, gimage.WithMaxImageSize(4096, 4096))
//	if err != nil {
//	    return err
//	}
//	defer eng.Dispose(ctx)
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	rt := NewRuntime(opts...)
	e, err := rt.NewEngine(ctx, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	e.ownsRuntime = true
	return e, nil
}

// ID returns the engine's handle.
func (e *Engine) ID() handle.Handle { return e.h }

// Runtime returns the runtime the engine lives in.
func (e *Engine) Runtime() *Runtime { return e.rt }

// CreateImage creates a width×height image with no content. Name is
// optional and becomes part of the image's handle.
func (e *Engine) CreateImage(ctx context.Context, name string, width, height int, opts ImageOptions) (*Image, error) {
	h := e.rt.alloc.New(e.h, engine.TypeImage, name)
	_, err := e.rt.call(ctx, e.h, dispatch.CreateImage{
		NewHandle: h,
		Name:      name,
		Width:     width,
		Height:    height,
		Options:   opts,
	})
	if err != nil {
		return nil, err
	}
	return &Image{eng: e, h: h, width: width, height: height}, nil
}

// CreateShader creates a shader program. It is compiled now when the
// engine has a GPU, and on first use otherwise.
func (e *Engine) CreateShader(ctx context.Context, name string, src ProgramSource) (*Shader, error) {
	h := e.rt.alloc.New(e.h, engine.TypeShader, name)
	_, err := e.rt.call(ctx, e.h, dispatch.CreateShader{NewHandle: h, Name: name, Source: src})
	if err != nil {
		return nil, err
	}
	return &Shader{eng: e, h: h}, nil
}

// ResourceUsage reports the instances and memory held by the engine.
func (e *Engine) ResourceUsage(ctx context.Context) (Report, error) {
	v, err := e.rt.call(ctx, e.h, dispatch.GetResourceUsage{})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

// SetExecutionOptions replaces the engine's execution options. Images pick
// up new defaults at their next allocation.
func (e *Engine) SetExecutionOptions(ctx context.Context, o ExecutionOptions) error {
	_, err := e.rt.call(ctx, e.h, dispatch.SetExecutionOptions{Options: o})
	return err
}

// Begin starts an execution batch: the optimizer does not evict anything
// until Barrier.
func (e *Engine) Begin(ctx context.Context) error {
	_, err := e.rt.call(ctx, e.h, dispatch.BeginExecution{})
	return err
}

// Barrier ends an execution batch, runs the optimizer and, in debug mode,
// reports GPU errors collected during the batch.
func (e *Engine) Barrier(ctx context.Context) error {
	_, err := e.rt.call(ctx, e.h, dispatch.ExecutionBarrier{})
	return err
}

// ReleaseResources drops the representations selected by flags from every
// image of the engine. Images left without content adopt their
// ContextLostColor, if any.
func (e *Engine) ReleaseResources(ctx context.Context, flags ReleaseFlags) error {
	_, err := e.rt.call(ctx, e.h, dispatch.ReleaseResources{Flags: flags})
	return err
}

// Dispose disposes the engine with all its images and shaders and closes
// its backends. An engine made by NewEngine also closes its runtime; every
// later operation on it or its objects fails with ObjectDisposed.
func (e *Engine) Dispose(ctx context.Context) error {
	_, err := e.rt.call(ctx, e.h, dispatch.Dispose{})
	if e.ownsRuntime {
		e.rt.Close()
	}
	return err
}
