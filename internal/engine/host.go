package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
)

// Object types used in handles.
const (
	TypeEngine = "Engine"
	TypeImage  = "Image"
	TypeShader = "Shader"
)

// Host is the arena of live objects and the handler of runtime-level
// commands.
type Host struct {
	alloc  *handle.Allocator
	logger atomic.Pointer[slog.Logger]

	objects  map[handle.Handle]dispatch.Handler
	disposed map[handle.Handle]struct{}
	engines  []*Engine
}

// NewHost returns an empty arena that allocates handles from alloc.
func NewHost(alloc *handle.Allocator, logger *slog.Logger) *Host {
	h := &Host{
		alloc:    alloc,
		objects:  make(map[handle.Handle]dispatch.Handler),
		disposed: make(map[handle.Handle]struct{}),
	}
	h.SetLogger(logger)
	return h
}

// SetLogger replaces the logger used by the host and its engines. Backends
// receive it with the next command of their engine. It is safe to call from
// any goroutine.
func (h *Host) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	h.logger.Store(l)
}

func (h *Host) log() *slog.Logger { return h.logger.Load() }

// Resolve implements dispatch.Resolver. The empty handle resolves to the
// host itself.
func (h *Host) Resolve(hd handle.Handle) (dispatch.Handler, error) {
	if hd.IsZero() {
		return h, nil
	}
	if obj, ok := h.objects[hd]; ok {
		return obj, nil
	}
	if _, ok := h.disposed[hd]; ok {
		return nil, imgerr.Disposed("Resolve", string(hd))
	}
	err := imgerr.New(imgerr.CodeInvalidHandle, "Resolve", "no object")
	err.Handle = string(hd)
	return nil, err
}

// Handle implements dispatch.Handler for runtime-level commands. Dispose
// disposes every engine.
func (h *Host) Handle(cmd dispatch.Command) (any, error) {
	switch p := cmd.Payload.(type) {
	case dispatch.Create:
		e, err := newEngine(h, p)
		if err != nil {
			return nil, err
		}
		return e.h, nil
	case dispatch.Dispose:
		h.Close()
		return nil, nil
	default:
		return nil, dispatch.Unhandled(cmd.Handle, cmd.Opcode())
	}
}

// Len returns the number of live objects.
func (h *Host) Len() int { return len(h.objects) }

// Engines returns the live engines in creation order.
func (h *Host) Engines() []*Engine { return h.engines }

// Close disposes every engine.
func (h *Host) Close() {
	for len(h.engines) > 0 {
		h.engines[len(h.engines)-1].dispose()
	}
}

// newHandle returns want if set, or a fresh handle under parent.
func (h *Host) newHandle(want, parent handle.Handle, objType, name string) (handle.Handle, error) {
	if want.IsZero() {
		return h.alloc.New(parent, objType, name), nil
	}
	if want.Parent() != parent || want.Type() != objType {
		return "", imgerr.New(imgerr.CodeInvalidHandle, "Create", "%q is not a %s under %q", want, objType, parent)
	}
	if _, ok := h.objects[want]; ok {
		return "", imgerr.New(imgerr.CodeInvalidHandle, "Create", "%q already exists", want)
	}
	if _, ok := h.disposed[want]; ok {
		return "", imgerr.New(imgerr.CodeInvalidHandle, "Create", "%q was disposed", want)
	}
	return want, nil
}

func (h *Host) register(hd handle.Handle, obj dispatch.Handler) {
	h.objects[hd] = obj
}

// unregister removes hd and leaves a tombstone.
func (h *Host) unregister(hd handle.Handle) {
	delete(h.objects, hd)
	h.disposed[hd] = struct{}{}
}

func (h *Host) removeEngine(e *Engine) {
	for i, x := range h.engines {
		if x == e {
			h.engines = append(h.engines[:i], h.engines[i+1:]...)
			break
		}
	}
	h.unregister(e.h)
}
