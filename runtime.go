package gimage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/internal/engine"
)

// ErrClosed is returned by operations on a closed runtime. Errors from
// such operations carry the ObjectDisposed code and wrap ErrClosed, so
// both errors.Is(err, ErrClosed) and errors.Is(err, imgerr.ErrObjectDisposed)
// hold.
var ErrClosed = errors.New("gimage: runtime closed")

// closedError reports that p could not run on h because the runtime closed.
func closedError(h handle.Handle, p dispatch.Payload) error {
	return &imgerr.Error{Code: imgerr.CodeObjectDisposed, Op: p.Opcode().String(), Handle: string(h), Err: ErrClosed}
}

// Runtime owns the object arena and the command pipeline shared by its
// engines. Every command runs on a single dispatcher goroutine, in
// submission order.
//
// Runtime is safe for concurrent use.
type Runtime struct {
	alloc   *handle.Allocator
	host    *engine.Host
	disp    *dispatch.Dispatcher
	batcher *dispatch.Batcher
	sub     dispatch.Submitter

	seq    atomic.Uint64
	closed atomic.Bool
	once   sync.Once

	// ownLogger is set when the runtime ignores SetLogger.
	ownLogger bool
}

// NewRuntime starts a runtime. Only WithBatching and WithLogger apply.
func NewRuntime(opts ...Option) *Runtime {
	c := newConfig(opts)
	alloc := handle.NewAllocator()
	host := engine.NewHost(alloc, c.logger)
	rt := &Runtime{
		alloc: alloc,
		host:  host,
		disp:  dispatch.NewDispatcher(host, c.logger),
	}
	rt.sub = rt.disp
	if c.batching {
		rt.batcher = dispatch.NewBatcher(rt.disp, c.maxBatch)
		rt.sub = rt.batcher
	}
	if c.logger != nil {
		rt.ownLogger = true
	} else {
		followLogger(rt)
	}
	return rt
}

func (rt *Runtime) setLogger(l *slog.Logger) {
	rt.host.SetLogger(l)
	rt.disp.SetLogger(l)
}

// NewEngine creates an engine in the runtime. WithBatching and WithLogger
// are ignored.
func (rt *Runtime) NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	c := newConfig(opts)
	h := rt.alloc.New("", engine.TypeEngine, c.name)
	_, err := rt.call(ctx, "", dispatch.Create{
		NewHandle: h,
		Name:      c.name,
		Options:   c.exec,
		Backends:  c.backends(),
	})
	if err != nil {
		return nil, err
	}
	return &Engine{rt: rt, h: h}, nil
}

// Processed returns the number of commands executed so far.
func (rt *Runtime) Processed() uint64 { return rt.disp.Processed() }

// Flush submits commands held back by batching.
func (rt *Runtime) Flush() { rt.sub.Flush() }

// Close disposes every engine still alive and stops the dispatcher.
// Queued commands run first. Close is safe to call multiple times.
func (rt *Runtime) Close() {
	rt.once.Do(func() {
		rt.sub.Flush()
		// Dispose addressed to the host disposes every engine.
		_, _ = dispatch.Do(context.Background(), rt.disp, rt.command("", dispatch.Dispose{}, dispatch.Hint{}))
		rt.closed.Store(true)
		rt.disp.Close()
		if !rt.ownLogger {
			unfollowLogger(rt)
		}
	})
}

func (rt *Runtime) command(h handle.Handle, p dispatch.Payload, hint dispatch.Hint) dispatch.Command {
	return dispatch.Command{Handle: h, Seq: rt.seq.Add(1), Payload: p, Hint: hint}
}

// call runs p on h and waits for its result.
func (rt *Runtime) call(ctx context.Context, h handle.Handle, p dispatch.Payload) (any, error) {
	if rt.closed.Load() {
		return nil, closedError(h, p)
	}
	res, err := dispatch.Do(ctx, rt.sub, rt.command(h, p, dispatch.Hint{}))
	if errors.Is(err, dispatch.ErrClosed) {
		return nil, closedError(h, p)
	}
	if err != nil {
		return nil, err
	}
	return res.Value, res.Err
}

// queue submits p on h without waiting. The command may be held back
// until the next flush when batching is enabled.
func (rt *Runtime) queue(h handle.Handle, p dispatch.Payload) *Pending {
	pd := newPending(rt)
	if rt.closed.Load() {
		pd.complete(closedError(h, p))
		return pd
	}
	cmd := rt.command(h, p, dispatch.Hint{CanQueue: true})
	if err := rt.sub.Submit(cmd, func(r dispatch.Result) { pd.complete(r.Err) }); err != nil {
		if errors.Is(err, dispatch.ErrClosed) {
			err = closedError(h, p)
		}
		pd.complete(err)
	}
	return pd
}
