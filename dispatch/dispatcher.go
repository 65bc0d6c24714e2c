// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Handler executes commands addressed to one object.
type Handler interface {
	Handle(cmd Command) (any, error)
}

// Resolver maps a handle to its handler. It returns an InvalidHandle or
// ObjectDisposed error for handles that do not resolve.
type Resolver interface {
	Resolve(h handle.Handle) (Handler, error)
}

// ReplyFunc receives the result of a command. It runs on the worker
// goroutine and must not block on the dispatcher.
type ReplyFunc func(Result)

// Submitter accepts commands. Dispatcher and Batcher implement it.
type Submitter interface {
	Submit(cmd Command, reply ReplyFunc) error
	Flush()
}

type entry struct {
	cmd   Command
	reply ReplyFunc
}

// Dispatcher runs commands one at a time, in submission order, on a single
// worker goroutine. Handlers never run concurrently, so the objects they
// touch need no locking of their own.
//
// Thread safety: Submit and Close are safe for concurrent use.
type Dispatcher struct {
	resolver Resolver
	logger   atomic.Pointer[slog.Logger]

	mu     sync.Mutex
	queue  []entry
	closed bool

	// wake has capacity 1; a pending signal means the queue may be non-empty.
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	processed atomic.Uint64
}

// NewDispatcher starts a dispatcher over r.
func NewDispatcher(r Resolver, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		resolver: r,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	d.SetLogger(logger)
	d.wg.Add(1)
	go d.worker()
	return d
}

// SetLogger replaces the logger. A nil logger discards output.
func (d *Dispatcher) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.logger.Store(l)
}

// Submit enqueues cmd. Reply, if non-nil, receives exactly one result.
func (d *Dispatcher) Submit(cmd Command, reply ReplyFunc) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.queue = append(d.queue, entry{cmd: cmd, reply: reply})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush is a no-op: the dispatcher never holds commands back.
func (d *Dispatcher) Flush() {}

// Do submits cmd and waits for its result. Cancelling ctx stops the wait
// only; the command still runs.
func Do(ctx context.Context, s Submitter, cmd Command) (Result, error) {
	ch := make(chan Result, 1)
	if err := s.Submit(cmd, func(r Result) { ch <- r }); err != nil {
		return Result{}, err
	}
	s.Flush()
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Processed returns the number of commands executed so far.
func (d *Dispatcher) Processed() uint64 { return d.processed.Load() }

// Pending returns the number of queued commands.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting commands, runs the ones already queued and stops
// the worker. Close is safe to call multiple times.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		if e, ok := d.next(); ok {
			d.run(e)
			continue
		}
		select {
		case <-d.wake:
		case <-d.done:
			for {
				e, ok := d.next()
				if !ok {
					return
				}
				d.run(e)
			}
		}
	}
}

func (d *Dispatcher) next() (entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return entry{}, false
	}
	e := d.queue[0]
	d.queue[0] = entry{}
	d.queue = d.queue[1:]
	if len(d.queue) == 0 {
		d.queue = nil
	}
	return e, true
}

func (d *Dispatcher) run(e entry) {
	cmd := e.cmd
	res := Result{Seq: cmd.Seq, Opcode: cmd.Opcode(), Handle: cmd.Handle}
	res.Value, res.Err = d.execute(cmd)
	if res.Err != nil {
		res.Value = nil
		res.Err = imgerr.WithHandle(res.Err, string(cmd.Handle))
		d.logger.Load().Debug("dispatch: command failed",
			"op", res.Opcode, "handle", cmd.Handle, "seq", cmd.Seq, "err", res.Err)
	}
	d.processed.Add(1)
	if e.reply != nil {
		e.reply(res)
	}
}

func (d *Dispatcher) execute(cmd Command) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Load().Error("dispatch: handler panic",
				"op", cmd.Opcode(), "handle", cmd.Handle, "panic", p, "stack", string(debug.Stack()))
			v, err = nil, imgerr.New(imgerr.CodeUnreachable, cmd.Opcode().String(), "handler panic: %v", p)
		}
	}()

	if cmd.Payload == nil {
		return nil, imgerr.New(imgerr.CodeInvalidOpcode, "Dispatch", "command without payload")
	}
	h, err := d.resolver.Resolve(cmd.Handle)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeInvalidHandle, cmd.Opcode().String(), err)
	}
	return h.Handle(cmd)
}
