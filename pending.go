package gimage

import (
	"context"
	"sync"
)

// Pending is the outcome of a command submitted without waiting.
type Pending struct {
	rt   *Runtime
	done chan struct{}
	once sync.Once
	err  error
}

func newPending(rt *Runtime) *Pending {
	return &Pending{rt: rt, done: make(chan struct{})}
}

func (p *Pending) complete(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Done returns a channel closed once the command has run. With batching
// the command may not run until Wait, a synchronous call or Runtime.Flush.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait flushes held-back commands and waits for the command to run. It
// returns the command's error, or ctx's error if ctx ends first; the
// command still runs in that case.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	default:
	}
	p.rt.Flush()
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
