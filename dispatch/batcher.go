// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package dispatch

import "sync"

// DefaultMaxBatch is the number of buffered commands that forces a flush.
const DefaultMaxBatch = 64

// Batcher buffers commands marked CanQueue in front of another Submitter.
//
// A command without CanQueue, an explicit Flush, or a full buffer sends
// the buffered commands on in order. Results are held back the same way:
// a result without a value or error is kept until a result that has one,
// the result of a non-queueable command, or a Flush covering it arrives;
// then all held results are delivered in order. Neither execution order
// nor delivery order changes.
//
// Reply functions run with the result lock held and must not call back
// into the Batcher.
type Batcher struct {
	next     Submitter
	maxBatch int

	mu        sync.Mutex
	pending   []entry
	forwarded uint64
	batches   int

	resMu       sync.Mutex
	held        []held
	completed   uint64
	releaseMark uint64
}

type held struct {
	reply ReplyFunc
	res   Result
}

// NewBatcher wraps next. A maxBatch of 0 selects DefaultMaxBatch.
func NewBatcher(next Submitter, maxBatch int) *Batcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Batcher{next: next, maxBatch: maxBatch}
}

// Submit buffers or forwards cmd.
func (b *Batcher) Submit(cmd Command, reply ReplyFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cmd.Hint.CanQueue {
		b.pending = append(b.pending, entry{cmd: cmd, reply: reply})
		if len(b.pending) >= b.maxBatch {
			return b.flushLocked()
		}
		return nil
	}
	if err := b.flushLocked(); err != nil {
		return err
	}
	return b.forwardLocked(entry{cmd: cmd, reply: reply}, true)
}

// Flush sends buffered commands on and releases every result up to the
// last command forwarded so far.
func (b *Batcher) Flush() {
	b.mu.Lock()
	_ = b.flushLocked()
	mark := b.forwarded
	b.mu.Unlock()
	b.next.Flush()

	b.resMu.Lock()
	defer b.resMu.Unlock()
	if mark > b.releaseMark {
		b.releaseMark = mark
	}
	if b.completed >= mark {
		b.deliverLocked()
	}
}

// Buffered returns the number of commands waiting for a flush.
func (b *Batcher) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Batches returns the number of non-empty flushes so far.
func (b *Batcher) Batches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches
}

func (b *Batcher) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}
	b.batches++
	pending := b.pending
	b.pending = nil
	for i, e := range pending {
		if err := b.forwardLocked(e, false); err != nil {
			for _, rest := range pending[i+1:] {
				if rest.reply != nil {
					rest.reply(Result{Seq: rest.cmd.Seq, Opcode: rest.cmd.Opcode(), Handle: rest.cmd.Handle, Err: err})
				}
			}
			return err
		}
	}
	return nil
}

func (b *Batcher) forwardLocked(e entry, release bool) error {
	idx := b.forwarded
	err := b.next.Submit(e.cmd, func(r Result) { b.receive(e.reply, r, idx, release) })
	if err != nil {
		if e.reply != nil {
			e.reply(Result{Seq: e.cmd.Seq, Opcode: e.cmd.Opcode(), Handle: e.cmd.Handle, Err: err})
		}
		return err
	}
	b.forwarded++
	return nil
}

func (b *Batcher) receive(reply ReplyFunc, r Result, idx uint64, release bool) {
	b.resMu.Lock()
	defer b.resMu.Unlock()
	b.completed++
	b.held = append(b.held, held{reply: reply, res: r})
	if release || r.HasPayload() || idx < b.releaseMark {
		b.deliverLocked()
	}
}

func (b *Batcher) deliverLocked() {
	out := b.held
	b.held = nil
	for _, h := range out {
		if h.reply != nil {
			h.reply(h.res)
		}
	}
}
