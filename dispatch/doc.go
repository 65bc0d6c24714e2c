// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package dispatch sequences engine commands.
//
// A Command carries a target handle, a sequence number and one Payload from
// a closed set. The Dispatcher executes commands one at a time on a single
// worker goroutine and reports exactly one Result per command, in
// submission order. A Batcher may sit in front of it to buffer commands
// marked CanQueue until a command that needs an answer arrives.
package dispatch
