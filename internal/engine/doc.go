// Package engine executes dispatcher commands against engines, images and
// shaders.
//
// Every object lives in a Host arena keyed by handle. Parent and engine
// relations are handle lookups, and disposing an object removes it and its
// dependents from the arena, leaving a tombstone so later commands fail
// with ObjectDisposed.
//
// An Image keeps its content in up to three representations: a fill color,
// a raster surface and a GPU texture. Operations that overwrite the whole
// image allocate the representation they write; operations on part of the
// image populate it first from whichever representation is current.
//
// All methods run on the dispatcher goroutine and do no locking.
package engine
