// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package handle implements the path-like object identifiers used to address
// engines, images and shaders across the command pipeline.
//
// A handle segment has the form <objectType>.<counter>[.<name>]. Segments are
// joined with '/' from the root object down to the leaf:
//
//	Engine.3/Image.7.MyPhoto
//
// Counters come from an explicit Allocator rather than a process-wide
// variable, so independent runtimes (and tests) never share state.
package handle

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// Separator joins segments of a handle path.
const Separator = "/"

// Handle is a full handle path. The zero value is the empty handle.
type Handle string

// Allocator hands out handles with a monotonically increasing counter.
// It is safe for concurrent use.
type Allocator struct {
	next atomic.Uint64
}

// NewAllocator returns an allocator whose first counter value is 1.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// New allocates a handle for a new object of objType under parent.
// Name is optional and is appended to the segment verbatim, with '/' and
// '.' replaced to keep the path parseable.
func (a *Allocator) New(parent Handle, objType, name string) Handle {
	n := a.next.Add(1)
	seg := objType + "." + strconv.FormatUint(n, 10)
	if name != "" {
		seg += "." + sanitize(name)
	}
	if parent == "" {
		return Handle(seg)
	}
	return Handle(string(parent) + Separator + seg)
}

func sanitize(name string) string {
	return strings.NewReplacer(Separator, "_", ".", "_").Replace(name)
}

// String implements fmt.Stringer.
func (h Handle) String() string { return string(h) }

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool { return h == "" }

// Segments returns every segment from root to leaf.
func (h Handle) Segments() []string {
	if h == "" {
		return nil
	}
	return strings.Split(string(h), Separator)
}

// Depth returns the number of segments.
func (h Handle) Depth() int {
	if h == "" {
		return 0
	}
	return strings.Count(string(h), Separator) + 1
}

// Short returns the leaf segment.
func (h Handle) Short() string {
	s := string(h)
	if i := strings.LastIndex(s, Separator); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Segment returns the segment at position i. Negative positions count from
// the leaf, so Segment(-1) equals Short().
func (h Handle) Segment(i int) (string, bool) {
	segs := h.Segments()
	if i < 0 {
		i += len(segs)
	}
	if i < 0 || i >= len(segs) {
		return "", false
	}
	return segs[i], true
}

// Parent returns the handle of the parent object, or the empty handle for a
// root object.
func (h Handle) Parent() Handle {
	s := string(h)
	if i := strings.LastIndex(s, Separator); i >= 0 {
		return Handle(s[:i])
	}
	return ""
}

// Root returns the handle of the root object.
func (h Handle) Root() Handle {
	s := string(h)
	if i := strings.Index(s, Separator); i >= 0 {
		return Handle(s[:i])
	}
	return h
}

// Child returns the segment immediately following the segment equal to seg.
func (h Handle) Child(seg string) (string, bool) {
	segs := h.Segments()
	for i := 0; i < len(segs)-1; i++ {
		if segs[i] == seg {
			return segs[i+1], true
		}
	}
	return "", false
}

// Ancestor returns the path prefix ending at the nearest segment of
// objType, which may be h itself.
func (h Handle) Ancestor(objType string) (Handle, bool) {
	segs := h.Segments()
	for i := len(segs) - 1; i >= 0; i-- {
		if SegmentType(segs[i]) == objType {
			return Handle(strings.Join(segs[:i+1], Separator)), true
		}
	}
	return "", false
}

// Type returns the object type of the leaf segment.
func (h Handle) Type() string { return SegmentType(h.Short()) }

// Name returns the optional name of the leaf segment.
func (h Handle) Name() string {
	parts := strings.SplitN(h.Short(), ".", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Counter returns the numeric counter of the leaf segment.
func (h Handle) Counter() (uint64, bool) {
	parts := strings.SplitN(h.Short(), ".", 3)
	if len(parts) < 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(parts[1], 10, 64)
	return n, err == nil
}

// SegmentType returns the object type portion of a single segment.
func SegmentType(seg string) string {
	if i := strings.IndexByte(seg, '.'); i >= 0 {
		return seg[:i]
	}
	return seg
}
