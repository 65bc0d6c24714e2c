// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package imgerr

// severity orders codes for Collapse. Backend codes rank by their value;
// non-backend codes rank above all backend codes, since they describe a
// state (lost context, exhausted memory) rather than a single failed call.
func severity(c Code) int {
	switch c.Kind() {
	case KindBackend:
		return int(c)
	case KindResourceExhausted:
		return 1000 + int(c)
	case KindInternal, KindUnsupported:
		return 2000 + int(c)
	default:
		return int(c)
	}
}

// Collapse consolidates several near-simultaneous errors into one.
// Nil entries are skipped. It returns nil for no errors and the error itself
// for exactly one. Otherwise the result is a backend *Error whose Code is
// the most severe member's code and whose Causes hold every member, most
// severe first. Err is left nil so each member unwraps once.
func Collapse(op string, errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return Wrap(CodeBackendFailure, op, kept[0])
	}

	primary := 0
	best := -1
	for i, err := range kept {
		c := CodeOf(err)
		if c == CodeUnknown {
			c = CodeBackendFailure
		}
		if s := severity(c); s > best {
			best = s
			primary = i
		}
	}

	causes := make([]error, 0, len(kept))
	causes = append(causes, kept[primary])
	for i, err := range kept {
		if i != primary {
			causes = append(causes, err)
		}
	}

	code := CodeOf(kept[primary])
	if code == CodeUnknown {
		code = CodeBackendFailure
	}
	return &Error{Code: code, Op: op, Causes: causes}
}
