// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package imgerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind uint8

const (
	// KindInternal is a bug in the engine, including unreachable-code assertions.
	KindInternal Kind = iota

	// KindUnsupported means a required GPU capability is absent.
	KindUnsupported

	// KindBackend wraps one or more low-level raster or GPU errors.
	KindBackend

	// KindProgrammer is a misuse of the API: bad parameters, bad handles,
	// operations on disposed or uninitialized objects.
	KindProgrammer

	// KindResourceExhausted is a memory limit hit or a lost GPU context.
	// Callers may release resources and retry.
	KindResourceExhausted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "InternalError"
	case KindUnsupported:
		return "Unsupported"
	case KindBackend:
		return "BackendError"
	case KindProgrammer:
		return "ProgrammerError"
	case KindResourceExhausted:
		return "ResourceExhausted"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Recoverable reports whether retrying after releasing resources can succeed.
func (k Kind) Recoverable() bool {
	return k == KindResourceExhausted
}

// Code is the specific failure within a Kind.
type Code uint16

// Error codes. The order within the backend group defines severity for
// Collapse: higher values are more severe.
const (
	CodeUnknown Code = iota

	// Programmer errors.
	CodeInvalidParameter
	CodeInvalidHandle
	CodeInvalidDimensions
	CodeInvalidOpcode
	CodeObjectDisposed
	CodeImageUninitialized
	CodeReadOnly

	// Resource exhaustion.
	CodeOutOfRasterMemory
	CodeOutOfGPUMemory
	CodeContextLost

	// Capability and internal failures.
	CodeUnsupported
	CodeUnreachable

	// Backend failures, least to most severe.
	CodeBackendWarning
	CodeBackendInvalidOperation
	CodeShaderCompile
	CodeBackendOutOfMemory
	CodeBackendFailure
)

var codeNames = map[Code]string{
	CodeUnknown:                 "Unknown",
	CodeInvalidParameter:        "InvalidParameter",
	CodeInvalidHandle:           "InvalidHandle",
	CodeInvalidDimensions:       "InvalidDimensions",
	CodeInvalidOpcode:           "InvalidOpcode",
	CodeObjectDisposed:          "ObjectDisposed",
	CodeImageUninitialized:      "ImageUninitialized",
	CodeReadOnly:                "ReadOnly",
	CodeOutOfRasterMemory:       "OutOfRasterMemory",
	CodeOutOfGPUMemory:          "OutOfGPUMemory",
	CodeContextLost:             "ContextLost",
	CodeUnsupported:             "Unsupported",
	CodeUnreachable:             "Unreachable",
	CodeBackendWarning:          "BackendWarning",
	CodeBackendInvalidOperation: "BackendInvalidOperation",
	CodeShaderCompile:           "ShaderCompile",
	CodeBackendOutOfMemory:      "BackendOutOfMemory",
	CodeBackendFailure:          "BackendFailure",
}

// String returns the code name.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", c)
}

// Kind returns the kind a code belongs to.
func (c Code) Kind() Kind {
	switch {
	case c >= CodeInvalidParameter && c <= CodeReadOnly:
		return KindProgrammer
	case c >= CodeOutOfRasterMemory && c <= CodeContextLost:
		return KindResourceExhausted
	case c == CodeUnsupported:
		return KindUnsupported
	case c >= CodeBackendWarning:
		return KindBackend
	default:
		return KindInternal
	}
}

// Error is the error type returned by every engine operation.
type Error struct {
	// Code identifies the failure. Kind is derived from it.
	Code Code

	// Op is the operation that failed (e.g. "FillSolid", "Reserve").
	Op string

	// Handle is the object the operation targeted, if any.
	Handle string

	// Err is the underlying cause, if any.
	Err error

	// Causes holds every member of a collapsed batch of backend errors.
	// The primary error is Causes[0] when non-empty; Err is then nil.
	Causes []error
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.Code.Kind() }

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gimage: ")
	b.WriteString(e.Kind().String())
	b.WriteByte('/')
	b.WriteString(e.Code.String())
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Handle != "" {
		b.WriteString(" [")
		b.WriteString(e.Handle)
		b.WriteByte(']')
	}
	switch {
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case len(e.Causes) > 0:
		b.WriteString(": ")
		b.WriteString(e.Causes[0].Error())
	}
	if len(e.Causes) > 1 {
		fmt.Fprintf(&b, " (+%d more)", len(e.Causes)-1)
	}
	return b.String()
}

// Unwrap exposes the cause and all collapsed members to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, len(e.Causes)+1)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return append(out, e.Causes...)
}

// Is matches another *Error by code, so sentinels compare equal to any
// error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for use with errors.Is.
var (
	ErrInvalidParameter   = &Error{Code: CodeInvalidParameter}
	ErrInvalidHandle      = &Error{Code: CodeInvalidHandle}
	ErrInvalidDimensions  = &Error{Code: CodeInvalidDimensions}
	ErrInvalidOpcode      = &Error{Code: CodeInvalidOpcode}
	ErrObjectDisposed     = &Error{Code: CodeObjectDisposed}
	ErrImageUninitialized = &Error{Code: CodeImageUninitialized}
	ErrReadOnly           = &Error{Code: CodeReadOnly}
	ErrOutOfRasterMemory  = &Error{Code: CodeOutOfRasterMemory}
	ErrOutOfGPUMemory     = &Error{Code: CodeOutOfGPUMemory}
	ErrContextLost        = &Error{Code: CodeContextLost}
	ErrUnsupported        = &Error{Code: CodeUnsupported}
	ErrUnreachable        = &Error{Code: CodeUnreachable}
)

// New returns an error with the given code and a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Code: code, Op: op, Err: cause}
}

// Wrap returns err annotated with code and op. An err that is already an
// *Error keeps its own code; only missing Op is filled in.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	return &Error{Code: code, Op: op, Err: err}
}

// WithHandle sets the handle on err if it is an *Error without one.
func WithHandle(err error, h string) error {
	var e *Error
	if errors.As(err, &e) && e.Handle == "" {
		e.Handle = h
	}
	return err
}

// CodeOf returns the code of err, or CodeUnknown if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf returns the kind of err. Errors that are not *Error are
// considered backend errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindBackend
}

// Disposed returns an ObjectDisposed error for handle.
func Disposed(op, handle string) *Error {
	return &Error{Code: CodeObjectDisposed, Op: op, Handle: handle}
}

// Unreachable returns an internal error for code paths that must not run.
func Unreachable(op, what string) *Error {
	return &Error{Code: CodeUnreachable, Op: op, Err: errors.New(what)}
}
