// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package dispatch

import (
	"image"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/options"
	"github.com/gogpu/gimage/resource"
)

// Payload is the opcode-specific part of a command. The set of payloads is
// closed: only types in this package implement it.
type Payload interface {
	Opcode() Opcode
	payload()
}

// Hint tells the queueing middleware how a command may be scheduled.
type Hint struct {
	// CanQueue allows the command to be buffered. Commands whose result
	// the caller waits on must not set it.
	CanQueue bool
}

// Command is one unit of work for a dispatcher.
type Command struct {
	// Handle is the target object. The empty handle targets the runtime.
	Handle  handle.Handle
	Seq     uint64
	Payload Payload
	Hint    Hint
}

// Opcode returns the payload's opcode, or OpInvalid without a payload.
func (c Command) Opcode() Opcode {
	if c.Payload == nil {
		return OpInvalid
	}
	return c.Payload.Opcode()
}

// Result is the outcome of a command. Exactly one of Value and Err is
// meaningful; Value may be nil for commands that return nothing.
type Result struct {
	Seq    uint64
	Opcode Opcode
	Handle handle.Handle
	Value  any
	Err    error
}

// HasPayload reports whether the result carries a value or an error.
func (r Result) HasPayload() bool { return r.Value != nil || r.Err != nil }

// Backends selects the backends of a new engine. Instances take precedence
// over names; an empty name selects the default backend.
type Backends struct {
	RasterName string
	GPUName    string
	Raster     backend.Raster
	GPU        backend.GPU
	Codec      backend.Codec
}

// Create creates an engine. It targets the runtime.
type Create struct {
	NewHandle handle.Handle
	Name      string
	Options   options.ExecutionOptions
	Backends  Backends
}

// CreateImage creates an image. It targets an engine.
type CreateImage struct {
	NewHandle handle.Handle
	Name      string
	Width     int
	Height    int
	Options   options.ImageOptions
}

// CreateShader compiles a program. It targets an engine.
type CreateShader struct {
	NewHandle handle.Handle
	Name      string
	Source    backend.ProgramSource
}

// Dispose disposes the target and everything it owns.
type Dispose struct{}

// BeginExecution starts a batch. The optimizer does not run until the
// next ExecutionBarrier.
type BeginExecution struct{}

// ExecutionBarrier ends a batch, runs the optimizer and, in debug mode,
// reports collected GPU errors.
type ExecutionBarrier struct{}

// FillSolid fills an image with one color.
type FillSolid struct {
	Color backend.Color
}

// GetPixel reads one pixel. The value is a backend.Color.
type GetPixel struct {
	X, Y int
}

// SetPixel writes one pixel.
type SetPixel struct {
	X, Y  int
	Color backend.Color
}

// LoadPixelData replaces the image content with raw pixels. Pixels whose
// size differs from the image are rejected unless AllowRescale is set.
type LoadPixelData struct {
	Pixels       *image.NRGBA
	AllowRescale bool
}

// LoadEncoded replaces the image content with a decoded image.
type LoadEncoded struct {
	Data         []byte
	AllowRescale bool
}

// CopyFrom copies SrcRect of Source into DstRect of the target, scaling as
// needed. Empty rectangles mean the whole image.
type CopyFrom struct {
	Source  handle.Handle
	SrcRect image.Rectangle
	DstRect image.Rectangle
}

// Execute runs a shader into DstRect of the target.
type Execute struct {
	Shader  handle.Handle
	DstRect image.Rectangle
}

// ExportPixels reads Rect of an image. The value is an *image.NRGBA.
type ExportPixels struct {
	Rect image.Rectangle
}

// ExportEncoded encodes an image. The value is a []byte.
type ExportEncoded struct {
	Format  string
	Quality int
}

// SetOptions changes image options. Set fields override the image's
// current options.
type SetOptions struct {
	Options options.ImageOptions
}

// ReleaseResources drops cached representations.
type ReleaseResources struct {
	Flags resource.ReleaseFlags
}

// SetExecutionOptions replaces the options of an engine.
type SetExecutionOptions struct {
	Options options.ExecutionOptions
}

// SetUniforms sets shader uniforms and, when Inputs is non-nil, the images
// the shader samples.
type SetUniforms struct {
	Uniforms backend.Uniforms
	Inputs   []handle.Handle
}

// GetResourceUsage reports engine resource usage. The value is a
// resource.Report.
type GetResourceUsage struct{}

func (Create) Opcode() Opcode              { return OpCreate }
func (CreateImage) Opcode() Opcode         { return OpCreateImage }
func (CreateShader) Opcode() Opcode        { return OpCreateShader }
func (Dispose) Opcode() Opcode             { return OpDispose }
func (BeginExecution) Opcode() Opcode      { return OpBeginExecution }
func (ExecutionBarrier) Opcode() Opcode    { return OpExecutionBarrier }
func (FillSolid) Opcode() Opcode           { return OpImageFillSolid }
func (GetPixel) Opcode() Opcode            { return OpImageGetPixel }
func (SetPixel) Opcode() Opcode            { return OpImageSetPixel }
func (LoadPixelData) Opcode() Opcode       { return OpImageLoadPixelData }
func (LoadEncoded) Opcode() Opcode         { return OpImageLoadEncoded }
func (CopyFrom) Opcode() Opcode            { return OpImageCopyFrom }
func (Execute) Opcode() Opcode             { return OpImageExecute }
func (ExportPixels) Opcode() Opcode        { return OpImageExportPixels }
func (ExportEncoded) Opcode() Opcode       { return OpImageExportEncoded }
func (SetOptions) Opcode() Opcode          { return OpImageSetOptions }
func (ReleaseResources) Opcode() Opcode    { return OpReleaseResources }
func (SetExecutionOptions) Opcode() Opcode { return OpSetExecutionOptions }
func (SetUniforms) Opcode() Opcode         { return OpShaderSetUniforms }
func (GetResourceUsage) Opcode() Opcode    { return OpGetResourceUsage }

func (Create) payload()              {}
func (CreateImage) payload()         {}
func (CreateShader) payload()        {}
func (Dispose) payload()             {}
func (BeginExecution) payload()      {}
func (ExecutionBarrier) payload()    {}
func (FillSolid) payload()           {}
func (GetPixel) payload()            {}
func (SetPixel) payload()            {}
func (LoadPixelData) payload()       {}
func (LoadEncoded) payload()         {}
func (CopyFrom) payload()            {}
func (Execute) payload()             {}
func (ExportPixels) payload()        {}
func (ExportEncoded) payload()       {}
func (SetOptions) payload()          {}
func (ReleaseResources) payload()    {}
func (SetExecutionOptions) payload() {}
func (SetUniforms) payload()         {}
func (GetResourceUsage) payload()    {}

// Unhandled returns the error for a payload a handler does not accept.
func Unhandled(h handle.Handle, op Opcode) error {
	err := imgerr.New(imgerr.CodeInvalidOpcode, op.String(), "%s does not handle %s", h.Type(), op)
	err.Handle = string(h)
	return err
}
