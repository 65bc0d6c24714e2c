// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package dispatch

import "fmt"

// Opcode identifies a command.
type Opcode uint8

// Opcodes.
const (
	OpInvalid Opcode = iota
	OpCreate
	OpCreateImage
	OpCreateShader
	OpDispose
	OpExecutionBarrier
	OpBeginExecution
	OpImageFillSolid
	OpImageGetPixel
	OpImageSetPixel
	OpImageLoadPixelData
	OpImageLoadEncoded
	OpImageCopyFrom
	OpImageExecute
	OpImageExportPixels
	OpImageExportEncoded
	OpImageSetOptions
	OpReleaseResources
	OpSetExecutionOptions
	OpShaderSetUniforms
	OpGetResourceUsage

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpInvalid:             "Invalid",
	OpCreate:              "Create",
	OpCreateImage:         "CreateImage",
	OpCreateShader:        "CreateShader",
	OpDispose:             "Dispose",
	OpExecutionBarrier:    "ExecutionBarrier",
	OpBeginExecution:      "BeginExecution",
	OpImageFillSolid:      "ImageFillSolid",
	OpImageGetPixel:       "ImageGetPixel",
	OpImageSetPixel:       "ImageSetPixel",
	OpImageLoadPixelData:  "ImageLoadPixelData",
	OpImageLoadEncoded:    "ImageLoadEncoded",
	OpImageCopyFrom:       "ImageCopyFrom",
	OpImageExecute:        "ImageExecute",
	OpImageExportPixels:   "ImageExportPixels",
	OpImageExportEncoded:  "ImageExportEncoded",
	OpImageSetOptions:     "ImageSetOptions",
	OpReleaseResources:    "ReleaseResources",
	OpSetExecutionOptions: "SetExecutionOptions",
	OpShaderSetUniforms:   "ShaderSetUniforms",
	OpGetResourceUsage:    "GetResourceUsage",
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", op)
}
