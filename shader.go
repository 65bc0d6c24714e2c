package gimage

import (
	"context"

	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
)

// Shader is a GPU program run by Image.Execute.
type Shader struct {
	eng *Engine
	h   handle.Handle
}

// ID returns the shader's handle.
func (s *Shader) ID() handle.Handle { return s.h }

// SetUniforms merges u into the shader's uniforms.
func (s *Shader) SetUniforms(ctx context.Context, u Uniforms) error {
	_, err := s.eng.rt.call(ctx, s.h, dispatch.SetUniforms{Uniforms: u})
	return err
}

// SetImage binds inputs, in order, as the shader's input images.
func (s *Shader) SetImage(ctx context.Context, inputs ...*Image) error {
	hs := make([]handle.Handle, len(inputs))
	for i, img := range inputs {
		hs[i] = img.h
	}
	_, err := s.eng.rt.call(ctx, s.h, dispatch.SetUniforms{Inputs: hs})
	return err
}

// Dispose releases the program.
func (s *Shader) Dispose(ctx context.Context) error {
	_, err := s.eng.rt.call(ctx, s.h, dispatch.Dispose{})
	return err
}
