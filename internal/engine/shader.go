package engine

import (
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gimage/backend"
	"github.com/gogpu/gimage/dispatch"
	"github.com/gogpu/gimage/handle"
	"github.com/gogpu/gimage/imgerr"
	"github.com/gogpu/gimage/resource"
)

// Shader is a GPU program with its uniforms and input images.
type Shader struct {
	h   handle.Handle
	eng *Engine
	src backend.ProgramSource

	// program is nil until compiled and again after a release or a
	// context loss.
	program backend.Program

	uniforms backend.Uniforms
	inputs   []handle.Handle
}

// ID returns the shader's handle.
func (s *Shader) ID() handle.Handle { return s.h }

// Handle implements dispatch.Handler.
func (s *Shader) Handle(cmd dispatch.Command) (any, error) {
	switch p := cmd.Payload.(type) {
	case dispatch.SetUniforms:
		return nil, s.setUniforms(p)
	case dispatch.ReleaseResources:
		if p.Flags.Any(resource.ReleaseGPUAll) {
			s.release()
		}
		return nil, nil
	case dispatch.Dispose:
		s.dispose()
		return nil, nil
	default:
		return nil, dispatch.Unhandled(cmd.Handle, cmd.Opcode())
	}
}

func (s *Shader) setUniforms(p dispatch.SetUniforms) error {
	const op = "SetUniforms"
	if p.Inputs != nil {
		for _, hd := range p.Inputs {
			if _, err := s.eng.image(hd, op); err != nil {
				return err
			}
		}
		s.inputs = append([]handle.Handle(nil), p.Inputs...)
	}
	if s.uniforms == nil {
		s.uniforms = make(backend.Uniforms, len(p.Uniforms))
	}
	for k, v := range p.Uniforms {
		s.uniforms[k] = append([]float32(nil), v...)
	}
	return nil
}

// compile creates the program if it does not exist.
func (s *Shader) compile(op string) error {
	if s.program != nil {
		return nil
	}
	e := s.eng
	if err := e.requireGPU(op); err != nil {
		return err
	}
	if err := e.reserve(op, resource.GPUShader, 0); err != nil {
		return err
	}
	p, err := e.gpu.NewProgram(s.src)
	if err != nil {
		e.tracker.Release(resource.GPUShader, 0)
		if ce := e.gpuError(op, err); imgerr.CodeOf(ce) == imgerr.CodeContextLost {
			return ce
		}
		return &imgerr.Error{Code: imgerr.CodeShaderCompile, Op: op, Handle: string(s.h), Err: err}
	}
	s.program = p
	return nil
}

func (s *Shader) release() {
	if s.program == nil {
		return
	}
	s.program.Dispose()
	s.program = nil
	s.eng.tracker.Release(resource.GPUShader, 0)
}

func (s *Shader) dispose() {
	s.release()
	s.eng.removeShader(s)
}

// copyKernel samples input 0, so running it over a texture copies the
// input into it.
func copyKernel(u, v float64, in backend.Inputs, _ backend.Uniforms) backend.Color {
	return in.Sample(0, u, v)
}

// copyTexture renders src into all of dst.
func (e *Engine) copyTexture(op string, dst, src backend.Texture, filter gputypes.FilterMode) error {
	if e.copyProgram == nil {
		if err := e.reserve(op, resource.GPUShader, 0); err != nil {
			return err
		}
		p, err := e.gpu.NewProgram(backend.ProgramSource{Label: "copy", Kernel: copyKernel})
		if err != nil {
			e.tracker.Release(resource.GPUShader, 0)
			return e.gpuError(op, err)
		}
		e.copyProgram = p
	}
	r := image.Rect(0, 0, dst.Width(), dst.Height())
	in := []backend.Binding{{Texture: src, Filter: filter}}
	return e.gpuError(op, e.gpu.Run(e.copyProgram, dst, r, in, nil))
}

func (e *Engine) releaseCopyProgram() {
	if e.copyProgram == nil {
		return
	}
	e.copyProgram.Dispose()
	e.copyProgram = nil
	e.tracker.Release(resource.GPUShader, 0)
}
