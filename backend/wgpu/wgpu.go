// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/gimage/backend"
)

func init() {
	backend.RegisterGPU(backend.GPUWGPU, func() (backend.GPU, error) {
		return NewSoftware()
	})
}

// Backend errors.
var (
	// ErrNoAdapter is returned when the HAL exposes no adapter.
	ErrNoAdapter = errors.New("wgpu: no adapter available")

	// ErrNotHAL is returned when a device provider does not expose HAL types.
	ErrNotHAL = errors.New("wgpu: provider does not expose HAL device and queue")

	// ErrSharedDevice is returned when restoring a device owned by the host.
	ErrSharedDevice = errors.New("wgpu: cannot restore a shared device")
)

// textureFormat is the only format the backend allocates.
const textureFormat = gputypes.TextureFormatRGBA8Unorm

// copyPitch is the row alignment of buffer-texture copies on hardware HALs.
const copyPitch = 256

// Info describes the device a GPU runs on.
type Info struct {
	Name     string
	Software bool
}

// GPU is a backend.GPU on a HAL device.
//
// GPU is safe for concurrent use.
type GPU struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance // nil for shared devices
	info     Info
	caps     backend.Capabilities
	errs     []error
	lost     bool
	epoch    uint64
	logger   atomic.Pointer[slog.Logger]
}

// New creates a GPU on an open HAL device. The device stays owned by the
// caller.
func New(device hal.Device, queue hal.Queue, limits gputypes.Limits, info Info) (*GPU, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("wgpu: nil device or queue")
	}
	g := &GPU{
		device: device,
		queue:  queue,
		info:   info,
		caps:   backend.CapabilitiesFromLimits(limits, textureFormat),
	}
	g.logger.Store(slog.New(slog.DiscardHandler))
	return g, nil
}

// NewSoftware opens a device on the pure Go software HAL.
func NewSoftware() (*GPU, error) {
	instance, open, exposed, err := openSoftware()
	if err != nil {
		return nil, err
	}
	g, err := New(open.Device, open.Queue, exposed.Capabilities.Limits, Info{
		Name:     exposed.Info.Name,
		Software: exposed.Info.DeviceType == gputypes.DeviceTypeCPU,
	})
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	g.instance = instance
	return g, nil
}

func openSoftware() (hal.Instance, hal.OpenDevice, hal.ExposedAdapter, error) {
	instance, err := software.API{}.CreateInstance(nil)
	if err != nil {
		return nil, hal.OpenDevice{}, hal.ExposedAdapter{}, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, hal.OpenDevice{}, hal.ExposedAdapter{}, ErrNoAdapter
	}
	exposed := adapters[0]
	open, err := exposed.Adapter.Open(0, exposed.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, hal.OpenDevice{}, hal.ExposedAdapter{}, fmt.Errorf("wgpu: open device: %w", err)
	}
	return instance, open, exposed, nil
}

// NewFromProvider creates a GPU on the device of a host application. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*GPU, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrNotHAL, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrNotHAL, hp.HalQueue())
	}

	ai := provider.AdapterInfo()
	return New(device, queue, gputypes.DefaultLimits(), Info{
		Name:     ai.Name,
		Software: ai.Type == gpucontext.AdapterTypeSoftware,
	})
}

// SetLogger sets the logger used for device events.
func (g *GPU) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger.Store(l)
	}
}

// Name returns the backend identifier.
func (g *GPU) Name() string { return backend.GPUWGPU }

// Info returns the device description.
func (g *GPU) Info() Info { return g.info }

// Capabilities returns the device limits.
func (g *GPU) Capabilities() backend.Capabilities { return g.caps }

// recordLocked keeps err for Errors and detects device loss. It returns err.
// Caller must hold g.mu.
func (g *GPU) recordLocked(err error) error {
	if err == nil {
		return nil
	}
	g.errs = append(g.errs, err)
	if errors.Is(err, hal.ErrDeviceLost) && !g.lost {
		g.lost = true
		g.epoch++
		g.logger.Load().Warn("wgpu: device lost", "device", g.info.Name)
	}
	return err
}

// Errors returns and clears recorded errors.
func (g *GPU) Errors() []error {
	g.mu.Lock()
	defer g.mu.Unlock()
	errs := g.errs
	g.errs = nil
	return errs
}

// ContextLost reports whether the device was lost.
func (g *GPU) ContextLost() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lost
}

// Restore reopens a lost device. Only devices the GPU opened itself can be
// restored.
func (g *GPU) Restore() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lost {
		return nil
	}
	if g.instance == nil {
		return ErrSharedDevice
	}
	g.device.Destroy()
	g.instance.Destroy()

	instance, open, _, err := openSoftware()
	if err != nil {
		return err
	}
	g.instance, g.device, g.queue = instance, open.Device, open.Queue
	g.lost = false
	g.logger.Load().Info("wgpu: device restored", "device", g.info.Name)
	return nil
}

// Close releases the device if the GPU opened it.
func (g *GPU) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.instance == nil {
		return
	}
	if err := g.device.WaitIdle(); err != nil {
		g.logger.Load().Warn("wgpu: wait idle on close", "err", err)
	}
	g.device.Destroy()
	g.instance.Destroy()
	g.instance = nil
}

// NewTexture creates a texture.
func (g *GPU) NewTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	if desc.Format != textureFormat {
		return nil, fmt.Errorf("%w: %v", backend.ErrFormatUnsupported, desc.Format)
	}
	limit := g.caps.MaxRenderBufferSize
	if desc.ReadOnly {
		limit = g.caps.MaxTextureSize
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Width > limit || desc.Height > limit {
		return nil, fmt.Errorf("%w: texture %dx%d (limit %d)", backend.ErrOutOfBounds, desc.Width, desc.Height, limit)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lost {
		return nil, backend.ErrContextLost
	}

	usage := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding
	if !desc.ReadOnly {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	raw, err := g.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return nil, g.recordLocked(fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err))
	}
	return &Texture{gpu: g, raw: raw, desc: desc, epoch: g.epoch}, nil
}

// NewProgram creates a program. WGSL sources are compiled with naga.
func (g *GPU) NewProgram(src backend.ProgramSource) (backend.Program, error) {
	if src.Kernel == nil {
		return nil, backend.ErrNoKernel
	}
	var spirv []byte
	if src.WGSL != "" {
		var err error
		if spirv, err = backend.CompileWGSL(src.WGSL); err != nil {
			return nil, fmt.Errorf("wgpu: compile %q: %w", src.Label, err)
		}
	}
	return &Program{src: src, spirv: spirv}, nil
}

// Run evaluates p's kernel over dstRect of dst. Inputs and the destination
// are read back, the kernel runs on the host, and the result is uploaded.
func (g *GPU) Run(p backend.Program, dst backend.Texture, dstRect image.Rectangle, inputs []backend.Binding, uniforms backend.Uniforms) error {
	prog, ok := p.(*Program)
	if !ok || prog.disposed {
		return fmt.Errorf("wgpu: program %T is disposed or foreign", p)
	}
	out, err := g.own(dst)
	if err != nil {
		return err
	}
	dstRect = backend.Whole(dstRect, out.Width(), out.Height())
	if err := backend.CheckRect(dstRect, out.Width(), out.Height()); err != nil {
		return err
	}

	in := backend.ImageInputs{
		Images:  make([]*image.NRGBA, len(inputs)),
		Filters: make([]gputypes.FilterMode, len(inputs)),
	}
	for i, b := range inputs {
		t, err := g.own(b.Texture)
		if err != nil {
			return err
		}
		if in.Images[i], err = t.Read(image.Rectangle{}); err != nil {
			return err
		}
		in.Filters[i] = b.Filter
	}

	target, err := out.Read(image.Rectangle{})
	if err != nil {
		return err
	}
	backend.RunKernel(prog.src.Kernel, target, dstRect, in, uniforms, out.desc.Opaque)
	return out.write(dstRect, target.SubImage(dstRect).(*image.NRGBA))
}

func (g *GPU) own(t backend.Texture) (*Texture, error) {
	tex, ok := t.(*Texture)
	if !ok || tex.gpu != g {
		return nil, fmt.Errorf("wgpu: foreign texture %T", t)
	}
	return tex, nil
}

// Program is a host kernel with optional compiled SPIR-V.
type Program struct {
	src      backend.ProgramSource
	spirv    []byte
	disposed bool
}

// Source returns the program description.
func (p *Program) Source() backend.ProgramSource { return p.src }

// SPIRV returns the compiled WGSL, if any.
func (p *Program) SPIRV() []byte { return p.spirv }

// Dispose releases the program.
func (p *Program) Dispose() { p.disposed = true }
