package backend

import (
	"errors"
	"image"
	"io"

	"github.com/gogpu/gputypes"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrDisposed is returned when a disposed surface or texture is used.
	ErrDisposed = errors.New("backend: resource disposed")

	// ErrOutOfBounds is returned for coordinates or rectangles outside a resource.
	ErrOutOfBounds = errors.New("backend: out of bounds")

	// ErrFormatUnsupported is returned when a texture format is not available.
	ErrFormatUnsupported = errors.New("backend: texture format unsupported")

	// ErrContextLost is returned by GPU operations after the device was lost.
	ErrContextLost = errors.New("backend: GPU context lost")
)

// Color is a straight-alpha RGBA color with components in [0, 1].
type Color = gputypes.Color

// Raster creates CPU surfaces.
type Raster interface {
	// Name returns the backend identifier (e.g., "software").
	Name() string

	// NewSurface creates a w×h surface with undefined content.
	NewSurface(w, h int) (Surface, error)
}

// Surface is a CPU raster surface.
//
// Rectangles are in surface pixels. An empty rectangle means the whole
// surface.
type Surface interface {
	Width() int
	Height() int

	// Fill sets every pixel in r to c.
	Fill(c Color, r image.Rectangle) error

	// Pixel returns the color at (x, y).
	Pixel(x, y int) (Color, error)

	// SetPixel sets the color at (x, y).
	SetPixel(x, y int, c Color) error

	// ReadPixels returns a copy of r, with its origin at (0, 0).
	ReadPixels(r image.Rectangle) (*image.NRGBA, error)

	// WritePixels scales src into dst using filter.
	WritePixels(dst image.Rectangle, src image.Image, filter gputypes.FilterMode) error

	// Draw scales srcRect of src into dst using filter. src may be a surface
	// of another backend.
	Draw(dst image.Rectangle, src Surface, srcRect image.Rectangle, filter gputypes.FilterMode) error

	// Dispose releases the surface. Further calls fail with ErrDisposed.
	Dispose()
}

// Capabilities describes the limits of a GPU backend.
type Capabilities struct {
	// MaxTextureSize is the largest texture edge a read-only texture may have.
	MaxTextureSize int

	// MaxRenderBufferSize is the largest edge of a texture that is rendered
	// into, and the largest tile that can be read back at once.
	MaxRenderBufferSize int

	// Formats lists the texture formats the backend can allocate.
	Formats []gputypes.TextureFormat
}

// CapabilitiesFromLimits derives capabilities from device limits.
func CapabilitiesFromLimits(l gputypes.Limits, formats ...gputypes.TextureFormat) Capabilities {
	return Capabilities{
		MaxTextureSize:      int(l.MaxTextureDimension2D),
		MaxRenderBufferSize: int(l.MaxTextureDimension2D),
		Formats:             formats,
	}
}

// Supports reports whether format can be allocated.
func (c Capabilities) Supports(format gputypes.TextureFormat) bool {
	for _, f := range c.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Format gputypes.TextureFormat

	// ReadOnly textures are only sampled, never rendered into.
	ReadOnly bool

	// Opaque textures store alpha as 1 regardless of what is written.
	Opaque bool
}

// Texture is a GPU texture.
type Texture interface {
	Width() int
	Height() int
	Format() gputypes.TextureFormat

	// Fill clears the texture to c.
	Fill(c Color) error

	// Upload scales src into dst (texture pixels) using filter.
	Upload(dst image.Rectangle, src image.Image, filter gputypes.FilterMode) error

	// Read copies r back to the CPU through a render target. r must not
	// exceed MaxRenderBufferSize on either edge.
	Read(r image.Rectangle) (*image.NRGBA, error)

	// Dispose releases the texture.
	Dispose()
}

// Binding binds a texture to a program input.
type Binding struct {
	Texture Texture
	Filter  gputypes.FilterMode
}

// Program is a compiled GPU program.
type Program interface {
	// Source returns the program description it was created from.
	Source() ProgramSource

	// Dispose releases the program.
	Dispose()
}

// GPU creates textures and programs and runs programs.
type GPU interface {
	// Name returns the backend identifier (e.g., "softgpu", "wgpu").
	Name() string

	// Capabilities returns the device limits.
	Capabilities() Capabilities

	// NewTexture creates a texture with undefined content.
	NewTexture(desc TextureDescriptor) (Texture, error)

	// NewProgram compiles a program.
	NewProgram(src ProgramSource) (Program, error)

	// Run executes p for every pixel of dstRect in dst.
	Run(p Program, dst Texture, dstRect image.Rectangle, inputs []Binding, uniforms Uniforms) error

	// Errors returns and clears the errors recorded since the last call.
	Errors() []error

	// ContextLost reports whether the device was lost. All textures and
	// programs created before the loss are invalid.
	ContextLost() bool

	// Restore reacquires a lost device.
	Restore() error

	// Close releases the backend.
	Close()
}

// Codec encodes and decodes images.
type Codec interface {
	// Decode reads an image and returns it with its format name.
	Decode(r io.Reader) (image.Image, string, error)

	// Encode writes img in format. Quality applies to lossy formats.
	Encode(w io.Writer, img image.Image, format string, quality int) error
}
