// Package backend defines the collaborators an image engine renders through:
// a raster backend that owns CPU surfaces, a GPU backend that owns textures
// and programs, and a codec for encoded images.
//
// # Backend Registration
//
// Backends register themselves from init() functions and are selected by
// name at engine creation. The software raster backend and the in-memory GPU
// backend are registered on import:
//
//	import _ "github.com/gogpu/gimage/backend/software"
//	import _ "github.com/gogpu/gimage/backend/softgpu"
//
// The wgpu backend is opt-in:
//
//	import _ "github.com/gogpu/gimage/backend/wgpu"
//
// # Backend Selection
//
// Use DefaultGPU() to get the best available GPU backend, or NewGPU() and
// NewRaster() to request one by name:
//
//	gpu, err := backend.DefaultGPU()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer gpu.Close()
//
// # Pixel Format
//
// Surfaces exchange pixels as non-premultiplied 8-bit RGBA (*image.NRGBA).
// Colors are gputypes.Color values with components in [0, 1].
//
// # Available Backends
//
//   - "software": raster surfaces over image.NRGBA (always available)
//   - "softgpu": in-memory GPU with configurable limits and fault injection
//   - "wgpu": textures on a gogpu/wgpu HAL device
package backend
