// Package gimage provides an image engine that keeps each image in whichever
// of three forms the last operation produced: a solid fill color, a CPU
// raster surface or a GPU texture.
//
// # Overview
//
// An image's content is authoritative in exactly one representation after a
// write. Other representations are materialized lazily when an operation
// needs them and stay valid until the next write, so reading a filled image
// allocates nothing and exporting it twice allocates one surface. Surfaces
// and textures are downscaled when the image exceeds device or configured
// limits, and an optimizer releases stale representations when memory runs
// short.
//
// # Quick Start
//
//	import "github.com/gogpu/gimage"
//
//	eng, err := gimage.NewEngine(ctx)
//	if err != nil {
//	    return err
//	}
//	defer eng.Dispose(ctx)
//
//	img, _ := eng.CreateImage(ctx, "photo", 800, 600, gimage.ImageOptions{})
//	img.FillSolid(ctx, gimage.Color{B: 1, A: 1})
//	png, _ := img.ExportEncoded(ctx, "png", 0)
//
// # Architecture
//
// The library is organized into:
//   - Public API: Runtime, Engine, Image, Shader, Pending
//   - dispatch: commands, the single-goroutine Dispatcher and the Batcher
//   - internal/engine: the object arena, representation cache and optimizers
//   - backend: raster, GPU and codec interfaces with software, softgpu and
//     wgpu implementations
//   - downscale, resource, imgerr, handle: calculators, accounting, errors
//     and identifiers
//
// # Errors
//
// Operations return *imgerr.Error values. Use errors.Is with the imgerr
// sentinels, and imgerr.KindOf(err).Recoverable to decide whether releasing
// resources and retrying can help.
package gimage

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
