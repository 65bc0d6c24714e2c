package resource

// RasterBytesPerPixel is the footprint of one raster pixel regardless of the
// image's configured depth.
const RasterBytesPerPixel = 4

// RasterBytes estimates the memory of a w×h raster surface.
func RasterBytes(w, h int) uint64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return uint64(w) * uint64(h) * RasterBytesPerPixel
}

// TextureBytes estimates the memory of a w×h GPU texture or GPU-backed
// surface at bitDepth bits per channel. The estimate is w*h*bitDepth/2,
// which equals the size of a four-channel texel at that depth.
func TextureBytes(w, h, bitDepth int) uint64 {
	if w <= 0 || h <= 0 || bitDepth <= 0 {
		return 0
	}
	return uint64(w) * uint64(h) * uint64(bitDepth) / 2
}
