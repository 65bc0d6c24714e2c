package resource

import "strings"

// ReleaseFlags selects which representations ReleaseResources drops.
type ReleaseFlags uint8

// Release flags.
const (
	ReleaseRasterSurface ReleaseFlags = 1 << iota
	ReleaseGPUTexture
	ReleaseGPUSurface

	// ReleaseGPUAll drops every GPU-side resource.
	ReleaseGPUAll = ReleaseGPUTexture | ReleaseGPUSurface

	// ReleaseAll drops everything.
	ReleaseAll = ReleaseRasterSurface | ReleaseGPUAll
)

// Has reports whether every flag in x is set.
func (f ReleaseFlags) Has(x ReleaseFlags) bool { return f&x == x }

// Any reports whether some flag in x is set.
func (f ReleaseFlags) Any(x ReleaseFlags) bool { return f&x != 0 }

func (f ReleaseFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for _, n := range []struct {
		flag ReleaseFlags
		name string
	}{
		{ReleaseRasterSurface, "RasterSurface"},
		{ReleaseGPUTexture, "GPUTexture"},
		{ReleaseGPUSurface, "GPUSurface"},
	} {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
