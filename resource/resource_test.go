package resource

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gimage/imgerr"
)

func TestReserveWithinLimit(t *testing.T) {
	tr := NewTracker(Limits{RasterBytes: 1000, GPUBytes: 2000})

	if err := tr.Reserve(RasterSurface, 600); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := tr.Reserve(RasterSurface, 400); err != nil {
		t.Fatalf("Reserve() up to the limit error = %v", err)
	}
	r := tr.Report()
	if got := r.Category(RasterSurface); got.Instances != 2 || got.RasterBytes != 1000 {
		t.Errorf("RasterSurface usage = %+v, want 2 instances / 1000 bytes", got)
	}
	if r.Total.GPUBytes != 0 {
		t.Errorf("Total.GPUBytes = %d, want 0", r.Total.GPUBytes)
	}
}

func TestReserveOverLimitDoesNotMutate(t *testing.T) {
	tests := []struct {
		name string
		cat  Category
		code imgerr.Code
	}{
		{"raster", RasterSurface, imgerr.CodeOutOfRasterMemory},
		{"gpu surface", GPUSurface, imgerr.CodeOutOfGPUMemory},
		{"texture", GPUTexture, imgerr.CodeOutOfGPUMemory},
		{"shader", GPUShader, imgerr.CodeOutOfGPUMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(Limits{RasterBytes: 100, GPUBytes: 100})
			if err := tr.Reserve(tt.cat, 60); err != nil {
				t.Fatalf("Reserve(60) error = %v", err)
			}
			before := tr.Report()

			err := tr.Reserve(tt.cat, 41)
			if got := imgerr.CodeOf(err); got != tt.code {
				t.Fatalf("Reserve(41) code = %v, want %v", got, tt.code)
			}
			if imgerr.KindOf(err) != imgerr.KindResourceExhausted {
				t.Errorf("KindOf() = %v, want ResourceExhausted", imgerr.KindOf(err))
			}
			if after := tr.Report(); after != before {
				t.Errorf("Report() changed after failed reservation: %+v -> %+v", before, after)
			}
		})
	}
}

func TestGPUCategoriesShareLimit(t *testing.T) {
	tr := NewTracker(Limits{GPUBytes: 100})
	if err := tr.Reserve(GPUTexture, 70); err != nil {
		t.Fatal(err)
	}
	if err := tr.Reserve(GPUSurface, 40); !errors.Is(err, imgerr.ErrOutOfGPUMemory) {
		t.Errorf("Reserve() error = %v, want OutOfGPUMemory", err)
	}
	if err := tr.Reserve(RasterSurface, 1<<30); err != nil {
		t.Errorf("raster is unbounded, Reserve() error = %v", err)
	}
}

func TestZeroLimitIsUnbounded(t *testing.T) {
	tr := NewTracker(Limits{})
	for i := 0; i < 10; i++ {
		if err := tr.Reserve(GPUTexture, 1<<40); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
	}
	if _, bounded := tr.Available(GPUTexture); bounded {
		t.Error("Available() reports bounded for zero limit")
	}
	if p := tr.Pressure(); p != 0 {
		t.Errorf("Pressure() = %v, want 0", p)
	}
}

func TestRelease(t *testing.T) {
	tr := NewTracker(Limits{GPUBytes: 100})
	_ = tr.Reserve(GPUTexture, 80)
	tr.Release(GPUTexture, 80)

	if got := tr.Report().Total; got != (Usage{}) {
		t.Errorf("Total after release = %+v, want zero", got)
	}
	if err := tr.Reserve(GPUTexture, 100); err != nil {
		t.Errorf("Reserve() after release error = %v", err)
	}

	tr.Release(GPUShader, 50) // never reserved
	if got := tr.Report().Category(GPUShader); got != (Usage{}) {
		t.Errorf("GPUShader usage = %+v, want zero", got)
	}
}

func TestAvailableAndPressure(t *testing.T) {
	tr := NewTracker(Limits{RasterBytes: 200, GPUBytes: 100})
	_ = tr.Reserve(RasterSurface, 50)
	_ = tr.Reserve(GPUTexture, 80)

	if n, ok := tr.Available(RasterSurface); !ok || n != 150 {
		t.Errorf("Available(raster) = %d, %v, want 150, true", n, ok)
	}
	if got := tr.Pressure(); got != 0.8 {
		t.Errorf("Pressure() = %v, want 0.8", got)
	}
	if got := tr.PressureOf(RasterSurface); got != 0.25 {
		t.Errorf("PressureOf(raster) = %v, want 0.25", got)
	}
	if got := tr.PressureOf(GPUShader); got != 0.8 {
		t.Errorf("PressureOf(shader) = %v, want 0.8", got)
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker(Limits{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Reserve(RasterSurface, 4)
			tr.Release(RasterSurface, 4)
		}()
	}
	wg.Wait()
	if got := tr.Report().Total; got != (Usage{}) {
		t.Errorf("Total = %+v, want zero", got)
	}
}

func TestByteEstimates(t *testing.T) {
	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"raster 10x10", RasterBytes(10, 10), 400},
		{"raster empty", RasterBytes(0, 10), 0},
		{"texture 8-bit", TextureBytes(10, 10, 8), 400},
		{"texture 16-bit", TextureBytes(10, 10, 16), 800},
		{"texture 32-bit", TextureBytes(10, 10, 32), 1600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestReleaseFlags(t *testing.T) {
	if !ReleaseAll.Has(ReleaseGPUAll) || !ReleaseGPUAll.Has(ReleaseGPUTexture) {
		t.Error("ReleaseAll should imply both GPU categories")
	}
	if ReleaseGPUAll.Any(ReleaseRasterSurface) {
		t.Error("ReleaseGPUAll should not include the raster surface")
	}
	if got := ReleaseAll.String(); got != "RasterSurface|GPUTexture|GPUSurface" {
		t.Errorf("String() = %q", got)
	}
	if got := ReleaseFlags(0).String(); got != "None" {
		t.Errorf("String() = %q", got)
	}
}
