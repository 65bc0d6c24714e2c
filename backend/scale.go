package backend

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
)

// Interpolator returns the x/image/draw scaler for a filter mode.
func Interpolator(filter gputypes.FilterMode) draw.Interpolator {
	if filter == gputypes.FilterModeLinear {
		return draw.BiLinear
	}
	return draw.NearestNeighbor
}

// Scale replaces dr of dst with sr of src, resampling with filter when the
// sizes differ. An empty sr means the whole of src.
func Scale(dst *image.NRGBA, dr image.Rectangle, src image.Image, sr image.Rectangle, filter gputypes.FilterMode) {
	if sr.Empty() {
		sr = src.Bounds()
	}
	if dr.Empty() || sr.Empty() {
		return
	}
	if dr.Size() == sr.Size() {
		draw.Draw(dst, dr, src, sr.Min, draw.Src)
		return
	}
	Interpolator(filter).Scale(dst, dr, src, sr, draw.Src, nil)
}

// Whole returns r, or the full w×h rectangle when r is empty.
func Whole(r image.Rectangle, w, h int) image.Rectangle {
	if r.Empty() {
		return image.Rect(0, 0, w, h)
	}
	return r
}

// CheckRect fails with ErrOutOfBounds unless r lies within w×h.
func CheckRect(r image.Rectangle, w, h int) error {
	if !r.In(image.Rect(0, 0, w, h)) {
		return fmt.Errorf("%w: %v outside %dx%d", ErrOutOfBounds, r, w, h)
	}
	return nil
}
