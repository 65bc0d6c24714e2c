package parallel

import "image"

// MinRows is the smallest band Rows hands to a worker.
const MinRows = 16

// Bands splits r into at most n horizontal bands of at least minRows rows
// each. The bands cover r exactly, in order.
func Bands(r image.Rectangle, n, minRows int) []image.Rectangle {
	if r.Empty() {
		return nil
	}
	minRows = max(minRows, 1)
	n = max(min(n, r.Dy()/minRows), 1)

	bands := make([]image.Rectangle, 0, n)
	h := r.Dy()
	y := r.Min.Y
	for i := range n {
		rows := h / n
		if i < h%n {
			rows++
		}
		bands = append(bands, image.Rect(r.Min.X, y, r.Max.X, y+rows))
		y += rows
	}
	return bands
}

// Rows calls fn once per band of r on the default pool and waits. fn must
// only touch pixels inside its band.
func Rows(r image.Rectangle, fn func(band image.Rectangle)) {
	p := Default()
	bands := Bands(r, p.Workers()*2, MinRows)
	work := make([]func(), len(bands))
	for i, b := range bands {
		work[i] = func() { fn(b) }
	}
	p.ExecuteAll(work)
}
