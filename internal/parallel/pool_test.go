package parallel

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolExecuteAll(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	if p.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", p.Workers())
	}

	var count atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { count.Add(1) }
	}
	p.ExecuteAll(work)
	if got := count.Load(); got != 100 {
		t.Errorf("executed %d items, want 100", got)
	}
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	p := NewWorkerPool(0)
	defer p.Close()
	if p.Workers() < 1 {
		t.Errorf("Workers() = %d, want >= 1", p.Workers())
	}
}

func TestWorkerPoolConcurrentCallers(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Close()

	var count atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work := make([]func(), 20)
			for i := range work {
				work[i] = func() { count.Add(1) }
			}
			p.ExecuteAll(work)
		}()
	}
	wg.Wait()
	if got := count.Load(); got != 160 {
		t.Errorf("executed %d items, want 160", got)
	}
}

func TestWorkerPoolClosed(t *testing.T) {
	p := NewWorkerPool(2)
	p.Close()
	p.Close()
	if p.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}

	ran := 0
	p.ExecuteAll([]func(){func() { ran++ }, func() { ran++ }})
	if ran != 2 {
		t.Errorf("closed pool ran %d items, want 2", ran)
	}
}

func TestBands(t *testing.T) {
	tests := []struct {
		name    string
		r       image.Rectangle
		n, min  int
		want    int
		firstDy int
	}{
		{"empty", image.Rectangle{}, 4, 16, 0, 0},
		{"small", image.Rect(0, 0, 10, 10), 4, 16, 1, 10},
		{"even", image.Rect(0, 0, 8, 64), 4, 16, 4, 16},
		{"uneven", image.Rect(0, 5, 8, 75), 4, 16, 4, 18},
		{"capped by rows", image.Rect(0, 0, 8, 40), 8, 16, 2, 20},
		{"zero min", image.Rect(0, 0, 1, 3), 8, 0, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bands := Bands(tt.r, tt.n, tt.min)
			if len(bands) != tt.want {
				t.Fatalf("len(Bands()) = %d, want %d", len(bands), tt.want)
			}
			if len(bands) == 0 {
				return
			}
			if got := bands[0].Dy(); got != tt.firstDy {
				t.Errorf("first band height = %d, want %d", got, tt.firstDy)
			}
			y := tt.r.Min.Y
			for _, b := range bands {
				if b.Min.Y != y || b.Min.X != tt.r.Min.X || b.Max.X != tt.r.Max.X {
					t.Errorf("band %v does not continue at y=%d", b, y)
				}
				y = b.Max.Y
			}
			if y != tt.r.Max.Y {
				t.Errorf("bands end at %d, want %d", y, tt.r.Max.Y)
			}
		})
	}
}

func TestRows(t *testing.T) {
	r := image.Rect(0, 3, 7, 203)
	var mu sync.Mutex
	seen := make(map[int]int)
	Rows(r, func(b image.Rectangle) {
		mu.Lock()
		defer mu.Unlock()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			seen[y]++
		}
	})
	for y := r.Min.Y; y < r.Max.Y; y++ {
		if seen[y] != 1 {
			t.Fatalf("row %d visited %d times, want 1", y, seen[y])
		}
	}
}
