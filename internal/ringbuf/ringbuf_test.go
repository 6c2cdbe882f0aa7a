package ringbuf

import (
	"testing"

	"barsignal/internal/model"
)

func TestWindow_PushAndBack(t *testing.T) {
	w := New(3)

	if _, ok := w.Last(); ok {
		t.Fatal("empty window should have no last bar")
	}

	w.Push(model.Bar{Close: 1})
	w.Push(model.Bar{Close: 2})

	if w.Len() != 2 {
		t.Fatalf("expected len=2, got %d", w.Len())
	}
	last, ok := w.Last()
	if !ok || last.Close != 2 {
		t.Fatalf("expected last close=2, got %v ok=%v", last.Close, ok)
	}
	prev, ok := w.Back(1)
	if !ok || prev.Close != 1 {
		t.Fatalf("expected prev close=1, got %v ok=%v", prev.Close, ok)
	}
	if _, ok := w.Back(2); ok {
		t.Fatal("Back(2) should fail with 2 bars held")
	}
}

func TestWindow_OverwritesOldest(t *testing.T) {
	w := New(3) // backing array rounds to 4, logical size stays 3

	for i := 1; i <= 5; i++ {
		w.Push(model.Bar{Close: float64(i)})
	}

	if w.Len() != 3 {
		t.Fatalf("expected len=3, got %d", w.Len())
	}
	if w.Evicted() != 2 {
		t.Fatalf("expected evicted=2, got %d", w.Evicted())
	}
	if w.Total() != 5 {
		t.Fatalf("expected total=5, got %d", w.Total())
	}

	bars := w.Bars()
	want := []float64{3, 4, 5}
	for i, b := range bars {
		if b.Close != want[i] {
			t.Errorf("bars[%d]: expected close=%v, got %v", i, want[i], b.Close)
		}
	}
}

func TestWindow_VolumesExcludeNewest(t *testing.T) {
	w := New(5)
	for i := 1; i <= 5; i++ {
		w.Push(model.Bar{Volume: float64(i * 10)})
	}

	vols := w.Volumes(nil, 3)
	want := []float64{20, 30, 40}
	if len(vols) != len(want) {
		t.Fatalf("expected %d volumes, got %d", len(want), len(vols))
	}
	for i := range want {
		if vols[i] != want[i] {
			t.Errorf("vols[%d]: expected %v, got %v", i, want[i], vols[i])
		}
	}

	if got := w.Volumes(nil, 5); got != nil {
		t.Errorf("expected nil when window too short, got %v", got)
	}
}

func TestWindow_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
