// Package ringbuf provides a fixed-size bar history window.
//
// Window keeps the most recent N bars of one instrument. Pushing into a full
// window overwrites the oldest bar. It is not safe for concurrent use; each
// strategy engine owns its own window.
package ringbuf

import "barsignal/internal/model"

// Window is an overwrite-oldest ring of bars.
// The backing array is a power of two so indexing is a bitwise mask.
type Window struct {
	buf  []model.Bar
	mask uint64
	size int // logical capacity requested by the caller

	head uint64 // total bars ever pushed

	evicted uint64
}

// New creates a window holding the last size bars. Minimum size is 1.
func New(size int) *Window {
	if size < 1 {
		size = 1
	}
	n := nextPow2(size)
	return &Window{
		buf:  make([]model.Bar, n),
		mask: uint64(n - 1),
		size: size,
	}
}

// Push appends a bar, dropping the oldest one when the window is full.
func (w *Window) Push(b model.Bar) {
	if w.Len() == w.size {
		w.evicted++
	}
	w.buf[w.head&w.mask] = b
	w.head++
}

// Len returns the number of bars currently held.
func (w *Window) Len() int {
	if w.head < uint64(w.size) {
		return int(w.head)
	}
	return w.size
}


// Total returns the number of bars pushed over the window's lifetime.
func (w *Window) Total() uint64 { return w.head }

// Evicted returns how many bars have been overwritten.
func (w *Window) Evicted() uint64 { return w.evicted }

// Back returns the bar n positions before the newest (0 = newest).
func (w *Window) Back(n int) (model.Bar, bool) {
	if n < 0 || n >= w.Len() {
		return model.Bar{}, false
	}
	return w.buf[(w.head-1-uint64(n))&w.mask], true
}

// Last returns the newest bar.
func (w *Window) Last() (model.Bar, bool) { return w.Back(0) }

// Bars returns a copy of the held bars, oldest first.
func (w *Window) Bars() []model.Bar {
	n := w.Len()
	out := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		out[i], _ = w.Back(n - 1 - i)
	}
	return out
}

// Volumes fills dst with the volumes of the n bars preceding the newest one,
// oldest first, and returns it. Returns nil if fewer than n+1 bars are held.
func (w *Window) Volumes(dst []float64, n int) []float64 {
	if n <= 0 || w.Len() < n+1 {
		return nil
	}
	dst = dst[:0]
	for i := n; i >= 1; i-- {
		b, _ := w.Back(i)
		dst = append(dst, b.Volume)
	}
	return dst
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
