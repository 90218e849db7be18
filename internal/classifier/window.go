package classifier

import "time"

type windowEntry[T any] struct {
	at  time.Time
	val T
}

// Window is a fixed-capacity ring of timestamped values. Entries older than
// the window width are discarded on every update; when the ring is full the
// oldest entry is overwritten.
//
// Window is not safe for concurrent use; the classifier lock guards it.
type Window[T any] struct {
	width time.Duration
	buf   []windowEntry[T]
	head  int // next write position
	count int
}

// NewWindow creates a window of the given width holding at most size entries.
func NewWindow[T any](width time.Duration, size int) *Window[T] {
	if size <= 0 {
		size = 256
	}
	return &Window[T]{width: width, buf: make([]windowEntry[T], size)}
}

// Add records v at time at and prunes stale entries relative to at.
func (w *Window[T]) Add(at time.Time, v T) {
	w.buf[w.head] = windowEntry[T]{at: at, val: v}
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
	w.Prune(at)
}

// Prune drops entries older than now minus the window width.
func (w *Window[T]) Prune(now time.Time) {
	cutoff := now.Add(-w.width)
	for w.count > 0 {
		tail := w.tail()
		if !w.buf[tail].at.Before(cutoff) {
			return
		}
		var zero windowEntry[T]
		w.buf[tail] = zero
		w.count--
	}
}

func (w *Window[T]) tail() int {
	return (w.head - w.count + len(w.buf)) % len(w.buf)
}

// Values returns the live values, oldest first.
func (w *Window[T]) Values() []T {
	out := make([]T, 0, w.count)
	start := w.tail()
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)].val)
	}
	return out
}

// Len returns the number of live entries.
func (w *Window[T]) Len() int { return w.count }

// Reset clears the window.
func (w *Window[T]) Reset() {
	clear(w.buf)
	w.head = 0
	w.count = 0
}

// Distinct counts distinct values in the window.
func Distinct[T comparable](w *Window[T]) int {
	seen := make(map[T]struct{}, w.count)
	for _, v := range w.Values() {
		seen[v] = struct{}{}
	}
	return len(seen)
}
