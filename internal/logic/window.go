package logic

// Window is a fixed-capacity FIFO of the most recent humidity samples.
// Not safe for concurrent use.
type Window struct {
	buf   []float64
	head  int // next write position
	count int
}

// NewWindow creates a window holding size samples. size must be at least 1.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]float64, size)}
}

// Push appends v, dropping the oldest sample once the window is full.
func (w *Window) Push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	return w.count
}

// Size returns the window capacity.
func (w *Window) Size() int {
	return len(w.buf)
}

// Full reports whether the window holds Size samples.
func (w *Window) Full() bool {
	return w.count == len(w.buf)
}

// Oldest returns the oldest sample, or 0 when empty.
func (w *Window) Oldest() float64 {
	if w.count == 0 {
		return 0
	}
	return w.buf[(w.head-w.count+len(w.buf))%len(w.buf)]
}

// Newest returns the most recent sample, or 0 when empty.
func (w *Window) Newest() float64 {
	if w.count == 0 {
		return 0
	}
	return w.buf[(w.head-1+len(w.buf))%len(w.buf)]
}

// Slope returns (newest-oldest)/size. ok is false until the window is full.
func (w *Window) Slope() (slope float64, ok bool) {
	if !w.Full() {
		return 0, false
	}
	return (w.Newest() - w.Oldest()) / float64(len(w.buf)), true
}

// Values returns the samples oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.count)
	start := (w.head - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
