// Package window accumulates sensor samples into the fixed-length sliding
// window fed to the gesture classifier.
package window

import "github.com/MrWong99/signglove/pkg/sensor"

// DefaultSize is 50 Hz sampling times a 500 ms fusion window.
const DefaultSize = 25

// Builder is a fixed-capacity circular buffer of samples. It is owned by the
// sampling task and is not safe for concurrent use; consumers only ever see
// the independent copies returned by Add.
type Builder struct {
	buf    []sensor.Sample
	next   int
	primed bool
}

// New returns a builder holding size samples. size below 1 uses DefaultSize.
func New(size int) *Builder {
	if size < 1 {
		size = DefaultSize
	}
	return &Builder{buf: make([]sensor.Sample, size)}
}

// Add writes s over the oldest slot. Once the buffer has been filled at least
// once, Add returns a freshly allocated, oldest-first snapshot on every call;
// before that it returns (nil, false).
func (b *Builder) Add(s sensor.Sample) (sensor.Window, bool) {
	b.buf[b.next] = s
	b.next = (b.next + 1) % len(b.buf)
	if b.next == 0 {
		b.primed = true
	}
	if !b.primed {
		return nil, false
	}
	return b.snapshot(), true
}

// snapshot copies the ring starting at the oldest slot. After a write, the
// oldest sample sits at the write cursor.
func (b *Builder) snapshot() sensor.Window {
	w := make(sensor.Window, len(b.buf))
	n := copy(w, b.buf[b.next:])
	copy(w[n:], b.buf[:b.next])
	return w
}

// Primed reports whether a full window is available.
func (b *Builder) Primed() bool { return b.primed }

// Size returns the window length.
func (b *Builder) Size() int { return len(b.buf) }

// Reset discards all samples; the builder must be primed again.
func (b *Builder) Reset() {
	clear(b.buf)
	b.next = 0
	b.primed = false
}
