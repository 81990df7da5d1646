// Package motion detects the shake gesture that asks the glove to speak the
// pending text.
package motion

import (
	"time"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// Config holds the detector parameters.
type Config struct {
	// Threshold is the angular-rate magnitude a sample must exceed.
	Threshold float64
	// Buffer is the number of recent magnitudes considered.
	Buffer int
	// Quorum is how many buffered samples must exceed Threshold.
	Quorum int
	// Cooldown is the minimum time between two triggers.
	Cooldown time.Duration
}

// DefaultConfig returns the glove's tuned defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 3.5,
		Buffer:    25,
		Quorum:    18,
		Cooldown:  1500 * time.Millisecond,
	}
}

// Magnitude returns the norm of an angular-rate vector.
func Magnitude(gyro sensor.Vec3) float64 { return gyro.Norm() }

// Trigger is a quorum detector over a ring of magnitudes. It is owned by one
// goroutine and is not safe for concurrent use.
type Trigger struct {
	cfg   Config
	ring  []float64
	next  int
	full  bool
	last  time.Time
	fired bool
	fires uint64
}

// New returns an empty detector.
func New(cfg Config) *Trigger {
	t := &Trigger{}
	t.SetConfig(cfg)
	return t
}

// SetConfig replaces the parameters. A change of buffer length empties the
// ring; the cooldown timer is kept.
func (t *Trigger) SetConfig(cfg Config) {
	if cfg.Buffer < 1 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if len(t.ring) != cfg.Buffer {
		t.ring = make([]float64, cfg.Buffer)
		t.next = 0
		t.full = false
	}
	t.cfg = cfg
}

// Config returns the current parameters.
func (t *Trigger) Config() Config { return t.cfg }

// Add records mag observed at now and reports whether the detector fires.
func (t *Trigger) Add(mag float64, now time.Time) bool {
	t.ring[t.next] = mag
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	if !t.full {
		return false
	}

	if t.Above() < t.cfg.Quorum {
		return false
	}
	if t.fired && now.Sub(t.last) <= t.cfg.Cooldown {
		return false
	}
	t.last = now
	t.fired = true
	t.fires++
	return true
}

// Above returns how many buffered magnitudes exceed the threshold.
func (t *Trigger) Above() int {
	n := 0
	for _, m := range t.ring {
		if m > t.cfg.Threshold {
			n++
		}
	}
	return n
}

// Triggers returns the number of times the detector fired.
func (t *Trigger) Triggers() uint64 { return t.fires }

// Reset empties the ring and clears the cooldown.
func (t *Trigger) Reset() {
	clear(t.ring)
	t.next = 0
	t.full = false
	t.fired = false
	t.last = time.Time{}
}
