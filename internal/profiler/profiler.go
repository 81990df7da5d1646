// Package profiler records start/end markers around pipeline stages into a
// fixed ring and reports per-marker timing statistics. Recorded events can be
// exported as a VCD waveform for viewing in a logic analyser.
package profiler

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultCapacity is the number of events retained.
const DefaultCapacity = 1000

// Marker identifies a timed stage.
type Marker uint8

const (
	SensorRead Marker = iota
	Inference
	Classification
	LetterCommit
	TTSDownload
	TTSPlayback
	ShakeDetect
	IMUUpdate
	FingerUpdate
	WindowBuild
	Custom1
	Custom2
	Custom3
	Custom4
	Custom5
	Custom6

	// NumMarkers is the number of defined markers.
	NumMarkers
)

var markerNames = [NumMarkers]string{
	"SensorRead", "Inference", "Classification", "LetterCommit",
	"TTS_Download", "TTS_Playback", "ShakeDetect", "IMU_Update",
	"FingerUpdate", "WindowBuild",
	"Custom1", "Custom2", "Custom3", "Custom4", "Custom5", "Custom6",
}

// String returns the marker's display name.
func (m Marker) String() string {
	if m >= NumMarkers {
		return "Unknown"
	}
	return markerNames[m]
}

type event struct {
	at     time.Duration
	marker Marker
	start  bool
}

// Stats summarises the completed start/end pairs of one marker.
type Stats struct {
	Marker Marker
	Count  int
	Min    time.Duration
	Avg    time.Duration
	Max    time.Duration
	Median time.Duration
}

// Profiler is safe for concurrent use. The zero value is not usable; call
// [New].
type Profiler struct {
	mu      sync.Mutex
	events  []event
	next    int
	count   int
	enabled bool
	epoch   time.Time
	now     func() time.Time
}

// Option configures a [Profiler].
type Option func(*Profiler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) { p.now = now }
}

// New returns a disabled profiler retaining capacity events.
func New(capacity int, opts ...Option) *Profiler {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	p := &Profiler{events: make([]event, capacity), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	p.epoch = p.now()
	return p
}

// Enable starts recording.
func (p *Profiler) Enable() {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
}

// Disable stops recording. Recorded events are kept.
func (p *Profiler) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}

// Enabled reports whether markers are recorded.
func (p *Profiler) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Reset discards all events.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.events)
	p.next = 0
	p.count = 0
}

// Len returns the number of retained events.
func (p *Profiler) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Start records the beginning of m.
func (p *Profiler) Start(m Marker) { p.mark(m, true) }

// End records the end of m.
func (p *Profiler) End(m Marker) { p.mark(m, false) }

// Event records an instantaneous occurrence of m.
func (p *Profiler) Event(m Marker) {
	p.mark(m, true)
	p.mark(m, false)
}

// Span records the start of m and returns a function recording its end.
//
//	defer prof.Span(profiler.Inference)()
func (p *Profiler) Span(m Marker) func() {
	p.Start(m)
	return func() { p.End(m) }
}

func (p *Profiler) mark(m Marker, start bool) {
	if p == nil || m >= NumMarkers {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.events[p.next] = event{at: p.now().Sub(p.epoch), marker: m, start: start}
	p.next = (p.next + 1) % len(p.events)
	p.count = min(p.count+1, len(p.events))
}

// snapshot returns the retained events oldest first. Callers hold mu.
func (p *Profiler) snapshot() []event {
	out := make([]event, 0, p.count)
	if p.count < len(p.events) {
		return append(out, p.events[:p.count]...)
	}
	out = append(out, p.events[p.next:]...)
	return append(out, p.events[:p.next]...)
}

// Stats returns the statistics for m. An end without a preceding start of
// the same marker is ignored.
func (p *Profiler) Stats(m Marker) Stats {
	p.mu.Lock()
	events := p.snapshot()
	p.mu.Unlock()
	return statsFor(events, m)
}

// AllStats returns statistics for every marker with at least one completed
// pair, in marker order.
func (p *Profiler) AllStats() []Stats {
	p.mu.Lock()
	events := p.snapshot()
	p.mu.Unlock()

	var out []Stats
	for m := range NumMarkers {
		if s := statsFor(events, m); s.Count > 0 {
			out = append(out, s)
		}
	}
	return out
}

func statsFor(events []event, m Marker) Stats {
	s := Stats{Marker: m}
	var (
		durations []time.Duration
		total     time.Duration
		started   time.Duration
		open      bool
	)
	for _, e := range events {
		if e.marker != m {
			continue
		}
		if e.start {
			started, open = e.at, true
			continue
		}
		if !open {
			continue
		}
		d := e.at - started
		durations = append(durations, d)
		total += d
		open = false
	}
	if len(durations) == 0 {
		return s
	}
	slices.Sort(durations)
	n := len(durations)
	s.Count = n
	s.Min = durations[0]
	s.Max = durations[n-1]
	s.Avg = total / time.Duration(n)
	if n%2 == 0 {
		s.Median = (durations[n/2-1] + durations[n/2]) / 2
	} else {
		s.Median = durations[n/2]
	}
	return s
}

// String formats s as one table row.
func (s Stats) String() string {
	return fmt.Sprintf("%-20s | %5d | %9s | %9s | %9s | %9s",
		s.Marker, s.Count, s.Min, s.Avg, s.Max, s.Median)
}
