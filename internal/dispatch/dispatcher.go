// Package dispatch maintains the pending text built from committed symbols
// and packages it into playback jobs when the shake trigger fires.
package dispatch

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/signglove/internal/debounce"
	"github.com/MrWong99/signglove/pkg/classifier"
)

// DefaultMaxText is the pending buffer capacity in bytes.
const DefaultMaxText = 64

// Outcome is the result of a [Dispatcher.Trigger].
type Outcome int

const (
	OutcomeQueued Outcome = iota
	OutcomeDisabled
	OutcomeEmpty
	OutcomeBusy
)

// String returns the outcome name used in metrics and logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeQueued:
		return "queued"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeEmpty:
		return "empty"
	case OutcomeBusy:
		return "busy"
	}
	return "unknown"
}

// PlaybackJob is a unit of text handed to the speech stage.
type PlaybackJob struct {
	ID          uuid.UUID
	Text        string
	RequestedAt time.Time
}

// Gate reports the shared conditions a trigger depends on.
type Gate interface {
	// SpeechEnabled reports whether trigger-driven speech is switched on.
	SpeechEnabled() bool
	// InFlight reports whether a synthesis or playback job is pending or
	// running.
	InFlight() bool
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMaxText sets the pending buffer capacity in bytes.
func WithMaxText(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxText = n
		}
	}
}

// WithIDFunc overrides job ID generation.
func WithIDFunc(fn func() uuid.UUID) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// Dispatcher owns the pending text. It is driven by the logic task alone and
// is not safe for concurrent use.
type Dispatcher struct {
	gate    Gate
	maxText int
	newID   func() uuid.UUID

	// units holds one entry per committed symbol or label so that backspace
	// removes exactly what one commit added.
	units []string
	size  int
}

// New returns a dispatcher with an empty buffer.
func New(gate Gate, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gate:    gate,
		maxText: DefaultMaxText,
		newID:   uuid.New,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetMaxText changes the buffer capacity. Existing content is kept.
func (d *Dispatcher) SetMaxText(n int) {
	if n > 0 {
		d.maxText = n
	}
}

// Apply folds a commit into the pending text and reports whether the buffer
// changed.
func (d *Dispatcher) Apply(c debounce.Commit) bool {
	switch {
	case c.Symbol == classifier.Neutral:
		return false

	case c.Symbol == classifier.Backspace:
		if len(d.units) == 0 {
			return false
		}
		last := d.units[len(d.units)-1]
		d.units = d.units[:len(d.units)-1]
		d.size -= len(last)
		return true

	case isWordLabel(c.Label):
		unit := c.Label + " "
		if len(unit) > d.maxText {
			slog.Warn("dispatch: label exceeds text buffer", "label", c.Label, "max", d.maxText)
			return false
		}
		d.units = append(d.units[:0], unit)
		d.size = len(unit)
		return true

	case c.Symbol == classifier.Space:
		return d.push(" ")

	default:
		return d.push(string(rune(c.Symbol)))
	}
}

func (d *Dispatcher) push(unit string) bool {
	if d.size+len(unit) > d.maxText {
		slog.Warn("dispatch: text buffer full", "max", d.maxText, "dropped", unit)
		return false
	}
	d.units = append(d.units, unit)
	d.size += len(unit)
	return true
}

// isWordLabel reports whether label is a multi-character class name that is
// not a reserved token.
func isWordLabel(label string) bool {
	return utf8.RuneCountInString(label) > 1 && !classifier.ReservedLabel(label)
}

// Trigger turns the pending text into a job when speech is enabled and
// nothing is in flight. The buffer is cleared only when a job is returned.
func (d *Dispatcher) Trigger(now time.Time) (PlaybackJob, Outcome) {
	if d.gate != nil && !d.gate.SpeechEnabled() {
		return PlaybackJob{}, OutcomeDisabled
	}
	if len(d.units) == 0 {
		return PlaybackJob{}, OutcomeEmpty
	}
	if d.gate != nil && d.gate.InFlight() {
		return PlaybackJob{}, OutcomeBusy
	}
	text := strings.TrimSpace(d.Text())
	d.Clear()
	if text == "" {
		return PlaybackJob{}, OutcomeEmpty
	}
	return PlaybackJob{ID: d.newID(), Text: text, RequestedAt: now}, OutcomeQueued
}

// Text returns the pending text.
func (d *Dispatcher) Text() string {
	return strings.Join(d.units, "")
}

// Units returns the number of removable units in the buffer.
func (d *Dispatcher) Units() int { return len(d.units) }

// Clear empties the buffer.
func (d *Dispatcher) Clear() {
	d.units = d.units[:0]
	d.size = 0
}
