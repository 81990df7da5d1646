// Package debounce turns the noisy per-window classification stream into
// discrete commit events.
//
// A [Debouncer] is a three-phase state machine:
//
//	Neutral ──non-neutral──▶ Held ──same symbol ≥ hold──▶ WaitForNeutral
//	   ▲                      │                                │
//	   └──neutral / changed───┘◀───────────neutral─────────────┘
//
// Results below the confidence threshold count as neutral whatever their
// symbol. Two independent de-duplication rules are applied when a hold
// completes; a suppressed commit still moves to WaitForNeutral:
//
//   - post-playback: the class label equals the text most recently spoken and
//     playback completed less than SpeechCooldown ago.
//   - letter: the symbol equals the previous commit and that commit is less
//     than LetterCooldown old. Backspace is exempt.
//
// A Debouncer is owned by one goroutine and is not safe for concurrent use.
package debounce

import (
	"time"

	"github.com/MrWong99/signglove/pkg/classifier"
)

// Phase is the debouncer's state.
type Phase int

const (
	PhaseNeutral Phase = iota
	PhaseHeld
	PhaseWaitForNeutral
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNeutral:
		return "neutral"
	case PhaseHeld:
		return "held"
	case PhaseWaitForNeutral:
		return "wait_for_neutral"
	}
	return "unknown"
}

// Config holds the timing and gating parameters.
type Config struct {
	// ConfidenceThreshold is the minimum confidence for a result to count as
	// non-neutral.
	ConfidenceThreshold float64

	// Hold is how long the same symbol must persist before it is committed.
	Hold time.Duration

	// LetterCooldown suppresses a repeat of the previous symbol.
	LetterCooldown time.Duration

	// SpeechCooldown suppresses the label most recently spoken, measured from
	// playback completion.
	SpeechCooldown time.Duration
}

// DefaultConfig returns the glove's tuned defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.85,
		Hold:                200 * time.Millisecond,
		LetterCooldown:      200 * time.Millisecond,
		SpeechCooldown:      1500 * time.Millisecond,
	}
}

// PlaybackHistory exposes the most recently spoken text and when its playback
// finished. A zero completion time means nothing has been played yet.
type PlaybackHistory interface {
	LastPlayed() (text string, completed time.Time)
}

// Commit is a finalized symbol.
type Commit struct {
	Symbol     classifier.Symbol
	ClassIndex int
	// Label is the full class label, or "" when unknown.
	Label     string
	Timestamp time.Time
}

// Outcome classifies a completed hold.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeSuppressedLetter
	OutcomeSuppressedPlayback
)

// String returns the outcome name used in metrics and logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeSuppressedLetter:
		return "suppressed_letter"
	case OutcomeSuppressedPlayback:
		return "suppressed_playback"
	}
	return "unknown"
}

// Stats counts completed holds by outcome.
type Stats struct {
	Committed          uint64
	SuppressedLetter   uint64
	SuppressedPlayback uint64
	Abandoned          uint64
}

// Option configures a [Debouncer].
type Option func(*Debouncer)

// WithLabels sets the class-index to label lookup, typically
// classifier.Classifier.LabelForIndex.
func WithLabels(fn func(int) string) Option {
	return func(d *Debouncer) { d.labelFor = fn }
}

// WithPlaybackHistory enables the post-playback rule.
func WithPlaybackHistory(h PlaybackHistory) Option {
	return func(d *Debouncer) { d.history = h }
}

// WithOutcomeHook registers fn to be called for every completed hold.
func WithOutcomeHook(fn func(Outcome, Commit)) Option {
	return func(d *Debouncer) { d.onOutcome = fn }
}

// Debouncer is the decision state machine.
type Debouncer struct {
	cfg       Config
	labelFor  func(int) string
	history   PlaybackHistory
	onOutcome func(Outcome, Commit)

	phase     Phase
	held      classifier.Symbol
	holdStart time.Time

	lastCommitted classifier.Symbol
	lastCommitAt  time.Time

	stats Stats
}

// New returns a debouncer in PhaseNeutral.
func New(cfg Config, opts ...Option) *Debouncer {
	d := &Debouncer{cfg: cfg}
	for _, o := range opts {
		o(d)
	}
	d.Reset()
	return d
}

// SetConfig replaces the parameters without resetting state.
func (d *Debouncer) SetConfig(cfg Config) { d.cfg = cfg }

// Config returns the current parameters.
func (d *Debouncer) Config() Config { return d.cfg }

// Phase returns the current phase.
func (d *Debouncer) Phase() Phase { return d.phase }

// Stats returns the outcome counters.
func (d *Debouncer) Stats() Stats { return d.stats }

// Reset returns to PhaseNeutral and forgets the previous commit.
func (d *Debouncer) Reset() {
	d.phase = PhaseNeutral
	d.held = classifier.Neutral
	d.holdStart = time.Time{}
	d.lastCommitted = classifier.Neutral
	d.lastCommitAt = time.Time{}
}

// Observe feeds one classification. The result's timestamp is the clock. It
// reports a commit when a hold completes and survives de-duplication.
func (d *Debouncer) Observe(r classifier.Result) (Commit, bool) {
	neutral := r.Symbol == classifier.Neutral || r.Confidence < d.cfg.ConfidenceThreshold

	switch d.phase {
	case PhaseNeutral:
		if !neutral {
			d.phase = PhaseHeld
			d.held = r.Symbol
			d.holdStart = r.Timestamp
		}

	case PhaseHeld:
		if neutral || r.Symbol != d.held {
			d.phase = PhaseNeutral
			d.stats.Abandoned++
			return Commit{}, false
		}
		if r.Timestamp.Sub(d.holdStart) >= d.cfg.Hold {
			d.phase = PhaseWaitForNeutral
			return d.complete(r)
		}

	case PhaseWaitForNeutral:
		if neutral {
			d.phase = PhaseNeutral
		}
	}
	return Commit{}, false
}

func (d *Debouncer) complete(r classifier.Result) (Commit, bool) {
	c := Commit{
		Symbol:     d.held,
		ClassIndex: r.ClassIndex,
		Timestamp:  r.Timestamp,
	}
	if d.labelFor != nil && c.ClassIndex != classifier.NoClass {
		c.Label = d.labelFor(c.ClassIndex)
	}
	now := r.Timestamp

	if d.history != nil && c.Label != "" {
		text, completed := d.history.LastPlayed()
		if !completed.IsZero() && text == c.Label && now.Sub(completed) < d.cfg.SpeechCooldown {
			return d.emit(OutcomeSuppressedPlayback, c)
		}
	}

	if c.Symbol == classifier.Backspace {
		d.lastCommitted = classifier.Neutral
		d.lastCommitAt = now
		return d.emit(OutcomeCommitted, c)
	}

	if c.Symbol == d.lastCommitted && !d.lastCommitAt.IsZero() && now.Sub(d.lastCommitAt) < d.cfg.LetterCooldown {
		return d.emit(OutcomeSuppressedLetter, c)
	}
	d.lastCommitted = c.Symbol
	d.lastCommitAt = now
	return d.emit(OutcomeCommitted, c)
}

func (d *Debouncer) emit(o Outcome, c Commit) (Commit, bool) {
	switch o {
	case OutcomeCommitted:
		d.stats.Committed++
	case OutcomeSuppressedLetter:
		d.stats.SuppressedLetter++
	case OutcomeSuppressedPlayback:
		d.stats.SuppressedPlayback++
	}
	if d.onOutcome != nil {
		d.onOutcome(o, c)
	}
	if o != OutcomeCommitted {
		return Commit{}, false
	}
	return c, true
}
