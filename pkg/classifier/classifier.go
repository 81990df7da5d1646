// Package classifier defines the gesture classification capability consumed
// by the pipeline, together with the preprocessing every model shares:
// per-channel z-scoring of inertial inputs and quantization to the model's
// int8 representation.
//
// The model itself is opaque. Implementations must honour one failure rule:
// a classifier that is not ready returns [NeutralResult] rather than an error,
// so unavailability never stalls the pipeline.
package classifier

import (
	"context"
	"time"

	"github.com/MrWong99/signglove/pkg/sensor"
)

// Symbol is a single discrete gesture token.
type Symbol rune

// Reserved out-of-band tokens. They are distinct from the alphabet of
// recognized labels.
const (
	Neutral   Symbol = '\x01'
	Backspace Symbol = '\b'
	Space     Symbol = ' '
)

// Reserved label names, used by model files and by label lookups.
const (
	LabelNeutral   = "NEUTRAL"
	LabelBackspace = "BACKSPACE"
	LabelSpace     = "SPACE"
)

// NoClass is the class index reported when no class was selected.
const NoClass = -1

// IsReserved reports whether s is one of the reserved tokens.
func (s Symbol) IsReserved() bool {
	return s == Neutral || s == Backspace || s == Space
}

// String returns a printable form of s.
func (s Symbol) String() string {
	switch s {
	case Neutral:
		return LabelNeutral
	case Backspace:
		return LabelBackspace
	case Space:
		return LabelSpace
	}
	return string(rune(s))
}

// ReservedLabel reports whether label names a reserved token.
func ReservedLabel(label string) bool {
	return label == LabelNeutral || label == LabelBackspace || label == LabelSpace
}

// Result is one classification of one window.
type Result struct {
	Symbol     Symbol
	Confidence float64
	Timestamp  time.Time
	ClassIndex int
}

// NeutralResult is the result returned when no model output is available.
func NeutralResult(ts time.Time) Result {
	return Result{Symbol: Neutral, Confidence: 0, Timestamp: ts, ClassIndex: NoClass}
}

// Classifier maps a sensor window to a gesture symbol.
//
// Classify is called from a single goroutine. Initialize and Ready may be
// called concurrently with Classify.
type Classifier interface {
	// Initialize loads the model. It reports whether the classifier is ready
	// afterwards; calling it on a ready classifier is a no-op returning true.
	Initialize(ctx context.Context) bool

	// Ready reports whether Classify will consult the model.
	Ready() bool

	// Classify returns the most likely symbol for w. When not ready it
	// returns [NeutralResult].
	Classify(ctx context.Context, w sensor.Window) Result

	// LabelForIndex returns the full label of class i, or "" if i is out of
	// range.
	LabelForIndex(i int) string

	// Labels returns every class label in index order.
	Labels() []string
}
