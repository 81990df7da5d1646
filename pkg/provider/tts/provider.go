// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a local Coqui server, the
// OpenAI speech endpoint) and turns one complete utterance into a decoded
// [audio.Clip]. The glove speaks short words and phrases, so synthesis is a
// single request per utterance rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/signglove/pkg/audio"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// SynthesisOptions selects how text is spoken. Empty fields use the
// provider's configured defaults.
type SynthesisOptions struct {
	// Language is a BCP-47 code such as "en" or "de".
	Language string

	// Voice is the provider-specific voice identifier.
	Voice string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text and returns the decoded audio. It blocks until
	// the whole clip is available, ctx is done, or the provider's own request
	// timeout fires.
	//
	// A non-nil error means no audio was produced; callers may retry.
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (audio.Clip, error)
}
