// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled clips or errors to consumers and to
// verify the text and options passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: audio.Clip{Format: audio.Format{SampleRate: 16000, Channels: 1}, PCM: pcm},
//	}
//	clip, err := p.Synthesize(ctx, "HELLO", tts.SynthesisOptions{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Options is the SynthesisOptions passed to Synthesize.
	Options tts.SynthesisOptions
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is the clip returned by Synthesize.
	SynthesizeResult audio.Clip

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Delay makes Synthesize block for the given duration, or until ctx is
	// done, before returning.
	Delay time.Duration

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions) (audio.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Options: opts})
	clip, err, delay := p.SynthesizeResult, p.SynthesizeErr, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	return clip, nil
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// SetErr replaces SynthesizeErr. Thread-safe.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeErr = err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
