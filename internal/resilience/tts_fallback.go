package resilience

import (
	"context"

	"github.com/MrWong99/signglove/pkg/audio"
	"github.com/MrWong99/signglove/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several speech
// backends, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Synthesize renders text with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions) (audio.Clip, error) {
	clip, _, err := Do(ctx, f.group, func(p tts.Provider) (audio.Clip, error) {
		return p.Synthesize(ctx, text, opts)
	})
	return clip, err
}

// Breakers reports each backend's breaker state.
func (f *TTSFallback) Breakers() map[string]State {
	return f.group.Breakers()
}
