// Package portaudio plays clips on the host's default output device through
// PortAudio.
//
// A stream is opened per clip in the clip's own format, so no resampling is
// needed unless the device rejects the rate. In that case the clip is
// converted to the configured fallback format and the stream is reopened.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/signglove/pkg/audio"
)

// DefaultFramesPerBuffer is the stream buffer size in frames.
const DefaultFramesPerBuffer = 1024

// Option configures a [Player].
type Option func(*Player)

// WithFramesPerBuffer sets the stream buffer size.
func WithFramesPerBuffer(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.frames = n
		}
	}
}

// WithFallbackFormat sets the format used when the device rejects a clip's
// native format. The default is 48 kHz stereo.
func WithFallbackFormat(f audio.Format) Option {
	return func(p *Player) {
		if f.Valid() {
			p.fallback = audio.Converter{Target: f}
		}
	}
}

// Player implements [audio.Player] on the default PortAudio output device.
type Player struct {
	frames   int
	fallback audio.Converter

	// mu serializes Play calls; the device plays one clip at a time.
	mu      sync.Mutex
	playing atomic.Bool
	stopped atomic.Bool
}

var _ audio.Player = (*Player)(nil)

// New initializes PortAudio. Call Close when done.
func New(opts ...Option) (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	p := &Player{
		frames:   DefaultFramesPerBuffer,
		fallback: audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 2}},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Play writes c to the device, blocking until it has been written, Stop is
// called, or ctx is done.
func (p *Player) Play(ctx context.Context, c audio.Clip) error {
	if c.Empty() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped.Store(false)
	p.playing.Store(true)
	defer p.playing.Store(false)

	err := p.play(ctx, c)
	if err != nil && !errors.Is(err, context.Canceled) && c.Format != p.fallback.Target {
		slog.Warn("portaudio: native format rejected, retrying with fallback",
			"format", c.Format.String(),
			"fallback", p.fallback.Target.String(),
			"err", err,
		)
		err = p.play(ctx, p.fallback.Convert(c))
	}
	return err
}

func (p *Player) play(ctx context.Context, c audio.Clip) error {
	buf := make([]int16, p.frames*c.Channels)
	stream, err := portaudio.OpenDefaultStream(0, c.Channels, float64(c.SampleRate), p.frames, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	defer stream.Stop()

	samples := audio.Samples(c.PCM)
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.stopped.Load() {
			return nil
		}
		n := copy(buf, samples)
		clear(buf[n:])
		samples = samples[n:]
		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// IsPlaying reports whether a clip is being written.
func (p *Player) IsPlaying() bool { return p.playing.Load() }

// Stop ends the current clip after the buffer in flight.
func (p *Player) Stop() error {
	p.stopped.Store(true)
	return nil
}

// Close releases PortAudio.
func (p *Player) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}
