package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Player drives an output device. Play blocks until the clip has finished,
// Stop was called, or ctx is done. Implementations play one clip at a time
// and must be safe for concurrent use.
type Player interface {
	Play(ctx context.Context, c Clip) error
	IsPlaying() bool
	Stop() error
}

// TimedPlayer is a [Player] without a device: Play waits for the clip's
// duration, scaled by Speed. It is used when the host has no audio output.
type TimedPlayer struct {
	// Speed divides the wait; values <= 0 mean real time.
	Speed float64

	playing atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

var _ Player = (*TimedPlayer)(nil)

// Play waits for c's duration. Stop ends it early without error.
func (p *TimedPlayer) Play(ctx context.Context, c Clip) error {
	playCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	p.playing.Store(true)
	defer p.playing.Store(false)

	d := c.Duration()
	if p.Speed > 0 {
		d = time.Duration(float64(d) / p.Speed)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-playCtx.Done():
		// nil when ended by Stop.
		return ctx.Err()
	}
}

// IsPlaying reports whether Play is in progress.
func (p *TimedPlayer) IsPlaying() bool { return p.playing.Load() }

// Stop ends the current Play early.
func (p *TimedPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
