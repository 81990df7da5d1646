// Package mock provides an in-memory implementation of [audio.Player] for
// unit tests.
//
// The mock is safe for concurrent use. It records every clip it is asked to
// play and exposes exported fields that the test can set to control return
// values and timing.
//
// Typical usage:
//
//	p := &mock.Player{PlayDuration: 10 * time.Millisecond}
//	err := p.Play(ctx, clip)
//	if len(p.PlayCalls()) != 1 { ... }
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/signglove/pkg/audio"
)

// PlayCall records a single [Player.Play] invocation.
type PlayCall struct {
	// Clip is the clip passed to Play.
	Clip audio.Clip
	// At is when Play was entered.
	At time.Time
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play after PlayDuration has elapsed.
	PlayErr error

	// PlayDuration is how long Play blocks.
	PlayDuration time.Duration

	// StopErr is returned by Stop.
	StopErr error

	// Started, when non-nil, receives a value each time Play begins. Sends
	// never block.
	Started chan struct{}

	playCalls []PlayCall
	stopCalls int
	playing   atomic.Bool
	stop      chan struct{}
}

// Play records the call, then blocks for PlayDuration, until Stop, or until
// ctx is done.
func (p *Player) Play(ctx context.Context, c audio.Clip) error {
	p.mu.Lock()
	p.playCalls = append(p.playCalls, PlayCall{Clip: c, At: time.Now()})
	d, err := p.PlayDuration, p.PlayErr
	stop := make(chan struct{})
	p.stop = stop
	started := p.Started
	p.mu.Unlock()

	p.playing.Store(true)
	defer p.playing.Store(false)
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return err
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsPlaying reports whether Play is in progress.
func (p *Player) IsPlaying() bool { return p.playing.Load() }

// Stop records the call and ends the current Play.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	return p.StopErr
}

// PlayCalls returns a copy of all recorded Play invocations.
func (p *Player) PlayCalls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.playCalls))
	copy(out, p.playCalls)
	return out
}

// StopCalls returns how many times Stop was called.
func (p *Player) StopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

// Reset clears all recorded calls.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playCalls = nil
	p.stopCalls = 0
}

var _ audio.Player = (*Player)(nil)
