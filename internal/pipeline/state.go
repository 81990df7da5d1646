// Package pipeline runs the glove's five cooperating tasks (sampling,
// classification, logic, speech and playback) and owns the state they share.
package pipeline

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/signglove/internal/console"
)

// State is the cross-task state. Every field has exactly one writing task;
// readers may be on any goroutine.
//
//	IMUAvailable, FingersAvailable        sampling
//	NetworkConnected, SpeechBusy, text    speech
//	Playing, LastCompletion               playback
//	SpeechEnabled, Debug, ClassifierReady logic (console)
type State struct {
	imuAvailable     atomic.Bool
	fingersAvailable atomic.Bool

	networkConnected atomic.Bool
	speechBusy       atomic.Bool
	lastPlayed       atomic.Pointer[string]

	playing        atomic.Bool
	lastCompletion atomic.Int64

	speechEnabled   atomic.Bool
	debug           atomic.Uint32
	classifierReady atomic.Bool
}

// IMUAvailable reports whether the last frame carried inertial data.
func (s *State) IMUAvailable() bool { return s.imuAvailable.Load() }

// FingersAvailable reports whether the last frame carried finger data.
func (s *State) FingersAvailable() bool { return s.fingersAvailable.Load() }

// NetworkConnected reports whether the last synthesis attempt succeeded.
func (s *State) NetworkConnected() bool { return s.networkConnected.Load() }

// SpeechBusy reports whether a speech request is being resolved.
func (s *State) SpeechBusy() bool { return s.speechBusy.Load() }

// Playing reports whether audio is playing.
func (s *State) Playing() bool { return s.playing.Load() }

// SpeechEnabled reports whether shake triggers may queue speech.
func (s *State) SpeechEnabled() bool { return s.speechEnabled.Load() }

// ClassifierReady reports the classifier readiness last observed.
func (s *State) ClassifierReady() bool { return s.classifierReady.Load() }

// Debug returns the diagnostic flags.
func (s *State) Debug() console.Debug { return console.Debug(s.debug.Load()) }

// DebugEnabled reports whether every flag in d is set.
func (s *State) DebugEnabled(d console.Debug) bool { return s.Debug()&d == d }

// LastCompletion returns when the last playback finished, or the zero time.
func (s *State) LastCompletion() time.Time {
	ns := s.lastCompletion.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastPlayed implements debounce.PlaybackHistory.
func (s *State) LastPlayed() (string, time.Time) {
	var text string
	if p := s.lastPlayed.Load(); p != nil {
		text = *p
	}
	return text, s.LastCompletion()
}

func (s *State) setLastPlayed(text string) {
	text = strings.TrimSpace(text)
	s.lastPlayed.Store(&text)
}

func (s *State) setCompletion(t time.Time) { s.lastCompletion.Store(t.UnixNano()) }
