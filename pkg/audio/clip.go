// Package audio holds the decoded speech audio exchanged between the speech
// synthesis, cache and playback stages, and the [Player] contract for the
// output device.
//
// All PCM is signed 16-bit little-endian, interleaved when Channels > 1.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of PCM data.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a form like "22050Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Valid reports whether f can describe playable audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Clip is a complete utterance held in memory.
type Clip struct {
	Format
	PCM []byte
}

// Frames returns the number of sample frames in c.
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.PCM) / (2 * c.Channels)
}

// Duration returns the playback length of c.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether c holds no audio.
func (c Clip) Empty() bool { return c.Frames() == 0 }
