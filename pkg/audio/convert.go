package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter converts clips to a fixed target format. It logs once on the
// first format mismatch and on the first misaligned clip. The zero value with
// a Target set is ready to use and safe for concurrent use.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns c in the target format. A clip already in the target format
// is returned unchanged. Sample-rate conversion runs before channel
// conversion when downmixing and after it when upmixing, so the resampler
// always handles the smaller channel count.
func (cv *Converter) Convert(c Clip) Clip {
	if c.Channels > 0 && len(c.PCM)%(2*c.Channels) != 0 {
		cv.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM, trimming partial frame",
				"bytes", len(c.PCM),
				"format", c.Format.String(),
			)
		})
		c.PCM = c.PCM[:len(c.PCM)-len(c.PCM)%(2*c.Channels)]
	}
	if c.Format == cv.Target || !c.Valid() || !cv.Target.Valid() {
		return c
	}

	cv.warnedMismatch.Do(func() {
		slog.Warn("audio: format mismatch, converting",
			"from", c.Format.String(),
			"to", cv.Target.String(),
		)
	})

	samples := Samples(c.PCM)
	ch := c.Channels
	if cv.Target.Channels < ch {
		samples = remix(samples, ch, cv.Target.Channels)
		ch = cv.Target.Channels
	}
	samples = resample(samples, ch, c.SampleRate, cv.Target.SampleRate)
	if cv.Target.Channels > ch {
		samples = remix(samples, ch, cv.Target.Channels)
	}
	return Clip{Format: cv.Target, PCM: PCM(samples)}
}

// Samples decodes little-endian int16 PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian int16 bytes.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// remix converts interleaved frames between channel counts. Downmixing
// averages all source channels; upmixing copies the mono mix to every output
// channel.
func remix(samples []int16, from, to int) []int16 {
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := range frames {
		src := samples[f*from : f*from+from]
		dst := out[f*to : f*to+to]
		switch {
		case from == to:
			copy(dst, src)
		case from == 1:
			for c := range dst {
				dst[c] = src[0]
			}
		default:
			var sum int32
			for _, v := range src {
				sum += int32(v)
			}
			mix := clamp16(sum / int32(from))
			for c := range dst {
				dst[c] = mix
			}
		}
	}
	return out
}

// resample performs per-channel linear interpolation from srcRate to dstRate.
func resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(samples[idx*channels+c])
			s1 := float64(samples[next*channels+c])
			out[i*channels+c] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

func clamp16(v int32) int16 {
	return int16(max(-32768, min(32767, v)))
}
