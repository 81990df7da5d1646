package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned when data is not a 16-bit PCM RIFF/WAVE file.
var ErrInvalidWAV = errors.New("audio: invalid WAV")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM. Chunks are walked
// rather than assuming a 44-byte header, so LIST and other metadata chunks are
// skipped. A data chunk whose declared size runs past the end of wav, as
// written by streaming servers, is truncated to what is present.
func DecodeWAV(wav []byte) (Clip, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       Format
		bits    int
		haveFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			tag := binary.LittleEndian.Uint16(wav[body : body+2])
			if tag != wavFormatPCM && tag != wavFormatExtensible {
				return Clip{}, fmt.Errorf("%w: unsupported format tag %#x", ErrInvalidWAV, tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			if bits != 16 {
				return Clip{}, fmt.Errorf("%w: %d bits per sample", ErrInvalidWAV, bits)
			}
			if !f.Valid() {
				return Clip{}, fmt.Errorf("%w: format %s", ErrInvalidWAV, f)
			}
			end := min(body+size, len(wav))
			frame := 2 * f.Channels
			end -= (end - body) % frame
			pcm := make([]byte, end-body)
			copy(pcm, wav[body:end])
			return Clip{Format: f, PCM: pcm}, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// EncodeWAV wraps c in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(c Clip) []byte {
	out := make([]byte, 44+len(c.PCM))
	blockAlign := 2 * c.Channels

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(c.PCM)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(c.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(c.PCM)))
	copy(out[44:], c.PCM)
	return out
}
