// Package audio is the playback boundary. The core hands a decoded
// buffer and a gain to a Player and moves on; whatever backend actually
// produces sound lives behind the interface.
package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Player plays a decoded buffer at the given gain and calls done when
// playback finishes. Implementations must not block the caller.
type Player interface {
	Play(buf *goaudio.IntBuffer, gain float64, done func())
}

// NullPlayer discards playback requests. Used headless and in tests.
type NullPlayer struct{}

func (NullPlayer) Play(_ *goaudio.IntBuffer, _ float64, done func()) {
	if done != nil {
		done()
	}
}

// ClampGain bounds a gain level to the supported 0.0-2.0 range.
func ClampGain(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 2 {
		return 2
	}
	return g
}

// VolumeGain converts a 0-100 volume setting to a gain level, where 50
// maps to unity.
func VolumeGain(volume int) float64 {
	return ClampGain(float64(volume) / 50)
}

// DecodeWAV decodes a complete WAV stream into a PCM buffer.
func DecodeWAV(r io.ReadSeeker) (*goaudio.IntBuffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return buf, nil
}

// DecodeWAVBytes decodes an in-memory WAV file, the form sounds arrive
// in off the wire.
func DecodeWAVBytes(b []byte) (*goaudio.IntBuffer, error) {
	return DecodeWAV(bytes.NewReader(b))
}

// LoadWAV decodes a WAV file from disk.
func LoadWAV(path string) (*goaudio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}
