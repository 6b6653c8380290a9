// Package wavio decodes WAV recordings into the PCM16 mono form the
// feature extractor consumes.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV is returned for files the decoder cannot parse.
	ErrInvalidWAV = errors.New("wavio: invalid wav file")

	// ErrSampleRate is returned when the file's sample rate does not
	// match the rate the caller requires.
	ErrSampleRate = errors.New("wavio: sample rate mismatch")
)

// Decode reads a WAV stream and returns little-endian PCM16 mono at
// the required sample rate. Multi-channel audio is downmixed by
// averaging. A sample rate other than wantRate is refused rather than
// resampled: recordings must be captured at the extractor's rate.
func Decode(r io.ReadSeeker, wantRate int) ([]byte, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("wavio: decode: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidWAV)
	}
	if int(dec.SampleRate) != wantRate {
		return nil, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRate, dec.SampleRate, wantRate)
	}
	return toPCM16Mono(buf), nil
}

// DecodeFile decodes one WAV file.
func DecodeFile(path string, wantRate int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: %w", err)
	}
	defer f.Close()
	pcm, err := Decode(f, wantRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pcm, nil
}

func toPCM16Mono(buf *audio.IntBuffer) []byte {
	ch := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		ch = buf.Format.NumChannels
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	shift := bitDepth - 16

	frames := len(buf.Data) / ch
	pcm := make([]byte, 2*frames)
	for i := range frames {
		var sum int
		for c := range ch {
			sum += buf.Data[i*ch+c]
		}
		v := sum / ch
		if bitDepth == 8 {
			// 8-bit WAV samples are unsigned (0..255); recenter
			// before widening.
			v = (v - 128) << 8
		} else if shift > 0 {
			v >>= shift
		} else if shift < 0 {
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s := int16(v)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(uint16(s) >> 8)
	}
	return pcm
}
