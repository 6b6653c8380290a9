// Package feature converts bounded audio utterances into fixed-length
// acoustic feature vectors for speaker enrollment and verification.
//
// # Pipeline
//
// The extractor processes PCM16 16kHz mono audio in four stages:
//
//  1. Pre-emphasis filter to flatten the spectral tilt
//  2. Overlapping Hamming-windowed frames → power spectra via FFT
//  3. Mel filterbank → log energies per frame
//  4. Statistics pooling (per-channel mean and stddev) → fixed vector
//
// The output dimension is 2×NumMels regardless of utterance length,
// so vectors from utterances of different durations are directly
// comparable.
//
// # Versioning
//
// Every extracted vector carries the extractor version string derived
// from the configuration shape. Voiceprints built from these vectors
// inherit the version, and verification refuses to score vectors whose
// version differs from the enrolled one — a change in extraction logic
// forces re-enrollment instead of silently degrading match quality.
package feature

import "errors"

// Sentinel errors.
var (
	// ErrInvalidInput is returned for malformed or out-of-bounds
	// utterances (wrong byte alignment, too short, too long).
	// The caller should re-prompt with a fresh recording.
	ErrInvalidInput = errors.New("feature: invalid input utterance")

	// ErrExtractionFailed is returned when the utterance carries no
	// usable signal (silence, pure noise). Distinct from a valid but
	// low-quality sample, which extracts fine and is judged later by
	// the enrollment quality gate.
	ErrExtractionFailed = errors.New("feature: insufficient signal in utterance")

	// ErrVersionMismatch is returned when a vector's extractor version
	// differs from the one expected by the consumer (an enrollment
	// session or an enrolled voiceprint). Scores across versions are
	// meaningless, so the mismatch is surfaced instead of a number.
	ErrVersionMismatch = errors.New("feature: extractor version mismatch")
)

// Stats carries per-utterance signal statistics computed alongside the
// feature vector. They feed the enrollment quality gate (SNR) and the
// liveness scorer (Flatness, Crest) without re-reading the audio.
type Stats struct {
	// SNR is a signal-to-noise proxy in dB: the energy ratio between
	// speech-active frames and the quietest frames of the utterance.
	SNR float64 `msgpack:"snr"`

	// Flatness is the mean spectral flatness in [0, 1]. Live speech is
	// spectrally peaky (low flatness); replayed or synthetic audio
	// tends to be flatter.
	Flatness float64 `msgpack:"flatness"`

	// Crest is the crest factor (peak amplitude over RMS). Playback
	// through small speakers compresses dynamics, lowering the crest.
	Crest float64 `msgpack:"crest"`
}

// Vector is the fixed-length acoustic summary of one utterance.
// It is immutable after creation: consumed by enrollment or
// verification, never persisted standalone.
type Vector struct {
	// Data holds the pooled feature values, length 2×NumMels.
	Data []float32

	// ExtractorVersion identifies the extractor configuration that
	// produced this vector.
	ExtractorVersion string

	// Stats are the auxiliary signal statistics for this utterance.
	Stats Stats
}

// Dim returns the vector dimensionality.
func (v *Vector) Dim() int { return len(v.Data) }
