package feature

import (
	"fmt"
	"math"
	"time"
)

// Config configures feature extraction. The zero value is not usable;
// call DefaultConfig and adjust.
type Config struct {
	SampleRate  int     // input sample rate in Hz (default: 16000)
	NumMels     int     // mel filterbank channels (default: 40)
	FrameLength int     // frame length in samples (default: 400 = 25ms @ 16kHz)
	FrameShift  int     // frame shift in samples (default: 160 = 10ms @ 16kHz)
	PreEmphasis float64 // pre-emphasis coefficient (default: 0.97)
	EnergyFloor float64 // floor for log energy (default: 1e-10)

	// MinDuration and MaxDuration bound the accepted utterance length.
	// Outside these bounds Extract returns ErrInvalidInput.
	MinDuration time.Duration // default: 300ms
	MaxDuration time.Duration // default: 10s

	// MinActiveRatio is the minimum fraction of frames that must carry
	// speech-level energy. Below it Extract returns ErrExtractionFailed.
	MinActiveRatio float64 // default: 0.1

	// SilenceRMS is the absolute RMS level (on int16 scale) under which
	// the whole utterance counts as silence. Default: 80.
	SilenceRMS float64
}

// DefaultConfig returns the default configuration for 16kHz audio.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		NumMels:        40,
		FrameLength:    400, // 25ms @ 16kHz
		FrameShift:     160, // 10ms @ 16kHz
		PreEmphasis:    0.97,
		EnergyFloor:    1e-10,
		MinDuration:    300 * time.Millisecond,
		MaxDuration:    10 * time.Second,
		MinActiveRatio: 0.1,
		SilenceRMS:     80,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.NumMels == 0 {
		c.NumMels = d.NumMels
	}
	if c.FrameLength == 0 {
		c.FrameLength = d.FrameLength
	}
	if c.FrameShift == 0 {
		c.FrameShift = d.FrameShift
	}
	if c.PreEmphasis == 0 {
		c.PreEmphasis = d.PreEmphasis
	}
	if c.EnergyFloor == 0 {
		c.EnergyFloor = d.EnergyFloor
	}
	if c.MinDuration == 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.MinActiveRatio == 0 {
		c.MinActiveRatio = d.MinActiveRatio
	}
	if c.SilenceRMS == 0 {
		c.SilenceRMS = d.SilenceRMS
	}
	return c
}

// Version returns the extractor version string for this configuration.
// Two configs with the same version produce directly comparable vectors.
func (c Config) Version() string {
	c = c.withDefaults()
	return fmt.Sprintf("fbank-%dk-%dmel-v1", c.SampleRate/1000, c.NumMels)
}

// Extractor turns PCM16 utterances into feature Vectors.
//
// It is stateless apart from tables precomputed at construction time
// and is safe for concurrent use across independent utterances.
type Extractor struct {
	cfg        Config
	fftSize    int
	window     []float64   // Hamming window, FrameLength long
	filterbank [][]float64 // NumMels × halfFFT triangular weights
	version    string
}

// NewExtractor creates an Extractor and precomputes its window and
// mel filterbank tables. Zero fields in cfg take their defaults.
func NewExtractor(cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	fftSize := nextPow2(cfg.FrameLength)
	return &Extractor{
		cfg:        cfg,
		fftSize:    fftSize,
		window:     hammingWindow(cfg.FrameLength),
		filterbank: melFilterbank(cfg.NumMels, fftSize, cfg.SampleRate),
		version:    cfg.Version(),
	}
}

// Version returns the extractor's configuration version string.
func (e *Extractor) Version() string { return e.version }

// Dim returns the dimensionality of extracted vectors (2×NumMels).
func (e *Extractor) Dim() int { return 2 * e.cfg.NumMels }

// Extract computes the feature vector for one PCM16 signed
// little-endian mono utterance. The result is deterministic for
// identical input and configuration.
//
// Returns ErrInvalidInput when the utterance is malformed or its
// duration falls outside [MinDuration, MaxDuration], and
// ErrExtractionFailed when the signal is silence or too noisy to carry
// speech. Both are recoverable by re-prompting.
func (e *Extractor) Extract(pcm []byte) (*Vector, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM16 byte length %d", ErrInvalidInput, len(pcm))
	}
	nSamples := len(pcm) / 2
	dur := time.Duration(nSamples) * time.Second / time.Duration(e.cfg.SampleRate)
	if dur < e.cfg.MinDuration {
		return nil, fmt.Errorf("%w: utterance %v shorter than %v", ErrInvalidInput, dur, e.cfg.MinDuration)
	}
	if dur > e.cfg.MaxDuration {
		return nil, fmt.Errorf("%w: utterance %v longer than %v", ErrInvalidInput, dur, e.cfg.MaxDuration)
	}

	// Decode PCM16 and gather raw amplitude stats before filtering.
	samples := make([]float64, nSamples)
	var sumSq, peak float64
	for i := range nSamples {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		v := float64(s)
		samples[i] = v
		sumSq += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSq / float64(nSamples))
	if rms < e.cfg.SilenceRMS {
		return nil, fmt.Errorf("%w: RMS %.1f below silence floor", ErrExtractionFailed, rms)
	}
	crest := peak / rms

	// Pre-emphasis.
	if e.cfg.PreEmphasis > 0 {
		for i := nSamples - 1; i > 0; i-- {
			samples[i] -= e.cfg.PreEmphasis * samples[i-1]
		}
		samples[0] *= 1.0 - e.cfg.PreEmphasis
	}

	numFrames := (nSamples-e.cfg.FrameLength)/e.cfg.FrameShift + 1
	if numFrames <= 0 {
		return nil, fmt.Errorf("%w: %d samples shorter than one frame", ErrInvalidInput, nSamples)
	}

	halfFFT := e.fftSize/2 + 1
	fftBuf := make([]complex128, e.fftSize)
	powerSpec := make([]float64, halfFFT)

	frames := make([][]float64, numFrames)
	frameEnergy := make([]float64, numFrames)
	var flatnessSum float64

	for f := range numFrames {
		offset := f * e.cfg.FrameShift

		for i := range fftBuf {
			fftBuf[i] = 0
		}
		for i := range e.cfg.FrameLength {
			fftBuf[i] = complex(samples[offset+i]*e.window[i], 0)
		}
		fft(fftBuf)

		var total float64
		for k := range halfFFT {
			r := real(fftBuf[k])
			im := imag(fftBuf[k])
			p := r*r + im*im
			powerSpec[k] = p
			total += p
		}
		frameEnergy[f] = total
		flatnessSum += spectralFlatness(powerSpec)

		// Mel filterbank → log energies.
		mels := make([]float64, e.cfg.NumMels)
		for m := range e.cfg.NumMels {
			var energy float64
			for k, w := range e.filterbank[m] {
				energy += w * powerSpec[k]
			}
			if energy < e.cfg.EnergyFloor {
				energy = e.cfg.EnergyFloor
			}
			mels[m] = math.Log(energy)
		}
		frames[f] = mels
	}

	active, snr := activity(frameEnergy)
	if active < e.cfg.MinActiveRatio {
		return nil, fmt.Errorf("%w: only %.0f%% of frames carry signal", ErrExtractionFailed, active*100)
	}

	return &Vector{
		Data:             pool(frames, e.cfg.NumMels),
		ExtractorVersion: e.version,
		Stats: Stats{
			SNR:      snr,
			Flatness: flatnessSum / float64(numFrames),
			Crest:    crest,
		},
	}, nil
}

// pool reduces per-frame mel energies to a fixed vector:
// channel means followed by channel standard deviations.
func pool(frames [][]float64, numMels int) []float32 {
	n := float64(len(frames))
	out := make([]float32, 2*numMels)
	for m := range numMels {
		var sum float64
		for _, fr := range frames {
			sum += fr[m]
		}
		mean := sum / n
		var varSum float64
		for _, fr := range frames {
			d := fr[m] - mean
			varSum += d * d
		}
		out[m] = float32(mean)
		out[numMels+m] = float32(math.Sqrt(varSum / n))
	}
	return out
}

// activity estimates the fraction of speech-active frames and an SNR
// proxy in dB. The noise floor is the mean energy of the quietest
// quarter of frames; a frame is active when it exceeds the floor by
// at least 6dB.
func activity(frameEnergy []float64) (activeRatio, snrDB float64) {
	n := len(frameEnergy)
	sorted := make([]float64, n)
	copy(sorted, frameEnergy)
	// Insertion sort: frame counts are small (hundreds).
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	q := n / 4
	if q == 0 {
		q = 1
	}
	var floor float64
	for _, e := range sorted[:q] {
		floor += e
	}
	floor = floor/float64(q) + 1e-10

	threshold := floor * 4 // +6dB
	var active int
	var activeEnergy float64
	for _, e := range frameEnergy {
		if e > threshold {
			active++
			activeEnergy += e
		}
	}
	if active == 0 {
		return 0, 0
	}
	snr := 10 * math.Log10(activeEnergy/float64(active)/floor)
	return float64(active) / float64(n), snr
}

// spectralFlatness returns the ratio of geometric to arithmetic mean
// of the power spectrum, in [0, 1]. White noise approaches 1; voiced
// speech is far lower.
func spectralFlatness(powerSpec []float64) float64 {
	var logSum, sum float64
	n := float64(len(powerSpec))
	for _, p := range powerSpec {
		if p < 1e-12 {
			p = 1e-12
		}
		logSum += math.Log(p)
		sum += p
	}
	am := sum / n
	if am <= 0 {
		return 1
	}
	gm := math.Exp(logSum / n)
	return gm / am
}
