// Package verify scores live feature vectors against enrolled
// voiceprints and applies the decision policy that gates the lock.
//
// # Decision policy
//
// Two orthogonal scores gate every attempt:
//
//   - Similarity: how close the utterance is to the claimed (or
//     best-matching) voiceprint, normalized to [0, 1].
//   - Liveness: how much the audio looks like a live voice rather than
//     a replay or synthetic sample, independent of speaker identity.
//
// Accept requires both scores at or above their thresholds. A score
// below its threshold by more than the hysteresis margin is a firm
// Reject; inside the margin the attempt is Inconclusive — treated as
// Reject for lock purposes but reported distinctly so thresholds can
// be tuned on real traffic.
//
// In identify mode (no claimed identity) the engine compares against
// every active voiceprint and takes the best match; when two enrolled
// speakers both clear the threshold within the separation margin the
// decision downgrades to Inconclusive, because ambiguity between
// enrolled speakers must never open the lock.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/voicelock/voicelock/pkg/feature"
	"github.com/voicelock/voicelock/pkg/voiceprint"
)

// Sentinel errors.
var (
	// ErrUnknownIdentity is returned when the claimed identity has no
	// active voiceprint.
	ErrUnknownIdentity = errors.New("verify: unknown identity")

	// ErrNoCandidates is returned in identify mode when no active
	// voiceprint exists at all.
	ErrNoCandidates = errors.New("verify: no enrolled identities")
)

// Decision is the outcome of one verification attempt.
type Decision int

const (
	// DecisionReject denies the attempt outright.
	DecisionReject Decision = iota

	// DecisionInconclusive is within the hysteresis margin of a threshold or
	// ambiguous between enrolled speakers. The lock treats it as
	// Reject; audit logs keep it distinct.
	DecisionInconclusive

	// DecisionAccept passes both the similarity and liveness gates.
	DecisionAccept
)

func (d Decision) String() string {
	switch d {
	case DecisionReject:
		return "reject"
	case DecisionInconclusive:
		return "inconclusive"
	case DecisionAccept:
		return "accept"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Attempt records one verification call. It is transient: the caller
// may hand it to an audit sink, but the engine itself persists
// nothing.
type Attempt struct {
	// ID uniquely identifies the attempt.
	ID string

	// Identity is the resolved identity: the claimed one, or the best
	// match in identify mode. Empty when identify mode found no match
	// worth naming.
	Identity string

	// Claimed reports whether an identity was claimed (false means
	// identify-by-best-match mode).
	Claimed bool

	// Similarity is the normalized similarity score in [0, 1].
	Similarity float64

	// Liveness is the anti-spoof score in [0, 1].
	Liveness float64

	// Decision is the policy outcome.
	Decision Decision

	// Timestamp is when the attempt was scored.
	Timestamp time.Time
}

// Config holds the decision thresholds.
type Config struct {
	// AcceptThreshold is the minimum similarity for Accept.
	// Default: 0.8.
	AcceptThreshold float64

	// LivenessThreshold is the minimum liveness for Accept.
	// Default: 0.7.
	LivenessThreshold float64

	// Hysteresis is the margin under a threshold within which the
	// decision is Inconclusive rather than Reject. Default: 0.05.
	Hysteresis float64

	// SeparationMargin is the minimum similarity gap between the two
	// best identify-mode candidates when both clear AcceptThreshold.
	// Default: 0.1.
	SeparationMargin float64

	// MinEnrollSamples and MinQuality guard against verifying with a
	// voiceprint that would not pass today's enrollment policy.
	// Defaults: 3 and 0.6.
	MinEnrollSamples int
	MinQuality       float64
}

func (c *Config) defaults() {
	if c.AcceptThreshold == 0 {
		c.AcceptThreshold = 0.8
	}
	if c.LivenessThreshold == 0 {
		c.LivenessThreshold = 0.7
	}
	if c.Hysteresis == 0 {
		c.Hysteresis = 0.05
	}
	if c.SeparationMargin == 0 {
		c.SeparationMargin = 0.1
	}
	if c.MinEnrollSamples == 0 {
		c.MinEnrollSamples = 3
	}
	if c.MinQuality == 0 {
		c.MinQuality = 0.6
	}
}

// Scorer computes the similarity between a live vector and a
// voiceprint, in [0, 1]. Pluggable so the metric can evolve behind a
// stable contract.
type Scorer func(vec *feature.Vector, vp *voiceprint.Voiceprint) float64

// LivenessScorer computes the anti-spoof score for an utterance,
// independent of speaker identity, in [0, 1].
type LivenessScorer func(vec *feature.Vector) float64

// Engine verifies feature vectors against a voiceprint store.
// It has no side effects beyond producing Attempt records; reporting
// outcomes to the attempt policy is the caller's responsibility, and
// must happen before the lock acts on the decision.
type Engine struct {
	store    voiceprint.Store
	cfg      Config
	score    Scorer
	liveness LivenessScorer
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer replaces the default centroid similarity scorer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.score = s }
}

// WithLiveness replaces the default statistics-based liveness scorer.
func WithLiveness(l LivenessScorer) Option {
	return func(e *Engine) { e.liveness = l }
}

// NewEngine creates an Engine reading voiceprints from store.
func NewEngine(store voiceprint.Store, cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		store:    store,
		cfg:      cfg,
		score:    CentroidSimilarity,
		liveness: StatsLiveness,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify scores one feature vector. With a non-empty claimed identity
// it fetches that identity's active voiceprint; with an empty claim it
// runs identify mode over all active voiceprints.
//
// A claimed identity without an active voiceprint yields
// ErrUnknownIdentity. A voiceprint whose extractor version differs
// from the vector's yields feature.ErrVersionMismatch — never a
// numeric score.
func (e *Engine) Verify(ctx context.Context, claimed string, vec *feature.Vector) (*Attempt, error) {
	if claimed != "" {
		return e.verifyClaimed(ctx, claimed, vec)
	}
	return e.identify(ctx, vec)
}

func (e *Engine) verifyClaimed(ctx context.Context, claimed string, vec *feature.Vector) (*Attempt, error) {
	vp, err := e.store.GetActive(ctx, claimed)
	if errors.Is(err, voiceprint.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, claimed)
	}
	if err != nil {
		return nil, fmt.Errorf("verify: load %s: %w", claimed, err)
	}
	if vp.ExtractorVersion != vec.ExtractorVersion {
		return nil, fmt.Errorf("%w: voiceprint %q, vector %q",
			feature.ErrVersionMismatch, vp.ExtractorVersion, vec.ExtractorVersion)
	}
	if !vp.Usable(e.cfg.MinEnrollSamples, e.cfg.MinQuality) {
		return nil, fmt.Errorf("%w: %s (enrollment below current policy)", ErrUnknownIdentity, claimed)
	}

	sim := e.score(vec, vp)
	live := e.liveness(vec)
	return e.attempt(claimed, true, sim, live, e.decide(sim, live)), nil
}

func (e *Engine) identify(ctx context.Context, vec *feature.Vector) (*Attempt, error) {
	var (
		bestID             string
		bestSim, runnerSim float64
		candidates         int
	)
	for sum, err := range e.store.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("verify: identify scan: %w", err)
		}
		if sum.State != voiceprint.StateActive {
			continue
		}
		vp, err := e.store.GetActive(ctx, sum.Identity)
		if errors.Is(err, voiceprint.ErrNotFound) {
			continue // revoked between List and GetActive
		}
		if err != nil {
			return nil, fmt.Errorf("verify: load %s: %w", sum.Identity, err)
		}
		if vp.ExtractorVersion != vec.ExtractorVersion {
			return nil, fmt.Errorf("%w: voiceprint %q, vector %q",
				feature.ErrVersionMismatch, vp.ExtractorVersion, vec.ExtractorVersion)
		}
		if !vp.Usable(e.cfg.MinEnrollSamples, e.cfg.MinQuality) {
			continue
		}
		candidates++
		sim := e.score(vec, vp)
		switch {
		case sim > bestSim:
			runnerSim = bestSim
			bestID, bestSim = sum.Identity, sim
		case sim > runnerSim:
			runnerSim = sim
		}
	}
	if candidates == 0 {
		return nil, ErrNoCandidates
	}

	live := e.liveness(vec)
	decision := e.decide(bestSim, live)

	// Ambiguity between enrolled speakers must never Accept.
	if decision == DecisionAccept && runnerSim >= e.cfg.AcceptThreshold &&
		bestSim-runnerSim < e.cfg.SeparationMargin {
		decision = DecisionInconclusive
	}

	return e.attempt(bestID, false, bestSim, live, decision), nil
}

// decide applies the threshold and hysteresis policy to one score
// pair.
func (e *Engine) decide(sim, live float64) Decision {
	if sim >= e.cfg.AcceptThreshold && live >= e.cfg.LivenessThreshold {
		return DecisionAccept
	}
	if sim < e.cfg.AcceptThreshold-e.cfg.Hysteresis ||
		live < e.cfg.LivenessThreshold-e.cfg.Hysteresis {
		return DecisionReject
	}
	return DecisionInconclusive
}

func (e *Engine) attempt(identity string, claimed bool, sim, live float64, d Decision) *Attempt {
	return &Attempt{
		ID:         uuid.NewString(),
		Identity:   identity,
		Claimed:    claimed,
		Similarity: sim,
		Liveness:   live,
		Decision:   d,
		Timestamp:  time.Now(),
	}
}

// CentroidSimilarity is the default Scorer: cosine similarity between
// the vector and the voiceprint centroid mapped to [0, 1], with a
// penalty when the vector sits far outside the voiceprint's dispersion
// envelope.
func CentroidSimilarity(vec *feature.Vector, vp *voiceprint.Voiceprint) float64 {
	if len(vec.Data) != len(vp.Centroid) {
		return 0
	}

	var dot, normV, normC float64
	for i := range vec.Data {
		v, c := float64(vec.Data[i]), float64(vp.Centroid[i])
		dot += v * c
		normV += v * v
		normC += c * c
	}
	if normV == 0 || normC == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normV) * math.Sqrt(normC))
	cos = math.Max(-1, math.Min(1, cos))
	sim := (1 + cos) / 2

	// Dispersion gate: average z-distance from the centroid, measured
	// against the enrollment spread. Inside the envelope (z <= 1) no
	// penalty applies.
	if len(vp.Dispersion) == len(vec.Data) {
		var zSum float64
		for i := range vec.Data {
			spread := float64(vp.Dispersion[i]) + 1e-6
			zSum += math.Abs(float64(vec.Data[i])-float64(vp.Centroid[i])) / spread
		}
		z := zSum / float64(len(vec.Data))
		if z > 1 {
			sim /= 1 + 0.1*(z-1)
		}
	}
	return sim
}

// StatsLiveness is the default LivenessScorer. Replayed audio passes
// through a speaker and codec twice, which flattens the spectrum and
// compresses the dynamics; live speech is spectrally peaky with a high
// crest factor.
func StatsLiveness(vec *feature.Vector) float64 {
	peakiness := 1 - vec.Stats.Flatness
	if peakiness < 0 {
		peakiness = 0
	}
	dynamics := vec.Stats.Crest / 4.0
	if dynamics > 1 {
		dynamics = 1
	}
	score := 0.6*peakiness + 0.4*dynamics
	return math.Max(0, math.Min(1, score))
}
