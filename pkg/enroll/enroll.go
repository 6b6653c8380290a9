// Package enroll orchestrates multi-utterance enrollment sessions into
// committed voiceprints.
//
// # Session lifecycle
//
//	Collecting → Aggregating → {Committed, Aborted}
//
// A session collects feature vectors one utterance at a time. Each
// submission passes a per-utterance quality gate; rejected samples
// bump a counter without failing the session. Once the minimum
// accepted count is reached the session moves to Aggregating, where
// more samples may still be added and Commit becomes legal. Commit
// folds the accepted vectors into a centroid plus dispersion, scores
// the aggregate, and writes the voiceprint to the store — or leaves
// the session in Aggregating when the aggregate quality is too low, so
// the caller can submit more utterances or abort.
//
// Splitting Collecting from Aggregating means the system demands a
// minimum number of good utterances before it ever judges aggregate
// quality, instead of rejecting prematurely on the first noisy sample.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicelock/voicelock/pkg/feature"
	"github.com/voicelock/voicelock/pkg/voiceprint"
)

// Sentinel errors.
var (
	// ErrAlreadyEnrolling is returned by Start when a session for the
	// identity is already open.
	ErrAlreadyEnrolling = errors.New("enroll: session already open for identity")

	// ErrLowQuality is returned by Submit when one utterance fails the
	// quality gate. The session survives; submit another sample.
	ErrLowQuality = errors.New("enroll: utterance rejected by quality gate")

	// ErrInsufficientQuality is returned by Commit when the aggregate
	// does not clear the quality threshold. The session stays in
	// Aggregating.
	ErrInsufficientQuality = errors.New("enroll: aggregate quality below minimum")

	// ErrSessionClosed is returned for operations on a committed or
	// aborted session.
	ErrSessionClosed = errors.New("enroll: session is closed")

	// ErrNotReady is returned by Commit before enough utterances were
	// accepted.
	ErrNotReady = errors.New("enroll: not enough accepted utterances to commit")
)

// State is the enrollment session state.
type State int

const (
	StateCollecting State = iota
	StateAggregating
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateAggregating:
		return "aggregating"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config controls enrollment policy.
type Config struct {
	// MinSamples is the number of accepted utterances required before
	// a session may commit. Default: 3.
	MinSamples int

	// MinQuality is the minimum aggregate quality score for Commit to
	// succeed. Default: 0.6.
	MinQuality float64

	// MinSNR is the per-utterance signal-to-noise gate in dB.
	// Default: 5.
	MinSNR float64

	// IdleTimeout auto-aborts a session with no activity. Default: 2m.
	IdleTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MinSamples == 0 {
		c.MinSamples = 3
	}
	if c.MinQuality == 0 {
		c.MinQuality = 0.6
	}
	if c.MinSNR == 0 {
		c.MinSNR = 5
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
}

// Session is one in-progress enrollment. It is owned by the Manager
// while active and discarded on Commit or Abort.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// Identity is the enrollment target.
	Identity string

	mu       sync.Mutex
	state    State
	accepted []*feature.Vector
	rejected int
	timer    *time.Timer
	mgr      *Manager
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accepted returns the number of accepted utterances so far.
func (s *Session) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

// Rejected returns the number of rejected utterances so far.
func (s *Session) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Manager owns all in-progress enrollment sessions: at most one open
// session per identity, independent identities in parallel.
type Manager struct {
	store            voiceprint.Store
	extractorVersion string
	cfg              Config
	log              *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // identity → open session
}

// NewManager creates a Manager writing committed voiceprints to store.
// extractorVersion is the feature extractor version every submitted
// vector must carry.
func NewManager(store voiceprint.Store, extractorVersion string, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		store:            store,
		extractorVersion: extractorVersion,
		cfg:              cfg,
		log:              slog.Default().With("component", "enroll"),
		sessions:         make(map[string]*Session),
	}
}

// Start opens an enrollment session for an identity. Fails with
// ErrAlreadyEnrolling when one is already open.
func (m *Manager) Start(identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("enroll: empty identity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, open := m.sessions[identity]; open {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnrolling, identity)
	}
	s := &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		state:    StateCollecting,
		mgr:      m,
	}
	s.timer = time.AfterFunc(m.cfg.IdleTimeout, func() { m.expire(s) })
	m.sessions[identity] = s
	m.log.Info("session started", "identity", identity, "session", s.ID)
	return s, nil
}

// Submit runs the quality gate on one feature vector and appends it to
// the session when accepted. Returns the session state after the
// submission; a rejected sample returns ErrLowQuality and leaves the
// session usable.
func (m *Manager) Submit(s *Session, vec *feature.Vector) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCollecting, StateAggregating:
	default:
		return s.state, ErrSessionClosed
	}
	s.touch()

	if vec.ExtractorVersion != m.extractorVersion {
		return s.state, fmt.Errorf("%w: vector %q, expected %q",
			feature.ErrVersionMismatch, vec.ExtractorVersion, m.extractorVersion)
	}
	if n := len(s.accepted); n > 0 && vec.Dim() != s.accepted[0].Dim() {
		return s.state, fmt.Errorf("enroll: vector dimension %d, session has %d", vec.Dim(), s.accepted[0].Dim())
	}

	if vec.Stats.SNR < m.cfg.MinSNR {
		s.rejected++
		m.log.Info("utterance rejected", "identity", s.Identity, "snr", vec.Stats.SNR)
		return s.state, fmt.Errorf("%w: SNR %.1fdB below %.1fdB", ErrLowQuality, vec.Stats.SNR, m.cfg.MinSNR)
	}

	s.accepted = append(s.accepted, vec)
	if s.state == StateCollecting && len(s.accepted) >= m.cfg.MinSamples {
		s.state = StateAggregating
	}
	return s.state, nil
}

// Commit aggregates the accepted vectors into a voiceprint and writes
// it to the store. Only legal from Aggregating. On
// ErrInsufficientQuality the session stays in Aggregating so the
// caller may submit more utterances or abort.
func (m *Manager) Commit(ctx context.Context, s *Session) (*voiceprint.Voiceprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCommitted, StateAborted:
		return nil, ErrSessionClosed
	case StateCollecting:
		return nil, fmt.Errorf("%w: %d of %d accepted", ErrNotReady, len(s.accepted), m.cfg.MinSamples)
	}
	s.touch()

	centroid, dispersion := aggregate(s.accepted)
	quality := qualityScore(centroid, dispersion, len(s.accepted))
	if quality < m.cfg.MinQuality {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrInsufficientQuality, quality, m.cfg.MinQuality)
	}

	vp := &voiceprint.Voiceprint{
		Identity:         s.Identity,
		CreatedAt:        time.Now(),
		ExtractorVersion: m.extractorVersion,
		Centroid:         centroid,
		Dispersion:       dispersion,
		Quality:          quality,
		SampleCount:      len(s.accepted),
	}
	if err := m.store.Put(ctx, vp); err != nil {
		return nil, fmt.Errorf("enroll: commit %s: %w", s.Identity, err)
	}

	s.close(StateCommitted)
	m.log.Info("enrollment committed",
		"identity", s.Identity, "samples", len(s.accepted), "quality", quality)
	return vp, nil
}

// Abort discards a session from any non-terminal state. No store
// mutation. Aborting a closed session returns ErrSessionClosed.
func (m *Manager) Abort(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCommitted, StateAborted:
		return ErrSessionClosed
	}
	s.close(StateAborted)
	m.log.Info("session aborted", "identity", s.Identity)
	return nil
}

// Close aborts every open session.
func (m *Manager) Close() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()
	for _, s := range open {
		m.Abort(s)
	}
}

// expire is the idle-timeout callback.
func (m *Manager) expire(s *Session) {
	if err := m.Abort(s); err == nil {
		m.log.Warn("session expired", "identity", s.Identity, "session", s.ID)
	}
}

// touch renews the idle timer. Caller holds s.mu.
func (s *Session) touch() {
	if s.timer != nil {
		s.timer.Reset(s.mgr.cfg.IdleTimeout)
	}
}

// close moves the session to a terminal state and releases it from the
// manager. Caller holds s.mu.
func (s *Session) close(final State) {
	s.state = final
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.accepted = nil
	m := s.mgr
	m.mu.Lock()
	if m.sessions[s.Identity] == s {
		delete(m.sessions, s.Identity)
	}
	m.mu.Unlock()
}

// aggregate computes the per-dimension mean and standard deviation
// over the accepted vectors.
func aggregate(vecs []*feature.Vector) (centroid, dispersion []float32) {
	dim := vecs[0].Dim()
	n := float64(len(vecs))
	centroid = make([]float32, dim)
	dispersion = make([]float32, dim)

	for d := range dim {
		var sum float64
		for _, v := range vecs {
			sum += float64(v.Data[d])
		}
		mean := sum / n
		var varSum float64
		for _, v := range vecs {
			diff := float64(v.Data[d]) - mean
			varSum += diff * diff
		}
		centroid[d] = float32(mean)
		dispersion[d] = float32(math.Sqrt(varSum / n))
	}
	return centroid, dispersion
}

// qualityScore rates an aggregate in [0, 1]: low intra-session spread
// relative to the centroid magnitude and a sufficient sample count
// yield a high score.
func qualityScore(centroid, dispersion []float32, samples int) float64 {
	var spreadSum, magSum float64
	for d := range centroid {
		spreadSum += float64(dispersion[d])
		magSum += math.Abs(float64(centroid[d]))
	}
	n := float64(len(centroid))
	relSpread := (spreadSum / n) / (magSum/n + 1e-9)

	consistency := 1.0 / (1.0 + 4.0*relSpread)
	sampleFactor := 1.0 - 0.5/float64(samples)
	return consistency * sampleFactor
}
