// Package voiceprint defines the enrolled biometric reference for one
// identity and the durable store that owns all such records.
//
// # Records
//
// A Voiceprint is the aggregate of one completed enrollment session:
// a per-dimension centroid over the accepted feature vectors, a
// per-dimension dispersion estimate, and an enrollment quality score.
// Records are immutable — re-enrollment writes a new version and marks
// the previous one superseded, never mutating in place. The full
// version history is retained read-only as an audit trail.
//
// # Store
//
// The [Store] interface has two implementations following the same
// pattern: [Memory] for tests and ephemeral use, [Badger] for durable
// storage with optional encryption at rest.
package voiceprint

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when an identity has no active voiceprint
	// (never enrolled, or revoked).
	ErrNotFound = errors.New("voiceprint: not found")
)

// State is the lifecycle state of one voiceprint record.
type State int

const (
	// StateActive marks the single record used for verification.
	StateActive State = iota

	// StateSuperseded marks a record replaced by a newer version.
	// Retained read-only for audit.
	StateSuperseded

	// StateRevoked marks a record administratively disabled. A revoked
	// identity becomes usable again only through a new enrollment.
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Voiceprint is the enrolled representation of one speaker's voice.
// Exactly one identity owns each record; at most one record per
// identity is active at any time.
type Voiceprint struct {
	// Identity is the unique owner id. Must not contain ':'.
	Identity string `msgpack:"identity"`

	// Version is assigned by the store on Put, starting at 1.
	Version int `msgpack:"version"`

	// CreatedAt is the commit time of the enrollment that built this
	// record.
	CreatedAt time.Time `msgpack:"created_at"`

	// ExtractorVersion is the feature extractor configuration version
	// the reference vectors were produced with. Verification refuses
	// to score vectors from a different version.
	ExtractorVersion string `msgpack:"extractor_version"`

	// Centroid is the per-dimension mean over the accepted enrollment
	// vectors.
	Centroid []float32 `msgpack:"centroid"`

	// Dispersion is the per-dimension standard deviation over the
	// accepted enrollment vectors.
	Dispersion []float32 `msgpack:"dispersion"`

	// Quality is the enrollment quality score in [0, 1].
	Quality float64 `msgpack:"quality"`

	// SampleCount is the number of accepted utterances folded in.
	SampleCount int `msgpack:"sample_count"`

	// State is the lifecycle state of this record.
	State State `msgpack:"state"`
}

// Usable reports whether this record may be used for verification
// under the given policy minimums.
func (vp *Voiceprint) Usable(minSamples int, minQuality float64) bool {
	return vp.State == StateActive &&
		vp.SampleCount >= minSamples &&
		vp.Quality >= minQuality
}

// Clone returns a deep copy of the record.
func (vp *Voiceprint) Clone() *Voiceprint {
	cp := *vp
	cp.Centroid = append([]float32(nil), vp.Centroid...)
	cp.Dispersion = append([]float32(nil), vp.Dispersion...)
	return &cp
}

// Summary is the identity-level view yielded by [Store.List].
type Summary struct {
	Identity         string    `msgpack:"identity"`
	Version          int       `msgpack:"version"`
	CreatedAt        time.Time `msgpack:"created_at"`
	ExtractorVersion string    `msgpack:"extractor_version"`
	Quality          float64   `msgpack:"quality"`
	SampleCount      int       `msgpack:"sample_count"`
	State            State     `msgpack:"state"`
}

// summarize builds a Summary from a record.
func summarize(vp *Voiceprint) Summary {
	return Summary{
		Identity:         vp.Identity,
		Version:          vp.Version,
		CreatedAt:        vp.CreatedAt,
		ExtractorVersion: vp.ExtractorVersion,
		Quality:          vp.Quality,
		SampleCount:      vp.SampleCount,
		State:            vp.State,
	}
}

// validIdentity rejects empty ids and ids containing the key separator.
func validIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("voiceprint: empty identity")
	}
	if strings.ContainsRune(identity, ':') {
		return fmt.Errorf("voiceprint: identity %q must not contain ':'", identity)
	}
	return nil
}
