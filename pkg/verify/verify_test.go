package verify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voicelock/voicelock/pkg/feature"
	"github.com/voicelock/voicelock/pkg/verify"
	"github.com/voicelock/voicelock/pkg/voiceprint"
)

const extractorVersion = "fbank-16k-40mel-v1"

func liveVec(data ...float32) *feature.Vector {
	return &feature.Vector{
		Data:             data,
		ExtractorVersion: extractorVersion,
		Stats:            feature.Stats{SNR: 20, Flatness: 0.1, Crest: 4},
	}
}

func enrolled(t *testing.T, store voiceprint.Store, identity string, centroid ...float32) {
	t.Helper()
	dispersion := make([]float32, len(centroid))
	for i := range dispersion {
		dispersion[i] = 0.1
	}
	err := store.Put(context.Background(), &voiceprint.Voiceprint{
		Identity:         identity,
		ExtractorVersion: extractorVersion,
		Centroid:         centroid,
		Dispersion:       dispersion,
		Quality:          0.9,
		SampleCount:      3,
	})
	if err != nil {
		t.Fatalf("Put %s: %v", identity, err)
	}
}

// fixedScore returns a Scorer yielding a fixed similarity per identity.
func fixedScore(scores map[string]float64) verify.Scorer {
	return func(_ *feature.Vector, vp *voiceprint.Voiceprint) float64 {
		return scores[vp.Identity]
	}
}

func fixedLiveness(v float64) verify.LivenessScorer {
	return func(*feature.Vector) float64 { return v }
}

func TestVerifyClaimedAccept(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 2, 3)

	e := verify.NewEngine(store, verify.Config{})
	att, err := e.Verify(ctx, "alice", liveVec(1, 2, 3))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if att.Decision != verify.DecisionAccept {
		t.Errorf("Decision = %s (sim %.2f, live %.2f), want accept",
			att.Decision, att.Similarity, att.Liveness)
	}
	if att.Identity != "alice" || !att.Claimed {
		t.Errorf("Identity/Claimed = %s/%v", att.Identity, att.Claimed)
	}
	if att.Similarity < 0.99 {
		t.Errorf("Similarity = %.3f, want ~1 for the centroid itself", att.Similarity)
	}
	if att.ID == "" || att.Timestamp.IsZero() {
		t.Error("attempt missing ID or timestamp")
	}
}

func TestVerifyImpostorReject(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 2, 3)

	e := verify.NewEngine(store, verify.Config{},
		verify.WithScorer(fixedScore(map[string]float64{"alice": 0.4})),
		verify.WithLiveness(fixedLiveness(0.95)))

	att, err := e.Verify(ctx, "alice", liveVec(9, 9, 9))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if att.Decision != verify.DecisionReject {
		t.Errorf("Decision = %s, want reject for similarity 0.4", att.Decision)
	}
	if att.Similarity != 0.4 {
		t.Errorf("Similarity = %.2f, want 0.4", att.Similarity)
	}
}

func TestVerifyUnknownIdentity(t *testing.T) {
	e := verify.NewEngine(voiceprint.NewMemory(), verify.Config{})
	_, err := e.Verify(context.Background(), "ghost", liveVec(1, 2, 3))
	if !errors.Is(err, verify.ErrUnknownIdentity) {
		t.Errorf("got %v, want ErrUnknownIdentity", err)
	}
}

func TestVerifyVersionMismatch(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 2, 3)

	e := verify.NewEngine(store, verify.Config{})
	stale := liveVec(1, 2, 3)
	stale.ExtractorVersion = "fbank-8k-40mel-v1"

	att, err := e.Verify(ctx, "alice", stale)
	if !errors.Is(err, feature.ErrVersionMismatch) {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
	if att != nil {
		t.Error("version mismatch must never produce a scored attempt")
	}
}

func TestLivenessGateOverridesSimilarity(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 2, 3)

	e := verify.NewEngine(store, verify.Config{},
		verify.WithScorer(fixedScore(map[string]float64{"alice": 0.95})),
		verify.WithLiveness(fixedLiveness(0.2)))

	att, err := e.Verify(ctx, "alice", liveVec(1, 2, 3))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if att.Decision != verify.DecisionReject {
		t.Errorf("Decision = %s, want reject: high similarity with low liveness is a replay", att.Decision)
	}
}

func TestHysteresisMargin(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 2, 3)
	cfg := verify.Config{AcceptThreshold: 0.8, Hysteresis: 0.05}

	cases := []struct {
		sim  float64
		want verify.Decision
	}{
		{0.85, verify.DecisionAccept},
		{0.80, verify.DecisionAccept},
		{0.78, verify.DecisionInconclusive}, // inside the margin
		{0.70, verify.DecisionReject},       // clearly below
	}
	for _, tc := range cases {
		e := verify.NewEngine(store, cfg,
			verify.WithScorer(fixedScore(map[string]float64{"alice": tc.sim})),
			verify.WithLiveness(fixedLiveness(0.9)))
		att, err := e.Verify(ctx, "alice", liveVec(1, 2, 3))
		if err != nil {
			t.Fatalf("Verify(sim=%.2f): %v", tc.sim, err)
		}
		if att.Decision != tc.want {
			t.Errorf("sim %.2f: Decision = %s, want %s", tc.sim, att.Decision, tc.want)
		}
	}
}

func TestIdentifyBestMatch(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 0, 0)
	enrolled(t, store, "bob", 0, 1, 0)

	e := verify.NewEngine(store, verify.Config{},
		verify.WithScorer(fixedScore(map[string]float64{"alice": 0.92, "bob": 0.3})),
		verify.WithLiveness(fixedLiveness(0.9)))

	att, err := e.Verify(ctx, "", liveVec(1, 0, 0))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if att.Claimed {
		t.Error("identify mode must report Claimed = false")
	}
	if att.Identity != "alice" || att.Decision != verify.DecisionAccept {
		t.Errorf("got %s/%s, want alice/accept", att.Identity, att.Decision)
	}
}

func TestIdentifyAmbiguityNeverAccepts(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	enrolled(t, store, "alice", 1, 0, 0)
	enrolled(t, store, "bob", 0.9, 0.1, 0)

	// Both clear the threshold, separated by less than the margin.
	e := verify.NewEngine(store, verify.Config{SeparationMargin: 0.1},
		verify.WithScorer(fixedScore(map[string]float64{"alice": 0.90, "bob": 0.86})),
		verify.WithLiveness(fixedLiveness(0.9)))

	att, err := e.Verify(ctx, "", liveVec(1, 0, 0))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if att.Decision != verify.DecisionInconclusive {
		t.Errorf("Decision = %s, want inconclusive for ambiguous candidates", att.Decision)
	}
}

func TestIdentifyNoCandidates(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	e := verify.NewEngine(store, verify.Config{})

	if _, err := e.Verify(ctx, "", liveVec(1, 2, 3)); !errors.Is(err, verify.ErrNoCandidates) {
		t.Errorf("empty store: got %v, want ErrNoCandidates", err)
	}

	enrolled(t, store, "alice", 1, 2, 3)
	if err := store.Revoke(ctx, "alice"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := e.Verify(ctx, "", liveVec(1, 2, 3)); !errors.Is(err, verify.ErrNoCandidates) {
		t.Errorf("all revoked: got %v, want ErrNoCandidates", err)
	}
}

func TestWeakEnrollmentUnusable(t *testing.T) {
	ctx := context.Background()
	store := voiceprint.NewMemory()
	err := store.Put(ctx, &voiceprint.Voiceprint{
		Identity:         "weak",
		ExtractorVersion: extractorVersion,
		Centroid:         []float32{1, 2, 3},
		Dispersion:       []float32{0.1, 0.1, 0.1},
		Quality:          0.3, // below MinQuality
		SampleCount:      3,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	e := verify.NewEngine(store, verify.Config{})
	if _, err := e.Verify(ctx, "weak", liveVec(1, 2, 3)); !errors.Is(err, verify.ErrUnknownIdentity) {
		t.Errorf("got %v, want ErrUnknownIdentity for sub-policy enrollment", err)
	}
}

func TestStatsLiveness(t *testing.T) {
	live := liveVec(1, 2, 3)
	if got := verify.StatsLiveness(live); got < 0.7 {
		t.Errorf("live speech stats scored %.2f, want >= 0.7", got)
	}

	replay := liveVec(1, 2, 3)
	replay.Stats.Flatness = 0.8 // spectrally flat
	replay.Stats.Crest = 1.2    // compressed dynamics
	if got := verify.StatsLiveness(replay); got >= 0.7 {
		t.Errorf("replay-like stats scored %.2f, want < 0.7", got)
	}
}
