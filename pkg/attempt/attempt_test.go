package attempt_test

import (
	"testing"
	"time"

	"github.com/voicelock/voicelock/pkg/attempt"
)

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newPolicy(t *testing.T, cfg attempt.Config) (*attempt.Policy, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return attempt.New(cfg, attempt.WithClock(clk.now)), clk
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	p, _ := newPolicy(t, attempt.Config{MaxFailures: 3, BaseBackoff: 30 * time.Second})

	for i := range 2 {
		locked, _ := p.RecordOutcome("alice", false)
		if locked {
			t.Fatalf("locked out after %d failures", i+1)
		}
	}
	locked, until := p.RecordOutcome("alice", false)
	if !locked {
		t.Fatal("expected lockout after 3 failures")
	}
	if until.IsZero() {
		t.Fatal("lockout deadline not set")
	}
	if locked, remaining := p.IsLockedOut("alice"); !locked || remaining != 30*time.Second {
		t.Fatalf("IsLockedOut = %v, %v", locked, remaining)
	}
}

func TestLockoutExpires(t *testing.T) {
	p, clk := newPolicy(t, attempt.Config{MaxFailures: 2, BaseBackoff: 30 * time.Second})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)
	if locked, _ := p.IsLockedOut("alice"); !locked {
		t.Fatal("expected lockout")
	}

	clk.advance(31 * time.Second)
	if locked, _ := p.IsLockedOut("alice"); locked {
		t.Fatal("lockout should have expired")
	}
}

func TestBackoffDoublesPerEpisode(t *testing.T) {
	p, clk := newPolicy(t, attempt.Config{
		MaxFailures: 2,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  2 * time.Minute,
	})

	trigger := func() time.Duration {
		t.Helper()
		p.RecordOutcome("alice", false)
		_, until := p.RecordOutcome("alice", false)
		return until.Sub(clk.now())
	}

	want := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute, 2 * time.Minute}
	var prev time.Duration
	for i, w := range want {
		got := trigger()
		if got != w {
			t.Fatalf("episode %d: backoff = %v, want %v", i+1, got, w)
		}
		if got < prev {
			t.Fatalf("episode %d: backoff %v shorter than previous %v", i+1, got, prev)
		}
		prev = got
		clk.advance(got + time.Second)
	}
}

func TestWindowResetsCount(t *testing.T) {
	p, clk := newPolicy(t, attempt.Config{MaxFailures: 3, Window: time.Minute})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)
	clk.advance(2 * time.Minute)

	// Stale failures no longer count toward the threshold.
	if locked, _ := p.RecordOutcome("alice", false); locked {
		t.Fatal("stale failures should not accumulate")
	}
	if got := p.Failures("alice"); got != 1 {
		t.Fatalf("Failures = %d, want 1", got)
	}
}

func TestAcceptResetsCount(t *testing.T) {
	p, _ := newPolicy(t, attempt.Config{MaxFailures: 3})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", true)
	if got := p.Failures("alice"); got != 0 {
		t.Fatalf("Failures after accept = %d, want 0", got)
	}
}

func TestAcceptDuringLockoutDoesNotClear(t *testing.T) {
	p, clk := newPolicy(t, attempt.Config{MaxFailures: 2, BaseBackoff: time.Minute})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)

	locked, _ := p.RecordOutcome("alice", true)
	if !locked {
		t.Fatal("accept during lockout should not clear it")
	}
	if locked, _ := p.IsLockedOut("alice"); !locked {
		t.Fatal("lockout gone after in-lockout accept")
	}

	clk.advance(2 * time.Minute)
	if locked, _ := p.RecordOutcome("alice", true); locked {
		t.Fatal("accept after expiry should clear state")
	}
}

func TestAcceptDuringLockoutAllowed(t *testing.T) {
	p, _ := newPolicy(t, attempt.Config{
		MaxFailures:              2,
		BaseBackoff:              time.Minute,
		AllowAcceptDuringLockout: true,
	})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)
	if locked, _ := p.RecordOutcome("alice", true); locked {
		t.Fatal("accept should clear lockout when the policy allows it")
	}
	if locked, _ := p.IsLockedOut("alice"); locked {
		t.Fatal("still locked out after permitted accept")
	}
}

func TestIdentitiesIsolated(t *testing.T) {
	p, _ := newPolicy(t, attempt.Config{MaxFailures: 2})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)
	if locked, _ := p.IsLockedOut("bob"); locked {
		t.Fatal("bob locked out by alice's failures")
	}
	if locked, _ := p.IsLockedOut(attempt.Unknown); locked {
		t.Fatal("unknown bucket locked out by alice's failures")
	}
}

func TestUnknownBucket(t *testing.T) {
	p, _ := newPolicy(t, attempt.Config{MaxFailures: 2})

	p.RecordOutcome("", false)
	locked, _ := p.RecordOutcome(attempt.Unknown, false)
	if !locked {
		t.Fatal("empty identity and Unknown should share one bucket")
	}
}

func TestSnapshotRestore(t *testing.T) {
	p, clk := newPolicy(t, attempt.Config{MaxFailures: 2, BaseBackoff: time.Minute})

	p.RecordOutcome("alice", false)
	p.RecordOutcome("alice", false)
	data, err := p.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	restored := attempt.New(attempt.Config{MaxFailures: 2, BaseBackoff: time.Minute},
		attempt.WithClock(clk.now))
	if err := restored.Restore(data); err != nil {
		t.Fatal(err)
	}
	locked, remaining := restored.IsLockedOut("alice")
	if !locked || remaining != time.Minute {
		t.Fatalf("restored lockout = %v, %v", locked, remaining)
	}
}
