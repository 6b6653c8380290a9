// Package attempt tracks verification failures per identity and
// enforces time-bounded lockouts against brute-force retry.
//
// # Policy
//
// Each Reject increments the identity's failure counter, provided it
// lands within the sliding window of the previous failure; stale
// counters restart at one. When the counter reaches the configured
// maximum the identity is locked out until a deadline. The lockout
// duration doubles with each successive episode up to a cap, so
// repeated hammering earns monotonically longer exclusions. A
// successful Accept resets everything — unless it arrives during an
// active lockout, which by default changes nothing: a correct voice
// cannot cut a lockout short.
//
// Identify-mode failures with no resolvable identity share the
// Unknown bucket.
package attempt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Unknown is the shared bucket for failures that resolve to no
// enrolled identity.
const Unknown = "*"

// ErrLockedOut is returned by callers that surface lockout as an
// error, carrying no state of its own — pair it with the remaining
// duration from IsLockedOut.
var ErrLockedOut = errors.New("attempt: identity is locked out")

// Config controls the lockout policy.
type Config struct {
	// MaxFailures is the consecutive-failure count that triggers a
	// lockout. Default: 5.
	MaxFailures int

	// Window is the sliding window within which failures accumulate;
	// a failure older than this resets the count. Default: 5m.
	Window time.Duration

	// BaseBackoff is the first lockout duration. Default: 30s.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential growth. Default: 1h.
	MaxBackoff time.Duration

	// AllowAcceptDuringLockout, when set, lets a successful Accept
	// clear an active lockout. Off by default: the conservative policy
	// refuses to shorten a lockout regardless of credential
	// correctness.
	AllowAcceptDuringLockout bool
}

func (c *Config) defaults() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.Window == 0 {
		c.Window = 5 * time.Minute
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = time.Hour
	}
}

// counter is the per-identity bookkeeping record.
type counter struct {
	Failures     int       `msgpack:"failures"`
	LastFailure  time.Time `msgpack:"last_failure"`
	LockoutUntil time.Time `msgpack:"lockout_until"`
	Episodes     int       `msgpack:"episodes"` // completed lockout episodes since last Accept
}

// Policy owns all AttemptCounters. Counter updates are atomic: the
// read-modify-write of each record happens under the policy lock.
type Policy struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// New creates a Policy.
func New(cfg Config, opts ...Option) *Policy {
	cfg.defaults()
	p := &Policy{
		cfg:      cfg,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordOutcome feeds one verification outcome into the policy.
// It returns whether the identity is locked out after this outcome and
// the lockout deadline (zero when not locked out).
//
// Reject increments the failure counter and may start a lockout.
// Accept resets the counter and clears any lockout — except during an
// active lockout with AllowAcceptDuringLockout unset, where it is a
// no-op: lockout expiry is the only release.
func (p *Policy) RecordOutcome(identity string, accepted bool) (lockedOut bool, until time.Time) {
	if identity == "" {
		identity = Unknown
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.counters[identity]
	if c == nil {
		c = &counter{}
		p.counters[identity] = c
	}

	if accepted {
		if now.Before(c.LockoutUntil) && !p.cfg.AllowAcceptDuringLockout {
			return true, c.LockoutUntil
		}
		*c = counter{}
		return false, time.Time{}
	}

	// Failures outside the sliding window restart the count.
	if !c.LastFailure.IsZero() && now.Sub(c.LastFailure) > p.cfg.Window {
		c.Failures = 0
	}
	c.Failures++
	c.LastFailure = now

	if c.Failures >= p.cfg.MaxFailures {
		backoff := p.cfg.BaseBackoff << c.Episodes
		if backoff > p.cfg.MaxBackoff || backoff <= 0 {
			backoff = p.cfg.MaxBackoff
		}
		c.LockoutUntil = now.Add(backoff)
		c.Episodes++
		c.Failures = 0 // the next episode counts afresh
		return true, c.LockoutUntil
	}
	if now.Before(c.LockoutUntil) {
		return true, c.LockoutUntil
	}
	return false, time.Time{}
}

// IsLockedOut reports whether the identity is currently locked out and
// how long remains.
func (p *Policy) IsLockedOut(identity string) (bool, time.Duration) {
	if identity == "" {
		identity = Unknown
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.counters[identity]
	if c == nil || !now.Before(c.LockoutUntil) {
		return false, 0
	}
	return true, c.LockoutUntil.Sub(now)
}

// Failures returns the current consecutive-failure count for an
// identity.
func (p *Policy) Failures(identity string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.counters[identity]; c != nil {
		return c.Failures
	}
	return 0
}

// Snapshot serializes all counters so lockout state can survive a
// restart. The format is msgpack.
func (p *Policy) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := msgpack.Marshal(p.counters)
	if err != nil {
		return nil, fmt.Errorf("attempt: snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the policy state with a previous Snapshot.
func (p *Policy) Restore(data []byte) error {
	counters := make(map[string]*counter)
	if err := msgpack.Unmarshal(data, &counters); err != nil {
		return fmt.Errorf("attempt: restore: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters = counters
	return nil
}
