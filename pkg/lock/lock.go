// Package lock implements the access-control state machine that sits
// between the audio front end and the physical actuator.
//
// A Controller owns one lockable resource. All state transitions run
// under a single mutex, and the transition path is the only place the
// actuator callback fires, so the hardware sees exactly the sequence of
// states the controller went through. The verification pipeline
// (extract, score, policy) runs outside the critical section so that
// Cancel and State stay responsive while audio is being processed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicelock/voicelock/pkg/attempt"
	"github.com/voicelock/voicelock/pkg/feature"
	"github.com/voicelock/voicelock/pkg/verify"
)

var (
	// ErrInvalidState is returned when an operation is not legal in
	// the controller's current state.
	ErrInvalidState = errors.New("lock: operation not valid in current state")

	// ErrCancelled is returned by SubmitUtterance when the attempt was
	// cancelled while the pipeline was running.
	ErrCancelled = errors.New("lock: attempt cancelled")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("lock: controller closed")
)

// State is the controller state.
type State int

const (
	StateLocked State = iota
	StateListening
	StateVerifying
	StateUnlocked
	StateLockedOut
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateListening:
		return "listening"
	case StateVerifying:
		return "verifying"
	case StateUnlocked:
		return "unlocked"
	case StateLockedOut:
		return "locked_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition is one observed state change. Attempt is set only for
// transitions caused by a verification outcome.
type Transition struct {
	From     State
	To       State
	Identity string
	Attempt  *verify.Attempt
	At       time.Time
}

// Config controls controller timing.
type Config struct {
	// UnlockHold is how long the resource stays unlocked before
	// re-locking automatically. Default: 30s.
	UnlockHold time.Duration
}

func (c *Config) defaults() {
	if c.UnlockHold == 0 {
		c.UnlockHold = 30 * time.Second
	}
}

// Controller drives one lock.
type Controller struct {
	cfg       Config
	extractor *feature.Extractor
	engine    *verify.Engine
	policy    *attempt.Policy
	actuator  func(Transition)
	log       *slog.Logger

	mu          sync.Mutex
	state       State
	closed      bool
	watchers    map[chan Transition]struct{}
	relockTimer *time.Timer
	wakeTimer   *time.Timer
}

// Option configures a Controller.
type Option func(*Controller)

// WithActuator installs the hardware hook. It is called once per
// transition, in order, while the controller lock is held; it must not
// call back into the Controller.
func WithActuator(fn func(Transition)) Option {
	return func(c *Controller) { c.actuator = fn }
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New creates a Controller in StateLocked.
func New(extractor *feature.Extractor, engine *verify.Engine, policy *attempt.Policy, cfg Config, opts ...Option) *Controller {
	cfg.defaults()
	c := &Controller{
		cfg:       cfg,
		extractor: extractor,
		engine:    engine,
		policy:    policy,
		log:       slog.Default(),
		state:     StateLocked,
		watchers:  make(map[chan Transition]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch registers an observer. The returned channel receives every
// transition from this point on; slow observers drop transitions rather
// than stalling the controller. The cancel func unregisters and closes
// the channel.
func (c *Controller) Watch() (<-chan Transition, func()) {
	ch := make(chan Transition, 16)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// RequestUnlock arms the controller for an utterance.
// Locked -> Listening. Refused while locked out or unlocked.
func (c *Controller) RequestUnlock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateLocked {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	c.to(StateListening, "", nil)
	return nil
}

// SubmitUtterance runs one utterance through the full pipeline:
// extraction, verification, attempt policy, then exactly one state
// transition. claimed names the identity being claimed; empty means
// identify-by-best-match.
//
// Extraction and verification failures return the controller to
// Listening so the caller can retry with a better utterance; they are
// not counted as failed attempts. The policy is updated strictly before
// the state changes, so the lockout decision and the transition it
// causes are always consistent.
func (c *Controller) SubmitUtterance(ctx context.Context, claimed string, pcm []byte) (*verify.Attempt, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state != StateListening {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	// An empty claim checks the shared unknown bucket.
	if locked, remaining := c.policy.IsLockedOut(claimed); locked {
		c.to(StateLockedOut, claimed, nil)
		c.wakeAfter(remaining)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (retry in %s)", attempt.ErrLockedOut, remaining.Round(time.Second))
	}
	c.to(StateVerifying, claimed, nil)
	c.mu.Unlock()

	// Pipeline runs unlocked so Cancel and State stay live.
	att, perr := c.runPipeline(ctx, claimed, pcm)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.state != StateVerifying {
		// Cancelled (or externally moved) while the pipeline ran; the
		// outcome is discarded and the policy untouched.
		return nil, ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		c.to(StateLocked, claimed, nil)
		return nil, err
	}
	if perr != nil {
		c.to(StateListening, claimed, nil)
		return nil, perr
	}

	accepted := att.Decision == verify.DecisionAccept
	// A failed identify attempt charges the shared unknown bucket,
	// never the best-matching identity.
	subject := att.Identity
	if !att.Claimed && !accepted {
		subject = attempt.Unknown
	}
	lockedOut, until := c.policy.RecordOutcome(subject, accepted)
	switch {
	case lockedOut:
		c.to(StateLockedOut, subject, att)
		c.wakeAfter(time.Until(until))
	case accepted:
		c.to(StateUnlocked, att.Identity, att)
		c.relockAfter(c.cfg.UnlockHold)
	default:
		c.to(StateLocked, subject, att)
	}
	return att, nil
}

func (c *Controller) runPipeline(ctx context.Context, claimed string, pcm []byte) (*verify.Attempt, error) {
	vec, err := c.extractor.Extract(pcm)
	if err != nil {
		return nil, err
	}
	return c.engine.Verify(ctx, claimed, vec)
}

// Cancel abandons an in-flight attempt.
// Listening/Verifying -> Locked. A cancelled attempt never reaches the
// attempt policy.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateListening && c.state != StateVerifying {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	c.to(StateLocked, "", nil)
	return nil
}

// Relock re-locks an unlocked resource immediately.
func (c *Controller) Relock() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateUnlocked {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	c.stopTimers()
	c.to(StateLocked, "", nil)
	return nil
}

// Close stops timers and closes all watcher channels. The controller is
// unusable afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stopTimers()
	for ch := range c.watchers {
		delete(c.watchers, ch)
		close(ch)
	}
	return nil
}

// to performs the transition. Callers must hold c.mu.
func (c *Controller) to(state State, identity string, att *verify.Attempt) {
	tr := Transition{
		From:     c.state,
		To:       state,
		Identity: identity,
		Attempt:  att,
		At:       time.Now(),
	}
	c.state = state
	c.log.Debug("lock transition",
		"from", tr.From.String(), "to", tr.To.String(), "identity", identity)
	if c.actuator != nil {
		c.actuator(tr)
	}
	for ch := range c.watchers {
		select {
		case ch <- tr:
		default:
		}
	}
}

// relockAfter schedules Unlocked -> Locked. Callers must hold c.mu.
func (c *Controller) relockAfter(d time.Duration) {
	c.stopTimers()
	c.relockTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed && c.state == StateUnlocked {
			c.to(StateLocked, "", nil)
		}
	})
}

// wakeAfter schedules LockedOut -> Locked at lockout expiry. Callers
// must hold c.mu.
func (c *Controller) wakeAfter(d time.Duration) {
	c.stopTimers()
	if d < 0 {
		d = 0
	}
	c.wakeTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.closed && c.state == StateLockedOut {
			c.to(StateLocked, "", nil)
		}
	})
}

func (c *Controller) stopTimers() {
	if c.relockTimer != nil {
		c.relockTimer.Stop()
		c.relockTimer = nil
	}
	if c.wakeTimer != nil {
		c.wakeTimer.Stop()
		c.wakeTimer = nil
	}
}
