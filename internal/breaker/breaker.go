// Package breaker implements the Circuit Breaker (C4) guarding writes to
// the Remote storage tier (spec §4.4): a closed/open/half-open
// state machine with a failure threshold, a timeout-gated reopen probe, and
// single-flight half-open testing.
//
// This is hand-rolled rather than built on an external breaker library
// (e.g. sony/gobreaker, present only as an unexercised transitive dependency
// elsewhere in the pack) because spec's state machine is exact enough —
// counter semantics, half-open single-probe, timeout-based reopen — to be
// the subject matter being specified, not an ambient concern to delegate.
package breaker

import (
	"context"
	"sync"
	"time"

	"magick/internal/core/apperror"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures the breaker's thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays Open before allowing a
	// single HalfOpen probe through.
	OpenTimeout time.Duration
}

// DefaultConfig matches spec §4.4's defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, OpenTimeout: 60 * time.Second}
}

// Breaker wraps calls to a storage tier, tripping open after consecutive
// failures and probing half-open after a timeout.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state            State
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call should be attempted right now, and reserves
// the single half-open probe slot if the breaker has just transitioned from
// Open to HalfOpen. Call Success or Failure after the attempt completes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = HalfOpen
		b.halfOpenInFlight = true
		return true
	case HalfOpen:
		// Only the probe reserved by the Open->HalfOpen transition above is
		// allowed through; concurrent callers are rejected until it
		// resolves.
		return false
	default:
		return false
	}
}

// Success records a successful call, closing the breaker if it was
// half-open or resetting the failure counter if it was closed.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = Closed
	b.halfOpenInFlight = false
}

// Failure records a failed call, tripping the breaker open if it was
// half-open (the probe failed, so back to Open for another full timeout),
// or incrementing the consecutive-failure count toward FailureThreshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
}

// ErrOpen is returned by Do when the breaker rejects a call outright.
var ErrOpen = apperror.NewAdapterError("circuit_breaker", nil).WithDetail("reason", "circuit open")

// Do executes fn if the breaker allows it, recording the outcome. It
// returns ErrOpen without calling fn when the breaker is tripped.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}
