// Package breaker implements a shared circuit breaker used to isolate
// engines and extractors from a failing LLM endpoint.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
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

// ErrOpen is returned by Call when the breaker is open and short-circuits
// the call instead of invoking fn.
var ErrOpen = errors.New("circuit breaker is open")

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Breaker is a closed/open/half_open state machine guarding calls to a
// single fallible dependency (one instance per LLM endpoint is recommended).
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenTry bool
}

// New creates a Breaker with the given thresholds.
func New(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            Closed,
	}
}

// NewDefault creates a Breaker with the spec's recommended defaults.
func NewDefault() *Breaker {
	return New(DefaultFailureThreshold, DefaultResetTimeout)
}

// State returns the current state, advancing open->half_open if the reset
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.resetTimeout {
		b.state = HalfOpen
		b.halfOpenTry = false
	}
	return b.state
}

// Allow reports whether a call should be attempted right now. In half_open,
// only a single probe call is allowed through at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case Closed:
		return true
	case HalfOpen:
		if b.halfOpenTry {
			return false
		}
		b.halfOpenTry = true
		return true
	default: // Open
		return false
	}
}

// RecordSuccess transitions half_open->closed and resets the failure
// counter; closed stays closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = Closed
	b.halfOpenTry = false
}

// RecordFailure increments the failure counter and opens the breaker once
// failureThreshold consecutive failures are observed; a failed probe in
// half_open re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenTry = false
	b.failures = 0
}

// Call runs fn if the breaker allows it, recording success/failure, and
// returns ErrOpen without invoking fn otherwise.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
