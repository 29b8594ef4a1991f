package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/parityleague/backend/internal/config"
)

// ErrCircuitOpen fast-fails calls to an endpoint whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the classic three-state circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker guards one remote endpoint. It trips OPEN after
// FailureThreshold consecutive failures inside the reset window, admits a
// probe after the cooldown (HALF_OPEN) and closes again after
// SuccessThreshold consecutive successes.
type Breaker struct {
	mu  sync.Mutex
	cfg config.CircuitConfig

	state        BreakerState
	failures     int
	successes    int
	firstFailure time.Time
	openedAt     time.Time
}

// NewBreaker creates a closed breaker with the given policy.
func NewBreaker(cfg config.CircuitConfig) *Breaker {
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.resetTimeout() {
			b.state = BreakerHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return true
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = now
	case BreakerClosed:
		// Consecutive-failure count resets once the window has passed.
		if b.failures == 0 || now.Sub(b.firstFailure) > b.resetTimeout() {
			b.firstFailure = now
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	}
}

func (b *Breaker) resetTimeout() time.Duration {
	return time.Duration(b.cfg.ResetTimeoutS * float64(time.Second))
}
