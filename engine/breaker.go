package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker refuses a call because too
// many consecutive model calls have failed recently.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's current disposition.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

// CircuitBreaker guards consecutive model-call failures during autonomous
// execution. After threshold consecutive failures it opens and rejects
// calls until resetTimeout has elapsed; the first call after that probes
// half-open and either closes the circuit or re-opens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = BreakerClosed
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
