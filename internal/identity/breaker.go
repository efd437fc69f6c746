package identity

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all requests through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets trial requests through.
	BreakerHalfOpen
	// BreakerOpen rejects all requests immediately.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips after a run of consecutive provider failures and
// rejects calls until its timeout elapses. It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time
	now              func() time.Time
	onChange         func(BreakerState)
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
// failureThreshold: consecutive failures to trip from Closed to Open.
// successThreshold: consecutive successes in HalfOpen to return to Closed.
// timeout: duration to stay Open before transitioning to HalfOpen.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// OnStateChange registers a hook called, with the lock held, whenever the
// state changes. The hook must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow returns nil if a request may proceed, or ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		// Any failure in half-open immediately reopens.
		cb.successes = 0
		cb.trip()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.setState(BreakerOpen)
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.timeout {
		cb.successes = 0
		cb.setState(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.onChange != nil {
		cb.onChange(s)
	}
}
