package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState int

const (
	// CircuitClosed lets judgment requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the reset window passes.
	CircuitOpen
	// CircuitHalfOpen lets a single probe request test the backend.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes when the breaker trips and when it re-tests.
type CircuitBreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe is allowed.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig matches the cadence of judgment batches: a
// handful of failed groups trips, and a half-minute pause is long enough for
// transient backend trouble to clear.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker guards the evaluator backend. When the backend fails
// repeatedly, judgment work fails fast instead of queueing doomed requests
// behind long timeouts.
type CircuitBreaker struct {
	mu          sync.Mutex
	cfg         CircuitBreakerConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Allow reports whether a request may proceed. An open circuit turns into a
// half-open probe once the reset window has passed; a half-open circuit
// admits only the probe already in flight.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.cfg.ResetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("circuit open: evaluator backend failed %d consecutive times, last %v ago",
			cb.failures, time.Since(cb.lastFailure).Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("circuit half-open: probe request already in flight")
	default:
		return false, fmt.Errorf("circuit in unknown state %d", cb.state)
	}
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure. A failed probe reopens the circuit
// immediately; otherwise the circuit opens once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.Threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current mode.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
