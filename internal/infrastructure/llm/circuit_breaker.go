package llm

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject calls
	CircuitHalfOpen                     // Testing recovery
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one backend. Consecutive retryable failures reaching
// the threshold open the circuit; while open, calls are rejected without
// hitting the backend. After openUntil passes, the circuit transitions to
// half-open and admits exactly one probe call: success closes it, failure
// re-opens with a fresh timer. Transitions are atomic per backend.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitState
	failureCount     int
	failureThreshold int
	openDuration     time.Duration
	openUntil        time.Time
	probeInFlight    bool
}

// NewCircuitBreaker creates a breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold int, openDuration time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
	}
}

// Allow reports whether a call may proceed. In half-open exactly one caller
// is admitted as the probe until it reports an outcome.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Now().After(cb.openUntil) {
			cb.state = CircuitHalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call. In half-open, the probe's success
// closes the circuit and resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.probeInFlight = false
	}
}

// RecordFailure records a retryable failure. Non-retryable failures and
// cancellations must not be recorded — they say nothing about backend health.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		// Probe failed: re-open with a fresh timer.
		cb.state = CircuitOpen
		cb.openUntil = time.Now().Add(cb.openDuration)
		cb.probeInFlight = false
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.openUntil = time.Now().Add(cb.openDuration)
		}
	}
}

// Release frees a half-open probe slot without recording an outcome. Used
// for cancellations and non-retryable failures, which say nothing about
// backend health.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// OpenUntil returns when the circuit next admits a probe (zero when not open).
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return time.Time{}
	}
	return cb.openUntil
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.probeInFlight = false
	cb.openUntil = time.Time{}
}
