package llm

import (
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	if cb.State() != CircuitClosed {
		t.Fatal("expected closed state by default")
	}
	if !cb.Allow() {
		t.Fatal("expected allow in closed state")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed after 2 failures")
	}

	cb.RecordFailure() // 3rd failure
	if cb.State() != CircuitOpen {
		t.Fatal("should be open after 3 failures")
	}
	if cb.Allow() {
		t.Fatal("should not allow when open")
	}
	if cb.OpenUntil().IsZero() {
		t.Fatal("open circuit must expose openUntil")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // resets the consecutive counter
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatal("should still be closed — success reset the failure count")
	}
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure() // opens
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe should be admitted after openUntil")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatal("should be half-open during probe")
	}
	if cb.Allow() {
		t.Fatal("only one probe may be in flight")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatal("probe success should close the circuit")
	}
	if !cb.Allow() {
		t.Fatal("closed circuit should allow")
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe should be admitted")
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("probe failure should re-open")
	}
	if cb.Allow() {
		t.Fatal("fresh open window should reject")
	}
}

func TestCircuitBreaker_ReleaseFreesProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe should be admitted")
	}
	// A cancelled probe reports nothing about backend health.
	cb.Release()
	if cb.State() != CircuitHalfOpen {
		t.Fatal("release must not change state")
	}
	if !cb.Allow() {
		t.Fatal("released probe slot should admit the next caller")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("should be open")
	}
	cb.Reset()
	if cb.State() != CircuitClosed || !cb.Allow() {
		t.Fatal("reset should close the circuit")
	}
}
