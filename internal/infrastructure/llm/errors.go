package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// FailureKind classifies a provider failure.
type FailureKind string

const (
	FailTimeout FailureKind = "timeout"  // deadline exceeded (retryable)
	FailNetwork FailureKind = "network"  // dial/read error (retryable)
	FailHTTP    FailureKind = "http"     // non-2xx status
	FailParse   FailureKind = "parse"    // envelope not parseable (non-retryable)
	FailEmpty   FailureKind = "empty"    // envelope had no content (non-retryable)
)

// ProviderError is a classified upstream failure.
type ProviderError struct {
	Backend   string
	Kind      FailureKind
	Status    int // HTTP status, when Kind == FailHTTP
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: %s (status %d): %v", e.Backend, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Kind, e.Err)
}

// Unwrap exposes the cause.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewHTTPError classifies a non-2xx response: 5xx and 429 are retryable,
// other 4xx are not.
func NewHTTPError(backend string, status int, cause error) *ProviderError {
	return &ProviderError{
		Backend:   backend,
		Kind:      FailHTTP,
		Status:    status,
		Retryable: status >= 500 || status == 429,
		Err:       cause,
	}
}

// ClassifyTransportError wraps a transport-level failure. Timeouts and
// network errors are retryable; a cancelled context is surfaced as-is so it
// never counts as a backend failure.
func ClassifyTransportError(backend string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Backend: backend, Kind: FailTimeout, Retryable: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Backend: backend, Kind: FailTimeout, Retryable: true, Err: err}
	}
	return &ProviderError{Backend: backend, Kind: FailNetwork, Retryable: true, Err: err}
}

// NewParseError wraps an unparseable completion envelope (non-retryable).
func NewParseError(backend string, cause error) *ProviderError {
	return &ProviderError{Backend: backend, Kind: FailParse, Err: cause}
}

// IsRetryable reports whether the failure is worth another attempt.
// Cancellation is never retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsTimeout reports whether the chain is a deadline failure.
func IsTimeout(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == FailTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCancelled reports client-side cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// AllBackendsOpenError is returned when every backend's breaker rejects the
// call. RetryAfter is the wait until the earliest breaker admits a probe.
type AllBackendsOpenError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *AllBackendsOpenError) Error() string {
	return fmt.Sprintf("all backends unavailable, retry after %s", e.RetryAfter)
}

// ErrNoBackends is returned when no backend is enabled at all.
var ErrNoBackends = errors.New("no enabled llm backend configured")
