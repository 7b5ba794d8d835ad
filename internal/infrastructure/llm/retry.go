package llm

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy retries retryable failures with exponential backoff and ±10%
// jitter. Total attempts are bounded by MaxAttempts+1 (the first call plus
// MaxAttempts retries).
type RetryPolicy struct {
	MaxAttempts int           // retries after the first attempt
	BaseDelay   time.Duration // first backoff step
	Enabled     bool
}

// Do runs fn under the policy. Non-retryable failures and cancellations
// surface immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := 1
	if p.Enabled && p.MaxAttempts > 0 {
		attempts = p.MaxAttempts + 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if sleepErr := sleepCtx(ctx, p.backoff(attempt-1)); sleepErr != nil {
				return sleepErr
			}
		}
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if IsCancelled(err) || !IsRetryable(err) {
			return err
		}
	}
	return err
}

// backoff is BaseDelay * 2^(retry-1) with ±10% jitter.
func (p RetryPolicy) backoff(retry int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << (retry - 1)
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
