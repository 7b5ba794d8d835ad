// Package ratelimit covers both rate-limit surfaces: the ingress per-client
// limiter and the simulated response-delay policy.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const staleSweepInterval = 5 * time.Minute

// Decision is the outcome of one ingress admission check.
type Decision struct {
	Allowed    bool
	Limit      int           // requests per minute
	RetryAfter time.Duration // when rejected
	Reset      time.Time     // end of the current window
}

// ClientLimiter enforces a per-client request budget. Partitions are keyed
// by the caller-derived client id (API key, auth header, forwarded IP, or
// remote address). Stale partitions are swept every five minutes.
type ClientLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	perMin   int
	disabled bool
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates an ingress limiter. requestsPerMinute <= 0
// disables limiting.
func NewClientLimiter(requestsPerMinute int) *ClientLimiter {
	return &ClientLimiter{
		clients:  make(map[string]*clientBucket),
		perMin:   requestsPerMinute,
		disabled: requestsPerMinute <= 0,
	}
}

// Check admits or rejects one request for the client.
func (l *ClientLimiter) Check(clientID string) Decision {
	if l.disabled {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[clientID]
	if !ok {
		// A burst of perMin refilled over a minute approximates the fixed
		// window while smoothing the boundary burst.
		b = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin),
		}
		l.clients[clientID] = b
	}
	b.lastSeen = time.Now()

	reservation := b.limiter.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return Decision{Allowed: true, Limit: l.perMin, Reset: time.Now().Add(time.Minute)}
	}
	reservation.Cancel()

	retryAfter := delay
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	if retryAfter > time.Minute {
		retryAfter = time.Minute
	}
	return Decision{
		Allowed:    false,
		Limit:      l.perMin,
		RetryAfter: retryAfter,
		Reset:      time.Now().Add(retryAfter),
	}
}

// Run sweeps stale client partitions until ctx is cancelled.
func (l *ClientLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(time.Now())
		}
	}
}

func (l *ClientLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.clients {
		if now.Sub(b.lastSeen) > staleSweepInterval {
			delete(l.clients, id)
		}
	}
}
