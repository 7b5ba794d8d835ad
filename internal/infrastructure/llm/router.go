package llm

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/domain/service"
)

// RouterConfig tunes the resilient router.
type RouterConfig struct {
	Timeout          time.Duration // per-call deadline
	Retry            RetryPolicy
	FailureThreshold int
	OpenDuration     time.Duration
}

// Router implements service.LLMClient by routing each call to a backend
// picked by weighted round-robin (descending priority tiers), guarded by
// per-backend circuit breakers and the retry policy. A request may pin a
// backend by name; a pinned backend that is disabled or open falls through
// to normal selection.
type Router struct {
	mu    sync.Mutex
	slots []*backendSlot
	cfg   RouterConfig

	logger *zap.Logger
}

// backendSlot couples one backend with its breaker and selection credit.
type backendSlot struct {
	cfg      entity.BackendConfig
	provider Provider
	breaker  *CircuitBreaker

	// current is the smooth weighted round-robin credit.
	current int

	totalCalls  int64
	failures    int64
	lastLatency time.Duration
}

// Compile-time interface check: Router implements service.LLMClient
var _ service.LLMClient = (*Router)(nil)

// NewRouter creates a router over the enabled backends.
func NewRouter(backends []entity.BackendConfig, cfg RouterConfig, logger *zap.Logger) (*Router, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Router{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "llm-router")),
	}
	for _, b := range backends {
		provider, err := CreateProvider(b, logger)
		if err != nil {
			return nil, err
		}
		r.slots = append(r.slots, &backendSlot{
			cfg:      b,
			provider: provider,
			breaker:  NewCircuitBreaker(cfg.FailureThreshold, cfg.OpenDuration),
		})
		r.logger.Info("LLM backend registered",
			zap.String("backend", b.Name),
			zap.String("provider", b.Provider),
			zap.Int("weight", b.EffectiveWeight()),
			zap.Int("priority", b.Priority),
			zap.Bool("enabled", b.Enabled),
		)
	}
	return r, nil
}

// Complete implements service.LLMClient with failover: when a backend's
// retries are exhausted the next selectable backend is tried, each backend
// at most once per request.
func (r *Router) Complete(ctx context.Context, req service.CompletionRequest) (string, error) {
	var lastErr error
	tried := make(map[string]bool)

	for range r.backendCount() {
		slot, err := r.pick(req.Backend, tried)
		if err != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", err
		}
		tried[slot.cfg.Name] = true

		var resp string
		err = r.cfg.Retry.Do(ctx, func(attempt int) error {
			var callErr error
			resp, callErr = r.callOnce(ctx, slot, func(callCtx context.Context) (string, error) {
				return slot.provider.Complete(callCtx, req.Prompt, r.options(slot, req))
			})
			return callErr
		})
		if err == nil {
			return resp, nil
		}
		if IsCancelled(err) || !IsRetryable(err) {
			return "", err
		}
		lastErr = err
		r.logger.Warn("Backend exhausted, failing over",
			zap.String("backend", slot.cfg.Name),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		lastErr = ErrNoBackends
	}
	return "", lastErr
}

// CompleteStream implements service.LLMClient. Streams are not retried once
// tokens may have been observed; selection and breaker accounting still apply.
func (r *Router) CompleteStream(ctx context.Context, req service.CompletionRequest, tokenCh chan<- string) (string, error) {
	defer close(tokenCh)

	slot, err := r.pick(req.Backend, nil)
	if err != nil {
		return "", err
	}
	return r.callOnce(ctx, slot, func(callCtx context.Context) (string, error) {
		return slot.provider.CompleteStream(callCtx, req.Prompt, r.options(slot, req), tokenCh)
	})
}

// CompleteN implements service.LLMClient.
func (r *Router) CompleteN(ctx context.Context, req service.CompletionRequest, n int) ([]string, error) {
	slot, err := r.pick(req.Backend, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	_, err = r.callOnce(ctx, slot, func(callCtx context.Context) (string, error) {
		var callErr error
		out, callErr = slot.provider.CompleteN(callCtx, req.Prompt, n, r.options(slot, req))
		return "", callErr
	})
	return out, err
}

// callOnce runs one provider call under the per-call deadline and keeps the
// breaker honest: success and retryable failure are recorded, cancellation
// and non-retryable failures only release a half-open probe.
func (r *Router) callOnce(ctx context.Context, slot *backendSlot, fn func(ctx context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := fn(callCtx)
	latency := time.Since(start)

	r.mu.Lock()
	slot.totalCalls++
	slot.lastLatency = latency
	if err != nil {
		slot.failures++
	}
	r.mu.Unlock()

	if err == nil {
		slot.breaker.RecordSuccess()
		return resp, nil
	}

	// The per-call deadline firing surfaces as context.DeadlineExceeded on
	// callCtx while the parent is still live: that is an upstream timeout,
	// not a client cancellation.
	if ctx.Err() == nil && callCtx.Err() != nil {
		err = ClassifyTransportError(slot.cfg.Name, context.DeadlineExceeded)
	}

	switch {
	case IsCancelled(err):
		slot.breaker.Release()
	case IsRetryable(err):
		slot.breaker.RecordFailure()
	default:
		slot.breaker.Release()
	}
	return "", err
}

func (r *Router) options(slot *backendSlot, req service.CompletionRequest) CallOptions {
	opts := CallOptions{MaxTokens: req.MaxTokens, Temperature: req.Temperature}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = slot.cfg.MaxTokens
	}
	return opts
}

func (r *Router) backendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// pick selects a backend: the pin first (when enabled and admitted by its
// breaker), then smooth weighted round-robin through descending priority
// tiers. When every breaker rejects, the error carries the wait until the
// earliest openUntil so callers can emit Retry-After.
func (r *Router) pick(pin string, exclude map[string]bool) (*backendSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pin != "" {
		for _, slot := range r.slots {
			if slot.cfg.Name == pin && slot.cfg.Enabled && !exclude[slot.cfg.Name] {
				if slot.breaker.Allow() {
					return slot, nil
				}
				break // pinned but open: fall through to normal selection
			}
		}
	}

	var enabled []*backendSlot
	for _, slot := range r.slots {
		if slot.cfg.Enabled && !exclude[slot.cfg.Name] {
			enabled = append(enabled, slot)
		}
	}
	if len(enabled) == 0 {
		return nil, ErrNoBackends
	}

	// Group by priority, highest tier first.
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].cfg.Priority > enabled[j].cfg.Priority
	})

	for tierStart := 0; tierStart < len(enabled); {
		tierEnd := tierStart
		for tierEnd < len(enabled) && enabled[tierEnd].cfg.Priority == enabled[tierStart].cfg.Priority {
			tierEnd++
		}
		tier := enabled[tierStart:tierEnd]

		// Smooth weighted round-robin inside the tier; a slot whose breaker
		// rejects is skipped for this pick.
		remaining := append([]*backendSlot(nil), tier...)
		for len(remaining) > 0 {
			total := 0
			for _, slot := range remaining {
				slot.current += slot.cfg.EffectiveWeight()
				total += slot.cfg.EffectiveWeight()
			}
			best := remaining[0]
			for _, slot := range remaining[1:] {
				if slot.current > best.current {
					best = slot
				}
			}
			best.current -= total

			if best.breaker.Allow() {
				return best, nil
			}
			next := remaining[:0]
			for _, slot := range remaining {
				if slot != best {
					next = append(next, slot)
				}
			}
			remaining = next
		}
		tierStart = tierEnd
	}

	// Everything is open: report the wait until the earliest probe window.
	earliest := time.Duration(0)
	for i, slot := range enabled {
		until := time.Until(slot.breaker.OpenUntil())
		if i == 0 || until < earliest {
			earliest = until
		}
	}
	if earliest < time.Second {
		earliest = time.Second
	}
	return nil, &AllBackendsOpenError{RetryAfter: earliest}
}

// BackendStatus describes a backend's current state and counters.
type BackendStatus struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Enabled       bool   `json:"enabled"`
	Weight        int    `json:"weight"`
	Priority      int    `json:"priority"`
	CircuitState  string `json:"circuit_state"`
	TotalCalls    int64  `json:"total_calls"`
	FailureCount  int64  `json:"failure_count"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// Backends returns the status of every configured backend.
func (r *Router) Backends() []BackendStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BackendStatus, 0, len(r.slots))
	for _, slot := range r.slots {
		out = append(out, BackendStatus{
			Name:          slot.cfg.Name,
			Provider:      slot.cfg.Provider,
			Enabled:       slot.cfg.Enabled,
			Weight:        slot.cfg.EffectiveWeight(),
			Priority:      slot.cfg.Priority,
			CircuitState:  slot.breaker.State().String(),
			TotalCalls:    slot.totalCalls,
			FailureCount:  slot.failures,
			LastLatencyMs: float64(slot.lastLatency) / float64(time.Millisecond),
		})
	}
	return out
}
