package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/domain/service"
)

// fakeProvider counts calls and fails on demand.
type fakeProvider struct {
	name string

	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts CallOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return "", f.fail
	}
	return `{"from":"` + f.name + `"}`, nil
}

func (f *fakeProvider) CompleteStream(ctx context.Context, prompt string, opts CallOptions, tokenCh chan<- string) (string, error) {
	resp, err := f.Complete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	tokenCh <- resp
	return resp, nil
}

func (f *fakeProvider) CompleteN(ctx context.Context, prompt string, n int, opts CallOptions) ([]string, error) {
	return CompleteNSequential(ctx, f, prompt, n, opts)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var registerFakeOnce sync.Once

// fakeRegistry hands out the provider instances created for each test router.
var (
	fakeMu        sync.Mutex
	fakeProviders map[string]*fakeProvider
)

func useFakeProviders(t *testing.T) {
	t.Helper()
	registerFakeOnce.Do(func() {
		RegisterFactory("fake", func(cfg entity.BackendConfig, logger *zap.Logger) (Provider, error) {
			fakeMu.Lock()
			defer fakeMu.Unlock()
			p := &fakeProvider{name: cfg.Name}
			fakeProviders[cfg.Name] = p
			return p, nil
		})
	})
	fakeMu.Lock()
	fakeProviders = make(map[string]*fakeProvider)
	fakeMu.Unlock()
}

func fakeFor(t *testing.T, name string) *fakeProvider {
	t.Helper()
	fakeMu.Lock()
	defer fakeMu.Unlock()
	p, ok := fakeProviders[name]
	if !ok {
		t.Fatalf("no fake provider %q", name)
	}
	return p
}

func newTestRouter(t *testing.T, cfg RouterConfig, backends ...entity.BackendConfig) *Router {
	t.Helper()
	useFakeProviders(t)
	for i := range backends {
		backends[i].Provider = "fake"
	}
	r, err := NewRouter(backends, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return r
}

func backend(name string, weight, priority int) entity.BackendConfig {
	return entity.BackendConfig{Name: name, Weight: weight, Priority: priority, Enabled: true}
}

func TestRouter_WeightedFairness(t *testing.T) {
	r := newTestRouter(t, RouterConfig{}, backend("a", 3, 0), backend("b", 1, 0))

	const total = 1000
	for i := 0; i < total; i++ {
		if _, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	aCalls := fakeFor(t, "a").callCount()
	share := float64(aCalls) / total
	if share < 0.65 || share > 0.85 {
		t.Fatalf("backend a got %.2f of traffic, want ~0.75", share)
	}
}

func TestRouter_PriorityTiersFirst(t *testing.T) {
	r := newTestRouter(t, RouterConfig{}, backend("low", 1, 0), backend("high", 1, 10))

	for i := 0; i < 10; i++ {
		if _, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if got := fakeFor(t, "low").callCount(); got != 0 {
		t.Fatalf("low-priority backend called %d times while high tier healthy", got)
	}
}

func TestRouter_PinnedBackend(t *testing.T) {
	r := newTestRouter(t, RouterConfig{}, backend("a", 1, 0), backend("b", 1, 0))

	for i := 0; i < 5; i++ {
		if _, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p", Backend: "b"}); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if got := fakeFor(t, "a").callCount(); got != 0 {
		t.Fatalf("pin ignored, backend a called %d times", got)
	}
	if got := fakeFor(t, "b").callCount(); got != 5 {
		t.Fatalf("pinned backend called %d times, want 5", got)
	}
}

func TestRouter_FailoverOnRetryableFailure(t *testing.T) {
	r := newTestRouter(t, RouterConfig{}, backend("bad", 1, 10), backend("good", 1, 0))
	fakeFor(t, "bad").fail = NewHTTPError("bad", 500, errors.New("boom"))

	resp, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("expected failover success, got %v", err)
	}
	if resp != `{"from":"good"}` {
		t.Fatalf("resp = %q", resp)
	}
}

func TestRouter_NonRetryableSurfacesImmediately(t *testing.T) {
	r := newTestRouter(t, RouterConfig{Retry: RetryPolicy{Enabled: true, MaxAttempts: 3, BaseDelay: time.Millisecond}},
		backend("bad", 1, 10), backend("good", 1, 0))
	fakeFor(t, "bad").fail = NewHTTPError("bad", 400, errors.New("bad shape"))

	_, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Fatal("400 must be non-retryable")
	}
	if got := fakeFor(t, "bad").callCount(); got != 1 {
		t.Fatalf("non-retryable failure retried %d times", got)
	}
	if got := fakeFor(t, "good").callCount(); got != 0 {
		t.Fatal("non-retryable failure must not fail over")
	}
}

func TestRouter_RetryBound(t *testing.T) {
	r := newTestRouter(t, RouterConfig{Retry: RetryPolicy{Enabled: true, MaxAttempts: 2, BaseDelay: time.Millisecond}},
		backend("only", 1, 0))
	fakeFor(t, "only").fail = NewHTTPError("only", 503, errors.New("down"))

	_, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("expected failure")
	}
	// Total attempts per backend ≤ MaxRetryAttempts + 1.
	if got := fakeFor(t, "only").callCount(); got != 3 {
		t.Fatalf("made %d attempts, want 3", got)
	}
}

func TestRouter_AllOpenReturnsRetryAfter(t *testing.T) {
	r := newTestRouter(t, RouterConfig{FailureThreshold: 1, OpenDuration: time.Minute}, backend("only", 1, 0))
	fakeFor(t, "only").fail = NewHTTPError("only", 500, errors.New("down"))

	if _, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("first call should fail")
	}

	_, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"})
	var allOpen *AllBackendsOpenError
	if !errors.As(err, &allOpen) {
		t.Fatalf("want AllBackendsOpenError, got %v", err)
	}
	if allOpen.RetryAfter < time.Second || allOpen.RetryAfter > time.Minute {
		t.Fatalf("retry-after out of range: %s", allOpen.RetryAfter)
	}
}

func TestRouter_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestRouter(t, RouterConfig{FailureThreshold: 5, OpenDuration: time.Minute}, backend("only", 1, 0))
	fakeFor(t, "only").fail = NewHTTPError("only", 500, errors.New("down"))

	for i := 0; i < 5; i++ {
		r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"})
	}
	status := r.Backends()
	if status[0].CircuitState != "open" {
		t.Fatalf("breaker state = %s after 5 failures, want open", status[0].CircuitState)
	}
	// 6th request fails fast without reaching the provider.
	before := fakeFor(t, "only").callCount()
	if _, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected fast failure")
	}
	if fakeFor(t, "only").callCount() != before {
		t.Fatal("open breaker must not admit calls")
	}
}

func TestRouter_CancellationNotCountedAsFailure(t *testing.T) {
	r := newTestRouter(t, RouterConfig{FailureThreshold: 1, OpenDuration: time.Minute}, backend("only", 1, 0))
	fakeFor(t, "only").fail = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Complete(ctx, service.CompletionRequest{Prompt: "p"})

	if got := r.Backends()[0].CircuitState; got != "closed" {
		t.Fatalf("cancellation tripped the breaker: %s", got)
	}
}

func TestRouter_CompleteStreamClosesChannel(t *testing.T) {
	r := newTestRouter(t, RouterConfig{}, backend("only", 1, 0))

	tokenCh := make(chan string, 16)
	resp, err := r.CompleteStream(context.Background(), service.CompletionRequest{Prompt: "p"}, tokenCh)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var tokens []string
	for tok := range tokenCh { // exits only if the router closed the channel
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 || resp == "" {
		t.Fatalf("no tokens or empty response: %v %q", tokens, resp)
	}
}

func TestCompleteNSequential(t *testing.T) {
	p := &fakeProvider{name: "x"}
	out, err := CompleteNSequential(context.Background(), p, "p", 4, CallOptions{})
	if err != nil {
		t.Fatalf("completeN: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d responses, want 4", len(out))
	}
	if p.callCount() != 4 {
		t.Fatalf("made %d calls, want 4", p.callCount())
	}
}

func TestRouter_NoEnabledBackends(t *testing.T) {
	cfg := backend("off", 1, 0)
	cfg.Enabled = false
	r := newTestRouter(t, RouterConfig{}, cfg)
	_, err := r.Complete(context.Background(), service.CompletionRequest{Prompt: "p"})
	if !errors.Is(err, ErrNoBackends) {
		t.Fatalf("want ErrNoBackends, got %v", err)
	}
}
