// Package llm is the upstream model layer: pluggable provider adapters, a
// resilient weighted multi-backend router, retry, and per-backend circuit
// breakers.
package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
)

// CallOptions tune one completion call.
type CallOptions struct {
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0 = provider default
}

// Provider is one LLM backend adapter (OpenAI-compatible chat, Ollama
// native, LM Studio, Azure). Providers translate the prompt to the wire
// protocol and extract the generated string from the envelope.
type Provider interface {
	// Name returns the backend identifier from configuration.
	Name() string

	// Complete returns the generated text for one prompt.
	Complete(ctx context.Context, prompt string, opts CallOptions) (string, error)

	// CompleteStream emits token deltas on tokenCh as they arrive and
	// returns the accumulated text. tokenCh is NOT closed by the provider;
	// the caller owns the channel.
	CompleteStream(ctx context.Context, prompt string, opts CallOptions, tokenCh chan<- string) (string, error)

	// CompleteN generates n independent completions. Providers without a
	// native batch call use CompleteNSequential.
	CompleteN(ctx context.Context, prompt string, n int, opts CallOptions) ([]string, error)
}

// CompleteNSequential is the default CompleteN: n independent Complete calls.
func CompleteNSequential(ctx context.Context, p Provider, prompt string, n int, opts CallOptions) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		resp, err := p.Complete(ctx, prompt, opts)
		if err != nil {
			return out, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Provider + RegisterFactory("type", New).

// ProviderFactory creates a Provider from a backend config.
type ProviderFactory func(cfg entity.BackendConfig, logger *zap.Logger) (Provider, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (e.g. llm/openai).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for
// cfg.Provider. An empty type defaults to "openai".
func CreateProvider(cfg entity.BackendConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Provider
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger)
}
