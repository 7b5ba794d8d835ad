// Package usecase orchestrates the request-to-response pipeline: sanitize →
// shape → cache → prompt → resilient LLM call → JSON validation → context
// recording.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/service"
	llminfra "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/internal/infrastructure/prompt"
	"github.com/mockforge/mockforge/internal/infrastructure/shape"
	"github.com/mockforge/mockforge/internal/infrastructure/specstore"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// Options tune the pipeline.
type Options struct {
	Temperature      float64
	MaxRetryAttempts int // JSON-invalid regeneration bound
	MaxContextWindow int
	EnableAutoChunk  bool
	DefaultItemCount int // assumed collection size when the request gives none
}

// Pipeline implements service.Synthesizer. It owns nothing: every
// collaborator is a capability handed in at construction.
type Pipeline struct {
	llm      service.LLMClient
	cache    service.VariantCache
	contexts service.ContextStore
	stats    service.EndpointStats
	builder  *prompt.Builder
	counter  *llminfra.TokenCounter
	specs    *specstore.Store
	monitor  *monitoring.Monitor
	opts     Options
	logger   *zap.Logger
}

// Compile-time interface check
var _ service.Synthesizer = (*Pipeline)(nil)

// NewPipeline wires the synthesis pipeline.
func NewPipeline(
	llm service.LLMClient,
	cache service.VariantCache,
	contexts service.ContextStore,
	stats service.EndpointStats,
	builder *prompt.Builder,
	counter *llminfra.TokenCounter,
	specs *specstore.Store,
	monitor *monitoring.Monitor,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if opts.MaxRetryAttempts < 0 {
		opts.MaxRetryAttempts = 0
	}
	if opts.MaxContextWindow <= 0 {
		opts.MaxContextWindow = 8192
	}
	if opts.DefaultItemCount <= 0 {
		opts.DefaultItemCount = 10
	}
	return &Pipeline{
		llm:      llm,
		cache:    cache,
		contexts: contexts,
		stats:    stats,
		builder:  builder,
		counter:  counter,
		specs:    specs,
		monitor:  monitor,
		opts:     opts,
		logger:   logger.With(zap.String("component", "pipeline")),
	}
}

// Synthesize implements service.Synthesizer.
func (p *Pipeline) Synthesize(ctx context.Context, req service.SynthesisRequest) (service.SynthesisResult, error) {
	start := time.Now()

	// A request without a shape may still match a loaded OpenAPI operation.
	if !req.Shape.HasShape() && p.specs != nil {
		if specShape, isSchema, ok := p.specs.ShapeFor(req.Method, req.Path); ok {
			req.Shape.Shape = specShape
			req.Shape.IsJSONSchema = isSchema
		}
	}

	// Simulated errors skip the LLM and the cache entirely.
	if req.Shape.ErrorConfig != nil {
		body, err := json.Marshal(req.Shape.ErrorConfig)
		if err != nil {
			return service.SynthesisResult{}, err
		}
		return service.SynthesisResult{Body: string(body), Elapsed: time.Since(start)}, nil
	}

	key := shape.Fingerprint(req.Method, req.Path, req.Shape)
	produce := func(produceCtx context.Context) (string, error) {
		return p.produce(produceCtx, req, key)
	}

	var body string
	var hit bool
	var err error
	if req.BypassCache {
		body, err = produce(ctx)
	} else {
		body, hit, err = p.cache.Acquire(ctx, key, req.Shape.CacheCount, produce)
	}
	if err != nil {
		return service.SynthesisResult{}, err
	}

	if hit {
		p.monitor.IncCacheHit()
	} else {
		p.monitor.IncCacheMiss()
	}

	if req.ContextName != "" {
		p.contexts.Record(req.ContextName, req.Method, req.Path, req.Body, body)
	}

	return service.SynthesisResult{
		Body:     body,
		CacheHit: hit,
		Elapsed:  time.Since(start),
	}, nil
}

// SynthesizeStream runs the pipeline with token streaming: deltas are
// emitted on tokenCh as the provider produces them and the accumulated text
// is returned. The variant cache is bypassed — pooled variants cannot
// stream. tokenCh is closed before returning.
func (p *Pipeline) SynthesizeStream(ctx context.Context, req service.SynthesisRequest, tokenCh chan<- string) (string, error) {
	if !req.Shape.HasShape() && p.specs != nil {
		if specShape, isSchema, ok := p.specs.ShapeFor(req.Method, req.Path); ok {
			req.Shape.Shape = specShape
			req.Shape.IsJSONSchema = isSchema
		}
	}

	key := shape.Fingerprint(req.Method, req.Path, req.Shape)
	built := p.builder.Build(p.promptInput(req))

	llmStart := time.Now()
	p.monitor.IncLLMCall()
	accumulated, err := p.llm.CompleteStream(ctx, service.CompletionRequest{
		Prompt:      built,
		Temperature: p.opts.Temperature,
		Backend:     req.Backend,
	}, tokenCh)
	if err != nil {
		return accumulated, err
	}
	p.stats.Record(key, time.Since(llmStart))

	if req.ContextName != "" {
		p.contexts.Record(req.ContextName, req.Method, req.Path, req.Body, accumulated)
	}
	return accumulated, nil
}

// produce builds the prompt, calls the LLM (chunked when the response budget
// demands it), and enforces JSON validity with bounded regeneration.
func (p *Pipeline) produce(ctx context.Context, req service.SynthesisRequest, key string) (string, error) {
	input := p.promptInput(req)

	if p.shouldChunk(req, input) {
		return p.produceChunked(ctx, req, input, key)
	}

	var lastErr error
	attempts := p.opts.MaxRetryAttempts + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		built := p.builder.Build(input)
		llmStart := time.Now()
		p.monitor.IncLLMCall()
		raw, err := p.llm.Complete(ctx, service.CompletionRequest{
			Prompt:      built,
			Temperature: p.opts.Temperature,
			Backend:     req.Backend,
		})
		elapsed := time.Since(llmStart)
		if err != nil {
			return "", err
		}
		p.stats.Record(key, elapsed)
		p.monitor.AddTokensUsed(p.counter.Count(raw, ""))

		cleaned := jsontree.StripCodeFence(raw)
		if jsontree.Valid(cleaned) {
			return cleaned, nil
		}
		lastErr = fmt.Errorf("attempt %d: model output is not valid JSON", attempt)
		p.logger.Debug("Invalid JSON from model, regenerating",
			zap.String("key", key),
			zap.Int("attempt", attempt),
		)
	}
	return "", llminfra.NewParseError("pipeline", lastErr)
}

// promptInput assembles the builder input, pulling in the API-context block
// and any journey/tool material the transport resolved.
func (p *Pipeline) promptInput(req service.SynthesisRequest) prompt.Input {
	var contextBlock string
	if req.ContextName != "" {
		contextBlock = p.contexts.FormatForPrompt(req.ContextName)
	}
	return prompt.Input{
		Method:       req.Method,
		Path:         req.Path,
		Body:         req.Body,
		Shape:        req.Shape,
		ContextBlock: contextBlock,
		JourneyHint:  req.JourneyHint,
		ToolResults:  req.ToolResults,
	}
}
