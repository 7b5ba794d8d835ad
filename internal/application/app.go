// Package application wires the process: configuration in, one App out,
// every singleton constructed exactly once and threaded through explicitly.
package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/application/usecase"
	"github.com/mockforge/mockforge/internal/infrastructure/apictx"
	"github.com/mockforge/mockforge/internal/infrastructure/cache"
	"github.com/mockforge/mockforge/internal/infrastructure/config"
	"github.com/mockforge/mockforge/internal/infrastructure/eventbus"
	"github.com/mockforge/mockforge/internal/infrastructure/journey"
	llminfra "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/internal/infrastructure/prompt"
	"github.com/mockforge/mockforge/internal/infrastructure/protostore"
	"github.com/mockforge/mockforge/internal/infrastructure/push"
	"github.com/mockforge/mockforge/internal/infrastructure/ratelimit"
	"github.com/mockforge/mockforge/internal/infrastructure/sanitize"
	"github.com/mockforge/mockforge/internal/infrastructure/shape"
	"github.com/mockforge/mockforge/internal/infrastructure/specstore"
	"github.com/mockforge/mockforge/internal/infrastructure/stats"
	"github.com/mockforge/mockforge/internal/infrastructure/tools"
	httpiface "github.com/mockforge/mockforge/internal/interfaces/http"
	"github.com/mockforge/mockforge/internal/interfaces/http/handlers"
	"github.com/mockforge/mockforge/internal/interfaces/websocket"
	"github.com/mockforge/mockforge/pkg/safego"

	// Provider factories register themselves in init().
	_ "github.com/mockforge/mockforge/internal/infrastructure/llm/azure"
	_ "github.com/mockforge/mockforge/internal/infrastructure/llm/lmstudio"
	_ "github.com/mockforge/mockforge/internal/infrastructure/llm/ollama"
	_ "github.com/mockforge/mockforge/internal/infrastructure/llm/openai"
)

// App owns every process-wide singleton and their background tasks.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	variantCache *cache.Cache
	contexts     *apictx.Store
	limiter      *ratelimit.ClientLimiter
	pushEngine   *push.Engine
	bus          *eventbus.InMemoryBus
	specs        *specstore.Store
	watcher      *specstore.Watcher
	server       *httpiface.Server
	monitor      *monitoring.Monitor

	bgCancel context.CancelFunc
}

// NewApp wires the full object graph.
func NewApp(rootCtx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	patterns, err := sanitize.NewPatternSet(cfg.Sanitize.ExtraPatterns)
	if err != nil {
		return nil, fmt.Errorf("sanitizer: %w", err)
	}

	keyExtractor, err := apictx.NewSharedKeyExtractor(cfg.Context.SharedKeyPatterns)
	if err != nil {
		return nil, fmt.Errorf("shared-key extractor: %w", err)
	}

	monitor := monitoring.NewMonitor()
	contexts := apictx.NewStore(apictx.Options{
		MaxRecentCalls: cfg.Context.MaxRecentCalls,
		Expiration:     time.Duration(cfg.Context.ExpirationMinutes) * time.Minute,
	}, keyExtractor, logger)

	variantCache := cache.New(cache.Options{
		DefaultCount: cfg.Cache.DefaultCount,
		MaxPerKey:    cfg.Cache.MaxPerKey,
		MaxItems:     cfg.Cache.MaxItems,
		Sliding:      time.Duration(cfg.Cache.SlidingMinutes) * time.Minute,
		Absolute:     time.Duration(cfg.Cache.AbsoluteMinutes) * time.Minute,
		Compression: cache.CompressionOptions{
			Enabled:  cfg.Cache.CompressionEnabled,
			MinBytes: cfg.Cache.CompressionMinBytes,
		},
		Stats: cfg.Cache.Stats,
	}, logger)

	router, err := llminfra.NewRouter(cfg.LLM.Backends, llminfra.RouterConfig{
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Retry: llminfra.RetryPolicy{
			Enabled:     cfg.LLM.EnableRetry,
			MaxAttempts: cfg.LLM.MaxRetryAttempts,
			BaseDelay:   time.Duration(cfg.LLM.RetryBaseDelaySeconds) * time.Second,
		},
		FailureThreshold: cfg.LLM.BreakerFailureThreshold,
		OpenDuration:     time.Duration(cfg.LLM.BreakerOpenSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("llm router: %w", err)
	}

	endpointStats := stats.NewStore(cfg.RateLimit.StatsWindowSize)
	specs := specstore.NewStore(cfg.Specs.Dir, logger)
	if err := specs.Reload(); err != nil {
		logger.Warn("Initial spec load failed", zap.Error(err))
	}
	protos := protostore.NewStore()
	journeys := journey.NewStore()
	builder := prompt.NewBuilder(patterns, cfg.Sanitize.MaxLen)
	extractor := shape.NewExtractor(cfg.Cache.MaxPerKey, logger)

	pipeline := usecase.NewPipeline(
		router, variantCache, contexts, endpointStats, builder,
		llminfra.NewTokenCounter(), specs, monitor,
		usecase.Options{
			Temperature:      cfg.LLM.Temperature,
			MaxRetryAttempts: cfg.LLM.MaxRetryAttempts,
			MaxContextWindow: cfg.LLM.MaxContextWindow,
			EnableAutoChunk:  cfg.LLM.EnableAutoChunk,
		}, logger)

	bus := eventbus.NewInMemoryBus(logger, 256)
	pushEngine := push.NewEngine(rootCtx, pipeline, bus, push.Options{
		Interval: time.Duration(cfg.Push.IntervalMs) * time.Millisecond,
	}, logger)

	limiter := ratelimit.NewClientLimiter(cfg.Ingress.RequestsPerMinute)
	delayPolicy := ratelimit.DelayPolicy{Enabled: cfg.RateLimit.Enabled, Range: cfg.RateLimit.DelayRange}

	wsHub := websocket.NewHub(pushEngine, logger)
	invoker := tools.NewInvoker(logger)

	handlerSet := httpiface.Handlers{
		Mock: handlers.NewMockHandler(pipeline, extractor, endpointStats, journeys, invoker, monitor,
			handlers.MockOptions{
				RandomDelayMinMs: cfg.Server.RandomDelayMinMs,
				RandomDelayMaxMs: cfg.Server.RandomDelayMaxMs,
				StatsEnabled:     cfg.Cache.Stats,
				AutoChunk:        cfg.LLM.EnableAutoChunk,
				DelayPolicy:      delayPolicy,
			}, logger),
		Stream: handlers.NewStreamHandler(pipeline, extractor, monitor,
			handlers.StreamOptions{
				DefaultMode:          cfg.Streaming.DefaultMode,
				ChunkDelayMinMs:      cfg.Streaming.ChunkDelayMinMs,
				ChunkDelayMaxMs:      cfg.Streaming.ChunkDelayMaxMs,
				ContinuousIntervalMs: cfg.Streaming.ContinuousIntervalMs,
				ContinuousMaxSeconds: cfg.Streaming.ContinuousMaxSeconds,
			}, logger),
		GraphQL: handlers.NewGraphQLHandler(pipeline, monitor, logger),
		Context: handlers.NewContextHandler(contexts),
		Channel: handlers.NewChannelHandler(pushEngine),
		Journey: handlers.NewJourneyHandler(journeys),
		Spec:    handlers.NewSpecHandler(specs, protos),
		Admin:   handlers.NewAdminHandler(monitor, variantCache, endpointStats, router),
		WSHub:   wsHub,
		Monitor: monitor,
		Limiter: limiter,
	}

	app := &App{
		cfg:          cfg,
		logger:       logger,
		variantCache: variantCache,
		contexts:     contexts,
		limiter:      limiter,
		pushEngine:   pushEngine,
		bus:          bus,
		specs:        specs,
		monitor:      monitor,
		server:       httpiface.NewServer(*cfg, handlerSet, logger),
	}
	if cfg.Specs.Watch && cfg.Specs.Dir != "" {
		app.watcher = specstore.NewWatcher(specs, logger)
	}
	return app, nil
}

// Start launches the background sweepers, the spec watcher, and the HTTP
// server.
func (a *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancel = cancel

	safego.Go(a.logger, "cache-sweeper", func() { a.variantCache.Run(bgCtx) })
	safego.Go(a.logger, "context-sweeper", func() { a.contexts.Run(bgCtx) })
	safego.Go(a.logger, "ratelimit-sweeper", func() { a.limiter.Run(bgCtx) })
	if a.watcher != nil {
		safego.Go(a.logger, "spec-watcher", func() { a.watcher.Run(bgCtx) })
	}

	return a.server.Start(ctx)
}

// Stop shuts the process down: push generators first, then the HTTP drain,
// then the background tasks and the bus.
func (a *App) Stop(ctx context.Context) error {
	a.pushEngine.Shutdown()
	err := a.server.Stop(ctx)
	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.bus.Close()
	return err
}
