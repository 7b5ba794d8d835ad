package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/application/usecase"
	"github.com/mockforge/mockforge/internal/domain/service"
	"github.com/mockforge/mockforge/internal/infrastructure/journey"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/internal/infrastructure/ratelimit"
	"github.com/mockforge/mockforge/internal/infrastructure/shape"
	"github.com/mockforge/mockforge/internal/infrastructure/tools"
)

// AvgTimeHeader reports the endpoint's moving-average LLM time when
// statistics are enabled.
const AvgTimeHeader = "X-LLMApi-Avg-Time"

// MockOptions carry the handler-level tunables.
type MockOptions struct {
	RandomDelayMinMs int
	RandomDelayMaxMs int
	StatsEnabled     bool
	AutoChunk        bool
	DelayPolicy      ratelimit.DelayPolicy
}

// MockHandler serves the ANY {prefix}/** surface: the non-streaming
// synthesis path and the N-fanout variants.
type MockHandler struct {
	pipeline  *usecase.Pipeline
	extractor *shape.Extractor
	stats     service.EndpointStats
	journeys  *journey.Store
	invoker   *tools.Invoker
	monitor   *monitoring.Monitor
	opts      MockOptions
	logger    *zap.Logger
}

// NewMockHandler creates the regular handler.
func NewMockHandler(
	pipeline *usecase.Pipeline,
	extractor *shape.Extractor,
	stats service.EndpointStats,
	journeys *journey.Store,
	invoker *tools.Invoker,
	monitor *monitoring.Monitor,
	opts MockOptions,
	logger *zap.Logger,
) *MockHandler {
	return &MockHandler{
		pipeline:  pipeline,
		extractor: extractor,
		stats:     stats,
		journeys:  journeys,
		invoker:   invoker,
		monitor:   monitor,
		opts:      opts,
		logger:    logger.With(zap.String("component", "mock-handler")),
	}
}

// Handle synthesizes one JSON response for any method and path under the
// mock prefix.
func (h *MockHandler) Handle(c *gin.Context) {
	start := time.Now()
	h.monitor.IncRequestTotal()

	randomDelay(c, h.opts.RandomDelayMinMs, h.opts.RandomDelayMaxMs)

	extracted := h.extractor.FromRequest(c.Request)
	req := h.buildRequest(c, extracted)

	// Simulated errors short-circuit before any upstream work.
	if cfg := req.Shape.ErrorConfig; cfg != nil {
		h.monitor.IncRequestFailed()
		body := gin.H{"status": cfg.Status}
		if cfg.Message != "" {
			body["message"] = cfg.Message
		}
		if cfg.Details != "" {
			body["details"] = cfg.Details
		}
		c.JSON(cfg.Status, body)
		return
	}

	n := queryInt(c, "n", 1)
	if n > 1 {
		h.handleFanout(c, req, n)
		return
	}

	sm := service.NewRequestStateMachine(h.logger)
	if h.opts.RandomDelayMaxMs > 0 {
		sm.Transition(service.StateDelaying)
	}
	sm.Transition(service.StateCacheLookup)

	result, err := h.pipeline.Synthesize(c.Request.Context(), req)
	if err != nil {
		sm.Transition(service.StateProducing)
		sm.Transition(service.StateErroring)
		h.failSynthesis(c, err)
		return
	}
	if result.CacheHit {
		sm.MarkCacheHit()
		sm.Transition(service.StateHit)
	} else {
		sm.MarkLLMCall()
		sm.Transition(service.StateProducing)
	}

	h.applySimulatedDelay(c, req)

	sm.Transition(service.StateDelivering)
	h.writeBody(c, req, result.Body)
	sm.Transition(service.StateDone)

	h.monitor.IncRequestSuccess()
	h.monitor.RecordRequestLatency(time.Since(start))
}

// handleFanout serves ?n= requests. Sequential and Parallel deliver one JSON
// array; Streaming switches to SSE with one event per completed result.
func (h *MockHandler) handleFanout(c *gin.Context, req service.SynthesisRequest, n int) {
	strategy := usecase.ResolveStrategy(
		queryOrHeader(c, "strategy", "X-Rate-Limit-Strategy"), n)
	delay := h.delayFor(c, req)

	if strategy == usecase.StrategyStreaming {
		h.streamFanout(c, req, n, delay)
		return
	}

	results := make([]string, 0, n)
	for r := range h.pipeline.FanOut(c.Request.Context(), req, n, strategy, delay) {
		if r.Err != nil {
			h.failSynthesis(c, r.Err)
			return
		}
		results = append(results, r.Body)
	}
	if c.Request.Context().Err() != nil {
		return
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i, body := range results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(body)
	}
	sb.WriteByte(']')

	h.monitor.IncRequestSuccess()
	c.Data(http.StatusOK, "application/json", []byte(sb.String()))
}

// streamFanout emits fan-out results as SSE events in completion order.
func (h *MockHandler) streamFanout(c *gin.Context, req service.SynthesisRequest, n int, delay time.Duration) {
	setSSEHeaders(c)
	h.monitor.StreamStarted()
	defer h.monitor.StreamEnded()

	emitted := 0
	for r := range h.pipeline.FanOut(c.Request.Context(), req, n, usecase.StrategyStreaming, delay) {
		if r.Err != nil {
			writeSSE(c, gin.H{"error": MapUpstreamError(r.Err).Error(), "index": emitted, "done": false})
			continue
		}
		emitted++
		writeSSE(c, gin.H{
			"data":  json.RawMessage(r.Body),
			"index": emitted - 1,
			"total": n,
			"done":  false,
		})
	}
	if c.Request.Context().Err() == nil {
		writeSSE(c, gin.H{"done": true, "total": n})
	}
}

// buildRequest folds the request knobs into one pipeline invocation.
func (h *MockHandler) buildRequest(c *gin.Context, extracted shape.Extracted) service.SynthesisRequest {
	req := service.SynthesisRequest{
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		Body:        extracted.Body,
		Shape:       extracted.Shape,
		ContextName: c.Query("context"),
		Backend:     queryOrHeader(c, "backend", "X-LLM-Backend"),
		AutoChunk:   h.opts.AutoChunk,
		CountHint:   queryInt(c, "count", 0),
	}
	if c.Query("autoChunk") == "false" {
		req.AutoChunk = false
	}

	if sessionID := c.Query("journey"); sessionID != "" {
		req.JourneyHint = h.journeys.StepHint(sessionID)
	}

	if toolHeader := c.GetHeader(tools.Header); toolHeader != "" {
		calls := tools.ParseHeader(toolHeader)
		req.ToolResults = h.invoker.Invoke(c.Request.Context(), calls)
	}
	return req
}

func (h *MockHandler) failSynthesis(c *gin.Context, err error) {
	if c.Request.Context().Err() != nil {
		// Client is gone; nothing to write.
		c.Abort()
		return
	}
	h.monitor.IncRequestFailed()
	h.monitor.IncError()
	mapped := MapUpstreamError(err)
	if secs := RetryAfterSeconds(err); secs > 0 {
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	writeError(c, mapped)
}

func (h *MockHandler) delayFor(c *gin.Context, req service.SynthesisRequest) time.Duration {
	policy := h.opts.DelayPolicy.Override(queryOrHeader(c, "rateLimit", "X-Rate-Limit-Delay"))
	key := shape.Fingerprint(req.Method, req.Path, req.Shape)
	return policy.Compute(h.stats.Average(key))
}

// applySimulatedDelay sleeps the §4.11 delay before delivery.
func (h *MockHandler) applySimulatedDelay(c *gin.Context, req service.SynthesisRequest) {
	d := h.delayFor(c, req)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.Request.Context().Done():
	}
}

func (h *MockHandler) writeBody(c *gin.Context, req service.SynthesisRequest, body string) {
	if h.opts.StatsEnabled {
		key := shape.Fingerprint(req.Method, req.Path, req.Shape)
		if avg := h.stats.Average(key); avg > 0 {
			c.Header(AvgTimeHeader, fmt.Sprintf("%.0fms", float64(avg.Milliseconds())))
		}
	}

	if c.Query("includeSchema") == "true" && req.Shape.HasShape() {
		c.Data(http.StatusOK, "application/json",
			[]byte(fmt.Sprintf(`{"data":%s,"schema":%s}`, body, strconv.Quote(req.Shape.Shape))))
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(body))
}
