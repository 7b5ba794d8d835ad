package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/application/usecase"
	"github.com/mockforge/mockforge/internal/domain/service"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/internal/infrastructure/shape"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// SSEMode selects the streaming rendition.
type SSEMode string

const (
	ModeLlmTokens       SSEMode = "LlmTokens"
	ModeCompleteObjects SSEMode = "CompleteObjects"
	ModeArrayItems      SSEMode = "ArrayItems"
)

func parseMode(raw, fallback string) SSEMode {
	for _, m := range []SSEMode{ModeLlmTokens, ModeCompleteObjects, ModeArrayItems} {
		if strings.EqualFold(raw, string(m)) {
			return m
		}
	}
	for _, m := range []SSEMode{ModeLlmTokens, ModeCompleteObjects, ModeArrayItems} {
		if strings.EqualFold(fallback, string(m)) {
			return m
		}
	}
	return ModeLlmTokens
}

// StreamOptions carry the streaming tunables.
type StreamOptions struct {
	DefaultMode          string
	ChunkDelayMinMs      int
	ChunkDelayMaxMs      int
	ContinuousIntervalMs int
	ContinuousMaxSeconds int // 0 = unlimited
}

// StreamHandler serves the ANY {prefix}/stream/** surface.
type StreamHandler struct {
	pipeline  *usecase.Pipeline
	extractor *shape.Extractor
	monitor   *monitoring.Monitor
	opts      StreamOptions
	logger    *zap.Logger
}

// NewStreamHandler creates the streaming handler.
func NewStreamHandler(pipeline *usecase.Pipeline, extractor *shape.Extractor, monitor *monitoring.Monitor, opts StreamOptions, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		pipeline:  pipeline,
		extractor: extractor,
		monitor:   monitor,
		opts:      opts,
		logger:    logger.With(zap.String("component", "stream-handler")),
	}
}

// setSSEHeaders prepares the response for text/event-stream delivery.
func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
}

// writeSSE emits one `data: <JSON>` frame and flushes.
func writeSSE(c *gin.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// writeSSEEvent emits a named event frame (only the token mode names one).
func writeSSEEvent(c *gin.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

// Handle streams one synthesized response, or runs continuous mode when
// ?continuous=true.
func (h *StreamHandler) Handle(c *gin.Context) {
	h.monitor.IncRequestTotal()
	extracted := h.extractor.FromRequest(c.Request)

	req := service.SynthesisRequest{
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		Body:        extracted.Body,
		Shape:       extracted.Shape,
		ContextName: c.Query("context"),
		Backend:     queryOrHeader(c, "backend", "X-LLM-Backend"),
		BypassCache: true,
	}
	mode := parseMode(c.Query("sseMode"), h.opts.DefaultMode)

	setSSEHeaders(c)
	h.monitor.StreamStarted()
	defer h.monitor.StreamEnded()

	if cfg := req.Shape.ErrorConfig; cfg != nil {
		writeSSE(c, gin.H{"error": cfg.Message, "status": cfg.Status, "done": true})
		return
	}

	if c.Query("continuous") == "true" {
		h.handleContinuous(c, req, mode)
		return
	}

	h.streamOnce(c, req, mode, 0)
	if c.Request.Context().Err() == nil {
		writeSSE(c, gin.H{"done": true})
	}
}

// streamOnce emits one generation's events. batch tags continuous
// iterations; zero means one-shot.
func (h *StreamHandler) streamOnce(c *gin.Context, req service.SynthesisRequest, mode SSEMode, batch int) {
	ctx := c.Request.Context()

	if mode == ModeLlmTokens {
		tokenCh := make(chan string, 64)
		done := make(chan struct{})
		var accumulated strings.Builder

		go func() {
			defer close(done)
			for token := range tokenCh {
				if ctx.Err() != nil {
					continue // drain without writing after disconnect
				}
				accumulated.WriteString(token)
				event := gin.H{"chunk": token, "accumulated": accumulated.String(), "done": false}
				if batch > 0 {
					event["batch"] = batch
				}
				writeSSEEvent(c, "token", event)
				h.chunkDelay(ctx)
			}
		}()

		_, err := h.pipeline.SynthesizeStream(ctx, req, tokenCh)
		<-done
		if err != nil && ctx.Err() == nil {
			writeSSE(c, gin.H{"error": MapUpstreamError(err).Error(), "done": false})
			return
		}
		if ctx.Err() == nil {
			writeSSEEvent(c, "token", gin.H{"chunk": "", "accumulated": accumulated.String(), "done": true})
		}
		return
	}

	// Object modes accumulate the full document first.
	result, err := h.pipeline.Synthesize(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			writeSSE(c, gin.H{"error": MapUpstreamError(err).Error(), "done": false})
		}
		return
	}

	root, err := jsontree.ParseString(result.Body)
	if err != nil {
		writeSSE(c, gin.H{"error": "generated document is not valid JSON", "done": false})
		return
	}

	arrayName, arr := root.FirstArray()
	switch {
	case mode == ModeArrayItems && arr != nil:
		total := len(arr.Items)
		for i, item := range arr.Items {
			if ctx.Err() != nil {
				return
			}
			event := gin.H{
				"data":      json.RawMessage(item.Render()),
				"index":     i,
				"total":     total,
				"arrayName": arrayName,
				"hasMore":   i < total-1,
				"done":      false,
			}
			if batch > 0 {
				event["batch"] = batch
			}
			writeSSE(c, event)
			h.chunkDelay(ctx)
		}
	case root.Kind == jsontree.Arr:
		// A bare top-level array: one event per element.
		total := len(arr.Items)
		for i, item := range arr.Items {
			if ctx.Err() != nil {
				return
			}
			event := gin.H{"data": json.RawMessage(item.Render()), "index": i, "total": total, "done": false}
			if batch > 0 {
				event["batch"] = batch
			}
			writeSSE(c, event)
			h.chunkDelay(ctx)
		}
	default:
		event := gin.H{"data": json.RawMessage(result.Body), "index": 0, "total": 1, "done": false}
		if batch > 0 {
			event["batch"] = batch
		}
		writeSSE(c, event)
	}
}

// handleContinuous re-runs the pipeline on an interval until the max
// duration elapses or the client disconnects. Each iteration leads with an
// info event tagged with a monotonically increasing batch number.
func (h *StreamHandler) handleContinuous(c *gin.Context, req service.SynthesisRequest, mode SSEMode) {
	ctx := c.Request.Context()

	interval := time.Duration(queryInt(c, "interval", h.opts.ContinuousIntervalMs)) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxDuration := time.Duration(queryInt(c, "maxDuration", h.opts.ContinuousMaxSeconds)) * time.Second

	var deadline <-chan time.Time
	if maxDuration > 0 {
		timer := time.NewTimer(maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for batch := 1; ; batch++ {
		writeSSE(c, gin.H{
			"info":     "generating",
			"batch":    batch,
			"interval": interval.Milliseconds(),
		})
		h.streamOnce(c, req, mode, batch)

		select {
		case <-ctx.Done():
			return
		case <-deadline:
			writeSSE(c, gin.H{"done": true, "batches": batch})
			return
		case <-ticker.C:
		}
	}
}

// chunkDelay sleeps a sample of the configured inter-emission delay.
func (h *StreamHandler) chunkDelay(ctx context.Context) {
	maxMs := h.opts.ChunkDelayMaxMs
	minMs := h.opts.ChunkDelayMinMs
	if maxMs <= 0 || maxMs < minMs {
		return
	}
	span := maxMs - minMs
	d := time.Duration(minMs) * time.Millisecond
	if span > 0 {
		d += time.Duration(rand.Intn(span+1)) * time.Millisecond
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
