package service

import (
	"context"
	"time"

	"github.com/mockforge/mockforge/internal/domain/entity"
)

// ProduceFunc generates one fresh response string for a variant-cache key.
type ProduceFunc func(ctx context.Context) (string, error)

// CacheStats is a best-effort snapshot of variant-cache counters.
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Entries     int   `json:"entries"`
	TotalQueued int   `json:"total_queued"`
}

// VariantCache is the keyed pool of pre-generated response variants.
// Handlers reference the process-wide cache through this capability only.
type VariantCache interface {
	// Acquire returns a pooled response for key, or produces one
	// synchronously on miss. The bool reports whether it was a pool hit.
	Acquire(ctx context.Context, key string, capacity int, produce ProduceFunc) (string, bool, error)

	Invalidate(key string)
	Stats() CacheStats
}

// ContextStore owns the named API contexts.
type ContextStore interface {
	Get(name string) (*entity.APIContext, bool)
	GetOrCreate(name string) *entity.APIContext
	Record(name, method, path, requestBody, responseBody string)
	MergeSharedData(name string, data map[string]string) error
	FormatForPrompt(name string) string
	Clear(name string) bool
	ClearAll()
	ListAll() []*entity.APIContext
}

// EndpointStats keeps the moving window of LLM elapsed times per fingerprint.
type EndpointStats interface {
	Record(key string, elapsed time.Duration)
	Average(key string) time.Duration
	Snapshot() map[string]EndpointTiming
}

// EndpointTiming is one fingerprint's timing summary.
type EndpointTiming struct {
	Samples   int           `json:"samples"`
	Average   time.Duration `json:"average"`
	LastSeen  time.Time     `json:"last_seen"`
	CallCount int64         `json:"call_count"`
}

// Synthesizer runs the core request-to-response pipeline. The push-channel
// engine and the streaming handler drive it with synthetic requests.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)
}

// SynthesisRequest is one pipeline invocation, already sanitized at the
// transport edge.
type SynthesisRequest struct {
	Method      string
	Path        string
	Body        string
	Shape       entity.ShapeInfo
	ContextName string
	Backend     string // pin, may be empty
	BypassCache bool   // push channels want freshness
	AutoChunk   bool
	CountHint   int // requested collection size, 0 = default
	JourneyHint string
	ToolResults string
}

// SynthesisResult is the pipeline's outcome.
type SynthesisResult struct {
	Body      string
	CacheHit  bool
	Elapsed   time.Duration
	ChunkedIn int // not populated by the pipeline; always 0, chunked or not
}
