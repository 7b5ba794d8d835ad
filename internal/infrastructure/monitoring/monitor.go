// Package monitoring collects process counters and serves them in
// Prometheus exposition format without pulling in a metrics dependency.
package monitoring

import (
	"sync/atomic"
	"time"
)

// Metrics are the raw counters. All fields are updated atomically.
type Metrics struct {
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	LLMCallsTotal uint64
	LLMTokensUsed uint64

	CacheHits   uint64
	CacheMisses uint64

	ActiveStreams    int64
	ChannelPublishes uint64

	RequestLatencySum   uint64 // nanoseconds
	RequestLatencyCount uint64

	ErrorsTotal uint64

	StartTime time.Time
}

// Monitor is the process-wide metrics collector.
type Monitor struct {
	metrics *Metrics
}

// NewMonitor creates a monitor.
func NewMonitor() *Monitor {
	return &Monitor{metrics: &Metrics{StartTime: time.Now()}}
}

// Counter increments.
func (m *Monitor) IncRequestTotal()     { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()   { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()    { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncLLMCall()          { atomic.AddUint64(&m.metrics.LLMCallsTotal, 1) }
func (m *Monitor) IncCacheHit()         { atomic.AddUint64(&m.metrics.CacheHits, 1) }
func (m *Monitor) IncCacheMiss()        { atomic.AddUint64(&m.metrics.CacheMisses, 1) }
func (m *Monitor) IncChannelPublish()   { atomic.AddUint64(&m.metrics.ChannelPublishes, 1) }
func (m *Monitor) IncError()            { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

// AddTokensUsed accumulates LLM token usage.
func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.LLMTokensUsed, uint64(n))
	}
}

// StreamStarted / StreamEnded track live SSE and websocket streams.
func (m *Monitor) StreamStarted() { atomic.AddInt64(&m.metrics.ActiveStreams, 1) }
func (m *Monitor) StreamEnded()   { atomic.AddInt64(&m.metrics.ActiveStreams, -1) }

// RecordRequestLatency accumulates one request's wall time.
func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// Stats is a point-in-time summary for the management surface.
type Stats struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	RequestsTotal   uint64  `json:"requests_total"`
	RequestsSuccess uint64  `json:"requests_success"`
	RequestsFailed  uint64  `json:"requests_failed"`
	LLMCalls        uint64  `json:"llm_calls"`
	TokensUsed      uint64  `json:"tokens_used"`
	CacheHits       uint64  `json:"cache_hits"`
	CacheMisses     uint64  `json:"cache_misses"`
	ActiveStreams   int64   `json:"active_streams"`
	ChannelPublish  uint64  `json:"channel_publishes"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	Errors          uint64  `json:"errors"`
}

// GetStats snapshots the counters.
func (m *Monitor) GetStats() Stats {
	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}
	return Stats{
		UptimeSeconds:   time.Since(m.metrics.StartTime).Seconds(),
		RequestsTotal:   atomic.LoadUint64(&m.metrics.RequestsTotal),
		RequestsSuccess: atomic.LoadUint64(&m.metrics.RequestsSuccess),
		RequestsFailed:  atomic.LoadUint64(&m.metrics.RequestsFailed),
		LLMCalls:        atomic.LoadUint64(&m.metrics.LLMCallsTotal),
		TokensUsed:      atomic.LoadUint64(&m.metrics.LLMTokensUsed),
		CacheHits:       atomic.LoadUint64(&m.metrics.CacheHits),
		CacheMisses:     atomic.LoadUint64(&m.metrics.CacheMisses),
		ActiveStreams:   atomic.LoadInt64(&m.metrics.ActiveStreams),
		ChannelPublish:  atomic.LoadUint64(&m.metrics.ChannelPublishes),
		AvgLatencyMs:    avgLatency,
		Errors:          atomic.LoadUint64(&m.metrics.ErrorsTotal),
	}
}
