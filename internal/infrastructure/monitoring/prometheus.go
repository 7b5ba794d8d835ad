package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text
// format metrics. This avoids pulling in the full prometheus/client_golang
// dependency. Mount it at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		stats := m.GetStats()

		lines := []struct {
			name string
			help string
			typ  string
			val  any
		}{
			{"mockforge_requests_total", "Total synthesized requests", "counter", stats.RequestsTotal},
			{"mockforge_requests_success_total", "Successful requests", "counter", stats.RequestsSuccess},
			{"mockforge_requests_failed_total", "Failed requests", "counter", stats.RequestsFailed},
			{"mockforge_llm_calls_total", "Upstream LLM calls", "counter", stats.LLMCalls},
			{"mockforge_llm_tokens_total", "LLM tokens consumed", "counter", stats.TokensUsed},
			{"mockforge_cache_hits_total", "Variant cache hits", "counter", stats.CacheHits},
			{"mockforge_cache_misses_total", "Variant cache misses", "counter", stats.CacheMisses},
			{"mockforge_active_streams", "Live SSE / websocket streams", "gauge", stats.ActiveStreams},
			{"mockforge_channel_publishes_total", "Push channel publishes", "counter", stats.ChannelPublish},
			{"mockforge_request_latency_avg_ms", "Mean request latency", "gauge", stats.AvgLatencyMs},
			{"mockforge_errors_total", "Errors", "counter", stats.Errors},
			{"mockforge_uptime_seconds", "Process uptime", "gauge", stats.UptimeSeconds},
			{"mockforge_goroutines", "Goroutine count", "gauge", runtime.NumGoroutine()},
			{"mockforge_memory_heap_bytes", "Heap in use", "gauge", memStats.HeapInuse},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n", l.name, l.help, l.name, l.typ, l.name, l.val)
		}
	})
}
