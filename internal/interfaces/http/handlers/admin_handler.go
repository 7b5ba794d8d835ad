package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mockforge/mockforge/internal/domain/service"
	llminfra "github.com/mockforge/mockforge/internal/infrastructure/llm"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
)

// AdminHandler serves the management stats and backend surfaces.
type AdminHandler struct {
	monitor *monitoring.Monitor
	cache   service.VariantCache
	stats   service.EndpointStats
	router  *llminfra.Router
}

// NewAdminHandler creates the stats/backends handler.
func NewAdminHandler(monitor *monitoring.Monitor, cache service.VariantCache, stats service.EndpointStats, router *llminfra.Router) *AdminHandler {
	return &AdminHandler{monitor: monitor, cache: cache, stats: stats, router: router}
}

// Stats returns process counters, cache stats, and per-endpoint timings.
func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"process":   h.monitor.GetStats(),
		"cache":     h.cache.Stats(),
		"endpoints": h.stats.Snapshot(),
	})
}

// Backends returns every configured LLM backend with breaker state.
func (h *AdminHandler) Backends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backends": h.router.Backends()})
}
