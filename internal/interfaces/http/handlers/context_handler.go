package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mockforge/mockforge/internal/domain/service"
	apperrors "github.com/mockforge/mockforge/pkg/errors"
)

// ContextHandler serves the /contexts management surface.
type ContextHandler struct {
	store service.ContextStore
}

// NewContextHandler creates the context management handler.
func NewContextHandler(store service.ContextStore) *ContextHandler {
	return &ContextHandler{store: store}
}

// List returns every live context.
func (h *ContextHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"contexts": h.store.ListAll()})
}

// Get returns one context by name.
func (h *ContextHandler) Get(c *gin.Context) {
	ctx, ok := h.store.Get(c.Param("name"))
	if !ok {
		writeError(c, apperrors.NewNotFound("context not found"))
		return
	}
	c.JSON(http.StatusOK, ctx)
}

// recordCallRequest is the POST body for manual call injection.
type recordCallRequest struct {
	Method       string `json:"method" binding:"required"`
	Path         string `json:"path" binding:"required"`
	RequestBody  string `json:"request_body"`
	ResponseBody string `json:"response_body"`
}

// AddCall appends a call to a context (creating it when absent).
func (h *ContextHandler) AddCall(c *gin.Context) {
	var req recordCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewBadRequest("method and path are required"))
		return
	}
	h.store.Record(c.Param("name"), req.Method, req.Path, req.RequestBody, req.ResponseBody)
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// PatchShared merges key/value pairs into a context's shared data.
func (h *ContextHandler) PatchShared(c *gin.Context) {
	var data map[string]string
	if err := c.ShouldBindJSON(&data); err != nil {
		writeError(c, apperrors.NewBadRequest("body must be an object of string values"))
		return
	}
	if err := h.store.MergeSharedData(c.Param("name"), data); err != nil {
		writeError(c, apperrors.NewNotFound("context not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": len(data)})
}

// Clear removes one context.
func (h *ContextHandler) Clear(c *gin.Context) {
	if !h.store.Clear(c.Param("name")) {
		writeError(c, apperrors.NewNotFound("context not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearAll removes every context.
func (h *ContextHandler) ClearAll(c *gin.Context) {
	h.store.ClearAll()
	c.Status(http.StatusNoContent)
}
