package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mockforge/mockforge/internal/infrastructure/protostore"
	"github.com/mockforge/mockforge/internal/infrastructure/specstore"
	apperrors "github.com/mockforge/mockforge/pkg/errors"
)

const maxSpecBytes = 4 << 20

// SpecHandler serves the /openapi/specs and /grpc-protos shape-source
// surfaces.
type SpecHandler struct {
	specs  *specstore.Store
	protos *protostore.Store
}

// NewSpecHandler creates the shape-source handler.
func NewSpecHandler(specs *specstore.Store, protos *protostore.Store) *SpecHandler {
	return &SpecHandler{specs: specs, protos: protos}
}

// ListSpecs returns loaded OpenAPI specs.
func (h *SpecHandler) ListSpecs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"specs": h.specs.List()})
}

// GetSpec returns one raw spec document.
func (h *SpecHandler) GetSpec(c *gin.Context) {
	raw, ok := h.specs.Get(c.Param("name"))
	if !ok {
		writeError(c, apperrors.NewNotFound("spec not found"))
		return
	}
	c.Data(http.StatusOK, "application/yaml", raw)
}

// PutSpec uploads a spec under a name.
func (h *SpecHandler) PutSpec(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSpecBytes))
	if err != nil || len(data) == 0 {
		writeError(c, apperrors.NewBadRequest("spec body required"))
		return
	}
	if err := h.specs.Add(c.Param("name"), data); err != nil {
		writeError(c, apperrors.NewBadRequest("spec rejected: "+err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": c.Param("name")})
}

// DeleteSpec removes a spec.
func (h *SpecHandler) DeleteSpec(c *gin.Context) {
	if !h.specs.Remove(c.Param("name")) {
		writeError(c, apperrors.NewNotFound("spec not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// ReloadSpecs re-reads the configured spec directory.
func (h *SpecHandler) ReloadSpecs(c *gin.Context) {
	if err := h.specs.Reload(); err != nil {
		writeError(c, apperrors.NewInternal("reload failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"specs": h.specs.List()})
}

// TestSpec validates a document without registering it.
func (h *SpecHandler) TestSpec(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSpecBytes))
	if err != nil || len(data) == 0 {
		writeError(c, apperrors.NewBadRequest("spec body required"))
		return
	}
	routes, err := h.specs.Test(data)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "routes": routes})
}

// ListProtos returns uploaded descriptor sets.
func (h *SpecHandler) ListProtos(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"protos": h.protos.List()})
}

// GetProto returns one raw descriptor-set blob.
func (h *SpecHandler) GetProto(c *gin.Context) {
	raw, ok := h.protos.Get(c.Param("name"))
	if !ok {
		writeError(c, apperrors.NewNotFound("proto not found"))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", raw)
}

// PutProto uploads a serialized FileDescriptorSet.
func (h *SpecHandler) PutProto(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSpecBytes))
	if err != nil || len(data) == 0 {
		writeError(c, apperrors.NewBadRequest("descriptor set body required"))
		return
	}
	if err := h.protos.Add(c.Param("name"), data); err != nil {
		writeError(c, apperrors.NewBadRequest("descriptor set rejected: "+err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": c.Param("name")})
}

// DeleteProto removes a descriptor set.
func (h *SpecHandler) DeleteProto(c *gin.Context) {
	if !h.protos.Remove(c.Param("name")) {
		writeError(c, apperrors.NewNotFound("proto not found"))
		return
	}
	c.Status(http.StatusNoContent)
}
