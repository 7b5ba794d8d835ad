package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/infrastructure/push"
	apperrors "github.com/mockforge/mockforge/pkg/errors"
)

// ChannelHandler serves the push-channel management surface.
type ChannelHandler struct {
	engine *push.Engine
}

// NewChannelHandler creates the channel management handler.
func NewChannelHandler(engine *push.Engine) *ChannelHandler {
	return &ChannelHandler{engine: engine}
}

// List returns every channel.
func (h *ChannelHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.engine.List()})
}

// Get returns one channel.
func (h *ChannelHandler) Get(c *gin.Context) {
	info, err := h.engine.Get(c.Param("name"))
	if err != nil {
		writeError(c, apperrors.NewNotFound("channel not found"))
		return
	}
	c.JSON(http.StatusOK, info)
}

// Create registers a channel from the request body.
func (h *ChannelHandler) Create(c *gin.Context) {
	var spec entity.PushChannelSpec
	if err := c.ShouldBindJSON(&spec); err != nil || spec.Name == "" {
		writeError(c, apperrors.NewBadRequest("channel spec requires a name"))
		return
	}
	if spec.Method == "" {
		spec.Method = "GET"
	}
	if spec.Path == "" {
		spec.Path = "/" + spec.Name
	}
	if err := h.engine.Register(spec); err != nil {
		if errors.Is(err, entity.ErrChannelExists) {
			writeError(c, apperrors.NewAlreadyExists("channel already exists with a different payload"))
			return
		}
		writeError(c, apperrors.NewInternal("channel registration failed", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": spec.Name})
}

// Delete destroys a channel.
func (h *ChannelHandler) Delete(c *gin.Context) {
	if err := h.engine.Unregister(c.Param("name")); err != nil {
		writeError(c, apperrors.NewNotFound("channel not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Start launches a channel's generator.
func (h *ChannelHandler) Start(c *gin.Context) {
	if err := h.engine.Start(c.Param("name")); err != nil {
		writeError(c, apperrors.NewNotFound("channel not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}

// Stop halts a channel's generator.
func (h *ChannelHandler) Stop(c *gin.Context) {
	if err := h.engine.Stop(c.Param("name")); err != nil {
		writeError(c, apperrors.NewNotFound("channel not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}
