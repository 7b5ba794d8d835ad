package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/infrastructure/journey"
	apperrors "github.com/mockforge/mockforge/pkg/errors"
)

// JourneyHandler serves the /journeys management surface.
type JourneyHandler struct {
	store *journey.Store
}

// NewJourneyHandler creates the journey handler.
func NewJourneyHandler(store *journey.Store) *JourneyHandler {
	return &JourneyHandler{store: store}
}

// ListTemplates returns every template.
func (h *JourneyHandler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.store.Templates()})
}

// AddTemplate registers or replaces a template.
func (h *JourneyHandler) AddTemplate(c *gin.Context) {
	var tmpl entity.JourneyTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil || tmpl.Name == "" || len(tmpl.Steps) == 0 {
		writeError(c, apperrors.NewBadRequest("template requires a name and at least one step"))
		return
	}
	h.store.AddTemplate(tmpl)
	c.JSON(http.StatusCreated, gin.H{"name": tmpl.Name})
}

// DeleteTemplate removes a template.
func (h *JourneyHandler) DeleteTemplate(c *gin.Context) {
	if err := h.store.RemoveTemplate(c.Param("name")); err != nil {
		writeError(c, apperrors.NewNotFound("template not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// startSessionRequest is the POST body for session start.
type startSessionRequest struct {
	Template  string            `json:"template" binding:"required"`
	Variables map[string]string `json:"variables"`
}

// StartSession creates a session from a template.
func (h *JourneyHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewBadRequest("template is required"))
		return
	}
	inst, err := h.store.StartSession(req.Template, req.Variables)
	if err != nil {
		writeError(c, apperrors.NewNotFound("template not found"))
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// GetSession returns one session.
func (h *JourneyHandler) GetSession(c *gin.Context) {
	inst, err := h.store.Session(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.NewNotFound("session not found"))
		return
	}
	c.JSON(http.StatusOK, inst)
}

// Advance moves a session to its next step.
func (h *JourneyHandler) Advance(c *gin.Context) {
	inst, err := h.store.Advance(c.Param("id"))
	switch {
	case errors.Is(err, entity.ErrSessionNotFound):
		writeError(c, apperrors.NewNotFound("session not found"))
	case errors.Is(err, entity.ErrJourneyComplete):
		c.JSON(http.StatusConflict, gin.H{"error": "journey already completed", "session": inst})
	default:
		c.JSON(http.StatusOK, inst)
	}
}

// End removes a session.
func (h *JourneyHandler) End(c *gin.Context) {
	if err := h.store.End(c.Param("id")); err != nil {
		writeError(c, apperrors.NewNotFound("session not found"))
		return
	}
	c.Status(http.StatusNoContent)
}
