// Package handlers holds the gin handlers for the mock surface and the
// management API.
package handlers

import (
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	llminfra "github.com/mockforge/mockforge/internal/infrastructure/llm"
	apperrors "github.com/mockforge/mockforge/pkg/errors"
)

// writeError emits the single JSON error envelope used everywhere. Messages
// are redacted before they leave the process.
func writeError(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	code := apperrors.CodeOf(err)

	message := "internal error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   string(code),
		"message": apperrors.Redact(message),
	})
}

// MapUpstreamError translates LLM-layer failures into the application error
// kinds the envelope writer understands.
func MapUpstreamError(err error) error {
	if err == nil {
		return nil
	}

	var allOpen *llminfra.AllBackendsOpenError
	if errors.As(err, &allOpen) {
		return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "all llm backends are unavailable", err)
	}
	if errors.Is(err, llminfra.ErrNoBackends) {
		return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "no llm backend configured", err)
	}
	if llminfra.IsTimeout(err) {
		return apperrors.Wrap(apperrors.CodeUpstreamTimeout, "llm deadline exceeded", err)
	}

	var pe *llminfra.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case llminfra.FailParse, llminfra.FailEmpty:
			return apperrors.Wrap(apperrors.CodeUpstreamBadOutput, "llm returned unparseable output", err)
		default:
			return apperrors.Wrap(apperrors.CodeUpstreamUnavail, "llm backend failed", err)
		}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewInternal("synthesis failed", err)
}

// RetryAfterSeconds extracts the suggested wait for 503 responses, zero when
// none applies.
func RetryAfterSeconds(err error) int {
	var allOpen *llminfra.AllBackendsOpenError
	if errors.As(err, &allOpen) {
		secs := int(allOpen.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		return secs
	}
	return 0
}

// queryInt parses an integer query parameter with a default.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// queryOrHeader reads a knob from its query form first, then the header
// equivalent.
func queryOrHeader(c *gin.Context, query, header string) string {
	if v := c.Query(query); v != "" {
		return v
	}
	return c.GetHeader(header)
}

// randomDelay sleeps a uniform sample of [minMs, maxMs], honoring ctx.
func randomDelay(c *gin.Context, minMs, maxMs int) {
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
	case <-c.Request.Context().Done():
	}
}
