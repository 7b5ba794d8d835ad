package http

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/infrastructure/config"
	"github.com/mockforge/mockforge/internal/infrastructure/ratelimit"
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

// ginLogger logs one line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
		)
	}
}

// corsMiddleware applies the configured origin policy. Wildcard origins
// combined with credentials are forbidden by the CORS spec: credentials are
// blocked and a warning logged.
func corsMiddleware(cfg config.ServerConfig, logger *zap.Logger) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(cfg.CORSAllowedOrigins))
	for _, origin := range cfg.CORSAllowedOrigins {
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[strings.ToLower(origin)] = true
	}
	allowCreds := cfg.CORSAllowCreds
	if allowAll && allowCreds {
		logger.Warn("CORS wildcard origin with credentials is forbidden; credentials disabled")
		allowCreds = false
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			switch {
			case allowAll:
				c.Header("Access-Control-Allow-Origin", "*")
			case allowed[strings.ToLower(origin)]:
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			if allowCreds && !allowAll {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Response-Shape, X-LLM-Backend, X-Rate-Limit-Delay, X-Rate-Limit-Strategy, X-Mock-Tool")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// clientID partitions ingress rate limiting: API key first, then the auth
// header, then the first X-Forwarded-For hop, then the remote address.
func clientID(c *gin.Context) string {
	if key := c.GetHeader("X-Api-Key"); key != "" {
		return "key:" + key
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		return "auth:" + auth
	}
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "fwd:" + strings.TrimSpace(first)
	}
	return "ip:" + c.ClientIP()
}

// rateLimitMiddleware rejects clients over their per-minute budget with 429
// plus Retry-After and X-RateLimit-* headers.
func rateLimitMiddleware(limiter *ratelimit.ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Check(clientID(c))
		if decision.Allowed {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   string(apperrors.CodeTooManyRequests),
			"message": fmt.Sprintf("Rate limit exceeded: %d requests per minute", decision.Limit),
		})
	}
}

// sizeLimitMiddleware caps request bodies at max bytes with 413.
func sizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			writeError(c, apperrors.New(apperrors.CodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxBytes)))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

const clockSkew = 5 * time.Minute

// authMiddleware gates the management surface. Two modes:
//
//	apikey — constant-time compare of the bearer token against the secret.
//	jwt    — HMAC-SHA256 verify, exp/nbf with ±5 min skew, sub/role claims.
//
// Failures return 401 with WWW-Authenticate and no secret-echoing body.
func authMiddleware(cfg config.ManagementConfig, logger *zap.Logger) gin.HandlerFunc {
	unauthorized := func(c *gin.Context) {
		c.Header("WWW-Authenticate", `Bearer realm="mockforge-management", error="invalid_token"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   string(apperrors.CodeUnauthorized),
			"message": "management authentication failed",
		})
	}

	return func(c *gin.Context) {
		if cfg.AuthMode == "off" {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			unauthorized(c)
			return
		}

		switch cfg.AuthMode {
		case "apikey":
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Secret)) != 1 {
				unauthorized(c)
				return
			}
			c.Set("auth.sub", "api-key")
			c.Set("auth.role", "admin")

		case "jwt":
			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(cfg.Secret), nil
			}, jwt.WithLeeway(clockSkew), jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				logger.Debug("JWT rejected", zap.Error(err))
				unauthorized(c)
				return
			}
			sub, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			if role == "" {
				role = "admin"
			}
			c.Set("auth.sub", sub)
			c.Set("auth.role", role)
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.GetHeader("X-Api-Key")
}
