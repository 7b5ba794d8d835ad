// Package http mounts the mock surface, the streaming surface, and the
// auth-gated management API on one gin engine.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/infrastructure/config"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/internal/infrastructure/ratelimit"
	"github.com/mockforge/mockforge/internal/interfaces/http/handlers"
	"github.com/mockforge/mockforge/internal/interfaces/websocket"
)

// Handlers bundles everything the server mounts.
type Handlers struct {
	Mock    *handlers.MockHandler
	Stream  *handlers.StreamHandler
	GraphQL *handlers.GraphQLHandler
	Context *handlers.ContextHandler
	Channel *handlers.ChannelHandler
	Journey *handlers.JourneyHandler
	Spec    *handlers.SpecHandler
	Admin   *handlers.AdminHandler
	WSHub   *websocket.Hub
	Monitor *monitoring.Monitor
	Limiter *ratelimit.ClientLimiter
}

// Server is the HTTP front of the process.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the engine, the middleware chain (CORS → rate limit →
// size cap → auth where gated), and the routes.
func NewServer(cfg config.Config, h Handlers, logger *zap.Logger) *Server {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(corsMiddleware(cfg.Server, logger))
	router.Use(rateLimitMiddleware(h.Limiter))
	router.Use(sizeLimitMiddleware(cfg.Server.MaxRequestBytes))

	setupRoutes(router, cfg, h, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving without blocking.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, cfg config.Config, h Handlers, logger *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(h.Monitor.PrometheusHandler()))

	// Mock surface. The stream subtree must win over the catch-all, so it
	// is carved out inside the wildcard handler.
	prefix := strings.TrimRight(cfg.Server.Prefix, "/")
	streamPrefix := prefix + "/stream"
	router.Any(prefix+"/*path", func(c *gin.Context) {
		path := c.Request.URL.Path
		switch {
		case c.Request.Method == http.MethodPost && path == prefix+"/graphql":
			h.GraphQL.Handle(c)
		case strings.HasPrefix(path, streamPrefix+"/") || path == streamPrefix:
			h.Stream.Handle(c)
		default:
			h.Mock.Handle(c)
		}
	})

	// Real-time push subscriptions.
	router.GET("/ws/channels/:name", func(c *gin.Context) {
		h.WSHub.ServeChannel(c.Writer, c.Request, c.Param("name"))
	})

	// Management surface, auth-gated.
	mgmt := router.Group(strings.TrimRight(cfg.Management.Prefix, "/"))
	mgmt.Use(authMiddleware(cfg.Management, logger))
	{
		mgmt.GET("/contexts", h.Context.List)
		mgmt.GET("/contexts/:name", h.Context.Get)
		mgmt.POST("/contexts/:name/calls", h.Context.AddCall)
		mgmt.PATCH("/contexts/:name/shared", h.Context.PatchShared)
		mgmt.DELETE("/contexts/:name", h.Context.Clear)
		mgmt.DELETE("/contexts", h.Context.ClearAll)

		mgmt.GET("/openapi/specs", h.Spec.ListSpecs)
		mgmt.GET("/openapi/specs/:name", h.Spec.GetSpec)
		mgmt.PUT("/openapi/specs/:name", h.Spec.PutSpec)
		mgmt.DELETE("/openapi/specs/:name", h.Spec.DeleteSpec)
		mgmt.POST("/openapi/specs/reload", h.Spec.ReloadSpecs)
		mgmt.POST("/openapi/specs/test", h.Spec.TestSpec)

		mgmt.GET("/grpc-protos", h.Spec.ListProtos)
		mgmt.GET("/grpc-protos/:name", h.Spec.GetProto)
		mgmt.PUT("/grpc-protos/:name", h.Spec.PutProto)
		mgmt.DELETE("/grpc-protos/:name", h.Spec.DeleteProto)

		mgmt.GET("/signalr/contexts", h.Channel.List)
		mgmt.GET("/signalr/contexts/:name", h.Channel.Get)
		mgmt.POST("/signalr/contexts", h.Channel.Create)
		mgmt.DELETE("/signalr/contexts/:name", h.Channel.Delete)
		mgmt.POST("/signalr/contexts/:name/start", h.Channel.Start)
		mgmt.POST("/signalr/contexts/:name/stop", h.Channel.Stop)

		mgmt.GET("/journeys/templates", h.Journey.ListTemplates)
		mgmt.POST("/journeys/templates", h.Journey.AddTemplate)
		mgmt.DELETE("/journeys/templates/:name", h.Journey.DeleteTemplate)
		mgmt.POST("/journeys/sessions", h.Journey.StartSession)
		mgmt.GET("/journeys/sessions/:id", h.Journey.GetSession)
		mgmt.POST("/journeys/sessions/:id/advance", h.Journey.Advance)
		mgmt.DELETE("/journeys/sessions/:id", h.Journey.End)

		mgmt.GET("/stats", h.Admin.Stats)
		mgmt.GET("/backends", h.Admin.Backends)
	}
}
