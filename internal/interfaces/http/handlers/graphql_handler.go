package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/application/usecase"
	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/internal/domain/service"
	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// GraphQLHandler serves POST {prefix}/graphql: the query text is treated as
// the shape hint and the result is wrapped in the GraphQL envelope.
type GraphQLHandler struct {
	pipeline *usecase.Pipeline
	monitor  *monitoring.Monitor
	logger   *zap.Logger
}

// NewGraphQLHandler creates the GraphQL handler.
func NewGraphQLHandler(pipeline *usecase.Pipeline, monitor *monitoring.Monitor, logger *zap.Logger) *GraphQLHandler {
	return &GraphQLHandler{
		pipeline: pipeline,
		monitor:  monitor,
		logger:   logger.With(zap.String("component", "graphql-handler")),
	}
}

// Handle synthesizes {"data": ...} for a GraphQL request body, or
// {"errors": [...]} when synthesis fails.
func (h *GraphQLHandler) Handle(c *gin.Context) {
	h.monitor.IncRequestTotal()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.writeErrors(c, "request body unreadable")
		return
	}
	root, err := jsontree.Parse(raw)
	if err != nil {
		h.writeErrors(c, "request body is not valid JSON")
		return
	}
	query, _ := root.Get("query").Text()
	if query == "" {
		h.writeErrors(c, "missing query")
		return
	}

	var variables string
	if vars := root.Get("variables"); vars != nil {
		variables = vars.Render()
	}

	result, err := h.pipeline.Synthesize(c.Request.Context(), service.SynthesisRequest{
		Method:      "POST",
		Path:        c.Request.URL.Path,
		Body:        variables,
		Shape:       graphQLShape(query),
		ContextName: c.Query("context"),
		Backend:     queryOrHeader(c, "backend", "X-LLM-Backend"),
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		h.monitor.IncRequestFailed()
		h.writeErrors(c, MapUpstreamError(err).Error())
		return
	}

	h.monitor.IncRequestSuccess()
	c.Data(http.StatusOK, "application/json", []byte(`{"data":`+result.Body+`}`))
}

// writeErrors emits the GraphQL error envelope. GraphQL transport errors are
// still HTTP 200 per convention.
func (h *GraphQLHandler) writeErrors(c *gin.Context, message string) {
	payload, _ := json.Marshal(gin.H{"errors": []gin.H{{"message": message}}})
	c.Data(http.StatusOK, "application/json", payload)
}

// graphQLShape turns the query text into a descriptive shape: the selection
// set doubles as the structure hint for the model.
func graphQLShape(query string) entity.ShapeInfo {
	return entity.ShapeInfo{
		Shape: "GraphQL selection (respond with an object mirroring the selection set fields): " + query,
	}
}
