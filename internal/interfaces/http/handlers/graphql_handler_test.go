package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/infrastructure/monitoring"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

func graphqlRouter(t *testing.T, llm *echoLLM) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pipeline, _ := testStack(t, llm)
	h := NewGraphQLHandler(pipeline, monitoring.NewMonitor(), zap.NewNop())
	r := gin.New()
	r.POST("/api/mock/graphql", h.Handle)
	return r
}

func TestGraphQL_DataEnvelope(t *testing.T) {
	llm := &echoLLM{body: `{"user":{"id":"1","name":"ada"}}`}
	r := graphqlRouter(t, llm)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/mock/graphql",
		strings.NewReader(`{"query":"query { user { id name } }","variables":{"id":1}}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	root, err := jsontree.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if root.Lookup("data", "user", "id") == nil {
		t.Fatalf("data envelope wrong: %s", w.Body.String())
	}
	// The selection set reaches the model as the shape hint.
	if !strings.Contains(llm.lastPrompt(), "user { id name }") {
		t.Fatal("query text missing from prompt")
	}
}

func TestGraphQL_ErrorsEnvelope(t *testing.T) {
	llm := &echoLLM{}
	r := graphqlRouter(t, llm)

	for _, body := range []string{"not json", `{"variables":{}}`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/mock/graphql", strings.NewReader(body))
		r.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("transport status = %d", w.Code)
		}
		root, err := jsontree.Parse(w.Body.Bytes())
		if err != nil || root.Get("errors") == nil {
			t.Fatalf("errors envelope missing: %s", w.Body.String())
		}
	}
}
