package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/services"
)

// stubGraphService covers the two methods the HTTP mirror uses; the embedded
// interface panics on anything else.
type stubGraphService struct {
	services.GraphToolService

	lastTool string
	lastArgs map[string]any
	result   any
	err      error
}

func (s *stubGraphService) ListTools() []services.ToolDescriptor {
	return []services.ToolDescriptor{
		{Name: services.ToolListOntologies, Description: "hybrid ontology search"},
	}
}

func (s *stubGraphService) CallTool(_ context.Context, _ string, toolName string, arguments map[string]any) (any, error) {
	s.lastTool, s.lastArgs = toolName, arguments
	return s.result, s.err
}

func newGraphMux(stub *stubGraphService) *http.ServeMux {
	mux := http.NewServeMux()
	NewMCPGraphHandler(stub, nil).RegisterRoutes(mux, testWrap)
	return mux
}

func TestListTools(t *testing.T) {
	mux := newGraphMux(&stubGraphService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mcp/graph/tools", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	tools := data["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, services.ToolListOntologies, tools[0].(map[string]any)["name"])
}

func TestCallTool_WrapsResultInContent(t *testing.T) {
	stub := &stubGraphService{result: []map[string]any{{"code": "user_profile", "score": 0.9}}}
	mux := newGraphMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp/graph/tools:call",
		strings.NewReader(`{"toolName":"graph.list_ontologies","arguments":{"query":"用户"}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	assert.Equal(t, "graph.list_ontologies", data["toolName"])
	assert.Equal(t, false, data["isError"])
	content := data["content"].([]any)
	require.Len(t, content, 1)
	item := content[0].(map[string]any)
	assert.Equal(t, "json", item["type"])
	assert.Equal(t, "graph.list_ontologies", stub.lastTool)
	assert.Equal(t, "用户", stub.lastArgs["query"])
}

func TestCallTool_MissingName(t *testing.T) {
	mux := newGraphMux(&stubGraphService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp/graph/tools:call",
		strings.NewReader(`{"arguments":{}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, apperrors.CodeValidation, env.Code)
}

func TestCallTool_UnknownTool(t *testing.T) {
	stub := &stubGraphService{err: apperrors.Validation("unknown tool: graph.nope")}
	mux := newGraphMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp/graph/tools:call",
		strings.NewReader(`{"toolName":"graph.nope"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, apperrors.CodeValidation, env.Code)
	assert.Contains(t, env.Message, "unknown tool")
}
