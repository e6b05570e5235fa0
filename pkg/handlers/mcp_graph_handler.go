package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/services"
)

// CallToolRequest for POST /api/v1/mcp/graph/tools:call
type CallToolRequest struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolContent is one item of a tool call reply.
type ToolContent struct {
	Type string `json:"type"`
	JSON any    `json:"json"`
}

// CallToolResponse mirrors the MCP tool call reply over plain HTTP.
type CallToolResponse struct {
	ToolName string        `json:"toolName"`
	Content  []ToolContent `json:"content"`
	IsError  bool          `json:"isError"`
}

// MCPGraphHandler exposes the graph tools over REST for callers that do not
// speak the MCP transport.
type MCPGraphHandler struct {
	graph  services.GraphToolService
	logger *zap.Logger
}

// NewMCPGraphHandler creates a new MCP graph handler.
func NewMCPGraphHandler(graph services.GraphToolService, logger *zap.Logger) *MCPGraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPGraphHandler{graph: graph, logger: logger.Named("mcp_graph_handler")}
}

// RegisterRoutes registers the graph tool routes on the given mux.
func (h *MCPGraphHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("GET /api/v1/mcp/graph/tools", wrap(h.ListTools))
	mux.Handle("POST /api/v1/mcp/graph/tools:call", wrap(h.CallTool))
}

// ListTools handles GET /api/v1/mcp/graph/tools
func (h *MCPGraphHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	tools := h.graph.ListTools()
	if err := WriteData(w, r, map[string]any{"tools": tools}); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// CallTool handles POST /api/v1/mcp/graph/tools:call
func (h *MCPGraphHandler) CallTool(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantID(r.Context())
	if !ok {
		WriteError(w, r, apperrors.Internal("missing tenant context"), h.logger)
		return
	}

	var req CallToolRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if strings.TrimSpace(req.ToolName) == "" {
		WriteError(w, r, apperrors.Validation("toolName is required"), h.logger)
		return
	}

	result, err := h.graph.CallTool(r.Context(), tenantID, req.ToolName, req.Arguments)
	if err != nil {
		h.logger.Warn("graph tool call failed",
			zap.String("tenant_id", tenantID),
			zap.String("tool", req.ToolName),
			zap.Error(err))
		WriteError(w, r, err, h.logger)
		return
	}

	response := CallToolResponse{
		ToolName: req.ToolName,
		Content:  []ToolContent{{Type: "json", JSON: result}},
		IsError:  false,
	}
	if err := WriteData(w, r, response); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
