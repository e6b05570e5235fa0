package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/services"
)

// RegisterGraphTools registers every graph.* catalog tool on the server. The
// tool set and input schemas come from the graph tool service so the MCP
// surface and the HTTP mirror never drift apart.
func RegisterGraphTools(s *Server, graph services.GraphToolService) {
	for _, descriptor := range graph.ListTools() {
		schema, err := json.Marshal(descriptor.InputSchema)
		if err != nil {
			s.logger.Error("failed to marshal tool schema",
				zap.String("tool", descriptor.Name),
				zap.Error(err))
			continue
		}
		tool := mcp.NewToolWithRawSchema(descriptor.Name, descriptor.Description, schema)
		s.RegisterTool(tool, graphToolHandler(s, graph, descriptor.Name))
	}
}

func graphToolHandler(s *Server, graph services.GraphToolService, toolName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, ok := auth.GetTenantID(ctx)
		if !ok {
			return nil, fmt.Errorf("authentication required")
		}

		arguments, _ := req.Params.Arguments.(map[string]any)
		result, err := graph.CallTool(ctx, tenantID, toolName, arguments)
		if err != nil {
			s.logger.Warn("graph tool call failed",
				zap.String("tenant_id", tenantID),
				zap.String("tool", toolName),
				zap.Error(err))
			return NewErrorResult("tool_call_failed", err.Error()), nil
		}

		return NewJSONResult(result)
	}
}

// ErrorResponse is the JSON body of an actionable tool error. Returning it as
// a result instead of a protocol error lets the model read and react to it.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResult creates a tool result carrying a JSON error payload.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	body, _ := json.Marshal(ErrorResponse{Error: true, Code: code, Message: message})
	result := mcp.NewToolResultText(string(body))
	result.IsError = true
	return result
}

// NewJSONResult marshals data into a text content tool result.
func NewJSONResult(data any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
