// Package dataplane is the client for the external data service that executes
// query and group-analysis plans over tenant entity tables. The engine never
// touches those tables directly.
package dataplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/sqlguard"
)

// MCP tool names served by the data plane.
const (
	ToolQuery         = "data.query"
	ToolGroupAnalysis = "data.group-analysis"
)

// QueryRequest is a paged row lookup against one bound class table.
type QueryRequest struct {
	ClassID   int64               `json:"class_id"`
	Filters   []models.DataFilter `json:"filters"`
	Page      int                 `json:"page"`
	PageSize  int                 `json:"page_size"`
	SortField string              `json:"sort_field,omitempty"`
	SortOrder string              `json:"sort_order,omitempty"`
}

// GroupAnalysisRequest is an aggregation over one bound class table.
type GroupAnalysisRequest struct {
	ClassID   int64               `json:"class_id"`
	GroupBy   []string            `json:"group_by"`
	Metrics   []models.DataMetric `json:"metrics"`
	Filters   []models.DataFilter `json:"filters"`
	Page      int                 `json:"page"`
	PageSize  int                 `json:"page_size"`
	SortBy    string              `json:"sort_by,omitempty"`
	SortOrder string              `json:"sort_order,omitempty"`
}

// DataService executes normalized plans on the external data plane.
type DataService interface {
	Query(ctx context.Context, tenantID string, req QueryRequest) (map[string]any, error)
	GroupAnalysis(ctx context.Context, tenantID string, req GroupAnalysisRequest) (map[string]any, error)
}

// Config holds the data plane endpoint settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// MCPDataService talks to the data plane over MCP streamable HTTP. The
// connection is established lazily on first use and reused afterwards.
type MCPDataService struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	client *mcpclient.Client
}

// NewMCPDataService creates the production data service client.
func NewMCPDataService(cfg Config, logger *zap.Logger) *MCPDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MCPDataService{cfg: cfg, logger: logger.Named("dataplane")}
}

var _ DataService = (*MCPDataService)(nil)

func (s *MCPDataService) connect(ctx context.Context) (*mcpclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	if s.cfg.Endpoint == "" {
		return nil, apperrors.Internal("data plane endpoint is not configured")
	}

	client, err := mcpclient.NewStreamableHttpClient(s.cfg.Endpoint)
	if err != nil {
		return nil, apperrors.Internalf("create data plane client: %v", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, apperrors.Internalf("start data plane client: %v", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "theworld-engine", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, apperrors.Internalf("initialize data plane client: %v", err)
	}

	s.logger.Info("connected to data plane", zap.String("endpoint", s.cfg.Endpoint))
	s.client = client
	return client, nil
}

// reset drops the cached client so the next call reconnects.
func (s *MCPDataService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *MCPDataService) callTool(ctx context.Context, tenantID, toolName string, payload any) (map[string]any, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	arguments, err := toArguments(payload)
	if err != nil {
		return nil, err
	}
	arguments["tenant_id"] = tenantID

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	request := mcp.CallToolRequest{}
	request.Params.Name = toolName
	request.Params.Arguments = arguments

	result, err := client.CallTool(callCtx, request)
	if err != nil {
		s.reset()
		return nil, apperrors.Internalf("data plane call %s: %v", toolName, err)
	}
	if result.IsError {
		return nil, apperrors.Internalf("data plane call %s failed: %s", toolName, flattenText(result))
	}
	return decodeResult(toolName, result)
}

func toArguments(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Internalf("encode data plane payload: %v", err)
	}
	var arguments map[string]any
	if err := json.Unmarshal(raw, &arguments); err != nil {
		return nil, apperrors.Internalf("encode data plane payload: %v", err)
	}
	return arguments, nil
}

func flattenText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return "unknown error"
}

// decodeResult parses the first text content block as a JSON object.
func decodeResult(toolName string, result *mcp.CallToolResult) (map[string]any, error) {
	for _, content := range result.Content {
		text, ok := content.(mcp.TextContent)
		if !ok {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
			return nil, apperrors.Internalf("decode data plane result for %s: %v", toolName, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("data plane result for %s has no content", toolName)
}

// Query implements DataService.
func (s *MCPDataService) Query(ctx context.Context, tenantID string, req QueryRequest) (map[string]any, error) {
	if findings := sqlguard.CheckFilters(req.Filters); len(findings) > 0 {
		return nil, apperrors.Newf(apperrors.CodeValidation,
			"filter value for field '%s' rejected by injection screen (fingerprint %s)",
			findings[0].Field, findings[0].Fingerprint)
	}
	return s.callTool(ctx, tenantID, ToolQuery, req)
}

// GroupAnalysis implements DataService.
func (s *MCPDataService) GroupAnalysis(ctx context.Context, tenantID string, req GroupAnalysisRequest) (map[string]any, error) {
	if findings := sqlguard.CheckFilters(req.Filters); len(findings) > 0 {
		return nil, apperrors.Newf(apperrors.CodeValidation,
			"filter value for field '%s' rejected by injection screen (fingerprint %s)",
			findings[0].Field, findings[0].Fingerprint)
	}
	return s.callTool(ctx, tenantID, ToolGroupAnalysis, req)
}

// MockDataService is a configurable test double.
type MockDataService struct {
	QueryFunc         func(ctx context.Context, tenantID string, req QueryRequest) (map[string]any, error)
	GroupAnalysisFunc func(ctx context.Context, tenantID string, req GroupAnalysisRequest) (map[string]any, error)

	QueryCalls         int
	GroupAnalysisCalls int
}

var _ DataService = (*MockDataService)(nil)

func (m *MockDataService) Query(ctx context.Context, tenantID string, req QueryRequest) (map[string]any, error) {
	m.QueryCalls++
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, tenantID, req)
	}
	return map[string]any{"items": []any{}, "total": 0}, nil
}

func (m *MockDataService) GroupAnalysis(ctx context.Context, tenantID string, req GroupAnalysisRequest) (map[string]any, error) {
	m.GroupAnalysisCalls++
	if m.GroupAnalysisFunc != nil {
		return m.GroupAnalysisFunc(ctx, tenantID, req)
	}
	return map[string]any{"groups": []any{}, "total": 0}, nil
}
