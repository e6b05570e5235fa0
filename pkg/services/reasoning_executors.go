package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/llm"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/prompts"
	"github.com/theworld-inc/theworld-engine/pkg/services/dataplane"
)

// ============================================================================
// Executor contracts
// ============================================================================

// ExecutorResult is what an executor hands back to the execute node.
type ExecutorResult struct {
	ExecutorType   models.TaskType
	ExecutionMode  models.ExecutionMode
	ExecutorPlan   map[string]any
	DataRequest    map[string]any
	DataExecution  map[string]any
	TargetOntology map[string]any
}

// AsMap renders the result for task payloads and plan state.
func (r *ExecutorResult) AsMap() map[string]any {
	out := map[string]any{
		"executor_type":  string(r.ExecutorType),
		"execution_mode": string(r.ExecutionMode),
		"executor_plan":  r.ExecutorPlan,
		"data_request":   r.DataRequest,
		"data_execution": r.DataExecution,
	}
	if r.TargetOntology != nil {
		out["target_ontology"] = r.TargetOntology
	}
	return out
}

// ResolvedOntology is a target ontology resolved to its class and catalog.
type ResolvedOntology struct {
	ClassID int64
	Code    string
	Detail  map[string]any
	Catalog []models.CatalogField
}

// OntologyResolver resolves an ontology code for the executing tenant. It
// returns nil when the code does not exist in the tenant catalog.
type OntologyResolver func(ctx context.Context, code string) (*ResolvedOntology, error)

// MCPEmitFunc records one data-plane call boundary in the trace.
type MCPEmitFunc func(eventType string, payload map[string]any)

// CapabilityExecution is the input of the capability executor.
type CapabilityExecution struct {
	TenantID   string
	Query      string
	Intent     models.IntentExtraction
	ClassID    int64
	Ontology   map[string]any
	Capability map[string]any
	Catalog    []models.CatalogField

	Audit   llm.AuditCallback
	EmitMCP MCPEmitFunc
}

// ObjectPropertyExecution is the input of the object-property executor.
type ObjectPropertyExecution struct {
	TenantID       string
	Query          string
	Intent         models.IntentExtraction
	CurrentCode    string
	ClassID        int64
	Ontology       map[string]any
	ObjectProperty map[string]any
	DomainCodes    []string
	RangeCodes     []string
	Resolve        OntologyResolver

	Audit   llm.AuditCallback
	EmitMCP MCPEmitFunc
}

// ReasoningExecutor plans and runs data-plane calls for the execute node.
type ReasoningExecutor struct {
	invoker llm.Invoker
	data    dataplane.DataService
	logger  *zap.Logger
}

// NewReasoningExecutor creates the executor pair.
func NewReasoningExecutor(invoker llm.Invoker, data dataplane.DataService, logger *zap.Logger) *ReasoningExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReasoningExecutor{invoker: invoker, data: data, logger: logger.Named("executor")}
}

// ============================================================================
// Plan normalization
// ============================================================================

// normalizeDataPlan coerces a raw LLM plan into a valid DataPlan: unknown
// modes become query, unknown filter ops become eq, filters without a field
// are dropped, and paging gets sane floors.
func normalizeDataPlan(raw map[string]any) models.DataPlan {
	plan := models.DataPlan{Mode: models.ExecutionModeQuery, Page: 1, PageSize: 20}

	switch strings.TrimSpace(planString(raw, "mode")) {
	case "group_analysis", "group-analysis":
		plan.Mode = models.ExecutionModeGroupAnalysis
	}

	if items, ok := raw["filters"].([]any); ok {
		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			field := strings.TrimSpace(planString(entry, "field"))
			if field == "" {
				continue
			}
			op := models.FilterOp(planString(entry, "op"))
			if op != models.FilterOpEq && op != models.FilterOpLike && op != models.FilterOpIn {
				op = models.FilterOpEq
			}
			plan.Filters = append(plan.Filters, models.DataFilter{Field: field, Op: op, Value: entry["value"]})
		}
	}

	if page := planInt(raw, "page"); page >= 1 {
		plan.Page = page
	}
	if pageSize := planInt(raw, "page_size"); pageSize >= 1 {
		plan.PageSize = pageSize
	}

	if groups, ok := raw["group_by"].([]any); ok {
		for _, g := range groups {
			if name, ok := g.(string); ok && strings.TrimSpace(name) != "" {
				plan.GroupBy = append(plan.GroupBy, strings.TrimSpace(name))
			}
		}
	}
	if metrics, ok := raw["metrics"].([]any); ok {
		for _, m := range metrics {
			entry, ok := m.(map[string]any)
			if !ok {
				continue
			}
			metric := models.DataMetric{
				Agg:   planString(entry, "agg"),
				Field: planString(entry, "field"),
				Alias: planString(entry, "alias"),
			}
			if metric.Agg != "" {
				plan.Metrics = append(plan.Metrics, metric)
			}
		}
	}

	plan.SortField = planString(raw, "sort_field")
	plan.SortBy = planString(raw, "sort_by")
	plan.SortOrder = planString(raw, "sort_order")
	plan.TargetOntologyCode = strings.TrimSpace(planString(raw, "target_ontology_code"))
	plan.Reason = planString(raw, "reason")
	return plan
}

func planString(raw map[string]any, key string) string {
	if value, ok := raw[key].(string); ok {
		return value
	}
	return ""
}

func planInt(raw map[string]any, key string) int {
	switch value := raw[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	}
	return 0
}

// planClassID reads class_id from the plan, falling back to the anchor class.
func planClassID(raw map[string]any, fallback int64) int64 {
	switch value := raw["class_id"].(type) {
	case float64:
		if value > 0 {
			return int64(value)
		}
	case int64:
		if value > 0 {
			return value
		}
	}
	return fallback
}

// catalogPayload renders the attribute catalog for the planner payload.
func catalogPayload(catalog []models.CatalogField) []map[string]any {
	out := make([]map[string]any, 0, len(catalog))
	for _, field := range catalog {
		out = append(out, map[string]any{
			"attribute_code": field.Code,
			"attribute_name": field.Name,
			"data_type":      field.DataType,
			"field_name":     field.FieldName,
		})
	}
	return out
}

// executePlan finishes a normalized plan against the data plane and reports
// the call boundaries through emit.
func (e *ReasoningExecutor) executePlan(
	ctx context.Context,
	tenantID string,
	classID int64,
	plan models.DataPlan,
	catalog []models.CatalogField,
	emit MCPEmitFunc,
) (map[string]any, map[string]any, error) {
	if classID <= 0 {
		return nil, nil, apperrors.Validation("execution planning missing class_id")
	}

	if plan.Mode == models.ExecutionModeGroupAnalysis {
		if len(plan.GroupBy) == 0 && len(catalog) > 0 {
			plan.GroupBy = []string{catalog[0].FieldName}
		}
		if len(plan.GroupBy) == 0 {
			return nil, nil, apperrors.Validation("group-analysis planning missing group_by")
		}
		if len(plan.Metrics) == 0 {
			plan.Metrics = []models.DataMetric{{Agg: "count", Alias: "count"}}
		}
		if plan.SortOrder == "" {
			plan.SortOrder = "desc"
		}

		request := dataplane.GroupAnalysisRequest{
			ClassID:   classID,
			GroupBy:   plan.GroupBy,
			Metrics:   plan.Metrics,
			Filters:   filtersOrEmpty(plan.Filters),
			Page:      plan.Page,
			PageSize:  plan.PageSize,
			SortBy:    plan.SortBy,
			SortOrder: plan.SortOrder,
		}
		requestMap, err := toMap(request)
		if err != nil {
			return nil, nil, err
		}
		if emit != nil {
			emit("mcp_call_requested", map[string]any{"method": "mcp.data.group-analysis", "arguments": requestMap})
		}
		execution, err := e.data.GroupAnalysis(ctx, tenantID, request)
		if err != nil {
			return nil, nil, err
		}
		if emit != nil {
			emit("mcp_call_completed", map[string]any{"method": "mcp.data.group-analysis", "result": execution})
		}
		return requestMap, execution, nil
	}

	if plan.SortOrder == "" {
		plan.SortOrder = "asc"
	}
	request := dataplane.QueryRequest{
		ClassID:   classID,
		Filters:   filtersOrEmpty(plan.Filters),
		Page:      plan.Page,
		PageSize:  plan.PageSize,
		SortField: plan.SortField,
		SortOrder: plan.SortOrder,
	}
	requestMap, err := toMap(request)
	if err != nil {
		return nil, nil, err
	}
	if emit != nil {
		emit("mcp_call_requested", map[string]any{"method": "mcp.data.query", "arguments": requestMap})
	}
	execution, err := e.data.Query(ctx, tenantID, request)
	if err != nil {
		return nil, nil, err
	}
	if emit != nil {
		emit("mcp_call_completed", map[string]any{"method": "mcp.data.query", "result": execution})
	}
	return requestMap, execution, nil
}

func filtersOrEmpty(filters []models.DataFilter) []models.DataFilter {
	if filters == nil {
		return []models.DataFilter{}
	}
	return filters
}

// ============================================================================
// Capability executor
// ============================================================================

// ExecuteCapability asks the LLM for a data plan grounded in the capability
// detail and the anchor's attribute catalog, then runs it.
func (e *ReasoningExecutor) ExecuteCapability(ctx context.Context, cfg models.LLMRuntimeConfig, in CapabilityExecution) (*ExecutorResult, error) {
	payload := map[string]any{
		"query":             in.Query,
		"intent":            in.Intent,
		"capability":        in.Capability,
		"ontology":          in.Ontology,
		"class_id":          in.ClassID,
		"attribute_catalog": catalogPayload(in.Catalog),
	}
	rawPlan, err := e.invoker.InvokeJSON(ctx, cfg, prompts.CapabilityPlanSystem, payload, prompts.DataPlanSchemaHint(in.ClassID), in.Audit)
	if err != nil {
		return nil, err
	}

	plan := normalizeDataPlan(rawPlan)
	classID := planClassID(rawPlan, in.ClassID)
	request, execution, err := e.executePlan(ctx, in.TenantID, classID, plan, in.Catalog, in.EmitMCP)
	if err != nil {
		return nil, err
	}
	return &ExecutorResult{
		ExecutorType:  models.TaskTypeCapability,
		ExecutionMode: plan.Mode,
		ExecutorPlan:  rawPlan,
		DataRequest:   request,
		DataExecution: execution,
	}, nil
}

// ============================================================================
// Object-property executor
// ============================================================================

// targetOptions computes the candidate target codes for crossing a relation
// from current: the opposite side when current sits on one side, otherwise
// every other participant.
func targetOptions(current string, domainCodes, rangeCodes []string) []string {
	inDomain := containsCode(domainCodes, current)
	inRange := containsCode(rangeCodes, current)

	var pool []string
	switch {
	case inDomain:
		pool = rangeCodes
	case inRange:
		pool = domainCodes
	default:
		pool = append(append([]string{}, domainCodes...), rangeCodes...)
	}

	seen := map[string]struct{}{}
	options := make([]string, 0, len(pool))
	for _, code := range pool {
		code = strings.TrimSpace(code)
		if code == "" || code == current {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		options = append(options, code)
	}
	return options
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// ExecuteObjectProperty crosses the relation to an LLM-chosen target
// ontology and runs the planned call against the target's catalog.
func (e *ReasoningExecutor) ExecuteObjectProperty(ctx context.Context, cfg models.LLMRuntimeConfig, in ObjectPropertyExecution) (*ExecutorResult, error) {
	options := targetOptions(in.CurrentCode, in.DomainCodes, in.RangeCodes)
	if len(options) == 0 {
		return nil, apperrors.Validation("object_property has no resolvable target ontology")
	}

	// Resolve every candidate up front so the planner sees each target's
	// attribute catalog and can only pick filter fields that exist there.
	resolved := make(map[string]*ResolvedOntology, len(options))
	targetCatalogs := map[string]any{}
	for _, code := range options {
		candidate, err := in.Resolve(ctx, code)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			continue
		}
		resolved[code] = candidate
		targetCatalogs[code] = catalogPayload(candidate.Catalog)
	}

	payload := map[string]any{
		"query":                     in.Query,
		"intent":                    in.Intent,
		"object_property":           in.ObjectProperty,
		"current_ontology":          in.Ontology,
		"target_options":            options,
		"target_attribute_catalogs": targetCatalogs,
	}
	rawPlan, err := e.invoker.InvokeJSON(ctx, cfg, prompts.ObjectPropertyPlanSystem, payload,
		prompts.ObjectPropertyPlanSchemaHint(in.ClassID, options), in.Audit)
	if err != nil {
		return nil, err
	}

	plan := normalizeDataPlan(rawPlan)
	targetCode := plan.TargetOntologyCode
	if !containsCode(options, targetCode) {
		targetCode = options[0]
	}

	target := resolved[targetCode]
	if target == nil {
		return nil, apperrors.Newf(apperrors.CodeValidation, "target ontology not found: %s", targetCode)
	}

	request, execution, err := e.executePlan(ctx, in.TenantID, target.ClassID, plan, target.Catalog, in.EmitMCP)
	if err != nil {
		return nil, err
	}
	return &ExecutorResult{
		ExecutorType:  models.TaskTypeObjectProperty,
		ExecutionMode: plan.Mode,
		ExecutorPlan:  rawPlan,
		DataRequest:   request,
		DataExecution: execution,
		TargetOntology: map[string]any{
			"class_id": target.ClassID,
			"code":     target.Code,
			"detail":   target.Detail,
		},
	}, nil
}
