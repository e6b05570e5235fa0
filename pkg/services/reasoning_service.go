package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/llm"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/prompts"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
	"github.com/theworld-inc/theworld-engine/pkg/services/stategraph"
	"github.com/theworld-inc/theworld-engine/pkg/trace"
)

// ============================================================================
// Node and step names
// ============================================================================

const (
	nodeUnderstandIntent = "understand_intent"
	nodeDiscover         = "discover_candidates"
	nodeSelectAnchor     = "select_anchor_ontologies"
	nodeInspect          = "inspect_ontology"
	nodeExecute          = "execute"
	nodeFinalize         = "finalize"
)

const (
	stepSessionCreate = "session_create"
	stepUnderstanding = "understanding"
	stepDiscovery     = "discovery"
	stepAnchor        = "anchor"
	stepInspect       = "inspect"
	stepExecuting     = "executing"
	stepClarification = "clarification"
	stepTraversal     = "traversal"
	stepCompleted     = "completed"
	stepFailed        = "failed"
	stepCancel        = "cancel"
	stepLLM           = "llm"
)

// maxIntentQueryTerms caps how many keyword / business-element searches fan
// out in discover_candidates.
const maxIntentQueryTerms = 4

// maxAnchorCandidates caps the candidate list handed to anchor selection.
const maxAnchorCandidates = 20

// maxRelatedAttributeCodes caps the attribute codes expanded into related
// ontologies.
const maxRelatedAttributeCodes = 8

// maxFallbackKeywords caps rule-based keyword extraction.
const maxFallbackKeywords = 8

// relatedOntologyHitWeight scores an ontology per attribute that binds to it.
const relatedOntologyHitWeight = 0.1

// ============================================================================
// Service contract
// ============================================================================

// ReasoningService drives reasoning sessions end to end: lifecycle, the state
// graph, suspension and resumption, and the audit trail.
type ReasoningService interface {
	CreateSession(ctx context.Context, tenantID, userInput string, metadata map[string]any, traceID *string) (map[string]any, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (map[string]any, error)
	Run(ctx context.Context, tenantID, sessionID, userInput string, traceID *string) (map[string]any, error)
	Clarify(ctx context.Context, tenantID, sessionID string, answer map[string]any, traceID *string) (map[string]any, error)
	ListTrace(ctx context.Context, tenantID, sessionID string) (map[string]any, error)
	Cancel(ctx context.Context, tenantID, sessionID, reason string, traceID *string) (map[string]any, error)
}

type reasoningService struct {
	repo       repositories.ReasoningRepository
	catalog    repositories.CatalogRepository
	graph      GraphToolService
	contexts   ContextService
	llmConfigs TenantLLMConfigService
	invoker    llm.Invoker
	executor   *ReasoningExecutor
	sink       trace.Emitter
	logger     *zap.Logger

	machine *stategraph.Graph[*reasoningRun]
}

// NewReasoningService wires the reasoning engine.
func NewReasoningService(
	repo repositories.ReasoningRepository,
	catalog repositories.CatalogRepository,
	graphTools GraphToolService,
	contexts ContextService,
	llmConfigs TenantLLMConfigService,
	invoker llm.Invoker,
	executor *ReasoningExecutor,
	sink trace.Emitter,
	logger *zap.Logger,
) ReasoningService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &reasoningService{
		repo:       repo,
		catalog:    catalog,
		graph:      graphTools,
		contexts:   contexts,
		llmConfigs: llmConfigs,
		invoker:    invoker,
		executor:   executor,
		sink:       sink,
		logger:     logger.Named("reasoning"),
	}
	s.machine = s.buildMachine()
	return s
}

var _ ReasoningService = (*reasoningService)(nil)

// ============================================================================
// Run state
// ============================================================================

type anchorInfo struct {
	Code    string
	ClassID int64
	Detail  map[string]any
	Catalog []models.CatalogField
}

func (a *anchorInfo) basic() map[string]any {
	name := ""
	if a.Detail != nil {
		if v, ok := a.Detail["name"].(string); ok {
			name = v
		}
	}
	return map[string]any{"class_id": a.ClassID, "code": a.Code, "name": name}
}

// reasoningRun is the mutable state threaded through the graph nodes for one
// run call.
type reasoningRun struct {
	tenantID  string
	sessionID string
	turnID    int64
	traceID   *string
	query     string
	cfg       models.LLMRuntimeConfig

	status   models.SessionStatus
	question map[string]any

	intent     models.IntentExtraction
	attributes []map[string]any
	candidates []map[string]any

	traversal *models.TraversalState
	plan      *models.PlanState

	anchor         *anchorInfo
	decision       *models.InspectDecision
	capability     map[string]any
	objectProperty map[string]any

	task     *models.ReasoningTask
	executed *ExecutorResult

	modelOutput map[string]any
}

// suspend parks the run on a human question without advancing further nodes.
func (r *reasoningRun) suspend(status models.SessionStatus, question map[string]any) {
	r.status = status
	r.question = question
}

func (s *reasoningService) buildMachine() *stategraph.Graph[*reasoningRun] {
	waitRouter := func(next string) stategraph.RouterFunc[*reasoningRun] {
		return func(r *reasoningRun) string {
			if r.status.IsWaiting() {
				return stategraph.End
			}
			return next
		}
	}
	return stategraph.New[*reasoningRun]().
		AddNode(nodeUnderstandIntent, s.nodeUnderstandIntent).
		AddNode(nodeDiscover, s.nodeDiscoverCandidates).
		AddNode(nodeSelectAnchor, s.nodeSelectAnchor).
		AddNode(nodeInspect, s.nodeInspectOntology).
		AddNode(nodeExecute, s.nodeExecute).
		AddNode(nodeFinalize, s.nodeFinalize).
		SetEntry(nodeUnderstandIntent).
		AddEdge(nodeUnderstandIntent, nodeDiscover).
		AddConditionalEdge(nodeDiscover, waitRouter(nodeSelectAnchor)).
		AddConditionalEdge(nodeSelectAnchor, waitRouter(nodeInspect)).
		AddConditionalEdge(nodeInspect, waitRouter(nodeExecute)).
		AddConditionalEdge(nodeExecute, waitRouter(nodeFinalize)).
		AddEdge(nodeFinalize, stategraph.End)
}

// ============================================================================
// Trace helpers
// ============================================================================

func (s *reasoningService) emit(ctx context.Context, run *reasoningRun, step, eventType string, payload map[string]any) {
	s.emitFor(ctx, run.tenantID, run.sessionID, &run.turnID, run.traceID, step, eventType, payload)
}

func (s *reasoningService) emitFor(ctx context.Context, tenantID, sessionID string, turnID *int64, traceID *string, step, eventType string, payload map[string]any) {
	err := s.sink.Emit(ctx, trace.Event{
		TenantID:  tenantID,
		SessionID: sessionID,
		TurnID:    turnID,
		Step:      step,
		EventType: eventType,
		Payload:   payload,
		TraceID:   traceID,
	})
	if err != nil {
		s.logger.Warn("trace emit failed",
			zap.String("session_id", sessionID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *reasoningService) audit(ctx context.Context, run *reasoningRun) llm.AuditCallback {
	return func(eventType string, payload map[string]any) {
		s.emit(ctx, run, stepLLM, eventType, payload)
	}
}

// ============================================================================
// Catalog helpers
// ============================================================================

// attributeCatalog builds the attribute → physical field catalog for a class.
// Bound tables map through their field mappings; unbound classes fall back to
// the attribute code as the field name.
func (s *reasoningService) attributeCatalog(ctx context.Context, tenantID string, classID int64) ([]models.CatalogField, error) {
	attrs, err := s.catalog.ListAttributes(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	attrByID := map[int64]*models.OntologyDataAttribute{}
	for i := range attrs {
		attrByID[attrs[i].ID] = &attrs[i]
	}

	binding, err := s.catalog.GetTableBinding(ctx, tenantID, classID)
	if err != nil {
		return nil, err
	}
	if binding != nil {
		mappings, err := s.catalog.ListFieldMappings(ctx, tenantID, binding.ID)
		if err != nil {
			return nil, err
		}
		if len(mappings) > 0 {
			catalog := make([]models.CatalogField, 0, len(mappings))
			for _, mapping := range mappings {
				attr, ok := attrByID[mapping.DataAttributeID]
				if !ok {
					continue
				}
				catalog = append(catalog, models.CatalogField{
					AttributeID: attr.ID,
					Code:        attr.Code,
					Name:        attr.Name,
					DataType:    attr.DataType,
					Description: attr.Description,
					FieldName:   mapping.FieldName,
				})
			}
			sort.Slice(catalog, func(i, j int) bool { return catalog[i].FieldName < catalog[j].FieldName })
			return catalog, nil
		}
	}

	refs, err := s.catalog.ListClassAttrRefsByClassIDs(ctx, tenantID, []int64{classID})
	if err != nil {
		return nil, err
	}
	catalog := make([]models.CatalogField, 0, len(refs))
	for _, ref := range refs {
		attr, ok := attrByID[ref.DataAttributeID]
		if !ok {
			continue
		}
		catalog = append(catalog, models.CatalogField{
			AttributeID: attr.ID,
			Code:        attr.Code,
			Name:        attr.Name,
			DataType:    attr.DataType,
			Description: attr.Description,
			FieldName:   attr.Code,
		})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Code < catalog[j].Code })
	return catalog, nil
}

// resolveOntology resolves a code to its class, detail and catalog. Returns
// nil when the tenant has no such ontology.
func (s *reasoningService) resolveOntology(ctx context.Context, tenantID, code string) (*ResolvedOntology, error) {
	classes, err := s.catalog.ListClasses(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var class *models.OntologyClass
	for i := range classes {
		if classes[i].Code == code {
			class = &classes[i]
			break
		}
	}
	if class == nil {
		return nil, nil
	}

	details, err := s.graph.OntologyDetails(ctx, tenantID, []string{code})
	if err != nil {
		return nil, err
	}
	detail := map[string]any{"code": class.Code, "name": class.Name}
	if len(details) > 0 {
		detail = details[0]
	}
	catalog, err := s.attributeCatalog(ctx, tenantID, class.ID)
	if err != nil {
		return nil, err
	}
	return &ResolvedOntology{ClassID: class.ID, Code: class.Code, Detail: detail, Catalog: catalog}, nil
}

// ============================================================================
// Node 1: understand_intent
// ============================================================================

// fallbackKeywords is the rule-based extraction used when the LLM yields no
// keywords: split on non-alphanumeric runes, drop single-rune tokens, dedupe,
// cap the list.
func fallbackKeywords(query string) []string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]struct{}{}
	keywords := make([]string, 0, maxFallbackKeywords)
	for _, token := range tokens {
		if utf8.RuneCountInString(token) <= 1 {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
		if len(keywords) >= maxFallbackKeywords {
			break
		}
	}
	return keywords
}

func normalizeTerms(terms []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func (s *reasoningService) nodeUnderstandIntent(ctx context.Context, run *reasoningRun) error {
	s.emit(ctx, run, stepUnderstanding, "intent_parsed", map[string]any{"query": run.query})

	raw, err := s.invoker.InvokeJSON(ctx, run.cfg, prompts.IntentSystem,
		map[string]any{"query": run.query}, prompts.IntentSchemaHint, s.audit(ctx, run))
	if err != nil {
		return err
	}

	var intent models.IntentExtraction
	if err := remarshal(raw, &intent); err != nil {
		return apperrors.Internalf("llm decision failed: decode intent: %v", err)
	}
	intent.Keywords = normalizeTerms(intent.Keywords)
	intent.GoalActions = normalizeTerms(intent.GoalActions)
	if len(intent.Keywords) == 0 {
		intent.Keywords = fallbackKeywords(run.query)
	}
	run.intent = intent

	s.emit(ctx, run, stepUnderstanding, "plan_generated", map[string]any{
		"keywords":       intent.Keywords,
		"goal_actions":   intent.GoalActions,
		"intent_summary": intent.IntentSummary,
	})
	return nil
}

// ============================================================================
// Node 2: discover_candidates
// ============================================================================

func rowScore(row map[string]any) float64 {
	if score, ok := row["score"].(float64); ok {
		return score
	}
	return 0
}

func rowCode(row map[string]any) string {
	if code, ok := row["code"].(string); ok {
		return code
	}
	return ""
}

// mergeByCode keeps one row per code, preferring the highest score.
func mergeByCode(pool map[string]map[string]any, rows []map[string]any) {
	for _, row := range rows {
		code := rowCode(row)
		if code == "" {
			continue
		}
		existing, ok := pool[code]
		if !ok || rowScore(row) > rowScore(existing) {
			pool[code] = row
		}
	}
}

func sortedByScore(pool map[string]map[string]any) []map[string]any {
	rows := make([]map[string]any, 0, len(pool))
	for _, row := range pool {
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := rowScore(rows[i]), rowScore(rows[j])
		if si != sj {
			return si > sj
		}
		return rowCode(rows[i]) < rowCode(rows[j])
	})
	return rows
}

func (s *reasoningService) discoverQueries(run *reasoningRun) []string {
	queries := []string{run.query}
	for i, keyword := range run.intent.Keywords {
		if i >= maxIntentQueryTerms {
			break
		}
		queries = append(queries, keyword)
	}
	count := 0
	for _, element := range run.intent.BusinessElements {
		if count >= maxIntentQueryTerms {
			break
		}
		token := strings.TrimSpace(element.Value)
		if token == "" {
			token = strings.TrimSpace(element.Name)
		}
		if token == "" {
			continue
		}
		queries = append(queries, token)
		count++
	}
	return normalizeTerms(queries)
}

func (s *reasoningService) nodeDiscoverCandidates(ctx context.Context, run *reasoningRun) error {
	queries := s.discoverQueries(run)

	s.emit(ctx, run, stepDiscovery, "mcp_call_requested", map[string]any{
		"method":    "graph.list_data_attributes",
		"arguments": map[string]any{"queries": queries},
	})

	// Every repository read in a request runs on the single tenant-scoped
	// connection, which does not allow concurrent queries. The discovery
	// queries therefore run one at a time.
	attrPool := map[string]map[string]any{}
	for _, query := range queries {
		rows, err := s.graph.ListDataAttributes(ctx, run.tenantID, SearchArgs{Query: query})
		if err != nil {
			return err
		}
		mergeByCode(attrPool, rows)
	}
	attributes := sortedByScore(attrPool)

	s.emit(ctx, run, stepDiscovery, "mcp_call_completed", map[string]any{
		"method":       "graph.list_data_attributes",
		"result_count": len(attributes),
	})
	s.emit(ctx, run, stepDiscovery, "attributes_matched", map[string]any{"count": len(attributes)})

	if len(attributes) == 0 {
		run.suspend(models.SessionStatusWaitingClarification, map[string]any{
			"tenant_id": run.tenantID,
			"type":      "no_attribute_match",
			"question":  "未匹配到数据属性，请补充更具体的业务关键词或字段名。",
		})
		return nil
	}
	run.attributes = attributes

	topCodes := make([]string, 0, maxRelatedAttributeCodes)
	for _, row := range attributes {
		if len(topCodes) >= maxRelatedAttributeCodes {
			break
		}
		topCodes = append(topCodes, rowCode(row))
	}

	s.emit(ctx, run, stepDiscovery, "mcp_call_requested", map[string]any{
		"method":    "graph.get_data_attribute_related_ontologies",
		"arguments": map[string]any{"attribute_codes": topCodes},
	})
	related, err := s.graph.DataAttributeRelatedOntologies(ctx, run.tenantID, topCodes)
	if err != nil {
		return err
	}
	s.emit(ctx, run, stepDiscovery, "mcp_call_completed", map[string]any{
		"method":       "graph.get_data_attribute_related_ontologies",
		"result_count": len(related),
	})

	// Score ontologies by how many matched attributes bind to them.
	hits := map[string]int{}
	names := map[string]string{}
	for _, item := range related {
		ontologies, _ := item["ontologies"].([]map[string]any)
		for _, ontology := range ontologies {
			code := rowCode(ontology)
			if code == "" {
				continue
			}
			hits[code]++
			if name, ok := ontology["name"].(string); ok {
				names[code] = name
			}
		}
	}
	pool := map[string]map[string]any{}
	for code, count := range hits {
		pool[code] = map[string]any{
			"code":  code,
			"name":  names[code],
			"score": relatedOntologyHitWeight * float64(count),
		}
	}

	ontologyQueries := normalizeTerms([]string{run.query, strings.Join(run.intent.Keywords, " ")})
	s.emit(ctx, run, stepDiscovery, "mcp_call_requested", map[string]any{
		"method":    "graph.list_ontologies",
		"arguments": map[string]any{"queries": ontologyQueries},
	})
	for _, query := range ontologyQueries {
		rows, err := s.graph.ListOntologies(ctx, run.tenantID, SearchArgs{Query: query})
		if err != nil {
			return err
		}
		mergeByCode(pool, rows)
	}
	candidates := sortedByScore(pool)
	s.emit(ctx, run, stepDiscovery, "mcp_call_completed", map[string]any{
		"method":       "graph.list_ontologies",
		"result_count": len(candidates),
	})
	s.emit(ctx, run, stepDiscovery, "ontologies_located", map[string]any{"count": len(candidates)})

	if len(candidates) == 0 {
		run.suspend(models.SessionStatusWaitingClarification, map[string]any{
			"tenant_id": run.tenantID,
			"type":      "no_ontology_match",
			"question":  "已识别数据属性，但未定位到可执行本体，请补充业务对象。",
		})
		return nil
	}
	run.candidates = candidates
	return nil
}

// ============================================================================
// Node 3: select_anchor_ontologies
// ============================================================================

func firstOtherCode(codes []string, current string) string {
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code != "" && code != current {
			return code
		}
	}
	return ""
}

func (s *reasoningService) nodeSelectAnchor(ctx context.Context, run *reasoningRun) error {
	preferred := run.traversal.ApprovedTargetOntologyCode

	candidates := make([]map[string]any, 0, maxAnchorCandidates)
	for i, row := range run.candidates {
		if i >= maxAnchorCandidates {
			break
		}
		candidates = append(candidates, map[string]any{
			"code":  rowCode(row),
			"name":  row["name"],
			"score": row["score"],
		})
	}

	raw, err := s.invoker.InvokeJSON(ctx, run.cfg, prompts.AnchorSystem, map[string]any{
		"query":          run.query,
		"candidates":     candidates,
		"preferred_code": preferred,
	}, prompts.AnchorSchemaHint, s.audit(ctx, run))
	if err != nil {
		return err
	}

	var selection models.AnchorSelection
	if err := remarshal(raw, &selection); err != nil {
		return apperrors.Internalf("llm decision failed: decode anchor selection: %v", err)
	}
	selection.InputOntologyCodes = normalizeTerms(selection.InputOntologyCodes)
	selection.TargetOntologyCodes = normalizeTerms(selection.TargetOntologyCodes)
	if len(selection.InputOntologyCodes) == 0 && len(run.candidates) > 0 {
		selection.InputOntologyCodes = []string{rowCode(run.candidates[0])}
	}

	chosen := ""
	if preferred != "" {
		chosen = preferred
	} else if len(selection.InputOntologyCodes) > 0 {
		chosen = selection.InputOntologyCodes[0]
	}

	resolved, err := s.resolveOntology(ctx, run.tenantID, chosen)
	if err != nil {
		return err
	}
	if resolved == nil {
		run.suspend(models.SessionStatusWaitingClarification, map[string]any{
			"tenant_id": run.tenantID,
			"type":      "anchor_ontology_missing",
			"code":      chosen,
			"question":  "选择的锚点本体不存在，请确认目标业务对象。",
		})
		return nil
	}

	if preferred != "" {
		// Resume token is single-use.
		run.traversal.ApprovedTargetOntologyCode = ""
		if err := s.contexts.SaveTraversalState(ctx, run.sessionID, run.traversal); err != nil {
			return err
		}
	} else if target := firstOtherCode(selection.TargetOntologyCodes, chosen); target != "" &&
		run.traversal.CanTraverse() && !run.traversal.HasVisited(target) {
		run.traversal.PendingTraversal = &models.PendingTraversal{
			FromCode: chosen,
			ToCode:   target,
			Reason:   selection.Reason,
		}
		if err := s.contexts.SaveTraversalState(ctx, run.sessionID, run.traversal); err != nil {
			return err
		}
		run.suspend(models.SessionStatusWaitingConfirmation, map[string]any{
			"tenant_id": run.tenantID,
			"type":      "traversal_confirmation",
			"from_code": chosen,
			"to_code":   target,
			"question":  fmt.Sprintf("是否允许从 %s 跨越对象属性遍历到 %s？", chosen, target),
		})
		return nil
	}

	run.anchor = &anchorInfo{
		Code:    resolved.Code,
		ClassID: resolved.ClassID,
		Detail:  resolved.Detail,
		Catalog: resolved.Catalog,
	}
	run.plan = &models.PlanState{
		InputOntologyCodes:  selection.InputOntologyCodes,
		TargetOntologyCodes: selection.TargetOntologyCodes,
		SelectedOntology:    run.anchor.basic(),
	}
	if err := s.contexts.SavePlanState(ctx, run.sessionID, run.plan); err != nil {
		return err
	}

	s.emit(ctx, run, stepAnchor, "ontology_selected", map[string]any{
		"code":     run.anchor.Code,
		"class_id": run.anchor.ClassID,
	})
	return nil
}

// ============================================================================
// Node 4: inspect_ontology
// ============================================================================

func detailRows(detail map[string]any, key string) []map[string]any {
	switch rows := detail[key].(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			if m, ok := row.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func containsRowCode(rows []map[string]any, code string) bool {
	for _, row := range rows {
		if rowCode(row) == code {
			return true
		}
	}
	return false
}

func (s *reasoningService) nodeInspectOntology(ctx context.Context, run *reasoningRun) error {
	capabilities := detailRows(run.anchor.Detail, "capabilities")
	objectProperties := detailRows(run.anchor.Detail, "objectProperties")

	if len(capabilities) == 0 && len(objectProperties) == 0 {
		run.suspend(models.SessionStatusWaitingClarification, map[string]any{
			"tenant_id": run.tenantID,
			"type":      "no_executable_resource",
			"code":      run.anchor.Code,
			"question":  "本体上没有可执行的能力或对象属性，请确认目标动作。",
		})
		return nil
	}

	raw, err := s.invoker.InvokeJSON(ctx, run.cfg, prompts.InspectSystem, map[string]any{
		"query":            run.query,
		"ontology":         run.anchor.basic(),
		"capabilities":     capabilities,
		"objectProperties": objectProperties,
	}, prompts.InspectSchemaHint, s.audit(ctx, run))
	if err != nil {
		return err
	}

	var decision models.InspectDecision
	if err := remarshal(raw, &decision); err != nil {
		return apperrors.Internalf("llm decision failed: decode inspect decision: %v", err)
	}

	useCapability := len(capabilities) > 0 &&
		(decision.Action != models.InspectActionExecuteObjectProperty || len(objectProperties) == 0)

	var chosenCode string
	if useCapability {
		decision.Action = models.InspectActionExecuteCapability
		if !containsRowCode(capabilities, decision.CapabilityCode) {
			decision.CapabilityCode = rowCode(capabilities[0])
		}
		chosenCode = decision.CapabilityCode

		details, err := s.graph.CapabilityDetails(ctx, run.tenantID, []string{chosenCode})
		if err != nil {
			return err
		}
		if len(details) == 0 {
			return apperrors.Newf(apperrors.CodeNotFound, "capability not found: %s", chosenCode)
		}
		run.capability = details[0]
	} else {
		decision.Action = models.InspectActionExecuteObjectProperty
		if !containsRowCode(objectProperties, decision.ObjectPropertyCode) {
			decision.ObjectPropertyCode = rowCode(objectProperties[0])
		}
		chosenCode = decision.ObjectPropertyCode

		details, err := s.graph.ObjectPropertyDetails(ctx, run.tenantID, []string{chosenCode})
		if err != nil {
			return err
		}
		if len(details) == 0 {
			return apperrors.Newf(apperrors.CodeNotFound, "object property not found: %s", chosenCode)
		}
		run.objectProperty = details[0]
	}

	run.decision = &decision
	s.emit(ctx, run, stepInspect, "task_planned", map[string]any{
		"action": string(decision.Action),
		"code":   chosenCode,
	})
	return nil
}

// ============================================================================
// Node 5: execute
// ============================================================================

func sideCodes(detail map[string]any, key string) []string {
	rows := detailRows(detail, key)
	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		if code := rowCode(row); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func (s *reasoningService) nodeExecute(ctx context.Context, run *reasoningRun) error {
	emitMCP := func(eventType string, payload map[string]any) {
		s.emit(ctx, run, stepExecuting, eventType, payload)
	}

	var (
		result *ExecutorResult
		task   *models.ReasoningTask
		err    error
	)
	if run.decision.Action == models.InspectActionExecuteCapability {
		payload := map[string]any{
			"capability_code": run.decision.CapabilityCode,
			"capability_name": run.capability["name"],
			"ontology_code":   run.anchor.Code,
			"ontology_id":     run.anchor.ClassID,
		}
		task, err = s.repo.CreateTask(ctx, run.sessionID, run.turnID, models.TaskTypeCapability, payload)
		if err != nil {
			return err
		}
		result, err = s.executor.ExecuteCapability(ctx, run.cfg, CapabilityExecution{
			TenantID:   run.tenantID,
			Query:      run.query,
			Intent:     run.intent,
			ClassID:    run.anchor.ClassID,
			Ontology:   run.anchor.basic(),
			Capability: run.capability,
			Catalog:    run.anchor.Catalog,
			Audit:      s.audit(ctx, run),
			EmitMCP:    emitMCP,
		})
	} else {
		payload := map[string]any{
			"object_property_code": run.decision.ObjectPropertyCode,
			"object_property_name": run.objectProperty["name"],
			"ontology_code":        run.anchor.Code,
			"ontology_id":          run.anchor.ClassID,
		}
		task, err = s.repo.CreateTask(ctx, run.sessionID, run.turnID, models.TaskTypeObjectProperty, payload)
		if err != nil {
			return err
		}
		result, err = s.executor.ExecuteObjectProperty(ctx, run.cfg, ObjectPropertyExecution{
			TenantID:       run.tenantID,
			Query:          run.query,
			Intent:         run.intent,
			CurrentCode:    run.anchor.Code,
			ClassID:        run.anchor.ClassID,
			Ontology:       run.anchor.basic(),
			ObjectProperty: run.objectProperty,
			DomainCodes:    sideCodes(run.objectProperty, "domain"),
			RangeCodes:     sideCodes(run.objectProperty, "range"),
			Resolve: func(ctx context.Context, code string) (*ResolvedOntology, error) {
				return s.resolveOntology(ctx, run.tenantID, code)
			},
			Audit:   s.audit(ctx, run),
			EmitMCP: emitMCP,
		})
	}
	if err != nil {
		// The task stays pending; terminal sessions never reopen it.
		return err
	}

	if err := s.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted); err != nil {
		return err
	}
	task.Status = models.TaskStatusCompleted
	run.task = task
	run.executed = result

	run.plan.Decision = run.decision
	run.plan.ExecutorPlan = result.ExecutorPlan
	run.plan.DataRequest = result.DataRequest
	run.plan.DataExecution = result.DataExecution
	run.plan.ExecutionMode = result.ExecutionMode
	if err := s.contexts.SavePlanState(ctx, run.sessionID, run.plan); err != nil {
		return err
	}

	s.emit(ctx, run, stepExecuting, "task_executed", map[string]any{
		"task_id":   task.ID,
		"task_type": string(task.TaskType),
		"selected":  task.Payload,
		"data_mode": string(result.ExecutionMode),
	})
	return nil
}

// ============================================================================
// Node 6: finalize
// ============================================================================

func (s *reasoningService) nodeFinalize(ctx context.Context, run *reasoningRun) error {
	selectedTask := map[string]any{}
	if run.task != nil {
		selectedTask = run.task.Payload
	}
	summary, err := s.invoker.SummarizeWithContext(ctx, run.cfg, run.query, run.anchor.basic(), selectedTask, s.audit(ctx, run))
	if err != nil {
		return err
	}

	run.modelOutput = map[string]any{
		"summary":              summary,
		"selected_ontology":    run.anchor.basic(),
		"selected_task":        selectedTask,
		"candidate_attributes": run.attributes,
		"planning":             run.executed.ExecutorPlan,
		"data_execution_mode":  string(run.executed.ExecutionMode),
		"data_execution":       run.executed.DataExecution,
		"llm_route": map[string]any{
			"provider":     string(run.cfg.Provider),
			"model":        run.cfg.Model,
			"has_fallback": run.cfg.HasFallback(),
		},
	}
	if run.executed.TargetOntology != nil {
		run.modelOutput["target_ontology"] = run.executed.TargetOntology
	}
	run.status = models.SessionStatusCompleted
	return nil
}

// ============================================================================
// Lifecycle: create / get
// ============================================================================

func (s *reasoningService) CreateSession(ctx context.Context, tenantID, userInput string, metadata map[string]any, traceID *string) (map[string]any, error) {
	session, err := s.repo.CreateSession(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	turn, err := s.repo.CreateTurn(ctx, session.ID, userInput, 1)
	if err != nil {
		return nil, err
	}

	if _, err := s.contexts.Write(ctx, session.ID, models.ContextScopeSession, models.ContextKeyInitialInput, map[string]any{"text": userInput}); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if _, err := s.contexts.Write(ctx, session.ID, models.ContextScopeGlobal, models.ContextKeySessionMetadata, metadata); err != nil {
			return nil, err
		}
	}

	s.emitFor(ctx, tenantID, session.ID, &turn.ID, traceID, stepSessionCreate, "session_started", map[string]any{"input": userInput})

	return map[string]any{
		"session_id": session.ID,
		"status":     string(session.Status),
		"turn": map[string]any{
			"turn_id":    turn.ID,
			"turn_no":    turn.TurnNo,
			"status":     string(turn.Status),
			"user_input": turn.UserInput,
		},
	}, nil
}

func (s *reasoningService) GetSession(ctx context.Context, tenantID, sessionID string) (map[string]any, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("reasoning session not found")
	}

	latestTurn, err := s.repo.LatestTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.LatestPendingClarification(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var turnID *int64
	if latestTurn != nil {
		turnID = &latestTurn.ID
	}
	tasks, err := s.repo.ListTasks(ctx, sessionID, turnID)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"session_id": session.ID,
		"status":     string(session.Status),
		"created_at": session.CreatedAt,
		"updated_at": session.UpdatedAt,
		"ended_at":   session.EndedAt,
	}
	if latestTurn != nil {
		out["latest_turn"] = map[string]any{
			"turn_id":      latestTurn.ID,
			"turn_no":      latestTurn.TurnNo,
			"status":       string(latestTurn.Status),
			"user_input":   latestTurn.UserInput,
			"model_output": latestTurn.ModelOutput,
		}
	} else {
		out["latest_turn"] = nil
	}
	if pending != nil {
		out["pending_clarification"] = map[string]any{
			"clarification_id": pending.ID,
			"question":         pending.Question,
		}
	} else {
		out["pending_clarification"] = nil
	}

	taskRows := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		taskRows = append(taskRows, map[string]any{
			"task_id":     task.ID,
			"task_type":   string(task.TaskType),
			"status":      string(task.Status),
			"retry_count": task.RetryCount,
			"payload":     task.Payload,
		})
	}
	out["tasks"] = taskRows
	return out, nil
}

// ============================================================================
// Lifecycle: run
// ============================================================================

func (s *reasoningService) Run(ctx context.Context, tenantID, sessionID, userInput string, traceID *string) (map[string]any, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("reasoning session not found")
	}
	if session.Status.IsTerminal() {
		// Terminal sessions are never reopened; surface the status as-is.
		return map[string]any{"session_id": session.ID, "status": string(session.Status)}, nil
	}

	pending, err := s.repo.LatestPendingClarification(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return map[string]any{
			"session_id": session.ID,
			"status":     string(models.SessionStatusWaitingClarification),
			"clarification": map[string]any{
				"clarification_id": pending.ID,
				"question":         pending.Question,
			},
		}, nil
	}

	turn, err := s.repo.LatestTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, apperrors.NotFound("reasoning turn not found")
	}
	if strings.TrimSpace(userInput) != "" {
		turnNo, err := s.repo.NextTurnNo(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		turn, err = s.repo.CreateTurn(ctx, sessionID, userInput, turnNo)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateSessionStatus(ctx, sessionID, models.SessionStatusRunning, false); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTurnStatus(ctx, turn.ID, models.SessionStatusRunning); err != nil {
		return nil, err
	}

	result, runErr := s.executeRun(ctx, tenantID, sessionID, turn, traceID)
	if runErr != nil {
		if err := s.repo.UpdateTurnStatus(ctx, turn.ID, models.SessionStatusFailed); err != nil {
			s.logger.Warn("mark turn failed", zap.Int64("turn_id", turn.ID), zap.Error(err))
		}
		if err := s.repo.UpdateSessionStatus(ctx, sessionID, models.SessionStatusFailed, true); err != nil {
			s.logger.Warn("mark session failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		s.emitFor(ctx, tenantID, sessionID, &turn.ID, traceID, stepFailed, "session_failed", map[string]any{"error": runErr.Error()})

		if appErr, ok := apperrors.As(runErr); ok {
			return nil, appErr
		}
		return nil, apperrors.Internalf("reasoning execution failed: %v", runErr)
	}
	return result, nil
}

func (s *reasoningService) executeRun(ctx context.Context, tenantID, sessionID string, turn *models.ReasoningTurn, traceID *string) (map[string]any, error) {
	cfg, err := s.llmConfigs.RuntimeConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	traversal, err := s.contexts.LoadTraversalState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	run := &reasoningRun{
		tenantID:  tenantID,
		sessionID: sessionID,
		turnID:    turn.ID,
		traceID:   traceID,
		query:     strings.TrimSpace(turn.UserInput),
		cfg:       cfg,
		status:    models.SessionStatusRunning,
		traversal: traversal,
	}

	if err := s.machine.Run(ctx, run); err != nil {
		return nil, err
	}

	if run.status.IsWaiting() {
		question := run.question
		if question == nil {
			question = map[string]any{
				"tenant_id": tenantID,
				"type":      "unknown",
				"question":  "当前任务需要更多信息，请补充说明。",
			}
		}
		clarification, err := s.repo.CreateClarification(ctx, sessionID, &turn.ID, question)
		if err != nil {
			return nil, err
		}
		if err := s.repo.UpdateSessionStatus(ctx, sessionID, run.status, false); err != nil {
			return nil, err
		}
		if err := s.repo.UpdateTurnStatus(ctx, turn.ID, run.status); err != nil {
			return nil, err
		}
		s.emit(ctx, run, stepClarification, "clarification_asked", question)

		return map[string]any{
			"session_id": sessionID,
			"status":     string(run.status),
			"clarification": map[string]any{
				"clarification_id": clarification.ID,
				"question":         clarification.Question,
			},
		}, nil
	}

	if err := s.repo.CompleteTurn(ctx, turn.ID, run.modelOutput); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSessionStatus(ctx, sessionID, models.SessionStatusCompleted, true); err != nil {
		return nil, err
	}

	if _, err := s.contexts.Write(ctx, sessionID, models.ContextScopeSession, models.ContextKeySelectedOntology, run.anchor.basic()); err != nil {
		return nil, err
	}
	if _, err := s.contexts.Write(ctx, sessionID, models.ContextScopeArtifact, models.ContextKeyLatestResult, run.modelOutput); err != nil {
		return nil, err
	}

	s.emit(ctx, run, stepCompleted, "session_completed", map[string]any{"turn_id": turn.ID})

	tasks := []map[string]any{}
	if run.task != nil {
		tasks = append(tasks, map[string]any{
			"task_id":   run.task.ID,
			"task_type": string(run.task.TaskType),
			"status":    string(run.task.Status),
			"payload":   run.task.Payload,
		})
	}
	return map[string]any{
		"session_id": sessionID,
		"status":     string(models.SessionStatusCompleted),
		"turn": map[string]any{
			"turn_id": turn.ID,
			"turn_no": turn.TurnNo,
			"status":  string(models.SessionStatusCompleted),
		},
		"result": run.modelOutput,
		"tasks":  tasks,
	}, nil
}

// ============================================================================
// Lifecycle: clarify
// ============================================================================

func (s *reasoningService) Clarify(ctx context.Context, tenantID, sessionID string, answer map[string]any, traceID *string) (map[string]any, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("reasoning session not found")
	}

	clarification, err := s.repo.LatestPendingClarification(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if clarification == nil {
		return nil, apperrors.Validation("no pending clarification")
	}

	if err := s.repo.AnswerClarification(ctx, clarification.ID, answer); err != nil {
		return nil, err
	}

	if questionType, _ := clarification.Question["type"].(string); questionType == "traversal_confirmation" {
		if err := s.applyTraversalAnswer(ctx, tenantID, sessionID, clarification, answer, traceID); err != nil {
			return nil, err
		}
	}

	var turn *models.ReasoningTurn
	if clarification.TurnID != nil {
		turn, err = s.repo.GetTurn(ctx, *clarification.TurnID)
	} else {
		turn, err = s.repo.LatestTurn(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	var turnID *int64
	if turn != nil {
		answerJSON, _ := json.Marshal(answer)
		merged := fmt.Sprintf("%s\n[clarification] %s", turn.UserInput, answerJSON)
		if err := s.repo.UpdateTurnInput(ctx, turn.ID, merged, models.SessionStatusCreated); err != nil {
			return nil, err
		}
		turnID = &turn.ID
	}

	if err := s.repo.UpdateSessionStatus(ctx, sessionID, models.SessionStatusCreated, false); err != nil {
		return nil, err
	}
	s.emitFor(ctx, tenantID, sessionID, turnID, traceID, stepClarification, "recovery_triggered", map[string]any{
		"clarification_id": clarification.ID,
	})

	return map[string]any{
		"session_id": sessionID,
		"status":     string(models.SessionStatusCreated),
		"clarification": map[string]any{
			"clarification_id": clarification.ID,
			"status":           string(models.ClarificationStatusAnswered),
		},
	}, nil
}

// applyTraversalAnswer consumes a traversal confirmation: both outcomes spend
// budget; approval stores the resume token steering the next run's anchor.
func (s *reasoningService) applyTraversalAnswer(
	ctx context.Context,
	tenantID, sessionID string,
	clarification *models.ReasoningClarification,
	answer map[string]any,
	traceID *string,
) error {
	state, err := s.contexts.LoadTraversalState(ctx, sessionID)
	if err != nil {
		return err
	}

	fromCode, _ := clarification.Question["from_code"].(string)
	toCode, _ := clarification.Question["to_code"].(string)
	if state.PendingTraversal != nil {
		fromCode = state.PendingTraversal.FromCode
		toCode = state.PendingTraversal.ToCode
	}

	decision, _ := answer["decision"].(string)
	approved := decision == "approve"

	if fromCode != "" && !state.HasVisited(fromCode) {
		state.VisitedOntologyCodes = append(state.VisitedOntologyCodes, fromCode)
	}
	if approved {
		state.ApprovedTargetOntologyCode = toCode
		if toCode != "" && !state.HasVisited(toCode) {
			state.VisitedOntologyCodes = append(state.VisitedOntologyCodes, toCode)
		}
	}
	state.Depth++
	state.BranchBudget--
	state.PendingTraversal = nil

	if err := s.contexts.SaveTraversalState(ctx, sessionID, state); err != nil {
		return err
	}

	if approved {
		s.emitFor(ctx, tenantID, sessionID, clarification.TurnID, traceID, stepTraversal, "traversal_step_completed", map[string]any{
			"from_code": fromCode,
			"to_code":   toCode,
		})
	}
	return nil
}

// ============================================================================
// Lifecycle: trace / cancel
// ============================================================================

func (s *reasoningService) ListTrace(ctx context.Context, tenantID, sessionID string) (map[string]any, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("reasoning session not found")
	}

	events, err := s.repo.ListTraceEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"id":         event.ID,
			"turn_id":    event.TurnID,
			"step":       event.Step,
			"event_type": event.EventType,
			"payload":    event.Payload,
			"trace_id":   event.TraceID,
			"created_at": event.CreatedAt,
		})
	}
	return map[string]any{"items": items}, nil
}

func (s *reasoningService) Cancel(ctx context.Context, tenantID, sessionID, reason string, traceID *string) (map[string]any, error) {
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("reasoning session not found")
	}

	if err := s.repo.UpdateSessionStatus(ctx, sessionID, models.SessionStatusCancelled, true); err != nil {
		return nil, err
	}
	latestTurn, err := s.repo.LatestTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var turnID *int64
	if latestTurn != nil {
		turnID = &latestTurn.ID
	}
	if reason == "" {
		reason = "cancelled_by_user"
	}
	s.emitFor(ctx, tenantID, sessionID, turnID, traceID, stepCancel, "session_failed", map[string]any{"reason": reason})

	return map[string]any{
		"session_id": sessionID,
		"status":     string(models.SessionStatusCancelled),
	}, nil
}
