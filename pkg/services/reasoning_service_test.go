package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/llm"
	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/prompts"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
	"github.com/theworld-inc/theworld-engine/pkg/services/dataplane"
	"github.com/theworld-inc/theworld-engine/pkg/trace"
)

// ============================================================================
// In-memory reasoning repository
// ============================================================================

type fakeReasoningRepo struct {
	sessions       map[string]*models.ReasoningSession
	turns          []*models.ReasoningTurn
	tasks          []*models.ReasoningTask
	contexts       []*models.ReasoningContext
	events         []*models.ReasoningTraceEvent
	clarifications []*models.ReasoningClarification
	nextID         int64
}

func newFakeReasoningRepo() *fakeReasoningRepo {
	return &fakeReasoningRepo{sessions: map[string]*models.ReasoningSession{}}
}

var _ repositories.ReasoningRepository = (*fakeReasoningRepo)(nil)

func (r *fakeReasoningRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *fakeReasoningRepo) CreateSession(_ context.Context, tenantID string) (*models.ReasoningSession, error) {
	session := &models.ReasoningSession{
		ID:        repositories.NewSessionID(),
		TenantID:  tenantID,
		Status:    models.SessionStatusCreated,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.sessions[session.ID] = session
	return session, nil
}

func (r *fakeReasoningRepo) GetSession(_ context.Context, tenantID, sessionID string) (*models.ReasoningSession, error) {
	session, ok := r.sessions[sessionID]
	if !ok || session.TenantID != tenantID {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (r *fakeReasoningRepo) UpdateSessionStatus(_ context.Context, sessionID string, status models.SessionStatus, ended bool) error {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	session.Status = status
	session.UpdatedAt = time.Now()
	if ended {
		now := time.Now()
		session.EndedAt = &now
	}
	return nil
}

func (r *fakeReasoningRepo) CreateTurn(_ context.Context, sessionID, userInput string, turnNo int) (*models.ReasoningTurn, error) {
	turn := &models.ReasoningTurn{
		ID:        r.id(),
		SessionID: sessionID,
		TurnNo:    turnNo,
		UserInput: userInput,
		Status:    models.SessionStatusCreated,
		CreatedAt: time.Now(),
	}
	r.turns = append(r.turns, turn)
	return turn, nil
}

func (r *fakeReasoningRepo) GetTurn(_ context.Context, turnID int64) (*models.ReasoningTurn, error) {
	for _, turn := range r.turns {
		if turn.ID == turnID {
			copied := *turn
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeReasoningRepo) LatestTurn(_ context.Context, sessionID string) (*models.ReasoningTurn, error) {
	var latest *models.ReasoningTurn
	for _, turn := range r.turns {
		if turn.SessionID != sessionID {
			continue
		}
		if latest == nil || turn.TurnNo > latest.TurnNo {
			latest = turn
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeReasoningRepo) NextTurnNo(_ context.Context, sessionID string) (int, error) {
	maxNo := 0
	for _, turn := range r.turns {
		if turn.SessionID == sessionID && turn.TurnNo > maxNo {
			maxNo = turn.TurnNo
		}
	}
	return maxNo + 1, nil
}

func (r *fakeReasoningRepo) UpdateTurnStatus(_ context.Context, turnID int64, status models.SessionStatus) error {
	for _, turn := range r.turns {
		if turn.ID == turnID {
			turn.Status = status
		}
	}
	return nil
}

func (r *fakeReasoningRepo) UpdateTurnInput(_ context.Context, turnID int64, userInput string, status models.SessionStatus) error {
	for _, turn := range r.turns {
		if turn.ID == turnID {
			turn.UserInput = userInput
			turn.Status = status
		}
	}
	return nil
}

func (r *fakeReasoningRepo) CompleteTurn(_ context.Context, turnID int64, modelOutput map[string]any) error {
	for _, turn := range r.turns {
		if turn.ID == turnID {
			turn.Status = models.SessionStatusCompleted
			turn.ModelOutput = modelOutput
		}
	}
	return nil
}

func (r *fakeReasoningRepo) CreateTask(_ context.Context, sessionID string, turnID int64, taskType models.TaskType, payload map[string]any) (*models.ReasoningTask, error) {
	task := &models.ReasoningTask{
		ID:        r.id(),
		SessionID: sessionID,
		TurnID:    turnID,
		TaskType:  taskType,
		Payload:   payload,
		Status:    models.TaskStatusPending,
	}
	r.tasks = append(r.tasks, task)
	return task, nil
}

func (r *fakeReasoningRepo) ListTasks(_ context.Context, sessionID string, turnID *int64) ([]models.ReasoningTask, error) {
	var out []models.ReasoningTask
	for _, task := range r.tasks {
		if task.SessionID != sessionID {
			continue
		}
		if turnID != nil && task.TurnID != *turnID {
			continue
		}
		out = append(out, *task)
	}
	return out, nil
}

func (r *fakeReasoningRepo) UpdateTaskStatus(_ context.Context, taskID int64, status models.TaskStatus) error {
	for _, task := range r.tasks {
		if task.ID == taskID {
			task.Status = status
		}
	}
	return nil
}

func (r *fakeReasoningRepo) SetContext(_ context.Context, sessionID string, scope models.ContextScope, key string, value map[string]any) (*models.ReasoningContext, error) {
	version := 0
	for _, entry := range r.contexts {
		if entry.SessionID == sessionID && entry.Scope == scope && entry.Key == key && entry.Version > version {
			version = entry.Version
		}
	}
	entry := &models.ReasoningContext{
		ID:        r.id(),
		SessionID: sessionID,
		Scope:     scope,
		Key:       key,
		Value:     value,
		Version:   version + 1,
	}
	r.contexts = append(r.contexts, entry)
	return entry, nil
}

func (r *fakeReasoningRepo) ListContext(_ context.Context, sessionID string, scopes []models.ContextScope) ([]models.ReasoningContext, error) {
	wanted := map[models.ContextScope]struct{}{}
	for _, scope := range scopes {
		wanted[scope] = struct{}{}
	}
	var out []models.ReasoningContext
	for _, entry := range r.contexts {
		if entry.SessionID != sessionID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[entry.Scope]; !ok {
				continue
			}
		}
		out = append(out, *entry)
	}
	return out, nil
}

func (r *fakeReasoningRepo) CreateTraceEvent(_ context.Context, event *models.ReasoningTraceEvent) error {
	event.ID = r.id()
	event.CreatedAt = time.Now()
	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

func (r *fakeReasoningRepo) ListTraceEvents(_ context.Context, sessionID string) ([]models.ReasoningTraceEvent, error) {
	var out []models.ReasoningTraceEvent
	for _, event := range r.events {
		if event.SessionID == sessionID {
			out = append(out, *event)
		}
	}
	return out, nil
}

func (r *fakeReasoningRepo) CreateClarification(_ context.Context, sessionID string, turnID *int64, question map[string]any) (*models.ReasoningClarification, error) {
	clarification := &models.ReasoningClarification{
		ID:        r.id(),
		SessionID: sessionID,
		TurnID:    turnID,
		Question:  question,
		Status:    models.ClarificationStatusPending,
	}
	r.clarifications = append(r.clarifications, clarification)
	return clarification, nil
}

func (r *fakeReasoningRepo) LatestPendingClarification(_ context.Context, sessionID string) (*models.ReasoningClarification, error) {
	var latest *models.ReasoningClarification
	for _, clarification := range r.clarifications {
		if clarification.SessionID != sessionID || clarification.Status != models.ClarificationStatusPending {
			continue
		}
		if latest == nil || clarification.ID > latest.ID {
			latest = clarification
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeReasoningRepo) AnswerClarification(_ context.Context, clarificationID int64, answer map[string]any) error {
	for _, clarification := range r.clarifications {
		if clarification.ID == clarificationID {
			clarification.Answer = answer
			clarification.Status = models.ClarificationStatusAnswered
		}
	}
	return nil
}

// eventTypes lists the persisted event types for a session, in insertion
// order, skipping LLM audit chatter.
func (r *fakeReasoningRepo) eventTypes(sessionID string) []string {
	var out []string
	for _, event := range r.events {
		if event.SessionID != sessionID {
			continue
		}
		if event.EventType == "llm_prompt_sent" || event.EventType == "llm_response_received" {
			continue
		}
		out = append(out, event.EventType)
	}
	return out
}

// ============================================================================
// Harness
// ============================================================================

type stubLLMConfigService struct {
	cfg models.LLMRuntimeConfig
	err error
}

var _ TenantLLMConfigService = (*stubLLMConfigService)(nil)

func (s *stubLLMConfigService) GetConfig(context.Context, string) (*LLMConfigView, error) {
	return &LLMConfigView{}, nil
}

func (s *stubLLMConfigService) UpsertConfig(context.Context, string, UpsertLLMConfigInput) (*LLMConfigView, error) {
	return &LLMConfigView{}, nil
}

func (s *stubLLMConfigService) RuntimeConfig(context.Context, string) (models.LLMRuntimeConfig, error) {
	return s.cfg, s.err
}

func (s *stubLLMConfigService) Verify(ctx context.Context, _ string, _ VerifyLLMConfigInput) (llm.VerifyResult, error) {
	return llm.VerifyResult{OK: true}, nil
}

type reasoningHarness struct {
	repo    *fakeReasoningRepo
	invoker *llm.MockInvoker
	data    *dataplane.MockDataService
	svc     ReasoningService
}

func newReasoningHarness(catalog repositories.CatalogRepository, invoker *llm.MockInvoker) *reasoningHarness {
	repo := newFakeReasoningRepo()
	data := &dataplane.MockDataService{}
	contexts := NewContextService(repo, nil)
	sink := trace.NewSink(repo, nil, nil)
	executor := NewReasoningExecutor(invoker, data, nil)
	llmConfigs := &stubLLMConfigService{cfg: models.LLMRuntimeConfig{
		Provider:  models.LLMProviderDeepseek,
		Model:     "deepseek-reasoner",
		APIKey:    "sk-test",
		TimeoutMS: 1000,
	}}
	svc := NewReasoningService(
		repo, catalog, NewGraphToolService(catalog, nil, nil),
		contexts, llmConfigs, invoker, executor, sink, nil)
	return &reasoningHarness{repo: repo, invoker: invoker, data: data, svc: svc}
}

// userCatalog backs the capability happy path: one class with a bound mobile
// attribute and a query capability.
func userCatalog() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		classes: []models.OntologyClass{
			{ID: 1, Code: "user_profile", Name: "用户信息", Status: 1},
		},
		attrs: []models.OntologyDataAttribute{
			{ID: 10, Code: "mobile", Name: "手机号", DataType: "string", SearchText: "mobile 手机号"},
		},
		capabilities: []models.OntologyCapability{
			{ID: 30, Code: "query_user", Name: "查询用户", DomainGroups: [][]int64{{1}}},
		},
		attrRefs: []models.OntologyClassAttrRef{{ClassID: 1, DataAttributeID: 10}},
		capRefs:  map[int64][]int64{1: {30}},
	}
}

// relationCatalog backs the object-property path: entry_entity relates to
// target_entity and has no capabilities.
func relationCatalog() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		classes: []models.OntologyClass{
			{ID: 1, Code: "entry_entity", Name: "Entry", Status: 1},
			{ID: 2, Code: "target_entity", Name: "Target", Status: 1},
		},
		attrs: []models.OntologyDataAttribute{
			{ID: 10, Code: "entry_key", Name: "Entry Key", DataType: "string"},
			{ID: 11, Code: "target_name", Name: "Target Name", DataType: "string"},
		},
		relations: []models.OntologyRelation{
			{ID: 20, Code: "entry_to_target", Name: "Entry To Target"},
		},
		attrRefs: []models.OntologyClassAttrRef{
			{ClassID: 1, DataAttributeID: 10},
			{ClassID: 2, DataAttributeID: 11},
		},
		relDomainRefs: map[int64][]models.OntologyRelationClassRef{
			20: {{RelationID: 20, ClassID: 1}},
		},
		relRangeRefs: map[int64][]models.OntologyRelationClassRef{
			20: {{RelationID: 20, ClassID: 2}},
		},
	}
}

// scriptedInvoker routes each decision point by its system prompt.
func scriptedInvoker(anchorCode string, decision map[string]any, plan map[string]any, anchorTargets []string) *llm.MockInvoker {
	return &llm.MockInvoker{
		InvokeJSONFunc: func(_ context.Context, _ models.LLMRuntimeConfig, systemPrompt string, _ any, _ string) (map[string]any, error) {
			switch systemPrompt {
			case prompts.IntentSystem:
				return map[string]any{
					"keywords":       []any{"手机号"},
					"goal_actions":   []any{"query"},
					"intent_summary": "按手机号查询",
				}, nil
			case prompts.AnchorSystem:
				targets := make([]any, 0, len(anchorTargets))
				for _, code := range anchorTargets {
					targets = append(targets, code)
				}
				return map[string]any{
					"input_ontology_codes":  []any{anchorCode},
					"target_ontology_codes": targets,
				}, nil
			case prompts.InspectSystem:
				return decision, nil
			case prompts.CapabilityPlanSystem, prompts.ObjectPropertyPlanSystem:
				return plan, nil
			}
			return map[string]any{}, nil
		},
	}
}

// ============================================================================
// Scenarios
// ============================================================================

func TestReasoning_HappyPathCapability(t *testing.T) {
	ctx := context.Background()
	h := newReasoningHarness(userCatalog(), scriptedInvoker(
		"user_profile",
		map[string]any{"action": "execute_capability", "capability_code": "query_user"},
		map[string]any{
			"mode":    "query",
			"filters": []any{map[string]any{"field": "mobile", "op": "eq", "value": "15101330234"}},
		},
		nil,
	))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请根据手机号查询用户信息", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])

	tasks := result["tasks"].([]map[string]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "capability", tasks[0]["task_type"])
	assert.Equal(t, "completed", tasks[0]["status"])

	output := result["result"].(map[string]any)
	assert.Equal(t, "query", output["data_execution_mode"])
	route := output["llm_route"].(map[string]any)
	assert.Equal(t, "deepseek", route["provider"])
	assert.Equal(t, "deepseek-reasoner", route["model"])
	assert.Equal(t, false, route["has_fallback"])

	assert.Equal(t, 1, h.data.QueryCalls)

	// The audit trail carries the run milestones in causal order.
	types := h.repo.eventTypes(sessionID)
	expected := []string{"intent_parsed", "attributes_matched", "ontologies_located", "task_planned", "task_executed", "session_completed"}
	idx := 0
	for _, eventType := range types {
		if idx < len(expected) && eventType == expected[idx] {
			idx++
		}
	}
	assert.Equal(t, len(expected), idx, "expected %v in order, trace was %v", expected, types)

	session, err := h.repo.GetSession(ctx, "tenant-a", sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.NotNil(t, session.EndedAt)
}

// overlapGuardCatalog counts attribute reads and records how many were in
// flight at once. The production repository runs every read of a request on
// one tenant-scoped connection, which does not allow overlapping queries.
type overlapGuardCatalog struct {
	repositories.CatalogRepository

	mu       sync.Mutex
	calls    int
	inFlight int
	maxSeen  int
}

func (g *overlapGuardCatalog) ListAttributes(ctx context.Context, tenantID string) ([]models.OntologyDataAttribute, error) {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()
	return g.CatalogRepository.ListAttributes(ctx, tenantID)
}

func TestReasoning_DiscoveryCatalogReadsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	invoker := scriptedInvoker(
		"user_profile",
		map[string]any{"action": "execute_capability", "capability_code": "query_user"},
		map[string]any{"mode": "query"},
		nil,
	)
	inner := invoker.InvokeJSONFunc
	invoker.InvokeJSONFunc = func(ctx context.Context, cfg models.LLMRuntimeConfig, systemPrompt string, payload any, hint string) (map[string]any, error) {
		if systemPrompt == prompts.IntentSystem {
			return map[string]any{
				"keywords":       []any{"手机号", "用户", "注册"},
				"goal_actions":   []any{"query"},
				"intent_summary": "按手机号查询",
			}, nil
		}
		return inner(ctx, cfg, systemPrompt, payload, hint)
	}

	guard := &overlapGuardCatalog{CatalogRepository: userCatalog()}
	h := newReasoningHarness(guard, invoker)

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请根据手机号查询用户信息", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])

	// One attribute search per discovery query, strictly sequential.
	assert.GreaterOrEqual(t, guard.calls, 2)
	assert.Equal(t, 1, guard.maxSeen, "catalog reads overlapped within one run")
}

func TestReasoning_ClarificationLoop(t *testing.T) {
	ctx := context.Background()
	// No attributes at all: discovery must ask for better keywords.
	h := newReasoningHarness(&fakeCatalogRepo{}, scriptedInvoker("x", nil, nil, nil))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "帮我处理一下", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "waiting_clarification", result["status"])
	clarification := result["clarification"].(map[string]any)
	question := clarification["question"].(map[string]any)
	assert.Equal(t, "no_attribute_match", question["type"])

	// A second run does not advance while the question is pending.
	again, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "waiting_clarification", again["status"])

	answered, err := h.svc.Clarify(ctx, "tenant-a", sessionID, map[string]any{"keyword": "手机号"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "created", answered["status"])

	session, err := h.repo.GetSession(ctx, "tenant-a", sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCreated, session.Status)

	turn, err := h.repo.LatestTurn(ctx, sessionID)
	require.NoError(t, err)
	assert.Contains(t, turn.UserInput, "[clarification]")
	assert.Contains(t, turn.UserInput, "手机号")

	pending, err := h.repo.LatestPendingClarification(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, pending)

	assert.Contains(t, h.repo.eventTypes(sessionID), "recovery_triggered")
}

func TestReasoning_ObjectPropertyTraversal(t *testing.T) {
	ctx := context.Background()
	h := newReasoningHarness(relationCatalog(), scriptedInvoker(
		"entry_entity",
		map[string]any{"action": "execute_object_property", "object_property_code": "entry_to_target"},
		map[string]any{"mode": "query", "target_ontology_code": "target_entity"},
		nil,
	))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请处理入口键相关任务", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	require.Equal(t, "completed", result["status"])

	tasks := result["tasks"].([]map[string]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "object_property", tasks[0]["task_type"])

	output := result["result"].(map[string]any)
	assert.Equal(t, "query", output["data_execution_mode"])
	target := output["target_ontology"].(map[string]any)
	assert.Equal(t, "target_entity", target["code"])

	types := h.repo.eventTypes(sessionID)
	assert.Contains(t, types, "mcp_call_requested")
	assert.Contains(t, types, "mcp_call_completed")
}

func TestReasoning_TraversalConfirmationGate(t *testing.T) {
	ctx := context.Background()
	h := newReasoningHarness(relationCatalog(), scriptedInvoker(
		"entry_entity",
		map[string]any{"action": "execute_object_property", "object_property_code": "entry_to_target"},
		map[string]any{"mode": "query"},
		[]string{"target_entity"},
	))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请处理入口键相关任务", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "waiting_confirmation", result["status"])
	question := result["clarification"].(map[string]any)["question"].(map[string]any)
	assert.Equal(t, "traversal_confirmation", question["type"])
	assert.Equal(t, "entry_entity", question["from_code"])
	assert.Equal(t, "target_entity", question["to_code"])

	_, err = h.svc.Clarify(ctx, "tenant-a", sessionID, map[string]any{
		"type": "confirmation", "decision": "approve",
	}, nil)
	require.NoError(t, err)

	contexts := NewContextService(h.repo, nil)
	state, err := contexts.LoadTraversalState(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "target_entity", state.ApprovedTargetOntologyCode)
	assert.Equal(t, 1, state.Depth)
	assert.Equal(t, models.DefaultTraversalBranchCount-1, state.BranchBudget)
	assert.Contains(t, state.VisitedOntologyCodes, "entry_entity")
	assert.Contains(t, state.VisitedOntologyCodes, "target_entity")
	assert.Nil(t, state.PendingTraversal)

	// Approval is recorded; the raw event name survives the closed-set rewrite.
	found := false
	for _, event := range h.repo.events {
		if event.SessionID == sessionID && event.Payload["raw_event_type"] == "traversal_step_completed" {
			found = true
		}
	}
	assert.True(t, found, "traversal_step_completed should be audited")

	// The next run resumes with the approved target as its anchor.
	second, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	// target_entity has no capabilities and sits only on the range side, so
	// the run suspends on no_executable_resource at the approved anchor.
	assert.Equal(t, "waiting_clarification", second["status"])
	secondQuestion := second["clarification"].(map[string]any)["question"].(map[string]any)
	assert.Equal(t, "no_executable_resource", secondQuestion["type"])
	assert.Equal(t, "target_entity", secondQuestion["code"])

	state, err = contexts.LoadTraversalState(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, state.ApprovedTargetOntologyCode, "resume token is single-use")
}

func TestReasoning_LLMFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	invoker := &llm.MockInvoker{
		InvokeJSONFunc: func(_ context.Context, _ models.LLMRuntimeConfig, _ string, _ any, _ string) (map[string]any, error) {
			return nil, apperrors.Internal("llm decision failed: connection refused")
		},
	}
	h := newReasoningHarness(userCatalog(), invoker)

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请根据手机号查询用户信息", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	_, err = h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "llm decision failed")

	session, err := h.repo.GetSession(ctx, "tenant-a", sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.Contains(t, h.repo.eventTypes(sessionID), "session_failed")

	// Terminal sessions never advance again.
	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "failed", result["status"])
}

func TestReasoning_CancelAndTerminalClosure(t *testing.T) {
	ctx := context.Background()
	h := newReasoningHarness(userCatalog(), scriptedInvoker("user_profile", nil, nil, nil))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "取消前的输入", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	cancelled, err := h.svc.Cancel(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled["status"])

	// The cancellation reason defaults and lands in the audit trail.
	foundReason := false
	for _, event := range h.repo.events {
		if event.SessionID == sessionID && event.EventType == "session_failed" {
			assert.Equal(t, "cancelled_by_user", event.Payload["reason"])
			foundReason = true
		}
	}
	assert.True(t, foundReason)

	result, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", result["status"])
}

func TestReasoning_MonotonicTurns(t *testing.T) {
	ctx := context.Background()
	h := newReasoningHarness(userCatalog(), scriptedInvoker(
		"user_profile",
		map[string]any{"action": "execute_capability", "capability_code": "query_user"},
		map[string]any{"mode": "query"},
		nil,
	))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请根据手机号查询用户信息", nil, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	first, err := h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)
	require.Equal(t, "completed", first["status"])
	assert.Equal(t, 1, first["turn"].(map[string]any)["turn_no"])

	// A completed session is terminal; new turns require a new session. Reset
	// the status to exercise the multi-turn path the repo supports.
	require.NoError(t, h.repo.UpdateSessionStatus(ctx, sessionID, models.SessionStatusCreated, false))

	second, err := h.svc.Run(ctx, "tenant-a", sessionID, "再查一次订单", nil)
	require.NoError(t, err)
	require.Equal(t, "completed", second["status"])
	assert.Equal(t, 2, second["turn"].(map[string]any)["turn_no"])

	seen := map[int]bool{}
	for _, turn := range h.repo.turns {
		if turn.SessionID == sessionID {
			assert.False(t, seen[turn.TurnNo], "turn_no must be unique")
			seen[turn.TurnNo] = true
		}
	}
	assert.True(t, seen[1] && seen[2], "turn numbers are contiguous")
}

func TestReasoning_GetSessionShape(t *testing.T) {
	ctx := context.Background()
	h := newReasoningHarness(userCatalog(), scriptedInvoker(
		"user_profile",
		map[string]any{"action": "execute_capability", "capability_code": "query_user"},
		map[string]any{"mode": "query"},
		nil,
	))

	created, err := h.svc.CreateSession(ctx, "tenant-a", "请根据手机号查询用户信息", map[string]any{"channel": "test"}, nil)
	require.NoError(t, err)
	sessionID := created["session_id"].(string)

	_, err = h.svc.Run(ctx, "tenant-a", sessionID, "", nil)
	require.NoError(t, err)

	view, err := h.svc.GetSession(ctx, "tenant-a", sessionID)
	require.NoError(t, err)
	assert.Equal(t, "completed", view["status"])
	latest := view["latest_turn"].(map[string]any)
	assert.Equal(t, 1, latest["turn_no"])
	assert.NotNil(t, latest["model_output"])
	assert.Nil(t, view["pending_clarification"])
	require.Len(t, view["tasks"].([]map[string]any), 1)

	_, err = h.svc.GetSession(ctx, "tenant-b", sessionID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}
