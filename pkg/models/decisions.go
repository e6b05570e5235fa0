package models

// Typed decisions parsed once at each node boundary. LLM replies are decoded
// into these at the node that requested them and passed downstream as values.

// ============================================================================
// understand_intent
// ============================================================================

// BusinessElement is a named entity the LLM extracted from the user query.
type BusinessElement struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Role  string `json:"role"`
}

// IntentExtraction is the understand_intent decision.
type IntentExtraction struct {
	Keywords         []string          `json:"keywords"`
	BusinessElements []BusinessElement `json:"business_elements"`
	GoalActions      []string          `json:"goal_actions"`
	IntentSummary    string            `json:"intent_summary"`
}

// ============================================================================
// select_anchor_ontologies
// ============================================================================

// AnchorSelection is the select_anchor_ontologies decision: at least one
// input code, optionally target codes for traversal.
type AnchorSelection struct {
	InputOntologyCodes  []string `json:"input_ontology_codes"`
	TargetOntologyCodes []string `json:"target_ontology_codes"`
	Reason              string   `json:"reason,omitempty"`
}

// ============================================================================
// inspect_ontology
// ============================================================================

// InspectAction selects which executor path to take.
type InspectAction string

const (
	InspectActionExecuteCapability     InspectAction = "execute_capability"
	InspectActionExecuteObjectProperty InspectAction = "execute_object_property"
)

// InspectDecision is the inspect_ontology decision.
type InspectDecision struct {
	Action             InspectAction `json:"action"`
	CapabilityCode     string        `json:"capability_code"`
	ObjectPropertyCode string        `json:"object_property_code"`
	Reason             string        `json:"reason,omitempty"`
}

// ============================================================================
// Executor plans
// ============================================================================

// ExecutionMode selects the data-plane method.
type ExecutionMode string

const (
	ExecutionModeQuery         ExecutionMode = "query"
	ExecutionModeGroupAnalysis ExecutionMode = "group-analysis"
)

// FilterOp is a data-plane filter operator. Unknown operators coerce to eq.
type FilterOp string

const (
	FilterOpEq   FilterOp = "eq"
	FilterOpLike FilterOp = "like"
	FilterOpIn   FilterOp = "in"
)

// DataFilter is one filter clause of a data plan.
type DataFilter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// DataMetric is one aggregation of a group-analysis plan.
type DataMetric struct {
	Agg   string `json:"agg"`
	Field string `json:"field,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// DataPlan is the LLM-planned data-plane request, normalized by the executor
// before use.
type DataPlan struct {
	Mode               ExecutionMode `json:"mode"`
	Filters            []DataFilter  `json:"filters"`
	Page               int           `json:"page"`
	PageSize           int           `json:"page_size"`
	SortField          string        `json:"sort_field,omitempty"`
	SortOrder          string        `json:"sort_order,omitempty"`
	GroupBy            []string      `json:"group_by,omitempty"`
	Metrics            []DataMetric  `json:"metrics,omitempty"`
	SortBy             string        `json:"sort_by,omitempty"`
	TargetOntologyCode string        `json:"target_ontology_code,omitempty"`
	Reason             string        `json:"reason,omitempty"`
}

// ============================================================================
// Traversal state (context scope "session", key "traversal_state")
// ============================================================================

// Traversal defaults.
const (
	DefaultMaxTraversalDepth    = 2
	DefaultTraversalBranchCount = 3
)

// PendingTraversal is a proposed hop awaiting human confirmation.
type PendingTraversal struct {
	FromCode string `json:"from_code"`
	ToCode   string `json:"to_code"`
	Reason   string `json:"reason,omitempty"`
}

// TraversalState bounds LLM-guided graph walks for one session.
type TraversalState struct {
	Depth                      int               `json:"depth"`
	MaxDepth                   int               `json:"max_depth"`
	BranchBudget               int               `json:"branch_budget"`
	VisitedOntologyCodes       []string          `json:"visited_ontology_codes"`
	PendingTraversal           *PendingTraversal `json:"pending_traversal,omitempty"`
	ApprovedTargetOntologyCode string            `json:"approved_target_ontology_code,omitempty"`
}

// NewTraversalState returns a state with default budgets.
func NewTraversalState() TraversalState {
	return TraversalState{
		MaxDepth:             DefaultMaxTraversalDepth,
		BranchBudget:         DefaultTraversalBranchCount,
		VisitedOntologyCodes: []string{},
	}
}

// HasVisited reports whether the cycle guard already contains code.
func (t TraversalState) HasVisited(code string) bool {
	for _, v := range t.VisitedOntologyCodes {
		if v == code {
			return true
		}
	}
	return false
}

// CanTraverse reports whether budgets allow another hop.
func (t TraversalState) CanTraverse() bool {
	return t.Depth < t.MaxDepth && t.BranchBudget > 0
}

// ============================================================================
// Plan state (context scope "session", key "plan_state")
// ============================================================================

// PlanState is the last-known decisions of the graph for a session.
type PlanState struct {
	InputOntologyCodes  []string         `json:"input_ontology_codes,omitempty"`
	TargetOntologyCodes []string         `json:"target_ontology_codes,omitempty"`
	SelectedOntology    map[string]any   `json:"selected_ontology,omitempty"`
	Decision            *InspectDecision `json:"decision,omitempty"`
	ExecutorPlan        map[string]any   `json:"executor_plan,omitempty"`
	DataRequest         map[string]any   `json:"data_request,omitempty"`
	DataExecution       map[string]any   `json:"data_execution,omitempty"`
	ExecutionMode       ExecutionMode    `json:"execution_mode,omitempty"`
}
