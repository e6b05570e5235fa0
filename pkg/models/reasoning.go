package models

import (
	"time"
)

// ============================================================================
// Session / Turn Status
// ============================================================================

// SessionStatus tracks a reasoning session through its lifecycle. Turns use
// the same value set since a turn's status mirrors session progress.
type SessionStatus string

const (
	SessionStatusCreated              SessionStatus = "created"
	SessionStatusRunning              SessionStatus = "running"
	SessionStatusWaitingClarification SessionStatus = "waiting_clarification"
	SessionStatusWaitingConfirmation  SessionStatus = "waiting_confirmation"
	SessionStatusCompleted            SessionStatus = "completed"
	SessionStatusFailed               SessionStatus = "failed"
	SessionStatusCancelled            SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// IsWaiting reports whether the session is suspended on a human answer.
func (s SessionStatus) IsWaiting() bool {
	return s == SessionStatusWaitingClarification || s == SessionStatusWaitingConfirmation
}

// ============================================================================
// Reasoning Session
// ============================================================================

// ReasoningSession is the root of one reasoning conversation for a tenant.
type ReasoningSession struct {
	ID        string        `json:"session_id"`
	TenantID  string        `json:"tenant_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// ============================================================================
// Reasoning Turn
// ============================================================================

// ReasoningTurn is one user input and its resulting model output within a
// session. TurnNo is contiguous and starts at 1.
type ReasoningTurn struct {
	ID          int64          `json:"turn_id"`
	SessionID   string         `json:"session_id"`
	TurnNo      int            `json:"turn_no"`
	UserInput   string         `json:"user_input"`
	Status      SessionStatus  `json:"status"`
	ModelOutput map[string]any `json:"model_output,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ============================================================================
// Reasoning Task
// ============================================================================

// TaskType identifies which executor handles a task.
type TaskType string

const (
	TaskTypeCapability     TaskType = "capability"
	TaskTypeObjectProperty TaskType = "object_property"
)

// TaskStatus tracks an executable task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ReasoningTask is an executable unit created by the execute node. Tasks are
// append-only within a turn.
type ReasoningTask struct {
	ID         int64          `json:"task_id"`
	SessionID  string         `json:"session_id"`
	TurnID     int64          `json:"turn_id"`
	TaskType   TaskType       `json:"task_type"`
	Payload    map[string]any `json:"payload"`
	Status     TaskStatus     `json:"status"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ============================================================================
// Reasoning Context
// ============================================================================

// ContextScope partitions context entries.
type ContextScope string

const (
	ContextScopeGlobal   ContextScope = "global"
	ContextScopeSession  ContextScope = "session"
	ContextScopeLocal    ContextScope = "local"
	ContextScopeArtifact ContextScope = "artifact"
)

// ValidContextScopes contains all valid scope values.
var ValidContextScopes = []ContextScope{
	ContextScopeGlobal,
	ContextScopeSession,
	ContextScopeLocal,
	ContextScopeArtifact,
}

// IsValidContextScope checks if the given scope is valid.
func IsValidContextScope(s ContextScope) bool {
	for _, v := range ValidContextScopes {
		if v == s {
			return true
		}
	}
	return false
}

// Well-known context keys written by the engine.
const (
	ContextKeyInitialInput     = "initial_input"
	ContextKeySessionMetadata  = "session_metadata"
	ContextKeyTraversalState   = "traversal_state"
	ContextKeySelectedOntology = "selected_ontology"
	ContextKeyPlanState        = "plan_state"
	ContextKeyLatestResult     = "latest_result"
)

// ReasoningContext is an append-only versioned fact keyed by
// (session, scope, key). Readers take the latest version per key.
type ReasoningContext struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Scope     ContextScope   `json:"scope"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
}

// ============================================================================
// Trace Events
// ============================================================================

// ReasoningTraceEvent is the authoritative audit log of a run, ordered by
// insertion id. TurnID and TraceID are optional.
type ReasoningTraceEvent struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	TurnID    *int64         `json:"turn_id,omitempty"`
	Step      string         `json:"step"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	TraceID   *string        `json:"trace_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ============================================================================
// Clarifications
// ============================================================================

// ClarificationStatus tracks whether a question has been answered.
type ClarificationStatus string

const (
	ClarificationStatusPending  ClarificationStatus = "pending"
	ClarificationStatusAnswered ClarificationStatus = "answered"
)

// ReasoningClarification is an engine-initiated question. At most one pending
// clarification exists per session; traversal confirmations reuse this record
// with question type "traversal_confirmation".
type ReasoningClarification struct {
	ID        int64               `json:"clarification_id"`
	SessionID string              `json:"session_id"`
	TurnID    *int64              `json:"turn_id,omitempty"`
	Question  map[string]any      `json:"question"`
	Answer    map[string]any      `json:"answer,omitempty"`
	Status    ClarificationStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ============================================================================
// Active Tenants
// ============================================================================

// ActiveTenant records tenants that recently drove the engine.
type ActiveTenant struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	IsActive    bool      `json:"is_active"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
