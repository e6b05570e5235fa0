package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/theworld-inc/theworld-engine/pkg/database"
	"github.com/theworld-inc/theworld-engine/pkg/models"
)

// ReasoningRepository defines data access for sessions, turns, tasks, context
// versions, trace events and clarifications. All methods read the tenant
// scope from context; sessions are never visible across tenants.
type ReasoningRepository interface {
	CreateSession(ctx context.Context, tenantID string) (*models.ReasoningSession, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (*models.ReasoningSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, ended bool) error

	CreateTurn(ctx context.Context, sessionID, userInput string, turnNo int) (*models.ReasoningTurn, error)
	GetTurn(ctx context.Context, turnID int64) (*models.ReasoningTurn, error)
	LatestTurn(ctx context.Context, sessionID string) (*models.ReasoningTurn, error)
	NextTurnNo(ctx context.Context, sessionID string) (int, error)
	UpdateTurnStatus(ctx context.Context, turnID int64, status models.SessionStatus) error
	UpdateTurnInput(ctx context.Context, turnID int64, userInput string, status models.SessionStatus) error
	CompleteTurn(ctx context.Context, turnID int64, modelOutput map[string]any) error

	CreateTask(ctx context.Context, sessionID string, turnID int64, taskType models.TaskType, payload map[string]any) (*models.ReasoningTask, error)
	ListTasks(ctx context.Context, sessionID string, turnID *int64) ([]models.ReasoningTask, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status models.TaskStatus) error

	SetContext(ctx context.Context, sessionID string, scope models.ContextScope, key string, value map[string]any) (*models.ReasoningContext, error)
	ListContext(ctx context.Context, sessionID string, scopes []models.ContextScope) ([]models.ReasoningContext, error)

	CreateTraceEvent(ctx context.Context, event *models.ReasoningTraceEvent) error
	ListTraceEvents(ctx context.Context, sessionID string) ([]models.ReasoningTraceEvent, error)

	CreateClarification(ctx context.Context, sessionID string, turnID *int64, question map[string]any) (*models.ReasoningClarification, error)
	LatestPendingClarification(ctx context.Context, sessionID string) (*models.ReasoningClarification, error)
	AnswerClarification(ctx context.Context, clarificationID int64, answer map[string]any) error
}

type reasoningRepository struct{}

// NewReasoningRepository creates a new reasoning repository.
func NewReasoningRepository() ReasoningRepository {
	return &reasoningRepository{}
}

var _ ReasoningRepository = (*reasoningRepository)(nil)

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "rs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func scopeConn(ctx context.Context) (*database.TenantScope, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	return scope, nil
}

func (r *reasoningRepository) CreateSession(ctx context.Context, tenantID string) (*models.ReasoningSession, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	session := &models.ReasoningSession{
		ID:       NewSessionID(),
		TenantID: tenantID,
		Status:   models.SessionStatusCreated,
	}
	query := `
		INSERT INTO reasoning_sessions (id, tenant_id, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	err = scope.Conn.QueryRow(ctx, query, session.ID, session.TenantID, session.Status).
		Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reasoning session: %w", err)
	}
	return session, nil
}

func (r *reasoningRepository) GetSession(ctx context.Context, tenantID, sessionID string) (*models.ReasoningSession, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, status, created_at, updated_at, ended_at
		FROM reasoning_sessions
		WHERE tenant_id = $1 AND id = $2`
	var session models.ReasoningSession
	err = scope.Conn.QueryRow(ctx, query, tenantID, sessionID).Scan(
		&session.ID, &session.TenantID, &session.Status,
		&session.CreatedAt, &session.UpdatedAt, &session.EndedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query reasoning session: %w", err)
	}
	return &session, nil
}

func (r *reasoningRepository) UpdateSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus, ended bool) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE reasoning_sessions
		SET status = $2,
		    updated_at = NOW(),
		    ended_at = CASE WHEN $3 THEN NOW() ELSE ended_at END
		WHERE id = $1`
	_, err = scope.Conn.Exec(ctx, query, sessionID, status, ended)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (r *reasoningRepository) CreateTurn(ctx context.Context, sessionID, userInput string, turnNo int) (*models.ReasoningTurn, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	turn := &models.ReasoningTurn{
		SessionID: sessionID,
		TurnNo:    turnNo,
		UserInput: userInput,
		Status:    models.SessionStatusCreated,
	}
	query := `
		INSERT INTO reasoning_turns (session_id, turn_no, user_input, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	err = scope.Conn.QueryRow(ctx, query, turn.SessionID, turn.TurnNo, turn.UserInput, turn.Status).
		Scan(&turn.ID, &turn.CreatedAt, &turn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reasoning turn: %w", err)
	}
	return turn, nil
}

const turnColumns = `id, session_id, turn_no, user_input, status, model_output, created_at, updated_at`

func scanTurn(row pgx.Row) (*models.ReasoningTurn, error) {
	var turn models.ReasoningTurn
	err := row.Scan(
		&turn.ID, &turn.SessionID, &turn.TurnNo, &turn.UserInput,
		&turn.Status, &turn.ModelOutput, &turn.CreatedAt, &turn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (r *reasoningRepository) GetTurn(ctx context.Context, turnID int64) (*models.ReasoningTurn, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + turnColumns + ` FROM reasoning_turns WHERE id = $1`
	turn, err := scanTurn(scope.Conn.QueryRow(ctx, query, turnID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query reasoning turn: %w", err)
	}
	return turn, nil
}

func (r *reasoningRepository) LatestTurn(ctx context.Context, sessionID string) (*models.ReasoningTurn, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + turnColumns + `
		FROM reasoning_turns
		WHERE session_id = $1
		ORDER BY turn_no DESC
		LIMIT 1`
	turn, err := scanTurn(scope.Conn.QueryRow(ctx, query, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest turn: %w", err)
	}
	return turn, nil
}

func (r *reasoningRepository) NextTurnNo(ctx context.Context, sessionID string) (int, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return 0, err
	}

	var maxTurnNo *int
	query := `SELECT MAX(turn_no) FROM reasoning_turns WHERE session_id = $1`
	if err := scope.Conn.QueryRow(ctx, query, sessionID).Scan(&maxTurnNo); err != nil {
		return 0, fmt.Errorf("query max turn_no: %w", err)
	}
	if maxTurnNo == nil {
		return 1, nil
	}
	return *maxTurnNo + 1, nil
}

func (r *reasoningRepository) UpdateTurnStatus(ctx context.Context, turnID int64, status models.SessionStatus) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `UPDATE reasoning_turns SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := scope.Conn.Exec(ctx, query, turnID, status); err != nil {
		return fmt.Errorf("update turn status: %w", err)
	}
	return nil
}

func (r *reasoningRepository) UpdateTurnInput(ctx context.Context, turnID int64, userInput string, status models.SessionStatus) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `UPDATE reasoning_turns SET user_input = $2, status = $3, updated_at = NOW() WHERE id = $1`
	if _, err := scope.Conn.Exec(ctx, query, turnID, userInput, status); err != nil {
		return fmt.Errorf("update turn input: %w", err)
	}
	return nil
}

func (r *reasoningRepository) CompleteTurn(ctx context.Context, turnID int64, modelOutput map[string]any) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE reasoning_turns
		SET status = $2, model_output = $3, updated_at = NOW()
		WHERE id = $1`
	if _, err := scope.Conn.Exec(ctx, query, turnID, models.SessionStatusCompleted, modelOutput); err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	return nil
}

func (r *reasoningRepository) CreateTask(ctx context.Context, sessionID string, turnID int64, taskType models.TaskType, payload map[string]any) (*models.ReasoningTask, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	task := &models.ReasoningTask{
		SessionID: sessionID,
		TurnID:    turnID,
		TaskType:  taskType,
		Payload:   payload,
		Status:    models.TaskStatusPending,
	}
	query := `
		INSERT INTO reasoning_tasks (session_id, turn_id, task_type, task_payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, retry_count, created_at, updated_at`
	err = scope.Conn.QueryRow(ctx, query, task.SessionID, task.TurnID, task.TaskType, task.Payload, task.Status).
		Scan(&task.ID, &task.RetryCount, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reasoning task: %w", err)
	}
	return task, nil
}

func (r *reasoningRepository) ListTasks(ctx context.Context, sessionID string, turnID *int64) ([]models.ReasoningTask, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, turn_id, task_type, task_payload, status, retry_count, created_at, updated_at
		FROM reasoning_tasks
		WHERE session_id = $1 AND ($2::bigint IS NULL OR turn_id = $2)
		ORDER BY id ASC`
	rows, err := scope.Conn.Query(ctx, query, sessionID, turnID)
	if err != nil {
		return nil, fmt.Errorf("query reasoning tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.ReasoningTask
	for rows.Next() {
		var task models.ReasoningTask
		err := rows.Scan(
			&task.ID, &task.SessionID, &task.TurnID, &task.TaskType,
			&task.Payload, &task.Status, &task.RetryCount,
			&task.CreatedAt, &task.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan reasoning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *reasoningRepository) UpdateTaskStatus(ctx context.Context, taskID int64, status models.TaskStatus) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `UPDATE reasoning_tasks SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := scope.Conn.Exec(ctx, query, taskID, status); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (r *reasoningRepository) SetContext(ctx context.Context, sessionID string, scope models.ContextScope, key string, value map[string]any) (*models.ReasoningContext, error) {
	conn, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	entry := &models.ReasoningContext{
		SessionID: sessionID,
		Scope:     scope,
		Key:       key,
		Value:     value,
	}
	// Versions are append-only: each write takes max(version)+1 for its key.
	query := `
		INSERT INTO reasoning_contexts (session_id, scope, key, value_json, version)
		VALUES ($1, $2, $3, $4,
			COALESCE((SELECT MAX(version) FROM reasoning_contexts
			          WHERE session_id = $1 AND scope = $2 AND key = $3), 0) + 1)
		RETURNING id, version, created_at`
	err = conn.Conn.QueryRow(ctx, query, entry.SessionID, entry.Scope, entry.Key, entry.Value).
		Scan(&entry.ID, &entry.Version, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reasoning context: %w", err)
	}
	return entry, nil
}

func (r *reasoningRepository) ListContext(ctx context.Context, sessionID string, scopes []models.ContextScope) ([]models.ReasoningContext, error) {
	conn, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	scopeValues := make([]string, len(scopes))
	for i, s := range scopes {
		scopeValues[i] = string(s)
	}
	query := `
		SELECT id, session_id, scope, key, value_json, version, created_at
		FROM reasoning_contexts
		WHERE session_id = $1 AND (cardinality($2::text[]) = 0 OR scope = ANY($2))
		ORDER BY id ASC`
	rows, err := conn.Conn.Query(ctx, query, sessionID, scopeValues)
	if err != nil {
		return nil, fmt.Errorf("query reasoning contexts: %w", err)
	}
	defer rows.Close()

	var entries []models.ReasoningContext
	for rows.Next() {
		var entry models.ReasoningContext
		err := rows.Scan(
			&entry.ID, &entry.SessionID, &entry.Scope, &entry.Key,
			&entry.Value, &entry.Version, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan reasoning context: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *reasoningRepository) CreateTraceEvent(ctx context.Context, event *models.ReasoningTraceEvent) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reasoning_trace_events (session_id, turn_id, step, event_type, payload_json, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err = scope.Conn.QueryRow(ctx, query,
		event.SessionID, event.TurnID, event.Step, event.EventType, event.Payload, event.TraceID).
		Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trace event: %w", err)
	}
	return nil
}

func (r *reasoningRepository) ListTraceEvents(ctx context.Context, sessionID string) ([]models.ReasoningTraceEvent, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, turn_id, step, event_type, payload_json, trace_id, created_at
		FROM reasoning_trace_events
		WHERE session_id = $1
		ORDER BY id ASC`
	rows, err := scope.Conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query trace events: %w", err)
	}
	defer rows.Close()

	var events []models.ReasoningTraceEvent
	for rows.Next() {
		var event models.ReasoningTraceEvent
		err := rows.Scan(
			&event.ID, &event.SessionID, &event.TurnID, &event.Step,
			&event.EventType, &event.Payload, &event.TraceID, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *reasoningRepository) CreateClarification(ctx context.Context, sessionID string, turnID *int64, question map[string]any) (*models.ReasoningClarification, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	clarification := &models.ReasoningClarification{
		SessionID: sessionID,
		TurnID:    turnID,
		Question:  question,
		Status:    models.ClarificationStatusPending,
	}
	query := `
		INSERT INTO reasoning_clarifications (session_id, turn_id, question_json, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	err = scope.Conn.QueryRow(ctx, query,
		clarification.SessionID, clarification.TurnID, clarification.Question, clarification.Status).
		Scan(&clarification.ID, &clarification.CreatedAt, &clarification.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert clarification: %w", err)
	}
	return clarification, nil
}

func (r *reasoningRepository) LatestPendingClarification(ctx context.Context, sessionID string) (*models.ReasoningClarification, error) {
	scope, err := scopeConn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, turn_id, question_json, answer_json, status, created_at, updated_at
		FROM reasoning_clarifications
		WHERE session_id = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1`
	var clarification models.ReasoningClarification
	err = scope.Conn.QueryRow(ctx, query, sessionID, models.ClarificationStatusPending).Scan(
		&clarification.ID, &clarification.SessionID, &clarification.TurnID,
		&clarification.Question, &clarification.Answer, &clarification.Status,
		&clarification.CreatedAt, &clarification.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query pending clarification: %w", err)
	}
	return &clarification, nil
}

func (r *reasoningRepository) AnswerClarification(ctx context.Context, clarificationID int64, answer map[string]any) error {
	scope, err := scopeConn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE reasoning_clarifications
		SET answer_json = $2, status = $3, updated_at = NOW()
		WHERE id = $1`
	if _, err := scope.Conn.Exec(ctx, query, clarificationID, answer, models.ClarificationStatusAnswered); err != nil {
		return fmt.Errorf("answer clarification: %w", err)
	}
	return nil
}
