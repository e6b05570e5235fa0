// Package trace persists the reasoning audit log and fans events out to an
// optional external observability sink.
package trace

import (
	"context"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/models"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
)

// AllowedEventTypes is the closed set of trace event types. Emitting anything
// else is itself a defect worth auditing, so unknown types are rewritten to
// session_failed with the raw name preserved in the payload.
var AllowedEventTypes = map[string]struct{}{
	"intent_parsed":         {},
	"attributes_matched":    {},
	"ontologies_located":    {},
	"task_planned":          {},
	"task_executed":         {},
	"clarification_asked":   {},
	"recovery_triggered":    {},
	"session_completed":     {},
	"session_failed":        {},
	"session_started":       {},
	"mcp_call_requested":    {},
	"mcp_call_completed":    {},
	"llm_prompt_sent":       {},
	"llm_response_received": {},
}

// Event is one audit emission.
type Event struct {
	TenantID  string
	SessionID string
	TurnID    *int64
	Step      string
	EventType string
	Payload   map[string]any
	TraceID   *string
}

// Emitter appends audit events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Sink persists one row per event and best-effort forwards to the external
// observability endpoint. Forwarding never blocks or fails the engine.
type Sink struct {
	repo      repositories.ReasoningRepository
	forwarder *LangfuseForwarder
	logger    *zap.Logger
}

// NewSink creates a trace sink. forwarder may be nil to disable fan-out.
func NewSink(repo repositories.ReasoningRepository, forwarder *LangfuseForwarder, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{repo: repo, forwarder: forwarder, logger: logger.Named("trace")}
}

var _ Emitter = (*Sink)(nil)

// Emit appends a durable trace row, rewriting unknown event types, then fans
// out to the external sink.
func (s *Sink) Emit(ctx context.Context, event Event) error {
	eventType := event.EventType
	payload := event.Payload
	if _, ok := AllowedEventTypes[eventType]; !ok {
		rewritten := map[string]any{
			"reason":         "unknown_event_type",
			"raw_event_type": eventType,
		}
		for k, v := range payload {
			rewritten[k] = v
		}
		eventType = "session_failed"
		payload = rewritten
	}
	if payload == nil {
		payload = map[string]any{}
	}

	row := &models.ReasoningTraceEvent{
		SessionID: event.SessionID,
		TurnID:    event.TurnID,
		Step:      event.Step,
		EventType: eventType,
		Payload:   payload,
		TraceID:   event.TraceID,
	}
	if err := s.repo.CreateTraceEvent(ctx, row); err != nil {
		return err
	}

	if s.forwarder != nil {
		s.forwarder.Forward(ctx, ForwardedEvent{
			TenantID:  event.TenantID,
			SessionID: event.SessionID,
			TraceID:   derefOr(event.TraceID, ""),
			Step:      event.Step,
			EventType: eventType,
			Payload:   payload,
		})
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
