package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/services"
)

// ============================================================================
// Request Types
// ============================================================================

// CreateSessionRequest for POST /api/v1/reasoning/sessions
type CreateSessionRequest struct {
	UserInput string         `json:"user_input"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RunSessionRequest for POST /api/v1/reasoning/sessions/{id}/run
type RunSessionRequest struct {
	UserInput string `json:"user_input,omitempty"`
}

// ClarifySessionRequest for POST /api/v1/reasoning/sessions/{id}/clarify
type ClarifySessionRequest struct {
	Answer map[string]any `json:"answer"`
}

// CancelSessionRequest for POST /api/v1/reasoning/sessions/{id}/cancel
type CancelSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// ReasoningHandler exposes the session lifecycle over REST.
type ReasoningHandler struct {
	reasoning services.ReasoningService
	logger    *zap.Logger
}

// NewReasoningHandler creates a new reasoning handler.
func NewReasoningHandler(reasoning services.ReasoningService, logger *zap.Logger) *ReasoningHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReasoningHandler{reasoning: reasoning, logger: logger.Named("reasoning_handler")}
}

// RegisterRoutes registers the reasoning routes on the given mux. wrap applies
// the shared middleware chain (trace id, auth, tenant scope).
func (h *ReasoningHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	base := "/api/v1/reasoning/sessions"

	mux.Handle("POST "+base, wrap(h.Create))
	mux.Handle("GET "+base+"/{id}", wrap(h.Get))
	mux.Handle("POST "+base+"/{id}/run", wrap(h.Run))
	mux.Handle("POST "+base+"/{id}/clarify", wrap(h.Clarify))
	mux.Handle("GET "+base+"/{id}/trace", wrap(h.Trace))
	mux.Handle("POST "+base+"/{id}/cancel", wrap(h.Cancel))
}

func requestIdentity(r *http.Request) (tenantID string, traceID *string, err error) {
	tenantID, ok := auth.GetTenantID(r.Context())
	if !ok {
		return "", nil, apperrors.Internal("missing tenant context")
	}
	if trace := auth.GetTraceID(r.Context()); trace != "" {
		traceID = &trace
	}
	return tenantID, traceID, nil
}

// Create handles POST /api/v1/reasoning/sessions
func (h *ReasoningHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, traceID, err := requestIdentity(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req CreateSessionRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		WriteError(w, r, apperrors.Validation("user_input is required"), h.logger)
		return
	}

	data, err := h.reasoning.CreateSession(r.Context(), tenantID, req.UserInput, req.Metadata, traceID)
	if err != nil {
		h.logger.Error("create session failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, data); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/v1/reasoning/sessions/{id}
func (h *ReasoningHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := requestIdentity(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	data, err := h.reasoning.GetSession(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, data); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Run handles POST /api/v1/reasoning/sessions/{id}/run
//
// Waiting outcomes are HTTP 200 with status waiting_*; only typed errors map
// to failure statuses.
func (h *ReasoningHandler) Run(w http.ResponseWriter, r *http.Request) {
	tenantID, traceID, err := requestIdentity(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req RunSessionRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	sessionID := r.PathValue("id")
	data, err := h.reasoning.Run(r.Context(), tenantID, sessionID, req.UserInput, traceID)
	if err != nil {
		h.logger.Error("run session failed",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, data); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Clarify handles POST /api/v1/reasoning/sessions/{id}/clarify
func (h *ReasoningHandler) Clarify(w http.ResponseWriter, r *http.Request) {
	tenantID, traceID, err := requestIdentity(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req ClarifySessionRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Answer) == 0 {
		WriteError(w, r, apperrors.Validation("answer is required"), h.logger)
		return
	}

	data, err := h.reasoning.Clarify(r.Context(), tenantID, r.PathValue("id"), req.Answer, traceID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, data); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Trace handles GET /api/v1/reasoning/sessions/{id}/trace
func (h *ReasoningHandler) Trace(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := requestIdentity(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	data, err := h.reasoning.ListTrace(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, data); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// Cancel handles POST /api/v1/reasoning/sessions/{id}/cancel
func (h *ReasoningHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, traceID, err := requestIdentity(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req CancelSessionRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	data, err := h.reasoning.Cancel(r.Context(), tenantID, r.PathValue("id"), req.Reason, traceID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteData(w, r, data); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
