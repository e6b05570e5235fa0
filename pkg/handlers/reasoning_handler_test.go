package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theworld-inc/theworld-engine/pkg/apperrors"
	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/services"
)

// stubReasoningService records calls and plays back canned responses.
type stubReasoningService struct {
	lastTenant string
	lastInput  string
	lastAnswer map[string]any
	response   map[string]any
	err        error
}

var _ services.ReasoningService = (*stubReasoningService)(nil)

func (s *stubReasoningService) CreateSession(_ context.Context, tenantID, userInput string, _ map[string]any, _ *string) (map[string]any, error) {
	s.lastTenant, s.lastInput = tenantID, userInput
	return s.response, s.err
}

func (s *stubReasoningService) GetSession(_ context.Context, tenantID, _ string) (map[string]any, error) {
	s.lastTenant = tenantID
	return s.response, s.err
}

func (s *stubReasoningService) Run(_ context.Context, tenantID, _, userInput string, _ *string) (map[string]any, error) {
	s.lastTenant, s.lastInput = tenantID, userInput
	return s.response, s.err
}

func (s *stubReasoningService) Clarify(_ context.Context, tenantID, _ string, answer map[string]any, _ *string) (map[string]any, error) {
	s.lastTenant, s.lastAnswer = tenantID, answer
	return s.response, s.err
}

func (s *stubReasoningService) ListTrace(_ context.Context, tenantID, _ string) (map[string]any, error) {
	s.lastTenant = tenantID
	return s.response, s.err
}

func (s *stubReasoningService) Cancel(_ context.Context, tenantID, _, _ string, _ *string) (map[string]any, error) {
	s.lastTenant = tenantID
	return s.response, s.err
}

// testWrap injects the tenant and trace id the real middleware chain would.
func testWrap(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.SetTenantID(r.Context(), "tenant-a")
		ctx = auth.SetTraceID(ctx, "trace-1")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newReasoningMux(stub *stubReasoningService) *http.ServeMux {
	mux := http.NewServeMux()
	NewReasoningHandler(stub, nil).RegisterRoutes(mux, testWrap)
	return mux
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestCreateSession_Success(t *testing.T) {
	stub := &stubReasoningService{response: map[string]any{
		"session_id": "rs_1",
		"status":     "created",
	}}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions",
		strings.NewReader(`{"user_input":"查询用户"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "trace-1", env.TraceID)
	data := env.Data.(map[string]any)
	assert.Equal(t, "rs_1", data["session_id"])
	assert.Equal(t, "tenant-a", stub.lastTenant)
	assert.Equal(t, "查询用户", stub.lastInput)
}

func TestCreateSession_MissingInput(t *testing.T) {
	mux := newReasoningMux(&stubReasoningService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions",
		strings.NewReader(`{"user_input":"  "}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, apperrors.CodeValidation, env.Code)
}

func TestRunSession_WaitingIsHTTP200(t *testing.T) {
	stub := &stubReasoningService{response: map[string]any{
		"session_id": "rs_1",
		"status":     "waiting_clarification",
		"clarification": map[string]any{
			"clarification_id": 1,
			"question":         map[string]any{"type": "no_attribute_match"},
		},
	}}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions/rs_1/run",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 0, env.Code)
	data := env.Data.(map[string]any)
	assert.Equal(t, "waiting_clarification", data["status"])
}

func TestRunSession_NotFound(t *testing.T) {
	stub := &stubReasoningService{err: apperrors.NotFound("reasoning session not found")}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions/missing/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, apperrors.CodeNotFound, env.Code)
	assert.Equal(t, "reasoning session not found", env.Message)
	assert.Equal(t, "trace-1", env.TraceID)
}

func TestRunSession_InternalErrorIs400(t *testing.T) {
	stub := &stubReasoningService{err: apperrors.Internal("reasoning execution failed: boom")}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions/rs_1/run", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// Engine failures keep their 9000 code but surface as 400, matching the
	// envelope contract; 500 is reserved for errors without an engine code.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, apperrors.CodeInternal, env.Code)
}

func TestClarify_RequiresAnswer(t *testing.T) {
	mux := newReasoningMux(&stubReasoningService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions/rs_1/clarify",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClarify_PassesAnswerThrough(t *testing.T) {
	stub := &stubReasoningService{response: map[string]any{"status": "created"}}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions/rs_1/clarify",
		strings.NewReader(`{"answer":{"type":"confirmation","decision":"approve"}}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approve", stub.lastAnswer["decision"])
}

func TestCancel_DefaultsReason(t *testing.T) {
	stub := &stubReasoningService{response: map[string]any{
		"session_id": "rs_1",
		"status":     "cancelled",
	}}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning/sessions/rs_1/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	assert.Equal(t, "cancelled", data["status"])
}

func TestTrace_ReturnsItems(t *testing.T) {
	stub := &stubReasoningService{response: map[string]any{
		"items": []any{map[string]any{"event_type": "session_started"}},
	}}
	mux := newReasoningMux(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reasoning/sessions/rs_1/trace", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	require.Len(t, data["items"], 1)
}
