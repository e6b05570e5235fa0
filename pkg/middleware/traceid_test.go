package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theworld-inc/theworld-engine/pkg/auth"
)

func TestTraceID_AdoptsHeader(t *testing.T) {
	var seen string
	handler := TraceID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reasoning/sessions", nil)
	req.Header.Set(auth.TraceHeader, "trace_abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace_abc123", seen)
	assert.Equal(t, "trace_abc123", rec.Header().Get(auth.TraceHeader))
}

func TestTraceID_MintsWhenMissing(t *testing.T) {
	var seen string
	handler := TraceID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotEmpty(t, seen)
	assert.True(t, strings.HasPrefix(seen, "trace_"))
	assert.Equal(t, seen, rec.Header().Get(auth.TraceHeader))
}
