package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/theworld-inc/theworld-engine/pkg/auth"
)

// TraceID returns middleware that adopts the caller's X-Trace-Id header or
// mints a fresh identifier. The trace id is stored in context and echoed on
// the response so clients can correlate audit events.
func TraceID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := strings.TrimSpace(r.Header.Get(auth.TraceHeader))
			if traceID == "" {
				traceID = "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			}

			w.Header().Set(auth.TraceHeader, traceID)
			next.ServeHTTP(w, r.WithContext(auth.SetTraceID(r.Context(), traceID)))
		})
	}
}
