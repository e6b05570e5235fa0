package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/auth"
)

// WithTenantContext creates middleware that sets up a tenant-scoped DB
// connection. It runs AFTER auth middleware and uses the tenant resolved from
// the request headers. The connection is released after the handler returns.
func WithTenantContext(db *DB, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := auth.GetTenantID(r.Context())
			if !ok {
				logger.Error("missing tenant context in request")
				writeError(w, http.StatusInternalServerError, "missing tenant context")
				return
			}

			scope, err := db.WithTenant(r.Context(), tenantID)
			if err != nil {
				logger.Error("failed to acquire tenant connection",
					zap.String("tenant_id", tenantID),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database connection error")
				return
			}
			defer scope.Close()

			ctx := SetTenantScope(r.Context(), scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    9000,
		"message": message,
		"data":    nil,
	})
}
