package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
)

// ActiveTenantTouch returns middleware that records the calling tenant in the
// active-tenant registry. Failures are logged and never block the request.
// Runs after the tenant DB scope is established.
func ActiveTenantTouch(repo repositories.ActiveTenantRepository, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tenantID, ok := auth.GetTenantID(r.Context()); ok {
				if err := repo.Touch(r.Context(), tenantID); err != nil && logger != nil {
					logger.Warn("active tenant touch failed",
						zap.String("tenant_id", tenantID),
						zap.Error(err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
