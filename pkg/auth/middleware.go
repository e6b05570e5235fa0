package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Headers recognized by the middleware.
const (
	TenantHeader = "X-Tenant-Id"
	TraceHeader  = "X-Trace-Id"
)

// Config controls bearer-token verification.
type Config struct {
	// EnableVerification toggles JWT checks. When false (local dev), only the
	// tenant header is required.
	EnableVerification bool
	// Secret is the HS256 signing secret used when verification is enabled.
	Secret string
}

// Middleware extracts the tenant from X-Tenant-Id and, when enabled, verifies
// the Authorization bearer token. Requests without a tenant are rejected.
func Middleware(cfg Config, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
			if tenantID == "" {
				writeUnauthorized(w, "missing tenant header")
				return
			}

			if cfg.EnableVerification {
				token := bearerToken(r)
				if token == "" {
					writeUnauthorized(w, "missing bearer token")
					return
				}
				if err := verifyToken(token, cfg.Secret); err != nil {
					logger.Debug("token verification failed",
						zap.String("tenant_id", tenantID),
						zap.Error(err))
					writeUnauthorized(w, "invalid bearer token")
					return
				}
			}

			ctx := SetTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func verifyToken(tokenString, secret string) error {
	_, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    1001,
		"message": message,
		"data":    nil,
	})
}
