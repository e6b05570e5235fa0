// Package auth resolves the calling tenant and verifies bearer tokens.
package auth

import (
	"context"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenantID"
	traceIDKey  contextKey = "traceID"
)

// SetTenantID stores the tenant identifier in context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantID retrieves the tenant identifier from context.
// Returns empty string and false if not present.
func GetTenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	return tenantID, ok && tenantID != ""
}

// SetTraceID stores the request trace identifier in context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID retrieves the request trace identifier from context.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}
