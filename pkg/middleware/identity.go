package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKeyType string

const (
	userIDKey     contextKeyType = "user_id"
	merchantIDKey contextKeyType = "merchant_id"
	roleKey       contextKeyType = "role"
)

// Headers set by the API gateway after it has authenticated the caller.
const (
	HeaderUserID     = "X-User-ID"
	HeaderMerchantID = "X-Merchant-ID"
	HeaderUserRole   = "X-User-Role"
)

// Identity copies the caller identity forwarded by the gateway into the
// request context. The service sits behind the gateway and does not verify
// tokens itself; requests without the headers are anonymous.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v := strings.TrimSpace(r.Header.Get(HeaderUserID)); v != "" {
				ctx = context.WithValue(ctx, userIDKey, v)
			}
			if v := strings.TrimSpace(r.Header.Get(HeaderMerchantID)); v != "" {
				ctx = context.WithValue(ctx, merchantIDKey, v)
			}
			if v := strings.TrimSpace(r.Header.Get(HeaderUserRole)); v != "" {
				ctx = context.WithValue(ctx, roleKey, v)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// MerchantIDFromContext extracts the merchant the caller acts for.
func MerchantIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(merchantIDKey).(string); ok {
		return id
	}
	return ""
}

// RoleFromContext extracts the user role from the request context.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}
