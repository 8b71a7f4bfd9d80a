package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/http/response"
	"github.com/deskrelay/auth-session-service/internal/observability"
	"github.com/deskrelay/auth-session-service/internal/security"
	"github.com/deskrelay/auth-session-service/internal/service"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware requires a verified access token. Verification goes through
// the token service so blacklisted tokens and superseded token versions are
// rejected, not just bad signatures.
func AuthMiddleware(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			source := "bearer"
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				raw = strings.TrimSpace(auth[7:])
			}
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "missing access token", nil)
				return
			}
			claims, err := tokens.Verify(r.Context(), raw, domain.TokenTypeAccess)
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "invalid", source)
				response.AuthFailure(w, r, err)
				return
			}
			if err := tokens.CheckDeviceBinding(claims, RequestDevice(r).Fingerprint); err != nil {
				observability.RecordTokenValidation(r.Context(), "device_mismatch", source)
				response.AuthFailure(w, r, err)
				return
			}
			observability.RecordTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware verifies a bearer token when one is presented and
// lets the request through anonymous otherwise. Routes that can also work
// from a refresh cookie sit behind this instead of AuthMiddleware.
func OptionalAuthMiddleware(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			raw := strings.TrimSpace(auth[7:])
			claims, err := tokens.Verify(r.Context(), raw, domain.TokenTypeAccess)
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "invalid", "bearer")
				response.AuthFailure(w, r, err)
				return
			}
			if err := tokens.CheckDeviceBinding(claims, RequestDevice(r).Fingerprint); err != nil {
				observability.RecordTokenValidation(r.Context(), "device_mismatch", "bearer")
				response.AuthFailure(w, r, err)
				return
			}
			observability.RecordTokenValidation(r.Context(), "valid", "bearer")
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
