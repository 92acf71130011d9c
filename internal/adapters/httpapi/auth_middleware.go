package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/domain"
)

// TokenVerifier resolves a bearer token to the identity it was issued for.
// *session.Authenticator satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (domain.Identity, error)
}

// NewAuthMiddleware enforces Authorization: Bearer <token>.
//
// On success, it stores the identity and the raw token in request context.
func NewAuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(w, r)
			if !ok {
				return
			}

			identity, err := v.Verify(r.Context(), raw)
			if err != nil {
				var ae *apperr.Error
				if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized {
					writeError(w, r, http.StatusUnauthorized, ae.Code, ae.Message, nil)
					return
				}
				writeError(w, r, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "unable to verify session", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity, raw)))
		})
	}
}

func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		// Browsers cannot set headers on websocket upgrades.
		if websocketUpgrade(r) {
			if tok := strings.TrimSpace(r.URL.Query().Get("access_token")); tok != "" {
				return tok, true
			}
		}
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header", nil)
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
		return "", false
	}
	return raw, true
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
