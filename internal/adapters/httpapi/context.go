package httpapi

import (
	"context"

	"github.com/yellowbus/route-tracker/internal/domain"
)

type identityKey struct{}

type tokenKey struct{}

func WithIdentity(ctx context.Context, identity domain.Identity, token string) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, identity)
	return context.WithValue(ctx, tokenKey{}, token)
}

func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(domain.Identity)
	return v, ok && v.Valid()
}

// TokenFromContext returns the bearer token the request was authenticated with.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey{}).(string)
	return v, ok && v != ""
}
