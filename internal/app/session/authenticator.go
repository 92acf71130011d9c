package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/credentials"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

// TokenCodec issues and parses signed identity tokens.
type TokenCodec interface {
	Issue(identity domain.Identity, issuedAt time.Time) (string, error)
	Parse(raw string, now time.Time) (domain.Identity, time.Time, error)
}

// Result is a successful login.
type Result struct {
	Identity domain.Identity
	Token    string
	IssuedAt time.Time
}

// Authenticator exchanges credentials for a tagged identity and a signed token.
// The role is resolved exactly once here: presence in the drivers collection makes a
// driver, anything else is a rider.
type Authenticator struct {
	creds  credentials.Service
	docs   docstore.Store
	tokens TokenCodec
	clk    clockport.Clock
	log    *slog.Logger
}

func NewAuthenticator(creds credentials.Service, docs docstore.Store, tokens TokenCodec, clk clockport.Clock, log *slog.Logger) *Authenticator {
	if log == nil {
		log = logger.Nop()
	}
	return &Authenticator{creds: creds, docs: docs, tokens: tokens, clk: clk, log: log}
}

func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (Result, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		details := map[string]any{}
		if email == "" {
			details["email"] = "required"
		}
		if password == "" {
			details["password"] = "required"
		}
		return Result{}, apperr.Validation("email and password are required", details)
	}

	p, err := a.creds.Verify(ctx, email, password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			a.log.Info("login rejected", logger.Action("sign_in_rejected"))
			return Result{}, &apperr.Error{
				Status:  http.StatusUnauthorized,
				Code:    "INVALID_CREDENTIALS",
				Message: "invalid email or password",
				Err:     domain.ErrInvalidCredentials,
			}
		}
		return Result{}, err
	}

	identity, err := a.ResolveIdentity(ctx, p.ID)
	if err != nil {
		return Result{}, err
	}

	now := a.clk.Now().UTC()
	tok, err := a.tokens.Issue(identity, now)
	if err != nil {
		return Result{}, fmt.Errorf("issue session token: %w", err)
	}

	a.log.Info("signed in",
		logger.Action("signed_in"),
		slog.String(logger.IdentityKey, string(identity.ID)),
		slog.String("role", string(identity.Role)),
		slog.String(logger.RouteKey, string(identity.RouteID())),
	)
	return Result{Identity: identity, Token: tok, IssuedAt: now}, nil
}

// ResolveIdentity probes the drivers collection, then riders. A rider without a profile
// document is still a rider, with an unresolved route.
func (a *Authenticator) ResolveIdentity(ctx context.Context, id domain.IdentityID) (domain.Identity, error) {
	rec, err := a.docs.Get(ctx, domain.CollectionDrivers, string(id))
	switch {
	case err == nil:
		p, err := profiles.DecodeDriver(id, rec)
		if err != nil {
			return domain.Identity{}, err
		}
		return domain.NewDriverIdentity(p), nil
	case !errors.Is(err, docstore.ErrNotFound):
		return domain.Identity{}, fmt.Errorf("lookup driver registry: %w", err)
	}

	rec, err = a.docs.Get(ctx, domain.CollectionRiders, string(id))
	switch {
	case err == nil:
		p, err := profiles.DecodeRider(id, rec)
		if err != nil {
			return domain.Identity{}, err
		}
		return domain.NewRiderIdentity(p), nil
	case errors.Is(err, docstore.ErrNotFound):
		return domain.NewRiderIdentity(domain.RiderProfile{ID: id}), nil
	default:
		return domain.Identity{}, fmt.Errorf("lookup rider registry: %w", err)
	}
}

// Verify parses a bearer token and rejects it if the identity signed out after it was issued.
func (a *Authenticator) Verify(ctx context.Context, raw string) (domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	identity, issuedAt, err := a.tokens.Parse(raw, a.clk.Now().UTC())
	if err != nil {
		return domain.Identity{}, &apperr.Error{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "invalid token", Err: err}
	}

	revokedAt, ok, err := a.creds.InvalidatedAt(ctx, identity.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("check session revocation: %w", err)
	}
	// Tokens carry issue times in milliseconds; compare at that precision.
	if ok && issuedAt.Before(revokedAt.Truncate(time.Millisecond)) {
		return domain.Identity{}, &apperr.Error{Status: http.StatusUnauthorized, Code: "SESSION_REVOKED", Message: "session has been signed out"}
	}
	return identity, nil
}

// SignOut invalidates every session issued to the token's identity. Signing out an
// already revoked token is not an error.
func (a *Authenticator) SignOut(ctx context.Context, raw string) error {
	identity, _, err := a.tokens.Parse(strings.TrimSpace(raw), a.clk.Now().UTC())
	if err != nil {
		return &apperr.Error{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "invalid token", Err: err}
	}
	if err := a.creds.Invalidate(ctx, identity.ID); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return &apperr.Error{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "unknown identity", Err: err}
		}
		return fmt.Errorf("invalidate session: %w", err)
	}
	a.log.Info("signed out", logger.Action("signed_out"), slog.String(logger.IdentityKey, string(identity.ID)))
	return nil
}
