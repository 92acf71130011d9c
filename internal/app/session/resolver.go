package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
	"github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

// ErrSessionActive is returned by Resolver.Authenticate when a previous session has not
// been signed out.
var ErrSessionActive = errors.New("session already active")

// KeyUserID caches the identity id next to the token so the device can address its
// own documents without decoding the token.
const KeyUserID = "userId"

// Gateway is the remote side of login and sign-out. *Authenticator satisfies it.
type Gateway interface {
	Authenticate(ctx context.Context, email, password string) (Result, error)
	SignOut(ctx context.Context, token string) error
}

// Landing is the surface a device opens on launch.
type Landing string

const (
	LandingLogin           Landing = "login"
	LandingDriverDashboard Landing = "driver_dashboard"
	LandingRiderDashboard  Landing = "rider_dashboard"
)

// Session is the locally cached proof of a prior login.
type Session struct {
	Token      string
	Role       domain.Role
	IdentityID domain.IdentityID
	RouteID    domain.RouteID
}

// Resolver is the device-side session manager.
type Resolver struct {
	gw    Gateway
	cache kvcache.Cache
	docs  docstore.Store
	log   *slog.Logger
}

func NewResolver(gw Gateway, cache kvcache.Cache, docs docstore.Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{gw: gw, cache: cache, docs: docs, log: log}
}

// Authenticate logs in and persists the session. SignOut must be called first when a
// session already exists.
func (r *Resolver) Authenticate(ctx context.Context, email, password string) (domain.Identity, error) {
	if _, ok := r.ResumeSession(ctx); ok {
		return domain.Identity{}, &apperr.Error{
			Status:  http.StatusConflict,
			Code:    "SESSION_ACTIVE",
			Message: "sign out before signing in again",
			Err:     ErrSessionActive,
		}
	}

	res, err := r.gw.Authenticate(ctx, email, password)
	if err != nil {
		return domain.Identity{}, err
	}

	// The local cache is best effort: a failed write only costs a login on next launch.
	writes := []struct{ k, v string }{
		{kvcache.KeyUserToken, res.Token},
		{kvcache.KeyUserRole, string(res.Identity.Role)},
		{KeyUserID, string(res.Identity.ID)},
	}
	if route := res.Identity.RouteID(); route != "" {
		writes = append(writes, struct{ k, v string }{kvcache.KeyRoute, string(route)})
	}
	for _, w := range writes {
		if err := r.cache.Set(ctx, w.k, w.v); err != nil {
			r.log.Warn("session cache write failed", logger.Action("session_persist_failed"), slog.String("key", w.k), logger.Err(err))
		}
	}
	return res.Identity, nil
}

// ResumeSession reads the cached session. Any read failure is treated as no session.
func (r *Resolver) ResumeSession(ctx context.Context) (Session, bool) {
	token, ok, err := r.cache.Get(ctx, kvcache.KeyUserToken)
	if err != nil {
		r.log.Warn("session resume failed", logger.Action("session_resume_failed"), logger.Err(err))
		return Session{}, false
	}
	if !ok || token == "" {
		return Session{}, false
	}
	rawRole, ok, err := r.cache.Get(ctx, kvcache.KeyUserRole)
	if err != nil {
		r.log.Warn("session resume failed", logger.Action("session_resume_failed"), logger.Err(err))
		return Session{}, false
	}
	role, valid := domain.ParseRole(rawRole)
	if !ok || !valid {
		return Session{}, false
	}

	s := Session{Token: token, Role: role}
	if id, ok, err := r.cache.Get(ctx, KeyUserID); err == nil && ok {
		s.IdentityID = domain.IdentityID(id)
	}
	if route, ok, err := r.cache.Get(ctx, kvcache.KeyRoute); err == nil && ok {
		s.RouteID = domain.RouteID(route)
	}
	return s, true
}

// Boot picks the landing surface without any network round trip.
func (r *Resolver) Boot(ctx context.Context) Landing {
	s, ok := r.ResumeSession(ctx)
	if !ok {
		return LandingLogin
	}
	if s.Role == domain.RoleDriver {
		return LandingDriverDashboard
	}
	return LandingRiderDashboard
}

// SignOut clears the local record and invalidates the remote session. The local record
// is cleared even when the remote call fails, so the next resume yields no session.
func (r *Resolver) SignOut(ctx context.Context) error {
	s, ok := r.ResumeSession(ctx)

	var clearErr error
	if err := r.cache.Clear(ctx); err != nil {
		clearErr = fmt.Errorf("clear session cache: %w", err)
		for _, k := range []string{kvcache.KeyUserToken, kvcache.KeyUserRole, KeyUserID, kvcache.KeyRoute} {
			_ = r.cache.Remove(ctx, k)
		}
	}
	if !ok {
		return clearErr
	}
	if err := r.gw.SignOut(ctx, s.Token); err != nil {
		return errors.Join(clearErr, fmt.Errorf("remote sign out: %w", err))
	}
	return clearErr
}

// ResolveRoute returns the cached route, else reads it from the identity's profile document
// and caches it.
func (r *Resolver) ResolveRoute(ctx context.Context, s Session) (domain.RouteID, error) {
	if s.RouteID != "" {
		return s.RouteID, nil
	}
	if route, ok, err := r.cache.Get(ctx, kvcache.KeyRoute); err == nil && ok && route != "" {
		return domain.RouteID(route), nil
	}

	identity, err := r.Profile(ctx, s)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %w", domain.ErrRouteUnresolved, err)
		}
		return "", err
	}
	route := identity.RouteID()
	if route == "" {
		return "", domain.ErrRouteUnresolved
	}
	if err := r.cache.Set(ctx, kvcache.KeyRoute, string(route)); err != nil {
		r.log.Warn("route cache write failed", logger.Action("route_cache_failed"), logger.Err(err))
	}
	return route, nil
}

// Profile loads the identity's profile document for display.
func (r *Resolver) Profile(ctx context.Context, s Session) (domain.Identity, error) {
	if s.IdentityID == "" {
		return domain.Identity{}, fmt.Errorf("%w: session has no identity id", domain.ErrRecordNotFound)
	}
	coll := domain.CollectionRiders
	if s.Role == domain.RoleDriver {
		coll = domain.CollectionDrivers
	}
	rec, err := r.docs.Get(ctx, coll, string(s.IdentityID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("%w: %s/%s", domain.ErrRecordNotFound, coll, s.IdentityID)
		}
		return domain.Identity{}, err
	}
	if s.Role == domain.RoleDriver {
		p, err := profiles.DecodeDriver(s.IdentityID, rec)
		if err != nil {
			return domain.Identity{}, err
		}
		return domain.NewDriverIdentity(p), nil
	}
	p, err := profiles.DecodeRider(s.IdentityID, rec)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.NewRiderIdentity(p), nil
}
