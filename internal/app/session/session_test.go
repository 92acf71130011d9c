package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/profiles"
	memclock "github.com/yellowbus/route-tracker/internal/adapters/memory/clock"
	memcredentials "github.com/yellowbus/route-tracker/internal/adapters/memory/credentials"
	memdocstore "github.com/yellowbus/route-tracker/internal/adapters/memory/docstore"
	memkvcache "github.com/yellowbus/route-tracker/internal/adapters/memory/kvcache"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/auth/sessiontoken"
	"github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

type fixture struct {
	clk   *memclock.ManualClock
	creds *memcredentials.Service
	docs  *memdocstore.Store
	auth  *Authenticator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	clk := memclock.NewManualClock(time.Unix(1700000000, 0).UTC())
	creds := memcredentials.NewService(clk)
	creds.Cost = bcrypt.MinCost
	docs := memdocstore.NewStore()

	codec, err := sessiontoken.New(sessiontoken.Config{Secret: "0123456789abcdef0123456789abcdef", Issuer: "test"})
	if err != nil {
		t.Fatalf("sessiontoken.New err=%v", err)
	}

	mustRegister := func(id, email string) {
		if err := creds.Register(ctx, domain.IdentityID(id), email, "pw-"+id); err != nil {
			t.Fatalf("Register(%s) err=%v", id, err)
		}
	}
	mustRegister("d-1", "driver@example.com")
	mustRegister("r-1", "rider@example.com")
	mustRegister("r-2", "orphan@example.com")

	_ = docs.Put(ctx, domain.CollectionDrivers, "d-1", profiles.EncodeDriver(domain.DriverProfile{
		FirstName: "Ada", LastName: "Lovelace", RouteID: "R1", BusNumber: "12",
	}), false)
	_ = docs.Put(ctx, domain.CollectionRiders, "r-1", profiles.EncodeRider(domain.RiderProfile{
		FirstName: "Sam", LastName: "Rider", RouteID: "R2",
	}), false)

	return fixture{
		clk:   clk,
		creds: creds,
		docs:  docs,
		auth:  NewAuthenticator(creds, docs, codec, clk, nil),
	}
}

func TestAuthenticate_DriverFoundInRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.auth.Authenticate(context.Background(), "Driver@Example.com", "pw-d-1")
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if !res.Identity.IsDriver() || res.Identity.RouteID() != "R1" || res.Identity.Driver.BusNumber != "12" {
		t.Fatalf("identity=%+v", res.Identity)
	}

	got, err := f.auth.Verify(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Verify() err=%v", err)
	}
	if got.ID != "d-1" || !got.IsDriver() {
		t.Fatalf("verified identity=%+v", got)
	}
}

func TestAuthenticate_RiderWhenAbsentFromDriverRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.auth.Authenticate(context.Background(), "rider@example.com", "pw-r-1")
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if !res.Identity.IsRider() || res.Identity.RouteID() != "R2" {
		t.Fatalf("identity=%+v", res.Identity)
	}

	orphan, err := f.auth.Authenticate(context.Background(), "orphan@example.com", "pw-r-2")
	if err != nil {
		t.Fatalf("Authenticate(orphan) err=%v", err)
	}
	if !orphan.Identity.IsRider() || orphan.Identity.RouteID() != "" {
		t.Fatalf("orphan identity=%+v", orphan.Identity)
	}
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.auth.Authenticate(context.Background(), "driver@example.com", "nope")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
	ae := (*apperr.Error)(nil)
	if !errors.As(err, &ae) || ae.Status != 401 || ae.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("err=%v (type=%T), want INVALID_CREDENTIALS 401", err, err)
	}

	_, err = f.auth.Authenticate(context.Background(), "", "")
	if !errors.As(err, &ae) || ae.Status != 422 {
		t.Fatalf("err=%v, want 422 validation", err)
	}
}

func TestVerify_RejectsTokensIssuedBeforeSignOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.auth.Authenticate(ctx, "driver@example.com", "pw-d-1")
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	f.clk.Advance(time.Second)
	if err := f.auth.SignOut(ctx, first.Token); err != nil {
		t.Fatalf("SignOut() err=%v", err)
	}

	_, err = f.auth.Verify(ctx, first.Token)
	ae := (*apperr.Error)(nil)
	if !errors.As(err, &ae) || ae.Code != "SESSION_REVOKED" {
		t.Fatalf("Verify(revoked) err=%v, want SESSION_REVOKED", err)
	}

	// Signing out twice is harmless.
	if err := f.auth.SignOut(ctx, first.Token); err != nil {
		t.Fatalf("SignOut(again) err=%v", err)
	}

	f.clk.Advance(10 * time.Millisecond)
	second, err := f.auth.Authenticate(ctx, "driver@example.com", "pw-d-1")
	if err != nil {
		t.Fatalf("Authenticate(again) err=%v", err)
	}
	if _, err := f.auth.Verify(ctx, second.Token); err != nil {
		t.Fatalf("Verify(new token) err=%v", err)
	}
}

func TestVerify_LoginInSameMillisecondAsSignOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.auth.Authenticate(ctx, "driver@example.com", "pw-d-1")
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	f.clk.Set(time.Unix(1700000001, 700_500_000).UTC())
	if err := f.auth.SignOut(ctx, first.Token); err != nil {
		t.Fatalf("SignOut() err=%v", err)
	}

	second, err := f.auth.Authenticate(ctx, "driver@example.com", "pw-d-1")
	if err != nil {
		t.Fatalf("Authenticate(again) err=%v", err)
	}
	if _, err := f.auth.Verify(ctx, second.Token); err != nil {
		t.Fatalf("Verify(token from the sign-out millisecond) err=%v", err)
	}
	if _, err := f.auth.Verify(ctx, first.Token); err == nil {
		t.Fatalf("Verify(revoked) succeeded")
	}
}

func TestResolver_ResumeIsIdempotentAndSignOutClears(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	cache := memkvcache.NewCache()
	r := NewResolver(f.auth, cache, f.docs, nil)

	if got := r.Boot(ctx); got != LandingLogin {
		t.Fatalf("Boot() before login=%q", got)
	}

	identity, err := r.Authenticate(ctx, "driver@example.com", "pw-d-1")
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if !identity.IsDriver() {
		t.Fatalf("identity=%+v", identity)
	}

	s1, ok1 := r.ResumeSession(ctx)
	s2, ok2 := r.ResumeSession(ctx)
	if !ok1 || !ok2 || s1 != s2 || s1.Role != domain.RoleDriver || s1.RouteID != "R1" || s1.IdentityID != "d-1" {
		t.Fatalf("resume s1=%+v ok=%v s2=%+v ok=%v", s1, ok1, s2, ok2)
	}
	if got := r.Boot(ctx); got != LandingDriverDashboard {
		t.Fatalf("Boot()=%q, want driver dashboard", got)
	}

	// A second login without signing out is refused.
	_, err = r.Authenticate(ctx, "rider@example.com", "pw-r-1")
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("Authenticate(while active) err=%v, want ErrSessionActive", err)
	}

	f.clk.Advance(time.Second)
	if err := r.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() err=%v", err)
	}
	if _, ok := r.ResumeSession(ctx); ok {
		t.Fatalf("expected no session after sign-out")
	}
	if got := r.Boot(ctx); got != LandingLogin {
		t.Fatalf("Boot() after sign-out=%q", got)
	}
	if _, err := f.auth.Verify(ctx, s1.Token); err == nil {
		t.Fatalf("expected remote session to be invalidated")
	}

	if _, err := r.Authenticate(ctx, "rider@example.com", "pw-r-1"); err != nil {
		t.Fatalf("Authenticate(rider) err=%v", err)
	}
	if got := r.Boot(ctx); got != LandingRiderDashboard {
		t.Fatalf("Boot()=%q, want rider dashboard", got)
	}
}

type failingCache struct{ kvcache.Cache }

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk unavailable")
}

func TestResolver_ReadFailureIsNoSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	inner := memkvcache.NewCache()
	_ = inner.Set(ctx, kvcache.KeyUserToken, "tok")
	_ = inner.Set(ctx, kvcache.KeyUserRole, "driver")
	r := NewResolver(f.auth, failingCache{Cache: inner}, f.docs, nil)

	if _, ok := r.ResumeSession(ctx); ok {
		t.Fatalf("expected read failure to look like no session")
	}
	if got := r.Boot(ctx); got != LandingLogin {
		t.Fatalf("Boot()=%q, want login", got)
	}
}

func TestResolver_IncompleteRecordIsNoSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	cache := memkvcache.NewCache()
	_ = cache.Set(ctx, kvcache.KeyUserToken, "tok")
	r := NewResolver(f.auth, cache, f.docs, nil)
	if _, ok := r.ResumeSession(ctx); ok {
		t.Fatalf("token without role must not resume")
	}
}

func TestResolver_ResolveRouteFallsBackToProfile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	cache := memkvcache.NewCache()
	r := NewResolver(f.auth, cache, f.docs, nil)

	route, err := r.ResolveRoute(ctx, Session{Role: domain.RoleDriver, IdentityID: "d-1"})
	if err != nil || route != "R1" {
		t.Fatalf("ResolveRoute()=%q err=%v", route, err)
	}
	if v, ok, _ := cache.Get(ctx, kvcache.KeyRoute); !ok || v != "R1" {
		t.Fatalf("route not cached: %q ok=%v", v, ok)
	}

	_, err = NewResolver(f.auth, memkvcache.NewCache(), f.docs, nil).
		ResolveRoute(ctx, Session{Role: domain.RoleRider, IdentityID: "r-2"})
	if !errors.Is(err, domain.ErrRouteUnresolved) || !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("ResolveRoute(orphan) err=%v, want RouteUnresolved+RecordNotFound", err)
	}
}
