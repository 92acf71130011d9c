package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	memchannel "github.com/yellowbus/route-tracker/internal/adapters/memory/channel"
	memclock "github.com/yellowbus/route-tracker/internal/adapters/memory/clock"
	memcredentials "github.com/yellowbus/route-tracker/internal/adapters/memory/credentials"
	memdocstore "github.com/yellowbus/route-tracker/internal/adapters/memory/docstore"
	memkvcache "github.com/yellowbus/route-tracker/internal/adapters/memory/kvcache"
	memposition "github.com/yellowbus/route-tracker/internal/adapters/memory/position"
	"github.com/yellowbus/route-tracker/internal/app/livemap"
	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/app/session"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/auth/sessiontoken"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/position"
)

type testDevice struct {
	*device
	clk *memclock.ManualClock
	reg *memchannel.Registry
	buf *bytes.Buffer
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	ctx := context.Background()

	clk := memclock.NewManualClock(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	creds := memcredentials.NewService(clk)
	creds.Cost = 4
	docs := memdocstore.NewStore()
	reg := memchannel.NewRegistry()

	for id, email := range map[string]string{"drv-1": "driver@example.com", "rdr-1": "rider@example.com", "rdr-9": "lost@example.com", "rdr-10": "r9@example.com"} {
		if err := creds.Register(ctx, domain.IdentityID(id), email, "pa55word"); err != nil {
			t.Fatalf("Register(%s) err=%v", id, err)
		}
	}
	put := func(coll, id string, rec map[string]any) {
		if err := docs.Put(ctx, coll, id, rec, false); err != nil {
			t.Fatalf("Put(%s/%s) err=%v", coll, id, err)
		}
	}
	put(domain.CollectionDrivers, "drv-1", profiles.EncodeDriver(domain.DriverProfile{FirstName: "Dana", LastName: "Driver", RouteID: "R7", BusNumber: "42"}))
	put(domain.CollectionRiders, "rdr-1", profiles.EncodeRider(domain.RiderProfile{FirstName: "Riley", LastName: "Rider", RouteID: "R7", PhoneNumber: "555-0101"}))
	put(domain.CollectionRiders, "rdr-9", profiles.EncodeRider(domain.RiderProfile{FirstName: "Lou", LastName: "Lost"}))
	put(domain.CollectionRiders, "rdr-10", profiles.EncodeRider(domain.RiderProfile{FirstName: "Nia", LastName: "Nine", RouteID: "R9"}))

	codec, err := sessiontoken.New(sessiontoken.Config{Secret: "0123456789abcdef0123456789abcdef", Issuer: "busdevice-test"})
	if err != nil {
		t.Fatalf("sessiontoken.New() err=%v", err)
	}
	auth := session.NewAuthenticator(creds, docs, codec, clk, nil)

	buf := &bytes.Buffer{}
	return &testDevice{
		device: &device{
			resolver: session.NewResolver(auth, memkvcache.NewCache(), docs, nil),
			reg:      reg,
			docs:     docs,
			clk:      clk,
			log:      logger.Nop(),
			out:      buf,
			interval: time.Second,
		},
		clk: clk,
		reg: reg,
		buf: buf,
	}
}

func (d *testDevice) mustLogin(t *testing.T, email string) {
	t.Helper()
	if err := d.login(context.Background(), email, "pa55word"); err != nil {
		t.Fatalf("login(%s) err=%v", email, err)
	}
	d.buf.Reset()
}

func TestDevice_LoginBootLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDevice(t)

	if err := d.boot(ctx); err != nil {
		t.Fatalf("boot() err=%v", err)
	}
	if got := d.buf.String(); got != "landing: login\n" {
		t.Fatalf("boot before login=%q", got)
	}
	d.buf.Reset()

	if err := d.login(ctx, "driver@example.com", "pa55word"); err != nil {
		t.Fatalf("login() err=%v", err)
	}
	out := d.buf.String()
	for _, want := range []string{"signed in as Dana Driver (driver)", "route: R7", "landing: driver_dashboard"} {
		if !strings.Contains(out, want) {
			t.Fatalf("login output missing %q:\n%s", want, out)
		}
	}

	if err := d.login(ctx, "driver@example.com", "pa55word"); !errors.Is(err, session.ErrSessionActive) {
		t.Fatalf("second login err=%v, want ErrSessionActive", err)
	}

	d.buf.Reset()
	if err := d.logout(ctx); err != nil {
		t.Fatalf("logout() err=%v", err)
	}
	if err := d.boot(ctx); err != nil {
		t.Fatalf("boot() err=%v", err)
	}
	if got := d.buf.String(); got != "signed out\nlanding: login\n" {
		t.Fatalf("after logout=%q", got)
	}
}

func TestDevice_BadPassword(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t)
	err := d.login(context.Background(), "driver@example.com", "nope")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("login() err=%v, want ErrInvalidCredentials", err)
	}
}

func TestDevice_CommandsRequireSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDevice(t)

	if err := d.roster(ctx); !errors.Is(err, errNotSignedIn) {
		t.Fatalf("roster() err=%v", err)
	}
	if err := d.ride(ctx); !errors.Is(err, errNotSignedIn) {
		t.Fatalf("ride() err=%v", err)
	}
	if err := d.drive(ctx, memposition.NewProvider(position.PermissionGranted), nil, nil); !errors.Is(err, errNotSignedIn) {
		t.Fatalf("drive() err=%v", err)
	}
}

func TestDevice_RiderCannotDriveOrPostTips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDevice(t)
	d.mustLogin(t, "rider@example.com")

	if err := d.drive(ctx, memposition.NewProvider(position.PermissionGranted), nil, nil); !errors.Is(err, errDriverOnly) {
		t.Fatalf("drive() err=%v", err)
	}
	if err := d.tip(ctx, "hello"); !errors.Is(err, errDriverOnly) {
		t.Fatalf("tip() err=%v", err)
	}
	if err := d.roster(ctx); !errors.Is(err, errDriverOnly) {
		t.Fatalf("roster() err=%v", err)
	}
}

func TestDevice_RosterAndTip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDevice(t)
	d.mustLogin(t, "driver@example.com")

	if err := d.roster(ctx); err != nil {
		t.Fatalf("roster() err=%v", err)
	}
	if got := d.buf.String(); got != "Riley Rider\t555-0101\n" {
		t.Fatalf("roster output=%q", got)
	}

	if err := d.tip(ctx, "  Detour on Main St  "); err != nil {
		t.Fatalf("tip() err=%v", err)
	}
	raw, ok := d.reg.Current("R7", domain.KeyTip)
	if !ok {
		t.Fatalf("no tip published")
	}
	var tip domain.Tip
	if err := json.Unmarshal(raw, &tip); err != nil {
		t.Fatalf("unmarshal tip: %v", err)
	}
	if tip.Text != "Detour on Main St" {
		t.Fatalf("tip text=%q", tip.Text)
	}
}

func TestDevice_DriveFollowsLifecycleAndButtons(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t)
	d.mustLogin(t, "driver@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lifecycle := make(chan domain.AppState)
	buttons := make(chan button)
	provider := memposition.NewLoopingProvider(position.PermissionGranted, loop(37.8, -122.27, 100, 4)...)

	done := make(chan error, 1)
	go func() { done <- d.drive(ctx, provider, lifecycle, buttons) }()

	awaitStatus(t, d.reg, true)
	awaitTicker(t, d.clk, 1)
	d.clk.Advance(time.Second)
	awaitKey(t, d.reg, domain.KeyLocation)

	lifecycle <- domain.AppBackground
	awaitStatus(t, d.reg, false)

	// Foreground alone does not resume tracking.
	lifecycle <- domain.AppForeground
	buttons <- buttonStart
	awaitStatus(t, d.reg, true)

	buttons <- buttonStop
	awaitStatus(t, d.reg, false)
	buttons <- buttonStart
	awaitStatus(t, d.reg, true)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("drive() err=%v", err)
	}
	assertStatus(t, d.reg, false)
}

func TestDevice_DriveWithDeniedPermission(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t)
	d.mustLogin(t, "driver@example.com")

	err := d.drive(context.Background(), memposition.NewProvider(position.PermissionDenied), nil, nil)
	if !errors.Is(err, domain.ErrPermissionMissing) {
		t.Fatalf("drive() err=%v, want ErrPermissionMissing", err)
	}
	if _, ok := d.reg.Current("R7", domain.KeyStatus); ok {
		t.Fatalf("status published without permission")
	}
}

func TestDevice_RidePrintsSnapshots(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t)
	d.mustLogin(t, "rider@example.com")

	if err := d.reg.Publish(context.Background(), "R7", domain.KeyStatus, json.RawMessage(`{"isActive":true}`)); err != nil {
		t.Fatalf("Publish() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &lockedWriter{}
	d.out = w
	done := make(chan error, 1)
	go func() { done <- d.ride(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(w.String(), `"phase"`) {
		if time.Now().After(deadline) {
			t.Fatalf("no snapshot printed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ride() err=%v", err)
	}

	lines := strings.Split(w.String(), "\n")
	var header routeHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("unmarshal header %q: %v", lines[0], err)
	}
	if header.Route != "R7" || header.Driver == nil || header.Driver.Name != "Dana Driver" || header.Driver.BusNumber != "42" {
		t.Fatalf("header=%+v driver=%+v", header, header.Driver)
	}
	var snap livemap.Snapshot
	if err := json.Unmarshal([]byte(lines[1]), &snap); err != nil {
		t.Fatalf("unmarshal snapshot %q: %v", lines[1], err)
	}
	if snap.Route != "R7" || snap.Status == nil || !snap.Status.IsActive {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestDevice_RideWithoutDriver(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t)
	d.mustLogin(t, "r9@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	w := &lockedWriter{}
	d.out = w
	done := make(chan error, 1)
	go func() { done <- d.ride(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(w.String(), `"phase"`) {
		if time.Now().After(deadline) {
			t.Fatalf("no snapshot printed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ride() err=%v", err)
	}
	first := strings.SplitN(w.String(), "\n", 2)[0]
	if first != `{"routeId":"R9","driver":null}` {
		t.Fatalf("header=%q", first)
	}
}

func TestDevice_RideWithoutRoute(t *testing.T) {
	t.Parallel()
	d := newTestDevice(t)
	d.mustLogin(t, "lost@example.com")

	if err := d.ride(context.Background()); err != nil {
		t.Fatalf("ride() err=%v", err)
	}
	var snap livemap.Snapshot
	if err := json.Unmarshal(d.buf.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Phase != livemap.PhaseUnresolved {
		t.Fatalf("phase=%q, want %q", snap.Phase, livemap.PhaseUnresolved)
	}
}

func TestLoop(t *testing.T) {
	t.Parallel()
	pts := loop(37.8, -122.27, 500, 8)
	if len(pts) != 8 {
		t.Fatalf("len=%d", len(pts))
	}
	for i, p := range pts {
		if err := p.Validate(); err != nil {
			t.Fatalf("point %d invalid: %v", i, err)
		}
		if d := p.Latitude - 37.8; d > 0.005 || d < -0.005 {
			t.Fatalf("point %d latitude %v too far from center", i, p.Latitude)
		}
	}
	if got := loop(0, 0, 10, 0); len(got) != 1 {
		t.Fatalf("loop with n=0 len=%d", len(got))
	}
}

func awaitStatus(t *testing.T, reg *memchannel.Registry, active bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		raw, ok := reg.Current("R7", domain.KeyStatus)
		if ok {
			var st domain.Status
			if err := json.Unmarshal(raw, &st); err == nil && st.IsActive == active {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never became isActive=%v (last=%s)", active, raw)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func assertStatus(t *testing.T, reg *memchannel.Registry, active bool) {
	t.Helper()
	raw, ok := reg.Current("R7", domain.KeyStatus)
	if !ok {
		t.Fatalf("no status published")
	}
	var st domain.Status
	if err := json.Unmarshal(raw, &st); err != nil || st.IsActive != active {
		t.Fatalf("status=%s, want isActive=%v", raw, active)
	}
}

func awaitKey(t *testing.T, reg *memchannel.Registry, key domain.ChannelKey) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := reg.Current("R7", key); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never published", key)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func awaitTicker(t *testing.T, clk *memclock.ManualClock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for clk.ActiveTickers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("ticker never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
