package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yellowbus/route-tracker/internal/adapters/httpapi"
	memchannel "github.com/yellowbus/route-tracker/internal/adapters/memory/channel"
	memclock "github.com/yellowbus/route-tracker/internal/adapters/memory/clock"
	memcredentials "github.com/yellowbus/route-tracker/internal/adapters/memory/credentials"
	memdocstore "github.com/yellowbus/route-tracker/internal/adapters/memory/docstore"
	pgcredentials "github.com/yellowbus/route-tracker/internal/adapters/postgres/credentials"
	pgdocstore "github.com/yellowbus/route-tracker/internal/adapters/postgres/docstore"
	postgres_testutil "github.com/yellowbus/route-tracker/internal/adapters/postgres/testutil"
	redischannel "github.com/yellowbus/route-tracker/internal/adapters/redis/channel"
	redis_testutil "github.com/yellowbus/route-tracker/internal/adapters/redis/testutil"
	"github.com/yellowbus/route-tracker/internal/app/bulletin"
	"github.com/yellowbus/route-tracker/internal/app/roster"
	"github.com/yellowbus/route-tracker/internal/app/session"
	"github.com/yellowbus/route-tracker/internal/app/tracking"
	"github.com/yellowbus/route-tracker/internal/app/vehiclefeed"
	"github.com/yellowbus/route-tracker/internal/platform/auth/sessiontoken"
	"github.com/yellowbus/route-tracker/internal/platform/seed"
	channelport "github.com/yellowbus/route-tracker/internal/ports/out/channel"
	"github.com/yellowbus/route-tracker/internal/ports/out/credentials"
	docstoreport "github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
	backendRedis    backend = "redis"
)

const password = "itest-pa55word"

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "redis":
		return []backend{backendRedis}
	case "all":
		return []backend{backendMemory, backendPostgres, backendRedis}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|redis|all)")
		return nil
	}
}

// fixture names one route with a driver and a rider, unique per test so shared
// databases and brokers do not collide.
type fixture struct {
	route       string
	driverEmail string
	riderEmail  string
}

type testServer struct {
	baseURL string
	client  *http.Client
	clk     *memclock.ManualClock
	fx      fixture
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()
	ctx := context.Background()
	clk := memclock.NewManualClock(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC))

	var (
		creds interface {
			credentials.Service
			credentials.Registrar
		}
		docs docstoreport.Store
		reg  channelport.Registry
	)

	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		pc := pgcredentials.NewService(pool, clk)
		pc.Cost = 4
		creds = pc
		docs = pgdocstore.NewStore(pool)
		reg = memchannel.NewRegistry()
	case backendRedis:
		client := redis_testutil.OpenClient(t)
		mc := memcredentials.NewService(clk)
		mc.Cost = 4
		creds = mc
		docs = memdocstore.NewStore()
		reg = redischannel.NewRegistry(client, "itest-"+uuid.NewString(), nil)
	case backendMemory:
		mc := memcredentials.NewService(clk)
		mc.Cost = 4
		creds = mc
		docs = memdocstore.NewStore()
		reg = memchannel.NewRegistry()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	suffix := uuid.NewString()
	fx := fixture{
		route:       "R-" + suffix,
		driverEmail: "driver-" + suffix + "@example.com",
		riderEmail:  "rider-" + suffix + "@example.com",
	}
	err := seed.Apply(ctx, seed.Fixtures{
		Accounts: []seed.Account{
			{ID: "drv-" + suffix, Email: fx.driverEmail, Password: password},
			{ID: "rdr-" + suffix, Email: fx.riderEmail, Password: password},
		},
		Drivers: []seed.Driver{{ID: "drv-" + suffix, FirstName: "Dana", LastName: "Driver", Route: fx.route, BusNumber: "7"}},
		Riders:  []seed.Rider{{ID: "rdr-" + suffix, FirstName: "Riley", LastName: "Rider", Route: fx.route}},
	}, creds, docs, nil)
	if err != nil {
		t.Fatalf("seed.Apply() err=%v", err)
	}

	codec, err := sessiontoken.New(sessiontoken.Config{Secret: "itest-secret-itest-secret-itest-secret", Issuer: "itest"})
	if err != nil {
		t.Fatalf("sessiontoken.New() err=%v", err)
	}
	auth := session.NewAuthenticator(creds, docs, codec, clk, nil)
	routes := vehiclefeed.NewService(reg, clk, nil)
	t.Cleanup(routes.Close)

	api := httpapi.NewServer(httpapi.ServerDeps{
		Sessions: auth,
		Ingest:   tracking.NewIngest(reg, docs, clk, nil),
		Bulletin: bulletin.NewService(reg, clk, nil),
		Roster:   roster.NewService(docs, nil),
		Routes:   routes,
		Registry: reg,
	})
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{AuthMiddleware: httpapi.NewAuthMiddleware(auth)})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{baseURL: srv.URL, client: srv.Client(), clk: clk, fx: fx}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, token string, body any) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

func (s *testServer) login(t *testing.T, email string) httpapi.SessionResponse {
	t.Helper()
	status, body, _ := s.doJSON(t, http.MethodPost, "/sessions", "", httpapi.LoginRequest{Email: email, Password: password})
	if status != http.StatusCreated {
		t.Fatalf("login status=%d body=%s", status, string(body))
	}
	return mustUnmarshal[httpapi.SessionResponse](t, body)
}

// eventually polls fn until it reports true; remote registries deliver asynchronously.
func eventually(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within 5s")
}

func routePath(route, suffix string) string {
	return "/routes/" + route + suffix
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}

