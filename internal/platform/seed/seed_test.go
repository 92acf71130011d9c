package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	memclock "github.com/yellowbus/route-tracker/internal/adapters/memory/clock"
	memcredentials "github.com/yellowbus/route-tracker/internal/adapters/memory/credentials"
	memdocstore "github.com/yellowbus/route-tracker/internal/adapters/memory/docstore"
	"github.com/yellowbus/route-tracker/internal/domain"
)

const fixture = `
accounts:
  - id: drv-1
    email: Dana.Driver@example.com
    password: bus-secret
  - id: rdr-1
    email: rider@example.com
    password: ride-secret
drivers:
  - id: drv-1
    firstName: Dana
    lastName: Driver
    route: R7
    busNumber: "42"
riders:
  - id: rdr-1
    firstName: Riley
    lastName: Rider
    route: R7
`

func TestParse_RejectsInvalidFixtures(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("accounts:\n  - id: x\n    email: not-an-email\n    password: secret1\n")); err == nil {
		t.Fatalf("Parse() expected validation error")
	}
	if _, err := Parse([]byte("drivers:\n  - id: a\n    firstName: A\nriders:\n  - id: a\n    firstName: A\n")); err == nil {
		t.Fatalf("Parse() expected error for identity in both collections")
	}
}

func TestApply_RegistersAndWritesProfiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}

	creds := memcredentials.NewService(memclock.NewManualClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	creds.Cost = 4
	docs := memdocstore.NewStore()

	if err := Apply(ctx, f, creds, docs, nil); err != nil {
		t.Fatalf("Apply() err=%v", err)
	}
	// Idempotent.
	if err := Apply(ctx, f, creds, docs, nil); err != nil {
		t.Fatalf("Apply() second run err=%v", err)
	}

	p, err := creds.Verify(ctx, "dana.driver@example.com", "bus-secret")
	if err != nil || p.ID != "drv-1" {
		t.Fatalf("Verify() = %+v, %v", p, err)
	}
	rec, err := docs.Get(ctx, domain.CollectionDrivers, "drv-1")
	if err != nil {
		t.Fatalf("Get(driver) err=%v", err)
	}
	if rec["route"] != "R7" || rec["busNumber"] != "42" {
		t.Fatalf("driver doc=%v", rec)
	}
	riders, err := docs.Query(ctx, domain.CollectionRiders, "route", "R7")
	if err != nil || len(riders) != 1 {
		t.Fatalf("Query(riders) = %v, %v", riders, err)
	}
}
