package bulletin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	memchannel "github.com/yellowbus/route-tracker/internal/adapters/memory/channel"
	memclock "github.com/yellowbus/route-tracker/internal/adapters/memory/clock"
	"github.com/yellowbus/route-tracker/internal/domain"
)

func TestService_PostTip(t *testing.T) {
	t.Parallel()

	reg := memchannel.NewRegistry()
	clk := memclock.NewManualClock(time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC))
	svc := NewService(reg, clk, nil)
	driver := domain.NewDriverIdentity(domain.DriverProfile{ID: "d-1", RouteID: "R1"})

	tip, err := svc.PostTip(context.Background(), driver, "  snow day, expect delays ")
	if err != nil {
		t.Fatalf("PostTip() err=%v", err)
	}
	if tip.Text != "snow day, expect delays" || !tip.PostedAt.Equal(clk.Now()) {
		t.Fatalf("tip=%+v", tip)
	}

	raw, ok := reg.Current("R1", domain.KeyTip)
	if !ok {
		t.Fatalf("tip not published")
	}
	var got domain.Tip
	if err := json.Unmarshal(raw, &got); err != nil || got.Text != tip.Text {
		t.Fatalf("published=%s err=%v", raw, err)
	}
}

func TestService_PostTip_Rejects(t *testing.T) {
	t.Parallel()

	reg := memchannel.NewRegistry()
	svc := NewService(reg, memclock.NewManualClock(time.Unix(0, 0)), nil)
	ctx := context.Background()
	ae := (*apperr.Error)(nil)

	rider := domain.NewRiderIdentity(domain.RiderProfile{ID: "r-1", RouteID: "R1"})
	if _, err := svc.PostTip(ctx, rider, "hi"); !errors.As(err, &ae) || ae.Status != 403 {
		t.Fatalf("rider err=%v, want 403", err)
	}

	driver := domain.NewDriverIdentity(domain.DriverProfile{ID: "d-1", RouteID: "R1"})
	if _, err := svc.PostTip(ctx, driver, "   "); !errors.As(err, &ae) || ae.Status != 422 {
		t.Fatalf("blank err=%v, want 422", err)
	}

	unrouted := domain.NewDriverIdentity(domain.DriverProfile{ID: "d-2"})
	if _, err := svc.PostTip(ctx, unrouted, "hi"); !errors.Is(err, domain.ErrRouteUnresolved) {
		t.Fatalf("unrouted err=%v, want ErrRouteUnresolved", err)
	}
	if _, ok := reg.Current("R1", domain.KeyTip); ok {
		t.Fatalf("rejected tips must not publish")
	}
}
