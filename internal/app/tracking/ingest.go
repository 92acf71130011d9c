package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

// Ingest accepts location and status updates from drivers whose sampling loop runs on
// the device and reaches the registry over HTTP. It applies the same registry semantics
// as Publisher: last writer wins, and only a status transition publishes and records a
// start or stop time. Repeating the current status is a no-op.
type Ingest struct {
	reg  channel.Registry
	docs docstore.Store
	clk  clockport.Clock
	log  *slog.Logger

	// statusMu serializes SetStatus; active holds the last status published per route.
	statusMu sync.Mutex
	active   map[domain.RouteID]bool
}

func NewIngest(reg channel.Registry, docs docstore.Store, clk clockport.Clock, log *slog.Logger) *Ingest {
	if log == nil {
		log = logger.Nop()
	}
	return &Ingest{reg: reg, docs: docs, clk: clk, log: log, active: make(map[domain.RouteID]bool)}
}

func (i *Ingest) PublishLocation(ctx context.Context, identity domain.Identity, route domain.RouteID, loc domain.Location) error {
	if err := authorizeDriver(identity, route); err != nil {
		return err
	}
	if err := loc.Validate(); err != nil {
		return apperr.Validation("invalid location", map[string]any{"location": err.Error()})
	}
	return i.publish(ctx, route, domain.KeyLocation, loc)
}

func (i *Ingest) SetStatus(ctx context.Context, identity domain.Identity, route domain.RouteID, status domain.Status) error {
	if err := authorizeDriver(identity, route); err != nil {
		return err
	}

	i.statusMu.Lock()
	defer i.statusMu.Unlock()
	if last, ok := i.active[route]; ok && last == status.IsActive {
		return nil
	}
	if err := i.publish(ctx, route, domain.KeyStatus, status); err != nil {
		return err
	}
	i.active[route] = status.IsActive

	field := profiles.FieldStopTime
	if status.IsActive {
		field = profiles.FieldStartTime
	}
	now := i.clk.Now().UTC().Format(time.RFC3339Nano)
	if err := i.docs.Put(ctx, domain.CollectionDrivers, string(identity.ID), docstore.Record{field: now}, true); err != nil {
		i.log.Warn("driver timestamp write failed",
			logger.Action("driver_timestamp_failed"),
			slog.String("field", field),
			slog.String(logger.IdentityKey, string(identity.ID)),
			logger.Err(err),
		)
	}
	return nil
}

func (i *Ingest) publish(ctx context.Context, route domain.RouteID, key domain.ChannelKey, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := i.reg.Publish(ctx, route, key, raw); err != nil {
		return fmt.Errorf("%w: publish %s: %w", domain.ErrChannelUnavailable, key, err)
	}
	return nil
}

func authorizeDriver(identity domain.Identity, route domain.RouteID) error {
	if !identity.IsDriver() {
		return apperr.Forbidden("only drivers can publish to a route")
	}
	own := identity.RouteID()
	if own == "" {
		return domain.ErrRouteUnresolved
	}
	if route != own {
		return apperr.Forbidden("drivers can only publish to their own route")
	}
	return nil
}
