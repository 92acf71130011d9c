package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
	"github.com/yellowbus/route-tracker/internal/ports/out/position"
)

// DefaultInterval is the sampling period while tracking.
const DefaultInterval = time.Second

type State string

const (
	StateIdle                State = "idle"
	StatePermissionRequested State = "permission_requested"
	StatePermissionGranted   State = "permission_granted"
	StateTracking            State = "tracking"
	StateDenied              State = "denied"
)

// Deps are the collaborators of a Publisher.
type Deps struct {
	Registry  channel.Registry
	Positions position.Provider
	Docs      docstore.Store
	Clock     clockport.TickingClock
	Log       *slog.Logger
}

// Publisher owns one driver's sampling loop for one route.
//
// Start and Stop are serialized. The loop never runs two samples at once: a slow sample
// makes the ticker drop ticks instead of queueing them. Stop cancels the loop before it
// makes any network call of its own, and no location is published after that point.
type Publisher struct {
	deps     Deps
	driver   domain.IdentityID
	route    domain.RouteID
	interval time.Duration

	mu      sync.Mutex
	state   State
	granted bool
	run     *run
}

type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	ticker clockport.Ticker
	done   chan struct{}

	// gate orders each location publish against cancellation.
	gate sync.Mutex
}

// NewPublisher builds a publisher for a driver. An empty route is allowed: Start then
// fails with domain.ErrRouteUnresolved.
func NewPublisher(deps Deps, driver domain.IdentityID, route domain.RouteID, interval time.Duration) *Publisher {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Publisher{
		deps:     deps,
		driver:   driver,
		route:    route,
		interval: interval,
		state:    StateIdle,
	}
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) Route() domain.RouteID { return p.route }

// RequestPermission asks the position provider for the location capability. A denial is
// reported with domain.ErrPermissionMissing and leaves the publisher in StateDenied until a
// later request is granted.
func (p *Publisher) RequestPermission(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateTracking {
		return nil
	}
	p.state = StatePermissionRequested

	perm, err := p.deps.Positions.RequestPermission(ctx)
	if err != nil {
		p.state = StateIdle
		p.granted = false
		return fmt.Errorf("request location permission: %w", err)
	}
	if perm != position.PermissionGranted {
		p.state = StateDenied
		p.granted = false
		p.deps.Log.Warn("location permission denied",
			logger.Action("permission_denied"),
			slog.String(logger.IdentityKey, string(p.driver)),
		)
		return domain.ErrPermissionMissing
	}
	p.state = StatePermissionGranted
	p.granted = true
	return nil
}

// Start begins tracking: it publishes status.isActive=true, records the start time and
// starts the sampling loop. Starting while already tracking is a no-op.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil {
		return nil
	}
	if !p.granted {
		return domain.ErrPermissionMissing
	}
	if p.route == "" {
		return domain.ErrRouteUnresolved
	}

	if err := p.publish(ctx, domain.KeyStatus, domain.Status{IsActive: true}); err != nil {
		return err
	}
	p.recordTimestamp(ctx, profiles.FieldStartTime)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:    runCtx,
		cancel: cancel,
		ticker: p.deps.Clock.NewTicker(p.interval),
		done:   make(chan struct{}),
	}
	p.run = r
	p.state = StateTracking
	go p.loop(r)

	p.deps.Log.Info("tracking started",
		logger.Action("tracking_started"),
		slog.String(logger.IdentityKey, string(p.driver)),
		slog.String(logger.RouteKey, string(p.route)),
	)
	return nil
}

// Stop cancels sampling, then publishes status.isActive=false and records the stop time
// exactly once. Calling Stop when not tracking does nothing.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.run
	if r == nil {
		return nil
	}
	p.run = nil
	p.state = StateIdle

	r.cancel()
	r.ticker.Stop()
	// Wait out a publish already past the gate; any later one sees the cancelled context.
	r.gate.Lock()
	r.gate.Unlock() //nolint:staticcheck // empty critical section is the barrier

	err := p.publish(ctx, domain.KeyStatus, domain.Status{IsActive: false})
	p.recordTimestamp(ctx, profiles.FieldStopTime)

	p.deps.Log.Info("tracking stopped",
		logger.Action("tracking_stopped"),
		slog.String(logger.IdentityKey, string(p.driver)),
		slog.String(logger.RouteKey, string(p.route)),
	)
	return err
}

// HandleAppState stops tracking when the app leaves the foreground. Returning to the
// foreground does not restart tracking.
func (p *Publisher) HandleAppState(ctx context.Context, s domain.AppState) error {
	if !s.Suspends() {
		return nil
	}
	return p.Stop(ctx)
}

// WatchAppState feeds lifecycle transitions to HandleAppState until ctx ends or states closes.
func (p *Publisher) WatchAppState(ctx context.Context, states <-chan domain.AppState) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if err := p.HandleAppState(ctx, s); err != nil {
				p.deps.Log.Error("lifecycle stop failed", logger.Action("lifecycle_stop_failed"), logger.Err(err))
			}
		}
	}
}

func (p *Publisher) loop(r *run) {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.ticker.C():
			p.tick(r)
		}
	}
}

// tick samples and publishes one location. Failures are logged and skipped.
func (p *Publisher) tick(r *run) {
	if r.ctx.Err() != nil {
		return
	}
	loc, err := p.deps.Positions.CurrentPosition(r.ctx)
	if err != nil {
		if r.ctx.Err() == nil {
			p.deps.Log.Warn("location sample failed",
				logger.Action("location_sample_failed"),
				slog.String(logger.RouteKey, string(p.route)),
				logger.Err(err),
			)
		}
		return
	}

	r.gate.Lock()
	defer r.gate.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	if err := p.publish(r.ctx, domain.KeyLocation, loc); err != nil && r.ctx.Err() == nil {
		p.deps.Log.Warn("location publish failed",
			logger.Action("location_publish_failed"),
			slog.String(logger.RouteKey, string(p.route)),
			logger.Err(err),
		)
	}
}

func (p *Publisher) publish(ctx context.Context, key domain.ChannelKey, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.deps.Registry.Publish(ctx, p.route, key, raw); err != nil {
		if errors.Is(err, domain.ErrChannelUnavailable) {
			return err
		}
		return fmt.Errorf("%w: publish %s: %w", domain.ErrChannelUnavailable, key, err)
	}
	return nil
}

// recordTimestamp is best effort; the live channel is the source of truth for riders.
func (p *Publisher) recordTimestamp(ctx context.Context, field string) {
	if p.deps.Docs == nil {
		return
	}
	now := p.deps.Clock.Now().UTC().Format(time.RFC3339Nano)
	err := p.deps.Docs.Put(ctx, domain.CollectionDrivers, string(p.driver), docstore.Record{field: now}, true)
	if err != nil {
		p.deps.Log.Warn("driver timestamp write failed",
			logger.Action("driver_timestamp_failed"),
			slog.String("field", field),
			slog.String(logger.IdentityKey, string(p.driver)),
			logger.Err(err),
		)
	}
}
