package livemap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
)

// ErrAlreadyAttached is returned when Attach is called for a different route than the
// one the subscriber is bound to.
var ErrAlreadyAttached = errors.New("subscriber already attached to another route")

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("subscriber closed")

// Phase is the consumer-visible state of a route.
type Phase string

const (
	// PhaseUnresolved means the identity has no route; the subscriber never attaches.
	PhaseUnresolved Phase = "unresolved"
	// PhaseNoFix means attached but no location has been published yet.
	PhaseNoFix Phase = "no_fix"
	// PhaseNotTracking means the driver published status.isActive=false.
	PhaseNotTracking Phase = "not_tracking"
	// PhaseLive means a location exists and the driver has not stopped.
	PhaseLive Phase = "live"
)

// Snapshot holds the latest value of each key independently. Nil means never published.
type Snapshot struct {
	Route    domain.RouteID   `json:"routeId,omitempty"`
	Phase    Phase            `json:"phase"`
	Location *domain.Location `json:"location"`
	Status   *domain.Status   `json:"status"`
	Tip      *domain.Tip      `json:"tip"`
}

// Subscriber keeps the latest location, status and tip of one route.
type Subscriber struct {
	reg channel.Registry
	log *slog.Logger

	// attachMu serializes Attach and Close. Handlers only take mu, so the registry may
	// deliver the current value while Attach is still running.
	attachMu sync.Mutex
	subs     []channel.Subscription
	closed   bool

	// route and unresolved are written under both locks.
	mu         sync.RWMutex
	route      domain.RouteID
	unresolved bool
	location   *domain.Location
	status     *domain.Status
	tip        *domain.Tip

	changed chan struct{}
}

func NewSubscriber(reg channel.Registry, log *slog.Logger) *Subscriber {
	if log == nil {
		log = logger.Nop()
	}
	return &Subscriber{reg: reg, log: log, changed: make(chan struct{}, 1)}
}

// Attach subscribes to the route's location, status and tip keys. An empty route marks
// the subscriber permanently unresolved. Attaching again to the same route is a no-op.
func (s *Subscriber) Attach(ctx context.Context, route domain.RouteID) error {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.unresolved {
		return domain.ErrRouteUnresolved
	}
	if route == "" {
		s.mu.Lock()
		s.unresolved = true
		s.mu.Unlock()
		s.notify()
		return domain.ErrRouteUnresolved
	}
	if s.route != "" {
		if s.route == route {
			return nil
		}
		return ErrAlreadyAttached
	}

	handlers := map[domain.ChannelKey]channel.Handler{
		domain.KeyLocation: s.onLocation,
		domain.KeyStatus:   s.onStatus,
		domain.KeyTip:      s.onTip,
	}
	subs := make([]channel.Subscription, 0, len(handlers))
	for _, key := range domain.ChannelKeys() {
		sub, err := s.reg.Subscribe(ctx, route, key, handlers[key])
		if err != nil {
			for _, prev := range subs {
				prev.Unsubscribe()
			}
			s.reset()
			if errors.Is(err, domain.ErrChannelUnavailable) {
				return err
			}
			return fmt.Errorf("%w: subscribe %s: %w", domain.ErrChannelUnavailable, key, err)
		}
		subs = append(subs, sub)
	}
	s.mu.Lock()
	s.route = route
	s.mu.Unlock()
	s.subs = subs
	s.notify()

	s.log.Debug("route attached", logger.Action("route_attached"), slog.String(logger.RouteKey, string(route)))
	return nil
}

// Close detaches every subscription. It is safe to call more than once; Attach fails
// with ErrClosed afterwards.
func (s *Subscriber) Close() {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.closed = true
}

func (s *Subscriber) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Route: s.route}
	if s.location != nil {
		v := *s.location
		snap.Location = &v
	}
	if s.status != nil {
		v := *s.status
		snap.Status = &v
	}
	if s.tip != nil {
		v := *s.tip
		snap.Tip = &v
	}
	snap.Phase = phaseOf(s.unresolved, snap)
	return snap
}

// Changed signals, coalesced, that Snapshot may return something new.
func (s *Subscriber) Changed() <-chan struct{} { return s.changed }

func phaseOf(unresolved bool, snap Snapshot) Phase {
	switch {
	case unresolved:
		return PhaseUnresolved
	case snap.Status != nil && !snap.Status.IsActive:
		return PhaseNotTracking
	case snap.Location == nil:
		return PhaseNoFix
	default:
		return PhaseLive
	}
}

func (s *Subscriber) onLocation(raw json.RawMessage) {
	var v domain.Location
	if !s.decode(domain.KeyLocation, raw, &v) {
		return
	}
	s.mu.Lock()
	s.location = &v
	s.mu.Unlock()
	s.notify()
}

func (s *Subscriber) onStatus(raw json.RawMessage) {
	var v domain.Status
	if !s.decode(domain.KeyStatus, raw, &v) {
		return
	}
	s.mu.Lock()
	s.status = &v
	s.mu.Unlock()
	s.notify()
}

func (s *Subscriber) onTip(raw json.RawMessage) {
	var v domain.Tip
	if !s.decode(domain.KeyTip, raw, &v) {
		return
	}
	s.mu.Lock()
	s.tip = &v
	s.mu.Unlock()
	s.notify()
}

// decode logs and drops malformed values so one bad write cannot wedge the view.
func (s *Subscriber) decode(key domain.ChannelKey, raw json.RawMessage, out any) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		s.log.Warn("dropping malformed route value",
			logger.Action("route_value_malformed"),
			slog.String("key", string(key)),
			logger.Err(err),
		)
		return false
	}
	return true
}

func (s *Subscriber) reset() {
	s.mu.Lock()
	s.location, s.status, s.tip = nil, nil, nil
	s.mu.Unlock()
}

func (s *Subscriber) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
