// Package vehiclefeed renders the live routes as a GTFS-Realtime VehiclePositions feed.
package vehiclefeed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/yellowbus/route-tracker/internal/app/livemap"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
)

const (
	gtfsRealtimeVersion = "2.0"

	// DefaultMaxRoutes bounds how many routes the feed keeps attached.
	DefaultMaxRoutes = 256
)

var ErrTooManyRoutes = errors.New("vehicle feed route limit reached")

// watcher is one attached route. Pinned routes are the configured feed; the rest were
// attached for snapshot readers and are evicted least recently used first.
type watcher struct {
	sub     *livemap.Subscriber
	pinned  bool
	lastUse uint64
}

// Service keeps one livemap.Subscriber per watched route. The feed itself never attaches:
// it only reports routes that are already watched.
type Service struct {
	reg       channel.Registry
	clk       clockport.Clock
	log       *slog.Logger
	maxRoutes int

	mu       sync.Mutex
	watchers map[domain.RouteID]*watcher
	uses     uint64
	closed   bool
}

func NewService(reg channel.Registry, clk clockport.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		reg:       reg,
		clk:       clk,
		log:       log,
		maxRoutes: DefaultMaxRoutes,
		watchers:  make(map[domain.RouteID]*watcher),
	}
}

// Watch attaches route for the lifetime of the service and adds it to the default feed.
func (s *Service) Watch(ctx context.Context, route domain.RouteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.attachLocked(ctx, route)
	if err != nil {
		return err
	}
	w.pinned = true
	return nil
}

// Snapshot returns the latest values of route, attaching it first when needed. A route
// attached by this call may not have received its current values yet on remote registries.
func (s *Service) Snapshot(ctx context.Context, route domain.RouteID) (livemap.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.attachLocked(ctx, route)
	if err != nil {
		return livemap.Snapshot{}, err
	}
	return w.sub.Snapshot(), nil
}

func (s *Service) attachLocked(ctx context.Context, route domain.RouteID) (*watcher, error) {
	if route == "" {
		return nil, domain.ErrRouteUnresolved
	}
	if s.closed {
		return nil, domain.ErrChannelUnavailable
	}
	s.uses++
	if w, ok := s.watchers[route]; ok {
		w.lastUse = s.uses
		return w, nil
	}
	if len(s.watchers) >= s.maxRoutes && !s.evictLocked() {
		return nil, ErrTooManyRoutes
	}

	sub := livemap.NewSubscriber(s.reg, s.log)
	if err := sub.Attach(ctx, route); err != nil {
		return nil, err
	}
	w := &watcher{sub: sub, lastUse: s.uses}
	s.watchers[route] = w
	return w, nil
}

// evictLocked detaches the least recently used unpinned route.
func (s *Service) evictLocked() bool {
	var (
		victim domain.RouteID
		oldest *watcher
	)
	for r, w := range s.watchers {
		if w.pinned {
			continue
		}
		if oldest == nil || w.lastUse < oldest.lastUse {
			victim, oldest = r, w
		}
	}
	if oldest == nil {
		return false
	}
	oldest.sub.Close()
	delete(s.watchers, victim)
	s.log.Debug("route watcher evicted", logger.Action("feed_watcher_evicted"), slog.String(logger.RouteKey, string(victim)))
	return true
}

// Watched lists attached routes in order.
func (s *Service) Watched() []domain.RouteID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routesLocked(false)
}

func (s *Service) routesLocked(pinnedOnly bool) []domain.RouteID {
	out := make([]domain.RouteID, 0, len(s.watchers))
	for r, w := range s.watchers {
		if pinnedOnly && !w.pinned {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Feed builds a full-dataset feed for routes; an empty list means every route added with
// Watch. Requested routes that are not watched are skipped. Only routes with a fix whose
// driver has not stopped become entities.
func (s *Service) Feed(ctx context.Context, routes []domain.RouteID) (*gtfsrtpb.FeedMessage, error) {
	now := uint64(s.clk.Now().Unix())
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(now),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrChannelUnavailable
	}
	if len(routes) == 0 {
		routes = s.routesLocked(true)
	}
	seen := make(map[domain.RouteID]bool, len(routes))
	for _, r := range routes {
		w, ok := s.watchers[r]
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		snap := w.sub.Snapshot()
		if snap.Phase != livemap.PhaseLive {
			continue
		}
		msg.Entity = append(msg.Entity, entityFor(r, *snap.Location, now))
	}
	return msg, nil
}

func entityFor(route domain.RouteID, loc domain.Location, ts uint64) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String("route-" + string(route)),
		Vehicle: &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{
				RouteId: proto.String(string(route)),
			},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id: proto.String(string(route)),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(loc.Latitude)),
				Longitude: proto.Float32(float32(loc.Longitude)),
			},
			Timestamp: proto.Uint64(ts),
		},
	}
}

// Marshal encodes the feed in the protobuf wire format.
func Marshal(msg *gtfsrtpb.FeedMessage) ([]byte, error) {
	return proto.Marshal(msg)
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for r, w := range s.watchers {
		w.sub.Close()
		delete(s.watchers, r)
	}
	s.closed = true
}
