package roster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

// Service answers the driver's "contact riders" query. It is a one-shot filtered read with
// no caching and no live updates.
type Service struct {
	docs docstore.Store
	log  *slog.Logger
}

func NewService(docs docstore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{docs: docs, log: log}
}

// RidersForRoute returns riders assigned to route ordered by name. No match is an empty
// list, not an error.
func (s *Service) RidersForRoute(ctx context.Context, route domain.RouteID) ([]domain.RiderProfile, error) {
	if route == "" {
		return nil, domain.ErrRouteUnresolved
	}
	docs, err := s.docs.Query(ctx, domain.CollectionRiders, profiles.FieldRoute, string(route))
	if err != nil {
		return nil, err
	}

	out := make([]domain.RiderProfile, 0, len(docs))
	for _, d := range docs {
		p, err := profiles.DecodeRider(domain.IdentityID(d.ID), d.Data)
		if err != nil {
			s.log.Warn("skipping undecodable rider", logger.Action("roster_rider_skipped"), slog.String(logger.IdentityKey, d.ID), logger.Err(err))
			continue
		}
		out = append(out, p)
	}
	sortRidersByName(out)
	return out, nil
}

// RidersForDriver is RidersForRoute restricted to the caller's own route.
func (s *Service) RidersForDriver(ctx context.Context, identity domain.Identity, route domain.RouteID) ([]domain.RiderProfile, error) {
	if !identity.IsDriver() {
		return nil, apperr.Forbidden("only drivers can list riders")
	}
	own := identity.RouteID()
	if own == "" {
		return nil, domain.ErrRouteUnresolved
	}
	if route != "" && route != own {
		return nil, apperr.Forbidden("riders can only be listed for your own route")
	}
	return s.RidersForRoute(ctx, own)
}

// DriverForRoute returns the driver assigned to route, the lowest id when several are.
// No match is domain.ErrRecordNotFound; callers show it as absence.
func (s *Service) DriverForRoute(ctx context.Context, route domain.RouteID) (domain.DriverProfile, error) {
	if route == "" {
		return domain.DriverProfile{}, domain.ErrRouteUnresolved
	}
	docs, err := s.docs.Query(ctx, domain.CollectionDrivers, profiles.FieldRoute, string(route))
	if err != nil {
		return domain.DriverProfile{}, err
	}
	for _, d := range docs {
		p, err := profiles.DecodeDriver(domain.IdentityID(d.ID), d.Data)
		if err != nil {
			s.log.Warn("skipping undecodable driver", logger.Action("route_driver_skipped"), slog.String(logger.IdentityKey, d.ID), logger.Err(err))
			continue
		}
		return p, nil
	}
	return domain.DriverProfile{}, fmt.Errorf("%w: no driver for route %s", domain.ErrRecordNotFound, route)
}

func sortRidersByName(rs []domain.RiderProfile) {
	sort.Slice(rs, func(i, j int) bool {
		li, lj := strings.ToLower(rs[i].LastName), strings.ToLower(rs[j].LastName)
		if li != lj {
			return li < lj
		}
		fi, fj := strings.ToLower(rs[i].FirstName), strings.ToLower(rs[j].FirstName)
		if fi != fj {
			return fi < fj
		}
		return rs[i].ID < rs[j].ID
	})
}
