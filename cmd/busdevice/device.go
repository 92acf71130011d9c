package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yellowbus/route-tracker/internal/app/bulletin"
	"github.com/yellowbus/route-tracker/internal/app/livemap"
	"github.com/yellowbus/route-tracker/internal/app/roster"
	"github.com/yellowbus/route-tracker/internal/app/session"
	"github.com/yellowbus/route-tracker/internal/app/tracking"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
	"github.com/yellowbus/route-tracker/internal/ports/out/position"
)

var (
	errNotSignedIn = errors.New("not signed in; run busdevice login")
	errDriverOnly  = errors.New("only drivers can do this")
)

const stopTimeout = 5 * time.Second

// button is a dashboard control press.
type button string

const (
	buttonStart button = "start"
	buttonStop  button = "stop"
)

type device struct {
	resolver *session.Resolver
	reg      channel.Registry
	docs     docstore.Store
	clk      clockport.TickingClock
	log      *slog.Logger
	out      io.Writer
	interval time.Duration
}

func (d *device) login(ctx context.Context, email, password string) error {
	identity, err := d.resolver.Authenticate(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "signed in as %s (%s)\n", identity.DisplayName(), identity.Role)
	if route := identity.RouteID(); route != "" {
		fmt.Fprintf(d.out, "route: %s\n", route)
	}
	fmt.Fprintf(d.out, "landing: %s\n", d.resolver.Boot(ctx))
	return nil
}

func (d *device) logout(ctx context.Context) error {
	if err := d.resolver.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(d.out, "signed out")
	return nil
}

func (d *device) boot(ctx context.Context) error {
	fmt.Fprintf(d.out, "landing: %s\n", d.resolver.Boot(ctx))
	return nil
}

func (d *device) current(ctx context.Context) (session.Session, error) {
	s, ok := d.resolver.ResumeSession(ctx)
	if !ok {
		return session.Session{}, errNotSignedIn
	}
	return s, nil
}

func (d *device) driver(ctx context.Context) (session.Session, domain.Identity, error) {
	s, err := d.current(ctx)
	if err != nil {
		return session.Session{}, domain.Identity{}, err
	}
	if s.Role != domain.RoleDriver {
		return session.Session{}, domain.Identity{}, errDriverOnly
	}
	identity, err := d.resolver.Profile(ctx, s)
	if err != nil {
		return session.Session{}, domain.Identity{}, err
	}
	return s, identity, nil
}

func (d *device) roster(ctx context.Context) error {
	_, identity, err := d.driver(ctx)
	if err != nil {
		return err
	}
	riders, err := roster.NewService(d.docs, d.log).RidersForDriver(ctx, identity, "")
	if err != nil {
		return err
	}
	if len(riders) == 0 {
		fmt.Fprintln(d.out, "no riders on this route")
		return nil
	}
	for _, r := range riders {
		fmt.Fprintf(d.out, "%s\t%s\n", r.FullName(), r.PhoneNumber)
	}
	return nil
}

func (d *device) tip(ctx context.Context, text string) error {
	_, identity, err := d.driver(ctx)
	if err != nil {
		return err
	}
	tip, err := bulletin.NewService(d.reg, d.clk, d.log).PostTip(ctx, identity, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "tip posted at %s: %s\n", tip.PostedAt.Format(time.RFC3339), tip.Text)
	return nil
}

// routeHeader is the first line of ride output. Driver is null when nobody drives the route.
type routeHeader struct {
	Route  domain.RouteID `json:"routeId"`
	Driver *driverInfo    `json:"driver"`
}

type driverInfo struct {
	Name        string `json:"name"`
	BusNumber   string `json:"busNumber,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

func (d *device) rideHeader(ctx context.Context, route domain.RouteID) (routeHeader, error) {
	h := routeHeader{Route: route}
	driver, err := roster.NewService(d.docs, d.log).DriverForRoute(ctx, route)
	switch {
	case err == nil:
		h.Driver = &driverInfo{Name: driver.FullName(), BusNumber: driver.BusNumber, PhoneNumber: driver.PhoneNumber}
	case !errors.Is(err, domain.ErrRecordNotFound):
		return routeHeader{}, err
	}
	return h, nil
}

// ride prints a header naming the route's driver, then the route snapshot as a JSON line
// on attach and after every change, until ctx is done. A rider without a route gets one
// unresolved snapshot.
func (d *device) ride(ctx context.Context) error {
	s, err := d.current(ctx)
	if err != nil {
		return err
	}
	route, err := d.resolver.ResolveRoute(ctx, s)
	if err != nil && !errors.Is(err, domain.ErrRouteUnresolved) {
		return err
	}

	sub := livemap.NewSubscriber(d.reg, d.log)
	defer sub.Close()

	enc := json.NewEncoder(d.out)
	if err := sub.Attach(ctx, route); err != nil {
		if errors.Is(err, domain.ErrRouteUnresolved) {
			return enc.Encode(sub.Snapshot())
		}
		return err
	}
	header, err := d.rideHeader(ctx, route)
	if err != nil {
		return err
	}
	if err := enc.Encode(header); err != nil {
		return err
	}
	if err := enc.Encode(sub.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Changed():
			if err := enc.Encode(sub.Snapshot()); err != nil {
				return err
			}
		}
	}
}

// drive runs the driver dashboard: it starts tracking right away, then follows lifecycle
// transitions and button presses until ctx is done. Tracking is always stopped on exit.
func (d *device) drive(ctx context.Context, positions position.Provider, lifecycle <-chan domain.AppState, buttons <-chan button) error {
	s, err := d.current(ctx)
	if err != nil {
		return err
	}
	if s.Role != domain.RoleDriver {
		return errDriverOnly
	}
	route, err := d.resolver.ResolveRoute(ctx, s)
	if err != nil {
		return err
	}

	pub := tracking.NewPublisher(tracking.Deps{
		Registry:  d.reg,
		Positions: positions,
		Docs:      d.docs,
		Clock:     d.clk,
		Log:       d.log,
	}, s.IdentityID, route, d.interval)

	if err := d.start(ctx, pub); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := pub.Stop(stopCtx); err != nil {
			d.log.Warn("final stop failed", logger.Action("tracking_stop_failed"), logger.Err(err))
		}
		fmt.Fprintf(d.out, "tracking %s\n", pub.State())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-lifecycle:
			if err := pub.HandleAppState(ctx, st); err != nil {
				d.log.Warn("lifecycle transition failed", logger.Action("app_state_failed"), slog.String("state", string(st)), logger.Err(err))
			}
			fmt.Fprintf(d.out, "app %s, tracking %s\n", st, pub.State())
		case b := <-buttons:
			switch b {
			case buttonStart:
				if err := d.start(ctx, pub); err != nil {
					d.log.Warn("start failed", logger.Action("tracking_start_failed"), logger.Err(err))
				}
			case buttonStop:
				if err := pub.Stop(ctx); err != nil {
					d.log.Warn("stop failed", logger.Action("tracking_stop_failed"), logger.Err(err))
				}
			}
			fmt.Fprintf(d.out, "tracking %s\n", pub.State())
		}
	}
}

func (d *device) start(ctx context.Context, pub *tracking.Publisher) error {
	if err := pub.RequestPermission(ctx); err != nil {
		return err
	}
	if err := pub.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "tracking %s on route %s\n", pub.State(), pub.Route())
	return nil
}
