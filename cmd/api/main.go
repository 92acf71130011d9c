package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/yellowbus/route-tracker/internal/adapters/httpapi"
	"github.com/yellowbus/route-tracker/internal/app/bulletin"
	"github.com/yellowbus/route-tracker/internal/app/roster"
	"github.com/yellowbus/route-tracker/internal/app/tracking"
	"github.com/yellowbus/route-tracker/internal/app/vehiclefeed"
	"github.com/yellowbus/route-tracker/internal/bootstrap"
	"github.com/yellowbus/route-tracker/internal/domain"
	platformclock "github.com/yellowbus/route-tracker/internal/platform/clock"
	"github.com/yellowbus/route-tracker/internal/platform/config"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("api", pflag.ContinueOnError)
	configFile := flags.String("config", "", "YAML config file")
	flags.String("http.addr", ":8080", "listen address")
	flags.String("storage.backend", "memory", "memory|postgres")
	flags.String("channel.backend", "memory", "memory|redis|amqp")
	flags.String("seed.file", "", "YAML seed fixtures")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: *configFile, Flags: flags})
	if err != nil {
		return err
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "route-tracker-api"
	}
	log := logger.New(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := platformclock.NewSystemClock()
	backends, err := bootstrap.Open(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	auth, err := bootstrap.NewAuthenticator(cfg, backends, clk, log)
	if err != nil {
		return err
	}

	routes := vehiclefeed.NewService(backends.Registry, clk, log)
	defer routes.Close()
	feedRoutes := make([]domain.RouteID, 0, len(cfg.GTFSRT.Routes))
	for _, r := range cfg.GTFSRT.Routes {
		feedRoutes = append(feedRoutes, domain.RouteID(r))
		if err := routes.Watch(ctx, domain.RouteID(r)); err != nil {
			log.Warn("feed route not watched", logger.Action("feed_watch_failed"), slog.String(logger.RouteKey, r), logger.Err(err))
		}
	}

	api := httpapi.NewServer(httpapi.ServerDeps{
		Sessions:       auth,
		Ingest:         tracking.NewIngest(backends.Registry, backends.Docs, clk, log),
		Bulletin:       bulletin.NewService(backends.Registry, clk, log),
		Roster:         roster.NewService(backends.Docs, log),
		Routes:         routes,
		Registry:       backends.Registry,
		FeedRoutes:     feedRoutes,
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		Log:            log,
	})
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{
		AuthMiddleware: httpapi.NewAuthMiddleware(auth),
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", logger.Action("api_listening"), slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down", logger.Action("api_shutdown"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
