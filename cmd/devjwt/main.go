package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/auth/sessiontoken"
	"github.com/yellowbus/route-tracker/internal/platform/config"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

// Dev-only identity token minter. It signs with the same auth.secret as the API, so the
// tokens it hands out pass bearer auth without a login.
//
//	GET /token?id=drv-1&role=driver&route=R7&firstName=Dana

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devjwt: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("devjwt", pflag.ContinueOnError)
	configFile := flags.String("config", "", "YAML config file")
	addr := flags.String("listen", ":5556", "listen address")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: *configFile, Flags: flags})
	if err != nil {
		return err
	}
	cfg.Log.Service = "route-tracker-devjwt"
	log := logger.New(cfg.Log, os.Stdout)

	codec, err := sessiontoken.New(cfg.Auth.TokenConfig())
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		identity, err := identityFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		now := time.Now().UTC()
		token, err := codec.Issue(identity, now)
		if err != nil {
			log.Error("mint failed", logger.Action("devjwt_mint_failed"), logger.Err(err))
			http.Error(w, "failed to mint token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      token,
			"identityId": identity.ID,
			"role":       identity.Role,
			"routeId":    identity.RouteID(),
			"iss":        cfg.Auth.Issuer,
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("devjwt listening", logger.Action("devjwt_listening"), slog.String("addr", *addr), slog.String("issuer", cfg.Auth.Issuer))
	return srv.ListenAndServe()
}

func identityFromQuery(r *http.Request) (domain.Identity, error) {
	q := r.URL.Query()
	id := domain.IdentityID(strings.TrimSpace(q.Get("id")))
	if id == "" {
		return domain.Identity{}, errors.New("missing id")
	}
	role, ok := domain.ParseRole(q.Get("role"))
	if !ok {
		return domain.Identity{}, errors.New("role must be driver or rider")
	}
	route := domain.RouteID(strings.TrimSpace(q.Get("route")))
	first, last := q.Get("firstName"), q.Get("lastName")

	if role == domain.RoleDriver {
		return domain.NewDriverIdentity(domain.DriverProfile{
			ID: id, FirstName: first, LastName: last, RouteID: route, BusNumber: q.Get("busNumber"),
		}), nil
	}
	return domain.NewRiderIdentity(domain.RiderProfile{ID: id, FirstName: first, LastName: last, RouteID: route}), nil
}
