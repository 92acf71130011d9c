// Command busdevice runs the driver and rider app flows from a terminal, against the
// same backends as the API.
//
//	busdevice login --email dana@example.com --password ...
//	busdevice boot
//	busdevice drive --lat 37.80 --lon -122.27
//	busdevice ride
//	busdevice roster
//	busdevice tip --text "Detour on Main St"
//	busdevice logout
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	filekvcache "github.com/yellowbus/route-tracker/internal/adapters/file/kvcache"
	"github.com/yellowbus/route-tracker/internal/app/session"
	"github.com/yellowbus/route-tracker/internal/bootstrap"
	platformclock "github.com/yellowbus/route-tracker/internal/platform/clock"
	"github.com/yellowbus/route-tracker/internal/platform/config"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

const usage = `usage: busdevice <login|logout|boot|drive|ride|roster|tip> [flags]`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cmd := args[0]

	flags := pflag.NewFlagSet("busdevice "+cmd, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "YAML config file")
	flags.String("device.session_file", "", "session cache file")
	email := flags.String("email", "", "login email")
	password := flags.String("password", "", "login password")
	text := flags.String("text", "", "tip text")
	sim := simulationFlags(flags)
	if err := flags.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: *configFile, Flags: flags})
	if err != nil {
		fmt.Fprintf(stderr, "busdevice: %v\n", err)
		return 1
	}
	cfg.Log.Service = "route-tracker-device"
	log := logger.New(cfg.Log, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := platformclock.NewSystemClock()
	backends, err := bootstrap.Open(ctx, cfg, clk, log)
	if err != nil {
		fmt.Fprintf(stderr, "busdevice: %v\n", err)
		return 1
	}
	defer backends.Close()

	auth, err := bootstrap.NewAuthenticator(cfg, backends, clk, log)
	if err != nil {
		fmt.Fprintf(stderr, "busdevice: %v\n", err)
		return 1
	}

	path, err := sessionPath(cfg.Device.SessionFile)
	if err != nil {
		fmt.Fprintf(stderr, "busdevice: %v\n", err)
		return 1
	}
	dev := &device{
		resolver: session.NewResolver(auth, filekvcache.NewCache(path), backends.Docs, log),
		reg:      backends.Registry,
		docs:     backends.Docs,
		clk:      clk,
		log:      log,
		out:      stdout,
		interval: cfg.Tracking.Interval,
	}

	switch cmd {
	case "login":
		err = dev.login(ctx, *email, *password)
	case "logout":
		err = dev.logout(ctx)
	case "boot":
		err = dev.boot(ctx)
	case "roster":
		err = dev.roster(ctx)
	case "tip":
		err = dev.tip(ctx, *text)
	case "ride":
		err = dev.ride(ctx)
	case "drive":
		lifecycle, buttons, release := watchSignals()
		defer release()
		err = dev.drive(ctx, sim.provider(), lifecycle, buttons)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "busdevice %s: %v\n", cmd, err)
		if errors.Is(err, errNotSignedIn) {
			return 3
		}
		return 1
	}
	return 0
}

// sessionPath defaults to the user config directory.
func sessionPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate session file: %w", err)
	}
	return filepath.Join(dir, "route-tracker", "session.yaml"), nil
}
