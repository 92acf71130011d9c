// Package seed loads YAML fixtures of accounts and profiles into the stores.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yellowbus/route-tracker/internal/app/profiles"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/credentials"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

type Fixtures struct {
	Accounts []Account `yaml:"accounts" validate:"dive"`
	Drivers  []Driver  `yaml:"drivers" validate:"dive"`
	Riders   []Rider   `yaml:"riders" validate:"dive"`
}

type Account struct {
	ID       string `yaml:"id" validate:"required"`
	Email    string `yaml:"email" validate:"required,email"`
	Password string `yaml:"password" validate:"required,min=6"`
}

type Driver struct {
	ID          string `yaml:"id" validate:"required"`
	FirstName   string `yaml:"firstName" validate:"required"`
	LastName    string `yaml:"lastName"`
	Route       string `yaml:"route"`
	BusNumber   string `yaml:"busNumber"`
	PhoneNumber string `yaml:"phoneNumber"`
}

type Rider struct {
	ID          string `yaml:"id" validate:"required"`
	FirstName   string `yaml:"firstName" validate:"required"`
	LastName    string `yaml:"lastName"`
	Route       string `yaml:"route"`
	PhoneNumber string `yaml:"phoneNumber"`
}

// LoadFile reads and validates a fixture file.
func LoadFile(path string) (Fixtures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Fixtures{}, fmt.Errorf("decode seed: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return Fixtures{}, fmt.Errorf("invalid seed: %w", err)
	}
	seen := make(map[string]string)
	for _, d := range f.Drivers {
		seen[d.ID] = "driver"
	}
	for _, r := range f.Riders {
		if _, dup := seen[r.ID]; dup {
			return Fixtures{}, fmt.Errorf("invalid seed: identity %q is both a driver and a rider", r.ID)
		}
	}
	return f, nil
}

// Apply registers accounts and writes profiles. Accounts that already exist are kept,
// so applying the same fixtures twice is harmless.
func Apply(ctx context.Context, f Fixtures, reg credentials.Registrar, docs docstore.Store, log *slog.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	for _, a := range f.Accounts {
		err := reg.Register(ctx, domain.IdentityID(a.ID), a.Email, a.Password)
		if err != nil && !errors.Is(err, credentials.ErrAlreadyExists) {
			return fmt.Errorf("register %s: %w", a.Email, err)
		}
	}
	for _, d := range f.Drivers {
		p := domain.DriverProfile{
			ID:          domain.IdentityID(d.ID),
			FirstName:   d.FirstName,
			LastName:    d.LastName,
			RouteID:     domain.RouteID(d.Route),
			BusNumber:   d.BusNumber,
			PhoneNumber: d.PhoneNumber,
		}
		if err := docs.Put(ctx, domain.CollectionDrivers, d.ID, profiles.EncodeDriver(p), true); err != nil {
			return fmt.Errorf("put driver %s: %w", d.ID, err)
		}
	}
	for _, r := range f.Riders {
		p := domain.RiderProfile{
			ID:          domain.IdentityID(r.ID),
			FirstName:   r.FirstName,
			LastName:    r.LastName,
			RouteID:     domain.RouteID(r.Route),
			PhoneNumber: r.PhoneNumber,
		}
		if err := docs.Put(ctx, domain.CollectionRiders, r.ID, profiles.EncodeRider(p), true); err != nil {
			return fmt.Errorf("put rider %s: %w", r.ID, err)
		}
	}

	log.Info("seed fixtures applied",
		logger.Action("seed_applied"),
		slog.Int("accounts", len(f.Accounts)),
		slog.Int("drivers", len(f.Drivers)),
		slog.Int("riders", len(f.Riders)),
	)
	return nil
}
