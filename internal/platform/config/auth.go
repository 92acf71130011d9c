package config

import (
	"time"

	"github.com/yellowbus/route-tracker/internal/platform/auth/sessiontoken"
)

// AuthConfig configures identity tokens.
type AuthConfig struct {
	Secret    string        `mapstructure:"secret" validate:"required,min=32"`
	Issuer    string        `mapstructure:"issuer" validate:"required"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"gte=0"`
	ClockSkew time.Duration `mapstructure:"clock_skew" validate:"gte=0"`
}

func (a AuthConfig) TokenConfig() sessiontoken.Config {
	return sessiontoken.Config{
		Secret:    a.Secret,
		Issuer:    a.Issuer,
		TTL:       a.TokenTTL,
		ClockSkew: a.ClockSkew,
	}
}
