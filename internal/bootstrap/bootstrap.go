// Package bootstrap opens the configured backends and builds the application services
// shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/go-redis/redis/v8"

	amqpadapter "github.com/yellowbus/route-tracker/internal/adapters/amqp"
	amqpchannel "github.com/yellowbus/route-tracker/internal/adapters/amqp/channel"
	memchannel "github.com/yellowbus/route-tracker/internal/adapters/memory/channel"
	memcredentials "github.com/yellowbus/route-tracker/internal/adapters/memory/credentials"
	memdocstore "github.com/yellowbus/route-tracker/internal/adapters/memory/docstore"
	memkvcache "github.com/yellowbus/route-tracker/internal/adapters/memory/kvcache"
	postgres "github.com/yellowbus/route-tracker/internal/adapters/postgres"
	pgcredentials "github.com/yellowbus/route-tracker/internal/adapters/postgres/credentials"
	pgdocstore "github.com/yellowbus/route-tracker/internal/adapters/postgres/docstore"
	redisadapter "github.com/yellowbus/route-tracker/internal/adapters/redis"
	redischannel "github.com/yellowbus/route-tracker/internal/adapters/redis/channel"
	rediskvcache "github.com/yellowbus/route-tracker/internal/adapters/redis/kvcache"
	"github.com/yellowbus/route-tracker/internal/app/session"
	"github.com/yellowbus/route-tracker/internal/platform/auth/sessiontoken"
	"github.com/yellowbus/route-tracker/internal/platform/config"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/platform/seed"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
	"github.com/yellowbus/route-tracker/internal/ports/out/credentials"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
	"github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

// Credentials is what the process needs from the account store.
type Credentials interface {
	credentials.Service
	credentials.Registrar
}

// Backends holds the opened stores. Close releases them in reverse order.
type Backends struct {
	Docs     docstore.Store
	Creds    Credentials
	Registry channel.Registry
	Redis    *goredis.Client

	closers []func()
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open connects the storage and channel backends named by cfg and applies the seed
// fixtures, if any. On error everything opened so far is closed.
func Open(ctx context.Context, cfg config.Config, clk clockport.Clock, log *slog.Logger) (_ *Backends, err error) {
	if log == nil {
		log = logger.Nop()
	}
	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if err := b.openStorage(ctx, cfg, clk, log); err != nil {
		return nil, err
	}
	if err := b.openChannel(ctx, cfg, log); err != nil {
		return nil, err
	}

	if cfg.Seed.File != "" {
		fx, err := seed.LoadFile(cfg.Seed.File)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(ctx, fx, b.Creds, b.Docs, log); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backends) openStorage(ctx context.Context, cfg config.Config, clk clockport.Clock, log *slog.Logger) error {
	switch cfg.Storage.Backend {
	case "postgres":
		pg := cfg.Storage.Postgres
		if pg.AutoMigrate {
			if err := postgres.Migrate(pg.DSN); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := postgres.NewPool(ctx, pg.DSN, postgres.PoolOptions{MaxConns: pg.MaxConns, MinConns: pg.MinConns})
		if err != nil {
			return err
		}
		b.closers = append(b.closers, pool.Close)
		b.Docs = pgdocstore.NewStore(pool)
		b.Creds = pgcredentials.NewService(pool, clk)
	case "memory", "":
		b.Docs = memdocstore.NewStore()
		b.Creds = memcredentials.NewService(clk)
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	log.Info("storage ready", logger.Action("storage_ready"), slog.String("backend", cfg.Storage.Backend))
	return nil
}

func (b *Backends) openChannel(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ch := cfg.Channel
	if ch.Redis.Addr != "" && (ch.Backend == "redis" || ch.Backend == "amqp") {
		client, err := redisadapter.NewClient(ctx, redisadapter.Options{Addr: ch.Redis.Addr, Password: ch.Redis.Password, DB: ch.Redis.DB})
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.Redis = client
	}

	switch ch.Backend {
	case "redis":
		if b.Redis == nil {
			return errors.New("channel.redis.addr is required for the redis backend")
		}
		b.Registry = redischannel.NewRegistry(b.Redis, ch.Redis.Prefix, log)
	case "amqp":
		broker, err := amqpadapter.Connect(ctx, amqpadapter.Options{URL: ch.AMQP.URL, MaxRetries: ch.AMQP.MaxRetries}, log)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, broker.Close)

		// Current values live in Redis when configured so every process sees them.
		var values kvcache.Cache = memkvcache.NewCache()
		if b.Redis != nil {
			values = rediskvcache.NewCache(b.Redis, ch.Redis.Prefix, "current-values")
		}
		reg, err := amqpchannel.NewRegistry(broker, ch.AMQP.Exchange, values, log)
		if err != nil {
			return err
		}
		b.Registry = reg
	case "memory", "":
		b.Registry = memchannel.NewRegistry()
	default:
		return fmt.Errorf("unknown channel backend %q", ch.Backend)
	}
	log.Info("route channels ready", logger.Action("channel_ready"), slog.String("backend", ch.Backend))
	return nil
}

// NewAuthenticator builds the login service over the opened stores.
func NewAuthenticator(cfg config.Config, b *Backends, clk clockport.Clock, log *slog.Logger) (*session.Authenticator, error) {
	codec, err := sessiontoken.New(cfg.Auth.TokenConfig())
	if err != nil {
		return nil, err
	}
	return session.NewAuthenticator(b.Creds, b.Docs, codec, clk, log), nil
}
