package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

// EnvPrefix namespaces environment overrides: http.addr is ROUTETRACKER_HTTP_ADDR.
const EnvPrefix = "ROUTETRACKER"

// Config is the full process configuration shared by every binary.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      logger.Config  `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Device   DeviceConfig   `mapstructure:"device"`
	Seed     SeedConfig     `mapstructure:"seed"`
	GTFSRT   GTFSRTConfig   `mapstructure:"gtfsrt"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend" validate:"oneof=memory postgres"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `mapstructure:"min_conns" validate:"gte=0"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type ChannelConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=memory redis amqp"`
	Redis   RedisConfig `mapstructure:"redis"`
	AMQP    AMQPConfig  `mapstructure:"amqp"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	MaxRetries int    `mapstructure:"max_retries" validate:"gte=0"`
}

type TrackingConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type DeviceConfig struct {
	SessionFile string `mapstructure:"session_file"`
}

type SeedConfig struct {
	File string `mapstructure:"file"`
}

type GTFSRTConfig struct {
	Routes []string `mapstructure:"routes"`
}

// LoadOptions points Load at its optional inputs.
type LoadOptions struct {
	// ConfigFile is a YAML file; empty falls back to $ROUTETRACKER_CONFIG, then none.
	ConfigFile string
	// EnvFile is loaded into the process environment when it exists. Defaults to ".env".
	EnvFile string
	// Flags, when set, override file and environment values. Flag names use the dotted
	// keys ("http.addr").
	Flags *pflag.FlagSet
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service", "route-tracker")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 0)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.auto_migrate", true)

	v.SetDefault("channel.backend", "memory")
	v.SetDefault("channel.redis.addr", "")
	v.SetDefault("channel.redis.password", "")
	v.SetDefault("channel.redis.db", 0)
	v.SetDefault("channel.redis.prefix", "routetracker")
	v.SetDefault("channel.amqp.url", "")
	v.SetDefault("channel.amqp.exchange", "route_channels")
	v.SetDefault("channel.amqp.max_retries", 10)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "route-tracker")
	v.SetDefault("auth.token_ttl", 0)
	v.SetDefault("auth.clock_skew", 30*time.Second)

	v.SetDefault("tracking.interval", time.Second)
	v.SetDefault("device.session_file", "")
	v.SetDefault("seed.file", "")
	v.SetDefault("gtfsrt.routes", []string{})
}

// Load resolves configuration from defaults, an optional YAML file, the environment
// (including a .env file) and flags, in increasing precedence, then validates it.
func Load(opts LoadOptions) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the backend-specific requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var problems []string
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		problems = append(problems, "storage.postgres.dsn is required for the postgres backend")
	}
	switch c.Channel.Backend {
	case "redis":
		if c.Channel.Redis.Addr == "" {
			problems = append(problems, "channel.redis.addr is required for the redis backend")
		}
	case "amqp":
		if c.Channel.AMQP.URL == "" {
			problems = append(problems, "channel.amqp.url is required for the amqp backend")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
