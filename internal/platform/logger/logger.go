package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config selects level, format and the service name stamped on every record.
type Config struct {
	Level   string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format  string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	Service string `mapstructure:"service"`
}

// Record keys shared by every component.
const (
	ActionKey    = "action"
	ErrorKey     = "error"
	RouteKey     = "route_id"
	IdentityKey  = "identity_id"
	RequestIDKey = "request_id"
)

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a structured logger writing to w. Timestamps are UTC RFC 3339.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "timestamp"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	host, _ := os.Hostname()
	service := cfg.Service
	if service == "" {
		service = "route-tracker"
	}
	return slog.New(h).With(slog.String("service", service), slog.String("hostname", host))
}

// Nop discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func Action(name string) slog.Attr { return slog.String(ActionKey, name) }

func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(ErrorKey, err.Error())
}
