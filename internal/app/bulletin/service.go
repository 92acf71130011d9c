package bulletin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	clockport "github.com/yellowbus/route-tracker/internal/ports/out/clock"
)

// Service publishes the per-route message of the day.
type Service struct {
	reg channel.Registry
	clk clockport.Clock
	log *slog.Logger
}

func NewService(reg channel.Registry, clk clockport.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{reg: reg, clk: clk, log: log}
}

// PostTip replaces the tip of the driver's own route.
func (s *Service) PostTip(ctx context.Context, identity domain.Identity, text string) (domain.Tip, error) {
	if !identity.IsDriver() {
		return domain.Tip{}, apperr.Forbidden("only drivers can post tips")
	}
	route := identity.RouteID()
	if route == "" {
		return domain.Tip{}, domain.ErrRouteUnresolved
	}
	text, err := domain.NormalizeTipText(text)
	if err != nil {
		return domain.Tip{}, apperr.Validation("invalid tip", map[string]any{"text": err.Error()})
	}

	tip := domain.Tip{Text: text, PostedAt: s.clk.Now().UTC()}
	raw, err := json.Marshal(tip)
	if err != nil {
		return domain.Tip{}, err
	}
	if err := s.reg.Publish(ctx, route, domain.KeyTip, raw); err != nil {
		return domain.Tip{}, fmt.Errorf("%w: publish tip: %w", domain.ErrChannelUnavailable, err)
	}
	s.log.Info("tip posted", logger.Action("tip_posted"), slog.String(logger.RouteKey, string(route)))
	return tip, nil
}
