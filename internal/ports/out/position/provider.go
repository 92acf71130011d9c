package position

import (
	"context"

	"github.com/yellowbus/route-tracker/internal/domain"
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Provider is the device location capability.
type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)

	// CurrentPosition returns an error wrapping domain.ErrPositionUnavailable when no fix
	// can be produced.
	CurrentPosition(ctx context.Context) (domain.Location, error)
}
