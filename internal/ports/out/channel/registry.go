package channel

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yellowbus/route-tracker/internal/domain"
)

var (
	// ErrUnavailable indicates a transport-level publish or subscribe failure.
	ErrUnavailable = errors.New("route channel unavailable")

	// ErrInvalidKey indicates the key is not one of the per-route keys.
	ErrInvalidKey = errors.New("invalid route channel key")
)

// Handler receives the current value on attach and then every change, in publish order.
// Handlers run on the registry's delivery goroutine and must not block for long.
type Handler func(value json.RawMessage)

// Subscription cancels delivery. Unsubscribe is idempotent and safe to call even if no
// value was ever delivered.
type Subscription interface {
	Unsubscribe()
}

// Registry is the per-route realtime key-value channel.
//
// Ordering is only guaranteed within one (route, key) stream. Delivery is at most once
// per change; a subscriber that attaches late sees only the current value.
type Registry interface {
	// Publish overwrites the current value and fans it out to live subscribers.
	Publish(ctx context.Context, route domain.RouteID, key domain.ChannelKey, value json.RawMessage) error

	// Subscribe registers h and delivers the current value, if one exists, before any
	// later change.
	Subscribe(ctx context.Context, route domain.RouteID, key domain.ChannelKey, h Handler) (Subscription, error)
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }
