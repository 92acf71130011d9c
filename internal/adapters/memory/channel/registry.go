package channel

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
)

// Registry is an in-process channel.Registry: a last-value cache plus a list of handlers
// per (route, key), invoked synchronously on Publish.
//
// Handlers must not publish to the same (route, key) from inside the callback.
type Registry struct {
	mu     sync.Mutex
	topics map[topicKey]*topic
	nextID uint64
}

type topicKey struct {
	route domain.RouteID
	key   domain.ChannelKey
}

type topic struct {
	// deliver serializes snapshot-on-attach and fan-out so each subscriber observes one
	// gap-free, ordered stream.
	deliver sync.Mutex

	value json.RawMessage
	subs  map[uint64]*subscriber
}

type subscriber struct {
	h      channel.Handler
	active atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[topicKey]*topic)}
}

func (r *Registry) Publish(ctx context.Context, route domain.RouteID, key domain.ChannelKey, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !key.Valid() {
		return channel.ErrInvalidKey
	}
	t := r.topic(route, key)

	t.deliver.Lock()
	defer t.deliver.Unlock()

	r.mu.Lock()
	t.value = cloneRaw(value)
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		if s.active.Load() {
			s.h(cloneRaw(value))
		}
	}
	return nil
}

func (r *Registry) Subscribe(ctx context.Context, route domain.RouteID, key domain.ChannelKey, h channel.Handler) (channel.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !key.Valid() {
		return nil, channel.ErrInvalidKey
	}
	t := r.topic(route, key)

	t.deliver.Lock()
	defer t.deliver.Unlock()

	s := &subscriber{h: h}
	s.active.Store(true)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	t.subs[id] = s
	current := cloneRaw(t.value)
	r.mu.Unlock()

	if current != nil {
		h(current)
	}

	var once sync.Once
	return channel.SubscriptionFunc(func() {
		once.Do(func() {
			s.active.Store(false)
			r.mu.Lock()
			delete(t.subs, id)
			r.mu.Unlock()
		})
	}), nil
}

// Current returns the last published value for (route, key), if any.
func (r *Registry) Current(route domain.RouteID, key domain.ChannelKey) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[topicKey{route: route, key: key}]
	if !ok || t.value == nil {
		return nil, false
	}
	return cloneRaw(t.value), true
}

// Subscribers reports the number of live subscriptions for (route, key).
func (r *Registry) Subscribers(route domain.RouteID, key domain.ChannelKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[topicKey{route: route, key: key}]
	if !ok {
		return 0
	}
	return len(t.subs)
}

func (r *Registry) topic(route domain.RouteID, key domain.ChannelKey) *topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := topicKey{route: route, key: key}
	t, ok := r.topics[k]
	if !ok {
		t = &topic{subs: make(map[uint64]*subscriber)}
		r.topics[k] = t
	}
	return t
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
