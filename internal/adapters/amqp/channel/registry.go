package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	amqpadapter "github.com/yellowbus/route-tracker/internal/adapters/amqp"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
	"github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

const DefaultExchange = "route_channels"

type envelope struct {
	Seq   int64           `json:"seq"`
	Value json.RawMessage `json:"value"`
}

// Registry is a channel.Registry on a topic exchange. Changes are routed by
// "route.<routeId>.<key>"; the current value of each key lives in a kvcache.Cache so
// new subscribers can be seeded before the first change arrives.
type Registry struct {
	broker   *amqpadapter.Broker
	exchange string
	values   kvcache.Cache
	log      *slog.Logger

	lastSeq atomic.Int64
}

func NewRegistry(broker *amqpadapter.Broker, exchange string, values kvcache.Cache, log *slog.Logger) (*Registry, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if log == nil {
		log = logger.Nop()
	}
	if err := broker.DeclareTopicExchange(exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Registry{broker: broker, exchange: exchange, values: values, log: log}, nil
}

func routingKey(route domain.RouteID, key domain.ChannelKey) string {
	return "route." + string(route) + "." + string(key)
}

// nextSeq is wall-clock based so sequences stay increasing across restarts.
func (r *Registry) nextSeq() int64 {
	now := time.Now().UnixNano()
	for {
		last := r.lastSeq.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if r.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (r *Registry) Publish(ctx context.Context, route domain.RouteID, key domain.ChannelKey, value json.RawMessage) error {
	if !key.Valid() {
		return channel.ErrInvalidKey
	}
	body, err := json.Marshal(envelope{Seq: r.nextSeq(), Value: value})
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", route, key, err)
	}

	rk := routingKey(route, key)
	// Store before publishing so a subscriber that misses the message sees the value.
	if err := r.values.Set(ctx, rk, string(body)); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	if err := r.broker.Publish(ctx, r.exchange, rk, body); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return nil
}

func (r *Registry) Subscribe(ctx context.Context, route domain.RouteID, key domain.ChannelKey, h channel.Handler) (channel.Subscription, error) {
	if !key.Valid() {
		return nil, channel.ErrInvalidKey
	}
	rk := routingKey(route, key)

	ch, err := r.broker.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	fail := func(err error) (channel.Subscription, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail(err)
	}
	if err := ch.QueueBind(q.Name, rk, r.exchange, false, nil); err != nil {
		return fail(err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fail(err)
	}

	// Bound before reading the value, so nothing published after this read is lost.
	snapshot, ok, err := r.values.Get(ctx, rk)
	if err != nil {
		return fail(err)
	}

	s := &subscription{ch: ch}
	s.active.Store(true)
	var first []byte
	if ok {
		first = []byte(snapshot)
	}
	go r.pump(s, first, deliveries, h)
	return s, nil
}

func (r *Registry) pump(s *subscription, snapshot []byte, deliveries <-chan amqp.Delivery, h channel.Handler) {
	var last int64
	deliver := func(body []byte) {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			r.log.Warn("dropping malformed route message", logger.Action("route_message_malformed"), logger.Err(err))
			return
		}
		if env.Seq <= last {
			return
		}
		last = env.Seq
		if s.active.Load() {
			h(env.Value)
		}
	}

	if snapshot != nil {
		deliver(snapshot)
	}
	for d := range deliveries {
		deliver(d.Body)
	}
}

type subscription struct {
	ch     *amqp.Channel
	active atomic.Bool
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		_ = s.ch.Close()
	})
}
