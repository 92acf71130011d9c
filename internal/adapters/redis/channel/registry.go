package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	goredis "github.com/go-redis/redis/v8"

	redisadapter "github.com/yellowbus/route-tracker/internal/adapters/redis"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
)

// publishScript bumps the per-key sequence, stores the envelope as the current value
// and publishes it, atomically.
var publishScript = goredis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
local payload = '{"seq":' .. seq .. ',"value":' .. ARGV[1] .. '}'
redis.call('SET', KEYS[1], payload)
redis.call('PUBLISH', KEYS[1], payload)
return seq
`)

type envelope struct {
	Seq   int64           `json:"seq"`
	Value json.RawMessage `json:"value"`
}

// Registry is a channel.Registry backed by Redis: each (route, key) is a string key
// holding the current value and a pub/sub channel of the same name carrying changes.
//
// Values carry a sequence number so a change racing with the snapshot read on attach is
// delivered once.
type Registry struct {
	client *goredis.Client
	prefix string
	log    *slog.Logger
}

func NewRegistry(client *goredis.Client, prefix string, log *slog.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{client: client, prefix: prefix, log: log}
}

func (r *Registry) Publish(ctx context.Context, route domain.RouteID, key domain.ChannelKey, value json.RawMessage) error {
	if !key.Valid() {
		return channel.ErrInvalidKey
	}
	if !json.Valid(value) {
		return fmt.Errorf("publish %s/%s: value is not valid JSON", route, key)
	}
	k := r.valueKey(route, key)
	if err := publishScript.Run(ctx, r.client, []string{k, k + ":seq"}, string(value)).Err(); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return nil
}

func (r *Registry) Subscribe(ctx context.Context, route domain.RouteID, key domain.ChannelKey, h channel.Handler) (channel.Subscription, error) {
	if !key.Valid() {
		return nil, channel.ErrInvalidKey
	}
	k := r.valueKey(route, key)

	ps := r.client.Subscribe(ctx, k)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}

	// The subscription is live, so anything published from here on is queued on ps.
	var snapshot []byte
	raw, err := r.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		snapshot = raw
	case errors.Is(err, goredis.Nil):
	default:
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}

	s := &subscription{ps: ps}
	s.active.Store(true)
	go r.pump(s, snapshot, ps.Channel(), h)
	return s, nil
}

func (r *Registry) pump(s *subscription, snapshot []byte, msgs <-chan *goredis.Message, h channel.Handler) {
	var last int64
	deliver := func(payload []byte) {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
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
	for msg := range msgs {
		deliver([]byte(msg.Payload))
	}
}

func (r *Registry) valueKey(route domain.RouteID, key domain.ChannelKey) string {
	return redisadapter.Key(r.prefix, "route", string(route), string(key))
}

type subscription struct {
	ps     *goredis.PubSub
	active atomic.Bool
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		_ = s.ps.Close()
	})
}
