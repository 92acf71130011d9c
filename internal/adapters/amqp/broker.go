package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

const (
	defaultMaxRetries = 10
	maxRetryDelay     = 30 * time.Second
	publishTimeout    = 5 * time.Second
)

var ErrClosed = errors.New("amqp broker closed")

type Options struct {
	URL        string
	MaxRetries int
	RetryDelay time.Duration
}

// Broker owns one AMQP connection and a publishing channel.
type Broker struct {
	log *slog.Logger

	mu     sync.RWMutex
	conn   *amqp.Connection
	pub    *amqp.Channel
	closed bool
}

// Connect dials the broker, retrying with a growing delay until MaxRetries attempts fail.
func Connect(ctx context.Context, opts Options, log *slog.Logger) (*Broker, error) {
	if opts.URL == "" {
		return nil, errors.New("missing amqp url")
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	b := &Broker{log: log}
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		err := b.connect(opts.URL)
		if err == nil {
			log.Info("connected to amqp broker", logger.Action("amqp_connected"), slog.Int("attempt", attempt))
			return b, nil
		}
		log.Warn("amqp connection attempt failed",
			logger.Action("amqp_connection_attempt_failed"),
			logger.Err(err),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", opts.MaxRetries),
			slog.Float64("retry_in_sec", delay.Seconds()),
		)
		if attempt == opts.MaxRetries {
			return nil, fmt.Errorf("connect amqp after %d attempts: %w", opts.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * 1.5)
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}
	return nil, errors.New("amqp retry loop exited without a connection")
}

func (b *Broker) connect(url string) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.pub = ch
	b.mu.Unlock()
	return nil
}

// DeclareTopicExchange declares a durable topic exchange.
func (b *Broker) DeclareTopicExchange(name string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || b.pub == nil {
		return ErrClosed
	}
	return b.pub.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Publish sends body to exchange with routingKey. Publishing is serialized on one channel.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.pub == nil {
		return ErrClosed
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return b.pub.PublishWithContext(publishCtx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

// OpenChannel opens a fresh channel for a consumer. The caller closes it.
func (b *Broker) OpenChannel() (*amqp.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || b.conn == nil {
		return nil, ErrClosed
	}
	return b.conn.Channel()
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.pub != nil {
		_ = b.pub.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.log.Info("amqp connection closed", logger.Action("amqp_closed"))
}
