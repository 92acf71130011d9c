package channel

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	amqpadapter "github.com/yellowbus/route-tracker/internal/adapters/amqp"
	"github.com/yellowbus/route-tracker/internal/adapters/contracttest"
	memkvcache "github.com/yellowbus/route-tracker/internal/adapters/memory/kvcache"
	channelport "github.com/yellowbus/route-tracker/internal/ports/out/channel"
)

func TestContract_AMQPChannelRegistry(t *testing.T) {
	url := os.Getenv("TEST_AMQP_URL")
	if url == "" {
		t.Skip("TEST_AMQP_URL not set; skipping amqp integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	broker, err := amqpadapter.Connect(ctx, amqpadapter.Options{URL: url, MaxRetries: 3}, nil)
	if err != nil {
		t.Fatalf("Connect() err=%v", err)
	}
	t.Cleanup(broker.Close)

	contracttest.RunChannelRegistry(t, func(t *testing.T) (channelport.Registry, func()) {
		t.Helper()
		reg, err := NewRegistry(broker, "test_"+uuid.NewString(), memkvcache.NewCache(), nil)
		if err != nil {
			t.Fatalf("NewRegistry() err=%v", err)
		}
		return reg, nil
	})
}

func TestRoutingKey(t *testing.T) {
	t.Parallel()

	if got := routingKey("R7", "location"); got != "route.R7.location" {
		t.Fatalf("routingKey()=%q", got)
	}
}

func TestNextSeq_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	r := &Registry{}
	prev := r.nextSeq()
	for i := 0; i < 1000; i++ {
		next := r.nextSeq()
		if next <= prev {
			t.Fatalf("nextSeq()=%d after %d", next, prev)
		}
		prev = next
	}
}
