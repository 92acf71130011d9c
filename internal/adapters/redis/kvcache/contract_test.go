package kvcache

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yellowbus/route-tracker/internal/adapters/contracttest"
	"github.com/yellowbus/route-tracker/internal/adapters/redis/testutil"
	kvcacheport "github.com/yellowbus/route-tracker/internal/ports/out/kvcache"
)

func TestContract_RedisKVCache(t *testing.T) {
	client := testutil.OpenClient(t)

	contracttest.RunKVCache(t, func(t *testing.T) (kvcacheport.Cache, func()) {
		t.Helper()
		c := NewCache(client, "test", uuid.NewString())
		return c, func() { _ = c.Clear(context.Background()) }
	})
}
