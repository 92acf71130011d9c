package testutil

import (
	"context"
	"os"
	"testing"

	goredis "github.com/go-redis/redis/v8"

	redisadapter "github.com/yellowbus/route-tracker/internal/adapters/redis"
)

// OpenClient connects to TEST_REDIS_ADDR. Tests are skipped when the variable is unset.
func OpenClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	client, err := redisadapter.NewClient(context.Background(), redisadapter.Options{Addr: addr})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
