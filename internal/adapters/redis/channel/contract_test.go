package channel

import (
	"testing"

	"github.com/google/uuid"

	"github.com/yellowbus/route-tracker/internal/adapters/contracttest"
	"github.com/yellowbus/route-tracker/internal/adapters/redis/testutil"
	channelport "github.com/yellowbus/route-tracker/internal/ports/out/channel"
)

func TestContract_RedisChannelRegistry(t *testing.T) {
	client := testutil.OpenClient(t)

	contracttest.RunChannelRegistry(t, func(t *testing.T) (channelport.Registry, func()) {
		t.Helper()
		return NewRegistry(client, "test-"+uuid.NewString(), nil), nil
	})
}
