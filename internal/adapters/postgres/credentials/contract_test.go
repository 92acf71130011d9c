package credentials

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/yellowbus/route-tracker/internal/adapters/contracttest"
	"github.com/yellowbus/route-tracker/internal/adapters/postgres/testutil"
	platformclock "github.com/yellowbus/route-tracker/internal/platform/clock"
)

func TestContract_PostgresCredentials(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunCredentials(t, func(t *testing.T) (contracttest.CredentialService, func()) {
		t.Helper()
		svc := NewService(pool, platformclock.NewSystemClock())
		svc.Cost = bcrypt.MinCost
		return svc, nil
	})
}
