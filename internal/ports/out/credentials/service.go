package credentials

import (
	"context"
	"time"

	"github.com/yellowbus/route-tracker/internal/domain"
)

// Principal is the verified result of a login.
type Principal struct {
	ID    domain.IdentityID
	Email string
}

// Service is the credential provider that backs authentication.
//
// Emails are compared after domain.NormalizeEmail.
type Service interface {
	// Verify checks an email/password pair and returns ErrInvalidCredentials on mismatch
	// or unknown email. Implementations must not distinguish the two cases.
	Verify(ctx context.Context, email, password string) (Principal, error)

	// Invalidate revokes every session issued to the identity before now.
	Invalidate(ctx context.Context, id domain.IdentityID) error

	// InvalidatedAt returns the most recent revocation time, if any.
	InvalidatedAt(ctx context.Context, id domain.IdentityID) (time.Time, bool, error)
}

// Registrar creates accounts. It is used by seeding and tests, not by the login flow.
type Registrar interface {
	Register(ctx context.Context, id domain.IdentityID, email, password string) error
}
