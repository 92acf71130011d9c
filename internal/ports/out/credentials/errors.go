package credentials

import "errors"

var (
	// ErrInvalidCredentials indicates the email/password pair was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAlreadyExists indicates an account already exists for the email or id.
	ErrAlreadyExists = errors.New("account already exists")

	// ErrNotFound indicates no account exists for the identity.
	ErrNotFound = errors.New("account not found")
)
