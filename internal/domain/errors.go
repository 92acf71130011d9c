package domain

import "errors"

var (
	// ErrInvalidCredentials indicates the credential service rejected an email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPermissionMissing indicates tracking was started without a granted location permission.
	ErrPermissionMissing = errors.New("location permission missing")

	// ErrPositionUnavailable indicates the position provider could not produce a fix.
	ErrPositionUnavailable = errors.New("position unavailable")

	// ErrRouteUnresolved indicates no route id is known for the identity.
	ErrRouteUnresolved = errors.New("route unresolved")

	// ErrChannelUnavailable indicates a transport-level publish or subscribe failure.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrRecordNotFound indicates a profile or route lookup miss.
	ErrRecordNotFound = errors.New("record not found")
)
