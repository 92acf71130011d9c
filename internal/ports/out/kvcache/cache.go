package kvcache

import "context"

// Keys persisted for the on-device session.
const (
	KeyUserToken = "userToken"
	KeyUserRole  = "userRole"
	KeyRoute     = "route"
)

// Cache is the device-local persistent key-value cache.
// Callers treat any error as a cache miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
