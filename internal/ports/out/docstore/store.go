package docstore

import "context"

// Record is a JSON-like document body. Values are limited to what encoding/json produces:
// string, float64, bool, nil, []any and map[string]any.
type Record map[string]any

// Document pairs a record with its id inside a collection.
type Document struct {
	ID   string
	Data Record
}

// Store is a minimal document database.
//
// Result ordering expectations:
// - Query returns documents ordered by ID ascending to keep behavior deterministic.
type Store interface {
	// Get returns ErrNotFound when the document is absent.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Query returns documents whose top-level field equals value when rendered as a string.
	// No match is an empty slice, not an error.
	Query(ctx context.Context, collection, field, value string) ([]Document, error)

	// Put writes partial. With merge=true top-level fields are merged into the existing
	// document (creating it when absent); with merge=false the document is replaced.
	Put(ctx context.Context, collection, id string, partial Record, merge bool) error
}
