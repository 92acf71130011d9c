package docstore

import "errors"

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidRecord indicates the collection, id, or record shape was rejected.
	ErrInvalidRecord = errors.New("invalid document")
)
