package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

// Store is a Postgres implementation of docstore.Store. Every collection lives in one
// jsonb table keyed by (collection, id).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Record, error) {
	if s.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	var data map[string]any
	err := s.pool.QueryRow(ctx, `
		SELECT data
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	return docstore.Record(data), nil
}

func (s *Store) Query(ctx context.Context, collection, field, value string) ([]docstore.Document, error) {
	if s.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND data ->> $2 = $3
		ORDER BY id ASC
	`, collection, field, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]docstore.Document, 0)
	for rows.Next() {
		var (
			id   string
			data map[string]any
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		out = append(out, docstore.Document{ID: id, Data: docstore.Record(data)})
	}
	return out, rows.Err()
}

func (s *Store) Put(ctx context.Context, collection, id string, partial docstore.Record, merge bool) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return docstore.ErrInvalidRecord
	}
	if partial == nil {
		partial = docstore.Record{}
	}
	body, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrInvalidRecord, err)
	}

	// jsonb || merges top-level keys, which is exactly merge=true semantics.
	onConflict := `data = EXCLUDED.data`
	if merge {
		onConflict = `data = documents.data || EXCLUDED.data`
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, id) DO UPDATE SET `+onConflict+`, updated_at = now()
	`, collection, id, string(body))
	return err
}
