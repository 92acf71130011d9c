package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

// Store is an in-memory implementation of docstore.Store.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	collections map[string]map[string]docstore.Record
}

func NewStore() *Store {
	return &Store{collections: make(map[string]map[string]docstore.Record)}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) Query(ctx context.Context, collection, field, value string) ([]docstore.Document, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]docstore.Document, 0)
	for id, rec := range s.collections[collection] {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		if fmt.Sprint(v) == value {
			out = append(out, docstore.Document{ID: id, Data: cloneRecord(rec)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, partial docstore.Record, merge bool) error {
	_ = ctx
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return docstore.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]docstore.Record)
		s.collections[collection] = coll
	}

	existing, ok := coll[id]
	if !merge || !ok {
		coll[id] = cloneRecord(partial)
		if coll[id] == nil {
			coll[id] = docstore.Record{}
		}
		return nil
	}
	for k, v := range partial {
		existing[k] = cloneValue(v)
	}
	return nil
}

func cloneRecord(r docstore.Record) docstore.Record {
	if r == nil {
		return nil
	}
	out := make(docstore.Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(cloneRecord(t))
	case docstore.Record:
		return cloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
