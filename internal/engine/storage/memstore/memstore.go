// Package memstore is an in-memory content store for tests and ephemeral
// runs.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/roguebench/roguebench/internal/engine/content"
)

// Store holds records in memory. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	records map[string]content.Record
	err     error
}

// New creates an empty store.
func New() *Store {
	return &Store{records: map[string]content.Record{}}
}

// Put inserts or replaces a record by id.
func (s *Store) Put(rec content.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// Delete removes a record by id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// FailWith makes the next LoadAll calls return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// LoadAll returns every stored record ordered by id.
func (s *Store) LoadAll(ctx context.Context) ([]content.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	records := make([]content.Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
