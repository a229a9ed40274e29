// Package memory provides an in-process Store, used by default and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
)

// Store keeps tables in a map guarded by a RWMutex and hands out copies
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		tables: make(map[string]*table.Table),
		now:    time.Now,
	}
}

// CreateTable implements store.Store
func (s *Store) CreateTable(_ context.Context, t *table.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := s.tables[t.ID]; exists {
		return fmt.Errorf("table %s already exists", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	s.tables[t.ID] = t.Clone()
	return nil
}

// GetTable implements store.Store
func (s *Store) GetTable(_ context.Context, id string) (*table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Clone(), nil
}

// ListTables implements store.Store
func (s *Store) ListTables(_ context.Context, owner string) ([]*table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*table.Table, 0, len(s.tables))
	for _, t := range s.tables {
		if owner == "" || t.Owner == owner {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *table.Table) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// DeleteTable implements store.Store
func (s *Store) DeleteTable(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tables, id)
	return nil
}

// AddColumn implements store.Store
func (s *Store) AddColumn(_ context.Context, id, name string, kind table.Kind) (*table.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	updated := t.Clone()
	if _, err := table.AddColumn(updated, name, kind); err != nil {
		return nil, err
	}
	s.tables[id] = updated
	return updated.Clone(), nil
}

// UpdateLastSynced implements store.Store
func (s *Store) UpdateLastSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	t.LastSyncedAt = &at
	return nil
}

// UpdateSyncStatus implements store.Store
func (s *Store) UpdateSyncStatus(_ context.Context, id string, st *status.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return store.ErrNotFound
	}
	t.SyncStatus = st.Clone()
	return nil
}

// Ping implements store.Store
func (*Store) Ping(context.Context) error {
	return nil
}

// Close implements store.Store
func (*Store) Close(context.Context) error {
	return nil
}
