// Package store defines the record store that persists table definitions.
// Implementations live in subpackages: memory, sqlstore and mongostore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/table"
)

// ErrNotFound is returned when no table exists for an id
var ErrNotFound = errors.New("table not found")

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store persists tables and their column definitions, keyed by table id.
// Returned tables are copies owned by the caller.
type Store interface {
	// CreateTable assigns an id when t.ID is empty and stores t
	CreateTable(ctx context.Context, t *table.Table) error

	// GetTable returns the table or ErrNotFound
	GetTable(ctx context.Context, id string) (*table.Table, error)

	// ListTables returns the tables of owner, or every table when owner is empty,
	// ordered by creation time
	ListTables(ctx context.Context, owner string) ([]*table.Table, error)

	// DeleteTable removes the table or returns ErrNotFound
	DeleteTable(ctx context.Context, id string) error

	// AddColumn atomically checks the name against the merged columns and appends
	// a dashboard column. It returns table.ErrDuplicateColumnName without changing anything on a clash.
	AddColumn(ctx context.Context, id, name string, kind table.Kind) (*table.Table, error)

	// UpdateLastSynced records the time of the last successful sync
	UpdateLastSynced(ctx context.Context, id string, at time.Time) error

	// UpdateSyncStatus replaces the recorded sync status
	UpdateSyncStatus(ctx context.Context, id string, st *status.SyncStatus) error

	// Ping checks that the backing storage is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connections
	Close(ctx context.Context) error
}
