// Package sqlstore implements store.Store on database/sql for PostgreSQL (pgx) and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"       // registers the "pgx" driver
	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" driver
	_ "github.com/ncruces/go-sqlite3/embed"  // bundles the SQLite build

	"github.com/stacklok/sheetsync-server/internal/status"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
)

// Dialect selects the SQL driver
type Dialect string

const (
	// DialectPostgres uses the pgx stdlib driver
	DialectPostgres Dialect = "postgres"

	// DialectSQLite uses the ncruces SQLite driver
	DialectSQLite Dialect = "sqlite"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute

	// maxCASAttempts bounds the optimistic retry loop of AddColumn
	maxCASAttempts = 10
)

//go:embed schema.sql
var schemaSQL string

// Config configures the SQL store connection
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store persists tables in a single SQL table. Column lists and the sync
// status are stored as JSON text so both dialects share one schema.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Store = (*Store)(nil)

// Open connects, applies connection pool limits and ensures the schema exists
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}

	var driverName, dsn string
	switch cfg.Dialect {
	case DialectPostgres:
		driverName, dsn = "pgx", cfg.DSN
	case DialectSQLite:
		driverName, dsn = "sqlite3", sqliteDSN(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = defaultMaxIdleConns
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = defaultConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dialect: cfg.Dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN turns a bare path into a file URI with a busy timeout and WAL journal
func sqliteDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const selectColumns = `SELECT id, owner, name, source_locator, source_columns, dashboard_columns,
	last_synced_at, sync_status, created_at, version FROM sheet_tables`

// CreateTable implements store.Store
func (s *Store) CreateTable(ctx context.Context, t *table.Table) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	srcCols, err := json.Marshal(nonNil(t.SourceColumns))
	if err != nil {
		return fmt.Errorf("failed to encode source columns: %w", err)
	}
	dashCols, err := json.Marshal(nonNil(t.DashboardColumns))
	if err != nil {
		return fmt.Errorf("failed to encode dashboard columns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO sheet_tables
		(id, owner, name, source_locator, source_columns, dashboard_columns, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`),
		t.ID, t.Owner, t.Name, t.SourceLocator, string(srcCols), string(dashCols), t.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to insert table: %w", err)
	}
	return nil
}

// GetTable implements store.Store
func (s *Store) GetTable(ctx context.Context, id string) (*table.Table, error) {
	t, _, err := s.get(ctx, id)
	return t, err
}

func (s *Store) get(ctx context.Context, id string) (*table.Table, int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE id = ?`), id)
	t, version, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load table %s: %w", id, err)
	}
	return t, version, nil
}

// ListTables implements store.Store
func (s *Store) ListTables(ctx context.Context, owner string) ([]*table.Table, error) {
	query := selectColumns
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	out := []*table.Table{}
	for rows.Next() {
		t, _, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTable implements store.Store
func (s *Store) DeleteTable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sheet_tables WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", id, err)
	}
	return expectOneRow(res)
}

// AddColumn implements store.Store. The dashboard column list is replaced with a
// compare-and-swap on the row version, retried when a concurrent writer wins.
func (s *Store) AddColumn(ctx context.Context, id, name string, kind table.Kind) (*table.Table, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		t, version, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := table.AddColumn(t, name, kind); err != nil {
			return nil, err
		}

		dashCols, err := json.Marshal(t.DashboardColumns)
		if err != nil {
			return nil, fmt.Errorf("failed to encode dashboard columns: %w", err)
		}
		res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sheet_tables
			SET dashboard_columns = ?, version = version + 1
			WHERE id = ? AND version = ?`), string(dashCols), id, version)
		if err != nil {
			return nil, fmt.Errorf("failed to add column to table %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to add column to table %s: %w", id, err)
		}
		if n == 1 {
			return t, nil
		}
	}
	return nil, fmt.Errorf("failed to add column to table %s: too much concurrent modification", id)
}

// UpdateLastSynced implements store.Store
func (s *Store) UpdateLastSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sheet_tables SET last_synced_at = ? WHERE id = ?`),
		at.UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync of table %s: %w", id, err)
	}
	return expectOneRow(res)
}

// UpdateSyncStatus implements store.Store
func (s *Store) UpdateSyncStatus(ctx context.Context, id string, st *status.SyncStatus) error {
	var encoded sql.NullString
	if st != nil {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to encode sync status: %w", err)
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sheet_tables SET sync_status = ? WHERE id = ?`), encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update sync status of table %s: %w", id, err)
	}
	return expectOneRow(res)
}

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements store.Store
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTable(row scanner) (*table.Table, int64, error) {
	var (
		t                  table.Table
		srcCols, dashCols  string
		lastSynced         sql.NullInt64
		syncStatus         sql.NullString
		createdAt, version int64
	)
	if err := row.Scan(&t.ID, &t.Owner, &t.Name, &t.SourceLocator, &srcCols, &dashCols,
		&lastSynced, &syncStatus, &createdAt, &version); err != nil {
		return nil, 0, err
	}

	if err := json.Unmarshal([]byte(srcCols), &t.SourceColumns); err != nil {
		return nil, 0, fmt.Errorf("failed to decode source columns: %w", err)
	}
	if err := json.Unmarshal([]byte(dashCols), &t.DashboardColumns); err != nil {
		return nil, 0, fmt.Errorf("failed to decode dashboard columns: %w", err)
	}
	if lastSynced.Valid {
		ts := time.UnixMicro(lastSynced.Int64).UTC()
		t.LastSyncedAt = &ts
	}
	if syncStatus.Valid && syncStatus.String != "" {
		t.SyncStatus = &status.SyncStatus{}
		if err := json.Unmarshal([]byte(syncStatus.String), t.SyncStatus); err != nil {
			return nil, 0, fmt.Errorf("failed to decode sync status: %w", err)
		}
	}
	t.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &t, version, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nonNil(cols []table.Column) []table.Column {
	if cols == nil {
		return []table.Column{}
	}
	return cols
}
