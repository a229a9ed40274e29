package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/sheetsync-server/internal/authz"
	"github.com/stacklok/sheetsync-server/internal/otel"
	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/store"
	"github.com/stacklok/sheetsync-server/internal/table"
)

// ServiceTracerName is the name used for the table service tracer
const ServiceTracerName = "github.com/stacklok/sheetsync-server/service"

// Scheduler is the part of the sync scheduler the service drives
type Scheduler interface {
	Start(tableID, locator string, interval time.Duration) error
	Remove(tableID string, remove func() error) error
	Refresh(ctx context.Context, tableID string) error
}

// Fetcher reads the rows of a sheet
type Fetcher interface {
	Fetch(ctx context.Context, locator string, columns []table.Column) ([]table.Row, error)
}

// GroupCloser drops every subscriber of a table
type GroupCloser interface {
	Close(tableID string)
}

type tableService struct {
	store      store.Store
	scheduler  Scheduler
	fetcher    Fetcher
	groups     GroupCloser
	authorizer authz.Authorizer
	interval   time.Duration
	tracer     trace.Tracer
	now        func() time.Time
}

var _ TableService = (*tableService)(nil)

// Option configures the table service
type Option func(*tableService)

// WithSyncInterval sets the poll cadence of newly started tables
func WithSyncInterval(d time.Duration) Option {
	return func(s *tableService) {
		s.interval = d
	}
}

// WithTracer traces service operations with t
func WithTracer(t trace.Tracer) Option {
	return func(s *tableService) {
		s.tracer = t
	}
}

// New creates the table service
func New(
	st store.Store,
	scheduler Scheduler,
	fetcher Fetcher,
	groups GroupCloser,
	authorizer authz.Authorizer,
	opts ...Option,
) TableService {
	s := &tableService{
		store:      st,
		scheduler:  scheduler,
		fetcher:    fetcher,
		groups:     groups,
		authorizer: authorizer,
		interval:   10 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *tableService) CheckReadiness(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

func (s *tableService) CreateTable(ctx context.Context, principal string, req CreateTableRequest) (*table.Table, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.CreateTable")
	defer span.End()

	if _, err := sheets.ParseLocator(req.SheetURL); err != nil {
		return nil, err
	}
	cols, err := table.NewSourceColumns(req.Columns)
	if err != nil {
		return nil, err
	}

	t := &table.Table{
		Owner:            principal,
		Name:             req.Name,
		SourceLocator:    req.SheetURL,
		SourceColumns:    cols,
		DashboardColumns: []table.Column{},
	}
	if err := s.store.CreateTable(ctx, t); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	span.SetAttributes(otel.AttrTableID.String(t.ID), otel.AttrColumnCount.Int(len(cols)))

	if err := s.scheduler.Start(t.ID, t.SourceLocator, s.interval); err != nil {
		otel.RecordError(span, err)
		if delErr := s.store.DeleteTable(ctx, t.ID); delErr != nil {
			slog.Error("Failed to roll back table after scheduler error", "table_id", t.ID, "error", delErr)
		}
		return nil, fmt.Errorf("failed to start sync: %w", err)
	}

	slog.Info("Table created", "table_id", t.ID, "owner", principal, "columns", len(cols))
	return t, nil
}

func (s *tableService) ListTables(ctx context.Context, principal string) ([]*table.Table, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.ListTables")
	defer span.End()

	tables, err := s.store.ListTables(ctx, principal)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	span.SetAttributes(otel.AttrRowCount.Int(len(tables)))
	return tables, nil
}

func (s *tableService) GetTable(ctx context.Context, principal, id string) (*table.Table, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.GetTable",
		trace.WithAttributes(otel.AttrTableID.String(id)))
	defer span.End()

	return s.load(ctx, principal, id, authz.ActionRead)
}

func (s *tableService) TableData(ctx context.Context, principal, id string) (*TableData, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.TableData",
		trace.WithAttributes(otel.AttrTableID.String(id)))
	defer span.End()

	t, err := s.load(ctx, principal, id, authz.ActionRead)
	if err != nil {
		return nil, err
	}

	columns := table.MergedColumns(t)
	rows, err := s.fetcher.Fetch(ctx, t.SourceLocator, columns)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrRowCount.Int(len(rows)))

	return &TableData{
		Columns:  columns,
		Rows:     rows,
		Fetched:  s.now().UTC(),
		RowCount: len(rows),
	}, nil
}

func (s *tableService) AddColumn(
	ctx context.Context,
	principal, id string,
	req AddColumnRequest,
) ([]table.Column, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.AddColumn",
		trace.WithAttributes(otel.AttrTableID.String(id)))
	defer span.End()

	if _, err := s.load(ctx, principal, id, authz.ActionWrite); err != nil {
		return nil, err
	}
	kind, err := table.ParseKind(req.Type)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.AddColumn(ctx, id, req.Name, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
		}
		return nil, err
	}

	// Subscribers should see the new shape now rather than on the next tick.
	// The column is stored either way, so a failed refresh is not an error here.
	if err := s.scheduler.Refresh(ctx, id); err != nil {
		slog.Warn("Refresh after adding column failed", "table_id", id, "error", err)
	}

	merged := table.MergedColumns(updated)
	span.SetAttributes(otel.AttrColumnCount.Int(len(merged)))
	slog.Info("Column added", "table_id", id, "column", req.Name, "type", kind)
	return merged, nil
}

func (s *tableService) DeleteTable(ctx context.Context, principal, id string) error {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.DeleteTable",
		trace.WithAttributes(otel.AttrTableID.String(id)))
	defer span.End()

	if _, err := s.load(ctx, principal, id, authz.ActionDelete); err != nil {
		return err
	}

	// The record goes while the scheduler holds the table, so neither a tick
	// nor a refresh can publish for it afterwards
	err := s.scheduler.Remove(id, func() error {
		if err := s.store.DeleteTable(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete table: %w", err)
	}
	s.groups.Close(id)

	slog.Info("Table deleted", "table_id", id, "owner", principal)
	return nil
}

func (s *tableService) CanView(ctx context.Context, principal, id string) error {
	_, err := s.load(ctx, principal, id, authz.ActionRead)
	return err
}

func (s *tableService) ResumeAll(ctx context.Context) (int, error) {
	tables, err := s.store.ListTables(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list tables: %w", err)
	}

	started := 0
	for _, t := range tables {
		if t.SyncStatus.Halted() {
			slog.Info("Not resuming halted table", "table_id", t.ID, "reason", t.SyncStatus.Reason)
			continue
		}
		if err := s.scheduler.Start(t.ID, t.SourceLocator, s.interval); err != nil {
			slog.Warn("Failed to resume table sync", "table_id", t.ID, "error", err)
			continue
		}
		started++
	}
	slog.Info("Resumed table sync", "started", started, "total", len(tables))
	return started, nil
}

// load reads the table and checks that principal may perform action on it
func (s *tableService) load(ctx context.Context, principal, id, action string) (*table.Table, error) {
	t, err := s.store.GetTable(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load table: %w", err)
	}

	decision, err := s.authorizer.Authorize(ctx, authz.Request{
		Principal:  principal,
		Action:     action,
		TableID:    t.ID,
		TableOwner: t.Owner,
	})
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: %s on table %s", ErrForbidden, action, id)
	}
	return t, nil
}
