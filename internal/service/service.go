// Package service provides the business logic behind the table API: creating
// tables, shaping their data and keeping their polling tasks in step.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/sheetsync-server/internal/table"
)

var (
	// ErrTableNotFound is returned when no table exists for an id
	ErrTableNotFound = errors.New("table not found")
	// ErrForbidden is returned when the caller may not act on a table
	ErrForbidden = errors.New("forbidden")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go TableService

// TableService defines the operations exposed to the transport layer.
// principal is the authenticated user id of the caller.
type TableService interface {
	// CheckReadiness checks that the record store is reachable
	CheckReadiness(ctx context.Context) error

	// CreateTable stores a new table owned by principal and starts polling it
	CreateTable(ctx context.Context, principal string, req CreateTableRequest) (*table.Table, error)

	// ListTables returns the tables owned by principal
	ListTables(ctx context.Context, principal string) ([]*table.Table, error)

	// GetTable returns one table the caller may read
	GetTable(ctx context.Context, principal, id string) (*table.Table, error)

	// TableData fetches the current rows of a table synchronously
	TableData(ctx context.Context, principal, id string) (*TableData, error)

	// AddColumn appends a dashboard column and pushes a fresh snapshot to subscribers
	AddColumn(ctx context.Context, principal, id string, req AddColumnRequest) ([]table.Column, error)

	// DeleteTable stops polling, removes the table and drops its subscribers
	DeleteTable(ctx context.Context, principal, id string) error

	// CanView returns nil when the caller may subscribe to the table's updates
	CanView(ctx context.Context, principal, id string) error

	// ResumeAll restarts polling for every stored table that is not halted
	ResumeAll(ctx context.Context) (int, error)
}

// CreateTableRequest is the body of a create-table call
type CreateTableRequest struct {
	Name     string             `json:"name"`
	SheetURL string             `json:"sheetUrl"`
	Columns  []table.ColumnSpec `json:"columns"`
}

// AddColumnRequest is the body of an add-column call
type AddColumnRequest struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// TableData is one synchronous read of a table
type TableData struct {
	Columns  []table.Column `json:"columns"`
	Rows     []table.Row    `json:"rows"`
	Fetched  time.Time      `json:"fetchedAt"`
	RowCount int            `json:"rowCount"`
}
