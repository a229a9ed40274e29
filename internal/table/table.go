// Package table defines the table and column model and the schema merge rules
// shared by the fetcher, the scheduler and the record stores.
package table

import (
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/sheetsync-server/internal/status"
)

var (
	// ErrDuplicateColumnName is returned when a column name is already present in the merged column list
	ErrDuplicateColumnName = errors.New("duplicate column name")
	// ErrInvalidColumn is returned when a column has an empty name or an unknown kind
	ErrInvalidColumn = errors.New("invalid column")
)

// Kind is the value type of a column
type Kind string

const (
	// KindText columns carry the raw cell text
	KindText Kind = "text"

	// KindDate columns carry a calendar date, or the raw text when it does not parse
	KindDate Kind = "date"
)

// Origin tells where a column is defined
type Origin string

const (
	// OriginSource columns are read positionally from the spreadsheet
	OriginSource Origin = "source"

	// OriginDashboard columns exist only on the dashboard side
	OriginDashboard Origin = "dashboard"
)

// ParseKind converts a user supplied kind into a Kind. An empty value means text.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindText:
		return KindText, nil
	case KindDate:
		return KindDate, nil
	default:
		return "", fmt.Errorf("%w: unknown column type %q", ErrInvalidColumn, s)
	}
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindText || k == KindDate
}

// Column is a single named, typed column of a table
type Column struct {
	Name   string `json:"name" bson:"name"`
	Kind   Kind   `json:"type" bson:"kind"`
	Origin Origin `json:"origin" bson:"origin"`
}

// Row maps a column name to its typed value
type Row map[string]any

// Table is the persisted definition of a synchronized table
type Table struct {
	ID               string             `json:"id" bson:"_id"`
	Owner            string             `json:"owner" bson:"owner"`
	Name             string             `json:"name" bson:"name"`
	SourceLocator    string             `json:"sheetUrl" bson:"sourceLocator"`
	SourceColumns    []Column           `json:"sourceColumns" bson:"sourceColumns"`
	DashboardColumns []Column           `json:"dashboardColumns" bson:"dashboardColumns"`
	LastSyncedAt     *time.Time         `json:"lastSyncedAt,omitempty" bson:"lastSyncedAt,omitempty"`
	SyncStatus       *status.SyncStatus `json:"syncStatus,omitempty" bson:"syncStatus,omitempty"`
	CreatedAt        time.Time          `json:"createdAt" bson:"createdAt"`
}

// Clone returns a deep copy of the table so callers can hand it out without sharing slices
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := *t
	c.SourceColumns = append([]Column(nil), t.SourceColumns...)
	c.DashboardColumns = append([]Column(nil), t.DashboardColumns...)
	if t.LastSyncedAt != nil {
		ts := *t.LastSyncedAt
		c.LastSyncedAt = &ts
	}
	if t.SyncStatus != nil {
		c.SyncStatus = t.SyncStatus.Clone()
	}
	return &c
}
