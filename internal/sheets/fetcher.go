// Package sheets fetches rows from a Google Sheets spreadsheet and shapes them
// according to a table's column schema.
package sheets

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/sheetsync-server/internal/table"
)

// Fetcher turns a source locator and a column schema into typed rows. It holds no per-table state.
type Fetcher struct {
	reader      ValueReader
	dateLayouts []string
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithDateLayouts overrides the layouts tried when parsing date cells
func WithDateLayouts(layouts ...string) FetcherOption {
	return func(f *Fetcher) {
		if len(layouts) > 0 {
			f.dateLayouts = layouts
		}
	}
}

// NewFetcher creates a Fetcher reading through reader
func NewFetcher(reader ValueReader, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		reader:      reader,
		dateLayouts: DefaultDateLayouts,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch reads the first sheet behind locator and maps each data row onto columns by position.
// The first row is a header and is always discarded.
func (f *Fetcher) Fetch(ctx context.Context, locator string, columns []table.Column) ([]table.Row, error) {
	spreadsheetID, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	if err := validateSchema(columns); err != nil {
		return nil, err
	}

	grid, err := f.reader.ReadValues(ctx, spreadsheetID)
	if err != nil {
		var srcErr *SourceError
		if errors.As(err, &srcErr) {
			return nil, err
		}
		return nil, &SourceError{Op: "read values", Kind: ErrSourceUnavailable, Err: err}
	}

	if len(grid) <= 1 {
		return []table.Row{}, nil
	}

	rows := make([]table.Row, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		rows = append(rows, f.shapeRow(cells, columns))
	}
	return rows, nil
}

// shapeRow produces exactly one value per column, padding short rows with empty text
func (f *Fetcher) shapeRow(cells []string, columns []table.Column) table.Row {
	row := make(table.Row, len(columns))
	for i, col := range columns {
		raw := ""
		if i < len(cells) {
			raw = cells[i]
		}
		row[col.Name] = f.cellValue(raw, col.Kind)
	}
	return row
}

func (f *Fetcher) cellValue(raw string, kind table.Kind) any {
	if kind == table.KindDate {
		if d, ok := parseDate(raw, f.dateLayouts); ok {
			return d
		}
	}
	return raw
}

func validateSchema(columns []table.Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: table has no columns", ErrSchemaMismatch)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if !col.Kind.Valid() {
			return fmt.Errorf("%w: column %q has unknown type %q", ErrSchemaMismatch, col.Name, col.Kind)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("%w: column %q appears twice", ErrSchemaMismatch, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}
