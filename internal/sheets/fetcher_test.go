package sheets

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/sheetsync-server/internal/table"
)

const testSheetURL = "https://docs.google.com/spreadsheets/d/1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789/edit#gid=0"

// readerFunc adapts a function to ValueReader
type readerFunc func(ctx context.Context, id string) ([][]string, error)

func (f readerFunc) ReadValues(ctx context.Context, id string) ([][]string, error) {
	return f(ctx, id)
}

func staticReader(grid [][]string) ValueReader {
	return readerFunc(func(context.Context, string) ([][]string, error) {
		return grid, nil
	})
}

func TestFetch_HeaderSkippedAndDatesParsed(t *testing.T) {
	t.Parallel()

	columns := []table.Column{
		{Name: "Name", Kind: table.KindText, Origin: table.OriginSource},
		{Name: "JoinDate", Kind: table.KindDate, Origin: table.OriginSource},
	}
	f := NewFetcher(staticReader([][]string{
		{"Header1", "Header2"},
		{"Alice", "2024-01-05"},
		{"Bob", "not-a-date"},
	}))

	rows, err := f.Fetch(context.Background(), testSheetURL, columns)
	require.NoError(t, err)

	assert.Equal(t, []table.Row{
		{"Name": "Alice", "JoinDate": civil.Date{Year: 2024, Month: 1, Day: 5}},
		{"Name": "Bob", "JoinDate": "not-a-date"},
	}, rows)
}

func TestFetch_RowWidthMatchesSchema(t *testing.T) {
	t.Parallel()

	columns := []table.Column{
		{Name: "A", Kind: table.KindText, Origin: table.OriginSource},
		{Name: "B", Kind: table.KindText, Origin: table.OriginSource},
		{Name: "C", Kind: table.KindDate, Origin: table.OriginSource},
		{Name: "Notes", Kind: table.KindText, Origin: table.OriginDashboard},
	}

	tests := []struct {
		name  string
		cells []string
		want  table.Row
	}{
		{
			name:  "short row is padded",
			cells: []string{"a"},
			want:  table.Row{"A": "a", "B": "", "C": "", "Notes": ""},
		},
		{
			name:  "empty row is padded",
			cells: []string{},
			want:  table.Row{"A": "", "B": "", "C": "", "Notes": ""},
		},
		{
			name:  "long row is truncated",
			cells: []string{"a", "b", "1/2/2023", "n", "extra", "more"},
			want:  table.Row{"A": "a", "B": "b", "C": civil.Date{Year: 2023, Month: 1, Day: 2}, "Notes": "n"},
		},
		{
			name:  "exact row",
			cells: []string{"a", "b", "garbage", "n"},
			want:  table.Row{"A": "a", "B": "b", "C": "garbage", "Notes": "n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := NewFetcher(staticReader([][]string{{"h"}, tt.cells}))

			rows, err := f.Fetch(context.Background(), testSheetURL, columns)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Len(t, rows[0], len(columns))
			assert.Equal(t, tt.want, rows[0])
		})
	}
}

func TestFetch_EmptyRange(t *testing.T) {
	t.Parallel()

	columns := []table.Column{{Name: "A", Kind: table.KindText, Origin: table.OriginSource}}

	for name, grid := range map[string][][]string{
		"no values":   nil,
		"header only": {{"A"}},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rows, err := NewFetcher(staticReader(grid)).Fetch(context.Background(), testSheetURL, columns)
			require.NoError(t, err)
			assert.NotNil(t, rows)
			assert.Empty(t, rows)
		})
	}
}

func TestFetch_Errors(t *testing.T) {
	t.Parallel()

	textCols := []table.Column{{Name: "A", Kind: table.KindText, Origin: table.OriginSource}}
	called := false
	neverCalled := readerFunc(func(context.Context, string) ([][]string, error) {
		called = true
		return nil, nil
	})

	tests := []struct {
		name    string
		reader  ValueReader
		locator string
		columns []table.Column
		wantErr error
	}{
		{
			name:    "malformed locator",
			reader:  neverCalled,
			locator: "https://example.com/not-a-sheet",
			columns: textCols,
			wantErr: ErrInvalidLocator,
		},
		{
			name:    "empty schema",
			reader:  neverCalled,
			locator: testSheetURL,
			columns: nil,
			wantErr: ErrSchemaMismatch,
		},
		{
			name:    "unknown kind",
			reader:  neverCalled,
			locator: testSheetURL,
			columns: []table.Column{{Name: "A", Kind: "number"}},
			wantErr: ErrSchemaMismatch,
		},
		{
			name: "plain transport error",
			reader: readerFunc(func(context.Context, string) ([][]string, error) {
				return nil, errors.New("connection refused")
			}),
			locator: testSheetURL,
			columns: textCols,
			wantErr: ErrSourceUnavailable,
		},
		{
			name: "classified reader error is kept",
			reader: readerFunc(func(context.Context, string) ([][]string, error) {
				return nil, &SourceError{Op: "read values", Kind: ErrInvalidLocator}
			}),
			locator: testSheetURL,
			columns: textCols,
			wantErr: ErrInvalidLocator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := NewFetcher(tt.reader).Fetch(context.Background(), tt.locator, tt.columns)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, rows)
		})
	}
	assert.False(t, called, "reader must not be called when the request is rejected up front")
}

func TestFetch_PassesSpreadsheetID(t *testing.T) {
	t.Parallel()

	var gotID string
	reader := readerFunc(func(_ context.Context, id string) ([][]string, error) {
		gotID = id
		return nil, nil
	})

	_, err := NewFetcher(reader).Fetch(context.Background(), testSheetURL,
		[]table.Column{{Name: "A", Kind: table.KindText}})
	require.NoError(t, err)
	assert.Equal(t, "1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789", gotID)
}

func TestFetch_CustomDateLayouts(t *testing.T) {
	t.Parallel()

	f := NewFetcher(staticReader([][]string{{"d"}, {"05.01.2024"}}), WithDateLayouts("02.01.2006"))
	rows, err := f.Fetch(context.Background(), testSheetURL, []table.Column{{Name: "D", Kind: table.KindDate}})
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 5}, rows[0]["D"])
}
