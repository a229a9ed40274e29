package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() *Table {
	return &Table{
		ID: "t1",
		SourceColumns: []Column{
			{Name: "Name", Kind: KindText, Origin: OriginSource},
			{Name: "JoinDate", Kind: KindDate, Origin: OriginSource},
		},
		DashboardColumns: []Column{
			{Name: "Notes", Kind: KindText, Origin: OriginDashboard},
		},
	}
}

func TestMergedColumns(t *testing.T) {
	t.Parallel()

	tbl := newTestTable()
	merged := MergedColumns(tbl)

	require.Len(t, merged, 3)
	assert.Equal(t, []string{"Name", "JoinDate", "Notes"}, columnNames(merged))

	// mutating the result must not leak into the table
	merged[0].Name = "changed"
	assert.Equal(t, "Name", tbl.SourceColumns[0].Name)
}

func TestAddColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		colName  string
		kind     Kind
		wantErr  error
		wantKind Kind
	}{
		{name: "new text column", colName: "Status", kind: KindText, wantKind: KindText},
		{name: "empty kind defaults to text", colName: "Status", kind: "", wantKind: KindText},
		{name: "new date column", colName: "Due", kind: KindDate, wantKind: KindDate},
		{name: "case differs from source column", colName: "name", kind: KindText, wantKind: KindText},
		{name: "duplicate of source column", colName: "Name", kind: KindText, wantErr: ErrDuplicateColumnName},
		{name: "duplicate of dashboard column", colName: "Notes", kind: KindDate, wantErr: ErrDuplicateColumnName},
		{name: "empty name", colName: "", kind: KindText, wantErr: ErrInvalidColumn},
		{name: "unknown kind", colName: "Amount", kind: "number", wantErr: ErrInvalidColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tbl := newTestTable()
			before := append([]Column(nil), tbl.DashboardColumns...)

			col, err := AddColumn(tbl, tt.colName, tt.kind)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, tbl.DashboardColumns)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, Column{Name: tt.colName, Kind: tt.wantKind, Origin: OriginDashboard}, col)
			assert.Equal(t, col, tbl.DashboardColumns[len(tbl.DashboardColumns)-1])
			assert.Len(t, MergedColumns(tbl), 4)
		})
	}
}

func TestAddColumn_AppendsInOrder(t *testing.T) {
	t.Parallel()

	tbl := newTestTable()
	for _, name := range []string{"B", "A", "C"} {
		_, err := AddColumn(tbl, name, KindText)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Name", "JoinDate", "Notes", "B", "A", "C"}, columnNames(MergedColumns(tbl)))
}

func TestNewSourceColumns(t *testing.T) {
	t.Parallel()

	cols, err := NewSourceColumns([]ColumnSpec{{Name: "Name"}, {Name: "JoinDate", Type: "date"}})
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "Name", Kind: KindText, Origin: OriginSource},
		{Name: "JoinDate", Kind: KindDate, Origin: OriginSource},
	}, cols)

	_, err = NewSourceColumns([]ColumnSpec{{Name: "A"}, {Name: "A", Type: "date"}})
	assert.ErrorIs(t, err, ErrDuplicateColumnName)

	_, err = NewSourceColumns([]ColumnSpec{{Name: "A", Type: "money"}})
	assert.ErrorIs(t, err, ErrInvalidColumn)

	_, err = NewSourceColumns([]ColumnSpec{{Name: ""}})
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestClone(t *testing.T) {
	t.Parallel()

	orig := newTestTable()
	c := orig.Clone()
	c.DashboardColumns = append(c.DashboardColumns, Column{Name: "X"})
	c.SourceColumns[0].Name = "Other"

	assert.Len(t, orig.DashboardColumns, 1)
	assert.Equal(t, "Name", orig.SourceColumns[0].Name)
	assert.Nil(t, (*Table)(nil).Clone())
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
