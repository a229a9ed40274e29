package table

import "fmt"

// ColumnSpec is a requested column before it is assigned an origin
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// MergedColumns returns the source columns followed by the dashboard columns,
// each in insertion order. The returned slice is never shared with t.
func MergedColumns(t *Table) []Column {
	merged := make([]Column, 0, len(t.SourceColumns)+len(t.DashboardColumns))
	merged = append(merged, t.SourceColumns...)
	merged = append(merged, t.DashboardColumns...)
	return merged
}

// HasColumn reports whether name is already used by any column of t.
// Names are compared case-sensitively.
func HasColumn(t *Table, name string) bool {
	for _, c := range t.SourceColumns {
		if c.Name == name {
			return true
		}
	}
	for _, c := range t.DashboardColumns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// AddColumn appends a dashboard column to t. On any error t is left untouched.
func AddColumn(t *Table, name string, kind Kind) (Column, error) {
	if name == "" {
		return Column{}, fmt.Errorf("%w: column name is required", ErrInvalidColumn)
	}
	if kind == "" {
		kind = KindText
	}
	if !kind.Valid() {
		return Column{}, fmt.Errorf("%w: unknown column type %q", ErrInvalidColumn, kind)
	}
	if HasColumn(t, name) {
		return Column{}, fmt.Errorf("%w: %q", ErrDuplicateColumnName, name)
	}

	col := Column{Name: name, Kind: kind, Origin: OriginDashboard}
	t.DashboardColumns = append(t.DashboardColumns, col)
	return col, nil
}

// NewSourceColumns validates the columns requested at table creation and
// returns them as source columns in the given order.
func NewSourceColumns(specs []ColumnSpec) ([]Column, error) {
	cols := make([]Column, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: columns[%d]: name is required", ErrInvalidColumn, i)
		}
		kind, err := ParseKind(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("columns[%d]: %w", i, err)
		}
		if _, ok := seen[spec.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumnName, spec.Name)
		}
		seen[spec.Name] = struct{}{}
		cols = append(cols, Column{Name: spec.Name, Kind: kind, Origin: OriginSource})
	}
	return cols, nil
}
