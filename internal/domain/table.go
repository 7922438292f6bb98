package domain

import "strings"

// Table is an in-memory tabular result. All values are strings; numeric or
// date interpretation is left to consumers. Column names are stored
// normalized (trimmed, lower-cased) by the CSV layer.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []string) *Table {
	return &Table{Columns: columns, Rows: make([][]string, 0)}
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColIndex returns the position of a column by exact name, or -1.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ColIndexFold returns the position of a column by case-insensitive name, or -1.
func (t *Table) ColIndexFold(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has a column with the exact name.
func (t *Table) HasColumn(name string) bool { return t.ColIndex(name) >= 0 }

// Project returns a new table containing only the named columns, in order.
// Requested columns missing from the table are silently dropped.
func (t *Table) Project(columns []string) *Table {
	idx := make([]int, 0, len(columns))
	kept := make([]string, 0, len(columns))
	for _, c := range columns {
		if i := t.ColIndex(c); i >= 0 {
			idx = append(idx, i)
			kept = append(kept, t.Columns[i])
		}
	}
	out := &Table{Columns: kept, Rows: make([][]string, 0, len(t.Rows))}
	for _, row := range t.Rows {
		nr := make([]string, len(idx))
		for j, i := range idx {
			if i < len(row) {
				nr[j] = row[i]
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// AppendColumn adds a column with the given per-row values. Short value
// slices are padded with empty strings.
func (t *Table) AppendColumn(name string, values []string) {
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		t.Rows[i] = append(t.Rows[i], v)
	}
}

// Column returns all values of the named column in row order, or nil when
// the column does not exist.
func (t *Table) Column(name string) []string {
	i := t.ColIndex(name)
	if i < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...), Rows: make([][]string, len(t.Rows))}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// IsNullish reports whether a value represents an absent cell: empty after
// trimming, or one of the textual null spellings carried over from upstream
// extracts ("nan", "none", "null", "nat").
func IsNullish(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "", "nan", "none", "null", "nat", "<na>":
		return true
	}
	return false
}
