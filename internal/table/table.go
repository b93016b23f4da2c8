// Package table holds the in-memory tabular representation shared by every
// pipeline stage: an ordered column set and rows of tagged cells.
package table

import "fmt"

// Table is an ordered set of columns and rows of cells. Every row has exactly
// one cell per column.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New creates an empty table with the given columns
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.AddColumn(c, Absent())
	}
	return t
}

// Columns returns a copy of the column names in order
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the column exists
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// AddColumn appends a column, filling existing rows with fill. Adding an
// existing column is a no-op.
func (t *Table) AddColumn(name string, fill Value) {
	if _, ok := t.index[name]; ok {
		return
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], fill)
	}
}

// Field is a named cell used to build rows
type Field struct {
	Name  string
	Value Value
}

// AppendFields appends a row given as named cells. Columns not yet in the
// table are added in the order given (earlier rows get Absent); columns
// missing from the row are Absent.
func (t *Table) AppendFields(fields ...Field) {
	for _, f := range fields {
		if !t.HasColumn(f.Name) {
			t.AddColumn(f.Name, Absent())
		}
	}
	row := make([]Value, len(t.columns))
	for _, f := range fields {
		row[t.index[f.Name]] = f.Value
	}
	t.rows = append(t.rows, row)
}

// AppendValues appends a row given in column order
func (t *Table) AppendValues(values ...Value) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.columns))
	}
	row := make([]Value, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
	return nil
}

// Get returns the cell at row i of the named column. Unknown columns read as
// Absent.
func (t *Table) Get(i int, column string) Value {
	c, ok := t.index[column]
	if !ok {
		return Absent()
	}
	return t.rows[i][c]
}

// Set replaces the cell at row i of the named column, adding the column if
// needed.
func (t *Table) Set(i int, column string, v Value) {
	if !t.HasColumn(column) {
		t.AddColumn(column, Absent())
	}
	t.rows[i][t.index[column]] = v
}

// Row returns a copy of row i in column order
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.rows[i]))
	copy(out, t.rows[i])
	return out
}

// Column returns a copy of every cell of the named column
func (t *Table) Column(name string) []Value {
	c, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]Value, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[c]
	}
	return out
}

// Concat returns the row-wise union of the given tables. Columns are unioned
// in first-seen order and cells a table does not have are Absent. Rows keep
// their order, table by table. Nil tables are skipped.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, src := range tables {
		if src == nil {
			continue
		}
		for _, c := range src.columns {
			out.AddColumn(c, Absent())
		}
	}
	for _, src := range tables {
		if src == nil {
			continue
		}
		for _, row := range src.rows {
			dst := make([]Value, len(out.columns))
			for ci, c := range src.columns {
				dst[out.index[c]] = row[ci]
			}
			out.rows = append(out.rows, dst)
		}
	}
	return out
}
