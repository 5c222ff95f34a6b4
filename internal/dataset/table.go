// Package dataset supplies the rectangular source tables the mapping engine
// consumes. The engine itself never reads files; readers here are the
// file-loading collaborators that produce a Table from CSV or XLSX input.
package dataset

import (
	"fmt"
	"strings"
)

// Table is a rectangular dataset: ordered column names and per-column values.
// All values are kept as raw strings; numeric coercion happens at expression
// evaluation time.
type Table struct {
	Columns []string
	cols    map[string][]string
	rows    int
}

// New builds a Table from a header row and data rows. Short rows are padded
// with empty strings; extra cells beyond the header are dropped.
func New(header []string, rows [][]string) *Table {
	t := &Table{
		Columns: append([]string(nil), header...),
		cols:    make(map[string][]string, len(header)),
		rows:    len(rows),
	}
	for i, name := range t.Columns {
		col := make([]string, len(rows))
		for j, row := range rows {
			if i < len(row) {
				col[j] = strings.TrimSpace(row[i])
			}
		}
		t.cols[name] = col
	}
	return t
}

// Len returns the number of data rows.
func (t *Table) Len() int { return t.rows }

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]string, error) {
	col, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("dataset: no column %q", name)
	}
	return col, nil
}

// HasColumn reports whether the exact column name exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Distinct returns the distinct non-empty values of a column in
// first-appearance order.
func (t *Table) Distinct(name string) ([]string, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range col {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// Sample returns up to n leading rows as column-name → value maps. Used to
// validate computed expressions before they are accepted.
func (t *Table) Sample(n int) []map[string]string {
	if n < 0 {
		n = 0
	}
	if n > t.rows {
		n = t.rows
	}
	out := make([]map[string]string, n)
	for i := 0; i < n; i++ {
		row := make(map[string]string, len(t.Columns))
		for _, name := range t.Columns {
			row[name] = t.cols[name][i]
		}
		out[i] = row
	}
	return out
}
