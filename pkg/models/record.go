// Package models provides the value types shared by the engine, the loader,
// the transformation engine and the duplicate detector.
package models

import "sort"

// Row is one keyed record: a result row or an in-process record handed to the
// loader. Values are whatever the engine driver produced or the caller supplied.
type Row = map[string]interface{}

// Column describes one result column.
type Column struct {
	// Name is the column name as returned by the engine
	Name string `json:"name"`

	// Type is the engine type name (VARCHAR, DOUBLE, TIMESTAMP, ...)
	Type string `json:"type"`

	// Nullable is reported by DESCRIBE; result sets leave it true
	Nullable bool `json:"nullable"`
}

// QueryResult is a materialized result set.
type QueryResult struct {
	Rows     []Row    `json:"rows"`
	Columns  []Column `json:"columns"`
	RowCount int      `json:"row_count"`
}

// Empty returns a result with no rows and no columns.
func Empty() *QueryResult {
	return &QueryResult{Rows: []Row{}, Columns: []Column{}}
}

// ColumnNames returns the names of the result columns in order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the result contains a column named name.
func (r *QueryResult) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Keys returns the union of keys across rows in first-seen order.
func Keys(rows []Row) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, row := range rows {
		// map iteration order is random; sort per row so the union is stable
		rowKeys := make([]string, 0, len(row))
		for k := range row {
			if _, ok := seen[k]; !ok {
				rowKeys = append(rowKeys, k)
			}
		}
		sort.Strings(rowKeys)
		for _, k := range rowKeys {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// Chunk splits rows into consecutive batches of at most size rows.
func Chunk(rows []Row, size int) [][]Row {
	if size <= 0 || len(rows) <= size {
		if len(rows) == 0 {
			return nil
		}
		return [][]Row{rows}
	}
	batches := make([][]Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}
