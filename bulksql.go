// Package bulksql holds the data model shared by the bulk write engine:
// records, tabular batches, table references and the error kinds returned
// by every layer.
//
// The engine itself lives in the dialect packages:
//
//   - dialect: backend names, driver contracts and the Descriptor capability table
//   - dialect/sql: statement builders, batcher, type coercion and the database/sql driver
//   - dialect/sql/sqlbulk: the client running Insert, Update, Upsert, Delete and Select
//
// A typical call:
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//	    return err
//	}
//	client, err := sqlbulk.NewClient(ctx, drv)
//	if err != nil {
//	    return err
//	}
//	batch, err := bulksql.FromRecords(
//	    bulksql.Record{"id": 2, "temperature": 20},
//	    bulksql.Record{"id": 3, "temperature": 25},
//	)
//	if err != nil {
//	    return err
//	}
//	res, err := client.Upsert(ctx, "forecasts", batch, []string{"id"})
package bulksql

import (
	"slices"
	"sort"
)

// Record maps column names to values.
type Record map[string]any

// Batch is an ordered set of rows sharing one column list.
// Rows[i][j] holds the value of Columns[j] in row i.
type Batch struct {
	Columns []string
	Rows    [][]any
}

// NewBatch returns a batch with the given columns and no rows.
func NewBatch(columns ...string) *Batch {
	return &Batch{Columns: columns}
}

// Append adds a row. The row must have one value per column.
func (b *Batch) Append(values ...any) *Batch {
	b.Rows = append(b.Rows, values)
	return b
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// ColumnIndex returns the position of the column, or -1.
func (b *Batch) ColumnIndex(name string) int {
	return slices.Index(b.Columns, name)
}

// Records returns the rows as records.
func (b *Batch) Records() []Record {
	records := make([]Record, len(b.Rows))
	for i, row := range b.Rows {
		r := make(Record, len(b.Columns))
		for j, c := range b.Columns {
			r[c] = row[j]
		}
		records[i] = r
	}
	return records
}

// Validate checks that the column list has no duplicates and that
// every row has exactly one value per column.
func (b *Batch) Validate() error {
	if b == nil {
		return NewSchemaMismatchError(-1, "nil batch")
	}
	if len(b.Columns) == 0 {
		return NewSchemaMismatchError(-1, "batch has no columns")
	}
	seen := make(map[string]struct{}, len(b.Columns))
	for _, c := range b.Columns {
		if _, ok := seen[c]; ok {
			return NewSchemaMismatchError(-1, "duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return NewSchemaMismatchError(i, "got %d values, expected %d", len(row), len(b.Columns))
		}
	}
	return nil
}

// Project returns a batch holding only the given columns, in the given order.
func (b *Batch) Project(columns ...string) (*Batch, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		if idx[i] = b.ColumnIndex(c); idx[i] < 0 {
			return nil, NewSchemaMismatchError(-1, "unknown column %q", c)
		}
	}
	p := &Batch{Columns: columns, Rows: make([][]any, len(b.Rows))}
	for i, row := range b.Rows {
		r := make([]any, len(idx))
		for j, k := range idx {
			r[j] = row[k]
		}
		p.Rows[i] = r
	}
	return p, nil
}

// FromRecords builds a batch from records that all share the same column set.
// Columns are sorted by name so the result does not depend on map iteration order.
func FromRecords(records ...Record) (*Batch, error) {
	if len(records) == 0 {
		return &Batch{}, nil
	}
	columns := make([]string, 0, len(records[0]))
	for c := range records[0] {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	b := &Batch{Columns: columns, Rows: make([][]any, len(records))}
	for i, r := range records {
		if len(r) != len(columns) {
			return nil, NewSchemaMismatchError(i, "got %d columns, expected %d", len(r), len(columns))
		}
		row := make([]any, len(columns))
		for j, c := range columns {
			v, ok := r[c]
			if !ok {
				return nil, NewSchemaMismatchError(i, "missing column %q", c)
			}
			row[j] = v
		}
		b.Rows[i] = row
	}
	return b, nil
}
