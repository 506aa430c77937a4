package sql

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/syssam/bulksql/dialect"
)

// ErrTooManyColumns is returned when a single row needs more bind parameters
// than the dialect allows in one statement.
var ErrTooManyColumns = errors.New("dialect/sql: row exceeds the dialect parameter limit")

// Batcher splits rows into contiguous chunks whose statements stay within the
// parameter and size limits of a dialect.
type Batcher struct {
	d            *dialect.Descriptor
	paramsPerRow int
	batchSize    int
	overhead     int
	rowOverhead  int
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// BatchSize caps the number of rows per chunk. Zero or negative means unbounded.
func BatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		b.batchSize = max(n, 0)
	}
}

// Overhead sets the estimated size in bytes of the statement text that does
// not depend on the rows (the INSERT prefix, conflict clause and so on).
func Overhead(n int) BatcherOption {
	return func(b *Batcher) {
		b.overhead = max(n, 0)
	}
}

// RowOverhead sets the estimated statement text each row adds on top of its
// placeholders, such as the WHEN clauses of a CASE update.
func RowOverhead(n int) BatcherOption {
	return func(b *Batcher) {
		b.rowOverhead = max(n, 0)
	}
}

// NewBatcher returns a Batcher for rows binding paramsPerRow parameters each.
func NewBatcher(d *dialect.Descriptor, paramsPerRow int, opts ...BatcherOption) (*Batcher, error) {
	if paramsPerRow <= 0 {
		return nil, fmt.Errorf("dialect/sql: invalid parameters per row %d", paramsPerRow)
	}
	if paramsPerRow > d.MaxParams {
		return nil, fmt.Errorf("%w: %d parameters per row, %s allows %d", ErrTooManyColumns, paramsPerRow, d.Name, d.MaxParams)
	}
	b := &Batcher{d: d, paramsPerRow: paramsPerRow}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// MaxRows returns the row cap of a chunk from the batch size and the
// parameter limit alone.
func (b *Batcher) MaxRows() int {
	n := b.d.MaxParams / b.paramsPerRow
	if b.batchSize > 0 {
		n = min(n, b.batchSize)
	}
	return n
}

// Chunks yields the offset of the first row of each chunk together with the
// chunk. A chunk closes when the next row would exceed the row cap or the
// estimated statement size; it always holds at least one row.
func (b *Batcher) Chunks(rows [][]any) iter.Seq2[int, [][]any] {
	return func(yield func(int, [][]any) bool) {
		maxRows := b.MaxRows()
		start, size := 0, b.overhead
		for i, r := range rows {
			rs := b.RowBytes(r)
			if n := i - start; n > 0 && (n >= maxRows || size+rs > b.d.MaxStatementBytes) {
				if !yield(start, rows[start:i:i]) {
					return
				}
				start, size = i, b.overhead
			}
			size += rs
		}
		if start < len(rows) {
			yield(start, rows[start:len(rows):len(rows)])
		}
	}
}

// Split collects all chunks.
func (b *Batcher) Split(rows [][]any) [][][]any {
	var chunks [][][]any
	for _, c := range b.Chunks(rows) {
		chunks = append(chunks, c)
	}
	return chunks
}

// RowBytes estimates the bytes a row adds to a statement: its placeholder
// text plus the payload of its values.
func (b *Batcher) RowBytes(row []any) int {
	// "(" + ")" + ", " between rows, and ", " between placeholders.
	n := 4 + b.rowOverhead + b.paramsPerRow*(len(b.d.Bind(b.d.MaxParams))+2)
	for _, v := range row {
		n += valueBytes(v)
	}
	return n
}

func valueBytes(v any) int {
	switch v := v.(type) {
	case nil:
		return 4
	case string:
		return len(v)
	case []byte:
		return len(v)
	case time.Time:
		return 26
	case bool:
		return 1
	default:
		return 8
	}
}
