package sqlbulk

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/bulksql"
	"github.com/syssam/bulksql/dialect"
	"github.com/syssam/bulksql/dialect/sql"
)

// OpOption configures a single operation.
type OpOption func(*opConfig)

type opConfig struct {
	batchSize int
	returning []string
	wantRows  bool
}

// BatchSize caps the number of rows per statement. Zero means unbounded.
func BatchSize(n int) OpOption {
	return func(o *opConfig) {
		o.batchSize = n
	}
}

// Returning requests the written rows of Insert and Upsert. Without columns
// all columns are returned. Dialects lacking RETURNING echo the input rows on
// Insert and read the rows back by key on Upsert.
func Returning(columns ...string) OpOption {
	return func(o *opConfig) {
		o.wantRows = true
		o.returning = columns
	}
}

func newOpConfig(opts []OpOption) *opConfig {
	o := &opConfig{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result is the aggregated outcome of one operation.
type Result struct {
	// RowsAffected sums the counts reported by the driver for every statement.
	RowsAffected int64
	// Statements is the number of statements executed.
	Statements int
	// Rows holds the returned rows, in input order, when Returning was requested.
	Rows *bulksql.Batch
}

func (r *Result) addRows(b *bulksql.Batch) {
	if r.Rows == nil {
		r.Rows = bulksql.NewBatch(b.Columns...)
	}
	r.Rows.Rows = append(r.Rows.Rows, b.Rows...)
}

// validate checks the table, the batch shape, its identifiers and the key
// columns. keys is nil for operations without a where-key set.
func validate(table string, batch *bulksql.Batch, keys []string) error {
	if err := sql.ValidateTable(table); err != nil {
		return err
	}
	if batch != nil && len(batch.Columns) == 0 && batch.Len() == 0 {
		return nil
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	if err := sql.ValidateColumns(batch.Columns...); err != nil {
		return err
	}
	if keys == nil {
		return nil
	}
	if len(keys) == 0 {
		return bulksql.NewSchemaMismatchError(-1, "no where columns")
	}
	if err := sql.ValidateColumns(keys...); err != nil {
		return err
	}
	for i, k := range keys {
		if batch.ColumnIndex(k) < 0 {
			return bulksql.NewSchemaMismatchError(-1, "where column %q is not a batch column", k)
		}
		if slices.Contains(keys[:i], k) {
			return bulksql.NewSchemaMismatchError(-1, "duplicate where column %q", k)
		}
	}
	return nil
}

// overhead estimates the row independent text of an insert or upsert.
func overhead(table string, columns []string) int {
	n := 64 + len(table)
	for _, c := range columns {
		n += 2*len(c) + 24
	}
	return n
}

// Insert writes the batch with multi-row INSERT statements, in input order.
// Without an ambient transaction every chunk commits on its own; on failure
// the returned Result counts the chunks already written.
func (c *Client) Insert(ctx context.Context, table string, batch *bulksql.Batch, opts ...OpOption) (*Result, error) {
	o := newOpConfig(opts)
	if err := validate(table, batch, nil); err != nil {
		return nil, err
	}
	if err := c.checkReturning(batch, o); err != nil {
		return nil, err
	}
	res := &Result{}
	if batch.Len() == 0 {
		return res, nil
	}
	rows, err := c.coercer.Rows(batch.Columns, batch.Rows)
	if err != nil {
		return nil, err
	}
	b, err := sql.NewBatcher(c.desc, len(batch.Columns),
		sql.BatchSize(o.batchSize), sql.Overhead(overhead(table, batch.Columns)))
	if err != nil {
		return nil, err
	}
	native := o.wantRows && c.desc.Returning
	conn := c.conn()
	for _, chunk := range b.Chunks(rows) {
		ib := sql.Dialect(c.desc).Insert(table).Columns(batch.Columns...).Rows(chunk).Cache(c.cache)
		if native {
			ib.Returning(returningColumns(o)...)
		}
		stmts, err := ib.Statements()
		if err != nil {
			return res, err
		}
		if native {
			out, err := c.query(ctx, conn, stmts[0])
			if err != nil {
				return res, err
			}
			res.Statements++
			res.RowsAffected += int64(out.Len())
			res.addRows(out)
			continue
		}
		n, err := c.exec(ctx, conn, stmts[0])
		if err != nil {
			return res, err
		}
		res.Statements++
		res.RowsAffected += n
	}
	if o.wantRows && !native {
		echo := &bulksql.Batch{Columns: batch.Columns, Rows: rows}
		if len(o.returning) > 0 {
			if echo, err = echo.Project(o.returning...); err != nil {
				return res, err
			}
		}
		res.Rows = echo
	}
	return res, nil
}

// checkReturning validates the returning columns. Echoed rows can only hold
// batch columns.
func (c *Client) checkReturning(batch *bulksql.Batch, o *opConfig) error {
	if !o.wantRows || len(o.returning) == 0 {
		return nil
	}
	if err := sql.ValidateColumns(o.returning...); err != nil {
		return err
	}
	if c.desc.Returning || batch == nil {
		return nil
	}
	for _, col := range o.returning {
		if batch.ColumnIndex(col) < 0 {
			return &bulksql.UnsupportedOperationError{Dialect: c.desc.Name, Op: fmt.Sprintf("returning column %q not in the batch", col)}
		}
	}
	return nil
}

func returningColumns(o *opConfig) []string {
	if len(o.returning) == 0 {
		return []string{"*"}
	}
	return o.returning
}

// Update sets the non-key columns of the rows matching each row's whereCols
// values. All chunks run in one transaction.
func (c *Client) Update(ctx context.Context, table string, batch *bulksql.Batch, whereCols []string, opts ...OpOption) (*Result, error) {
	o := newOpConfig(opts)
	if whereCols == nil {
		whereCols = []string{}
	}
	if err := validate(table, batch, whereCols); err != nil {
		return nil, err
	}
	if err := c.desc.CheckWrite("update"); err != nil {
		return nil, err
	}
	res := &Result{}
	set := len(batch.Columns) - len(whereCols)
	if batch.Len() == 0 || set == 0 {
		return res, nil
	}
	rows, err := c.coercer.Rows(batch.Columns, batch.Rows)
	if err != nil {
		return nil, err
	}
	var rowText int
	if c.desc.Update == dialect.UpdateCase {
		for _, k := range whereCols {
			rowText += set * (len(k) + 12)
		}
		rowText += set * 12
	}
	b, err := sql.NewBatcher(c.desc, sql.ParamsPerRow(c.desc, len(batch.Columns), len(whereCols)),
		sql.BatchSize(o.batchSize), sql.Overhead(overhead(table, batch.Columns)), sql.RowOverhead(rowText))
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, func(conn dialect.ExecQuerier) error {
		for _, chunk := range b.Chunks(rows) {
			stmts, err := sql.Dialect(c.desc).Update(table).
				Columns(batch.Columns...).
				Where(whereCols...).
				Rows(chunk).
				Statements()
			if err != nil {
				return err
			}
			for _, st := range stmts {
				n, err := c.exec(ctx, conn, st)
				if err != nil {
					return err
				}
				res.Statements++
				res.RowsAffected += n
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Upsert inserts the rows, updating the non-key columns of rows that conflict
// on whereCols. whereCols must be covered by a unique index or primary key;
// the database error is returned otherwise. All chunks run in one transaction.
func (c *Client) Upsert(ctx context.Context, table string, batch *bulksql.Batch, whereCols []string, opts ...OpOption) (*Result, error) {
	o := newOpConfig(opts)
	if whereCols == nil {
		whereCols = []string{}
	}
	if err := validate(table, batch, whereCols); err != nil {
		return nil, err
	}
	if err := c.desc.CheckUpsert(); err != nil {
		return nil, err
	}
	if o.wantRows && len(o.returning) > 0 {
		if err := sql.ValidateColumns(o.returning...); err != nil {
			return nil, err
		}
	}
	res := &Result{}
	if batch.Len() == 0 {
		return res, nil
	}
	rows, err := c.coercer.Rows(batch.Columns, batch.Rows)
	if err != nil {
		return nil, err
	}
	b, err := sql.NewBatcher(c.desc, len(batch.Columns),
		sql.BatchSize(o.batchSize), sql.Overhead(overhead(table, batch.Columns)))
	if err != nil {
		return nil, err
	}
	keyIdx := make([]int, len(whereCols))
	for i, k := range whereCols {
		keyIdx[i] = batch.ColumnIndex(k)
	}
	native := o.wantRows && c.desc.Returning
	err = c.atomic(ctx, func(conn dialect.ExecQuerier) error {
		for _, chunk := range b.Chunks(rows) {
			ib := sql.Dialect(c.desc).Insert(table).
				Columns(batch.Columns...).
				Rows(chunk).
				OnConflict(whereCols...).
				Cache(c.cache)
			if native {
				ib.Returning(returningColumns(o)...)
			}
			stmts, err := ib.Statements()
			if err != nil {
				return err
			}
			if native {
				out, err := c.query(ctx, conn, stmts[0])
				if err != nil {
					return err
				}
				res.Statements++
				res.RowsAffected += int64(out.Len())
				res.addRows(out)
				continue
			}
			n, err := c.exec(ctx, conn, stmts[0])
			if err != nil {
				return err
			}
			res.Statements++
			res.RowsAffected += n
			if o.wantRows {
				out, err := c.readBack(ctx, conn, table, whereCols, keyIdx, chunk, o)
				if err != nil {
					return err
				}
				res.Statements++
				res.addRows(out)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// readBack selects the rows of chunk by key and orders them as in chunk.
func (c *Client) readBack(ctx context.Context, conn dialect.ExecQuerier, table string, keys []string, keyIdx []int, chunk [][]any, o *opConfig) (*bulksql.Batch, error) {
	keyRows := make([][]any, len(chunk))
	for i, r := range chunk {
		kr := make([]any, len(keyIdx))
		for j, k := range keyIdx {
			kr[j] = r[k]
		}
		keyRows[i] = kr
	}
	q, args := sql.Dialect(c.desc).Select("*").From(table).Where(keys...).Rows(keyRows).Query()
	out, err := c.query(ctx, conn, sql.Statement{Query: q, Args: args})
	if err != nil {
		return nil, err
	}
	outIdx := make([]int, len(keys))
	for j, k := range keys {
		if outIdx[j] = out.ColumnIndex(k); outIdx[j] < 0 {
			return nil, bulksql.NewSchemaMismatchError(-1, "where column %q missing from %s", k, table)
		}
	}
	byKey := make(map[string][]any, out.Len())
	for _, r := range out.Rows {
		byKey[keyString(r, outIdx)] = r
	}
	ordered := bulksql.NewBatch(out.Columns...)
	for _, kr := range keyRows {
		if r, ok := byKey[keyString(kr, nil)]; ok {
			ordered.Append(r...)
		}
	}
	if len(o.returning) > 0 {
		return ordered.Project(o.returning...)
	}
	return ordered, nil
}

// keyString renders the values at idx (all values when idx is nil) as a map
// key comparable across written and scanned representations.
func keyString(row []any, idx []int) string {
	var b strings.Builder
	part := func(v any) {
		switch v := v.(type) {
		case nil:
			b.WriteString("\x00null")
		case []byte:
			b.Write(v)
		case string:
			b.WriteString(v)
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		case time.Time:
			b.WriteString(v.UTC().Format(time.RFC3339Nano))
		default:
			fmt.Fprint(&b, v)
		}
		b.WriteByte(0)
	}
	if idx == nil {
		for _, v := range row {
			part(v)
		}
		return b.String()
	}
	for _, i := range idx {
		part(row[i])
	}
	return b.String()
}

// Delete removes the rows matching the key rows of where, whose columns form
// the where-key set. A nil where removes every row of the table, with
// TRUNCATE where the dialect has it; an empty where removes nothing. All
// chunks run in one transaction.
func (c *Client) Delete(ctx context.Context, table string, where *bulksql.Batch, opts ...OpOption) (*Result, error) {
	o := newOpConfig(opts)
	if err := sql.ValidateTable(table); err != nil {
		return nil, err
	}
	if err := c.desc.CheckWrite("delete"); err != nil {
		return nil, err
	}
	res := &Result{}
	if where == nil {
		stmts, err := sql.Dialect(c.desc).Delete(table).Statements()
		if err != nil {
			return nil, err
		}
		err = c.atomic(ctx, func(conn dialect.ExecQuerier) error {
			n, err := c.exec(ctx, conn, stmts[0])
			if err != nil {
				return err
			}
			res.Statements++
			res.RowsAffected = n
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	if err := validate(table, where, nil); err != nil {
		return nil, err
	}
	if where.Len() == 0 {
		return res, nil
	}
	rows, err := c.coercer.Rows(where.Columns, where.Rows)
	if err != nil {
		return nil, err
	}
	b, err := sql.NewBatcher(c.desc, len(where.Columns),
		sql.BatchSize(o.batchSize), sql.Overhead(overhead(table, where.Columns)))
	if err != nil {
		return nil, err
	}
	err = c.atomic(ctx, func(conn dialect.ExecQuerier) error {
		for _, chunk := range b.Chunks(rows) {
			stmts, err := sql.Dialect(c.desc).Delete(table).
				Where(where.Columns...).
				Rows(chunk).
				Cache(c.cache).
				Statements()
			if err != nil {
				return err
			}
			n, err := c.exec(ctx, conn, stmts[0])
			if err != nil {
				return err
			}
			res.Statements++
			res.RowsAffected += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Select runs a raw query and returns its rows. Arguments are coerced like
// written values.
func (c *Client) Select(ctx context.Context, query string, args ...any) (*bulksql.Batch, error) {
	argv := make([]any, len(args))
	for i, a := range args {
		v, err := c.coercer.Value("$"+strconv.Itoa(i+1), a)
		if err != nil {
			return nil, err
		}
		argv[i] = v
	}
	return c.query(ctx, c.conn(), sql.Statement{Query: query, Args: argv})
}
