// Package sqlbulk runs bulk Insert, Update, Upsert and Delete operations over
// a dialect.Driver. Each operation validates its whole input, splits it into
// chunks that respect the dialect limits, renders one statement per chunk and
// executes the chunks in order.
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//	    return err
//	}
//	client, err := sqlbulk.NewClient(ctx, drv, sqlbulk.WithComment("nightly-import"))
//	if err != nil {
//	    return err
//	}
//	res, err := client.Upsert(ctx, "forecasts", batch, []string{"id"})
//
// Update, Upsert and Delete run all of their chunks in one transaction.
// Insert chunks run independently unless the client is bound to a transaction
// with Client.Tx, so a failed Insert may leave earlier chunks committed.
package sqlbulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syssam/bulksql"
	"github.com/syssam/bulksql/dialect"
	"github.com/syssam/bulksql/dialect/sql"
)

// Option configures a Client.
type Option func(*config)

type config struct {
	desc      *dialect.Descriptor
	logger    *slog.Logger
	verbose   bool
	log       func(ctx context.Context, query string, args []any)
	comment   func(ctx context.Context) string
	storage   *time.Location
	read      *time.Location
	cacheSize int
}

// WithDescriptor skips dialect resolution and uses d.
func WithDescriptor(d *dialect.Descriptor) Option {
	return func(c *config) {
		c.desc = d
	}
}

// WithLogger sets the logger receiving one record per statement.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithVerbose logs statements at info level instead of debug.
func WithVerbose() Option {
	return func(c *config) {
		c.verbose = true
	}
}

// WithLog sets a function called once per statement, with its final text.
func WithLog(fn func(ctx context.Context, query string, args []any)) Option {
	return func(c *config) {
		c.log = fn
	}
}

// WithComment appends a constant comment to every statement.
func WithComment(comment string) Option {
	return WithCommentFunc(func(context.Context) string { return comment })
}

// WithCommentFunc appends the comment returned by fn to every statement.
// fn is called once per statement.
func WithCommentFunc(fn func(ctx context.Context) string) Option {
	return func(c *config) {
		c.comment = fn
	}
}

// WithStorageLocation sets the zone timestamps are written in. Default is UTC.
func WithStorageLocation(loc *time.Location) Option {
	return func(c *config) {
		c.storage = loc
	}
}

// WithReadLocation sets the zone timestamps are read in. Default is time.Local.
func WithReadLocation(loc *time.Location) Option {
	return func(c *config) {
		c.read = loc
	}
}

// WithStatementCache caches the rendered text of up to size statement shapes.
func WithStatementCache(size int) Option {
	return func(c *config) {
		c.cacheSize = size
	}
}

// Client runs bulk operations against one driver. It is safe for concurrent
// use; every operation is a sequential logical call.
type Client struct {
	config
	drv     dialect.Driver
	tx      dialect.Tx
	coercer *sql.Coercer
	cache   *sql.StatementCache
}

// NewClient returns a client for drv. The dialect is resolved from
// drv.Dialect() and, when drv implements dialect.VersionReporter, the server
// version.
func NewClient(ctx context.Context, drv dialect.Driver, opts ...Option) (*Client, error) {
	c := &Client{drv: drv}
	for _, opt := range opts {
		opt(&c.config)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.desc == nil {
		var ropts []dialect.ResolveOption
		if vr, ok := drv.(dialect.VersionReporter); ok {
			v, err := vr.ServerVersion(ctx)
			if err != nil {
				return nil, sql.ClassifyError("version", err)
			}
			ropts = append(ropts, dialect.WithVersion(v))
		}
		d, err := dialect.Resolve(drv.Dialect(), ropts...)
		if err != nil {
			return nil, err
		}
		c.desc = d
	}
	c.coercer = sql.NewCoercer(c.desc, sql.StorageLocation(c.storage), sql.ReadLocation(c.read))
	if c.cacheSize > 0 {
		cache, err := sql.NewStatementCache(c.cacheSize)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	c.logger.Debug("bulksql client ready",
		"dialect", c.desc.Name,
		"version", c.desc.Version.String(),
		"max_params", c.desc.MaxParams,
		"upsert", c.desc.NativeUpsert,
		"returning", c.desc.Returning,
	)
	return c, nil
}

// Descriptor returns the resolved dialect descriptor.
func (c *Client) Descriptor() *dialect.Descriptor { return c.desc }

// Cache returns the statement text cache, or nil when disabled.
func (c *Client) Cache() *sql.StatementCache { return c.cache }

// Close closes the underlying driver.
func (c *Client) Close() error { return c.drv.Close() }

// ErrTxStarted is returned when Tx is called on a transactional client.
var ErrTxStarted = errors.New("sqlbulk: cannot start a transaction within a transaction")

// Tx returns a client bound to a new transaction. Its operations never open
// transactions of their own; the caller commits or rolls back.
func (c *Client) Tx(ctx context.Context) (*Tx, error) {
	if c.tx != nil {
		return nil, ErrTxStarted
	}
	tx, err := c.drv.Tx(ctx)
	if err != nil {
		return nil, sql.ClassifyError("begin", err)
	}
	cc := *c
	cc.tx = tx
	return &Tx{Client: &cc}, nil
}

// Tx is a Client bound to a transaction.
type Tx struct {
	*Client
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	if err := tx.tx.Commit(); err != nil {
		return sql.ClassifyError("commit", err)
	}
	return nil
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error {
	if err := tx.tx.Rollback(); err != nil {
		return sql.ClassifyError("rollback", err)
	}
	return nil
}

// WithTx runs fn within a transaction. The transaction is rolled back if fn
// returns an error or panics, and committed otherwise.
func WithTx(ctx context.Context, client *Client, fn func(tx *Tx) error) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return &bulksql.RollbackError{Err: err, Rollback: rerr}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// conn returns the ambient transaction, or the driver.
func (c *Client) conn() dialect.ExecQuerier {
	if c.tx != nil {
		return c.tx
	}
	return c.drv
}

// atomic runs fn in the ambient transaction, or in a new one that is
// committed on success and rolled back on failure.
func (c *Client) atomic(ctx context.Context, fn func(dialect.ExecQuerier) error) error {
	if c.tx != nil {
		return fn(c.tx)
	}
	tx, err := c.drv.Tx(ctx)
	if err != nil {
		return sql.ClassifyError("begin", err)
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return &bulksql.RollbackError{Err: err, Rollback: rerr}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return sql.ClassifyError("commit", err)
	}
	return nil
}

// prepare appends the comment and logs the statement.
func (c *Client) prepare(ctx context.Context, st sql.Statement) sql.Statement {
	if c.comment != nil {
		st.Query = sql.AppendComment(st.Query, c.comment(ctx))
	}
	if c.log != nil {
		c.log(ctx, st.Query, st.Args)
	}
	level := slog.LevelDebug
	if c.verbose {
		level = slog.LevelInfo
	}
	c.logger.Log(ctx, level, "bulksql statement", "dialect", c.desc.Name, "sql", st.Query, "params", len(st.Args))
	return st
}

// exec runs a statement and returns the rows it affected. Drivers not
// reporting affected rows count as zero.
func (c *Client) exec(ctx context.Context, conn dialect.ExecQuerier, st sql.Statement) (int64, error) {
	st = c.prepare(ctx, st)
	var res sql.Result
	if err := conn.Exec(ctx, st.Query, st.Args, &res); err != nil {
		return 0, sql.ClassifyError("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// query runs a statement and reads all of its rows.
func (c *Client) query(ctx context.Context, conn dialect.ExecQuerier, st sql.Statement) (*bulksql.Batch, error) {
	st = c.prepare(ctx, st)
	var rows sql.Rows
	if err := conn.Query(ctx, st.Query, st.Args, &rows); err != nil {
		return nil, sql.ClassifyError("query", err)
	}
	defer rows.Close()
	b, err := c.coercer.ScanBatch(rows)
	if err != nil {
		return nil, sql.ClassifyError("query", err)
	}
	return b, nil
}
