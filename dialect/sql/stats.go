package sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/bulksql/dialect"
)

// QueryStats holds statement execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// RowsAffected sums the rows affected reported for exec statements.
	RowsAffected atomic.Int64
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of statement errors.
	Errors atomic.Int64
	// Commits and Rollbacks count finished transactions.
	Commits   atomic.Int64
	Rollbacks atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		RowsAffected:  s.RowsAffected.Load(),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
		Commits:       s.Commits.Load(),
		Rollbacks:     s.Rollbacks.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.RowsAffected.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
	s.Commits.Store(0)
	s.Rollbacks.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of statement statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	RowsAffected  int64
	SlowQueries   int64
	Errors        int64
	Commits       int64
	Rollbacks     int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d rows=%d duration=%s avg=%s slow=%d errors=%d commits=%d rollbacks=%d",
		s.TotalQueries, s.TotalExecs, s.RowsAffected, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors, s.Commits, s.Rollbacks,
	)
}

// LogValue implements slog.LogValuer.
func (s StatsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("queries", s.TotalQueries),
		slog.Int64("execs", s.TotalExecs),
		slog.Int64("rows", s.RowsAffected),
		slog.Duration("duration", s.TotalDuration),
		slog.Int64("slow", s.SlowQueries),
		slog.Int64("errors", s.Errors),
	)
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver wraps a dialect.Driver with statistics collection.
type StatsDriver struct {
	dialect.Driver
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to the given logger, or to the
// default logger when nil.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		logger.WarnContext(ctx, "slow statement detected", "duration", duration, "query", query, "args", len(args))
	})
}

// NewStatsDriver wraps a Driver with statistics collection.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	statsDriver := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(nil),
//	)
//	client, _ := sqlbulk.NewClient(ctx, statsDriver)
//
//	// Later, check statistics:
//	fmt.Println(statsDriver.QueryStats().Stats())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// ServerVersion implements dialect.VersionReporter when the wrapped driver does.
func (d *StatsDriver) ServerVersion(ctx context.Context) (string, error) {
	if vr, ok := d.Driver.(dialect.VersionReporter); ok {
		return vr.ServerVersion(ctx)
	}
	return "", nil
}

// Query executes a query and records statistics.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, args, start, err, true)
	return err
}

// Exec executes a statement and records statistics.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, args, start, err, false)
	if err == nil {
		d.affected(v)
	}
	return err
}

func (d *StatsDriver) affected(v any) {
	res, ok := v.(*sql.Result)
	if !ok || res == nil || *res == nil {
		return
	}
	if n, err := (*res).RowsAffected(); err == nil {
		d.stats.RowsAffected.Add(n)
	}
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		d.stats.Errors.Add(1)
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.SlowQueries.Add(1)
		if hook != nil {
			argsSlice, _ := args.([]any)
			hook(ctx, query, argsSlice, duration)
		}
	}
}

// Tx starts a transaction that also records statistics.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx wraps a transaction with statistics collection.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

// Query executes a query within the transaction and records statistics.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.record(ctx, query, args, start, err, true)
	return err
}

// Exec executes a statement within the transaction and records statistics.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.record(ctx, query, args, start, err, false)
	if err == nil {
		tx.driver.affected(v)
	}
	return err
}

// Commit commits the transaction and counts it.
func (tx *StatsTx) Commit() error {
	err := tx.Tx.Commit()
	if err == nil {
		tx.driver.stats.Commits.Add(1)
	}
	return err
}

// Rollback rolls back the transaction and counts it.
func (tx *StatsTx) Rollback() error {
	tx.driver.stats.Rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver wraps a Driver with debug logging of every statement and
// transaction boundary.
type DebugDriver struct {
	dialect.Driver
	logger *slog.Logger
}

// NewDebugDriver wraps a Driver with debug logging to logger, or to the
// default logger when nil.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	client, _ := sqlbulk.NewClient(ctx, sql.NewDebugDriver(drv, logger))
func NewDebugDriver(drv dialect.Driver, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Driver: drv, logger: logger}
}

// ServerVersion implements dialect.VersionReporter when the wrapped driver does.
func (d *DebugDriver) ServerVersion(ctx context.Context) (string, error) {
	if vr, ok := d.Driver.(dialect.VersionReporter); ok {
		return vr.ServerVersion(ctx)
	}
	return "", nil
}

// Query executes a query and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec executes a statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "exec", "sql", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx starts a transaction with debug logging.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.logger.DebugContext(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, logger: d.logger}, nil
}

// DebugTx wraps a transaction with debug logging.
type DebugTx struct {
	dialect.Tx
	logger *slog.Logger
}

// Query executes a query within the transaction and logs it.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "tx query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

// Exec executes a statement within the transaction and logs it.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "tx exec", "sql", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

// Commit commits the transaction and logs it.
func (tx *DebugTx) Commit() error {
	tx.logger.Debug("commit transaction")
	return tx.Tx.Commit()
}

// Rollback rolls back the transaction and logs it.
func (tx *DebugTx) Rollback() error {
	tx.logger.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

// Ensure interfaces are implemented.
var (
	_ dialect.Driver          = (*StatsDriver)(nil)
	_ dialect.Tx              = (*StatsTx)(nil)
	_ dialect.VersionReporter = (*StatsDriver)(nil)
	_ dialect.Driver          = (*DebugDriver)(nil)
	_ dialect.Tx              = (*DebugTx)(nil)
	_ dialect.VersionReporter = (*DebugDriver)(nil)
)
