package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/bulksql/dialect"
	"github.com/syssam/bulksql/dialect/sql"
	"github.com/syssam/bulksql/dialect/sql/sqlbulk"
	"github.com/syssam/bulksql/internal/config"
	"github.com/syssam/bulksql/internal/logging"
	"github.com/syssam/bulksql/internal/runner"
)

func handleRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(common.config, common.envFiles()...)
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	runID := uuid.NewString()
	logger = logger.With("run", runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, drv, err := openDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer drv.Close()

	storage, read, err := cfg.Client.Locations()
	if err != nil {
		return err
	}
	opts := []sqlbulk.Option{
		sqlbulk.WithLogger(logger),
		sqlbulk.WithStorageLocation(storage),
		sqlbulk.WithReadLocation(read),
		sqlbulk.WithStatementCache(cfg.Client.StatementCache),
		sqlbulk.WithCommentFunc(func(ctx context.Context) string {
			return fmt.Sprintf("%s run=%s job=%s", cfg.Client.Comment, runID, runner.JobName(ctx))
		}),
	}
	if cfg.Logging.Verbose {
		opts = append(opts, sqlbulk.WithVerbose())
	}
	client, err := sqlbulk.NewClient(ctx, drv, opts...)
	if err != nil {
		return err
	}
	d := client.Descriptor()
	logger.Info("connected",
		"dialect", d.Name,
		"version", d.Version.String(),
		"upsert", d.NativeUpsert,
		"returning", d.Returning,
	)

	err = runner.New(client, cfg, logger, os.Stdout).Run(ctx, fs.Args()...)
	logger.Info("run finished", "stats", stats.QueryStats().Stats())
	if c := client.Cache(); c != nil {
		hits, misses := c.Stats()
		logger.Debug("statement cache", "hits", hits, "misses", misses, "size", c.Len())
	}
	return err
}

// openDriver opens the configured database, wrapped with statistics and,
// when tracing, debug logging.
func openDriver(cfg *config.Config, logger *slog.Logger) (*sql.StatsDriver, dialect.Driver, error) {
	base, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", cfg.Database.Driver, err)
	}
	db := base.DB()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	stats := sql.NewStatsDriver(base,
		sql.WithSlowThreshold(cfg.Logging.SlowThreshold),
		sql.WithSlowQueryLog(logger),
	)
	var drv dialect.Driver = stats
	if cfg.Logging.Trace {
		drv = sql.NewDebugDriver(drv, logger)
	}
	return stats, drv, nil
}

func handleCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(common.config, common.envFiles()...)
	if err != nil {
		return err
	}
	logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	jobs, err := runner.Select(cfg.Jobs, fs.Args()...)
	if err != nil {
		return err
	}
	plans, err := runner.Check(jobs)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tOPERATION\tTABLE\tROWS\tCOLUMNS")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", p.Job.Name, p.Job.Operation, p.Job.Table, p.Rows, len(p.Columns))
	}
	if ferr := w.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}
