// Package runner executes configured bulk jobs with a sqlbulk client.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/bulksql"
	"github.com/syssam/bulksql/dialect/sql/sqlbulk"
	"github.com/syssam/bulksql/internal/config"
	"github.com/syssam/bulksql/internal/load"
)

type jobKey struct{}

// WithJob returns a context carrying the job name.
func WithJob(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobKey{}, name)
}

// JobName returns the job name carried by ctx, if any.
func JobName(ctx context.Context) string {
	name, _ := ctx.Value(jobKey{}).(string)
	return name
}

// Runner runs the jobs of a configuration.
type Runner struct {
	client *sqlbulk.Client
	cfg    *config.Config
	logger *slog.Logger

	mu  sync.Mutex // guards out
	out io.Writer
}

// New returns a Runner. Rows returned by jobs are written to out as JSON
// lines.
func New(client *sqlbulk.Client, cfg *config.Config, logger *slog.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, cfg: cfg, logger: logger, out: out}
}

// Select returns the jobs named by names, in configuration order, or every
// job when names is empty.
func Select(jobs []config.Job, names ...string) ([]config.Job, error) {
	if len(names) == 0 {
		return jobs, nil
	}
	for _, n := range names {
		if !slices.ContainsFunc(jobs, func(j config.Job) bool { return j.Name == n }) {
			return nil, fmt.Errorf("unknown job %q", n)
		}
	}
	var selected []config.Job
	for _, j := range jobs {
		if slices.Contains(names, j.Name) {
			selected = append(selected, j)
		}
	}
	return selected, nil
}

// Run runs the selected jobs, at most cfg.Concurrency at a time. Every job
// is a single sequential bulk operation. Failures are collected into one
// error; with FailFast the jobs not yet started are skipped.
func (r *Runner) Run(ctx context.Context, names ...string) error {
	jobs, err := Select(r.cfg.Jobs, names...)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Concurrency, 1))
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				r.logger.Warn("job skipped", "job", job.Name)
				return nil
			}
			if _, err := r.RunJob(gctx, job); err != nil {
				errs[i] = fmt.Errorf("job %s: %w", job.Name, err)
				if r.cfg.FailFast {
					return errs[i]
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return bulksql.NewAggregateError(errs...)
}

// RunJob loads the job input and runs its operation.
func (r *Runner) RunJob(ctx context.Context, job config.Job) (*sqlbulk.Result, error) {
	ctx = WithJob(ctx, job.Name)
	if r.cfg.Database.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Database.Timeout)
		defer cancel()
	}
	logger := r.logger.With("job", job.Name, "table", job.Table, "operation", string(job.Operation))
	start := time.Now()

	var batch *bulksql.Batch
	if job.Operation != config.OpDeleteAll {
		b, err := Input(job)
		if err != nil {
			logger.Error("job failed", "error", err)
			return nil, err
		}
		batch = b
	}
	opts := []sqlbulk.OpOption{sqlbulk.BatchSize(job.BatchSize)}
	if len(job.Returning) > 0 {
		opts = append(opts, sqlbulk.Returning(returning(job.Returning)...))
	}

	var (
		res *sqlbulk.Result
		err error
	)
	switch job.Operation {
	case config.OpInsert:
		res, err = r.client.Insert(ctx, job.Table, batch, opts...)
	case config.OpUpdate:
		res, err = r.client.Update(ctx, job.Table, batch, job.Where, opts...)
	case config.OpUpsert:
		res, err = r.client.Upsert(ctx, job.Table, batch, job.Where, opts...)
	case config.OpDelete:
		res, err = r.client.Delete(ctx, job.Table, batch, opts...)
	case config.OpDeleteAll:
		res, err = r.client.Delete(ctx, job.Table, nil, opts...)
	default:
		err = fmt.Errorf("unknown operation %q", job.Operation)
	}
	if err != nil {
		attrs := []any{"error", err, "elapsed", time.Since(start)}
		if res != nil {
			attrs = append(attrs, "statements", res.Statements, "rows", res.RowsAffected)
		}
		logger.Error("job failed", attrs...)
		return res, err
	}
	logger.Info("job finished",
		"rows", res.RowsAffected,
		"statements", res.Statements,
		"elapsed", time.Since(start),
	)
	if res.Rows != nil {
		if err := r.writeRows(job.Name, res.Rows); err != nil {
			return res, fmt.Errorf("writing returned rows: %w", err)
		}
	}
	return res, nil
}

// Input loads the job's input file. For delete jobs with where columns, the
// batch is projected onto them.
func Input(job config.Job) (*bulksql.Batch, error) {
	name, err := job.InputFormat()
	if err != nil {
		return nil, err
	}
	f, err := load.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	b, err := load.File(job.Input, f)
	if err != nil {
		return nil, err
	}
	if job.Operation == config.OpDelete && len(job.Where) > 0 && b.Len() > 0 {
		return b.Project(job.Where...)
	}
	return b, nil
}

func returning(cols []string) []string {
	if len(cols) == 1 && cols[0] == "*" {
		return nil
	}
	return cols
}

type outputRow struct {
	Job string         `json:"job"`
	Row bulksql.Record `json:"row"`
}

func (r *Runner) writeRows(job string, rows *bulksql.Batch) error {
	if r.out == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	enc := json.NewEncoder(r.out)
	for _, rec := range rows.Records() {
		if err := enc.Encode(outputRow{Job: job, Row: rec}); err != nil {
			return err
		}
	}
	return nil
}

// Plan describes a job as checked without touching the database.
type Plan struct {
	Job     config.Job
	Rows    int
	Columns []string
}

// Check loads the input of every selected job and validates its shape
// against the job's where columns.
func Check(jobs []config.Job) ([]Plan, error) {
	plans := make([]Plan, 0, len(jobs))
	var errs []error
	for _, job := range jobs {
		p := Plan{Job: job}
		if job.Operation != config.OpDeleteAll {
			b, err := Input(job)
			if err == nil && b.Len() > 0 {
				err = b.Validate()
			}
			if err == nil && job.Operation != config.OpDelete {
				for _, w := range job.Where {
					if b.ColumnIndex(w) < 0 {
						err = bulksql.NewSchemaMismatchError(-1, "where column %q is not an input column", w)
						break
					}
				}
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
				continue
			}
			p.Rows, p.Columns = b.Len(), b.Columns
		}
		plans = append(plans, p)
	}
	return plans, bulksql.NewAggregateError(errs...)
}
