// Package config holds the bulksql command configuration. Settings come from
// a YAML file, overlaid with BULKSQL_* environment variables, with defaults for
// everything except the database connection.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the command configuration.
type Config struct {
	Database Database `yaml:"database"`
	Logging  Logging  `yaml:"logging"`
	Client   Client   `yaml:"client"`

	// Concurrency bounds the number of jobs running at once (default: 1).
	Concurrency int `yaml:"concurrency" env:"BULKSQL_CONCURRENCY" default:"1"`

	// FailFast stops the remaining jobs after the first failure.
	FailFast bool `yaml:"fail_fast" env:"BULKSQL_FAIL_FAST"`

	Jobs []Job `yaml:"jobs"`
}

// Database holds connection settings.
type Database struct {
	// Driver is the database/sql driver name: postgres, pgx, mysql or sqlite.
	Driver string `yaml:"driver" env:"BULKSQL_DRIVER" required:"true"`

	// DSN is the driver data source name.
	DSN string `yaml:"dsn" env:"BULKSQL_DSN" envAlt:"DATABASE_URL" required:"true"`

	// MaxOpenConns caps the pool size (default: 4).
	MaxOpenConns int `yaml:"max_open_conns" env:"BULKSQL_MAX_OPEN_CONNS" default:"4"`

	// ConnMaxLifetime is the maximum lifetime of a pooled connection (default: 1h).
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"BULKSQL_CONN_MAX_LIFETIME" default:"1h"`

	// Timeout bounds a single job (default: 10m).
	Timeout time.Duration `yaml:"timeout" env:"BULKSQL_TIMEOUT" default:"10m"`
}

// Logging holds log output settings.
type Logging struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level" env:"BULKSQL_LOG_LEVEL" default:"info"`

	// Format is text or json (default: text).
	Format string `yaml:"format" env:"BULKSQL_LOG_FORMAT" default:"text"`

	// Verbose logs every statement at info level.
	Verbose bool `yaml:"verbose" env:"BULKSQL_VERBOSE"`

	// Trace logs every driver call, transactions included, at debug level.
	Trace bool `yaml:"trace" env:"BULKSQL_TRACE"`

	// SlowThreshold marks statements slower than this as slow (default: 1s).
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"BULKSQL_SLOW_THRESHOLD" default:"1s"`
}

// Client holds sqlbulk client settings.
type Client struct {
	// Comment is appended to every statement, followed by the run id.
	Comment string `yaml:"comment" env:"BULKSQL_COMMENT" default:"bulksql"`

	// StorageTimezone is the zone timestamps are written in (default: UTC).
	StorageTimezone string `yaml:"storage_timezone" env:"BULKSQL_STORAGE_TIMEZONE" default:"UTC"`

	// ReadTimezone is the zone timestamps are read in (default: Local).
	ReadTimezone string `yaml:"read_timezone" env:"BULKSQL_READ_TIMEZONE" default:"Local"`

	// StatementCache is the number of cached statement shapes, 0 to disable (default: 256).
	StatementCache int `yaml:"statement_cache" env:"BULKSQL_STATEMENT_CACHE" default:"256"`
}

// Locations returns the storage and read locations.
func (c Client) Locations() (storage, read *time.Location, err error) {
	if storage, err = time.LoadLocation(c.StorageTimezone); err != nil {
		return nil, nil, fmt.Errorf("storage_timezone: %w", err)
	}
	if read, err = time.LoadLocation(c.ReadTimezone); err != nil {
		return nil, nil, fmt.Errorf("read_timezone: %w", err)
	}
	return storage, read, nil
}

// Operation names a bulk operation.
type Operation string

// Operations a job can run.
const (
	OpInsert    Operation = "insert"
	OpUpdate    Operation = "update"
	OpUpsert    Operation = "upsert"
	OpDelete    Operation = "delete"
	OpDeleteAll Operation = "delete_all"
)

// Job is one bulk operation over one input file.
type Job struct {
	Name      string    `yaml:"name"`
	Table     string    `yaml:"table"`
	Operation Operation `yaml:"operation"`
	// Input is the record file. Unused by delete_all.
	Input string `yaml:"input"`
	// Format is json, ndjson, csv or msgpack. Inferred from Input when empty.
	Format string `yaml:"format"`
	// Where lists the key columns of update and upsert. For delete it
	// optionally narrows the input to the columns matched on.
	Where     []string `yaml:"where"`
	BatchSize int      `yaml:"batch_size"`
	// Returning requests the written rows of insert and upsert. A single "*"
	// returns every column.
	Returning []string `yaml:"returning"`
}

var formats = map[string]bool{"json": true, "ndjson": true, "csv": true, "msgpack": true}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Driver == "" {
		errs = append(errs, "database.driver is required")
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, "database.max_open_conns must be non-negative")
	}
	if c.Database.Timeout <= 0 {
		errs = append(errs, "database.timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if c.Client.StatementCache < 0 {
		errs = append(errs, "client.statement_cache must be non-negative")
	}
	if _, _, err := c.Client.Locations(); err != nil {
		errs = append(errs, "client."+err.Error())
	}
	if c.Concurrency <= 0 {
		errs = append(errs, "concurrency must be positive")
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		name := j.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Sprintf("job %s: name is required", name))
		} else if seen[name] {
			errs = append(errs, fmt.Sprintf("job %s: duplicate name", name))
		}
		seen[name] = true
		for _, e := range j.validate() {
			errs = append(errs, fmt.Sprintf("job %s: %s", name, e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (j Job) validate() []string {
	var errs []string
	if j.Table == "" {
		errs = append(errs, "table is required")
	}
	switch j.Operation {
	case OpInsert, OpDelete:
	case OpUpdate, OpUpsert:
		if len(j.Where) == 0 {
			errs = append(errs, fmt.Sprintf("%s requires where columns", j.Operation))
		}
	case OpDeleteAll:
		if j.Input != "" {
			errs = append(errs, "delete_all takes no input")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown operation %q", j.Operation))
	}
	if j.Operation != OpDeleteAll {
		if j.Input == "" {
			errs = append(errs, "input is required")
		} else if _, err := j.InputFormat(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if j.BatchSize < 0 {
		errs = append(errs, "batch_size must be non-negative")
	}
	if len(j.Returning) > 0 && j.Operation != OpInsert && j.Operation != OpUpsert {
		errs = append(errs, "returning is only supported by insert and upsert")
	}
	return errs
}

// InputFormat returns the configured format, or the one implied by the input
// file extension.
func (j Job) InputFormat() (string, error) {
	f := strings.ToLower(j.Format)
	if f == "" {
		switch ext := strings.ToLower(filepath.Ext(j.Input)); ext {
		case ".jsonl":
			f = "ndjson"
		case ".mpk":
			f = "msgpack"
		default:
			f = strings.TrimPrefix(ext, ".")
		}
	}
	if !formats[f] {
		return "", fmt.Errorf("unknown input format %q", f)
	}
	return f, nil
}
