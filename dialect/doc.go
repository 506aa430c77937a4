// Package dialect provides database dialect abstraction for the bulk engine.
//
// This package defines the driver contracts used to execute statements and the
// Descriptor capability table each statement is rendered against.
//
// # Supported Dialects
//
//   - Postgres family: postgres, postgresql, pgx, redshift
//   - MySQL family: mysql, mariadb
//   - SQLite family: sqlite, sqlite3
//   - Generic: insert and select only, conservative limits
//
// # Descriptor
//
// A Descriptor is resolved once per connection and shared read-only:
//
//	d, err := dialect.Resolve(dialect.SQLite, dialect.WithVersion("3.45.1"))
//	if err != nil {
//	    return err // bulksql.ErrUnsupportedAdapter
//	}
//	d.Bind(1)          // "?"
//	d.Quote("events")  // `"events"`
//	d.NativeUpsert     // true from 3.24
//
// Feature gates follow the server version when known: upsert needs Postgres 9.5,
// MySQL 5.5 or SQLite 3.24; SQLite RETURNING needs 3.35 and row values 3.15.
// Unknown versions are treated as current.
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The Tx interface extends ExecQuerier with Commit and Rollback. Both Driver
// and Tx are implemented by dialect/sql over database/sql.
package dialect
