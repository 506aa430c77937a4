// Package sql provides the statement builders, batcher and type coercion of
// the bulk write engine, and a dialect.Driver over database/sql.
//
// # Builder Types
//
// Builders render one dialect's SQL with bound parameters. Values are never
// interpolated; identifiers are validated and quoted.
//
//   - Builder: low-level string builder with identifier quoting and placeholder numbering
//   - InsertBuilder: multi-row INSERT, with RETURNING and conflict clauses
//   - UpdateBuilder: keyed multi-row UPDATE, one statement per row or one CASE statement per chunk
//   - DeleteBuilder: keyed DELETE, or TRUNCATE / DELETE of every row
//   - Selector: keyed SELECT used to read rows back
//
// # Dialect Support
//
//	d := dialect.MustResolve(dialect.Postgres)
//
//	// INSERT INTO "forecasts" ("id", "temperature") VALUES ($1, $2), ($3, $4)
//	// ON CONFLICT ("id") DO UPDATE SET "temperature" = EXCLUDED."temperature"
//	sql.Dialect(d).Insert("forecasts").
//	    Columns("id", "temperature").
//	    Values(2, 20).
//	    Values(3, 25).
//	    OnConflict("id").
//	    Query()
//
// # Batching
//
// A Batcher splits rows into chunks whose statements respect the dialect's
// parameter and size limits:
//
//	b, err := sql.NewBatcher(d, len(columns), sql.BatchSize(500))
//	for start, chunk := range b.Chunks(rows) {
//	    ...
//	}
//
// # Coercion
//
// A Coercer converts values to what the dialect's driver expects (UTC
// timestamps, 0/1 booleans on MySQL and SQLite, JSON text for structured
// values) and normalizes scanned rows into a bulksql.Batch.
//
// # Errors
//
// ClassifyError turns driver errors into bulksql.ConstraintError or
// bulksql.DriverError, keeping the driver error in the chain.
package sql
