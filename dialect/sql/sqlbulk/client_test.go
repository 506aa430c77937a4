package sqlbulk_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulksql"
	"github.com/syssam/bulksql/dialect"
	"github.com/syssam/bulksql/dialect/sql"
	"github.com/syssam/bulksql/dialect/sql/sqlbulk"
)

func mockClient(t *testing.T, name string, opts ...sqlbulk.Option) (*sqlbulk.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	opts = append([]sqlbulk.Option{sqlbulk.WithDescriptor(dialect.MustResolve(name))}, opts...)
	client, err := sqlbulk.NewClient(context.Background(), sql.OpenDB(name, db), opts...)
	require.NoError(t, err)
	return client, mock
}

func forecasts(rows ...[2]int) *bulksql.Batch {
	b := bulksql.NewBatch("id", "temperature")
	for _, r := range rows {
		b.Append(r[0], r[1])
	}
	return b
}

func TestNewClient(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SHOW server_version").WillReturnRows(sqlmock.NewRows([]string{"server_version"}).AddRow("9.4.26"))

		client, err := sqlbulk.NewClient(context.Background(), sql.OpenDB(dialect.Postgres, db))
		require.NoError(t, err)
		assert.Equal(t, dialect.FamilyPostgres, client.Descriptor().Family)
		assert.False(t, client.Descriptor().NativeUpsert)

		_, err = client.Upsert(context.Background(), "forecasts", forecasts([2]int{2, 20}), []string{"id"})
		assert.True(t, bulksql.IsUpsertUnsupported(err))
		assert.EqualError(t, err, "bulksql: upsert requires postgres 9.5.0 or later (server is 9.4.26)")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("unsupported_adapter", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		_, err = sqlbulk.NewClient(context.Background(), sql.OpenDB("oracle", db))
		assert.True(t, bulksql.IsUnsupportedAdapter(err))
	})
	t.Run("version_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SELECT VERSION").WillReturnError(errors.New("access denied"))
		_, err = sqlbulk.NewClient(context.Background(), sql.OpenDB(dialect.MySQL, db))
		assert.True(t, bulksql.IsDriverError(err))
	})
}

func TestInsertBatchSize(t *testing.T) {
	ctx := context.Background()
	batch := forecasts([2]int{1, 10}, [2]int{2, 20}, [2]int{3, 30})

	client, mock := mockClient(t, dialect.MySQL)
	for _, r := range batch.Rows {
		mock.ExpectExec("INSERT INTO `forecasts` (`id`, `temperature`) VALUES (?, ?)").
			WithArgs(r[0], r[1]).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	res, err := client.Insert(ctx, "forecasts", batch, sqlbulk.BatchSize(1))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Statements)
	assert.Equal(t, int64(3), res.RowsAffected)
	assert.Nil(t, res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("INSERT INTO `forecasts` (`id`, `temperature`) VALUES (?, ?), (?, ?), (?, ?)").
		WithArgs(1, 10, 2, 20, 3, 30).
		WillReturnResult(sqlmock.NewResult(0, 3))
	res, err = client.Insert(ctx, "forecasts", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Statements)
	assert.Equal(t, int64(3), res.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIndependentChunks(t *testing.T) {
	client, mock := mockClient(t, dialect.Postgres)
	batch := forecasts([2]int{1, 10}, [2]int{1, 20}, [2]int{3, 30})
	dup := &pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "forecasts_pkey"`}

	mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES ($1, $2)`).
		WithArgs(1, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES ($1, $2)`).
		WithArgs(1, 20).
		WillReturnError(dup)

	res, err := client.Insert(context.Background(), "forecasts", batch, sqlbulk.BatchSize(1))
	require.Error(t, err)
	assert.True(t, bulksql.IsConstraintError(err))
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Same(t, dup, pqErr)
	assert.Equal(t, 1, res.Statements, "the first chunk stays committed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRollback(t *testing.T) {
	client, mock := mockClient(t, dialect.Postgres)
	batch := forecasts([2]int{2, 20}, [2]int{3, 25})
	lost := errors.New("connection reset by peer")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "forecasts" SET "temperature" = $1 WHERE "id" = $2`).
		WithArgs(20, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "forecasts" SET "temperature" = $1 WHERE "id" = $2`).
		WithArgs(25, 3).
		WillReturnError(lost)
	mock.ExpectRollback()

	res, err := client.Update(context.Background(), "forecasts", batch, []string{"id"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, lost)
	assert.True(t, bulksql.IsDriverError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCase(t *testing.T) {
	client, mock := mockClient(t, dialect.MySQL)
	batch := forecasts([2]int{2, 20}, [2]int{3, 25}, [2]int{4, 30})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `forecasts` SET `temperature` = CASE WHEN `id` = ? THEN ? WHEN `id` = ? THEN ? ELSE `temperature` END WHERE `id` IN (?, ?)").
		WithArgs(2, 20, 3, 25, 2, 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE `forecasts` SET `temperature` = CASE WHEN `id` = ? THEN ? ELSE `temperature` END WHERE `id` IN (?)").
		WithArgs(4, 30, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := client.Update(context.Background(), "forecasts", batch, []string{"id"}, sqlbulk.BatchSize(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RowsAffected)
	assert.Equal(t, 2, res.Statements)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConflictTarget(t *testing.T) {
	client, mock := mockClient(t, dialect.Postgres)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "temperature" = EXCLUDED."temperature"`).
		WillReturnError(&pq.Error{Code: "42P10", Message: "there is no unique or exclusion constraint matching the ON CONFLICT specification"})
	mock.ExpectRollback()

	_, err := client.Upsert(context.Background(), "forecasts", forecasts([2]int{2, 20}), []string{"id"})
	assert.True(t, bulksql.IsConstraintError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReadBack(t *testing.T) {
	client, mock := mockClient(t, dialect.MySQL)
	batch := forecasts([2]int{2, 20}, [2]int{3, 25})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `forecasts` (`id`, `temperature`) VALUES (?, ?), (?, ?) ON DUPLICATE KEY UPDATE `temperature` = VALUES(`temperature`)").
		WithArgs(2, 20, 3, 25).
		WillReturnResult(sqlmock.NewResult(3, 3))
	mock.ExpectQuery("SELECT * FROM `forecasts` WHERE `id` IN (?, ?)").
		WithArgs(2, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "temperature"}).
			AddRow(int64(3), int64(25)).
			AddRow(int64(2), int64(20)))
	mock.ExpectCommit()

	res, err := client.Upsert(context.Background(), "forecasts", batch, []string{"id"}, sqlbulk.Returning("temperature"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RowsAffected)
	assert.Equal(t, 2, res.Statements)
	assert.Equal(t, []string{"temperature"}, res.Rows.Columns)
	assert.Equal(t, [][]any{{int64(20)}, {int64(25)}}, res.Rows.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReturning(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		client, mock := mockClient(t, dialect.Postgres)
		batch := bulksql.NewBatch("name").Append("a").Append("b")
		mock.ExpectQuery(`INSERT INTO "users" ("name") VALUES ($1), ($2) RETURNING "id", "name"`).
			WithArgs("a", "b").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
				AddRow(int64(1), "a").
				AddRow(int64(2), "b"))

		res, err := client.Insert(context.Background(), "users", batch, sqlbulk.Returning("id", "name"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.RowsAffected)
		assert.Equal(t, [][]any{{int64(1), "a"}, {int64(2), "b"}}, res.Rows.Rows)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("mysql_echo", func(t *testing.T) {
		client, mock := mockClient(t, dialect.MySQL)
		batch := bulksql.NewBatch("name", "active").Append("a", true).Append("b", false)
		mock.ExpectExec("INSERT INTO `users` (`name`, `active`) VALUES (?, ?), (?, ?)").
			WithArgs("a", 1, "b", 0).
			WillReturnResult(sqlmock.NewResult(2, 2))

		res, err := client.Insert(context.Background(), "users", batch, sqlbulk.Returning())
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "active"}, res.Rows.Columns)
		assert.Equal(t, [][]any{{"a", int64(1)}, {"b", int64(0)}}, res.Rows.Rows)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("mysql_generated_column", func(t *testing.T) {
		client, mock := mockClient(t, dialect.MySQL)
		batch := bulksql.NewBatch("name").Append("a")
		_, err := client.Insert(context.Background(), "users", batch, sqlbulk.Returning("id"))
		assert.True(t, bulksql.IsUnsupportedOperation(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestValidationBeforeStatements(t *testing.T) {
	ctx := context.Background()
	client, mock := mockClient(t, dialect.SQLite)

	_, err := client.Insert(ctx, "users", bulksql.NewBatch("robert); DROP TABLE users;--").Append(1))
	assert.True(t, bulksql.IsInvalidIdentifier(err))

	_, err = client.Insert(ctx, "users; DROP", bulksql.NewBatch("id").Append(1))
	assert.True(t, bulksql.IsInvalidIdentifier(err))

	_, err = client.Insert(ctx, "users", bulksql.NewBatch("id", "name").Append(1, "a").Append(2))
	assert.True(t, bulksql.IsSchemaMismatch(err))

	_, err = client.Insert(ctx, "users", nil)
	assert.True(t, bulksql.IsSchemaMismatch(err))

	_, err = client.Update(ctx, "users", bulksql.NewBatch("id", "name").Append(1, "a"), nil)
	assert.True(t, bulksql.IsSchemaMismatch(err))

	_, err = client.Upsert(ctx, "users", bulksql.NewBatch("id", "name").Append(1, "a"), []string{"email"})
	assert.True(t, bulksql.IsSchemaMismatch(err))

	_, err = client.Upsert(ctx, "users", bulksql.NewBatch("id", "ratio").Append(1, "a").Append(2, struct{ C chan int }{}), []string{"id"})
	assert.True(t, bulksql.IsTypeCoercion(err))

	_, err = client.Delete(ctx, "users", bulksql.NewBatch("id", "id").Append(1, 1))
	assert.True(t, bulksql.IsSchemaMismatch(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenericDialect(t *testing.T) {
	ctx := context.Background()
	client, mock := mockClient(t, dialect.Generic)
	batch := forecasts([2]int{1, 10})

	_, err := client.Update(ctx, "forecasts", batch, []string{"id"})
	assert.True(t, bulksql.IsUnsupportedOperation(err))
	_, err = client.Upsert(ctx, "forecasts", batch, []string{"id"})
	assert.True(t, bulksql.IsUpsertUnsupported(err))
	_, err = client.Delete(ctx, "forecasts", nil)
	assert.True(t, bulksql.IsUnsupportedOperation(err))

	mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES (?, ?)`).
		WithArgs(1, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = client.Insert(ctx, "forecasts", batch)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	t.Run("all_postgres", func(t *testing.T) {
		client, mock := mockClient(t, dialect.Postgres)
		mock.ExpectBegin()
		mock.ExpectExec(`TRUNCATE TABLE "forecasts"`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		res, err := client.Delete(ctx, "forecasts", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Statements)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("all_sqlite", func(t *testing.T) {
		client, mock := mockClient(t, dialect.SQLite)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "forecasts"`).WillReturnResult(sqlmock.NewResult(0, 7))
		mock.ExpectCommit()
		res, err := client.Delete(ctx, "forecasts", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(7), res.RowsAffected)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("keys", func(t *testing.T) {
		client, mock := mockClient(t, dialect.MySQL)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM `forecasts` WHERE `id` IN (?, ?)").
			WithArgs(1, 2).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("DELETE FROM `forecasts` WHERE `id` IN (?)").
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		where := bulksql.NewBatch("id").Append(1).Append(2).Append(3)
		res, err := client.Delete(ctx, "forecasts", where, sqlbulk.BatchSize(2))
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.RowsAffected)
		assert.Equal(t, 2, res.Statements)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("empty", func(t *testing.T) {
		client, mock := mockClient(t, dialect.MySQL)
		res, err := client.Delete(ctx, "forecasts", bulksql.NewBatch("id"))
		require.NoError(t, err)
		assert.Zero(t, res.Statements)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("rollback_failure", func(t *testing.T) {
		client, mock := mockClient(t, dialect.MySQL)
		fk := &mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"}
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM `forecasts` WHERE `id` IN (?)").WillReturnError(fk)
		mock.ExpectRollback().WillReturnError(errors.New("bad connection"))
		_, err := client.Delete(ctx, "forecasts", bulksql.NewBatch("id").Append(1))
		var rerr *bulksql.RollbackError
		require.ErrorAs(t, err, &rerr)
		assert.True(t, bulksql.IsConstraintError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCommentAndLogging(t *testing.T) {
	var (
		buf    bytes.Buffer
		logged []string
		n      int
	)
	client, mock := mockClient(t, dialect.Postgres,
		sqlbulk.WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		sqlbulk.WithLog(func(_ context.Context, query string, _ []any) { logged = append(logged, query) }),
		sqlbulk.WithCommentFunc(func(context.Context) string {
			n++
			return fmt.Sprintf("job=sync stmt=%d", n)
		}),
	)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "forecasts" SET "temperature" = $1 WHERE "id" = $2 /* job=sync stmt=1 */`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "forecasts" SET "temperature" = $1 WHERE "id" = $2 /* job=sync stmt=2 */`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := client.Update(context.Background(), "forecasts", forecasts([2]int{2, 20}, [2]int{3, 25}), []string{"id"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, logged, 2)
	assert.True(t, strings.HasSuffix(logged[1], "/* job=sync stmt=2 */"))
	assert.Equal(t, 2, strings.Count(buf.String(), `msg="bulksql statement"`))
	assert.Contains(t, buf.String(), "level=DEBUG")
}

func TestVerboseLogging(t *testing.T) {
	var buf bytes.Buffer
	client, mock := mockClient(t, dialect.SQLite,
		sqlbulk.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		sqlbulk.WithVerbose(),
		sqlbulk.WithComment("cli"),
	)
	mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES (?, ?) /* cli */`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := client.Insert(context.Background(), "forecasts", forecasts([2]int{1, 1}))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `level=INFO msg="bulksql statement" dialect=sqlite`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTx(t *testing.T) {
	ctx := context.Background()
	client, mock := mockClient(t, dialect.SQLite)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES (?, ?)`).
		WithArgs(1, 10).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE "forecasts" SET "temperature" = CASE WHEN "id" = ? THEN ? ELSE "temperature" END WHERE "id" IN (?)`).
		WithArgs(1, 11, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := client.Tx(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, "forecasts", forecasts([2]int{1, 10}))
	require.NoError(t, err)
	_, err = tx.Update(ctx, "forecasts", forecasts([2]int{1, 11}), []string{"id"})
	require.NoError(t, err)
	_, err = tx.Tx(ctx)
	assert.ErrorIs(t, err, sqlbulk.ErrTxStarted)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	client, mock := mockClient(t, dialect.Postgres)
	failed := errors.New("validation failed")

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "forecasts" WHERE "id" IN ($1)`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := sqlbulk.WithTx(ctx, client, func(tx *sqlbulk.Tx) error {
		if _, err := tx.Delete(ctx, "forecasts", bulksql.NewBatch("id").Append(1)); err != nil {
			return err
		}
		return failed
	})
	assert.ErrorIs(t, err, failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect(t *testing.T) {
	client, mock := mockClient(t, dialect.MySQL)
	mock.ExpectQuery("SELECT id, active FROM users WHERE active = ?").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "active"}).AddRow(int64(7), int64(1)))

	b, err := client.Select(context.Background(), "SELECT id, active FROM users WHERE active = ?", true)
	require.NoError(t, err)
	assert.Equal(t, []bulksql.Record{{"id": int64(7), "active": int64(1)}}, b.Records())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementCache(t *testing.T) {
	client, mock := mockClient(t, dialect.Postgres, sqlbulk.WithStatementCache(4))
	for range 3 {
		mock.ExpectExec(`INSERT INTO "forecasts" ("id", "temperature") VALUES ($1, $2)`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	_, err := client.Insert(context.Background(), "forecasts", forecasts([2]int{1, 1}, [2]int{2, 2}, [2]int{3, 3}), sqlbulk.BatchSize(1))
	require.NoError(t, err)
	hits, misses := client.Cache().Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	require.NoError(t, mock.ExpectationsWereMet())
}
