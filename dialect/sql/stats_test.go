package sql

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulksql/dialect"
)

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.MySQL, db),
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(0, 3))
	var res sql.Result
	require.NoError(t, drv.Exec(ctx, "INSERT INTO t VALUES (?), (?), (?)", []any{1, 2, 3}, &res))

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT id FROM t", []any{}, rows))
	require.NoError(t, rows.Close())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM t").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "DELETE FROM t WHERE id IN (?, ?)", []any{1, 2}, &res))
	require.Error(t, tx.Exec(ctx, "DELETE FROM t WHERE id IN (?)", []any{3}, &res))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.QueryStats().Stats()
	assert.Equal(t, int64(3), s.TotalExecs)
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(5), s.RowsAffected)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(4), s.SlowQueries)
	assert.Equal(t, int64(1), s.Rollbacks)
	assert.Zero(t, s.Commits)
	assert.Len(t, slow, 4)
	assert.Contains(t, s.String(), "rows=5")

	drv.QueryStats().Reset()
	assert.Zero(t, drv.QueryStats().Stats().TotalExecs)
}

func TestStatsDriverThreshold(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := NewStatsDriver(OpenDB(dialect.Postgres, db))
	assert.Equal(t, 100*time.Millisecond, drv.SlowThreshold())
	drv.SetSlowThreshold(time.Second)
	assert.Equal(t, time.Second, drv.SlowThreshold())
}

func TestStatsDriverServerVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT sqlite_version()").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("3.45.1"))

	var vr dialect.VersionReporter = NewStatsDriver(OpenDB(dialect.SQLite, db))
	v, err := vr.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.45.1", v)
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv := NewDebugDriver(OpenDB(dialect.Postgres, db), logger)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE t").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "UPDATE t SET v = $1 WHERE id = $2", []any{1, 2}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	assert.Contains(t, out, "begin transaction")
	assert.Contains(t, out, `msg="tx exec" sql="UPDATE t SET v = $1 WHERE id = $2"`)
	assert.Contains(t, out, "commit transaction")
}
