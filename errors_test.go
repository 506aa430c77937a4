package bulksql_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulksql"
)

func TestUnsupportedAdapterError(t *testing.T) {
	err := bulksql.NewUnsupportedAdapterError("oracle")
	assert.Equal(t, `bulksql: unsupported adapter "oracle"`, err.Error())
	assert.True(t, errors.Is(err, bulksql.ErrUnsupportedAdapter))
	assert.True(t, bulksql.IsUnsupportedAdapter(fmt.Errorf("open: %w", err)))
	assert.False(t, bulksql.IsUnsupportedAdapter(errors.New("other error")))
	assert.False(t, bulksql.IsUnsupportedAdapter(nil))
}

func TestUpsertUnsupportedError(t *testing.T) {
	tests := []struct {
		name string
		err  *bulksql.UpsertUnsupportedError
		want string
	}{
		{
			name: "NoFloor",
			err:  &bulksql.UpsertUnsupportedError{Dialect: "generic"},
			want: "bulksql: upsert not supported by generic",
		},
		{
			name: "OldServer",
			err:  &bulksql.UpsertUnsupportedError{Dialect: "postgres", Version: "9.4.26", Floor: "9.5.0"},
			want: "bulksql: upsert requires postgres 9.5.0 or later (server is 9.4.26)",
		},
		{
			name: "UnknownVersion",
			err:  &bulksql.UpsertUnsupportedError{Dialect: "sqlite", Floor: "3.24.0"},
			want: "bulksql: upsert requires sqlite 3.24.0 or later",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.True(t, bulksql.IsUpsertUnsupported(tt.err))
		})
	}
	assert.False(t, bulksql.IsUpsertUnsupported(bulksql.ErrUnsupportedOperation))
}

func TestSchemaMismatchError(t *testing.T) {
	t.Run("Row", func(t *testing.T) {
		err := bulksql.NewSchemaMismatchError(3, "missing column %q", "id")
		assert.Equal(t, `bulksql: schema mismatch at row 3: missing column "id"`, err.Error())
	})

	t.Run("Batch", func(t *testing.T) {
		err := bulksql.NewSchemaMismatchError(-1, "batch has no columns")
		assert.Equal(t, "bulksql: schema mismatch: batch has no columns", err.Error())
		assert.True(t, bulksql.IsSchemaMismatch(fmt.Errorf("load: %w", err)))
		assert.False(t, bulksql.IsSchemaMismatch(nil))
	})
}

func TestInvalidIdentifierError(t *testing.T) {
	err := &bulksql.InvalidIdentifierError{Identifier: "users; DROP"}
	assert.Equal(t, `bulksql: invalid identifier "users; DROP"`, err.Error())
	assert.True(t, bulksql.IsInvalidIdentifier(err))
	assert.False(t, bulksql.IsInvalidIdentifier(bulksql.NewSchemaMismatchError(0, "x")))
}

func TestTypeCoercionError(t *testing.T) {
	err := &bulksql.TypeCoercionError{Column: "at", Value: 1.5, Reason: "column mixes timestamp and real values"}
	assert.Equal(t, `bulksql: cannot coerce value 1.5 (float64) of column "at": column mixes timestamp and real values`, err.Error())
	assert.True(t, bulksql.IsTypeCoercion(err))
	assert.True(t, errors.Is(err, bulksql.ErrTypeCoercion))
}

func TestUnsupportedOperationError(t *testing.T) {
	err := &bulksql.UnsupportedOperationError{Dialect: "generic", Op: "insert"}
	assert.Equal(t, "bulksql: insert not supported by generic", err.Error())
	assert.True(t, bulksql.IsUnsupportedOperation(err))
	assert.False(t, bulksql.IsUnsupportedOperation(nil))
}

func TestConstraintError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := bulksql.NewConstraintError("UNIQUE constraint failed", nil)
		assert.Equal(t, "bulksql: constraint failed: UNIQUE constraint failed", err.Error())
	})

	t.Run("Unwrap", func(t *testing.T) {
		underlying := errors.New("db error")
		err := bulksql.NewConstraintError("constraint violated", underlying)
		assert.True(t, errors.Is(err, underlying))
	})

	t.Run("IsConstraintError", func(t *testing.T) {
		err := bulksql.NewConstraintError("check failed", nil)
		assert.True(t, bulksql.IsConstraintError(err))
		assert.True(t, bulksql.IsConstraintError(fmt.Errorf("wrapper: %w", err)))
		assert.False(t, bulksql.IsConstraintError(errors.New("other error")))
		assert.False(t, bulksql.IsConstraintError(nil))
	})
}

func TestDriverError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := &bulksql.DriverError{Op: "exec", Err: underlying}
	assert.Equal(t, "bulksql: exec: connection refused", err.Error())
	assert.True(t, errors.Is(err, underlying))
	assert.True(t, bulksql.IsDriverError(fmt.Errorf("insert: %w", err)))
	assert.False(t, bulksql.IsDriverError(underlying))
	assert.False(t, bulksql.IsDriverError(nil))
}

func TestRollbackError(t *testing.T) {
	cause := bulksql.NewConstraintError("duplicate key", nil)
	rollback := errors.New("connection lost")
	err := &bulksql.RollbackError{Err: cause, Rollback: rollback}
	assert.Equal(t, "bulksql: rollback failed: connection lost: bulksql: constraint failed: duplicate key", err.Error())
	assert.True(t, errors.Is(err, rollback))
	assert.True(t, bulksql.IsConstraintError(err), "the triggering error stays in the chain")
}

func TestAggregateError(t *testing.T) {
	t.Run("NoErrors", func(t *testing.T) {
		assert.Nil(t, bulksql.NewAggregateError())
		assert.Nil(t, bulksql.NewAggregateError(nil, nil, nil))
	})

	t.Run("SingleError", func(t *testing.T) {
		single := errors.New("single error")
		assert.Equal(t, single, bulksql.NewAggregateError(nil, single, nil))
	})

	t.Run("MultipleErrors", func(t *testing.T) {
		err1 := errors.New("error 1")
		err2 := &bulksql.InvalidIdentifierError{Identifier: "a b"}
		err := bulksql.NewAggregateError(err1, err2)

		require.NotNil(t, err)
		assert.Equal(t, "bulksql: multiple errors:\n  [1] error 1\n  [2] bulksql: invalid identifier \"a b\"", err.Error())
		assert.True(t, errors.Is(err, err1))
		assert.True(t, bulksql.IsInvalidIdentifier(err))
	})
}

func BenchmarkErrors(b *testing.B) {
	b.Run("NewSchemaMismatchError", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = bulksql.NewSchemaMismatchError(i, "missing column %q", "id")
		}
	})

	b.Run("IsConstraintError", func(b *testing.B) {
		err := fmt.Errorf("wrap: %w", bulksql.NewConstraintError("unique", nil))
		for i := 0; i < b.N; i++ {
			_ = bulksql.IsConstraintError(err)
		}
	})
}
