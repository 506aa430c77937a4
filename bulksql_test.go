package bulksql_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulksql"
)

func TestFromRecords(t *testing.T) {
	t.Run("SortedColumns", func(t *testing.T) {
		b, err := bulksql.FromRecords(
			bulksql.Record{"temperature": 20, "id": 2},
			bulksql.Record{"id": 3, "temperature": 25},
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "temperature"}, b.Columns)
		assert.Equal(t, [][]any{{2, 20}, {3, 25}}, b.Rows)
		assert.Equal(t, 2, b.Len())
	})

	t.Run("Empty", func(t *testing.T) {
		b, err := bulksql.FromRecords()
		require.NoError(t, err)
		assert.Zero(t, b.Len())
	})

	t.Run("ExtraColumn", func(t *testing.T) {
		_, err := bulksql.FromRecords(bulksql.Record{"id": 1}, bulksql.Record{"id": 2, "city": "Oslo"})
		require.Error(t, err)
		assert.True(t, bulksql.IsSchemaMismatch(err))
		assert.Equal(t, "bulksql: schema mismatch at row 1: got 2 columns, expected 1", err.Error())
	})

	t.Run("MissingColumn", func(t *testing.T) {
		_, err := bulksql.FromRecords(bulksql.Record{"id": 1, "city": "Oslo"}, bulksql.Record{"id": 2, "name": "Riga"})
		assert.EqualError(t, err, `bulksql: schema mismatch at row 1: missing column "city"`)
	})
}

func TestBatch(t *testing.T) {
	b := bulksql.NewBatch("id", "city").Append(1, "Oslo").Append(2, nil)
	require.NoError(t, b.Validate())
	assert.Equal(t, 1, b.ColumnIndex("city"))
	assert.Equal(t, -1, b.ColumnIndex("missing"))
	assert.Equal(t, []bulksql.Record{{"id": 1, "city": "Oslo"}, {"id": 2, "city": nil}}, b.Records())

	p, err := b.Project("city", "id")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Oslo", 1}, {nil, 2}}, p.Rows)

	_, err = b.Project("temperature")
	assert.True(t, bulksql.IsSchemaMismatch(err))

	var nilBatch *bulksql.Batch
	assert.Zero(t, nilBatch.Len())
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name  string
		batch *bulksql.Batch
		want  string
	}{
		{name: "Nil", want: "bulksql: schema mismatch: nil batch"},
		{name: "NoColumns", batch: &bulksql.Batch{}, want: "bulksql: schema mismatch: batch has no columns"},
		{name: "Duplicate", batch: bulksql.NewBatch("id", "id"), want: `bulksql: schema mismatch: duplicate column "id"`},
		{name: "ShortRow", batch: bulksql.NewBatch("id", "city").Append(1, "Oslo").Append(2), want: "bulksql: schema mismatch at row 1: got 1 values, expected 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.batch.Validate(), tt.want)
		})
	}
}

func TestTypeOf(t *testing.T) {
	n := 5
	var np *int
	tests := []struct {
		value any
		want  bulksql.ColumnType
	}{
		{nil, bulksql.TypeUnknown},
		{"x", bulksql.TypeText},
		{true, bulksql.TypeBoolean},
		{int64(1), bulksql.TypeInteger},
		{uint8(1), bulksql.TypeInteger},
		{1.5, bulksql.TypeReal},
		{time.Now(), bulksql.TypeTimestamp},
		{[]byte("x"), bulksql.TypeBinary},
		{json.RawMessage(`{}`), bulksql.TypeJSON},
		{map[string]any{"a": 1}, bulksql.TypeJSON},
		{[]string{"a"}, bulksql.TypeJSON},
		{&n, bulksql.TypeInteger},
		{np, bulksql.TypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bulksql.TypeOf(tt.value), "%T", tt.value)
	}
	assert.Equal(t, "timestamp", bulksql.TypeTimestamp.String())
	assert.Equal(t, "invalid", bulksql.ColumnType(99).String())
}

func TestInferTable(t *testing.T) {
	b := bulksql.NewBatch("id", "reading", "note").
		Append(1, 2, nil).
		Append(2, 2.5, "late")
	tbl, err := bulksql.InferTable("readings", b)
	require.NoError(t, err)
	assert.Equal(t, []bulksql.Column{
		{Name: "id", Type: bulksql.TypeInteger},
		{Name: "reading", Type: bulksql.TypeReal},
		{Name: "note", Type: bulksql.TypeText},
	}, tbl.Columns)
	assert.Equal(t, []string{"id", "reading", "note"}, tbl.ColumnNames())

	_, err = bulksql.InferTable("readings", bulksql.NewBatch("at").Append(time.Now()).Append("yesterday"))
	require.Error(t, err)
	assert.True(t, bulksql.IsTypeCoercion(err))
}
