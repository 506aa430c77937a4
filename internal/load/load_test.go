package load

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/bulksql"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("MsgPack")
	require.NoError(t, err)
	assert.Equal(t, MsgPack, f)
	_, err = ParseFormat("xml")
	assert.EqualError(t, err, `load: unknown format "xml"`)
}

func TestReadJSON(t *testing.T) {
	in := `[
		{"id": 2, "temperature": 20.5, "city": "Oslo", "tags": ["a"], "note": null},
		{"id": 3, "temperature": 25, "city": "Bergen", "tags": [], "note": "dry"}
	]`
	b, err := Read(strings.NewReader(in), JSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "id", "note", "tags", "temperature"}, b.Columns)
	assert.Equal(t, [][]any{
		{"Oslo", int64(2), nil, []any{"a"}, 20.5},
		{"Bergen", int64(3), "dry", []any{}, int64(25)},
	}, b.Rows)

	b, err = Read(strings.NewReader(`[]`), JSON)
	require.NoError(t, err)
	assert.Zero(t, b.Len())

	_, err = Read(strings.NewReader(`[{"id": 1}, {"name": "x"}]`), JSON)
	assert.True(t, bulksql.IsSchemaMismatch(err))

	_, err = Read(strings.NewReader(`{"id": 1}`), JSON)
	assert.Error(t, err)
}

func TestReadNDJSON(t *testing.T) {
	in := "{\"id\": 1, \"name\": \"a8m\"}\n{\"id\": 2, \"name\": \"nati\"}\n"
	b, err := Read(strings.NewReader(in), NDJSON)
	require.NoError(t, err)
	assert.Equal(t, []bulksql.Record{
		{"id": int64(1), "name": "a8m"},
		{"id": int64(2), "name": "nati"},
	}, b.Records())

	_, err = Read(strings.NewReader("{\"id\": 1}\n{\"id\": \n"), NDJSON)
	assert.ErrorContains(t, err, "record 1")
}

func TestReadCSV(t *testing.T) {
	in := "\ufeffid, city ,note\n1,Oslo,\n2, Bergen,dry\n"
	b, err := Read(strings.NewReader(in), CSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "city", "note"}, b.Columns)
	assert.Equal(t, [][]any{{"1", "Oslo", nil}, {"2", "Bergen", "dry"}}, b.Rows)

	b, err = Read(strings.NewReader("id;note\n1;\\N\n2;\n"), CSV, WithComma(';'), WithNull(`\N`))
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"1", nil}, {"2", ""}}, b.Rows)

	b, err = Read(strings.NewReader(""), CSV)
	require.NoError(t, err)
	assert.Zero(t, b.Len())

	_, err = Read(strings.NewReader("id,city\n1,Oslo\n2\n"), CSV)
	require.True(t, bulksql.IsSchemaMismatch(err))
	assert.EqualError(t, err, "bulksql: schema mismatch at row 1: got 1 fields, expected 2")
}

func TestReadMsgPack(t *testing.T) {
	data, err := msgpack.Marshal([]map[string]any{
		{"id": 1, "ratio": 0.5, "raw": []byte{1, 2}},
		{"id": 2, "ratio": 1.5, "raw": nil},
	})
	require.NoError(t, err)

	b, err := Read(bytes.NewReader(data), MsgPack)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "ratio", "raw"}, b.Columns)
	assert.Equal(t, [][]any{{int64(1), 0.5, []byte{1, 2}}, {int64(2), 1.5, nil}}, b.Rows)

	_, err = Read(bytes.NewReader([]byte{0xc1}), MsgPack)
	assert.Error(t, err)
}

func TestReadMsgPackKinds(t *testing.T) {
	// [{"raw": bin8 0x01 0x02}]
	b, err := Read(bytes.NewReader([]byte{0x91, 0x81, 0xa3, 'r', 'a', 'w', 0xc4, 0x02, 0x01, 0x02}), MsgPack)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{[]byte{1, 2}}}, b.Rows)

	data, err := msgpack.Marshal([]map[string]any{{
		"big":   uint64(math.MaxUint64),
		"small": int16(-300),
		"f32":   float32(0.25),
		"name":  "Oslo",
	}})
	require.NoError(t, err)
	b, err = Read(bytes.NewReader(data), MsgPack)
	require.NoError(t, err)
	assert.Equal(t, []string{"big", "f32", "name", "small"}, b.Columns)
	assert.Equal(t, [][]any{{uint64(math.MaxUint64), 0.25, "Oslo", int64(-300)}}, b.Rows)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": 1}]`), 0o600))
	b, err := File(path, JSON)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())

	_, err = File(filepath.Join(t.TempDir(), "missing.csv"), CSV)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = File(path, "xml")
	assert.ErrorContains(t, err, "users.json")
}
