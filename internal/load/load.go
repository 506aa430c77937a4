// Package load reads record files into batches.
package load

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/bulksql"
)

// Format names a record file format.
type Format string

// Supported formats.
const (
	// JSON is an array of objects.
	JSON Format = "json"
	// NDJSON is a stream of objects, usually one per line.
	NDJSON Format = "ndjson"
	// CSV has a header row naming the columns.
	CSV Format = "csv"
	// MsgPack is a MessagePack array of maps.
	MsgPack Format = "msgpack"
)

// ParseFormat returns the Format named s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case JSON, NDJSON, CSV, MsgPack:
		return f, nil
	default:
		return "", fmt.Errorf("load: unknown format %q", s)
	}
}

// Option configures a reader.
type Option func(*options)

type options struct {
	comma rune
	null  string
}

// WithComma sets the CSV field delimiter. Default is ','.
func WithComma(r rune) Option {
	return func(o *options) {
		o.comma = r
	}
}

// WithNull sets the CSV field text read as NULL. Default is the empty field.
func WithNull(s string) Option {
	return func(o *options) {
		o.null = s
	}
}

// File reads the file at path.
func File(path string, f Format, opts ...Option) (*bulksql.Batch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer file.Close()
	b, err := Read(file, f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Read reads all records of r.
func Read(r io.Reader, f Format, opts ...Option) (*bulksql.Batch, error) {
	o := &options{comma: ','}
	for _, opt := range opts {
		opt(o)
	}
	switch f {
	case JSON:
		return readJSON(r, false)
	case NDJSON:
		return readJSON(r, true)
	case CSV:
		return readCSV(r, o)
	case MsgPack:
		return readMsgPack(r)
	default:
		return nil, fmt.Errorf("load: unknown format %q", f)
	}
}

func readJSON(r io.Reader, stream bool) (*bulksql.Batch, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []bulksql.Record
	if stream {
		for {
			var rec bulksql.Record
			if err := dec.Decode(&rec); errors.Is(err, io.EOF) {
				break
			} else if err != nil {
				return nil, fmt.Errorf("load: record %d: %w", len(records), err)
			}
			records = append(records, rec)
		}
	} else if err := dec.Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("load: %w", err)
	}
	for _, rec := range records {
		for k, v := range rec {
			if n, ok := v.(json.Number); ok {
				rec[k] = number(n)
			}
		}
	}
	return bulksql.FromRecords(records...)
}

// number returns n as int64 when it is integral, else as float64.
func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

var bom = []byte{0xEF, 0xBB, 0xBF}

func readCSV(r io.Reader, o *options) (*bulksql.Batch, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		_, _ = br.Discard(len(bom))
	}
	cr := csv.NewReader(br)
	cr.Comma = o.comma
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &bulksql.Batch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load: header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}
	b := bulksql.NewBatch(columns...)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, csv.ErrFieldCount) {
			return nil, bulksql.NewSchemaMismatchError(b.Len(), "got %d fields, expected %d", len(rec), len(columns))
		}
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			if v != o.null {
				row[i] = v
			}
		}
		b.Append(row...)
	}
	return b, nil
}

func readMsgPack(r io.Reader) (*bulksql.Batch, error) {
	dec := msgpack.NewDecoder(r)
	var maps []map[string]any
	if err := dec.Decode(&maps); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("load: %w", err)
	}
	records := make([]bulksql.Record, len(maps))
	for i, m := range maps {
		for k, v := range m {
			m[k] = widen(v)
		}
		records[i] = m
	}
	return bulksql.FromRecords(records...)
}

// widen maps the sized integer and float kinds msgpack decodes to int64 and
// float64. Unsigned values above MaxInt64 stay uint64. bin payloads stay
// []byte and str payloads string.
func widen(v any) any {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
	case float32:
		return float64(n)
	}
	return v
}
