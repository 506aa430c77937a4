package sql

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/syssam/bulksql"
	"github.com/syssam/bulksql/dialect"
)

// SQLiteTimeFormat is the text layout of timestamps written to SQLite.
const SQLiteTimeFormat = "2006-01-02 15:04:05.000000"

// maxValuerDepth bounds chains of driver.Valuer values resolving to Valuers.
const maxValuerDepth = 8

// Coercer converts Go values to the representation a dialect's driver
// expects on write, and normalizes scanned values on read.
type Coercer struct {
	d       *dialect.Descriptor
	storage *time.Location
	read    *time.Location
}

// CoercerOption configures a Coercer.
type CoercerOption func(*Coercer)

// StorageLocation sets the zone timestamps are converted to before writing.
// Default is UTC.
func StorageLocation(loc *time.Location) CoercerOption {
	return func(c *Coercer) {
		if loc != nil {
			c.storage = loc
		}
	}
}

// ReadLocation sets the zone scanned timestamps are converted to.
// Default is time.Local.
func ReadLocation(loc *time.Location) CoercerOption {
	return func(c *Coercer) {
		if loc != nil {
			c.read = loc
		}
	}
}

// NewCoercer returns a Coercer for the dialect.
func NewCoercer(d *dialect.Descriptor, opts ...CoercerOption) *Coercer {
	c := &Coercer{d: d, storage: time.UTC, read: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rows coerces every value of rows into a new slice, leaving rows untouched.
func (c *Coercer) Rows(columns []string, rows [][]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, r := range rows {
		cr := make([]any, len(r))
		for j, v := range r {
			cv, err := c.Value(columns[j], v)
			if err != nil {
				return nil, err
			}
			cr[j] = cv
		}
		out[i] = cr
	}
	return out, nil
}

// Value converts v for writing into column.
func (c *Coercer) Value(column string, v any) (any, error) {
	return c.value(column, v, v, 0)
}

func (c *Coercer) value(column string, orig, v any, depth int) (any, error) {
	fail := func(format string, args ...any) error {
		return &bulksql.TypeCoercionError{Column: column, Value: orig, Reason: fmt.Sprintf(format, args...)}
	}
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	switch x := v.(type) {
	case time.Time:
		return c.writeTime(x), nil
	case json.RawMessage:
		return string(x), nil
	case []byte:
		return x, nil
	case string:
		return x, nil
	case driver.Valuer:
		if depth >= maxValuerDepth {
			return nil, fail("driver.Valuer nesting exceeds %d", maxValuerDepth)
		}
		dv, err := x.Value()
		if err != nil {
			return nil, fail("%v", err)
		}
		return c.value(column, orig, dv, depth+1)
	}
	switch rv.Kind() {
	case reflect.Pointer:
		if depth >= maxValuerDepth {
			return nil, fail("pointer nesting exceeds %d", maxValuerDepth)
		}
		return c.value(column, orig, rv.Elem().Interface(), depth+1)
	case reflect.Bool:
		return c.writeBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fail("unsigned value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		switch {
		case math.IsNaN(f) && c.d.Family != dialect.FamilyPostgres && c.d.Family != dialect.FamilyGeneric:
			return nil, fail("NaN is not representable in %s", c.d.Family)
		case math.IsInf(f, 0) && c.d.Family == dialect.FamilyMySQL:
			return nil, fail("infinity is not representable in %s", c.d.Family)
		}
		return f, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		return c.writeJSON(v, fail)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return c.writeJSON(v, fail)
	case reflect.Array, reflect.Struct:
		return c.writeJSON(v, fail)
	default:
		return nil, fail("unsupported kind %s", rv.Kind())
	}
}

func (c *Coercer) writeTime(t time.Time) any {
	t = t.In(c.storage)
	if c.d.Family == dialect.FamilySQLite {
		return t.Format(SQLiteTimeFormat)
	}
	return t
}

func (c *Coercer) writeBool(b bool) any {
	switch c.d.Family {
	case dialect.FamilyMySQL, dialect.FamilySQLite:
		if b {
			return int64(1)
		}
		return int64(0)
	default:
		return b
	}
}

func (c *Coercer) writeJSON(v any, fail func(string, ...any) error) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fail("json: %v", err)
	}
	return string(b), nil
}

// binaryTypes are database type names scanned as []byte.
var binaryTypes = []string{"BLOB", "BYTEA", "BINARY", "IMAGE"}

// IsBinaryType reports whether the database type name holds binary data.
func IsBinaryType(name string) bool {
	name = strings.ToUpper(name)
	for _, t := range binaryTypes {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}

// ReadValue normalizes a value scanned from a column of the given database
// type. Byte slices are copied, since drivers may reuse them.
func (c *Coercer) ReadValue(dbType string, v any) any {
	switch x := v.(type) {
	case []byte:
		if IsBinaryType(dbType) {
			return bytes.Clone(x)
		}
		return string(x)
	case time.Time:
		if c.d.Family == dialect.FamilySQLite {
			return x.Format(SQLiteTimeFormat)
		}
		return x.In(c.read)
	default:
		return v
	}
}

// ScanBatch reads all rows into a Batch, normalizing values with ReadValue.
// It does not close rows.
func (c *Coercer) ScanBatch(rows ColumnScanner) (*bulksql.Batch, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: scan columns: %w", err)
	}
	typeNames := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil && len(types) == len(columns) {
		for i, t := range types {
			typeNames[i] = t.DatabaseTypeName()
		}
	}
	b := bulksql.NewBatch(columns...)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan row %d: %w", b.Len(), err)
		}
		for i, v := range values {
			values[i] = c.ReadValue(typeNames[i], v)
		}
		b.Append(values...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialect/sql: scan rows: %w", err)
	}
	return b, nil
}
