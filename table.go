package bulksql

import (
	"database/sql/driver"
	"encoding/json"
	"reflect"
	"time"
)

// ColumnType is the value type inferred for a column from the batch values.
type ColumnType uint8

// Inferred column types.
const (
	TypeUnknown ColumnType = iota // Only NULL values seen.
	TypeText
	TypeInteger
	TypeReal
	TypeBoolean
	TypeTimestamp
	TypeBinary
	TypeJSON
)

var typeNames = [...]string{
	TypeUnknown:   "unknown",
	TypeText:      "text",
	TypeInteger:   "integer",
	TypeReal:      "real",
	TypeBoolean:   "boolean",
	TypeTimestamp: "timestamp",
	TypeBinary:    "binary",
	TypeJSON:      "json",
}

// String returns the type name.
func (t ColumnType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "invalid"
}

// Column is a named, typed column of a table reference.
type Column struct {
	Name string
	Type ColumnType
}

// Table references a table and the columns a batch writes to it.
// It is derived at call time and never persisted.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// InferTable derives the table reference of a batch. A column holding values
// of incompatible types fails with a TypeCoercionError; integers and reals
// mix into real.
func InferTable(name string, b *Batch) (*Table, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	t := &Table{Name: name, Columns: make([]Column, len(b.Columns))}
	for j, c := range b.Columns {
		t.Columns[j].Name = c
		for _, row := range b.Rows {
			vt := TypeOf(row[j])
			if vt == TypeUnknown {
				continue
			}
			switch cur := t.Columns[j].Type; {
			case cur == TypeUnknown || cur == vt:
				t.Columns[j].Type = vt
			case (cur == TypeInteger && vt == TypeReal) || (cur == TypeReal && vt == TypeInteger):
				t.Columns[j].Type = TypeReal
			default:
				return nil, &TypeCoercionError{Column: c, Value: row[j], Reason: "column mixes " + cur.String() + " and " + vt.String() + " values"}
			}
		}
	}
	return t, nil
}

// TypeOf returns the column type a single value maps to.
func TypeOf(v any) ColumnType {
	switch v := v.(type) {
	case nil:
		return TypeUnknown
	case string:
		return TypeText
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32, float64:
		return TypeReal
	case time.Time:
		return TypeTimestamp
	case []byte:
		return TypeBinary
	case json.RawMessage:
		return TypeJSON
	case driver.Valuer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return TypeUnknown
		}
		dv, err := v.Value()
		if err != nil {
			return TypeText
		}
		return TypeOf(dv)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return TypeUnknown
		}
		return TypeOf(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return TypeJSON
	case reflect.String:
		return TypeText
	case reflect.Bool:
		return TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeReal
	}
	return TypeText
}
