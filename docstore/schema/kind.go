package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Kind is the declared type of a field.
type Kind string

const (
	String  Kind = "string"
	Number  Kind = "number"
	Boolean Kind = "boolean"
	Date    Kind = "date"
	Array   Kind = "array"
	Object  Kind = "object"
	Custom  Kind = "custom"
)

// Valid reports whether k is one of the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case String, Number, Boolean, Date, Array, Object, Custom:
		return true
	}
	return false
}

// ParseKind accepts a kind name case-insensitively, including the common
// aliases "bool", "int", "float", "map" and "list".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "str", "text":
		return String, nil
	case "number", "int", "integer", "float":
		return Number, nil
	case "boolean", "bool":
		return Boolean, nil
	case "date", "time", "datetime":
		return Date, nil
	case "array", "list":
		return Array, nil
	case "object", "map":
		return Object, nil
	case "custom":
		return Custom, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// CustomType is the escape hatch for application-defined value types.
// Check decides type conformance; Cast converts a raw value.
type CustomType interface {
	Name() string
	Check(v any) bool
	Cast(v any) (any, error)
}

// KindOf returns the runtime kind of v, or "" when v is nil or of a type
// outside the closed set.
func KindOf(v any) Kind {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return String
	case bool:
		return Boolean
	case json.Number:
		return Number
	case time.Time:
		return Date
	case *time.Time:
		if t == nil {
			return ""
		}
		return Date
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Number
	case reflect.String:
		return String
	case reflect.Bool:
		return Boolean
	case reflect.Slice, reflect.Array:
		return Array
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return Object
		}
	case reflect.Struct:
		return Object
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return KindOf(rv.Elem().Interface())
	}
	return ""
}

// Describe names the runtime type of v for error messages.
func Describe(v any) string {
	if k := KindOf(v); k != "" {
		return string(k)
	}
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
