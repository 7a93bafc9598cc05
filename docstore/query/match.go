package query

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Matches reports whether record satisfies every clause of q.
func (q Query) Matches(record map[string]any) bool {
	for _, c := range q.Clauses {
		stored, present := record[c.Field]
		for _, p := range c.Preds {
			if !Match(p, stored, present) {
				return false
			}
		}
	}
	return true
}

// Match evaluates a single predicate. present is false when the field is
// absent from the record.
func Match(p Predicate, stored any, present bool) bool {
	switch p := p.(type) {
	case Eq:
		if p.Value == nil {
			return !present || stored == nil
		}
		return present && Equal(stored, p.Value)
	case Ne:
		if p.Value == nil {
			return present && stored != nil
		}
		return !present || !Equal(stored, p.Value)
	case Gt:
		c, ok := compareStored(stored, present, p.Value)
		return ok && c > 0
	case Gte:
		c, ok := compareStored(stored, present, p.Value)
		return ok && c >= 0
	case Lt:
		c, ok := compareStored(stored, present, p.Value)
		return ok && c < 0
	case Lte:
		c, ok := compareStored(stored, present, p.Value)
		return ok && c <= 0
	case In:
		return present && contains(p.Values, stored)
	case NotIn:
		return !present || !contains(p.Values, stored)
	}
	return false
}

func compareStored(stored any, present bool, operand any) (int, bool) {
	if !present || stored == nil || operand == nil {
		return 0, false
	}
	return Compare(stored, operand)
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if item == nil && v == nil {
			return true
		}
		if item != nil && v != nil && Equal(v, item) {
			return true
		}
	}
	return false
}

// Equal compares two values with numeric and date coercion. Numbers of
// any Go type compare by value; a time compares to an RFC 3339 string.
func Equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same comparable family: numbers,
// strings, booleans or dates. ok is false when the values are not
// mutually comparable.
func Compare(a, b any) (int, bool) {
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			return cmpFloat(fa, fb), true
		}
		return 0, false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := ToTime(b); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	if tb, ok := b.(time.Time); ok {
		if ta, ok := ToTime(a); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// timeLayouts are tried in order when a string must be read as a date.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTime reads a time.Time or a date string.
func ToTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		return ParseTime(t)
	}
	return time.Time{}, false
}

func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
