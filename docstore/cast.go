package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/schema"
)

// cast keeps only declared fields and converts each present value to its
// declared type. It never fails: values that cannot be converted become
// nil with a warning.
func (e *Engine) cast(rec Record) Record {
	out := make(Record, len(rec))
	for name, f := range e.schema.Definition {
		v, ok := rec[name]
		if !ok {
			continue
		}
		out[name] = e.castValue(name, f, v)
	}
	return out
}

func (e *Engine) castValue(name string, f schema.Field, v any) any {
	if v == nil {
		return nil
	}
	switch f.Type {
	case schema.String:
		return castString(v)
	case schema.Number:
		if n, ok := castNumber(v); ok {
			return n
		}
	case schema.Boolean:
		return castBool(v)
	case schema.Date:
		if t, ok := castDate(v); ok {
			return t
		}
	case schema.Array, schema.Object:
		return v
	case schema.Custom:
		if f.Custom == nil {
			return v
		}
		out, err := f.Custom.Cast(v)
		if err == nil {
			return out
		}
		e.log.Warnw("custom cast failed; value set to null", "field", name, "type", f.TypeName(), "error", err)
		return nil
	}
	e.log.Warnw("value cannot be cast; set to null", "field", name, "type", f.TypeName(), "value", fmt.Sprint(v))
	return nil
}

func castString(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	switch schema.KindOf(v) {
	case schema.Array, schema.Object:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	case schema.Number:
		if n, ok := query.ToFloat(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	return fmt.Sprint(v)
}

func castNumber(v any) (any, bool) {
	if schema.KindOf(v) == schema.Number {
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			return f, err == nil
		}
		return v, true
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return float64(0), true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case bool:
		if t {
			return float64(1), true
		}
		return float64(0), true
	case time.Time:
		return float64(t.UnixMilli()), true
	}
	return nil, false
}

func castBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
		return t != ""
	}
	if n, ok := query.ToFloat(v); ok {
		return n != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// castDate accepts a time, a parseable string or a millisecond epoch.
func castDate(v any) (time.Time, bool) {
	if t, ok := query.ToTime(v); ok {
		return t, true
	}
	if n, ok := query.ToFloat(v); ok {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Time{}, false
}

// revive restores typed values after a JSON round trip through the
// substrate. Only Date fields need it.
func (e *Engine) revive(rec Record) Record {
	for name, f := range e.schema.Definition {
		if f.Type != schema.Date {
			continue
		}
		if s, ok := rec[name].(string); ok {
			if t, ok := query.ParseTime(s); ok {
				rec[name] = t
			}
		}
	}
	return rec
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func project(r Record, fields []string) Record {
	if len(fields) == 0 {
		return r
	}
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}
