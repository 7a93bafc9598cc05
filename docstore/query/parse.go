package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Parse converts a mapping of field -> literal or operator object into a
// Query. Unrecognised operators become Unknown predicates.
func Parse(m map[string]any) (Query, error) {
	return parse(m, false)
}

// ParseStrict is Parse but rejects unrecognised operators.
func ParseStrict(m map[string]any) (Query, error) {
	return parse(m, true)
}

// ParseJSON decodes a JSON object and parses it. Numbers decode as float64.
func ParseJSON(b []byte, strict bool) (Query, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return Query{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return Query{}, fmt.Errorf("invalid query JSON: %w", err)
	}
	return parse(m, strict)
}

func parse(m map[string]any, strict bool) (Query, error) {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	q := Query{Clauses: make([]Clause, 0, len(fields))}
	for _, field := range fields {
		preds, err := parseClause(m[field], strict)
		if err != nil {
			return Query{}, fmt.Errorf("field '%s': %w", field, err)
		}
		q.Clauses = append(q.Clauses, Clause{Field: field, Preds: preds})
	}
	return q, nil
}

func parseClause(v any, strict bool) ([]Predicate, error) {
	ops, ok := v.(map[string]any)
	if !ok || !isOperatorObject(ops) {
		return []Predicate{Eq{Value: v}}, nil
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	preds := make([]Predicate, 0, len(names))
	for _, name := range names {
		operand := ops[name]
		switch name {
		case "$eq":
			preds = append(preds, Eq{Value: operand})
		case "$ne":
			preds = append(preds, Ne{Value: operand})
		case "$gt":
			preds = append(preds, Gt{Value: operand})
		case "$gte":
			preds = append(preds, Gte{Value: operand})
		case "$lt":
			preds = append(preds, Lt{Value: operand})
		case "$lte":
			preds = append(preds, Lte{Value: operand})
		case "$in", "$nin":
			list, err := toList(operand)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if name == "$in" {
				preds = append(preds, In{Values: list})
			} else {
				preds = append(preds, NotIn{Values: list})
			}
		default:
			if strict {
				return nil, fmt.Errorf("unknown operator %s", name)
			}
			preds = append(preds, Unknown{Name: name, Value: operand})
		}
	}
	return preds, nil
}

// isOperatorObject reports whether every key of m starts with '$'.
func isOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func toList(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("operand must be a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
