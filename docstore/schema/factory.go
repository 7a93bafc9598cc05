package schema

import (
	"fmt"
	"strings"

	dserrors "github.com/nonibytes/docsync/docstore/errors"
)

// FromObject builds a schema from a loosely typed definition. Each value
// may be a Kind, a kind name, a Field, or a map with "type", "required",
// "unique", "default" and "enum" keys.
func FromObject(obj map[string]any) (*Schema, error) {
	s := &Schema{Definition: make(map[string]Field, len(obj))}
	for name, raw := range obj {
		f, err := fieldFrom(raw)
		if err != nil {
			return nil, dserrors.Wrap(dserrors.ErrSchema, fmt.Sprintf("field '%s'", name), err)
		}
		s.Definition[name] = f
	}
	return s, nil
}

func fieldFrom(raw any) (Field, error) {
	switch v := raw.(type) {
	case nil:
		return Field{Type: String}, nil
	case Kind:
		return Field{Type: v}, nil
	case string:
		k, err := ParseKind(v)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: k}, nil
	case Field:
		if v.Type == "" {
			v.Type = String
		}
		return v, nil
	case map[string]any:
		f := Field{Type: String}
		if t, ok := v["type"]; ok {
			name, ok := t.(string)
			if !ok {
				if k, isKind := t.(Kind); isKind {
					name = string(k)
				} else {
					return Field{}, fmt.Errorf("type must be a string, got %T", t)
				}
			}
			k, err := ParseKind(name)
			if err != nil {
				return Field{}, err
			}
			f.Type = k
		}
		f.Required, _ = v["required"].(bool)
		f.Unique, _ = v["unique"].(bool)
		f.Default = v["default"]
		if enum, ok := v["enum"].([]any); ok {
			f.Enum = enum
		}
		return f, nil
	}
	return Field{}, fmt.Errorf("unsupported field definition %T", raw)
}

// FromArray declares every name as a string field.
func FromArray(names []string) *Schema {
	s := &Schema{Definition: make(map[string]Field, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		s.Definition[n] = Field{Type: String}
	}
	return s
}

// FromString parses a comma or whitespace separated list of field names,
// each optionally suffixed with ":type" ("name, age:number").
func FromString(list string) (*Schema, error) {
	tokens := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	s := &Schema{Definition: make(map[string]Field, len(tokens))}
	for _, tok := range tokens {
		name, kind, hasKind := strings.Cut(tok, ":")
		f := Field{Type: String}
		if hasKind {
			k, err := ParseKind(kind)
			if err != nil {
				return nil, dserrors.Wrap(dserrors.ErrSchema, fmt.Sprintf("field '%s'", name), err)
			}
			f.Type = k
		}
		s.Definition[name] = f
	}
	return s, nil
}
