// Package schema declares the fields, constraints and indexes of a
// document collection.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	dserrors "github.com/nonibytes/docsync/docstore/errors"
)

// ValidateFunc is a custom field predicate. A returned error rejects the
// value; it may block and should honour ctx.
type ValidateFunc func(ctx context.Context, value any) error

// Field declares one field of a record.
type Field struct {
	Type     Kind         `json:"type" yaml:"type"`
	Required bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool         `json:"unique,omitempty" yaml:"unique,omitempty"`
	Default  any          `json:"default,omitempty" yaml:"default,omitempty"`
	Enum     []any        `json:"enum,omitempty" yaml:"enum,omitempty"`
	Validate ValidateFunc `json:"-" yaml:"-"`
	Custom   CustomType   `json:"-" yaml:"-"`
}

// Accepts reports whether v conforms to the field's declared type. nil is
// never accepted; callers decide what absence means.
func (f Field) Accepts(v any) bool {
	if f.Type == Custom {
		return f.Custom != nil && f.Custom.Check(v)
	}
	return KindOf(v) == f.Type
}

// TypeName is the declared type as shown in error messages.
func (f Field) TypeName() string {
	if f.Type == Custom && f.Custom != nil {
		return f.Custom.Name()
	}
	return string(f.Type)
}

// Index declares a secondary index on a field.
type Index struct {
	Field  string `json:"field" yaml:"field"`
	Unique bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
}

type IndexOptions struct {
	Unique bool
}

// Schema is the field definition plus ordered index declarations.
type Schema struct {
	Definition map[string]Field `json:"definition" yaml:"fields"`
	Indexes    []Index          `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

var validFieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New builds a schema from a definition and index list.
func New(def map[string]Field, indexes ...Index) *Schema {
	s := &Schema{Definition: make(map[string]Field, len(def))}
	for name, f := range def {
		if f.Type == "" {
			f.Type = String
		}
		s.Definition[name] = f
	}
	s.Indexes = append(s.Indexes, indexes...)
	return s
}

// Check validates the definition itself.
func (s *Schema) Check() error {
	if s == nil || len(s.Definition) == 0 {
		return dserrors.SchemaError("schema must declare at least one field")
	}
	for _, name := range s.Fields() {
		f := s.Definition[name]
		if !validFieldNameRe.MatchString(name) {
			return dserrors.SchemaError(fmt.Sprintf("invalid field name: %s (must match %s)", name, validFieldNameRe.String()))
		}
		if !f.Type.Valid() {
			return dserrors.SchemaError(fmt.Sprintf("unknown field type '%s' for field '%s'", f.Type, name))
		}
		if f.Type == Custom && f.Custom == nil {
			return dserrors.SchemaError(fmt.Sprintf("field '%s': custom type requires a CustomType", name))
		}
	}
	seen := make(map[string]bool, len(s.Indexes))
	for _, ix := range s.Indexes {
		if !s.HasField(ix.Field) {
			return dserrors.SchemaError(fmt.Sprintf("index on undeclared field '%s'", ix.Field))
		}
		if seen[ix.Field] {
			return dserrors.SchemaError(fmt.Sprintf("duplicate index on field '%s'", ix.Field))
		}
		seen[ix.Field] = true
	}
	return nil
}

// Fields returns the declared field names in sorted order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.Definition))
	for name := range s.Definition {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Schema) Get(name string) (Field, bool) {
	f, ok := s.Definition[name]
	return f, ok
}

func (s *Schema) HasField(name string) bool {
	_, ok := s.Definition[name]
	return ok
}

// Set declares or replaces a field.
func (s *Schema) Set(name string, f Field) *Schema {
	if s.Definition == nil {
		s.Definition = make(map[string]Field)
	}
	if f.Type == "" {
		f.Type = String
	}
	s.Definition[name] = f
	return s
}

// AddIndex declares an index on field, replacing any existing
// declaration for the same field.
func (s *Schema) AddIndex(field string, opts IndexOptions) *Schema {
	for i := range s.Indexes {
		if s.Indexes[i].Field == field {
			s.Indexes[i].Unique = opts.Unique
			return s
		}
	}
	s.Indexes = append(s.Indexes, Index{Field: field, Unique: opts.Unique})
	return s
}

func (s *Schema) RemoveIndex(field string) *Schema {
	out := s.Indexes[:0]
	for _, ix := range s.Indexes {
		if ix.Field != field {
			out = append(out, ix)
		}
	}
	s.Indexes = out
	return s
}

// Index returns the index declared on field, if any.
func (s *Schema) Index(field string) (Index, bool) {
	for _, ix := range s.Indexes {
		if ix.Field == field {
			return ix, true
		}
	}
	return Index{}, false
}

func (s *Schema) Clone() *Schema {
	c := &Schema{Definition: make(map[string]Field, len(s.Definition))}
	for name, f := range s.Definition {
		f.Enum = append([]any(nil), f.Enum...)
		c.Definition[name] = f
	}
	c.Indexes = append([]Index(nil), s.Indexes...)
	return c
}

// Validate checks the type of every declared field present in data and
// fails on the first mismatch. Absent and nil values are skipped.
func (s *Schema) Validate(data map[string]any) error {
	return s.ValidateContext(context.Background(), data)
}

// ValidateContext is Validate with cancellation between fields.
func (s *Schema) ValidateContext(ctx context.Context, data map[string]any) error {
	for _, name := range s.Fields() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok := data[name]
		if !ok || v == nil {
			continue
		}
		f := s.Definition[name]
		if !f.Accepts(v) {
			return dserrors.TypeMismatch(name, f.TypeName(), Describe(v))
		}
	}
	return nil
}
