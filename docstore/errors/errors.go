package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

type ErrorKind string

const (
	ErrTypeMismatch       ErrorKind = "type_mismatch"
	ErrRequiredMissing    ErrorKind = "required_field_missing"
	ErrUniqueViolation    ErrorKind = "unique_constraint_violation"
	ErrEnumViolation      ErrorKind = "enum_violation"
	ErrCustomValidation   ErrorKind = "custom_validation"
	ErrDuplicateKey       ErrorKind = "duplicate_key"
	ErrMissingIdentifier  ErrorKind = "missing_identifier"
	ErrNotFound           ErrorKind = "not_found"
	ErrCollectionNotFound ErrorKind = "collection_not_found"
	ErrTransport          ErrorKind = "transport_failure"
	ErrSchemaMismatch     ErrorKind = "schema_mismatch"
	ErrValidation         ErrorKind = "validation"
	ErrSchema             ErrorKind = "schema"
	ErrQuery              ErrorKind = "query"
	ErrInvalidState       ErrorKind = "invalid_state"
	ErrVersion            ErrorKind = "version"
	ErrStorage            ErrorKind = "storage"
	ErrCrypto             ErrorKind = "crypto"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Field != "" {
		base = fmt.Sprintf("%s (field=%s)", base, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func FieldError(kind ErrorKind, field, msg string) *Error {
	return &Error{Kind: kind, Field: field, Message: msg}
}

func TypeMismatch(field, expected, actual string) *Error {
	return &Error{
		Kind:    ErrTypeMismatch,
		Field:   field,
		Message: fmt.Sprintf("expected %s, got %s", expected, actual),
	}
}

func RequiredMissing(field string) *Error {
	return &Error{Kind: ErrRequiredMissing, Field: field, Message: "required field is missing"}
}

func UniqueViolation(field string, value any) *Error {
	return &Error{Kind: ErrUniqueViolation, Field: field, Message: fmt.Sprintf("value %v already exists", value)}
}

func NotFoundError(id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("record not found: %s", id)}
}

func CollectionNotFound(name string) *Error {
	return &Error{Kind: ErrCollectionNotFound, Message: fmt.Sprintf("unknown collection: %s", name)}
}

func SchemaError(msg string) *Error {
	return &Error{Kind: ErrSchema, Message: msg}
}

// ValidationError reports every violation found by a single create or
// update call.
type ValidationError struct {
	Violations []*Error
}

// Validation collects the *Error values inside err (usually built with
// multierr.Append) into one aggregate. It returns nil when err is nil.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	v := &ValidationError{}
	for _, e := range multierr.Errors(err) {
		var de *Error
		if stderrors.As(e, &de) {
			v.Violations = append(v.Violations, de)
			continue
		}
		v.Violations = append(v.Violations, Wrap(ErrCustomValidation, "validation failed", e))
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Violations))
	for _, e := range v.Violations {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("%s: %d violation(s): %s", ErrValidation, len(v.Violations), strings.Join(parts, "; "))
}

func (v *ValidationError) Unwrap() []error {
	out := make([]error, len(v.Violations))
	for i, e := range v.Violations {
		out[i] = e
	}
	return out
}

// IsKind reports whether err, or any violation it aggregates, has the
// given kind.
func IsKind(err error, kind ErrorKind) bool {
	var v *ValidationError
	if stderrors.As(err, &v) {
		if kind == ErrValidation {
			return true
		}
		for _, e := range v.Violations {
			if e.Kind == kind {
				return true
			}
		}
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err, or "" if none.
func KindOf(err error) ErrorKind {
	var v *ValidationError
	if stderrors.As(err, &v) {
		return ErrValidation
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}
