package docstore

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/docstore/storage"
)

type validateMode int

const (
	forCreate validateMode = iota
	forUpdate
)

// validate checks every declared field of rec and reports all violations
// together. On update only fields present in rec are checked and unique
// fields are not probed.
func (e *Engine) validate(ctx context.Context, h storage.Handle, coll string, rec Record, mode validateMode) error {
	var errs error
	var uniques []string

	for _, name := range e.schema.Fields() {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := e.schema.Definition[name]
		v, present := rec[name]
		if !present || v == nil {
			if f.Required && (mode == forCreate || present) {
				errs = multierr.Append(errs, dserrors.RequiredMissing(name))
			}
			continue
		}
		if !accepts(f, v) {
			errs = multierr.Append(errs, dserrors.TypeMismatch(name, f.TypeName(), schema.Describe(v)))
			continue
		}
		if len(f.Enum) > 0 && !inEnum(f.Enum, v) {
			errs = multierr.Append(errs, dserrors.FieldError(dserrors.ErrEnumViolation, name,
				fmt.Sprintf("value %v is not one of %v", v, f.Enum)))
		}
		if f.Validate != nil {
			if err := runValidate(ctx, f.Validate, v); err != nil {
				errs = multierr.Append(errs, &dserrors.Error{
					Kind: dserrors.ErrCustomValidation, Field: name, Message: "validation failed", Cause: err,
				})
			}
		}
		if mode == forCreate && f.Unique && name != e.primary {
			uniques = append(uniques, name)
		}
	}

	if len(uniques) > 0 {
		taken, err := e.probeUnique(ctx, h, coll, rec, uniques)
		if err != nil {
			return err
		}
		for _, name := range taken {
			errs = multierr.Append(errs, dserrors.UniqueViolation(name, rec[name]))
		}
	}
	return dserrors.Validation(errs)
}

// accepts is the declared-type check. Dates also accept a parseable
// string since the write casts it.
func accepts(f schema.Field, v any) bool {
	if f.Accepts(v) {
		return true
	}
	if f.Type == schema.Date {
		if s, ok := v.(string); ok {
			_, ok := query.ParseTime(s)
			return ok
		}
	}
	return false
}

func inEnum(enum []any, v any) bool {
	for _, allowed := range enum {
		if query.Equal(v, allowed) {
			return true
		}
	}
	return false
}

// runValidate treats a panicking validator as a failed one.
func runValidate(ctx context.Context, fn schema.ValidateFunc, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return fn(ctx, v)
}

// probeUnique scans coll for records already holding any of the values
// rec has for fields. It returns the fields that collide.
func (e *Engine) probeUnique(ctx context.Context, h storage.Handle, coll string, rec Record, fields []string) ([]string, error) {
	tx, err := h.Begin(ctx, storage.ReadOnly, coll)
	if err != nil {
		return nil, e.storageErr("unique probe", err)
	}
	defer tx.Rollback()

	taken := make(map[string]bool, len(fields))
	err = tx.Scan(ctx, coll, func(_ string, existing storage.Record) error {
		existing = e.revive(existing)
		for _, name := range fields {
			if taken[name] {
				continue
			}
			if ev, ok := existing[name]; ok && ev != nil && query.Equal(ev, rec[name]) {
				taken[name] = true
			}
		}
		if len(taken) == len(fields) {
			return storage.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, e.storageErr("unique probe", err)
	}
	var out []string
	for _, name := range fields {
		if taken[name] {
			out = append(out, name)
		}
	}
	return out, nil
}
