package docstore

import (
	"context"
	"errors"
	"fmt"

	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/storage"
)

// CheckIndex reports the substrate index named field on the active
// collection. These index helpers act on the store directly and do not
// touch the schema's declared indexes.
func (e *Engine) CheckIndex(ctx context.Context, field string) (storage.IndexInfo, bool, error) {
	h, coll, err := e.current(ctx)
	if err != nil {
		return storage.IndexInfo{}, false, err
	}
	st, ok := h.Store(coll)
	if !ok {
		return storage.IndexInfo{}, false, dserrors.CollectionNotFound(coll)
	}
	for _, ix := range st.Indexes {
		if ix.Name == field {
			return ix, true, nil
		}
	}
	return storage.IndexInfo{}, false, nil
}

// CreateIndex adds an index on field to the active collection in a new
// version. Creating an index that exists is a no-op.
func (e *Engine) CreateIndex(ctx context.Context, field string, opts IndexOptions) error {
	if _, ok, err := e.CheckIndex(ctx, field); err != nil || ok {
		return err
	}
	if !storage.ValidField(field) {
		return dserrors.FieldError(dserrors.ErrSchema, field, "invalid index field name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	coll := e.active
	err := e.reopenLocked(ctx, func(ctx context.Context, up storage.Upgrade, _, _ int) error {
		return up.CreateIndex(ctx, coll, field, field, opts.Unique)
	})
	if errors.Is(err, storage.ErrConstraint) {
		return dserrors.Wrap(dserrors.ErrUniqueViolation, fmt.Sprintf("existing records repeat '%s'", field), err)
	}
	if err == nil {
		e.log.Infow("index created", "collection", coll, "field", field, "unique", opts.Unique, "version", e.version)
	}
	return err
}

// DropIndex removes the index named field from the active collection in a
// new version.
func (e *Engine) DropIndex(ctx context.Context, field string) error {
	_, ok, err := e.CheckIndex(ctx, field)
	if err != nil {
		return err
	}
	if !ok {
		return dserrors.FieldError(dserrors.ErrNotFound, field, "no such index")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	coll := e.active
	err = e.reopenLocked(ctx, func(ctx context.Context, up storage.Upgrade, _, _ int) error {
		return up.DeleteIndex(ctx, coll, field)
	})
	if err == nil {
		e.log.Infow("index dropped", "collection", coll, "field", field, "version", e.version)
	}
	return err
}
