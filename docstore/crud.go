package docstore

import (
	"context"

	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/storage"
)

// Create validates and stores a new record in the active collection. A
// missing primary key is generated. The returned record is the input with
// defaults and the primary key applied.
func (e *Engine) Create(ctx context.Context, data Record, opts ...CreateOptions) (Record, error) {
	var o CreateOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	h, coll, err := e.current(ctx)
	if err != nil {
		return nil, err
	}

	rec := copyRecord(data)
	e.applyDefaults(rec)
	key := keyString(rec[e.primary])
	if key == "" {
		key = e.newID()
	}
	rec[e.primary] = key

	if o.CastToSchema {
		rec = e.cast(rec)
	}
	if err := e.validate(ctx, h, coll, rec, forCreate); err != nil {
		return nil, err
	}

	tx, err := h.Begin(ctx, storage.ReadWrite, coll)
	if err != nil {
		return nil, e.storageErr("create", err)
	}
	defer tx.Rollback()
	if err := tx.Add(ctx, coll, key, e.cast(rec)); err != nil {
		return nil, e.storageErr("create", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, e.storageErr("create", err)
	}
	return rec, nil
}

func (e *Engine) applyDefaults(rec Record) {
	for name, f := range e.schema.Definition {
		if f.Default == nil {
			continue
		}
		if v, ok := rec[name]; ok && v != nil {
			continue
		}
		if fn, ok := f.Default.(func() any); ok {
			rec[name] = fn()
			continue
		}
		rec[name] = f.Default
	}
}

// FindByID looks up one record. found is false when no record has id.
func (e *Engine) FindByID(ctx context.Context, id string, fields ...string) (rec Record, found bool, err error) {
	h, coll, err := e.current(ctx)
	if err != nil {
		return nil, false, err
	}
	tx, err := h.Begin(ctx, storage.ReadOnly, coll)
	if err != nil {
		return nil, false, e.storageErr("find", err)
	}
	defer tx.Rollback()

	rec, found, err = tx.Get(ctx, coll, id)
	if err != nil || !found {
		return nil, false, e.storageErr("find", err)
	}
	return project(e.revive(rec), fields), true, nil
}

// Get is FindByID without projection.
func (e *Engine) Get(ctx context.Context, id string) (Record, bool, error) {
	return e.FindByID(ctx, id)
}

// Find scans the active collection in key order and returns the records
// matching opts.
func (e *Engine) Find(ctx context.Context, opts FindOptions) ([]Record, error) {
	q, err := e.resolveQuery(opts)
	if err != nil {
		return nil, err
	}
	h, coll, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := h.Begin(ctx, storage.ReadOnly, coll)
	if err != nil {
		return nil, e.storageErr("find", err)
	}
	defer tx.Rollback()

	out := []Record{}
	err = tx.Scan(ctx, coll, func(_ string, rec storage.Record) error {
		rec = e.revive(rec)
		if q.Matches(rec) {
			out = append(out, project(rec, opts.Fields))
		}
		return nil
	})
	if err != nil {
		return nil, e.storageErr("find", err)
	}
	return out, nil
}

func (e *Engine) resolveQuery(opts FindOptions) (query.Query, error) {
	if !opts.Query.Empty() || len(opts.Where) == 0 {
		e.warnUnknown(opts.Query)
		return opts.Query, nil
	}
	q, err := query.Parse(opts.Where)
	if err != nil {
		return query.Query{}, dserrors.Wrap(dserrors.ErrQuery, "parse query", err)
	}
	e.warnUnknown(q)
	return q, nil
}

func (e *Engine) warnUnknown(q query.Query) {
	if ops := q.Unknown(); len(ops) > 0 {
		e.log.Warnw("unknown query operators match nothing", "operators", ops)
	}
}

// Update merges patch over the stored record with id and writes it back.
// When id is empty it is taken from patch. The primary key in patch is
// ignored.
func (e *Engine) Update(ctx context.Context, patch Record, id string) (Record, error) {
	if id == "" {
		id = keyString(patch[e.primary])
	}
	if id == "" {
		return nil, dserrors.New(dserrors.ErrMissingIdentifier, "update requires an id")
	}
	h, coll, err := e.current(ctx)
	if err != nil {
		return nil, err
	}

	p := copyRecord(patch)
	delete(p, e.primary)
	if err := e.validate(ctx, h, coll, p, forUpdate); err != nil {
		return nil, err
	}
	p = e.cast(p)

	tx, err := h.Begin(ctx, storage.ReadWrite, coll)
	if err != nil {
		return nil, e.storageErr("update", err)
	}
	defer tx.Rollback()

	existing, found, err := tx.Get(ctx, coll, id)
	if err != nil {
		return nil, e.storageErr("update", err)
	}
	if !found {
		return nil, dserrors.NotFoundError(id)
	}
	merged := copyRecord(existing)
	for k, v := range p {
		merged[k] = v
	}
	merged[e.primary] = id
	if err := tx.Put(ctx, coll, id, merged); err != nil {
		return nil, e.storageErr("update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, e.storageErr("update", err)
	}
	return e.revive(merged), nil
}

// Put replaces the record stored under its primary key without
// validation or casting.
func (e *Engine) Put(ctx context.Context, rec Record) error {
	key := keyString(rec[e.primary])
	if key == "" {
		return dserrors.New(dserrors.ErrMissingIdentifier, "put requires a primary key")
	}
	h, coll, err := e.current(ctx)
	if err != nil {
		return err
	}
	r := copyRecord(rec)
	r[e.primary] = key

	tx, err := h.Begin(ctx, storage.ReadWrite, coll)
	if err != nil {
		return e.storageErr("put", err)
	}
	defer tx.Rollback()
	if err := tx.Put(ctx, coll, key, r); err != nil {
		return e.storageErr("put", err)
	}
	return e.storageErr("put", tx.Commit())
}

// Delete removes the record with id. Deleting a missing id succeeds.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dserrors.New(dserrors.ErrMissingIdentifier, "delete requires an id")
	}
	h, coll, err := e.current(ctx)
	if err != nil {
		return err
	}
	tx, err := h.Begin(ctx, storage.ReadWrite, coll)
	if err != nil {
		return e.storageErr("delete", err)
	}
	defer tx.Rollback()
	if err := tx.Delete(ctx, coll, id); err != nil {
		return e.storageErr("delete", err)
	}
	return e.storageErr("delete", tx.Commit())
}

// DeleteMany finds the matching records and deletes them one by one. It
// is not atomic: a failure leaves the records deleted so far removed,
// and concurrent writers may observe a partial result.
func (e *Engine) DeleteMany(ctx context.Context, opts FindOptions) (int, error) {
	opts.Fields = nil
	recs, err := e.Find(ctx, opts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if err := e.Delete(ctx, keyString(r[e.primary])); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (e *Engine) Count(ctx context.Context) (int, error) {
	h, coll, err := e.current(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := h.Begin(ctx, storage.ReadOnly, coll)
	if err != nil {
		return 0, e.storageErr("count", err)
	}
	defer tx.Rollback()
	n, err := tx.Count(ctx, coll)
	return n, e.storageErr("count", err)
}

// Clear removes every record of the active collection.
func (e *Engine) Clear(ctx context.Context) error {
	h, coll, err := e.current(ctx)
	if err != nil {
		return err
	}
	tx, err := h.Begin(ctx, storage.ReadWrite, coll)
	if err != nil {
		return e.storageErr("clear", err)
	}
	defer tx.Rollback()
	if err := tx.Clear(ctx, coll); err != nil {
		return e.storageErr("clear", err)
	}
	return e.storageErr("clear", tx.Commit())
}
