// Package docstore is a schema-governed document store over a versioned
// transactional substrate.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/docstore/storage"
)

// Engine owns one database handle and operates on one active collection
// at a time.
type Engine struct {
	sub     storage.Substrate
	schema  *schema.Schema
	name    string
	primary string
	log     *zap.SugaredLogger
	now     func() time.Time
	newID   func() string

	mu          sync.RWMutex
	version     int
	collections []string
	active      string
	handle      storage.Handle
}

// New binds a schema to a database identity. The schema is copied; the
// primary field is declared as a string if absent and rewritten to a
// string if declared otherwise.
func New(sub storage.Substrate, s *schema.Schema, opts Options) (*Engine, error) {
	if sub == nil {
		return nil, dserrors.New(dserrors.ErrInvalidState, "substrate is required")
	}
	if opts.Name == "" {
		return nil, dserrors.New(dserrors.ErrSchema, "database name is required")
	}
	if opts.Version < 0 {
		return nil, dserrors.New(dserrors.ErrVersion, fmt.Sprintf("invalid version %d", opts.Version))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewID
	}
	if opts.Primary == "" {
		opts.Primary = DefaultPrimary
	}

	if s == nil {
		s = schema.New(nil)
	}
	s = s.Clone()
	if f, ok := s.Get(opts.Primary); !ok {
		s.Set(opts.Primary, schema.Field{Type: schema.String})
	} else if f.Type != schema.String {
		opts.Logger.Warnw("primary key must be a string; rewriting declared type",
			"field", opts.Primary, "declared", f.TypeName())
		f.Type = schema.String
		f.Custom = nil
		s.Set(opts.Primary, f)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}

	collections, err := normalizeCollections(opts.Collections, opts.Name)
	if err != nil {
		return nil, err
	}
	return &Engine{
		sub:         sub,
		schema:      s,
		name:        opts.Name,
		primary:     opts.Primary,
		log:         opts.Logger.With("database", opts.Name),
		now:         opts.Now,
		newID:       opts.NewID,
		version:     opts.Version,
		collections: collections,
		active:      collections[0],
	}, nil
}

func normalizeCollections(names []string, fallback string) ([]string, error) {
	if len(names) == 0 {
		return []string{fallback}, nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, dserrors.New(dserrors.ErrSchema, "collection name must not be empty")
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

func (e *Engine) Name() string    { return e.name }
func (e *Engine) Primary() string { return e.primary }

// Schema returns the bound schema. Callers must not mutate it; use
// ExtendSchema before Connect instead.
func (e *Engine) Schema() *schema.Schema { return e.schema }

func (e *Engine) Logger() *zap.SugaredLogger { return e.log }

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) Version() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.collections...)
}

func (e *Engine) ActiveCollection() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle != nil
}

// ExtendSchema declares additional fields and indexes. It is only allowed
// before the first Connect; later declarations for the same field win.
func (e *Engine) ExtendSchema(fields map[string]schema.Field, indexes ...schema.Index) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		return dserrors.New(dserrors.ErrInvalidState, "schema cannot be extended after connect")
	}
	next := e.schema.Clone()
	for name, f := range fields {
		if name == e.primary {
			continue
		}
		next.Set(name, f)
	}
	for _, ix := range indexes {
		next.AddIndex(ix.Field, schema.IndexOptions{Unique: ix.Unique})
	}
	if err := next.Check(); err != nil {
		return err
	}
	*e.schema = *next
	return nil
}

// Connect opens the database, creating missing collections and schema
// indexes in an upgrade epoch. Connecting an open engine is a no-op.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectLocked(ctx)
}

func (e *Engine) connectLocked(ctx context.Context) error {
	if e.handle != nil {
		return nil
	}
	h, err := e.sub.Open(ctx, e.name, e.version, e.upgradeFn(e.collections))
	if err != nil {
		return e.storageErr("open", err)
	}
	// The stored version may already cover our version while lacking a
	// collection or index this engine declares.
	if e.needsUpgrade(h) {
		next := h.Version() + 1
		_ = h.Close()
		h, err = e.sub.Open(ctx, e.name, next, e.upgradeFn(e.collections))
		if err != nil {
			return e.storageErr("open", err)
		}
	}
	e.handle = h
	e.version = h.Version()
	e.adoptStored(h)
	e.log.Debugw("connected", "version", e.version, "collections", e.collections)
	return nil
}

// adoptStored appends collections created by earlier sessions so they can
// be switched to without being declared again.
func (e *Engine) adoptStored(h storage.Handle) {
	for _, name := range h.StoreNames() {
		if !slices.Contains(e.collections, name) {
			e.collections = append(e.collections, name)
		}
	}
}

func (e *Engine) needsUpgrade(h storage.Handle) bool {
	for _, c := range e.collections {
		st, ok := h.Store(c)
		if !ok {
			return true
		}
		for _, ix := range e.schema.Indexes {
			if ix.Field == e.primary {
				continue
			}
			if !hasIndex(st.Indexes, ix.Field) {
				return true
			}
		}
	}
	return false
}

func hasIndex(list []storage.IndexInfo, name string) bool {
	for _, ix := range list {
		if ix.Name == name {
			return true
		}
	}
	return false
}

func (e *Engine) upgradeFn(collections []string) storage.UpgradeFunc {
	names := append([]string(nil), collections...)
	indexes := append([]schema.Index(nil), e.schema.Indexes...)
	return func(ctx context.Context, up storage.Upgrade, oldVersion, newVersion int) error {
		for _, c := range names {
			if !up.HasStore(c) {
				if err := up.CreateStore(ctx, c, e.primary); err != nil {
					return err
				}
				e.log.Debugw("collection created", "collection", c, "version", newVersion)
			}
			existing, err := up.Indexes(c)
			if err != nil {
				return err
			}
			for _, ix := range indexes {
				if ix.Field == e.primary || hasIndex(existing, ix.Field) {
					continue
				}
				if err := up.CreateIndex(ctx, c, ix.Field, ix.Field, ix.Unique); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// reopenLocked closes the handle and reopens at the next version running
// fn as the upgrade.
func (e *Engine) reopenLocked(ctx context.Context, fn storage.UpgradeFunc) error {
	if e.handle == nil {
		if err := e.connectLocked(ctx); err != nil {
			return err
		}
	}
	next := e.handle.Version() + 1
	if err := e.handle.Close(); err != nil {
		return e.storageErr("close", err)
	}
	e.handle = nil
	h, err := e.sub.Open(ctx, e.name, next, fn)
	if err != nil {
		// Leave the engine usable at its previous version.
		if h2, err2 := e.sub.Open(ctx, e.name, e.version, nil); err2 == nil {
			e.handle = h2
		}
		return e.storageErr("upgrade", err)
	}
	e.handle = h
	e.version = h.Version()
	return nil
}

// Disconnect releases the database handle.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return nil
	}
	err := e.handle.Close()
	e.handle = nil
	return err
}

// AddCollections creates the named collections in a new version. Names
// already known are reported, not recreated.
func (e *Engine) AddCollections(ctx context.Context, names ...string) (AddCollectionsResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.connectLocked(ctx); err != nil {
		return AddCollectionsResult{}, err
	}

	known := make(map[string]bool, len(e.collections))
	for _, c := range e.collections {
		known[c] = true
	}
	var added []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return AddCollectionsResult{}, dserrors.New(dserrors.ErrSchema, "collection name must not be empty")
		}
		if known[n] {
			continue
		}
		known[n] = true
		added = append(added, n)
	}
	if len(added) == 0 {
		return AddCollectionsResult{Success: true, AddedCollections: []string{}, AllCollections: append([]string(nil), e.collections...)}, nil
	}

	all := append(append([]string(nil), e.collections...), added...)
	if err := e.reopenLocked(ctx, e.upgradeFn(all)); err != nil {
		return AddCollectionsResult{}, err
	}
	e.collections = all
	e.log.Infow("collections added", "added", added, "version", e.version)
	return AddCollectionsResult{Success: true, AddedCollections: added, AllCollections: append([]string(nil), all...)}, nil
}

// SwitchCollection makes name the active collection.
func (e *Engine) SwitchCollection(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.collections {
		if c == name {
			e.active = name
			e.log.Debugw("collection switched", "collection", name)
			return nil
		}
	}
	return dserrors.CollectionNotFound(name)
}

// current returns the open handle and the active collection, connecting
// first if needed.
func (e *Engine) current(ctx context.Context) (storage.Handle, string, error) {
	e.mu.RLock()
	h, active := e.handle, e.active
	e.mu.RUnlock()
	if h != nil {
		return h, active, nil
	}
	if err := e.Connect(ctx); err != nil {
		return nil, "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.handle == nil {
		return nil, "", dserrors.New(dserrors.ErrInvalidState, "not connected")
	}
	return e.handle, e.active, nil
}

// Drop disconnects and irrecoverably deletes every collection of this
// database.
func (e *Engine) Drop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		_ = e.handle.Close()
		e.handle = nil
	}
	if err := e.sub.DeleteDatabase(ctx, e.name); err != nil {
		return e.storageErr("drop", err)
	}
	e.log.Infow("database dropped")
	return nil
}

// Databases lists every database identity known to the substrate.
func (e *Engine) Databases(ctx context.Context) ([]storage.DatabaseInfo, error) {
	dbs, err := e.sub.Databases(ctx)
	if err != nil {
		return nil, e.storageErr("databases", err)
	}
	return dbs, nil
}

func (e *Engine) storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *dserrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrKeyExists), errors.Is(err, storage.ErrConstraint):
		return dserrors.Wrap(dserrors.ErrDuplicateKey, op, err)
	case errors.Is(err, storage.ErrVersion):
		return dserrors.Wrap(dserrors.ErrVersion, op, err)
	case errors.Is(err, storage.ErrNoStore):
		return dserrors.Wrap(dserrors.ErrCollectionNotFound, op, err)
	case errors.Is(err, storage.ErrNoDatabase):
		return dserrors.Wrap(dserrors.ErrNotFound, op, err)
	case errors.Is(err, storage.ErrClosed), errors.Is(err, storage.ErrReadOnly), errors.Is(err, storage.ErrNotInScope):
		return dserrors.Wrap(dserrors.ErrInvalidState, op, err)
	}
	return dserrors.Wrap(dserrors.ErrStorage, op, err)
}
