package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Options struct {
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

func DefaultOptions() Options {
	return Options{Now: time.Now}
}

// SQLSubstrate implements Substrate over a relational database. Every
// store is one table keyed by a text primary key holding a JSON document;
// every store index is a SQL expression index over one JSON field.
type SQLSubstrate struct {
	adapter Adapter
	db      *sql.DB
	sqlt    SQL
	log     *zap.SugaredLogger
	now     func() time.Time

	mu      sync.Mutex
	handles map[*sqlHandle]struct{}
	closed  bool
}

// NewSQL connects through adapter and ensures the catalog tables exist.
func NewSQL(ctx context.Context, adapter Adapter, opts Options) (*SQLSubstrate, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	db, err := adapter.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", adapter.Backend(), err)
	}
	for _, stmt := range adapter.DDL().Catalog() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create catalog: %w", err)
		}
	}
	opts.Logger.Debugw("substrate ready", "backend", adapter.Backend(), "location", adapter.Location())
	return &SQLSubstrate{
		adapter: adapter,
		db:      db,
		sqlt:    adapter.SQL(),
		log:     opts.Logger,
		now:     opts.Now,
		handles: make(map[*sqlHandle]struct{}),
	}, nil
}

func (s *SQLSubstrate) Backend() Backend { return s.adapter.Backend() }

// DB exposes the underlying pool for diagnostics.
func (s *SQLSubstrate) DB() *sql.DB { return s.db }

func (s *SQLSubstrate) storedVersion(ctx context.Context, q queryer, name string) (int, bool, error) {
	var v int
	err := q.QueryRowContext(ctx, s.sqlt.GetDatabase, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *SQLSubstrate) Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (Handle, error) {
	if name == "" {
		return nil, errors.New("storage: database name is required")
	}
	if version < 0 {
		return nil, fmt.Errorf("storage: invalid version %d", version)
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stored, exists, err := s.storedVersion(ctx, s.db, name)
	if err != nil {
		return nil, fmt.Errorf("read version of %s: %w", name, err)
	}
	if version == 0 {
		version = 1
		if exists {
			version = stored
		}
	}
	if exists && version < stored {
		return nil, fmt.Errorf("%w: %s is at %d, requested %d", ErrVersion, name, stored, version)
	}
	if !exists || version > stored {
		if err := s.upgrade(ctx, name, version, upgrade); err != nil {
			return nil, err
		}
	}

	h, err := s.load(ctx, s.db, name, version)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()
	return h, nil
}

func (s *SQLSubstrate) upgrade(ctx context.Context, name string, version int, fn UpgradeFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.adapter.LockDatabase(ctx, tx, name); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	// Another connection may have upgraded while we waited for the lock.
	stored, exists, err := s.storedVersion(ctx, tx, name)
	if err != nil {
		return err
	}
	if exists && stored > version {
		return fmt.Errorf("%w: %s is at %d, requested %d", ErrVersion, name, stored, version)
	}
	if exists && stored == version {
		return nil
	}

	if !exists {
		if _, err := tx.ExecContext(ctx, s.sqlt.InsertDatabase, name, 0, s.now().UnixMilli()); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	cat, err := s.readCatalog(ctx, tx, name)
	if err != nil {
		return err
	}
	up := &upgrader{s: s, tx: tx, db: name, stores: cat}

	s.log.Debugw("upgrade epoch", "database", name, "from", stored, "to", version)
	if fn != nil {
		if err := fn(ctx, up, stored, version); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.sqlt.SetVersion, name, version); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeMeta struct {
	name    string
	keyPath string
	table   string
	indexes []IndexInfo
	// sqlNames maps index name to SQL index name.
	sqlNames map[string]string
}

func (m *storeMeta) info() StoreInfo {
	return StoreInfo{Name: m.name, KeyPath: m.keyPath, Indexes: append([]IndexInfo(nil), m.indexes...)}
}

func (s *SQLSubstrate) readCatalog(ctx context.Context, q queryer, name string) (map[string]*storeMeta, error) {
	stores := make(map[string]*storeMeta)

	rows, err := q.QueryContext(ctx, s.sqlt.ListStores, name)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	for rows.Next() {
		m := &storeMeta{sqlNames: make(map[string]string)}
		if err := rows.Scan(&m.name, &m.keyPath, &m.table); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stores[m.name] = m
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, s.sqlt.ListIndexes, name)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var store, ixName, field, sqlName string
		var unique int
		if err := rows.Scan(&store, &ixName, &field, &unique, &sqlName); err != nil {
			return nil, err
		}
		m, ok := stores[store]
		if !ok {
			continue
		}
		m.indexes = append(m.indexes, IndexInfo{Name: ixName, Field: field, Unique: unique != 0})
		m.sqlNames[ixName] = sqlName
	}
	return stores, rows.Err()
}

func (s *SQLSubstrate) load(ctx context.Context, q queryer, name string, version int) (*sqlHandle, error) {
	stores, err := s.readCatalog(ctx, q, name)
	if err != nil {
		return nil, err
	}
	return &sqlHandle{s: s, name: name, version: version, stores: stores}, nil
}

func (s *SQLSubstrate) Databases(ctx context.Context) ([]DatabaseInfo, error) {
	rows, err := s.db.QueryContext(ctx, s.sqlt.ListDatabases)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DatabaseInfo
	for rows.Next() {
		var d DatabaseInfo
		if err := rows.Scan(&d.Name, &d.Version); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLSubstrate) Describe(ctx context.Context, name string) (DatabaseInfo, error) {
	version, exists, err := s.storedVersion(ctx, s.db, name)
	if err != nil {
		return DatabaseInfo{}, err
	}
	if !exists {
		return DatabaseInfo{}, fmt.Errorf("%w: %s", ErrNoDatabase, name)
	}
	stores, err := s.readCatalog(ctx, s.db, name)
	if err != nil {
		return DatabaseInfo{}, err
	}
	info := DatabaseInfo{Name: name, Version: version}
	for _, n := range sortedStoreNames(stores) {
		info.Stores = append(info.Stores, stores[n].info())
	}
	return info, nil
}

// DeleteDatabase drops every store of name. Deleting an unknown database
// succeeds.
func (s *SQLSubstrate) DeleteDatabase(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.adapter.LockDatabase(ctx, tx, name); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}
	stores, err := s.readCatalog(ctx, tx, name)
	if err != nil {
		return err
	}
	ddl := s.adapter.DDL()
	for _, n := range sortedStoreNames(stores) {
		if _, err := tx.ExecContext(ctx, ddl.DropTable(stores[n].table)); err != nil {
			return fmt.Errorf("drop store %s: %w", n, err)
		}
	}
	for _, stmt := range []string{s.sqlt.DeleteIndexesByDB, s.sqlt.DeleteStoresByDB, s.sqlt.DeleteDatabase} {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debugw("database deleted", "database", name, "stores", len(stores))
	return nil
}

func (s *SQLSubstrate) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *SQLSubstrate) release(h *sqlHandle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Close closes every open handle and the connection pool.
func (s *SQLSubstrate) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*sqlHandle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var err error
	for _, h := range handles {
		err = multierr.Append(err, h.Close())
	}
	err = multierr.Append(err, s.db.Close())
	return multierr.Append(err, s.adapter.Close())
}

func sortedStoreNames(m map[string]*storeMeta) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
