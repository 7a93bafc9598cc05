package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type upgrader struct {
	s      *SQLSubstrate
	tx     *sql.Tx
	db     string
	stores map[string]*storeMeta
}

func (u *upgrader) StoreNames() []string { return sortedStoreNames(u.stores) }

func (u *upgrader) HasStore(name string) bool {
	_, ok := u.stores[name]
	return ok
}

func (u *upgrader) CreateStore(ctx context.Context, name, keyPath string) error {
	if name == "" {
		return errors.New("storage: store name is required")
	}
	if u.HasStore(name) {
		return fmt.Errorf("%w: %s", ErrStoreExists, name)
	}
	table := TableName(u.db, name)
	if _, err := u.tx.ExecContext(ctx, u.s.adapter.DDL().CreateTable(table)); err != nil {
		return fmt.Errorf("create store %s: %w", name, err)
	}
	if _, err := u.tx.ExecContext(ctx, u.s.sqlt.InsertStore, u.db, name, keyPath, table); err != nil {
		return err
	}
	u.stores[name] = &storeMeta{name: name, keyPath: keyPath, table: table, sqlNames: make(map[string]string)}
	return nil
}

func (u *upgrader) DeleteStore(ctx context.Context, name string) error {
	m, ok := u.stores[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStore, name)
	}
	if _, err := u.tx.ExecContext(ctx, u.s.adapter.DDL().DropTable(m.table)); err != nil {
		return fmt.Errorf("drop store %s: %w", name, err)
	}
	if _, err := u.tx.ExecContext(ctx, u.s.sqlt.DeleteIndexesByStore, u.db, name); err != nil {
		return err
	}
	if _, err := u.tx.ExecContext(ctx, u.s.sqlt.DeleteStore, u.db, name); err != nil {
		return err
	}
	delete(u.stores, name)
	return nil
}

func (u *upgrader) CreateIndex(ctx context.Context, store, name, field string, unique bool) error {
	m, ok := u.stores[store]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStore, store)
	}
	if err := checkField(field); err != nil {
		return err
	}
	if _, exists := m.sqlNames[name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, store, name)
	}
	sqlName := IndexName(m.table, name)
	if _, err := u.tx.ExecContext(ctx, u.s.adapter.DDL().CreateIndex(sqlName, m.table, field, unique)); err != nil {
		if u.s.adapter.IsUniqueViolation(err) {
			return fmt.Errorf("%w: existing records of %s repeat %s", ErrConstraint, store, field)
		}
		return fmt.Errorf("create index %s.%s: %w", store, name, err)
	}
	flag := 0
	if unique {
		flag = 1
	}
	if _, err := u.tx.ExecContext(ctx, u.s.sqlt.InsertIndex, u.db, store, name, field, flag, sqlName); err != nil {
		return err
	}
	m.indexes = append(m.indexes, IndexInfo{Name: name, Field: field, Unique: unique})
	m.sqlNames[name] = sqlName
	return nil
}

func (u *upgrader) DeleteIndex(ctx context.Context, store, name string) error {
	m, ok := u.stores[store]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStore, store)
	}
	sqlName, ok := m.sqlNames[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoIndex, store, name)
	}
	if _, err := u.tx.ExecContext(ctx, u.s.adapter.DDL().DropIndex(sqlName)); err != nil {
		return fmt.Errorf("drop index %s.%s: %w", store, name, err)
	}
	if _, err := u.tx.ExecContext(ctx, u.s.sqlt.DeleteIndex, u.db, store, name); err != nil {
		return err
	}
	out := m.indexes[:0]
	for _, ix := range m.indexes {
		if ix.Name != name {
			out = append(out, ix)
		}
	}
	m.indexes = out
	delete(m.sqlNames, name)
	return nil
}

func (u *upgrader) Indexes(store string) ([]IndexInfo, error) {
	m, ok := u.stores[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoStore, store)
	}
	return append([]IndexInfo(nil), m.indexes...), nil
}

type sqlHandle struct {
	s       *SQLSubstrate
	name    string
	version int
	stores  map[string]*storeMeta

	mu     sync.Mutex
	closed bool
}

func (h *sqlHandle) Name() string         { return h.name }
func (h *sqlHandle) Version() int         { return h.version }
func (h *sqlHandle) StoreNames() []string { return sortedStoreNames(h.stores) }

func (h *sqlHandle) Store(name string) (StoreInfo, bool) {
	m, ok := h.stores[name]
	if !ok {
		return StoreInfo{}, false
	}
	return m.info(), true
}

func (h *sqlHandle) Begin(ctx context.Context, mode Mode, stores ...string) (Tx, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	scope := make(map[string]*storeMeta, len(stores))
	for _, name := range stores {
		m, ok := h.stores[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoStore, name)
		}
		scope[name] = m
	}
	tx, err := h.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{h: h, tx: tx, mode: mode, scope: scope}, nil
}

func (h *sqlHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.s.release(h)
	return nil
}

type sqlTx struct {
	h     *sqlHandle
	tx    *sql.Tx
	mode  Mode
	scope map[string]*storeMeta
	done  bool
}

func (t *sqlTx) records(store string, write bool) (RecordSQL, error) {
	if t.done {
		return RecordSQL{}, ErrTxDone
	}
	if write && t.mode != ReadWrite {
		return RecordSQL{}, ErrReadOnly
	}
	m, ok := t.scope[store]
	if !ok {
		return RecordSQL{}, fmt.Errorf("%w: %s", ErrNotInScope, store)
	}
	return t.h.s.adapter.Records(m.table), nil
}

func (t *sqlTx) Get(ctx context.Context, store, key string) (Record, bool, error) {
	q, err := t.records(store, false)
	if err != nil {
		return nil, false, err
	}
	var data string
	err = t.tx.QueryRowContext(ctx, q.Get, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", store, key, err)
	}
	return rec, true, nil
}

func (t *sqlTx) Add(ctx context.Context, store, key string, rec Record) error {
	q, err := t.records(store, true)
	if err != nil {
		return err
	}
	if _, found, err := t.Get(ctx, store, key); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %s/%s", ErrKeyExists, store, key)
	}
	return t.write(ctx, q.Insert, store, key, rec)
}

func (t *sqlTx) Put(ctx context.Context, store, key string, rec Record) error {
	q, err := t.records(store, true)
	if err != nil {
		return err
	}
	return t.write(ctx, q.Upsert, store, key, rec)
}

func (t *sqlTx) write(ctx context.Context, stmt, store, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", store, key, err)
	}
	if _, err := t.tx.ExecContext(ctx, stmt, key, string(b)); err != nil {
		if t.h.s.adapter.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s: %v", ErrConstraint, store, key, err)
		}
		return err
	}
	return nil
}

func (t *sqlTx) Delete(ctx context.Context, store, key string) error {
	q, err := t.records(store, true)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, q.Delete, key)
	return err
}

type scanned struct {
	key  string
	data string
}

// Scan loads the matching rows before invoking fn so fn may issue further
// statements on the same transaction.
func (t *sqlTx) Scan(ctx context.Context, store string, fn func(key string, rec Record) error) error {
	q, err := t.records(store, false)
	if err != nil {
		return err
	}
	rows, err := t.tx.QueryContext(ctx, q.Scan)
	if err != nil {
		return err
	}
	var all []scanned
	for rows.Next() {
		var r scanned
		if err := rows.Scan(&r.key, &r.data); err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decode(r.data)
		if err != nil {
			return fmt.Errorf("decode %s/%s: %w", store, r.key, err)
		}
		if err := fn(r.key, rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *sqlTx) Count(ctx context.Context, store string) (int, error) {
	q, err := t.records(store, false)
	if err != nil {
		return 0, err
	}
	var n int
	err = t.tx.QueryRowContext(ctx, q.Count).Scan(&n)
	return n, err
}

func (t *sqlTx) Clear(ctx context.Context, store string) error {
	q, err := t.records(store, true)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, q.Clear)
	return err
}

func (t *sqlTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func decode(data string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}
