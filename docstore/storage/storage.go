// Package storage defines the versioned, transactional key-value substrate
// the document engine runs on, and implements it over database/sql.
package storage

import (
	"context"
	"errors"
)

var (
	ErrKeyExists   = errors.New("storage: key already exists")
	ErrConstraint  = errors.New("storage: unique constraint violated")
	ErrVersion     = errors.New("storage: requested version is lower than stored version")
	ErrReadOnly    = errors.New("storage: transaction is read-only")
	ErrNotInScope  = errors.New("storage: store is not in transaction scope")
	ErrNoStore     = errors.New("storage: no such store")
	ErrStoreExists = errors.New("storage: store already exists")
	ErrNoIndex     = errors.New("storage: no such index")
	ErrIndexExists = errors.New("storage: index already exists")
	ErrNoDatabase  = errors.New("storage: no such database")
	ErrClosed      = errors.New("storage: handle is closed")
	ErrTxDone      = errors.New("storage: transaction already finished")
)

// ErrStop ends a Scan early without error.
var ErrStop = errors.New("storage: stop scan")

type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Record is one stored value.
type Record = map[string]any

type IndexInfo struct {
	Name   string `json:"name"`
	Field  string `json:"field"`
	Unique bool   `json:"unique"`
}

type StoreInfo struct {
	Name    string      `json:"name"`
	KeyPath string      `json:"keyPath"`
	Indexes []IndexInfo `json:"indexes"`
}

type DatabaseInfo struct {
	Name    string      `json:"name"`
	Version int         `json:"version"`
	Stores  []StoreInfo `json:"stores,omitempty"`
}

// UpgradeFunc runs inside the exclusive upgrade epoch of a database.
// oldVersion is 0 for a new database.
type UpgradeFunc func(ctx context.Context, up Upgrade, oldVersion, newVersion int) error

// Substrate opens versioned databases.
type Substrate interface {
	// Open opens name at version. Version 0 opens the stored version, or
	// 1 for a new database. A version above the stored one, or a new
	// database, runs upgrade before the handle is returned.
	Open(ctx context.Context, name string, version int, upgrade UpgradeFunc) (Handle, error)
	Databases(ctx context.Context) ([]DatabaseInfo, error)
	Describe(ctx context.Context, name string) (DatabaseInfo, error)
	DeleteDatabase(ctx context.Context, name string) error
	Close() error
}

// Upgrade alters the shape of a database during its upgrade epoch.
type Upgrade interface {
	StoreNames() []string
	HasStore(name string) bool
	CreateStore(ctx context.Context, name, keyPath string) error
	DeleteStore(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, store, name, field string, unique bool) error
	DeleteIndex(ctx context.Context, store, name string) error
	Indexes(store string) ([]IndexInfo, error)
}

// Handle is an open database at a fixed version.
type Handle interface {
	Name() string
	Version() int
	StoreNames() []string
	Store(name string) (StoreInfo, bool)
	// Begin starts a transaction scoped to stores.
	Begin(ctx context.Context, mode Mode, stores ...string) (Tx, error)
	Close() error
}

// Tx is a scoped transaction. Scan visits records in key order.
type Tx interface {
	Get(ctx context.Context, store, key string) (Record, bool, error)
	Add(ctx context.Context, store, key string, rec Record) error
	Put(ctx context.Context, store, key string, rec Record) error
	Delete(ctx context.Context, store, key string) error
	Scan(ctx context.Context, store string, fn func(key string, rec Record) error) error
	Count(ctx context.Context, store string) (int, error)
	Clear(ctx context.Context, store string) error
	Commit() error
	Rollback() error
}
