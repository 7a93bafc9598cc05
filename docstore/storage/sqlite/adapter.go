// Package sqlite adapts SQLite to the docsync storage substrate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nonibytes/docsync/docstore/storage"
)

// DriverModernc is the pure-Go driver registered by modernc.org/sqlite.
const DriverModernc = "sqlite"

// DriverCGO is the driver name registered by github.com/mattn/go-sqlite3.
const DriverCGO = "sqlite3"

type Adapter struct {
	Path       string
	DriverName string
}

func New(path string) *Adapter {
	return &Adapter{Path: path, DriverName: DriverModernc}
}

func NewWithDriver(path, driver string) *Adapter {
	if driver == "" {
		driver = DriverModernc
	}
	return &Adapter{Path: path, DriverName: driver}
}

func (a *Adapter) Backend() storage.Backend {
	return storage.BackendSQLite
}

func (a *Adapter) Location() string {
	return a.Path
}

func (a *Adapter) dsn() string {
	var params string
	if a.DriverName == DriverCGO {
		params = "_busy_timeout=5000&_foreign_keys=on"
	} else {
		params = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	if strings.Contains(a.Path, "?") {
		return a.Path + "&" + params
	}
	return a.Path + "?" + params
}

func (a *Adapter) Connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(a.DriverName, a.dsn())
	if err != nil {
		return nil, err
	}
	// One connection serialises writers inside this process and keeps
	// ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if a.Path != ":memory:" {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode=WAL;")
		_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")
	}
	return db, nil
}

func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) SQL() storage.SQL {
	return SQLTemplates
}

func (a *Adapter) DDL() storage.DDL {
	return ddl{}
}

func (a *Adapter) Records(table string) storage.RecordSQL {
	return records(table)
}

// IsUniqueViolation recognises primary key and unique index failures from
// either driver.
func (a *Adapter) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// LockDatabase issues a no-op write so the transaction holds the
// database write lock from its first statement.
func (a *Adapter) LockDatabase(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "UPDATE docsync_databases SET version = version WHERE name = ?1", name); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	return nil
}
