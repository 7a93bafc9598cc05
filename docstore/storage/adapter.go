package storage

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Adapter abstracts database-specific operations
type Adapter interface {
	Backend() Backend
	// Location identifies the underlying database for diagnostics.
	Location() string

	Connect(ctx context.Context) (*sql.DB, error)
	Close() error

	SQL() SQL
	DDL() DDL
	Records(table string) RecordSQL

	IsUniqueViolation(err error) bool
	// LockDatabase takes the exclusive upgrade lock for name. It is held
	// until tx ends.
	LockDatabase(ctx context.Context, tx *sql.Tx, name string) error
}

// SQL holds prepared SQL templates for the catalog tables
type SQL struct {
	GetDatabase    string
	InsertDatabase string
	SetVersion     string
	ListDatabases  string
	DeleteDatabase string

	ListStores       string
	InsertStore      string
	DeleteStore      string
	DeleteStoresByDB string

	ListIndexes          string
	InsertIndex          string
	DeleteIndex          string
	DeleteIndexesByStore string
	DeleteIndexesByDB    string
}

// DDL generates backend-specific schema statements.
type DDL interface {
	Catalog() []string
	CreateTable(table string) string
	DropTable(table string) string
	CreateIndex(index, table, field string, unique bool) string
	DropIndex(index string) string
}

// RecordSQL holds the statements for one store table.
type RecordSQL struct {
	Get    string
	Insert string
	Upsert string
	Delete string
	Scan   string
	Count  string
	Clear  string
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidField reports whether field can be embedded in an index
// expression.
func ValidField(field string) bool {
	return fieldNameRe.MatchString(field)
}

// TableName derives the table holding store within db.
func TableName(db, store string) string {
	return "ds_" + digest(db+"\x00"+store)
}

// IndexName derives the SQL index name of a named store index.
func IndexName(table, index string) string {
	return "dx_" + digest(table+"\x00"+index)
}

func digest(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// QuoteIdent wraps a generated identifier. Generated names are hex and
// never contain quotes.
func QuoteIdent(ident string) string {
	return `"` + ident + `"`
}

func checkField(field string) error {
	if !ValidField(field) {
		return fmt.Errorf("invalid index field %q (must match %s)", field, fieldNameRe.String())
	}
	return nil
}
