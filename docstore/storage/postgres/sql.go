package postgres

import (
	"fmt"

	"github.com/nonibytes/docsync/docstore/storage"
)

var SQLTemplates = storage.SQL{
	GetDatabase:    "SELECT version FROM docsync_databases WHERE name = $1",
	InsertDatabase: "INSERT INTO docsync_databases(name, version, created_at) VALUES($1, $2, $3)",
	SetVersion:     "UPDATE docsync_databases SET version = $2 WHERE name = $1",
	ListDatabases:  "SELECT name, version FROM docsync_databases ORDER BY name",
	DeleteDatabase: "DELETE FROM docsync_databases WHERE name = $1",

	ListStores:       "SELECT name, key_path, table_name FROM docsync_stores WHERE db = $1 ORDER BY name",
	InsertStore:      "INSERT INTO docsync_stores(db, name, key_path, table_name) VALUES($1, $2, $3, $4)",
	DeleteStore:      "DELETE FROM docsync_stores WHERE db = $1 AND name = $2",
	DeleteStoresByDB: "DELETE FROM docsync_stores WHERE db = $1",

	ListIndexes:          "SELECT store, name, field, is_unique, index_name FROM docsync_indexes WHERE db = $1 ORDER BY store, name",
	InsertIndex:          "INSERT INTO docsync_indexes(db, store, name, field, is_unique, index_name) VALUES($1, $2, $3, $4, $5, $6)",
	DeleteIndex:          "DELETE FROM docsync_indexes WHERE db = $1 AND store = $2 AND name = $3",
	DeleteIndexesByStore: "DELETE FROM docsync_indexes WHERE db = $1 AND store = $2",
	DeleteIndexesByDB:    "DELETE FROM docsync_indexes WHERE db = $1",
}

var catalog = []string{
	`CREATE TABLE IF NOT EXISTS docsync_databases (
  name       TEXT PRIMARY KEY,
  version    INTEGER NOT NULL,
  created_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS docsync_stores (
  db         TEXT NOT NULL,
  name       TEXT NOT NULL,
  key_path   TEXT NOT NULL,
  table_name TEXT NOT NULL,
  PRIMARY KEY (db, name)
)`,
	`CREATE TABLE IF NOT EXISTS docsync_indexes (
  db         TEXT NOT NULL,
  store      TEXT NOT NULL,
  name       TEXT NOT NULL,
  field      TEXT NOT NULL,
  is_unique  INTEGER NOT NULL DEFAULT 0,
  index_name TEXT NOT NULL,
  PRIMARY KEY (db, store, name)
)`,
}

type ddl struct{}

func (ddl) Catalog() []string { return catalog }

func (ddl) CreateTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (pk TEXT PRIMARY KEY, data JSONB NOT NULL)", storage.QuoteIdent(table))
}

func (ddl) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + storage.QuoteIdent(table)
}

func (ddl) CreateIndex(index, table, field string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s ((data->>'%s'))",
		kind, storage.QuoteIdent(index), storage.QuoteIdent(table), field)
}

func (ddl) DropIndex(index string) string {
	return "DROP INDEX IF EXISTS " + storage.QuoteIdent(index)
}

// records orders scans by byte value so key order matches SQLite.
func records(table string) storage.RecordSQL {
	t := storage.QuoteIdent(table)
	return storage.RecordSQL{
		Get:    "SELECT data::text FROM " + t + " WHERE pk = $1",
		Insert: "INSERT INTO " + t + "(pk, data) VALUES($1, $2::jsonb)",
		Upsert: "INSERT INTO " + t + "(pk, data) VALUES($1, $2::jsonb) ON CONFLICT(pk) DO UPDATE SET data = excluded.data",
		Delete: "DELETE FROM " + t + " WHERE pk = $1",
		Scan:   "SELECT pk, data::text FROM " + t + ` ORDER BY pk COLLATE "C"`,
		Count:  "SELECT COUNT(*) FROM " + t,
		Clear:  "DELETE FROM " + t,
	}
}
