package docstore

import (
	"time"

	"go.uber.org/zap"

	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/storage"
)

// Record is one document. It always carries the primary key once stored.
type Record = storage.Record

type Options struct {
	// Name is the database identity.
	Name string
	// Version 0 opens the stored version, or 1 for a new database.
	Version int
	// Primary is the key field, "id" by default.
	Primary string
	// Collections defaults to a single collection named after the
	// database. The first one is active after New.
	Collections []string

	Logger *zap.SugaredLogger
	Now    func() time.Time
	NewID  func() string
}

func DefaultOptions() Options {
	return Options{
		Primary: DefaultPrimary,
		Now:     time.Now,
		NewID:   NewID,
	}
}

const DefaultPrimary = "id"

type CreateOptions struct {
	// CastToSchema casts the input before validation, so malformed dates
	// become nil instead of failing.
	CastToSchema bool
}

type FindOptions struct {
	Query query.Query
	// Where is parsed into Query when Query is empty. Unknown operators
	// match nothing.
	Where map[string]any
	// Fields projects each result onto the listed keys.
	Fields []string
}

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// SortMode selects how key values compare.
type SortMode string

const (
	SortNatural SortMode = ""
	SortDate    SortMode = "date"
)

type SortOptions struct {
	Key   string
	Order Order
	Mode  SortMode
}

type IndexOptions struct {
	Unique bool
}

type AddCollectionsResult struct {
	Success          bool     `json:"success"`
	AddedCollections []string `json:"addedCollections"`
	AllCollections   []string `json:"allCollections"`
}
