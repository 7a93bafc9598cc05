package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nonibytes/docsync/docstore/storage"
	"github.com/nonibytes/docsync/docstore/storage/postgres"
	"github.com/nonibytes/docsync/docstore/storage/sqlite"
	"github.com/nonibytes/docsync/internal/config"
)

// resolveAdapter builds the storage adapter for the configured backend.
//
//   - sqlite: storage.path, with the driver picked by storage.sqlite_driver.
//     A bare name without separator or extension becomes <name>.db.
//   - postgres: storage.dsn, tables created in storage.pg_schema.
func resolveAdapter(c config.StorageConfig) (storage.Adapter, error) {
	switch strings.ToLower(c.Backend) {
	case "sqlite":
		return sqlite.NewWithDriver(resolveSQLitePath(c.Path), sqliteDriver(c.SQLiteDriver)), nil
	case "postgres":
		return postgres.New(c.DSN, c.PGSchema), nil
	default:
		return nil, usageErrorf("unknown storage backend %q", c.Backend)
	}
}

func resolveSQLitePath(p string) string {
	if strings.Contains(p, string(filepath.Separator)) || filepath.Ext(p) != "" {
		return p
	}
	return p + ".db"
}

func sqliteDriver(name string) string {
	switch name {
	case "cgo":
		return sqlite.DriverCGO
	default:
		return sqlite.DriverModernc
	}
}

// applyOverrides copies non-empty global flags over the loaded config.
func applyOverrides(cfg *config.Config, opts *RootOptions) error {
	if opts.Database != "" {
		cfg.Database.Name = opts.Database
	}
	if opts.SQLitePath != "" {
		if cfg.Storage.Backend != "sqlite" {
			return usageErrorf("--sqlite-path requires the sqlite backend, got %s", cfg.Storage.Backend)
		}
		cfg.Storage.Path = opts.SQLitePath
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
