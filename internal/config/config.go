// Package config loads the docsync YAML configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/syncsvc"
)

type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Schema   SchemaConfig   `yaml:"schema" json:"schema"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Backup   BackupConfig   `yaml:"backup" json:"backup"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

type DatabaseConfig struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"description=database identity"`
	Version     int      `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"minimum=0"`
	Primary     string   `yaml:"primary,omitempty" json:"primary,omitempty"`
	Collections []string `yaml:"collections,omitempty" json:"collections,omitempty"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend" jsonschema:"enum=sqlite,enum=postgres"`
	// Path is the sqlite database file.
	Path         string `yaml:"path,omitempty" json:"path,omitempty"`
	SQLiteDriver string `yaml:"sqlite_driver,omitempty" json:"sqlite_driver,omitempty" jsonschema:"enum=modernc,enum=cgo"`
	DSN          string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// PGSchema is the postgres schema holding docsync tables.
	PGSchema string `yaml:"pg_schema,omitempty" json:"pg_schema,omitempty"`
}

type SchemaConfig struct {
	// Fields maps a field name to a type name or to an object with type,
	// required, unique, default and enum.
	Fields  map[string]any `yaml:"fields" json:"fields"`
	Indexes []schema.Index `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

type SyncConfig struct {
	URL       string   `yaml:"url,omitempty" json:"url,omitempty"`
	Token     string   `yaml:"token,omitempty" json:"token,omitempty"`
	JWTSecret string   `yaml:"jwt_secret,omitempty" json:"jwt_secret,omitempty"`
	Subject   string   `yaml:"subject,omitempty" json:"subject,omitempty"`
	Policy    string   `yaml:"policy,omitempty" json:"policy,omitempty" jsonschema:"enum=server-wins,enum=client-wins,enum=manual"`
	BatchSize int      `yaml:"batch_size,omitempty" json:"batch_size,omitempty" jsonschema:"minimum=1"`
	Interval  Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	// RateLimit is the maximum requests per second to the remote; 0
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" jsonschema:"minimum=0"`
	Burst     int     `yaml:"burst,omitempty" json:"burst,omitempty"`
	// Listen is the address `docsync serve` binds.
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// DeviceSubject is the JWT subject minted for this client: Subject when
// set, else the host name, else fallback.
func (s SyncConfig) DeviceSubject(fallback string) string {
	if s.Subject != "" {
		return s.Subject
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

type BackupConfig struct {
	Dir        string   `yaml:"dir,omitempty" json:"dir,omitempty"`
	Interval   Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Passphrase string   `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" json:"format" jsonschema:"enum=console,enum=json"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: "Go duration such as 30s or 5m"}
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{Name: "docsync"},
		Storage:  StorageConfig{Backend: "sqlite", Path: "docsync.db", SQLiteDriver: "modernc", PGSchema: "docsync"},
		Schema:   SchemaConfig{Fields: map[string]any{}},
		Sync: SyncConfig{
			Policy:    string(syncsvc.ServerWins),
			BatchSize: 100,
			Interval:  Duration(time.Minute),
			Burst:     1,
			Listen:    "127.0.0.1:8787",
		},
		Backup: BackupConfig{Dir: "backups", Interval: Duration(time.Hour)},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. Environment references such as
// ${DOCSYNC_TOKEN} are expanded before parsing. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs error
	if strings.TrimSpace(c.Database.Name) == "" {
		errs = multierr.Append(errs, errors.New("database.name is required"))
	}
	if c.Database.Version < 0 {
		errs = multierr.Append(errs, errors.New("database.version must not be negative"))
	}
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = multierr.Append(errs, errors.New("storage.path is required for sqlite"))
		}
		switch c.Storage.SQLiteDriver {
		case "", "modernc", "cgo":
		default:
			errs = multierr.Append(errs, fmt.Errorf("storage.sqlite_driver %q: must be modernc or cgo", c.Storage.SQLiteDriver))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = multierr.Append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("storage.backend %q: must be sqlite or postgres", c.Storage.Backend))
	}
	if _, err := c.BuildSchema(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := syncsvc.ParsePolicy(c.Sync.Policy); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("sync.policy: %w", err))
	}
	if c.Sync.RateLimit < 0 {
		errs = multierr.Append(errs, errors.New("sync.rate_limit must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		errs = multierr.Append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Backup.Interval <= 0 {
		errs = multierr.Append(errs, errors.New("backup.interval must be positive"))
	}
	return errs
}

// BuildSchema turns the schema section into a schema. An empty section
// yields an empty schema; the engine adds the primary key field.
func (c Config) BuildSchema() (*schema.Schema, error) {
	s, err := schema.FromObject(c.Schema.Fields)
	if err != nil {
		return nil, err
	}
	for _, ix := range c.Schema.Indexes {
		s.AddIndex(ix.Field, schema.IndexOptions{Unique: ix.Unique})
	}
	if len(s.Definition) == 0 && len(s.Indexes) == 0 {
		return s, nil
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

// JSONSchema describes the configuration file.
func JSONSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "docsync configuration"
	return json.MarshalIndent(s, "", "  ")
}
