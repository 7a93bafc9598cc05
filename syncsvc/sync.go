// Package syncsvc reconciles a local docstore collection with a remote
// authority. It installs sync bookkeeping fields, tracks local changes,
// pushes and pulls batches, and resolves conflicts under a policy.
package syncsvc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nonibytes/docsync/docstore"
	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/syncsvc/remote"
)

// Policy selects how a pulled item reconciles with its local copy.
type Policy string

const (
	ServerWins Policy = "server-wins"
	ClientWins Policy = "client-wins"
	Manual     Policy = "manual"
)

// ParsePolicy accepts the policy names used in configuration. Empty means
// ServerWins.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return ServerWins, nil
	case ServerWins, ClientWins, Manual:
		return p, nil
	}
	return "", dserrors.New(dserrors.ErrInvalidState, fmt.Sprintf("unsupported conflict policy %q", s))
}

// Status is the per-record sync state.
type Status string

const (
	StatusSynced   Status = "synced"
	StatusModified Status = "modified"
	StatusPending  Status = "pending"
	StatusConflict Status = "conflict"
)

// Fields names the bookkeeping fields installed on synced records.
type Fields struct {
	Status         string
	ServerID       string
	LastSync       string
	LocalUpdatedAt string
	Errors         string
	ServerVersion  string
}

func DefaultFields() Fields {
	return Fields{
		Status:         "syncStatus",
		ServerID:       "serverId",
		LastSync:       "lastSync",
		LocalUpdatedAt: "_localUpdatedAt",
		Errors:         "_syncErrors",
		ServerVersion:  "_serverVersion",
	}
}

func (f Fields) all() []string {
	return []string{f.Status, f.ServerID, f.LastSync, f.LocalUpdatedAt, f.Errors, f.ServerVersion}
}

type Options struct {
	Policy    Policy
	BatchSize int
	Fields    Fields
	// RemoteID is the key carrying the server identifier in pulled items.
	RemoteID string
	// ChangedAt is the key carrying the server change timestamp in pulled
	// items. It pages pulls and stamps lastSync.
	ChangedAt string

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Policy:    ServerWins,
		BatchSize: 100,
		Fields:    DefaultFields(),
		RemoteID:  "id",
		ChangedAt: "updatedAt",
		Now:       time.Now,
	}
}

// Manager wraps a storage engine with sync behaviour. Writes made through
// the Manager after WatchChanges are flagged for the next push; writes
// made on the wrapped engine directly are not.
type Manager struct {
	store    *docstore.Engine
	remote   remote.Remote
	policy   Policy
	batch    int
	fields   Fields
	remoteID string
	// changedAtKey names the server change timestamp in pulled items.
	changedAtKey string
	log          *zap.SugaredLogger
	now          func() time.Time

	watching atomic.Bool
}

func New(store *docstore.Engine, r remote.Remote, opts Options) (*Manager, error) {
	if store == nil {
		return nil, dserrors.New(dserrors.ErrInvalidState, "sync requires a storage engine")
	}
	if r == nil {
		return nil, dserrors.New(dserrors.ErrInvalidState, "sync requires a remote")
	}
	def := DefaultOptions()
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Fields == (Fields{}) {
		opts.Fields = def.Fields
	}
	for _, name := range opts.Fields.all() {
		if name == "" || name == store.Primary() {
			return nil, dserrors.New(dserrors.ErrSchema, fmt.Sprintf("invalid sync field name %q", name))
		}
	}
	if opts.RemoteID == "" {
		opts.RemoteID = def.RemoteID
	}
	if opts.ChangedAt == "" {
		opts.ChangedAt = def.ChangedAt
	}
	if opts.Now == nil {
		opts.Now = store.Now
	}
	log := opts.Logger
	if log == nil {
		log = store.Logger()
	}
	return &Manager{
		store:        store,
		remote:       r,
		policy:       policy,
		batch:        opts.BatchSize,
		fields:       opts.Fields,
		remoteID:     opts.RemoteID,
		changedAtKey: opts.ChangedAt,
		log:          log.With("component", "sync", "db", store.Name()),
		now:          opts.Now,
	}, nil
}

func (m *Manager) Store() *docstore.Engine { return m.store }
func (m *Manager) Policy() Policy          { return m.policy }
func (m *Manager) Fields() Fields          { return m.fields }

// PrepareSyncSchema installs the bookkeeping fields on the wrapped
// engine's schema. It must run before the engine connects.
func (m *Manager) PrepareSyncSchema() error {
	f := m.fields
	statuses := []any{string(StatusSynced), string(StatusModified), string(StatusPending), string(StatusConflict)}
	return m.store.ExtendSchema(map[string]schema.Field{
		f.Status:         {Type: schema.String, Default: string(StatusSynced), Enum: statuses},
		f.ServerID:       {Type: schema.String},
		f.LastSync:       {Type: schema.Date},
		f.LocalUpdatedAt: {Type: schema.Date},
		f.Errors:         {Type: schema.Array},
		f.ServerVersion:  {Type: schema.Object},
	},
		schema.Index{Field: f.ServerID, Unique: true},
		schema.Index{Field: f.Status},
	)
}

// WatchChanges makes Create and Update on the Manager flag every write as
// modified.
func (m *Manager) WatchChanges() {
	m.watching.Store(true)
}

func (m *Manager) Watching() bool { return m.watching.Load() }

func (m *Manager) stamp(rec docstore.Record) docstore.Record {
	if !m.watching.Load() {
		return rec
	}
	out := make(docstore.Record, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	out[m.fields.Status] = string(StatusModified)
	out[m.fields.LocalUpdatedAt] = m.now()
	return out
}

func (m *Manager) Create(ctx context.Context, data docstore.Record, opts ...docstore.CreateOptions) (docstore.Record, error) {
	return m.store.Create(ctx, m.stamp(data), opts...)
}

func (m *Manager) Update(ctx context.Context, patch docstore.Record, id string) (docstore.Record, error) {
	return m.store.Update(ctx, m.stamp(patch), id)
}

// Delete removes a local record. Deletions are not propagated.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) FindByID(ctx context.Context, id string, fields ...string) (docstore.Record, bool, error) {
	return m.store.FindByID(ctx, id, fields...)
}

func (m *Manager) Find(ctx context.Context, opts docstore.FindOptions) ([]docstore.Record, error) {
	return m.store.Find(ctx, opts)
}

// PrepareForSync copies rec without sync bookkeeping fields and without
// the local primary key.
func (m *Manager) PrepareForSync(rec docstore.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, name := range m.fields.all() {
		delete(out, name)
	}
	delete(out, m.store.Primary())
	return out
}

func (m *Manager) byStatus(ctx context.Context, s Status) ([]docstore.Record, error) {
	return m.store.Find(ctx, docstore.FindOptions{
		Query: query.Where(m.fields.Status, query.Eq{Value: string(s)}),
	})
}

func (m *Manager) byServerID(ctx context.Context, id string) (docstore.Record, bool, error) {
	recs, err := m.store.Find(ctx, docstore.FindOptions{
		Query: query.Where(m.fields.ServerID, query.Eq{Value: id}),
	})
	if err != nil || len(recs) == 0 {
		return nil, false, err
	}
	return recs[0], true, nil
}

// LastSyncTimestamp is the latest lastSync among synced records, or nil
// when nothing has been synchronized.
func (m *Manager) LastSyncTimestamp(ctx context.Context) (*time.Time, error) {
	recs, err := m.byStatus(ctx, StatusSynced)
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, r := range recs {
		t, ok := query.ToTime(r[m.fields.LastSync])
		if !ok {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func (m *Manager) localID(rec docstore.Record) string {
	s, _ := rec[m.store.Primary()].(string)
	return s
}

func transportErr(op string, err error) error {
	return dserrors.Wrap(dserrors.ErrTransport, op, err)
}
