package cli

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nonibytes/docsync/authority"
	"github.com/nonibytes/docsync/docstore"
	"github.com/nonibytes/docsync/docstore/storage"
	"github.com/nonibytes/docsync/internal/config"
	"github.com/nonibytes/docsync/internal/logging"
	"github.com/nonibytes/docsync/syncsvc"
	"github.com/nonibytes/docsync/syncsvc/remote"
)

// app is one opened store and the services configured around it.
type app struct {
	cfg  config.Config
	log  *zap.SugaredLogger
	sub  *storage.SQLSubstrate
	eng  *docstore.Engine
	sync *syncsvc.Manager // nil unless sync.url is set
}

type openMode int

const (
	modeClient openMode = iota
	// modeAuthority extends the schema for serving sync clients.
	modeAuthority
	// modeNoSync opens the store without a sync manager.
	modeNoSync
)

// writer is the write path of the store. With sync configured, writes go
// through the manager so they are flagged for the next push.
type writer interface {
	Create(ctx context.Context, data docstore.Record, opts ...docstore.CreateOptions) (docstore.Record, error)
	Update(ctx context.Context, patch docstore.Record, id string) (docstore.Record, error)
	Delete(ctx context.Context, id string) error
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}
	return cfg, applyOverrides(&cfg, opts)
}

func openApp(ctx context.Context, opts *RootOptions, mode openMode) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, usageErrorf("log: %v", err)
	}

	adapter, err := resolveAdapter(cfg.Storage)
	if err != nil {
		return nil, err
	}
	sopts := storage.DefaultOptions()
	sopts.Logger = log
	sub, err := storage.NewSQL(ctx, adapter, sopts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, sub: sub}
	if err := a.init(ctx, opts, mode); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts *RootOptions, mode openMode) error {
	s, err := a.cfg.BuildSchema()
	if err != nil {
		return err
	}
	eopts := docstore.DefaultOptions()
	eopts.Name = a.cfg.Database.Name
	eopts.Version = a.cfg.Database.Version
	if a.cfg.Database.Primary != "" {
		eopts.Primary = a.cfg.Database.Primary
	}
	eopts.Collections = a.cfg.Database.Collections
	eopts.Logger = a.log
	a.eng, err = docstore.New(a.sub, s, eopts)
	if err != nil {
		return err
	}

	switch {
	case mode == modeAuthority:
		if err := authority.PrepareSchema(a.eng, authority.DefaultUpdatedAt); err != nil {
			return err
		}
	case mode == modeClient && a.cfg.Sync.URL != "":
		if err := a.initSync(); err != nil {
			return err
		}
	}

	if err := a.eng.Connect(ctx); err != nil {
		return err
	}
	if opts.Collection != "" {
		return a.eng.SwitchCollection(opts.Collection)
	}
	return nil
}

func (a *app) initSync() error {
	r, err := newRemote(a.cfg.Sync, a.cfg.Database.Name)
	if err != nil {
		return err
	}
	policy, err := syncsvc.ParsePolicy(a.cfg.Sync.Policy)
	if err != nil {
		return err
	}
	mopts := syncsvc.DefaultOptions()
	mopts.Policy = policy
	if a.cfg.Sync.BatchSize > 0 {
		mopts.BatchSize = a.cfg.Sync.BatchSize
	}
	a.sync, err = syncsvc.New(a.eng, r, mopts)
	if err != nil {
		return err
	}
	if err := a.sync.PrepareSyncSchema(); err != nil {
		return err
	}
	a.sync.WatchChanges()
	return nil
}

// newRemote builds the sync client. A signing secret without a configured
// subject signs as this device, see config.SyncConfig.DeviceSubject.
func newRemote(c config.SyncConfig, database string) (*remote.HTTP, error) {
	ho := remote.HTTPOptions{
		BaseURL: c.URL,
		Token:   c.Token,
		Subject: c.Subject,
	}
	if c.JWTSecret != "" {
		ho.JWTSecret = []byte(c.JWTSecret)
		ho.Subject = c.DeviceSubject(database)
	}
	if c.RateLimit > 0 {
		burst := c.Burst
		if burst < 1 {
			burst = 1
		}
		ho.Limiter = rate.NewLimiter(rate.Limit(c.RateLimit), burst)
	}
	return remote.NewHTTP(ho)
}

func (a *app) writer() writer {
	if a.sync != nil {
		return a.sync
	}
	return a.eng
}

func (a *app) requireSync() (*syncsvc.Manager, error) {
	if a.sync == nil {
		return nil, usageErrorf("sync.url is not configured")
	}
	return a.sync, nil
}

func (a *app) Close() error {
	var err error
	if a.eng != nil {
		err = multierr.Append(err, a.eng.Disconnect())
	}
	err = multierr.Append(err, a.sub.Close())
	_ = a.log.Sync()
	return err
}

// withApp opens the store for the duration of fn.
func withApp(ctx context.Context, opts *RootOptions, mode openMode, fn func(a *app) error) (err error) {
	a, err := openApp(ctx, opts, mode)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.Close()) }()
	return fn(a)
}
