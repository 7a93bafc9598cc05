package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nonibytes/docsync/docstore"
)

const FileExt = ".dsbak"

// FileName is the export file name for a collection at t.
func FileName(e *docstore.Engine, t time.Time) string {
	name := strings.ReplaceAll(ModelName(e), "/", "-")
	return name + "-" + t.UTC().Format("20060102T150405.000Z") + FileExt
}

// WriteFile exports the active collection into dir and returns the file
// path. The file appears atomically.
func WriteFile(ctx context.Context, e *docstore.Engine, dir, passphrase string) (string, error) {
	blob, err := Export(ctx, e, passphrase)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(e, e.Now()))
	tmp, err := os.CreateTemp(dir, ".backup-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

type AutoOptions struct {
	Dir        string
	Passphrase string
	Interval   time.Duration
	// OnWrite, when non-nil, receives the outcome of every run.
	OnWrite func(path string, err error)
}

// AutoBackup writes an export on a fixed interval. A tick that arrives
// while the previous export is still running is skipped.
type AutoBackup struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight atomic.Bool
	written  atomic.Int64
	skipped  atomic.Int64
	once     sync.Once
}

func StartAuto(ctx context.Context, e *docstore.Engine, opts AutoOptions) (*AutoBackup, error) {
	if opts.Dir == "" {
		return nil, errors.New("backup: directory is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("backup: invalid interval %s", opts.Interval)
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &AutoBackup{cancel: cancel}
	a.wg.Add(1)
	go a.loop(ctx, e, opts)
	return a, nil
}

func (a *AutoBackup) loop(ctx context.Context, e *docstore.Engine, opts AutoOptions) {
	defer a.wg.Done()
	log := e.Logger().With("component", "backup")
	t := time.NewTicker(opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !a.inflight.CompareAndSwap(false, true) {
			a.skipped.Add(1)
			log.Warnw("previous backup still running; tick skipped")
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.inflight.Store(false)
			path, err := WriteFile(ctx, e, opts.Dir, opts.Passphrase)
			if err != nil {
				log.Errorw("backup failed", "error", err)
			} else {
				a.written.Add(1)
				log.Infow("backup written", "path", path)
			}
			if opts.OnWrite != nil {
				opts.OnWrite(path, err)
			}
		}()
	}
}

// Stop cancels the schedule and waits for a running export.
func (a *AutoBackup) Stop() {
	a.once.Do(func() {
		a.cancel()
		a.wg.Wait()
	})
}

func (a *AutoBackup) Written() int64 { return a.written.Load() }
func (a *AutoBackup) Skipped() int64 { return a.skipped.Load() }
