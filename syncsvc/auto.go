package syncsvc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SyncResult combines the two halves of a Sync.
type SyncResult struct {
	Success      bool   `json:"success"`
	Synchronized int    `json:"synchronized"`
	Push         Result `json:"push"`
	Pull         Result `json:"pull"`
}

// Sync pushes local changes and then pulls remote ones. The pull runs even
// when the push fails. The pull watermark is read before pushing so that
// records stamped by the push cannot hide remote changes.
func (m *Manager) Sync(ctx context.Context) SyncResult {
	watermark, err := m.LastSyncTimestamp(ctx)
	if err != nil {
		return SyncResult{Push: failed(err), Pull: failed(err)}
	}
	push := m.PushToServer(ctx)
	pull := m.PullFromServer(ctx, watermark)
	return SyncResult{
		Success:      push.Success && pull.Success,
		Synchronized: push.Synchronized + pull.Synchronized,
		Push:         push,
		Pull:         pull,
	}
}

// AutoSync runs Sync on a fixed interval. A tick that arrives while the
// previous run is still going is skipped.
type AutoSync struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	once     sync.Once
}

// SetupAutoSync starts periodic syncing until ctx ends or Stop is called.
// onResult, when non-nil, receives every completed run.
func (m *Manager) SetupAutoSync(ctx context.Context, interval time.Duration, onResult func(SyncResult)) (*AutoSync, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sync: invalid interval %s", interval)
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &AutoSync{cancel: cancel}
	a.wg.Add(1)
	go a.loop(ctx, m, interval, onResult)
	return a, nil
}

func (a *AutoSync) loop(ctx context.Context, m *Manager, interval time.Duration, onResult func(SyncResult)) {
	defer a.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !a.inflight.CompareAndSwap(false, true) {
			a.skipped.Add(1)
			m.log.Warnw("previous sync still running; tick skipped")
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.inflight.Store(false)
			res := m.Sync(ctx)
			a.runs.Add(1)
			if !res.Success {
				m.log.Warnw("auto sync incomplete", "push_error", res.Push.Err, "pull_error", res.Pull.Err)
			}
			if onResult != nil {
				onResult(res)
			}
		}()
	}
}

// Stop cancels the schedule and waits for a running sync to return.
func (a *AutoSync) Stop() {
	a.once.Do(func() {
		a.cancel()
		a.wg.Wait()
	})
}

func (a *AutoSync) Runs() int64    { return a.runs.Load() }
func (a *AutoSync) Skipped() int64 { return a.skipped.Load() }
