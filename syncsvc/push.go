package syncsvc

import (
	"context"

	"go.uber.org/multierr"

	"github.com/nonibytes/docsync/docstore"
	"github.com/nonibytes/docsync/syncsvc/remote"
)

// Result is the outcome of one push or pull. Failures are reported in
// Err rather than returned.
type Result struct {
	Success      bool  `json:"success"`
	Synchronized int   `json:"synchronized"`
	Err          error `json:"-"`
}

func failed(err error) Result {
	return Result{Success: false, Err: err}
}

// PushToServer sends every modified record to the remote. Acknowledged
// records become synced with their server id and lastSync stamped.
// Records the remote rejects stay modified and get the error appended to
// their sync errors.
func (m *Manager) PushToServer(ctx context.Context) Result {
	recs, err := m.byStatus(ctx, StatusModified)
	if err != nil {
		return failed(err)
	}
	if len(recs) == 0 {
		return Result{Success: true}
	}

	byLocal := make(map[string]docstore.Record, len(recs))
	changes := make([]remote.Change, 0, len(recs))
	for _, r := range recs {
		id := m.localID(r)
		byLocal[id] = r
		sid, _ := r[m.fields.ServerID].(string)
		changes = append(changes, remote.Change{ID: sid, Data: m.PrepareForSync(r), LocalID: id})
	}
	m.log.Debugw("pushing changes", "count", len(changes))

	resp, err := m.remote.Push(ctx, remote.PushRequest{Changes: changes})
	if err != nil {
		m.log.Warnw("push failed", "error", err)
		return failed(transportErr("push", err))
	}

	now := m.now()
	var errs error
	n := 0
	for _, ack := range resp.Synchronized {
		if _, ok := byLocal[ack.LocalID]; !ok {
			m.log.Warnw("push acknowledged an unknown record", "local_id", ack.LocalID)
			continue
		}
		delete(byLocal, ack.LocalID)
		stamp := now
		if ack.UpdatedAt != nil {
			stamp = *ack.UpdatedAt
		}
		_, err := m.store.Update(ctx, docstore.Record{
			m.fields.Status:   string(StatusSynced),
			m.fields.ServerID: ack.ServerID,
			m.fields.LastSync: stamp,
			m.fields.Errors:   nil,
		}, ack.LocalID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n++
	}
	for _, f := range resp.Failed {
		rec, ok := byLocal[f.LocalID]
		if !ok {
			continue
		}
		delete(byLocal, f.LocalID)
		history, _ := rec[m.fields.Errors].([]any)
		history = append(history, map[string]any{"at": now, "error": f.Error})
		if _, err := m.store.Update(ctx, docstore.Record{m.fields.Errors: history}, f.LocalID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if len(byLocal) > 0 {
		m.log.Warnw("push left records unacknowledged", "count", len(byLocal))
	}
	m.log.Infow("push complete", "synchronized", n, "rejected", len(resp.Failed))
	return Result{Success: errs == nil, Synchronized: n, Err: errs}
}
