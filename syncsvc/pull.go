package syncsvc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/nonibytes/docsync/docstore"
	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/syncsvc/remote"
)

// PullFromServer fetches remote items changed after lastSync, or every
// item when lastSync is nil. Unknown items are created locally as synced;
// known ones go through HandleConflict. A full batch is followed by the
// next page, starting after the latest change timestamp it carried, until
// the remote returns a short batch.
func (m *Manager) PullFromServer(ctx context.Context, lastSync *time.Time) Result {
	var errs error
	cursor := lastSync
	n, received := 0, 0
	for {
		resp, err := m.remote.Pull(ctx, remote.PullRequest{LastSync: cursor, BatchSize: m.batch})
		if err != nil {
			m.log.Warnw("pull failed", "error", err, "received", received)
			errs = multierr.Append(errs, transportErr("pull", err))
			break
		}
		m.log.Debugw("pulled items", "count", len(resp.Items))
		received += len(resp.Items)

		var latest *time.Time
		for _, item := range resp.Items {
			if t, ok := m.changedAt(item); ok && (latest == nil || t.After(*latest)) {
				latest = &t
			}
			ok, err := m.pullItem(ctx, item)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if ok {
				n++
			}
		}

		// Without a change timestamp there is no cursor to page from.
		if len(resp.Items) < m.batch || latest == nil || (cursor != nil && !latest.After(*cursor)) {
			break
		}
		cursor = latest
	}
	m.log.Infow("pull complete", "synchronized", n, "received", received)
	return Result{Success: errs == nil, Synchronized: n, Err: errs}
}

// pullItem applies one pulled item and reports whether it ended synced.
func (m *Manager) pullItem(ctx context.Context, item map[string]any) (bool, error) {
	sid := serverKey(item[m.remoteID])
	if sid == "" {
		m.log.Warnw("pulled item has no server id", "key", m.remoteID)
		return false, nil
	}
	data := m.fromServer(item)

	local, found, err := m.byServerID(ctx, sid)
	if err != nil {
		return false, err
	}
	if !found {
		data[m.fields.Status] = string(StatusSynced)
		data[m.fields.ServerID] = sid
		data[m.fields.LastSync] = m.serverStamp(item)
		if _, err := m.store.Create(ctx, data, docstore.CreateOptions{CastToSchema: true}); err != nil {
			return false, err
		}
		return true, nil
	}
	res, err := m.HandleConflict(ctx, local, data)
	if err != nil {
		return false, err
	}
	return res == Applied, nil
}

// changedAt reads the server change timestamp carried by a pulled item.
func (m *Manager) changedAt(item map[string]any) (time.Time, bool) {
	return query.ToTime(item[m.changedAtKey])
}

// serverStamp is the lastSync value for a record reconciled with item: the
// server's change timestamp, so the watermark stays in the server's clock,
// or the local clock when the remote sends none.
func (m *Manager) serverStamp(item map[string]any) time.Time {
	if t, ok := m.changedAt(item); ok {
		return t
	}
	return m.now()
}

// fromServer strips the server key and any bookkeeping fields from a
// pulled item.
func (m *Manager) fromServer(item map[string]any) docstore.Record {
	out := make(docstore.Record, len(item))
	for k, v := range item {
		out[k] = v
	}
	delete(out, m.remoteID)
	delete(out, m.store.Primary())
	for _, name := range m.fields.all() {
		delete(out, name)
	}
	return out
}

func serverKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Resolution is what HandleConflict did with a pulled item.
type Resolution int

const (
	// Applied means the server values were written and the record is
	// synced.
	Applied Resolution = iota
	// Kept means the local edit was preserved untouched.
	Kept
	// Conflicted means the record was flagged for manual resolution.
	Conflicted
)

func (r Resolution) String() string {
	switch r {
	case Applied:
		return "applied"
	case Kept:
		return "kept"
	case Conflicted:
		return "conflicted"
	}
	return "unknown"
}

// HandleConflict reconciles a local record with the server's copy of it
// under the manager's policy.
func (m *Manager) HandleConflict(ctx context.Context, local docstore.Record, server docstore.Record) (Resolution, error) {
	id := m.localID(local)
	switch m.policy {
	case ServerWins:
		return Applied, m.applyServer(ctx, id, server)
	case ClientWins:
		if local[m.fields.Status] == string(StatusModified) {
			m.log.Debugw("kept local edit", "id", id)
			return Kept, nil
		}
		return Applied, m.applyServer(ctx, id, server)
	case Manual:
		_, err := m.store.Update(ctx, docstore.Record{
			m.fields.Status:        string(StatusConflict),
			m.fields.ServerVersion: map[string]any(server),
		}, id)
		if err != nil {
			return Conflicted, err
		}
		m.log.Infow("record needs manual resolution", "id", id)
		return Conflicted, nil
	}
	return Kept, dserrors.New(dserrors.ErrInvalidState, fmt.Sprintf("unsupported conflict policy %q", m.policy))
}

func (m *Manager) applyServer(ctx context.Context, id string, server docstore.Record) error {
	patch := make(docstore.Record, len(server)+3)
	for k, v := range server {
		patch[k] = v
	}
	patch[m.fields.Status] = string(StatusSynced)
	patch[m.fields.LastSync] = m.serverStamp(server)
	patch[m.fields.ServerVersion] = nil
	_, err := m.store.Update(ctx, patch, id)
	return err
}

// ResolveConflict settles a record left in conflict. With useServer the
// attached server version is applied and the record becomes synced;
// otherwise the local data is kept and queued for the next push.
func (m *Manager) ResolveConflict(ctx context.Context, id string, useServer bool) (docstore.Record, error) {
	rec, found, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, dserrors.NotFoundError(id)
	}
	if rec[m.fields.Status] != string(StatusConflict) {
		return nil, dserrors.New(dserrors.ErrInvalidState, fmt.Sprintf("record %s is not in conflict", id))
	}

	var patch docstore.Record
	if useServer {
		sv, _ := rec[m.fields.ServerVersion].(map[string]any)
		patch = make(docstore.Record, len(sv)+3)
		for k, v := range sv {
			patch[k] = v
		}
		patch[m.fields.Status] = string(StatusSynced)
		patch[m.fields.LastSync] = m.serverStamp(sv)
	} else {
		patch = docstore.Record{
			m.fields.Status:         string(StatusModified),
			m.fields.LocalUpdatedAt: m.now(),
		}
	}
	patch[m.fields.ServerVersion] = nil
	return m.store.Update(ctx, patch, id)
}
