package authority_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonibytes/docsync/authority"
	"github.com/nonibytes/docsync/docstore"
	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/docstore/storage"
	"github.com/nonibytes/docsync/docstore/storage/sqlite"
	"github.com/nonibytes/docsync/syncsvc"
	"github.com/nonibytes/docsync/syncsvc/remote"
)

var secret = []byte("test-secret")

func monotonicNow(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func noteSchema() *schema.Schema {
	return schema.New(map[string]schema.Field{
		"title": {Type: schema.String, Required: true},
		"body":  {Type: schema.String},
	})
}

// newEngine builds an unconnected engine on its own sqlite file.
func newEngine(t *testing.T, name string, clock func() time.Time) *docstore.Engine {
	t.Helper()
	sub, err := storage.NewSQL(context.Background(), sqlite.New(filepath.Join(t.TempDir(), name+".db")), storage.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	opts := docstore.DefaultOptions()
	opts.Name = "notes"
	opts.Now = clock
	e, err := docstore.New(sub, noteSchema(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Disconnect() })
	return e
}

func newServer(t *testing.T, clock func() time.Time) *httptest.Server {
	t.Helper()
	store := newEngine(t, "server", clock)
	require.NoError(t, authority.PrepareSchema(store, ""))
	require.NoError(t, store.Connect(context.Background()))

	opts := authority.DefaultOptions()
	opts.Secret = secret
	opts.Now = clock
	srv := httptest.NewServer(authority.New(store, opts))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, subject string) *remote.HTTP {
	t.Helper()
	c, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: srv.URL, JWTSecret: secret, Subject: subject})
	require.NoError(t, err)
	return c
}

func newDevice(t *testing.T, srv *httptest.Server, name string, clock func() time.Time) *syncsvc.Manager {
	t.Helper()
	return newDeviceBatch(t, srv, name, clock, syncsvc.DefaultOptions().BatchSize)
}

func newDeviceBatch(t *testing.T, srv *httptest.Server, name string, clock func() time.Time, batch int) *syncsvc.Manager {
	t.Helper()
	e := newEngine(t, name, clock)
	opts := syncsvc.DefaultOptions()
	opts.BatchSize = batch
	m, err := syncsvc.New(e, newClient(t, srv, name), opts)
	require.NoError(t, err)
	require.NoError(t, m.PrepareSyncSchema())
	require.NoError(t, e.Connect(context.Background()))
	m.WatchChanges()
	return m
}

func TestHealth(t *testing.T) {
	srv := newServer(t, monotonicNow(time.Unix(1700000000, 0)))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "notes", body["database"])
}

func TestRejectsMissingOrBadToken(t *testing.T) {
	srv := newServer(t, monotonicNow(time.Unix(1700000000, 0)))
	ctx := context.Background()

	anon, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = anon.Pull(ctx, remote.PullRequest{})
	var se *remote.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	wrong, err := remote.NewHTTP(remote.HTTPOptions{BaseURL: srv.URL, JWTSecret: []byte("other"), Subject: "x"})
	require.NoError(t, err)
	_, err = wrong.Push(ctx, remote.PushRequest{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestBadJSON(t *testing.T) {
	srv := newServer(t, monotonicNow(time.Unix(1700000000, 0)))
	token, err := remote.MintToken(secret, "t", time.Now(), time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+remote.PullPath, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPushThenPullBatches(t *testing.T) {
	srv := newServer(t, monotonicNow(time.Unix(1700000000, 0)))
	c := newClient(t, srv, "device")
	ctx := context.Background()

	push, err := c.Push(ctx, remote.PushRequest{Changes: []remote.Change{
		{LocalID: "l1", Data: map[string]any{"title": "one"}},
		{LocalID: "l2", Data: map[string]any{"title": "two"}},
		{LocalID: "l3", Data: map[string]any{"title": "three"}},
		{LocalID: "l4", Data: map[string]any{"body": "no title"}},
	}})
	require.NoError(t, err)
	require.Len(t, push.Synchronized, 3)
	require.Len(t, push.Failed, 1)
	assert.Equal(t, "l4", push.Failed[0].LocalID)
	assert.Contains(t, push.Failed[0].Error, "title")

	page, err := c.Pull(ctx, remote.PullRequest{BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "one", page.Items[0]["title"])
	assert.Equal(t, "two", page.Items[1]["title"])
	assert.Equal(t, push.Synchronized[0].ServerID, page.Items[0]["id"])

	mark, err := time.Parse(time.RFC3339Nano, page.Items[1]["updatedAt"].(string))
	require.NoError(t, err)
	rest, err := c.Pull(ctx, remote.PullRequest{LastSync: &mark, BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, "three", rest.Items[0]["title"])

	// A change naming a known id updates it in place.
	again, err := c.Push(ctx, remote.PushRequest{Changes: []remote.Change{
		{ID: push.Synchronized[0].ServerID, LocalID: "l1", Data: map[string]any{"title": "one, edited"}},
	}})
	require.NoError(t, err)
	require.Len(t, again.Synchronized, 1)
	assert.Equal(t, push.Synchronized[0].ServerID, again.Synchronized[0].ServerID)

	all, err := c.Pull(ctx, remote.PullRequest{})
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	assert.Equal(t, "one, edited", all.Items[2]["title"], "pull is ordered by change time")
}

func TestTwoDevicesConverge(t *testing.T) {
	clock := monotonicNow(time.Unix(1700000000, 0))
	srv := newServer(t, clock)
	a := newDevice(t, srv, "a", clock)
	b := newDevice(t, srv, "b", clock)
	ctx := context.Background()

	created, err := a.Create(ctx, docstore.Record{"title": "shared"})
	require.NoError(t, err)
	res := a.Sync(ctx)
	require.True(t, res.Success, "push: %v pull: %v", res.Push.Err, res.Pull.Err)

	fromA, _, err := a.FindByID(ctx, created["id"].(string))
	require.NoError(t, err)
	serverID := fromA["serverId"].(string)
	require.NotEmpty(t, serverID)

	res = b.Sync(ctx)
	require.True(t, res.Success, "push: %v pull: %v", res.Push.Err, res.Pull.Err)
	onB, err := b.Find(ctx, docstore.FindOptions{Where: map[string]any{"serverId": serverID}})
	require.NoError(t, err)
	require.Len(t, onB, 1)
	assert.Equal(t, "shared", onB[0]["title"])
	assert.Equal(t, "synced", onB[0]["syncStatus"])

	_, err = b.Update(ctx, docstore.Record{"title": "edited on b"}, onB[0]["id"].(string))
	require.NoError(t, err)
	require.True(t, b.Sync(ctx).Success)

	require.True(t, a.Sync(ctx).Success)
	got, _, err := a.FindByID(ctx, created["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "edited on b", got["title"])
	assert.Equal(t, "synced", got["syncStatus"])
}

func TestPullPagesPastBatchSize(t *testing.T) {
	clock := monotonicNow(time.Unix(1700000000, 0))
	srv := newServer(t, clock)
	a := newDevice(t, srv, "a", clock)
	b := newDeviceBatch(t, srv, "b", clock, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := a.Create(ctx, docstore.Record{"title": fmt.Sprintf("note %d", i)})
		require.NoError(t, err)
	}
	res := a.Sync(ctx)
	require.True(t, res.Success, "push: %v pull: %v", res.Push.Err, res.Pull.Err)
	require.Equal(t, 5, res.Push.Synchronized)

	res = b.Sync(ctx)
	require.True(t, res.Success, "push: %v pull: %v", res.Push.Err, res.Pull.Err)
	assert.Equal(t, 5, res.Pull.Synchronized)
	n, err := b.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// The watermark sits on the server's clock, so nothing is left behind
	// and a second sync pulls nothing new.
	res = b.Sync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Pull.Synchronized)

	_, err = a.Create(ctx, docstore.Record{"title": "late"})
	require.NoError(t, err)
	require.True(t, a.Sync(ctx).Success)
	res = b.Sync(ctx)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Pull.Synchronized)
	n, err = b.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}
