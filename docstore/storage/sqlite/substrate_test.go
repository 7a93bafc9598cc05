package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonibytes/docsync/docstore/storage"
	"github.com/nonibytes/docsync/docstore/storage/sqlite"
)

func newSubstrate(t *testing.T) (*storage.SQLSubstrate, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	sub, err := storage.NewSQL(context.Background(), sqlite.New(path), storage.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub, path
}

func createUsers(ctx context.Context, up storage.Upgrade, _, _ int) error {
	if up.HasStore("users") {
		return nil
	}
	if err := up.CreateStore(ctx, "users", "id"); err != nil {
		return err
	}
	return up.CreateIndex(ctx, "users", "email", "email", true)
}

func TestOpen_RunsUpgradeOnceAndPersistsVersion(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()

	calls := 0
	upgrade := func(ctx context.Context, up storage.Upgrade, oldV, newV int) error {
		calls++
		assert.Equal(t, 0, oldV)
		assert.Equal(t, 1, newV)
		return createUsers(ctx, up, oldV, newV)
	}

	h, err := sub.Open(ctx, "app", 0, upgrade)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Version())
	assert.Equal(t, []string{"users"}, h.StoreNames())
	require.NoError(t, h.Close())

	h, err = sub.Open(ctx, "app", 1, upgrade)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 1, calls)

	info, ok := h.Store("users")
	require.True(t, ok)
	assert.Equal(t, "id", info.KeyPath)
	assert.Equal(t, []storage.IndexInfo{{Name: "email", Field: "email", Unique: true}}, info.Indexes)

	_, err = sub.Open(ctx, "app", 0, nil)
	require.NoError(t, err)
}

func TestOpen_LowerVersionFails(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()

	h, err := sub.Open(ctx, "app", 3, createUsers)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = sub.Open(ctx, "app", 2, createUsers)
	assert.ErrorIs(t, err, storage.ErrVersion)
}

func TestOpen_FailedUpgradeRollsBack(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := sub.Open(ctx, "app", 1, func(ctx context.Context, up storage.Upgrade, _, _ int) error {
		require.NoError(t, up.CreateStore(ctx, "users", "id"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	dbs, err := sub.Databases(ctx)
	require.NoError(t, err)
	assert.Empty(t, dbs)
}

func TestTx_CRUDAndScanOrder(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()
	h, err := sub.Open(ctx, "app", 1, createUsers)
	require.NoError(t, err)
	defer h.Close()

	tx, err := h.Begin(ctx, storage.ReadWrite, "users")
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, "users", "b", storage.Record{"id": "b", "email": "b@x", "age": 2}))
	require.NoError(t, tx.Add(ctx, "users", "a", storage.Record{"id": "a", "email": "a@x", "age": 1}))
	assert.ErrorIs(t, tx.Add(ctx, "users", "a", storage.Record{"id": "a"}), storage.ErrKeyExists)
	require.NoError(t, tx.Commit())

	tx, err = h.Begin(ctx, storage.ReadOnly, "users")
	require.NoError(t, err)
	defer tx.Rollback()

	rec, found, err := tx.Get(ctx, "users", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a@x", rec["email"])
	assert.Equal(t, float64(1), rec["age"])

	_, found, err = tx.Get(ctx, "users", "zz")
	require.NoError(t, err)
	assert.False(t, found)

	var keys []string
	require.NoError(t, tx.Scan(ctx, "users", func(key string, _ storage.Record) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, keys)

	keys = nil
	require.NoError(t, tx.Scan(ctx, "users", func(key string, _ storage.Record) error {
		keys = append(keys, key)
		return storage.ErrStop
	}))
	assert.Equal(t, []string{"a"}, keys)

	n, err := tx.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, tx.Put(ctx, "users", "c", storage.Record{}), storage.ErrReadOnly)
	_, _, err = tx.Get(ctx, "other", "a")
	assert.ErrorIs(t, err, storage.ErrNotInScope)
}

func TestTx_UniqueIndexViolation(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()
	h, err := sub.Open(ctx, "app", 1, createUsers)
	require.NoError(t, err)
	defer h.Close()

	tx, err := h.Begin(ctx, storage.ReadWrite, "users")
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, tx.Put(ctx, "users", "a", storage.Record{"email": "same"}))
	require.NoError(t, tx.Put(ctx, "users", "b", storage.Record{"name": "no email"}))
	require.NoError(t, tx.Put(ctx, "users", "c", storage.Record{"name": "no email either"}))
	assert.ErrorIs(t, tx.Put(ctx, "users", "d", storage.Record{"email": "same"}), storage.ErrConstraint)
}

func TestUpgrade_IndexesAndDescribe(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()
	h, err := sub.Open(ctx, "app", 1, createUsers)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = sub.Open(ctx, "app", 2, func(ctx context.Context, up storage.Upgrade, oldV, newV int) error {
		assert.Equal(t, 1, oldV)
		if err := up.CreateStore(ctx, "posts", "id"); err != nil {
			return err
		}
		if err := up.CreateIndex(ctx, "posts", "by_author", "author", false); err != nil {
			return err
		}
		assert.ErrorIs(t, up.CreateIndex(ctx, "posts", "by_author", "author", false), storage.ErrIndexExists)
		assert.Error(t, up.CreateIndex(ctx, "posts", "bad", "a'b", false))
		return up.DeleteIndex(ctx, "users", "email")
	})
	require.NoError(t, err)
	defer h.Close()

	info, err := sub.Describe(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Version)
	require.Len(t, info.Stores, 2)
	assert.Equal(t, "posts", info.Stores[0].Name)
	assert.Equal(t, []storage.IndexInfo{{Name: "by_author", Field: "author"}}, info.Stores[0].Indexes)
	assert.Empty(t, info.Stores[1].Indexes)

	_, err = sub.Describe(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNoDatabase)
}

func TestDeleteDatabase(t *testing.T) {
	sub, _ := newSubstrate(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		h, err := sub.Open(ctx, name, 1, createUsers)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}

	dbs, err := sub.Databases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.DatabaseInfo{{Name: "a", Version: 1}, {Name: "b", Version: 1}}, dbs)

	require.NoError(t, sub.DeleteDatabase(ctx, "a"))
	require.NoError(t, sub.DeleteDatabase(ctx, "missing"))

	dbs, err = sub.Databases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.DatabaseInfo{{Name: "b", Version: 1}}, dbs)

	h, err := sub.Open(ctx, "a", 0, nil)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 1, h.Version())
	assert.Empty(t, h.StoreNames())
}

func TestIsUniqueViolation(t *testing.T) {
	a := sqlite.New(":memory:")
	assert.False(t, a.IsUniqueViolation(nil))
	assert.False(t, a.IsUniqueViolation(errors.New("disk I/O error")))
	assert.True(t, a.IsUniqueViolation(errors.New("UNIQUE constraint failed: t.x")))
}
