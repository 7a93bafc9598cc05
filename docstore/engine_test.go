package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nonibytes/docsync/docstore"
	"github.com/nonibytes/docsync/docstore/query"
	"github.com/nonibytes/docsync/docstore/schema"
	"github.com/nonibytes/docsync/docstore/storage"
	"github.com/nonibytes/docsync/docstore/storage/sqlite"
)

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

func newSubstrate(t *testing.T) *storage.SQLSubstrate {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	sub, err := storage.NewSQL(context.Background(), sqlite.New(path), storage.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func newEngine(t *testing.T, sub storage.Substrate, s *schema.Schema, mutate ...func(*docstore.Options)) *docstore.Engine {
	t.Helper()
	opts := docstore.DefaultOptions()
	opts.Name = "app"
	opts.Now = monotonicNow(time.Unix(1700000000, 0))
	for _, m := range mutate {
		m(&opts)
	}
	e, err := docstore.New(sub, s, opts)
	require.NoError(t, err)
	require.NoError(t, e.Connect(context.Background()))
	t.Cleanup(func() { _ = e.Disconnect() })
	return e
}

func userSchema() *schema.Schema {
	return schema.New(map[string]schema.Field{
		"name":  {Type: schema.String, Required: true},
		"email": {Type: schema.String, Unique: true},
		"age":   {Type: schema.Number},
		"role":  {Type: schema.String},
		"born":  {Type: schema.Date},
	})
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func TestCreate_GeneratesPrimaryKey(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()

	rec, err := e.Create(ctx, docstore.Record{"name": "ada", "age": 36})
	require.NoError(t, err)
	id, ok := rec["id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, "ada", rec["name"])

	got, found, err := e.FindByID(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, docstore.Record{"id": id, "name": "ada", "age": float64(36)}, got)

	_, found, err = e.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreate_DropsUndeclaredAndRevivesDates(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()

	born := time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)
	rec, err := e.Create(ctx, docstore.Record{"id": "ada", "name": "ada", "born": born, "junk": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rec["junk"], "returned record is the input")

	got, _, err := e.FindByID(ctx, "ada")
	require.NoError(t, err)
	assert.NotContains(t, got, "junk")
	gotBorn, ok := got["born"].(time.Time)
	require.True(t, ok, "born revived as %T", got["born"])
	assert.True(t, born.Equal(gotBorn))

	proj, _, err := e.FindByID(ctx, "ada", "name", "nope")
	require.NoError(t, err)
	assert.Equal(t, docstore.Record{"name": "ada"}, proj)
}

func TestCreate_UniqueFieldViolation(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()

	_, err := e.Create(ctx, docstore.Record{"name": "a", "email": "x@y"})
	require.NoError(t, err)
	_, err = e.Create(ctx, docstore.Record{"name": "b", "email": "x@y"})
	require.Error(t, err)
	assert.True(t, docstore.IsKind(err, docstore.ErrUniqueViolation), "got %v", err)
	assert.True(t, docstore.IsKind(err, docstore.ErrValidation))

	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_DuplicatePrimaryKey(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()

	_, err := e.Create(ctx, docstore.Record{"id": "1", "name": "a"})
	require.NoError(t, err)
	_, err = e.Create(ctx, docstore.Record{"id": 1, "name": "b"})
	assert.True(t, docstore.IsKind(err, docstore.ErrDuplicateKey), "got %v", err)
}

func TestCreate_UniqueIndexIsDuplicateKey(t *testing.T) {
	s := userSchema().AddIndex("role", schema.IndexOptions{Unique: true})
	e := newEngine(t, newSubstrate(t), s)
	ctx := context.Background()

	_, err := e.Create(ctx, docstore.Record{"name": "a", "role": "owner"})
	require.NoError(t, err)
	_, err = e.Create(ctx, docstore.Record{"name": "b", "role": "owner"})
	assert.True(t, docstore.IsKind(err, docstore.ErrDuplicateKey), "got %v", err)
}

func TestCreate_AggregatesViolations(t *testing.T) {
	s := schema.New(map[string]schema.Field{
		"name":  {Type: schema.String, Required: true},
		"age":   {Type: schema.Number},
		"role":  {Type: schema.String, Enum: []any{"user", "admin"}},
		"code":  {Type: schema.String, Validate: func(_ context.Context, v any) error { return errors.New("bad code") }},
		"panic": {Type: schema.String, Validate: func(_ context.Context, v any) error { panic("boom") }},
	})
	e := newEngine(t, newSubstrate(t), s)

	_, err := e.Create(context.Background(), docstore.Record{
		"age": "old", "role": "root", "code": "x", "panic": "y",
	})
	require.Error(t, err)

	var ve *docstore.ValidationError
	require.ErrorAs(t, err, &ve)
	kinds := map[string]docstore.ErrorKind{}
	for _, v := range ve.Violations {
		kinds[v.Field] = v.Kind
	}
	assert.Equal(t, map[string]docstore.ErrorKind{
		"name":  docstore.ErrRequiredMissing,
		"age":   docstore.ErrTypeMismatch,
		"role":  docstore.ErrEnumViolation,
		"code":  docstore.ErrCustomValidation,
		"panic": docstore.ErrCustomValidation,
	}, kinds)
}

func TestCreate_DateCasting(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()

	_, err := e.Create(ctx, docstore.Record{"id": "s", "name": "a", "born": "2020-05-06"})
	require.NoError(t, err)
	got, _, _ := e.FindByID(ctx, "s")
	gotBorn, ok := got["born"].(time.Time)
	require.True(t, ok)
	assert.True(t, time.Date(2020, 5, 6, 0, 0, 0, 0, time.UTC).Equal(gotBorn))

	_, err = e.Create(ctx, docstore.Record{"id": "bad", "name": "a", "born": "not a date"})
	assert.True(t, docstore.IsKind(err, docstore.ErrTypeMismatch))

	rec, err := e.Create(ctx, docstore.Record{"id": "cast", "name": "a", "born": "not a date", "age": "42"},
		docstore.CreateOptions{CastToSchema: true})
	require.NoError(t, err)
	assert.Nil(t, rec["born"])
	assert.Equal(t, float64(42), rec["age"])
}

func TestCreate_Defaults(t *testing.T) {
	s := userSchema()
	s.Set("role", schema.Field{Type: schema.String, Default: "user"})
	s.Set("age", schema.Field{Type: schema.Number, Default: func() any { return 18 }})
	e := newEngine(t, newSubstrate(t), s)

	rec, err := e.Create(context.Background(), docstore.Record{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, "user", rec["role"])
	assert.Equal(t, 18, rec["age"])
}

func seed(t *testing.T, e *docstore.Engine, recs ...docstore.Record) {
	t.Helper()
	for _, r := range recs {
		_, err := e.Create(context.Background(), r)
		require.NoError(t, err)
	}
}

func idsOf(recs []docstore.Record) []string {
	out := []string{}
	for _, r := range recs {
		out = append(out, r["id"].(string))
	}
	return out
}

func TestFind_Operators(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema(), func(o *docstore.Options) { o.NewID = seqIDs() })
	ctx := context.Background()
	seed(t, e,
		docstore.Record{"name": "a", "age": 25, "role": "user"},
		docstore.Record{"name": "b", "age": 30, "role": "admin"},
		docstore.Record{"name": "c", "age": 35, "role": "user"},
		docstore.Record{"name": "d", "age": 40},
	)

	all, err := e.Find(ctx, docstore.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-001", "id-002", "id-003", "id-004"}, idsOf(all))

	got, err := e.Find(ctx, docstore.FindOptions{Where: map[string]any{"age": map[string]any{"$gt": 30}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-003", "id-004"}, idsOf(got))

	got, err = e.Find(ctx, docstore.FindOptions{Where: map[string]any{"role": map[string]any{"$nin": []any{"admin"}}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-001", "id-003", "id-004"}, idsOf(got))

	got, err = e.Find(ctx, docstore.FindOptions{Query: query.Where("role", query.Eq{Value: "user"}), Fields: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []docstore.Record{{"name": "a"}, {"name": "c"}}, got)

	got, err = e.Find(ctx, docstore.FindOptions{Where: map[string]any{"age": map[string]any{"$like": 1}}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFind_NinOverRoles(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema(), func(o *docstore.Options) { o.NewID = seqIDs() })
	seed(t, e,
		docstore.Record{"name": "a", "role": "user"},
		docstore.Record{"name": "b", "role": "admin"},
		docstore.Record{"name": "c", "role": "user"},
	)
	got, err := e.Find(context.Background(), docstore.FindOptions{
		Where: map[string]any{"role": map[string]any{"$nin": []any{"admin"}}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "user", r["role"])
	}
}

func TestUpdate(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()
	seed(t, e, docstore.Record{"id": "u1", "name": "a", "age": 30, "role": "user"})

	_, err := e.Update(ctx, docstore.Record{"name": "X"}, "nope")
	assert.True(t, docstore.IsKind(err, docstore.ErrNotFound), "got %v", err)

	_, err = e.Update(ctx, docstore.Record{"name": "X"}, "")
	assert.True(t, docstore.IsKind(err, docstore.ErrMissingIdentifier))

	before, _, err := e.FindByID(ctx, "u1")
	require.NoError(t, err)

	merged, err := e.Update(ctx, docstore.Record{"id": "other", "name": "X"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", merged["id"])

	after, found, err := e.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	want := docstore.Record{}
	for k, v := range before {
		want[k] = v
	}
	want["name"] = "X"
	assert.Equal(t, want, after)

	_, found, _ = e.FindByID(ctx, "other")
	assert.False(t, found)

	merged, err = e.Update(ctx, docstore.Record{"id": "u1", "age": 31}, "")
	require.NoError(t, err)
	assert.Equal(t, 31, merged["age"])
}

func TestUpdate_ValidatesPatch(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()
	seed(t, e, docstore.Record{"id": "u1", "name": "a", "email": "a@x"}, docstore.Record{"id": "u2", "name": "b"})

	_, err := e.Update(ctx, docstore.Record{"age": "x"}, "u1")
	assert.True(t, docstore.IsKind(err, docstore.ErrTypeMismatch))

	_, err = e.Update(ctx, docstore.Record{"name": nil}, "u1")
	assert.True(t, docstore.IsKind(err, docstore.ErrRequiredMissing))

	// Unique fields without an index are not re-checked on update.
	_, err = e.Update(ctx, docstore.Record{"email": "a@x"}, "u2")
	assert.NoError(t, err)
}

func TestDeleteManyCountClear(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()
	seed(t, e,
		docstore.Record{"name": "a", "age": 1},
		docstore.Record{"name": "b", "age": 2},
		docstore.Record{"name": "c", "age": 3},
	)

	n, err := e.DeleteMany(ctx, docstore.FindOptions{Where: map[string]any{"age": map[string]any{"$gte": 2}}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recs, _ := e.Find(ctx, docstore.FindOptions{})
	require.NoError(t, e.Delete(ctx, recs[0]["id"].(string)))
	require.NoError(t, e.Delete(ctx, "missing"))

	seed(t, e, docstore.Record{"name": "z"})
	require.NoError(t, e.Clear(ctx))
	count, err = e.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCollections(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema(), func(o *docstore.Options) {
		o.Collections = []string{"c1"}
	})
	ctx := context.Background()
	assert.Equal(t, "c1", e.ActiveCollection())
	v1 := e.Version()

	res, err := e.AddCollections(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"c2"}, res.AddedCollections)
	assert.Equal(t, []string{"c1", "c2"}, res.AllCollections)
	assert.Equal(t, v1+1, e.Version())

	res, err = e.AddCollections(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, res.AddedCollections)
	assert.Equal(t, []string{"c1", "c2"}, res.AllCollections)
	assert.Equal(t, v1+1, e.Version())

	err = e.SwitchCollection("nope")
	assert.True(t, docstore.IsKind(err, docstore.ErrCollectionNotFound))
	assert.Equal(t, "c1", e.ActiveCollection())

	seed(t, e, docstore.Record{"name": "in c1"})
	require.NoError(t, e.SwitchCollection("c2"))
	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConnect_IdempotentAndExtendSchema(t *testing.T) {
	sub := newSubstrate(t)
	opts := docstore.DefaultOptions()
	opts.Name = "app"
	e, err := docstore.New(sub, userSchema(), opts)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.ExtendSchema(map[string]schema.Field{"tag": {Type: schema.String}},
		schema.Index{Field: "tag"}))
	assert.True(t, e.Schema().HasField("tag"))

	require.NoError(t, e.Connect(ctx))
	v := e.Version()
	require.NoError(t, e.Connect(ctx))
	assert.Equal(t, v, e.Version())
	defer e.Disconnect()

	ix, ok, err := e.CheckIndex(ctx, "tag")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tag", ix.Field)

	err = e.ExtendSchema(map[string]schema.Field{"late": {}})
	assert.True(t, docstore.IsKind(err, docstore.ErrInvalidState))
}

func TestReconnect_AddsMissingCollection(t *testing.T) {
	sub := newSubstrate(t)
	ctx := context.Background()
	first := newEngine(t, sub, userSchema(), func(o *docstore.Options) { o.Collections = []string{"a"} })
	require.NoError(t, first.Disconnect())

	second := newEngine(t, sub, userSchema(), func(o *docstore.Options) { o.Collections = []string{"a", "b"} })
	assert.Equal(t, 2, second.Version())
	require.NoError(t, second.SwitchCollection("b"))
	_, err := second.Create(ctx, docstore.Record{"name": "x"})
	require.NoError(t, err)
}

func TestReconnect_AdoptsStoredCollections(t *testing.T) {
	sub := newSubstrate(t)
	ctx := context.Background()
	first := newEngine(t, sub, userSchema())
	_, err := first.AddCollections(ctx, "archive")
	require.NoError(t, err)
	require.NoError(t, first.Disconnect())

	second := newEngine(t, sub, userSchema())
	assert.Equal(t, []string{"app", "archive"}, second.Collections())
	assert.Equal(t, "app", second.ActiveCollection())
	require.NoError(t, second.SwitchCollection("archive"))
}

func TestPrimaryRewrittenToString(t *testing.T) {
	s := schema.New(map[string]schema.Field{"key": {Type: schema.Number}, "v": {}})
	e := newEngine(t, newSubstrate(t), s, func(o *docstore.Options) { o.Primary = "key" })
	f, _ := e.Schema().Get("key")
	assert.Equal(t, schema.String, f.Type)

	rec, err := e.Create(context.Background(), docstore.Record{"key": 7, "v": "x"})
	require.NoError(t, err)
	assert.Equal(t, "7", rec["key"])
}

func TestIndexManagement(t *testing.T) {
	e := newEngine(t, newSubstrate(t), userSchema())
	ctx := context.Background()
	seed(t, e, docstore.Record{"name": "a", "role": "x"}, docstore.Record{"name": "b", "role": "x"})
	v := e.Version()

	_, ok, err := e.CheckIndex(ctx, "role")
	require.NoError(t, err)
	assert.False(t, ok)

	err = e.CreateIndex(ctx, "role", docstore.IndexOptions{Unique: true})
	assert.True(t, docstore.IsKind(err, docstore.ErrUniqueViolation), "got %v", err)

	require.NoError(t, e.CreateIndex(ctx, "role", docstore.IndexOptions{}))
	assert.Equal(t, v+1, e.Version())
	_, ok, _ = e.CheckIndex(ctx, "role")
	assert.True(t, ok)
	require.NoError(t, e.CreateIndex(ctx, "role", docstore.IndexOptions{}))
	assert.Equal(t, v+1, e.Version())

	require.NoError(t, e.DropIndex(ctx, "role"))
	_, ok, _ = e.CheckIndex(ctx, "role")
	assert.False(t, ok)

	err = e.DropIndex(ctx, "role")
	assert.True(t, docstore.IsKind(err, docstore.ErrNotFound))

	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDatabasesAnalyzeDrop(t *testing.T) {
	sub := newSubstrate(t)
	s := userSchema().AddIndex("email", schema.IndexOptions{Unique: true})
	e := newEngine(t, sub, s, func(o *docstore.Options) { o.Collections = []string{"users", "posts"} })
	ctx := context.Background()
	seed(t, e, docstore.Record{"name": "a"})

	dbs, err := e.Databases(ctx)
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.Equal(t, "app", dbs[0].Name)

	a, err := e.AnalyzeDB(ctx, "")
	require.NoError(t, err)
	require.Len(t, a.Collections, 2)
	assert.Equal(t, "posts", a.Collections[0].Name)
	assert.Equal(t, 0, a.Collections[0].Count)
	assert.Equal(t, "users", a.Collections[1].Name)
	assert.Equal(t, 1, a.Collections[1].Count)
	assert.Equal(t, []storage.IndexInfo{{Name: "email", Field: "email", Unique: true}}, a.Collections[1].Indexes)

	_, err = e.AnalyzeDB(ctx, "ghost")
	assert.True(t, docstore.IsKind(err, docstore.ErrNotFound))

	require.NoError(t, e.Drop(ctx))
	assert.False(t, e.Connected())
	dbs, err = e.Databases(ctx)
	require.NoError(t, err)
	assert.Empty(t, dbs)
}

func TestNew_Rejects(t *testing.T) {
	sub := newSubstrate(t)
	_, err := docstore.New(sub, userSchema(), docstore.Options{})
	assert.True(t, docstore.IsKind(err, docstore.ErrSchema))

	_, err = docstore.New(sub, schema.New(map[string]schema.Field{"bad name": {}}), docstore.Options{Name: "x"})
	assert.True(t, docstore.IsKind(err, docstore.ErrSchema))

	_, err = docstore.New(sub, userSchema(), docstore.Options{Name: "x", Collections: []string{" "}})
	assert.True(t, docstore.IsKind(err, docstore.ErrSchema))
}
