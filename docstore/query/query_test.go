package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var people = []map[string]any{
	{"id": "1", "name": "ada", "age": 36, "born": time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)},
	{"id": "2", "name": "alan", "age": 41.0, "role": "admin"},
	{"id": "3", "name": "grace", "age": int64(85), "role": nil},
}

func ids(q Query) []string {
	var out []string
	for _, r := range people {
		if q.Matches(r) {
			out = append(out, r["id"].(string))
		}
	}
	return out
}

func TestMatches_Operators(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"empty", Query{}, []string{"1", "2", "3"}},
		{"literal", Where("name", Eq{"alan"}), []string{"2"}},
		{"numeric coercion", Where("age", Eq{41}), []string{"2"}},
		{"gt", Where("age", Gt{40}), []string{"2", "3"}},
		{"gte lte", Where("age", Gte{36}, Lte{41}), []string{"1", "2"}},
		{"lt", Where("age", Lt{36}), nil},
		{"ne includes absent", Where("role", Ne{"admin"}), []string{"1", "3"}},
		{"eq nil matches absent and nil", Where("role", Eq{nil}), []string{"1", "3"}},
		{"in", Where("name", In{[]any{"ada", "grace"}}), []string{"1", "3"}},
		{"nin", Where("name", NotIn{[]any{"ada"}}), []string{"2", "3"}},
		{"and", Where("age", Gt{30}).And("name", Ne{"ada"}), []string{"2", "3"}},
		{"date vs string", Where("born", Lt{"1900-01-01"}), []string{"1"}},
		{"mismatched types", Where("name", Gt{10}), nil},
		{"unknown fails closed", Where("name", Unknown{Name: "$regex", Value: "a"}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(tt.q))
		})
	}
}

func TestParse(t *testing.T) {
	q, err := Parse(map[string]any{
		"age":  map[string]any{"$gt": 30, "$lt": 50},
		"name": "ada",
		"tags": map[string]any{"$in": []string{"x", "y"}},
		"meta": map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	require.Len(t, q.Clauses, 4)

	assert.Equal(t, "age", q.Clauses[0].Field)
	assert.Equal(t, []Predicate{Gt{30}, Lt{50}}, q.Clauses[0].Preds)
	assert.Equal(t, []Predicate{Eq{map[string]any{"k": "v"}}}, q.Clauses[1].Preds)
	assert.Equal(t, []Predicate{Eq{"ada"}}, q.Clauses[2].Preds)
	assert.Equal(t, []Predicate{In{[]any{"x", "y"}}}, q.Clauses[3].Preds)
}

func TestParse_UnknownOperator(t *testing.T) {
	q, err := Parse(map[string]any{"name": map[string]any{"$regex": "^a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"$regex"}, q.Unknown())
	assert.Empty(t, ids(q))

	_, err = ParseStrict(map[string]any{"name": map[string]any{"$regex": "^a"}})
	assert.ErrorContains(t, err, "unknown operator $regex")
}

func TestParse_InRequiresList(t *testing.T) {
	_, err := Parse(map[string]any{"name": map[string]any{"$in": "ada"}})
	assert.ErrorContains(t, err, "operand must be a list")
}

func TestParseJSON(t *testing.T) {
	q, err := ParseJSON([]byte(`{"age": {"$gte": 41}}`), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, ids(q))

	q, err = ParseJSON([]byte("  "), true)
	require.NoError(t, err)
	assert.True(t, q.Empty())

	_, err = ParseJSON([]byte(`[1]`), false)
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	c, ok := Compare(uint8(3), 2.5)
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = Compare(false, true)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = Compare("a", true)
	assert.False(t, ok)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.True(t, Equal(ts, "2024-01-02T03:04:05Z"))
	assert.True(t, Equal([]any{"a"}, []any{"a"}))
}
