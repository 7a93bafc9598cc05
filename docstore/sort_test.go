package docstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nonibytes/docsync/docstore"
)

func keys(recs []docstore.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r["id"].(string)
	}
	return out
}

func TestSort(t *testing.T) {
	recs := []docstore.Record{
		{"id": "a", "n": 3, "d": "2024-03-01"},
		{"id": "b", "n": 1.5, "d": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"id": "c", "d": "garbage"},
		{"id": "d", "n": 3, "d": "2023-12-31"},
	}

	assert.Equal(t, []string{"b", "a", "d", "c"}, keys(docstore.Sort(recs, docstore.SortOptions{Key: "n"})))
	assert.Equal(t, []string{"a", "d", "b", "c"}, keys(docstore.Sort(recs, docstore.SortOptions{Key: "n", Order: docstore.Desc})))
	assert.Equal(t, []string{"d", "b", "a", "c"}, keys(docstore.Sort(recs, docstore.SortOptions{Key: "d", Mode: docstore.SortDate})))
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys(recs), "input is not reordered")
}

func TestLimit(t *testing.T) {
	recs := []docstore.Record{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	assert.Equal(t, []string{"a", "b"}, keys(docstore.Limit(recs, 2)))
	assert.Equal(t, []string{"a", "b", "c"}, keys(docstore.Limit(recs, 10)))
	assert.Equal(t, []string{"a", "b", "c"}, keys(docstore.Limit(recs, -1)))
	assert.Empty(t, docstore.Limit(recs, 0))
}
