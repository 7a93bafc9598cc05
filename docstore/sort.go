package docstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nonibytes/docsync/docstore/query"
)

// Sort returns a stably sorted copy of records ordered by opts.Key.
// Records lacking the key, or holding a value that cannot be compared,
// sort after the rest in either order.
func Sort(records []Record, opts SortOptions) []Record {
	out := append([]Record(nil), records...)
	if opts.Key == "" {
		return out
	}
	desc := opts.Order == Desc
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := sortValue(out[i], opts)
		b, bok := sortValue(out[j], opts)
		if !aok || !bok {
			return aok && !bok
		}
		c := compareValues(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func sortValue(r Record, opts SortOptions) (any, bool) {
	v, ok := r[opts.Key]
	if !ok || v == nil {
		return nil, false
	}
	if opts.Mode == SortDate {
		t, ok := query.ToTime(v)
		if !ok {
			return nil, false
		}
		return t, true
	}
	return v, true
}

// compareValues uses natural ordering where the values are comparable and
// falls back to their string forms.
func compareValues(a, b any) int {
	if c, ok := query.Compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Limit returns the first n records. A negative n returns all of them.
func Limit(records []Record, n int) []Record {
	if n < 0 || n >= len(records) {
		return records
	}
	return records[:n]
}

// Sort is the method form of Sort for callers holding an engine.
func (e *Engine) Sort(records []Record, opts SortOptions) []Record {
	return Sort(records, opts)
}

func (e *Engine) Limit(records []Record, n int) []Record {
	return Limit(records, n)
}
