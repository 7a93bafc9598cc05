// Package query evaluates field predicates against stored records.
package query

import "sort"

// Predicate is a single comparison against a stored field value.
type Predicate interface {
	isPredicate()
	Op() string
}

// Eq matches values equal to Value. Eq(nil) matches absent fields.
type Eq struct{ Value any }

// Ne matches values not equal to Value, including absent fields.
type Ne struct{ Value any }

type Gt struct{ Value any }
type Gte struct{ Value any }
type Lt struct{ Value any }
type Lte struct{ Value any }

// In matches when the stored value equals one of Values.
type In struct{ Values []any }

// NotIn is the complement of In.
type NotIn struct{ Values []any }

// Unknown carries an unrecognised operator. It never matches.
type Unknown struct {
	Name  string
	Value any
}

func (Eq) isPredicate()      {}
func (Ne) isPredicate()      {}
func (Gt) isPredicate()      {}
func (Gte) isPredicate()     {}
func (Lt) isPredicate()      {}
func (Lte) isPredicate()     {}
func (In) isPredicate()      {}
func (NotIn) isPredicate()   {}
func (Unknown) isPredicate() {}

func (Eq) Op() string        { return "$eq" }
func (Ne) Op() string        { return "$ne" }
func (Gt) Op() string        { return "$gt" }
func (Gte) Op() string       { return "$gte" }
func (Lt) Op() string        { return "$lt" }
func (Lte) Op() string       { return "$lte" }
func (In) Op() string        { return "$in" }
func (NotIn) Op() string     { return "$nin" }
func (u Unknown) Op() string { return u.Name }

// Clause applies every predicate to one field.
type Clause struct {
	Field string
	Preds []Predicate
}

// Query is an implicit AND of clauses. The zero Query matches everything.
type Query struct {
	Clauses []Clause
}

// Where starts a query with one clause.
func Where(field string, preds ...Predicate) Query {
	return Query{}.And(field, preds...)
}

// And returns q extended with another clause.
func (q Query) And(field string, preds ...Predicate) Query {
	out := Query{Clauses: make([]Clause, 0, len(q.Clauses)+1)}
	out.Clauses = append(out.Clauses, q.Clauses...)
	out.Clauses = append(out.Clauses, Clause{Field: field, Preds: preds})
	return out
}

func (q Query) Empty() bool {
	return len(q.Clauses) == 0
}

// Unknown returns the unrecognised operator names used in q, sorted.
func (q Query) Unknown() []string {
	var names []string
	for _, c := range q.Clauses {
		for _, p := range c.Preds {
			if u, ok := p.(Unknown); ok {
				names = append(names, u.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}
