// Package query describes journal lookups as data and compiles them to
// parameterized SQL.
//
// A Select names a predicate over journal columns (request id, action,
// caller, time, seq and output case) plus an optional limit. Predicates
// form a small sealed tree:
//
//	query.And{Predicates: []query.Predicate{
//	    query.Equals{Field: query.FieldAction, Value: "release"},
//	    query.Between{Field: query.FieldAt, Min: 1600000000, Max: 1620000000},
//	}}
//
// Compile turns the tree into WHERE, ORDER BY and LIMIT clauses with ?
// placeholders. Values are never interpolated into SQL text, and results
// are always ordered by seq so the same query over the same journal returns
// the same records.
//
// Fields are a closed set. Filters over JSON payloads (schedule ids in args
// or events) are applied by callers after the records are loaded.
package query
