// Package matcher turns a free-text query into match and ranking decisions
// over a set of reference records.
//
// Queries are normalized (trimmed, lowercased) and split on whitespace into
// tokens; runes that are neither letters nor digits are dropped. A record
// matches when every token is a case-insensitive substring of at least one
// searchable field:
//
//	q := matcher.ParseQuery("демонтаж стяжки", 1, 50)
//	cands := matcher.Prepare(records, nil)
//	hits := matcher.Filter(cands, q)
//
// A query starting with "category:" skips tokenization and filters by
// category instead: the category field must equal the remainder, or the
// category full path must contain it.
//
// Rank provides the scored variant used for suggestion lists. Each matching
// (token, field) pair adds 2 when the field starts with the token and 1
// otherwise, so cost is O(records x tokens x fields).
package matcher
