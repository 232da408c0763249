// Package queryir describes view queries independently of the store that
// answers them.
//
// A Query pairs a key Selector with reduce and paging options. Selector is a
// sealed interface using the marker method pattern; only types in this
// package implement it:
//
//	switch sel := q.Select.(type) {
//	case All:
//	    // every row
//	case Range:
//	    // startkey/endkey
//	case Keys:
//	    // explicit keys, results in request order
//	}
//
// Backends translate a Query into their own form: querysql compiles it to SQL
// over the embedded index, the couch adapter to view request parameters.
//
// ORDERING CONTRACT:
//
// Rows come back sorted by key in store collation, ties broken by document
// id. For Keys selectors rows follow the order of the requested keys, and a
// key with no rows contributes nothing (no placeholder row). Callers such as
// human-id resolution merge results against their input relying on this.
package queryir
