// Package engine executes view programs for the embedded store.
//
// The engine turns compiled view text into runnable programs, maps
// documents into index rows, and folds rows with the view's reduce
// function.
//
// ARCHITECTURE:
//
// Programs:
// Compiled map and reduce text is resolved once per view. "native:<symbol>"
// text is looked up in an ir.Registry; builtin reducer names resolve to the
// engine's own reducers. Dialect source (JavaScript) has no local runtime and
// fails with ErrCodeUnsupportedLanguage.
//
// Hierarchical Reduce:
// Rows are reduced in fixed-size chunks (leaf pass), then the chunk results
// are rereduced chunk by chunk until one value remains. This reproduces the
// shape of a B-tree reduce, so reduce functions that only behave on a single
// leaf pass are caught locally.
//
// CRITICAL PATTERNS:
//
// Ordering:
// Rows arrive sorted by key then document id. Chunks and rereduce inputs
// preserve that order left to right; order-sensitive reducers (the ledger)
// depend on it.
//
// Purity:
// Reduce functions may be invoked many times over any split of their
// inputs. The engine never caches intermediate values between queries.
package engine
