// Package store defines the document store every view component talks to,
// and provides Local, an embedded SQLite implementation.
//
// # Contract
//
// A Store holds JSON documents addressed by id, each carrying a revision
// token ("N-<hash>"). Put succeeds only when the caller presents the current
// revision (or none, for a new document). Design documents live under ids
// prefixed "design:" and are never indexed themselves.
//
// QueryView runs a queryir.Query against one subview of a design document.
// Unreduced rows come back in key order (ties by document id). With keys,
// results come back in request order. Failures are *Error values whose
// Reason classifies them; IsViewMissing covers every way a view can be
// absent.
//
// # Local
//
// Local stores documents and the map index in one SQLite database:
//   - docs: id, rev, seq, deleted, body
//   - view_state: per-subview signature and last indexed seq
//   - view_rows: emitted (key, value) rows, key COLLATE VIEWKEY
//
// The VIEWKEY collation decodes both keys and compares them with
// collate.Compare, so SQLite range scans follow the store key order.
// Indexes are brought up to date lazily by QueryView, processing only
// documents written since the last query.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - Single connection: All writes serialize through one conn
package store
