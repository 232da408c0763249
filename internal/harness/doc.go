// Package harness runs YAML conformance scenarios against the builtin
// views.
//
// A scenario deploys one or more view sets (ledger, chores, humanid) into a
// fresh in-memory store, writes documents, queries views, and asserts on
// the trace of store operations and on the reduced state:
//
//	name: ledger_split_history
//	description: "..."
//	views: [ledger]
//	chunk_size: 2
//	setup:
//	  - {_id: tx1, type: tx, acc: A, to: B, curr: USD, amount: 10, ts: $now}
//	flow:
//	  - put: {_id: eq1, type: eq, acc: A, curr: USD, bal: -5, ts: $now}
//	  - query: {view: ledger/balance, group_level: 2}
//	    expect: {rows: 2}
//	assertions:
//	  - type: discrepancy
//	    account: A
//	    currency: USD
//	    id: eq1
//	    expect: {offBy: 5}
//
// Every step takes one tick of a deterministic clock, and generated
// document ids come from a sequence, so traces are reproducible and can
// be compared against golden files.
package harness
