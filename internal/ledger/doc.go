// Package ledger reduces append-only ledger entries into per-account
// balances and reports asserted balances that disagree with history.
//
// The ledger view emits one row per account leg keyed by
// [account, currency, ts]. Its balance reduce is pure and associative over
// consecutive key ranges, so the store may evaluate it over any chunking
// and still produce the same balances and the same Discrepancy findings.
// Discrepancies are data, never errors.
//
// Amounts are carried as shopspring decimals during reduction so repeated
// sums stay exact.
package ledger
