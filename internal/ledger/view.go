package ledger

import (
	"context"
	"fmt"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
)

// View names.
const (
	View        = "ledger"
	BalanceView = "balance"
)

// Map emits one row per leg of a ledger entry, keyed by
// [account, currency, ts]. Documents that are not entries emit nothing;
// malformed entries are skipped with an error.
func Map(doc ir.Object, emit ir.Emit) error {
	if !IsEntry(doc) {
		return nil
	}
	e, err := EntryFromObject(doc)
	if err != nil {
		return err
	}
	for _, leg := range e.Legs() {
		key := ir.Array{ir.String(leg.Account), ir.String(leg.Currency), ir.String(e.TS)}
		if leg.Balance.Valid {
			emit(key, ir.Object{"balance": number(leg.Balance.Decimal)})
		} else {
			emit(key, ir.Object{"delta": number(leg.Delta)})
		}
	}
	return nil
}

// Views returns the ledger view definition.
func Views() []ir.ViewDefinition {
	return []ir.ViewDefinition{{
		Name: View,
		Map:  ir.NativeMap("ledger.entries", Map),
		Reduces: map[string]ir.Function{
			BalanceView: ir.NativeReduce("ledger.balance", ReduceFunc),
		},
	}}
}

// Balances returns the reduced state of every (account, currency) pair in
// key order.
func Balances(ctx context.Context, st store.Store) ([]*Group, error) {
	rows, err := st.QueryView(ctx, ir.DesignID(View), BalanceView, queryir.Query{}.AtGroupLevel(2))
	if err != nil {
		return nil, fmt.Errorf("ledger balances: %w", err)
	}
	out := make([]*Group, 0, len(rows))
	for _, row := range rows {
		g, err := decodeGroup(row.Value)
		if err != nil {
			return nil, fmt.Errorf("ledger balances %v: %w", row.Key, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// BalanceAt returns the state of one account in one currency over every
// entry with ts at or before the given timestamp. An account with no
// entries yields a zero Group.
func BalanceAt(ctx context.Context, st store.Store, account, currency, ts string) (*Group, error) {
	start := ir.Array{ir.String(account), ir.String(currency)}
	end := ir.Array{ir.String(account), ir.String(currency), ir.String(ts)}
	rows, err := st.QueryView(ctx, ir.DesignID(View), BalanceView, queryir.ForRange(start, end).Reduced())
	if err != nil {
		return nil, fmt.Errorf("ledger balance of %s/%s: %w", account, currency, err)
	}
	if len(rows) == 0 {
		return &Group{Account: account, Currency: currency}, nil
	}
	return decodeGroup(rows[0].Value)
}

func decodeGroup(v ir.Value) (*Group, error) {
	acc, err := Decode(v)
	if err != nil {
		return nil, err
	}
	switch a := acc.(type) {
	case *Group:
		return a, nil
	case Invalid:
		return nil, fmt.Errorf("reduced value mixes accounts or currencies")
	default:
		return &Group{}, nil
	}
}
