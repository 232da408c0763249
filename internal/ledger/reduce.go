package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/viewkit/internal/ir"
)

// Reduce folds leaf values, in key order, into one accumulator.
//
// Each value is {"delta": n} or {"balance": n}, keyed by
// [account, currency, ts]. Values from more than one account or currency
// yield Invalid. Accounts open at zero: an assertion that disagrees with
// the balance computed so far is recorded as a Discrepancy and the running
// balance is reset to it.
func Reduce(keys []ir.KeyID, values []ir.Value) (Accumulator, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("ledger reduce: %d keys for %d values", len(keys), len(values))
	}
	var g *Group
	for i, v := range values {
		acc, curr, ok := groupOf(keys[i].Key)
		if !ok {
			return Invalid{}, nil
		}
		if g == nil {
			g = &Group{Account: acc, Currency: curr}
		} else if g.Account != acc || g.Currency != curr {
			return Invalid{}, nil
		}

		leg, err := legValue(v)
		if err != nil {
			return nil, fmt.Errorf("ledger reduce %s: %w", keys[i].ID, err)
		}
		if !leg.Balance.Valid {
			g.Delta = g.Delta.Add(leg.Delta)
			if g.Balance.Valid {
				g.Balance = decimal.NewNullDecimal(g.Balance.Decimal.Add(leg.Delta))
			}
			continue
		}

		asserted := leg.Balance.Decimal
		if !g.Balance.Valid {
			g.InitBalance = decimal.NewNullDecimal(asserted.Sub(g.Delta))
			g.FirstBalance = leg.Balance
			g.FirstBalanceID = keys[i].ID
		}
		if calculated := g.running(); !calculated.Equal(asserted) {
			g.Errors = append(g.Errors, newDiscrepancy(keys[i].ID, asserted, calculated))
		}
		g.Balance = leg.Balance
	}
	if g == nil {
		return Empty{}, nil
	}
	return g, nil
}

// running is the balance at the end of g when the account opens at zero.
func (g *Group) running() decimal.Decimal {
	if g.Balance.Valid {
		return g.Balance.Decimal
	}
	return g.Delta
}

// Rereduce combines accumulators of consecutive key ranges, left to right.
//
// Each group's first assertion was checked as if the account opened at
// zero. When a group follows another, that check is redone against the
// left group's end balance, so any split of the entries yields the same
// result as reducing them in one pass. Invalid absorbs everything; Empty
// is the identity.
func Rereduce(accs []Accumulator) Accumulator {
	var out *Group
	for _, a := range accs {
		switch r := a.(type) {
		case Invalid:
			return Invalid{}
		case *Group:
			if out == nil {
				out = r.clone()
				continue
			}
			if out.Account != r.Account || out.Currency != r.Currency {
				return Invalid{}
			}
			combine(out, r)
		}
	}
	if out == nil {
		return Empty{}
	}
	return out
}

func combine(left, right *Group) {
	end := left.running()
	errs := left.Errors

	if right.Balance.Valid {
		later := right.Errors
		if !right.InitBalance.Decimal.IsZero() && len(later) > 0 {
			// Drop the check made against an opening balance of zero.
			later = later[1:]
		}
		if !right.InitBalance.Decimal.Equal(end) {
			calculated := end.Add(right.FirstBalance.Decimal.Sub(right.InitBalance.Decimal))
			errs = append(errs, newDiscrepancy(right.FirstBalanceID, right.FirstBalance.Decimal, calculated))
		}
		errs = append(errs, later...)

		if !left.Balance.Valid {
			left.InitBalance = decimal.NewNullDecimal(right.InitBalance.Decimal.Sub(left.Delta))
			left.FirstBalance = right.FirstBalance
			left.FirstBalanceID = right.FirstBalanceID
		}
		left.Balance = right.Balance
	} else if left.Balance.Valid {
		left.Balance = decimal.NewNullDecimal(left.Balance.Decimal.Add(right.Delta))
	}

	left.Delta = left.Delta.Add(right.Delta)
	left.Errors = errs
}

// ReduceFunc adapts Reduce and Rereduce to the stored value form.
func ReduceFunc(keys []ir.KeyID, values []ir.Value, rereduce bool) (ir.Value, error) {
	if !rereduce {
		acc, err := Reduce(keys, values)
		if err != nil {
			return nil, err
		}
		return Encode(acc), nil
	}

	accs := make([]Accumulator, len(values))
	for i, v := range values {
		acc, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("ledger rereduce: %w", err)
		}
		accs[i] = acc
	}
	return Encode(Rereduce(accs)), nil
}

func groupOf(key ir.Value) (acc, curr string, ok bool) {
	arr, isArr := key.(ir.Array)
	if !isArr || len(arr) < 2 {
		return "", "", false
	}
	a, aok := arr[0].(ir.String)
	c, cok := arr[1].(ir.String)
	return string(a), string(c), aok && cok
}

func legValue(v ir.Value) (Leg, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return Leg{}, fmt.Errorf("leaf value is %T, want object", v)
	}
	if b, ok := obj.Num("balance"); ok {
		return Leg{Balance: decimal.NewNullDecimal(decimal.NewFromFloat(b))}, nil
	}
	if d, ok := obj.Num("delta"); ok {
		return Leg{Delta: decimal.NewFromFloat(d)}, nil
	}
	return Leg{}, fmt.Errorf("leaf value has neither delta nor balance")
}
