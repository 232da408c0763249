package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/viewkit/internal/ir"
)

// Accumulator is the reduce state for one (account, currency) group:
// Empty, *Group, or Invalid.
type Accumulator interface {
	accumulator()
}

// Empty is the state before any value is folded in.
type Empty struct{}

// Invalid marks a fold that mixed accounts or currencies. It absorbs
// everything it is combined with.
type Invalid struct{}

// Group is the running state of one account in one currency.
type Group struct {
	Account  string
	Currency string

	// Delta is the sum of every change folded in.
	Delta decimal.Decimal

	// Balance is the running balance, known once an assertion is seen.
	Balance decimal.NullDecimal

	// InitBalance is the balance implied before the first folded value,
	// derived from the first assertion. FirstBalance and FirstBalanceID
	// are that assertion's value and document.
	InitBalance    decimal.NullDecimal
	FirstBalance   decimal.NullDecimal
	FirstBalanceID string

	Errors []Discrepancy
}

func (Empty) accumulator()   {}
func (Invalid) accumulator() {}
func (*Group) accumulator()  {}

// Discrepancy is an asserted balance that disagrees with the balance
// computed from the entries before it.
type Discrepancy struct {
	DocID      string          `json:"docId"`
	Expected   decimal.Decimal `json:"expectedBalance"`
	Calculated decimal.Decimal `json:"calculatedBalance"`
	OffBy      decimal.Decimal `json:"offBy"`
}

func newDiscrepancy(docID string, expected, calculated decimal.Decimal) Discrepancy {
	return Discrepancy{
		DocID:      docID,
		Expected:   expected,
		Calculated: calculated,
		OffBy:      expected.Sub(calculated),
	}
}

func (g *Group) clone() *Group {
	c := *g
	c.Errors = append([]Discrepancy(nil), g.Errors...)
	return &c
}

// Encode returns the stored form of acc: null for Invalid, {} for Empty
// and an object for a Group.
func Encode(acc Accumulator) ir.Value {
	switch a := acc.(type) {
	case Invalid:
		return ir.Null{}
	case *Group:
		obj := ir.Object{
			"account":  ir.String(a.Account),
			"currency": ir.String(a.Currency),
			"delta":    number(a.Delta),
		}
		putNull(obj, "balance", a.Balance)
		putNull(obj, "initBalance", a.InitBalance)
		putNull(obj, "firstBalance", a.FirstBalance)
		if a.FirstBalanceID != "" {
			obj["firstBalanceId"] = ir.String(a.FirstBalanceID)
		}
		errs := make(ir.Array, len(a.Errors))
		for i, d := range a.Errors {
			errs[i] = ir.Object{
				"docId":             ir.String(d.DocID),
				"expectedBalance":   number(d.Expected),
				"calculatedBalance": number(d.Calculated),
				"offBy":             number(d.OffBy),
			}
		}
		obj["errors"] = errs
		return obj
	default:
		return ir.Object{}
	}
}

func putNull(obj ir.Object, key string, d decimal.NullDecimal) {
	if d.Valid {
		obj[key] = number(d.Decimal)
	}
}

// Decode reads the stored form of an accumulator.
func Decode(v ir.Value) (Accumulator, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return Invalid{}, nil
	case ir.Object:
		if len(val) == 0 {
			return Empty{}, nil
		}
		g := &Group{}
		var ok bool
		if g.Account, ok = val.Str("account"); !ok {
			return nil, fmt.Errorf("accumulator: missing account")
		}
		if g.Currency, ok = val.Str("currency"); !ok {
			return nil, fmt.Errorf("accumulator: missing currency")
		}
		delta, ok := val.Num("delta")
		if !ok {
			return nil, fmt.Errorf("accumulator: missing delta")
		}
		g.Delta = decimal.NewFromFloat(delta)
		g.Balance = getNull(val, "balance")
		g.InitBalance = getNull(val, "initBalance")
		g.FirstBalance = getNull(val, "firstBalance")
		g.FirstBalanceID, _ = val.Str("firstBalanceId")

		errs, _ := val["errors"].(ir.Array)
		for _, e := range errs {
			obj, ok := e.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("accumulator: discrepancy is %T, want object", e)
			}
			d := Discrepancy{}
			d.DocID, _ = obj.Str("docId")
			d.Expected = getNull(obj, "expectedBalance").Decimal
			d.Calculated = getNull(obj, "calculatedBalance").Decimal
			d.OffBy = getNull(obj, "offBy").Decimal
			g.Errors = append(g.Errors, d)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("accumulator: unexpected %s value", v.Kind())
	}
}

func getNull(obj ir.Object, key string) decimal.NullDecimal {
	n, ok := obj.Num(key)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(n))
}
