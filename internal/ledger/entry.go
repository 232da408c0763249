package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/viewkit/internal/ir"
)

// EntryType tags the three ledger entry shapes.
type EntryType string

const (
	// Transfer moves Amount of Curr from Acc to To.
	Transfer EntryType = "tx"

	// Assertion states that Acc held Bal of Curr at TS.
	Assertion EntryType = "eq"

	// Exchange moves Amount of Curr out of Acc and ToAmount of ToCurr into To.
	Exchange EntryType = "xc"
)

// Entry is one ledger document. Entries are append-only: corrections are
// new entries, usually a Transfer with Reversed set.
type Entry struct {
	ID       string
	Type     EntryType
	Acc      string
	To       string
	Curr     string
	ToCurr   string
	Amount   decimal.Decimal
	ToAmount decimal.Decimal
	Bal      decimal.Decimal
	Reversed bool
	Comment  string
	TS       string
}

// IsEntry reports whether doc carries a ledger entry type tag.
func IsEntry(doc ir.Object) bool {
	t, _ := doc.Str("type")
	switch EntryType(t) {
	case Transfer, Assertion, Exchange:
		return true
	}
	return false
}

// EntryFromObject reads a ledger entry document.
func EntryFromObject(doc ir.Object) (Entry, error) {
	var e Entry
	e.ID, _ = doc.Str("_id")
	t, _ := doc.Str("type")
	e.Type = EntryType(t)

	var errs []string
	str := func(field string, dst *string) {
		v, ok := doc.Str(field)
		if !ok || v == "" {
			errs = append(errs, field)
		}
		*dst = v
	}
	num := func(field string, dst *decimal.Decimal) {
		v, ok := doc.Num(field)
		if !ok {
			errs = append(errs, field)
		}
		*dst = decimal.NewFromFloat(v)
	}

	str("acc", &e.Acc)
	str("curr", &e.Curr)
	str("ts", &e.TS)
	switch e.Type {
	case Transfer:
		str("to", &e.To)
		num("amount", &e.Amount)
		e.Reversed = doc.Flag("reversed")
	case Assertion:
		num("bal", &e.Bal)
	case Exchange:
		str("to", &e.To)
		str("toCurr", &e.ToCurr)
		num("amount", &e.Amount)
		num("toAmount", &e.ToAmount)
	default:
		return Entry{}, fmt.Errorf("ledger entry %s: unknown type %q", e.ID, t)
	}
	e.Comment, _ = doc.Str("comment")

	if len(errs) > 0 {
		return Entry{}, fmt.Errorf("ledger entry %s: missing or invalid fields %v", e.ID, errs)
	}
	return e, nil
}

// ToObject returns the document form of e.
func (e Entry) ToObject() ir.Object {
	doc := ir.Object{
		"type": ir.String(e.Type),
		"acc":  ir.String(e.Acc),
		"curr": ir.String(e.Curr),
		"ts":   ir.String(e.TS),
	}
	if e.ID != "" {
		doc["_id"] = ir.String(e.ID)
	}
	switch e.Type {
	case Transfer:
		doc["to"] = ir.String(e.To)
		doc["amount"] = number(e.Amount)
		if e.Reversed {
			doc["reversed"] = ir.Bool(true)
		}
	case Assertion:
		doc["bal"] = number(e.Bal)
	case Exchange:
		doc["to"] = ir.String(e.To)
		doc["toCurr"] = ir.String(e.ToCurr)
		doc["amount"] = number(e.Amount)
		doc["toAmount"] = number(e.ToAmount)
	}
	if e.Comment != "" {
		doc["comment"] = ir.String(e.Comment)
	}
	return doc
}

// Leg is one account's side of an entry: a signed Delta, or an asserted
// Balance.
type Leg struct {
	Account  string
	Currency string
	Delta    decimal.Decimal
	Balance  decimal.NullDecimal
}

// Legs splits e into per-account effects. A reversed transfer flows the
// other way.
func (e Entry) Legs() []Leg {
	switch e.Type {
	case Transfer:
		amount := e.Amount
		if e.Reversed {
			amount = amount.Neg()
		}
		return []Leg{
			{Account: e.Acc, Currency: e.Curr, Delta: amount.Neg()},
			{Account: e.To, Currency: e.Curr, Delta: amount},
		}
	case Exchange:
		return []Leg{
			{Account: e.Acc, Currency: e.Curr, Delta: e.Amount.Neg()},
			{Account: e.To, Currency: e.ToCurr, Delta: e.ToAmount},
		}
	case Assertion:
		return []Leg{
			{Account: e.Acc, Currency: e.Curr, Balance: decimal.NewNullDecimal(e.Bal)},
		}
	}
	return nil
}

func number(d decimal.Decimal) ir.Number {
	return ir.Number(d.InexactFloat64())
}
