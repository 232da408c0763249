package queryir

import (
	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/ir"
)

// Selector chooses which index rows a query reads.
//
// This is a sealed interface - only types in this package implement it.
type Selector interface {
	selectorNode()
}

// All selects every row of the view.
type All struct{}

func (All) selectorNode() {}

// Range selects rows with Start <= key <= End (or key < End when
// ExclusiveEnd is set). A nil bound is open.
type Range struct {
	Start        ir.Value
	End          ir.Value
	ExclusiveEnd bool

	// StartDocID narrows Start to rows whose document id is >= StartDocID
	// when their key equals Start. Used to resume paging between duplicate
	// keys.
	StartDocID string
}

func (Range) selectorNode() {}

// Keys selects rows whose key equals one of Keys, returned in request order.
type Keys struct {
	Keys []ir.Value
}

func (Keys) selectorNode() {}

// Query is a complete view query.
type Query struct {
	// Select chooses rows; nil means All.
	Select Selector

	// Reduce forces reduction on or off. Nil reduces whenever the view has a
	// reduce function.
	Reduce *bool

	// Group reduces each distinct key separately.
	Group bool

	// GroupLevel groups array keys by their first GroupLevel elements.
	// Ignored when Group is set.
	GroupLevel int

	// Skip and Limit page over output rows (after reduction). Limit 0 means
	// no limit.
	Skip  int
	Limit int
}

// Selection returns the selector, defaulting to All.
func (q Query) Selection() Selector {
	if q.Select == nil {
		return All{}
	}
	return q.Select
}

// Grouping reports whether reduced output is split into groups.
func (q Query) Grouping() bool {
	return q.Group || q.GroupLevel > 0
}

// ForKeys returns a query selecting exactly keys.
func ForKeys(keys ...ir.Value) Query {
	return Query{Select: Keys{Keys: keys}}
}

// ForRange returns a query selecting the inclusive range [start, end].
func ForRange(start, end ir.Value) Query {
	return Query{Select: Range{Start: start, End: end}}
}

// ForPrefix returns a query selecting every key that has key as a
// structural prefix.
func ForPrefix(key ir.Value) Query {
	start, end := collate.RangeForPrefix(key)
	switch key.(type) {
	case ir.Null, ir.Bool, nil:
		return ForRange(start, end)
	}
	return Query{Select: Range{Start: start, End: end, ExclusiveEnd: true}}
}

// Unreduced returns q with reduction disabled.
func (q Query) Unreduced() Query {
	off := false
	q.Reduce = &off
	return q
}

// Reduced returns q with reduction forced on.
func (q Query) Reduced() Query {
	on := true
	q.Reduce = &on
	return q
}

// Grouped returns q grouped by exact key.
func (q Query) Grouped() Query {
	q.Group = true
	return q
}

// AtGroupLevel returns q grouped at level.
func (q Query) AtGroupLevel(level int) Query {
	q.GroupLevel = level
	return q
}

// Page returns q with skip and limit set.
func (q Query) Page(skip, limit int) Query {
	q.Skip = skip
	q.Limit = limit
	return q
}
