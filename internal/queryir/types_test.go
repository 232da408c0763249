package queryir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/ir"
)

func TestSelectorSealed(t *testing.T) {
	for _, sel := range []Selector{All{}, Range{}, Keys{}} {
		switch sel.(type) {
		case All, Range, Keys:
		default:
			t.Fatalf("unexpected selector %T", sel)
		}
	}
}

func TestSelectionDefaultsToAll(t *testing.T) {
	assert.Equal(t, All{}, Query{}.Selection())
	assert.Equal(t, Keys{Keys: []ir.Value{ir.String("a")}}, ForKeys(ir.String("a")).Selection())
}

func TestForPrefix(t *testing.T) {
	q := ForPrefix(ir.String("ab"))
	r := q.Select.(Range)
	assert.Equal(t, ir.String("ab"), r.Start)
	assert.Equal(t, ir.String("ab"+collate.MaxString), r.End)
	assert.True(t, r.ExclusiveEnd)

	q = ForPrefix(ir.Number(1))
	r = q.Select.(Range)
	assert.Equal(t, ir.Number(collate.NextAfter(1, math.Inf(1))), r.End)
	assert.True(t, r.ExclusiveEnd)

	q = ForPrefix(ir.Bool(true))
	r = q.Select.(Range)
	assert.Equal(t, ir.Bool(true), r.End)
	assert.False(t, r.ExclusiveEnd)
}

func TestQueryBuilders(t *testing.T) {
	q := ForRange(ir.Number(1), ir.Number(5)).Grouped().Page(2, 10)
	assert.True(t, q.Group)
	assert.True(t, q.Grouping())
	assert.Equal(t, 2, q.Skip)
	assert.Equal(t, 10, q.Limit)

	assert.False(t, *q.Unreduced().Reduce)
	assert.True(t, *q.Reduced().Reduce)
	// Builders return copies.
	assert.Nil(t, q.Reduce)

	lvl := Query{}.AtGroupLevel(2)
	assert.True(t, lvl.Grouping())
	assert.False(t, lvl.Group)
}
