package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/store"
	"github.com/roach88/viewkit/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventPut, Seq: 1, ID: "a"},
		{Type: EventPut, Seq: 2, ID: "a", Error: "conflict"},
		{Type: EventDelete, Seq: 3, ID: "b"},
		{Type: EventQuery, Seq: 4},
	}
}

func sampleState() map[string]ir.Value {
	return map[string]ir.Value{
		"balances": ir.Array{
			ir.Object{
				"account":  ir.String("A"),
				"currency": ir.String("USD"),
				"delta":    ir.Number(-10),
				"balance":  ir.Number(-5),
				"errors": ir.Array{ir.Object{
					"docId":             ir.String("eq1"),
					"expectedBalance":   ir.Number(-5),
					"calculatedBalance": ir.Number(-10),
					"offBy":             ir.Number(5),
				}},
			},
			ir.Object{
				"account":  ir.String("B"),
				"currency": ir.String("USD"),
				"delta":    ir.Number(10),
				"errors":   ir.Array{},
			},
		},
		"chores": ir.Array{
			ir.Object{"chore": ir.String("dishes"), "lastId": ir.String("c2"), "lastDone": ir.String("2024-01-01T00:02:00Z")},
		},
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()
	tests := []struct {
		name string
		a    Assertion
		pass bool
	}{
		{"puts", Assertion{Step: EventPut, Count: 2}, true},
		{"puts of a", Assertion{Step: EventPut, ID: "a", Count: 2}, true},
		{"too few", Assertion{Step: EventPut, Count: 3}, false},
		{"zero", Assertion{Step: EventDelete, ID: "a", Count: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(trace, tt.a)
			if tt.pass {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AssertTraceCount, ae.Type)
			assert.Equal(t, "2 occurrences", ae.Actual)
		})
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Step: EventDelete, ID: "b"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Step: EventPut, ID: "a",
		Expect: map[string]interface{}{"error": "conflict"}}))

	err := assertTraceContains(trace, Assertion{Step: EventDelete, ID: "b",
		Expect: map[string]interface{}{"error": "missing"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "delete of b failing with missing", ae.Expected)
}

func TestAssertBalance(t *testing.T) {
	state := sampleState()

	assert.NoError(t, assertBalance(state, Assertion{Account: "A", Currency: "USD",
		Expect: map[string]interface{}{"delta": -10, "balance": -5}}))
	assert.NoError(t, assertBalance(state, Assertion{Account: "B", Currency: "USD",
		Expect: map[string]interface{}{"balance": nil, "errors": []interface{}{}}}),
		"an absent field matches null")

	err := assertBalance(state, Assertion{Account: "A", Currency: "USD",
		Expect: map[string]interface{}{"balance": -4.5}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, `field "balance" = -4.5`, ae.Expected)
	assert.Equal(t, `field "balance" = -5`, ae.Actual)

	err = assertBalance(state, Assertion{Account: "C", Currency: "USD"})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "no entries", ae.Actual)

	assert.ErrorContains(t, assertBalance(map[string]ir.Value{}, Assertion{Account: "A", Currency: "USD"}),
		"ledger views are not deployed")
}

func TestAssertDiscrepancy(t *testing.T) {
	state := sampleState()

	assert.NoError(t, assertDiscrepancy(state, Assertion{Account: "A", Currency: "USD", ID: "eq1",
		Expect: map[string]interface{}{"offBy": 5, "calculatedBalance": -10}}))

	err := assertDiscrepancy(state, Assertion{Account: "A", Currency: "USD", ID: "eq2"})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "1 discrepancies, none for eq2", ae.Actual)
}

func TestAssertChoreStatus(t *testing.T) {
	state := sampleState()

	assert.NoError(t, assertChoreStatus(state, Assertion{Chore: "dishes",
		Expect: map[string]interface{}{"lastId": "c2", "nextDue": nil}}))

	err := assertChoreStatus(state, Assertion{Chore: "laundry"})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "never done", ae.Actual)
}

func TestAssertDocumentAndHumanPrefix(t *testing.T) {
	reg := ir.NewRegistry()
	st := testutil.OpenStore(t, reg)
	testutil.DeployViews(t, st, reg, viewSets["humanid"]()...)
	testutil.PutDocs(t, st,
		ir.Object{"_id": ir.String("a"), "n": ir.Number(1), "meta": ir.Object{"humanId": ir.String("abc")}},
		ir.Object{"_id": ir.String("b"), "meta": ir.Object{"humanId": ir.String("abd")}},
		ir.Object{"_id": ir.String("c"), "meta": ir.Object{"humanId": ir.String("abd")}},
	)
	actx := &AssertionContext{Store: st, Ctx: context.Background()}

	assert.NoError(t, assertDocument(actx, Assertion{ID: "a", Expect: map[string]interface{}{"n": 1}}))
	assert.NoError(t, assertDocument(actx, Assertion{ID: "zz", Expect: map[string]interface{}{"error": string(store.ReasonMissing)}}))
	assert.Error(t, assertDocument(actx, Assertion{ID: "a", Expect: map[string]interface{}{"n": 2}}))

	assert.NoError(t, assertHumanPrefix(actx, Assertion{HumanID: "abc", Expect: map[string]interface{}{"prefix": "abc"}}))
	assert.NoError(t, assertHumanPrefix(actx, Assertion{HumanID: "abd", Expect: map[string]interface{}{"error": "no_unique_prefix"}}))
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()
	result.State = sampleState()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Step: EventPut, Count: 2},
		{Type: AssertBalance, Account: "A", Currency: "USD", Expect: map[string]interface{}{"delta": 0}},
		{Type: AssertDocument, ID: "a"},
		{Type: "final_state"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "assertion 1 (balance)")
	assert.Contains(t, errs[1], "assertion 2 (document): document assertion requires a store")
	assert.Contains(t, errs[2], `unknown assertion type "final_state"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 put steps",
		Actual:   "2 occurrences",
		Trace:    sampleTrace()[:2],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 1 put steps")
	assert.Contains(t, msg, "Actual: 2 occurrences")
	assert.Contains(t, msg, "[1] put a\n")
	assert.Contains(t, msg, "[2] put a (conflict)\n")
}
