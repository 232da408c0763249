package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/viewkit/internal/collate"
	"github.com/roach88/viewkit/internal/humanid"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", i+1, event.Type, event.ID)
			if event.Error != "" {
				fmt.Fprintf(&buf, " (%s)", event.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the scenario's store.
type AssertionContext struct {
	Store store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertBalance:
		return assertBalance(result.State, a)
	case AssertDiscrepancy:
		return assertDiscrepancy(result.State, a)
	case AssertChoreStatus:
		return assertChoreStatus(result.State, a)
	case AssertDocument, AssertHumanPrefix:
		if actx == nil || actx.Store == nil {
			return fmt.Errorf("%s assertion requires a store", a.Type)
		}
		if a.Type == AssertDocument {
			return assertDocument(actx, a)
		}
		return assertHumanPrefix(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceCount checks that steps of a type (and id, if given) occur
// exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == a.Step && (a.ID == "" || event.ID == a.ID) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s steps", a.Count, a.Step),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceContains checks for a step of a type on document ID. An
// expected "error" must match the step's error.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	wantErr, _ := a.Expect["error"].(string)
	for _, event := range trace {
		if event.Type == a.Step && event.ID == a.ID && (wantErr == "" || event.Error == wantErr) {
			return nil
		}
	}
	expected := fmt.Sprintf("%s of %s", a.Step, a.ID)
	if wantErr != "" {
		expected += " failing with " + wantErr
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func findGroup(state map[string]ir.Value, account, currency string) (ir.Object, error) {
	groups, ok := state["balances"].(ir.Array)
	if !ok {
		return nil, fmt.Errorf("ledger views are not deployed")
	}
	for _, g := range groups {
		obj, ok := g.(ir.Object)
		if !ok {
			continue
		}
		acc, _ := obj.Str("account")
		curr, _ := obj.Str("currency")
		if acc == account && curr == currency {
			return obj, nil
		}
	}
	return nil, &AssertionError{
		Type:     AssertBalance,
		Expected: fmt.Sprintf("ledger group %s/%s", account, currency),
		Actual:   "no entries",
	}
}

func assertBalance(state map[string]ir.Value, a Assertion) error {
	group, err := findGroup(state, a.Account, a.Currency)
	if err != nil {
		return err
	}
	return matchFields(AssertBalance, group, a.Expect)
}

func assertDiscrepancy(state map[string]ir.Value, a Assertion) error {
	group, err := findGroup(state, a.Account, a.Currency)
	if err != nil {
		return err
	}
	errs, _ := group["errors"].(ir.Array)
	for _, e := range errs {
		d, ok := e.(ir.Object)
		if !ok {
			continue
		}
		if id, _ := d.Str("docId"); id == a.ID {
			return matchFields(AssertDiscrepancy, d, a.Expect)
		}
	}
	return &AssertionError{
		Type:     AssertDiscrepancy,
		Expected: fmt.Sprintf("discrepancy for %s in %s/%s", a.ID, a.Account, a.Currency),
		Actual:   fmt.Sprintf("%d discrepancies, none for %s", len(errs), a.ID),
	}
}

func assertChoreStatus(state map[string]ir.Value, a Assertion) error {
	statuses, ok := state["chores"].(ir.Array)
	if !ok {
		return fmt.Errorf("chore views are not deployed")
	}
	for _, s := range statuses {
		obj, ok := s.(ir.Object)
		if !ok {
			continue
		}
		if name, _ := obj.Str("chore"); name == a.Chore {
			return matchFields(AssertChoreStatus, obj, a.Expect)
		}
	}
	return &AssertionError{
		Type:     AssertChoreStatus,
		Expected: fmt.Sprintf("completion of %s", a.Chore),
		Actual:   "never done",
	}
}

// assertDocument checks the stored document. An expected "error" matches
// the store reason when the document cannot be read.
func assertDocument(actx *AssertionContext, a Assertion) error {
	doc, err := actx.Store.Get(actx.Ctx, a.ID)
	if err != nil {
		return matchFields(AssertDocument, ir.Object{"error": ir.String(errorString(err))}, a.Expect)
	}
	return matchFields(AssertDocument, doc, a.Expect)
}

// assertHumanPrefix checks {"prefix": p}, or {"error": "no_unique_prefix"}
// when every prefix is shared.
func assertHumanPrefix(actx *AssertionContext, a Assertion) error {
	prefix, err := humanid.NewResolver(actx.Store).MinimalUniquePrefix(actx.Ctx, a.HumanID)
	var actual ir.Object
	var nup *humanid.NoUniquePrefixError
	switch {
	case errors.As(err, &nup):
		actual = ir.Object{"error": ir.String("no_unique_prefix")}
	case err != nil:
		return err
	default:
		actual = ir.Object{"prefix": ir.String(prefix)}
	}
	return matchFields(AssertHumanPrefix, actual, a.Expect)
}

// matchFields checks that actual contains every expected field (subset
// match). An absent field matches an expected null. Keys are checked in
// sorted order so the first mismatch reported is deterministic.
func matchFields(kind string, actual ir.Object, expected map[string]interface{}) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want, err := convertToIRValue(expected[key])
		if err != nil {
			return fmt.Errorf("expected %q: %w", key, err)
		}
		got, exists := actual[key]
		if !exists {
			got = ir.Null{}
		}
		if !collate.Equal(want, got) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q = %s", key, describe(want)),
				Actual:   fmt.Sprintf("field %q = %s", key, describe(got)),
			}
		}
	}
	return nil
}

func describe(v ir.Value) string {
	b, err := ir.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
