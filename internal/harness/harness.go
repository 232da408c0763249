package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/viewkit/internal/chore"
	"github.com/roach88/viewkit/internal/compiler"
	"github.com/roach88/viewkit/internal/deploy"
	"github.com/roach88/viewkit/internal/engine"
	"github.com/roach88/viewkit/internal/humanid"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/ledger"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
	"github.com/roach88/viewkit/internal/testutil"
)

// viewSets are the builtin view definitions a scenario can deploy.
var viewSets = map[string]func() []ir.ViewDefinition{
	"ledger":  ledger.Views,
	"chores":  chore.Views,
	"humanid": humanid.Views,
}

const (
	nowToken     = "$now"
	currentToken = "$current"
)

// Harness executes one scenario against a fresh in-memory store with a
// deterministic clock and document ids.
type Harness struct {
	store  *store.Local
	clock  *testutil.DeterministicClock
	ids    *testutil.SequenceIDGenerator
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Create fresh in-memory database and deploy the view sets
// 2. Write setup documents
// 3. Execute flow steps with expect validation
// 4. Capture the reduced ledger and chore state
// 5. Evaluate assertions
//
// Every step takes one clock tick; "$now" in a document is that tick's
// time. A returned error means the scenario could not run; failed
// expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	reg := ir.NewRegistry()
	var engOpts []engine.EngineOption
	if scenario.ChunkSize > 0 {
		engOpts = append(engOpts, engine.WithChunkSize(scenario.ChunkSize))
	}
	st, err := store.Open(":memory:",
		store.WithEngine(engine.New(reg, engOpts...)),
		store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(time.Minute),
		ids:    testutil.NewSequenceIDGenerator("doc"),
		logger: logger,
	}
	ctx := context.Background()

	if err := h.deploy(ctx, reg, scenario.Views); err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.executeFlow(ctx, scenario.Flow, result)
	h.captureState(ctx, scenario.Views, result)

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) deploy(ctx context.Context, reg *ir.Registry, views []string) error {
	var defs []ir.ViewDefinition
	for _, name := range views {
		defs = append(defs, viewSets[name]()...)
	}
	d := deploy.New(h.store, compiler.Native{Registry: reg}, deploy.Update, deploy.WithLogger(h.logger))
	for _, res := range d.SetupAll(ctx, defs, nil, nil) {
		if res.Err != nil {
			return fmt.Errorf("failed to deploy %s: %w", res.View, res.Err)
		}
	}
	return nil
}

// executeSetup writes the setup documents, which must all succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []map[string]interface{}, result *Result) error {
	for i, raw := range setup {
		seq := h.clock.Next()
		id, err := h.put(ctx, raw)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		result.addEvent(TraceEvent{Type: EventPut, Seq: seq, ID: id})
		h.logger.Info("setup document written", "step", i, "id", id)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses. Step
// failures are recorded in the result and the flow continues.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		seq := h.clock.Next()
		ev := TraceEvent{Seq: seq}

		var err error
		switch {
		case step.Put != nil:
			ev.Type = EventPut
			ev.ID, err = h.put(ctx, step.Put)
		case step.Delete != "":
			ev.Type = EventDelete
			ev.ID = step.Delete
			err = h.delete(ctx, step.Delete)
		case step.Query != nil:
			ev.Type = EventQuery
			ev.Args, ev.Result, err = h.query(ctx, step.Query)
		}
		if err != nil {
			ev.Error = errorString(err)
		}
		result.addEvent(ev)

		for _, msg := range checkExpect(step.Expect, ev, err) {
			result.AddError(fmt.Sprintf("flow[%d]: %s", i, msg))
		}
		h.logger.Info("flow step completed", "step", i, "type", ev.Type, "id", ev.ID, "error", ev.Error)
	}
}

func checkExpect(expect *ExpectClause, ev TraceEvent, err error) []string {
	var msgs []string
	switch {
	case expect != nil && expect.Error != "":
		if err == nil {
			msgs = append(msgs, fmt.Sprintf("expected error %q, got success", expect.Error))
		} else if ev.Error != expect.Error {
			msgs = append(msgs, fmt.Sprintf("expected error %q, got %q", expect.Error, ev.Error))
		}
	case err != nil:
		msgs = append(msgs, fmt.Sprintf("%s failed: %v", ev.Type, err))
	}
	if expect != nil && expect.Rows != nil && err == nil && len(ev.Result) != *expect.Rows {
		msgs = append(msgs, fmt.Sprintf("expected %d rows, got %d", *expect.Rows, len(ev.Result)))
	}
	return msgs
}

// errorString reports the store reason for err, or its text.
func errorString(err error) string {
	if reason := store.ReasonOf(err); reason != "" {
		return string(reason)
	}
	return err.Error()
}

func (h *Harness) put(ctx context.Context, raw map[string]interface{}) (string, error) {
	v, err := convertToIRValue(raw)
	if err != nil {
		return "", fmt.Errorf("convert document: %w", err)
	}
	doc, err := h.expand(v)
	if err != nil {
		return "", err
	}
	obj, ok := doc.(ir.Object)
	if !ok {
		return "", fmt.Errorf("document is %T, want object", doc)
	}

	id, _ := obj.Str("_id")
	if id == "" {
		id = h.ids.Generate()
		obj["_id"] = ir.String(id)
	}
	if rev, _ := obj.Str("_rev"); rev == currentToken {
		current, err := h.store.Get(ctx, id)
		if err != nil {
			return id, err
		}
		obj["_rev"] = current["_rev"]
	}

	_, err = h.store.Put(ctx, obj)
	return id, err
}

// expand replaces "$now" and "$now+<duration>" strings with the current
// tick's time.
func (h *Harness) expand(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case ir.String:
		rest, ok := strings.CutPrefix(string(val), nowToken)
		if !ok {
			return val, nil
		}
		t := h.clock.Now()
		if rest != "" {
			d, err := time.ParseDuration(strings.TrimPrefix(rest, "+"))
			if err != nil {
				return nil, fmt.Errorf("bad time offset in %q: %w", val, err)
			}
			t = t.Add(d)
		}
		return ir.String(t.UTC().Format(time.RFC3339)), nil
	case ir.Array:
		out := make(ir.Array, len(val))
		for i, el := range val {
			e, err := h.expand(el)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case ir.Object:
		out := make(ir.Object, len(val))
		for k, el := range val {
			e, err := h.expand(el)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	default:
		return v, nil
	}
}

func (h *Harness) delete(ctx context.Context, id string) error {
	current, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}
	rev, _ := current.Str("_rev")
	_, err = h.store.Delete(ctx, id, rev)
	return err
}

func (h *Harness) query(ctx context.Context, step *QueryStep) (ir.Object, ir.Array, error) {
	design, view, _ := strings.Cut(step.View, "/")
	q, args, err := step.build()
	if err != nil {
		return args, nil, err
	}
	rows, err := h.store.QueryView(ctx, ir.DesignID(design), view, q)
	if err != nil {
		return args, nil, err
	}
	out := make(ir.Array, len(rows))
	for i, row := range rows {
		out[i] = rowObject(row)
	}
	return args, out, nil
}

// build converts the step into a query and the trace record of the
// parameters that were set.
func (s *QueryStep) build() (queryir.Query, ir.Object, error) {
	args := ir.Object{"view": ir.String(s.View)}
	value := func(name string, raw interface{}) (ir.Value, error) {
		v, err := convertToIRValue(raw)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", name, err)
		}
		args[name] = v
		return v, nil
	}

	var q queryir.Query
	switch {
	case s.Keys != nil:
		keys, err := value("keys", s.Keys)
		if err != nil {
			return q, args, err
		}
		q.Select = queryir.Keys{Keys: keys.(ir.Array)}
	case s.Key != nil:
		key, err := value("key", s.Key)
		if err != nil {
			return q, args, err
		}
		q.Select = queryir.Keys{Keys: []ir.Value{key}}
	case s.Start != nil || s.End != nil || s.ExclusiveEnd:
		r := queryir.Range{ExclusiveEnd: s.ExclusiveEnd}
		var err error
		if s.Start != nil {
			if r.Start, err = value("start", s.Start); err != nil {
				return q, args, err
			}
		}
		if s.End != nil {
			if r.End, err = value("end", s.End); err != nil {
				return q, args, err
			}
		}
		if s.ExclusiveEnd {
			args["exclusive_end"] = ir.Bool(true)
		}
		q.Select = r
	}

	if s.Reduce != nil {
		q.Reduce = s.Reduce
		args["reduce"] = ir.Bool(*s.Reduce)
	}
	if s.Group {
		q.Group = true
		args["group"] = ir.Bool(true)
	}
	if s.GroupLevel > 0 {
		q.GroupLevel = s.GroupLevel
		args["group_level"] = ir.Number(s.GroupLevel)
	}
	if s.Skip > 0 {
		q.Skip = s.Skip
		args["skip"] = ir.Number(s.Skip)
	}
	if s.Limit > 0 {
		q.Limit = s.Limit
		args["limit"] = ir.Number(s.Limit)
	}
	return q, args, nil
}

func rowObject(row ir.Row) ir.Object {
	obj := ir.Object{"key": row.Key, "value": row.Value}
	if row.ID != "" {
		obj["id"] = ir.String(row.ID)
	}
	if obj["value"] == nil {
		obj["value"] = ir.Null{}
	}
	return obj
}

// captureState reads the reduced views of the deployed view sets.
func (h *Harness) captureState(ctx context.Context, views []string, result *Result) {
	for _, name := range views {
		switch name {
		case "ledger":
			groups, err := ledger.Balances(ctx, h.store)
			if err != nil {
				result.AddError(fmt.Sprintf("read balances: %v", err))
				continue
			}
			out := make(ir.Array, len(groups))
			for i, g := range groups {
				out[i] = ledger.Encode(g)
			}
			result.State["balances"] = out
		case "chores":
			statuses, err := chore.Statuses(ctx, h.store)
			if err != nil {
				result.AddError(fmt.Sprintf("read chores: %v", err))
				continue
			}
			out := make(ir.Array, len(statuses))
			for i, s := range statuses {
				out[i] = statusObject(s)
			}
			result.State["chores"] = out
		}
	}
}

func statusObject(s chore.Status) ir.Object {
	obj := ir.Object{
		"chore":    ir.String(s.Chore),
		"lastDone": ir.String(s.LastDone.UTC().Format(time.RFC3339)),
		"lastId":   ir.String(s.LastID),
	}
	if !s.NextDue.IsZero() {
		obj["nextDue"] = ir.String(s.NextDue.UTC().Format(time.RFC3339))
	}
	return obj
}

// convertToIRValue converts YAML-decoded data to an ir.Value. Timestamps
// that YAML resolved to time.Time become RFC 3339 strings.
func convertToIRValue(v interface{}) (ir.Value, error) {
	switch val := v.(type) {
	case time.Time:
		return ir.String(val.UTC().Format(time.RFC3339)), nil
	case map[string]interface{}:
		obj := make(ir.Object, len(val))
		for k, el := range val {
			iv, err := convertToIRValue(el)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			obj[k] = iv
		}
		return obj, nil
	case []interface{}:
		arr := make(ir.Array, len(val))
		for i, el := range val {
			iv, err := convertToIRValue(el)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = iv
		}
		return arr, nil
	default:
		return ir.FromAny(v)
	}
}
