package chore

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/queryir"
	"github.com/roach88/viewkit/internal/store"
)

// DocType tags completion documents.
const DocType = "chore"

// View names.
const (
	View       = "chores"
	LatestView = "latest"
)

// Completion records one time a chore was done.
type Completion struct {
	ID             string
	Chore          string
	OccurrenceTime time.Time
	NextDueTime    time.Time
}

// CompletionFromObject reads a completion document. Times are RFC 3339;
// nextDueTime is optional.
func CompletionFromObject(doc ir.Object) (Completion, error) {
	var c Completion
	c.ID, _ = doc.Str("_id")
	var ok bool
	if c.Chore, ok = doc.Str("chore"); !ok || c.Chore == "" {
		return Completion{}, fmt.Errorf("completion %s: missing chore", c.ID)
	}
	occ, _ := doc.Str("occurrenceTime")
	t, err := time.Parse(time.RFC3339, occ)
	if err != nil {
		return Completion{}, fmt.Errorf("completion %s: occurrenceTime: %w", c.ID, err)
	}
	c.OccurrenceTime = t
	if next, ok := doc.Str("nextDueTime"); ok {
		t, err := time.Parse(time.RFC3339, next)
		if err != nil {
			return Completion{}, fmt.Errorf("completion %s: nextDueTime: %w", c.ID, err)
		}
		c.NextDueTime = t
	}
	return c, nil
}

// ToObject returns the document form of c.
func (c Completion) ToObject() ir.Object {
	doc := ir.Object{
		"type":           ir.String(DocType),
		"chore":          ir.String(c.Chore),
		"occurrenceTime": ir.String(c.OccurrenceTime.UTC().Format(time.RFC3339)),
	}
	if c.ID != "" {
		doc["_id"] = ir.String(c.ID)
	}
	if !c.NextDueTime.IsZero() {
		doc["nextDueTime"] = ir.String(c.NextDueTime.UTC().Format(time.RFC3339))
	}
	return doc
}

func (c Completion) value() ir.Object {
	v := c.ToObject()
	delete(v, "type")
	delete(v, "chore")
	delete(v, "_id")
	if c.ID != "" {
		v["id"] = ir.String(c.ID)
	}
	return v
}

// Map emits (chore, completion) for every completion document.
func Map(doc ir.Object, emit ir.Emit) error {
	if t, _ := doc.Str("type"); t != DocType {
		return nil
	}
	c, err := CompletionFromObject(doc)
	if err != nil {
		return err
	}
	emit(ir.String(c.Chore), c.value())
	return nil
}

// Latest returns the value with the greatest occurrenceTime. Comparison is
// strictly greater-than, so of equal times the first one seen is kept.
// Values without a parseable occurrenceTime never win.
func Latest(values []ir.Value) ir.Value {
	var (
		best     ir.Value = ir.Null{}
		bestTime time.Time
		found    bool
	)
	for _, v := range values {
		t, ok := occurrence(v)
		if !ok {
			continue
		}
		if !found || t.After(bestTime) {
			best, bestTime, found = v, t, true
		}
	}
	return best
}

func occurrence(v ir.Value) (time.Time, bool) {
	obj, ok := v.(ir.Object)
	if !ok {
		return time.Time{}, false
	}
	s, ok := obj.Str("occurrenceTime")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}

// ReduceFunc applies Latest on both passes; its output has the same shape
// as its input.
func ReduceFunc(_ []ir.KeyID, values []ir.Value, _ bool) (ir.Value, error) {
	return Latest(values), nil
}

// Views returns the chore view definition.
func Views() []ir.ViewDefinition {
	return []ir.ViewDefinition{{
		Name: View,
		Map:  ir.NativeMap("chore.completions", Map),
		Reduces: map[string]ir.Function{
			LatestView: ir.NativeReduce("chore.latest", ReduceFunc),
		},
	}}
}

// Status is the latest completion of one chore.
type Status struct {
	Chore    string
	LastDone time.Time
	LastID   string
	NextDue  time.Time
}

// Overdue reports whether the chore has a due time before now.
func (s Status) Overdue(now time.Time) bool {
	return !s.NextDue.IsZero() && s.NextDue.Before(now)
}

// Statuses returns the latest completion of every chore, ordered by chore
// name.
func Statuses(ctx context.Context, st store.Store) ([]Status, error) {
	rows, err := st.QueryView(ctx, ir.DesignID(View), LatestView, queryir.Query{}.Grouped())
	if err != nil {
		return nil, fmt.Errorf("chore statuses: %w", err)
	}
	out := make([]Status, 0, len(rows))
	for _, row := range rows {
		name, _ := row.Key.(ir.String)
		obj, ok := row.Value.(ir.Object)
		if !ok {
			continue
		}
		s := Status{Chore: string(name)}
		s.LastDone, _ = occurrence(obj)
		s.LastID, _ = obj.Str("id")
		if next, ok := obj.Str("nextDueTime"); ok {
			s.NextDue, _ = time.Parse(time.RFC3339, next)
		}
		out = append(out, s)
	}
	return out, nil
}
