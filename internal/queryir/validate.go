package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/viewkit/internal/collate"
)

// ValidationError lists every problem found in a query.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// Validate checks a query against the view it targets.
// hasReduce reports whether the view defines a reduce function.
//
// Validate is a pure function with no side effects.
func Validate(q Query, hasReduce bool) error {
	v := &validator{}
	v.validateSelector(q.Selection())
	v.validateReduce(q, hasReduce)

	if q.Skip < 0 {
		v.add("skip must be >= 0, got %d", q.Skip)
	}
	if q.Limit < 0 {
		v.add("limit must be >= 0, got %d", q.Limit)
	}
	if q.GroupLevel < 0 {
		v.add("group_level must be >= 0, got %d", q.GroupLevel)
	}

	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// WillReduce reports whether q produces reduced rows for a view.
func WillReduce(q Query, hasReduce bool) bool {
	if q.Reduce != nil {
		return *q.Reduce && hasReduce
	}
	return hasReduce
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateSelector(sel Selector) {
	switch s := sel.(type) {
	case All:
	case Keys:
		for i, k := range s.Keys {
			if k == nil {
				v.add("keys[%d] is nil", i)
			}
		}
	case Range:
		if s.Start != nil && s.End != nil && collate.Less(s.End, s.Start) {
			v.add("endkey sorts before startkey")
		}
		if s.StartDocID != "" && s.Start == nil {
			v.add("startkey_docid requires startkey")
		}
	default:
		v.add("unknown selector type %T", sel)
	}
}

func (v *validator) validateReduce(q Query, hasReduce bool) {
	if q.Reduce != nil && *q.Reduce && !hasReduce {
		v.add("reduce=true on a view without a reduce function")
	}
	if q.Grouping() && !WillReduce(q, hasReduce) {
		v.add("group and group_level require a reduced query")
	}
	if _, multi := q.Selection().(Keys); multi && WillReduce(q, hasReduce) && !q.Grouping() {
		v.add("multi-key reduce queries must set group or group_level")
	}
}
