package harness

import "github.com/roach88/viewkit/internal/ir"

// Trace event types.
const (
	EventPut    = "put"
	EventDelete = "delete"
	EventQuery  = "query"
)

// TraceEvent records one store operation performed by a scenario.
type TraceEvent struct {
	Type string `json:"type"` // "put", "delete" or "query"
	Seq  int64  `json:"seq"`

	// ID is the document written or deleted.
	ID string `json:"id,omitempty"`

	// Args are the query parameters that were set.
	Args ir.Object `json:"args,omitempty"`

	// Error is the store error reason, or the error text when the error
	// has no reason.
	Error string `json:"error,omitempty"`

	// Result holds the rows a query returned.
	Result ir.Array `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every store operation in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the reduced views after the flow, keyed by view set:
	// "balances" and "chores".
	State map[string]ir.Value `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ir.Value),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
