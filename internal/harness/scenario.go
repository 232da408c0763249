package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a conformance scenario: documents written to a fresh store
// with some view sets deployed, queries against those views, and assertions
// on the resulting trace and reduced state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Views lists the view sets to deploy: ledger, chores, humanid.
	Views []string `yaml:"views"`

	// ChunkSize overrides the reduce chunk size so small fixtures still
	// exercise rereduce. Zero keeps the engine default.
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// Setup documents are written before the flow and must succeed.
	Setup []map[string]interface{} `yaml:"setup,omitempty"`

	// Flow contains the main steps, each optionally checked.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one store operation. Exactly one of Put, Delete or Query
// is set.
//
// String values "$now" and "$now+<duration>" in a put document are
// replaced with the step's deterministic timestamp. A document without
// _id gets a generated one, and "_rev": "$current" is replaced with the
// stored revision.
type FlowStep struct {
	Put    map[string]interface{} `yaml:"put,omitempty"`
	Delete string                 `yaml:"delete,omitempty"`
	Query  *QueryStep             `yaml:"query,omitempty"`

	// Expect checks the step outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// QueryStep is a view query. View is "<design>/<view>".
type QueryStep struct {
	View         string        `yaml:"view"`
	Key          interface{}   `yaml:"key,omitempty"`
	Keys         []interface{} `yaml:"keys,omitempty"`
	Start        interface{}   `yaml:"start,omitempty"`
	End          interface{}   `yaml:"end,omitempty"`
	ExclusiveEnd bool          `yaml:"exclusive_end,omitempty"`
	Reduce       *bool         `yaml:"reduce,omitempty"`
	Group        bool          `yaml:"group,omitempty"`
	GroupLevel   int           `yaml:"group_level,omitempty"`
	Skip         int           `yaml:"skip,omitempty"`
	Limit        int           `yaml:"limit,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected store error reason (e.g. "conflict").
	Error string `yaml:"error,omitempty"`

	// Rows is the expected number of rows a query returns.
	Rows *int `yaml:"rows,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": Check steps of a type occur exactly Count times
	// - "trace_contains": Check a step of a type touched document ID
	// - "balance": Check the reduced ledger group for Account/Currency
	// - "discrepancy": Check the discrepancy recorded against document ID
	// - "chore_status": Check the latest completion of Chore
	// - "document": Check the stored fields of document ID
	// - "human_prefix": Check the shortest unique prefix of HumanID
	Type string `yaml:"type"`

	Step     string `yaml:"step,omitempty"`
	ID       string `yaml:"id,omitempty"`
	Count    int    `yaml:"count,omitempty"`
	Account  string `yaml:"account,omitempty"`
	Currency string `yaml:"currency,omitempty"`
	Chore    string `yaml:"chore,omitempty"`
	HumanID  string `yaml:"human_id,omitempty"`

	// Expect contains expected field values.
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount    = "trace_count"
	AssertTraceContains = "trace_contains"
	AssertBalance       = "balance"
	AssertDiscrepancy   = "discrepancy"
	AssertChoreStatus   = "chore_status"
	AssertDocument      = "document"
	AssertHumanPrefix   = "human_prefix"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Views) == 0 {
		return fmt.Errorf("views list is required and must be non-empty")
	}
	for _, v := range s.Views {
		if _, ok := viewSets[v]; !ok {
			return fmt.Errorf("unknown view set %q", v)
		}
	}
	if s.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *FlowStep) error {
	set := 0
	if step.Put != nil {
		set++
	}
	if step.Delete != "" {
		set++
	}
	if step.Query != nil {
		set++
		if _, _, ok := strings.Cut(step.Query.View, "/"); !ok {
			return fmt.Errorf("flow[%d].query: view must be <design>/<view>, got %q", index, step.Query.View)
		}
	}
	if set != 1 {
		return fmt.Errorf("flow[%d]: exactly one of put, delete or query is required", index)
	}
	if step.Expect != nil && step.Expect.Rows != nil && step.Query == nil {
		return fmt.Errorf("flow[%d].expect: rows only applies to queries", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceContains:
		if a.Step == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: step and id are required for trace_contains", index)
		}
	case AssertBalance:
		if a.Account == "" || a.Currency == "" {
			return fmt.Errorf("assertions[%d]: account and currency are required for balance", index)
		}
	case AssertDiscrepancy:
		if a.Account == "" || a.Currency == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: account, currency and id are required for discrepancy", index)
		}
	case AssertChoreStatus:
		if a.Chore == "" {
			return fmt.Errorf("assertions[%d]: chore is required for chore_status", index)
		}
	case AssertDocument:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for document", index)
		}
	case AssertHumanPrefix:
		if a.HumanID == "" {
			return fmt.Errorf("assertions[%d]: human_id is required for human_prefix", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
