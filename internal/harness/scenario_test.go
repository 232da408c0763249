package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
views: [ledger, chores]
chunk_size: 2
setup:
  - {_id: tx1, type: tx, acc: A, to: B, curr: USD, amount: 1, ts: $now}
flow:
  - put: {_id: eq1, type: eq, acc: A, curr: USD, bal: -1, ts: $now}
  - query:
      view: ledger/balance
      start: [A]
      end: [A, {}]
      group_level: 2
    expect:
      rows: 1
assertions:
  - type: balance
    account: A
    currency: USD
    expect:
      balance: -1
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, []string{"ledger", "chores"}, scenario.Views)
	assert.Equal(t, 2, scenario.ChunkSize)
	require.Len(t, scenario.Setup, 1)
	assert.Equal(t, "tx1", scenario.Setup[0]["_id"])
	require.Len(t, scenario.Flow, 2)
	assert.Equal(t, "eq1", scenario.Flow[0].Put["_id"])
	require.NotNil(t, scenario.Flow[1].Query)
	assert.Equal(t, "ledger/balance", scenario.Flow[1].Query.View)
	assert.Equal(t, 2, scenario.Flow[1].Query.GroupLevel)
	require.NotNil(t, scenario.Flow[1].Expect.Rows)
	assert.Equal(t, 1, *scenario.Flow[1].Expect.Rows)
	assert.Equal(t, AssertBalance, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: d
views: [ledger]
flow:
  - put: {_id: a}
assertion:
  - type: trace_count
`))
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := "name: n\ndescription: d\n"
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no name", "description: d\n", "name is required"},
		{"no description", "name: n\n", "description is required"},
		{"no views", base, "views list is required"},
		{"unknown view", base + "views: [nope]\n", `unknown view set "nope"`},
		{"negative chunk", base + "views: [ledger]\nchunk_size: -1\n", "chunk_size must be non-negative"},
		{"no flow", base + "views: [ledger]\n", "flow list is required"},
		{
			"no assertions",
			base + "views: [ledger]\nflow:\n  - delete: a\n",
			"assertions list is required",
		},
		{
			"two operations",
			base + "views: [ledger]\nflow:\n  - delete: a\n    put: {_id: a}\nassertions:\n  - {type: trace_count, step: put}\n",
			"exactly one of put, delete or query",
		},
		{
			"empty step",
			base + "views: [ledger]\nflow:\n  - expect: {error: conflict}\nassertions:\n  - {type: trace_count, step: put}\n",
			"exactly one of put, delete or query",
		},
		{
			"bad view name",
			base + "views: [ledger]\nflow:\n  - query: {view: ledger}\nassertions:\n  - {type: trace_count, step: put}\n",
			"view must be <design>/<view>",
		},
		{
			"rows on put",
			base + "views: [ledger]\nflow:\n  - put: {_id: a}\n    expect: {rows: 1}\nassertions:\n  - {type: trace_count, step: put}\n",
			"rows only applies to queries",
		},
		{
			"unknown assertion",
			base + "views: [ledger]\nflow:\n  - delete: a\nassertions:\n  - {type: final_state}\n",
			`unknown assertion type "final_state"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAssertion_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"type", Assertion{}, "type is required"},
		{"trace_count", Assertion{Type: AssertTraceCount}, "step is required"},
		{"trace_count negative", Assertion{Type: AssertTraceCount, Step: "put", Count: -1}, "count must be non-negative"},
		{"trace_contains", Assertion{Type: AssertTraceContains, Step: "put"}, "step and id are required"},
		{"balance", Assertion{Type: AssertBalance, Account: "A"}, "account and currency are required"},
		{"discrepancy", Assertion{Type: AssertDiscrepancy, Account: "A", Currency: "USD"}, "account, currency and id"},
		{"chore_status", Assertion{Type: AssertChoreStatus}, "chore is required"},
		{"document", Assertion{Type: AssertDocument}, "id is required"},
		{"human_prefix", Assertion{Type: AssertHumanPrefix}, "human_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(0, &tt.a)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, validateAssertion(0, &Assertion{Type: AssertHumanPrefix, HumanID: "abc"}))
}
