package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlidb/internal/keyrange"
	"github.com/roach88/sqlidb/internal/testutil"
)

func mustParse(t *testing.T, data string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(data))
	require.NoError(t, err)
	return s
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(t.Context(), mustParse(t, minimalScenario))
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "[1] add s -> 1", result.Trace[0].String())
}

func TestRun_ReportsMismatches(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: "Every expectation here is wrong"
schema:
  stores:
    - name: s
      keyPath: id
steps:
  - op: add
    store: s
    value: { id: 1 }
    expect: 2
  - op: add
    store: s
    value: { id: 1 }
  - op: count
    store: s
    expectError: ConstraintError
assertions:
  - type: count
    store: s
    count: 5
`)
	result, err := Run(t.Context(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "step 1 (add s): result mismatch")
	assert.Equal(t, "step 2 (add s): unexpected ConstraintError", result.Errors[1])
	assert.Equal(t, "step 3 (count s): expected ConstraintError, got success", result.Errors[2])
	assert.Equal(t, "assertions[0] (count s): expected count 5, got 1", result.Errors[3])
}

func TestRun_FailedStepRollsBackAlone(t *testing.T) {
	s := mustParse(t, `
name: rollback
description: "A failed step leaves earlier steps committed"
schema:
  stores:
    - name: s
      autoIncrement: true
steps:
  - op: add
    store: s
    value: { n: 1 }
    expect: 1
  - op: add
    store: s
    key: 1
    value: { n: 2 }
    expectError: ConstraintError
  - op: add
    store: s
    value: { n: 3 }
    expect: 2
assertions:
  - type: count
    store: s
    count: 2
  - type: record
    store: s
    query: 1
    expect: { n: 1 }
`)
	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_MissingStoreIsReported(t *testing.T) {
	s := mustParse(t, `
name: missing
description: "Steps against an undeclared store fail"
schema:
  stores: [{ name: s }]
steps:
  - op: count
    store: nope
    expectError: NotFoundError
`)
	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestHarness_ExecuteRejectsStaleSchema(t *testing.T) {
	f := testutil.NewFactory(t)
	h := New(f, nil)

	s := mustParse(t, minimalScenario)
	s.Schema.Version = 2
	_, err := h.Execute(t.Context(), s)
	require.NoError(t, err)

	_, err = h.Execute(t.Context(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply schema")
}

func TestToQuery(t *testing.T) {
	q, err := toQuery("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", q)

	q, err = toQuery(map[string]any{"lower": 1, "upper": 5, "upperOpen": true})
	require.NoError(t, err)
	rng := q.(*keyrange.Range)
	assert.False(t, rng.LowerOpen)
	assert.True(t, rng.UpperOpen)

	q, err = toQuery(map[string]any{"upper": 5})
	require.NoError(t, err)
	assert.Nil(t, q.(*keyrange.Range).Lower)

	_, err = toQuery(map[string]any{"lowerOpen": true})
	assert.Error(t, err)

	_, err = toQuery(map[string]any{"from": 1})
	assert.ErrorContains(t, err, `unknown range field "from"`)
}

func TestTraceEvent_String(t *testing.T) {
	assert.Equal(t, `[2] get s.byName -> {"a":1}`,
		TraceEvent{Step: 2, Op: "get", Target: "s.byName", Result: map[string]any{"a": 1.0}}.String())
	assert.Equal(t, "[3] add s -> DataError",
		TraceEvent{Step: 3, Op: "add", Target: "s", Error: "DataError"}.String())
	assert.Equal(t, "[4] delete s -> null",
		TraceEvent{Step: 4, Op: "delete", Target: "s"}.String())
}
