package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One add"
schema:
  stores:
    - name: s
      autoIncrement: true
steps:
  - op: add
    store: s
    value: { a: 1 }
`

func TestLoadScenario_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "test", s.Database)
	require.Len(t, s.Schema.Stores, 1)
	assert.True(t, s.Schema.Stores[0].AutoIncrement)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, OpAdd, s.Steps[0].Op)
	assert.True(t, s.Steps[0].Expect.IsZero())
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_ExplicitNullExpect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: n
description: d
schema:
  stores: [{ name: s }]
steps:
  - op: get
    store: s
    query: 1
    expect: null
`))
	require.NoError(t, err)
	assert.False(t, s.Steps[0].Expect.IsZero())
}

func TestParseScenario_Invalid(t *testing.T) {
	header := "name: n\ndescription: d\nschema:\n  stores: [{ name: s }]\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\nschema:\n  stores: [{ name: s }]\nsteps: [{ op: clear, store: s }]\n", "name is required"},
		{"no description", "name: n\nschema:\n  stores: [{ name: s }]\nsteps: [{ op: clear, store: s }]\n", "description is required"},
		{"no stores", "name: n\ndescription: d\nsteps: [{ op: clear, store: s }]\n", "at least one store"},
		{"bad schema", "name: n\ndescription: d\nschema:\n  stores: [{ name: s }, { name: s }]\nsteps: [{ op: clear, store: s }]\n", "E101"},
		{"no steps", header, "steps list is required"},
		{"no op", header + "steps: [{ store: s }]\n", "op is required"},
		{"unknown op", header + "steps: [{ op: upsert, store: s }]\n", `unknown op "upsert"`},
		{"no store", header + "steps: [{ op: clear }]\n", "store is required"},
		{"add without value", header + "steps: [{ op: add, store: s }]\n", "value is required"},
		{"get without query", header + "steps: [{ op: get, store: s }]\n", "query is required"},
		{"delete on index", header + "steps: [{ op: delete, store: s, index: i, query: 1 }]\n", "does not take an index"},
		{"bad direction", header + "steps: [{ op: cursor, store: s, direction: sideways }]\n", "invalid cursor direction"},
		{"both expectations", header + "steps: [{ op: count, store: s, expect: 0, expectError: DataError }]\n", "mutually exclusive"},
		{"unknown assertion", header + "steps: [{ op: clear, store: s }]\nassertions: [{ type: exists, store: s }]\n", `unknown assertion type "exists"`},
		{"record without expect", header + "steps: [{ op: clear, store: s }]\nassertions: [{ type: record, store: s, query: 1 }]\n", "expect is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
