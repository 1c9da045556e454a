package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const peopleSchema = `version: 1
store: people: {
	keyPath:       "id"
	autoIncrement: true
	index: byName: keyPath: "name"
	index: byEmail: {keyPath: "email", unique: true}
}
`

// execute runs the root command with args and returns stdout and the
// command's error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// mustExecute is execute for commands that must succeed.
func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// setupPeople creates database "app" from peopleSchema in a fresh data
// directory and returns the directory.
func setupPeople(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	schema := writeFile(t, t.TempDir(), "schema.cue", peopleSchema)
	mustExecute(t, "--data-dir", dir, "apply-schema", schema, "--db", "app")
	return dir
}
