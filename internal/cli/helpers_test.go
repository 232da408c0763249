package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns everything the
// command wrote to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// tempStore returns a --store flag value for a fresh SQLite database.
func tempStore(t *testing.T) string {
	t.Helper()
	return "sqlite:" + filepath.Join(t.TempDir(), "viewkit.db")
}

// writeProject writes a single-file CUE project and returns its directory.
func writeProject(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "views.cue"), []byte(src), 0644))
	return dir
}

// writeDocs writes an import file and returns its path.
func writeDocs(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

const byTypeProject = `
package views

view: by_type: {
	map: "function (doc) { if (doc.type) { emit(doc.type, 1); } }"
	reduces: {
		count: "_count"
	}
}
`

func newBuffers() (*bytes.Buffer, *bytes.Buffer) {
	return &bytes.Buffer{}, &bytes.Buffer{}
}
