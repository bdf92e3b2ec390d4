package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command against a project root and captures both
// streams.
func execute(t *testing.T, root string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--project-root", root}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeLog writes a file relative to root, creating directories.
func writeLog(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func workPath(root string, parts ...string) string {
	return filepath.Join(append([]string{root, ".riviere", "work"}, parts...)...)
}

// response is CLIResponse with a typed payload.
type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decodeResponse[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "stdout: %s", out)
	return resp
}
