package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cascade.db")
}

func scenarioPath(name string) string {
	return filepath.Join("testdata", "scenarios", name+".yaml")
}

// recordChain runs the chain scenario into db.
func recordChain(t *testing.T, db string) {
	t.Helper()
	_, err := executeCommand(t, "run", "--db", db, scenarioPath("chain"))
	require.NoError(t, err)
}
