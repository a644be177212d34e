package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay_Deterministic(t *testing.T) {
	db := testDB(t)
	recordChain(t, db)

	out, err := executeCommand(t, "replay", "--db", db, scenarioPath("chain"))
	require.NoError(t, err)
	assert.Contains(t, out, "replayed identically")
}

// TestReplay_FailedScenario tests that replay checks the trace, not the
// assertions, and needs a recorded run of the same name.
func TestReplay_FailedScenario(t *testing.T) {
	db := testDB(t)
	_, err := executeCommand(t, "run", "--db", db, scenarioPath("wrong"))
	require.Error(t, err)

	out, err := executeCommand(t, "replay", "--db", db, scenarioPath("wrong"))
	require.NoError(t, err, out)

	_, err = executeCommand(t, "replay", "--db", db, scenarioPath("chain"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err), "no run named chain")
}

func TestFirstDiff(t *testing.T) {
	assert.Empty(t, firstDiff("a\nb\n", "a\nb\n"))
	assert.Equal(t, `line 2: want "b", got "c"`, firstDiff("a\nb\n", "a\nc\n"))
	assert.Equal(t, `line 2: want "", got "b"`, firstDiff("a\n", "a\nb\n"))
}
