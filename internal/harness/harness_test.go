package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/store"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

// TestRun_Scenarios tests that every scenario under testdata passes.
func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "failures: %v", result.Failures)
		})
	}
}

// TestRun_ResultContents tests what a run exposes besides pass/fail.
func TestRun_ResultContents(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "error_stops_chain"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, result.Calls)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "boom", result.Executions[0].Error)
	assert.Equal(t, "init", result.Executions[0].Group)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "boom")
	assert.NotEmpty(t, result.Transitions)
}

// TestRun_FailedAssertion tests that a wrong expectation fails the run
// without an error.
func TestRun_FailedAssertion(t *testing.T) {
	scenario := loadTestScenario(t, "chain")
	two := 2
	scenario.Assertions = []Assertion{{Type: AssertCallCount, Callback: "A", Count: &two}}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], `callback "A"`)
}

// TestRun_NotIdle tests that a scenario leaving work behind fails.
func TestRun_NotIdle(t *testing.T) {
	scenario := loadTestScenario(t, "loading")
	scenario.Steps = scenario.Steps[:1]
	scenario.Assertions = nil

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "blocked=1")
	assert.Empty(t, result.Calls)
}

// TestRun_MountAndUnmount tests mutation steps.
func TestRun_MountAndUnmount(t *testing.T) {
	scenario := loadTestScenario(t, "chain")
	scenario.Tree = scenario.Tree[:2]
	scenario.Steps = []Step{
		{Start: true},
		{Mount: &Component{ID: "end"}},
		{Unmount: "end"},
	}
	one := 1
	scenario.Assertions = []Assertion{
		{Type: AssertCalls, Callbacks: []string{"A", "B"}},
		{Type: AssertCallCount, Callback: "B", Count: &one},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "failures: %v", result.Failures)
	assert.Equal(t, "group-2", result.Executions[1].Group)
}

// TestRun_UnmountUnknown tests that unmounting a missing component is a
// step error.
func TestRun_UnmountUnknown(t *testing.T) {
	scenario := loadTestScenario(t, "chain")
	scenario.Steps = []Step{{Unmount: "ghost"}}

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0]")
}

// TestRun_WithStoreAndMetrics tests recording into a caller's store.
func TestRun_WithStoreAndMetrics(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer st.Close()
	reg := prometheus.NewRegistry()
	m := engine.NewMetrics(reg)

	ctx := context.Background()
	result, err := Run(ctx, loadTestScenario(t, "chain"), WithStore(st), WithMetrics(m))
	require.NoError(t, err)
	require.True(t, result.Pass)

	run, err := st.ReadRun(ctx, "chain")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Callbacks)
	assert.Equal(t, engine.DefaultBudget, run.Budget)
	assert.NotEmpty(t, run.GraphHash)

	last, err := st.LastSeq(ctx, "chain")
	require.NoError(t, err)
	assert.Equal(t, int64(16), last)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestLoadSpecs_CompileError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte("callback: A: {inputs: [}\n"), 0644))

	_, err := LoadSpecs([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}
