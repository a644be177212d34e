package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

// TestRunWithGolden_Chain tests the full recorded trace of a two-step
// chain.
func TestRunWithGolden_Chain(t *testing.T) {
	result, err := RunWithGolden(t, loadTestScenario(t, "chain"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "failures: %v", result.Failures)
}

// TestFormatTrace tests seq merging and the line formats.
func TestFormatTrace(t *testing.T) {
	transitions := []ir.Transition{
		{Seq: 1, Callback: "A", ResolvedID: "x.v", Event: "request", To: "requested", Detail: "initial", Group: "g"},
		{Seq: 3, Callback: "A", ResolvedID: "x.v", Event: "settle", From: "executing", To: "executed", Detail: "error"},
	}
	executions := []ir.Execution{
		{Seq: 2, Callback: "A", ResolvedID: "x.v", Error: "boom"},
		{Seq: 4, Callback: "B", ResolvedID: "y.v", Group: "g", UpdatedProps: []string{"y.v", "y.w"}},
		{Seq: 5, Callback: "B", ResolvedID: "y.v", Group: "g", UpdatedProps: []string{}},
	}

	want := "1 A[x.v] request none->requested @g (initial)\n" +
		"2 A[x.v] failed @- error=\"boom\"\n" +
		"3 A[x.v] settle executing->executed @- (error)\n" +
		"4 B[y.v] settled @g updated=y.v,y.w\n" +
		"5 B[y.v] settled @g updated=none\n"
	assert.Equal(t, want, FormatTrace(transitions, executions))
	assert.Empty(t, FormatTrace(nil, nil))
}
