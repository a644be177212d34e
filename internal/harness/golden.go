package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cascade/internal/ir"
)

// FormatTrace renders transitions and executions as one line each, merged
// in seq order:
//
//	3 A[mid.v] prioritize requested->prioritized @init
//	5 A[mid.v] settled @init updated=mid.v
//
// A transition from no bucket shows "none"; an instance outside any group
// shows "@-". Details follow in parentheses.
func FormatTrace(transitions []ir.Transition, executions []ir.Execution) string {
	var b strings.Builder
	i, j := 0, 0
	for i < len(transitions) || j < len(executions) {
		if j == len(executions) || (i < len(transitions) && transitions[i].Seq < executions[j].Seq) {
			writeTransition(&b, transitions[i])
			i++
		} else {
			writeExecution(&b, executions[j])
			j++
		}
	}
	return b.String()
}

func writeTransition(b *strings.Builder, t ir.Transition) {
	from := t.From
	if from == "" {
		from = "none"
	}
	fmt.Fprintf(b, "%d %s[%s] %s %s->%s @%s", t.Seq, t.Callback, t.ResolvedID, t.Event, from, t.To, groupLabel(t.Group))
	if t.Detail != "" {
		fmt.Fprintf(b, " (%s)", t.Detail)
	}
	b.WriteByte('\n')
}

func writeExecution(b *strings.Builder, x ir.Execution) {
	if x.Failed() {
		fmt.Fprintf(b, "%d %s[%s] failed @%s error=%q\n", x.Seq, x.Callback, x.ResolvedID, groupLabel(x.Group), x.Error)
		return
	}
	updated := "none"
	if len(x.UpdatedProps) > 0 {
		updated = strings.Join(x.UpdatedProps, ",")
	}
	fmt.Fprintf(b, "%d %s[%s] settled @%s updated=%s\n", x.Seq, x.Callback, x.ResolvedID, groupLabel(x.Group), updated)
}

func groupLabel(g string) string {
	if g == "" {
		return "-"
	}
	return g
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(FormatTrace(result.Transitions, result.Executions)))
}
