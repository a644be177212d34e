package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/harness"
	"github.com/roach88/cascade/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult is the replay command's report.
type ReplayResult struct {
	Run           string `json:"run"`
	Deterministic bool   `json:"deterministic"`
	Recorded      int    `json:"recorded"`
	Replayed      int    `json:"replayed"`
	Diff          string `json:"diff,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Re-run a scenario and compare with its recorded trace",
		Long: `Re-run a scenario in memory and compare the resulting trace with
the run recorded under the scenario's name.

Scenarios run on a logical clock with scripted group tokens, so the
same scenario against the same callbacks must reproduce the trace line
for line. A mismatch exits with code 1.

Example:
  cascade replay --db ./cascade.db ./scenarios/chain.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return commandError(f, ErrCodeNotFound, err)
	}

	dbPath := opts.Config.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, scenario.Name)
	if err != nil {
		return commandError(f, ErrCodeNotFound, err)
	}
	transitions, err := st.ReadTransitions(ctx, run.ID)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}
	executions, err := st.ReadExecutions(ctx, run.ID)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}
	recorded := harness.FormatTrace(transitions, executions)

	if scenario.Budget == 0 {
		scenario.Budget = run.Budget
	}
	res, err := harness.Run(ctx, scenario, harness.WithMaxSteps(opts.Config.MaxSteps))
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}
	replayed := harness.FormatTrace(res.Transitions, res.Executions)

	out := ReplayResult{
		Run:           run.ID,
		Deterministic: recorded == replayed,
		Recorded:      len(transitions) + len(executions),
		Replayed:      len(res.Transitions) + len(res.Executions),
	}
	if !out.Deterministic {
		out.Diff = firstDiff(recorded, replayed)
	}

	if f.JSON() {
		if err := f.Success(out); err != nil {
			return err
		}
	} else if out.Deterministic {
		fmt.Fprintf(f.Writer, "✓ %s: %d event(s) replayed identically\n", out.Run, out.Replayed)
	} else {
		fmt.Fprintf(f.Writer, "✗ %s: replay diverged\n  %s\n", out.Run, out.Diff)
	}

	if !out.Deterministic {
		return NewExitError(ExitFailure, "replay diverged from recorded trace")
	}
	return nil
}

// firstDiff describes the first line where two traces differ.
func firstDiff(want, got string) string {
	wl := strings.Split(strings.TrimSuffix(want, "\n"), "\n")
	gl := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	for i := 0; i < len(wl) || i < len(gl); i++ {
		var w, g string
		if i < len(wl) {
			w = wl[i]
		}
		if i < len(gl) {
			g = gl[i]
		}
		if w != g {
			return fmt.Sprintf("line %d: want %q, got %q", i+1, w, g)
		}
	}
	return ""
}
