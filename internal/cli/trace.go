package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/harness"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Callback string // optional - filter to one callback
}

// TraceResult is a recorded run with its events.
type TraceResult struct {
	Run         ir.Run          `json:"run"`
	Transitions []ir.Transition `json:"transitions"`
	Executions  []ir.Execution  `json:"executions"`
	Stats       TraceStats      `json:"stats"`
}

// TraceStats summarizes a recorded run.
type TraceStats struct {
	Requested int            `json:"requested"`
	Executed  int            `json:"executed"`
	Failed    int            `json:"failed"`
	Drops     map[string]int `json:"drops"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show a recorded run",
		Long: `Print the lifecycle trace of a recorded run, merged in seq order.

Without --run, lists the recorded runs.

Examples:
  cascade trace --db ./cascade.db
  cascade trace --db ./cascade.db --run chain
  cascade trace --db ./cascade.db --run rows_total --callback total --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show")
	cmd.Flags().StringVar(&opts.Callback, "callback", "", "filter to one callback")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	dbPath := opts.Config.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}
	defer st.Close()

	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return commandError(f, ErrCodeGeneric, err)
		}
		if f.JSON() {
			return f.Success(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(f.Writer, "No runs recorded.")
		}
		for _, r := range runs {
			fmt.Fprintf(f.Writer, "%s  callbacks=%d budget=%d graph=%s\n", r.ID, r.Callbacks, r.Budget, r.GraphHash)
		}
		return nil
	}

	run, err := st.ReadRun(ctx, opts.RunID)
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

	if opts.Callback != "" {
		transitions = filterTransitions(transitions, opts.Callback)
		executions = filterExecutions(executions, opts.Callback)
	}

	result := TraceResult{
		Run:         run,
		Transitions: transitions,
		Executions:  executions,
		Stats:       traceStats(transitions, executions),
	}
	if f.JSON() {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "run %s (graph %s, budget %d)\n", run.ID, run.GraphHash, run.Budget)
	fmt.Fprint(f.Writer, harness.FormatTrace(transitions, executions))
	fmt.Fprintf(f.Writer, "requested=%d executed=%d failed=%d dropped=%d\n",
		result.Stats.Requested, result.Stats.Executed, result.Stats.Failed, sumDrops(result.Stats.Drops))
	return nil
}

func filterTransitions(in []ir.Transition, callback string) []ir.Transition {
	out := []ir.Transition{}
	for _, t := range in {
		if t.Callback == callback {
			out = append(out, t)
		}
	}
	return out
}

func filterExecutions(in []ir.Execution, callback string) []ir.Execution {
	out := []ir.Execution{}
	for _, x := range in {
		if x.Callback == callback {
			out = append(out, x)
		}
	}
	return out
}

func traceStats(transitions []ir.Transition, executions []ir.Execution) TraceStats {
	stats := TraceStats{Drops: map[string]int{}}
	for _, t := range transitions {
		switch t.Event {
		case "request":
			stats.Requested++
		case "drop":
			stats.Drops[t.Detail]++
		}
	}
	for _, x := range executions {
		stats.Executed++
		if x.Failed() {
			stats.Failed++
		}
	}
	return stats
}

func sumDrops(drops map[string]int) int {
	n := 0
	for _, c := range drops {
		n += c
	}
	return n
}
