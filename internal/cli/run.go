package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/harness"
	"github.com/roach88/cascade/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	Budget      int
	MaxSteps    int
	MetricsAddr string
	Metrics     bool
}

// RunResult is the run command's report.
type RunResult struct {
	Scenario    string   `json:"scenario"`
	Pass        bool     `json:"pass"`
	Calls       []string `json:"calls"`
	Transitions int      `json:"transitions"`
	Errors      []string `json:"errors,omitempty"`
	Failures    []string `json:"failures,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and record its trace",
		Long: `Run a scenario against the scheduler and record every lifecycle
transition into the SQLite trace store under the scenario's name.

With --metrics-addr, scheduler metrics are served at /metrics and the
command keeps serving until interrupted. With --metrics, the final metric
values are printed in the Prometheus text format.

Example:
  cascade run --db ./cascade.db ./scenarios/chain.yaml
  cascade run --budget 4 --metrics ./scenarios/rows.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().IntVar(&opts.Budget, "budget", 0, "concurrency ceiling (overrides scenario and config)")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "scheduling passes per event (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print final metrics")

	return cmd
}

func runScenarioCommand(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.Logger(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return commandError(f, ErrCodeNotFound, err)
	}
	switch {
	case opts.Budget > 0:
		scenario.Budget = opts.Budget
	case scenario.Budget == 0:
		scenario.Budget = opts.Config.Budget
	}
	maxSteps := opts.Config.MaxSteps
	if opts.MaxSteps > 0 {
		maxSteps = opts.MaxSteps
	}
	dbPath := opts.Config.Database
	if opts.Database != "" {
		dbPath = opts.Database
	}
	metricsAddr := opts.Config.MetricsAddr
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}

	logger.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := engine.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if metricsAddr != "" {
		srv = serveMetrics(metricsAddr, reg, logger)
		defer shutdown(srv)
	}

	logger.Info("running scenario", "name", scenario.Name, "budget", scenario.Budget)
	res, err := harness.Run(ctx, scenario,
		harness.WithStore(st),
		harness.WithMetrics(metrics),
		harness.WithLogger(logger),
		harness.WithMaxSteps(maxSteps),
	)
	if err != nil {
		return commandError(f, ErrCodeGeneric, err)
	}

	out := RunResult{
		Scenario:    scenario.Name,
		Pass:        res.Pass,
		Calls:       res.Calls,
		Transitions: len(res.Transitions),
		Errors:      res.Errors,
		Failures:    res.Failures,
	}
	if f.JSON() {
		if err := f.Success(out); err != nil {
			return err
		}
	} else {
		writeRunText(f, out)
	}

	if opts.Metrics {
		if err := writeMetrics(f, reg); err != nil {
			return commandError(f, ErrCodeGeneric, err)
		}
	}

	if srv != nil {
		logger.Info("serving metrics until interrupted", "addr", metricsAddr)
		<-ctx.Done()
	}

	if !res.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func writeRunText(f *OutputFormatter, out RunResult) {
	mark := "✓"
	if !out.Pass {
		mark = "✗"
	}
	fmt.Fprintf(f.Writer, "%s %s: %d call(s), %d transition(s)\n", mark, out.Scenario, len(out.Calls), out.Transitions)
	for _, msg := range out.Errors {
		fmt.Fprintf(f.Writer, "  error: %s\n", msg)
	}
	for _, msg := range out.Failures {
		fmt.Fprintf(f.Writer, "  failed: %s\n", msg)
	}
}

// writeMetrics prints every cascade metric family in text exposition
// format.
func writeMetrics(f *OutputFormatter, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "cascade_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(f.Writer, mf); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics exposes reg at /metrics in the background.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
