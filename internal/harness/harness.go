package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/roach88/cascade/internal/compiler"
	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/graph"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/testutil"
	"github.com/roach88/cascade/internal/tree"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	store    *store.Store
	metrics  *engine.Metrics
	maxSteps int
}

// WithLogger sets the scheduler logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// WithStore records the run into st instead of a private in-memory store.
// The run ID is the scenario name.
func WithStore(st *store.Store) Option {
	return func(c *runConfig) { c.store = st }
}

// WithMetrics reports scheduler metrics to m.
func WithMetrics(m *engine.Metrics) Option {
	return func(c *runConfig) { c.metrics = m }
}

// WithMaxSteps bounds scheduling passes per event.
func WithMaxSteps(n int) Option {
	return func(c *runConfig) { c.maxSteps = n }
}

// Run executes a scenario and evaluates its assertions.
//
// Each step is applied to the tree and reported to the scheduler, which is
// then drained. A scheduler that is not idle after the last step fails the
// run.
//
// Returns an error only when the scenario cannot run at all (bad specs, a
// cycle, a store failure). Failed assertions are reported in Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	specs, err := LoadSpecs(scenario.Specs)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(specs)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	tr := tree.New()
	for i, c := range scenario.Tree {
		if _, err := mount(tr, c); err != nil {
			return nil, fmt.Errorf("tree[%d]: %w", i, err)
		}
	}

	st := cfg.store
	if st == nil {
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, err
		}
		defer st.Close()
	}

	result := &Result{}
	hooks := engine.Hooks{
		OnCompleted: func(rc *ir.ResolvedCallback, res engine.Result) {
			for _, u := range res.Updates {
				if err := tr.Set(u.Endpoint.ID, u.Endpoint.Property, u.Value); err != nil {
					cfg.logger.Warn("dropping update", "resolved_id", rc.ResolvedID, "error", err)
				}
			}
		},
		OnError: func(message string, _ engine.ErrorInfo) {
			result.Errors = append(result.Errors, message)
		},
	}

	schedOpts := []engine.SchedulerOption{
		engine.WithLogger(cfg.logger),
		engine.WithRecorder(st, scenario.Name),
		engine.WithClock(testutil.NewClock()),
		engine.WithGroupGenerator(testutil.NewScriptedGroups(scenario.Groups...)),
		engine.WithHooks(hooks),
		engine.WithMetrics(cfg.metrics),
	}
	if scenario.Budget > 0 {
		schedOpts = append(schedOpts, engine.WithBudget(scenario.Budget))
	}
	if cfg.maxSteps > 0 {
		schedOpts = append(schedOpts, engine.WithMaxSteps(cfg.maxSteps))
	}
	sched, err := engine.New(g, tr, &scriptedInvoker{tree: tr, scripts: scenario.Callbacks}, schedOpts...)
	if err != nil {
		return nil, err
	}

	hash, err := ir.GraphHash(specs)
	if err != nil {
		return nil, err
	}
	if err := st.BeginRun(ctx, ir.Run{
		ID:        scenario.Name,
		GraphHash: hash,
		Budget:    sched.Budget(),
		Callbacks: len(specs),
	}); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if err := applyStep(tr, sched, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := sched.Drain(ctx); err != nil {
			return nil, err
		}
	}

	if !sched.Idle() {
		snap := sched.Snapshot()
		result.Failures = append(result.Failures, fmt.Sprintf(
			"scheduler not idle after last step: requested=%d blocked=%d watched=%d stored=%d",
			snap.Len(engine.BucketRequested), snap.Len(engine.BucketBlocked),
			snap.Len(engine.BucketWatched), snap.Len(engine.BucketStored)))
	}

	if result.Transitions, err = st.ReadTransitions(ctx, scenario.Name); err != nil {
		return nil, err
	}
	if result.Executions, err = st.ReadExecutions(ctx, scenario.Name); err != nil {
		return nil, err
	}
	result.Calls = make([]string, 0, len(result.Executions))
	for _, x := range result.Executions {
		result.Calls = append(result.Calls, x.Callback)
	}

	for _, err := range EvaluateAssertions(scenario.Assertions, result, tr) {
		result.Failures = append(result.Failures, err.Error())
	}
	result.Pass = len(result.Failures) == 0
	return result, nil
}

// LoadSpecs compiles every CUE file in paths, in order.
func LoadSpecs(paths []string) ([]ir.CallbackSpec, error) {
	specs := []ir.CallbackSpec{}
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read specs: %w", err)
		}
		compiled, err := compiler.CompileString(string(src), path)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		specs = append(specs, compiled...)
	}
	return specs, nil
}

// applyStep changes the tree and tells the scheduler about it.
func applyStep(tr *tree.MemTree, sched *engine.Scheduler, step Step) error {
	switch {
	case step.Start:
		return sched.Start()

	case step.Set != nil:
		id, err := ir.ParseID(step.Set.ID)
		if err != nil {
			return err
		}
		if err := tr.Set(id, step.Set.Property, step.Set.Value); err != nil {
			return err
		}
		return sched.Submit([]ir.Endpoint{ir.NewEndpoint(id, step.Set.Property)}, ir.Direct)

	case step.Mount != nil:
		id, err := mount(tr, *step.Mount)
		if err != nil {
			return err
		}
		return sched.SubmitMutation(engine.Mutation{Added: []ir.Identifier{id}})

	case step.Unmount != nil:
		id, err := ir.ParseID(step.Unmount)
		if err != nil {
			return err
		}
		if !tr.Remove(id) {
			return fmt.Errorf("unmount %s: component not mounted", id)
		}
		return sched.SubmitMutation(engine.Mutation{Removed: []ir.Identifier{id}})

	case step.FinishLoading != nil:
		id, err := ir.ParseID(step.FinishLoading)
		if err != nil {
			return err
		}
		tr.FinishLoading(id)
		return nil
	}
	return fmt.Errorf("empty step")
}

// mount adds a component with its initial values.
func mount(tr *tree.MemTree, c Component) (ir.Identifier, error) {
	id, err := ir.ParseID(c.ID)
	if err != nil {
		return ir.Identifier{}, err
	}
	if err := tr.Add(id, c.Props...); err != nil {
		return ir.Identifier{}, err
	}
	for _, prop := range slices.Sorted(maps.Keys(c.Values)) {
		if err := tr.Set(id, prop, c.Values[prop]); err != nil {
			return ir.Identifier{}, err
		}
	}
	if c.Loading {
		if err := tr.SetLoading(id); err != nil {
			return ir.Identifier{}, err
		}
	}
	return id, nil
}
