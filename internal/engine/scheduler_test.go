package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/future"
	"github.com/roach88/cascade/internal/graph"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/tree"
)

// =============================================================================
// Fixtures
// =============================================================================

func sid(s string) ir.Identifier { return ir.StringID(s) }

func ep(id, prop string) ir.Endpoint { return ir.NewEndpoint(sid(id), prop) }

func eps(e ...ir.Endpoint) []ir.Endpoint { return e }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mountAll mounts every id as a component with any property.
func mountAll(t *testing.T, ids ...string) *tree.MemTree {
	t.Helper()
	tr := tree.New()
	for _, id := range ids {
		require.NoError(t, tr.Add(sid(id)))
	}
	return tr
}

func newTestScheduler(t *testing.T, tr *tree.MemTree, inv Invoker, specs []ir.CallbackSpec, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	g, err := graph.Build(specs)
	require.NoError(t, err)
	opts = append([]SchedulerOption{
		WithLogger(quietLogger()),
		WithGroupGenerator(NewSequentialGenerator("g")),
	}, opts...)
	s, err := New(g, tr, inv, opts...)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Drain(context.Background()))
}

// syncInvoker settles every call immediately, writing a value to every
// resolved output unless skip names the callback.
type syncInvoker struct {
	mu    sync.Mutex
	calls []Call
	skip  map[string]bool
	fail  map[string]error
}

func (i *syncInvoker) Invoke(_ context.Context, call Call) *future.Future[Result] {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, call)

	if err := i.fail[call.Spec.Label()]; err != nil {
		return future.Ready(Result{Err: err})
	}
	if i.skip[call.Spec.Label()] {
		return future.Ready(Result{})
	}
	var res Result
	for _, out := range ir.FlattenEndpoints(call.Outputs) {
		res.Updates = append(res.Updates, Update{Endpoint: out.Endpoint, Value: len(i.calls)})
	}
	return future.Ready(res)
}

func (i *syncInvoker) labels() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.calls))
	for n, c := range i.calls {
		out[n] = c.Spec.Label()
	}
	return out
}

// pendingInvoker returns unsettled futures; the test settles them.
type pendingInvoker struct {
	mu      sync.Mutex
	calls   []Call
	settles []func(Result)
}

func (i *pendingInvoker) Invoke(_ context.Context, call Call) *future.Future[Result] {
	f, settle := future.New[Result]()
	i.mu.Lock()
	i.calls = append(i.calls, call)
	i.settles = append(i.settles, settle)
	i.mu.Unlock()
	return f
}

// settleAll settles every outstanding call with updates to its outputs.
func (i *pendingInvoker) settleAll() int {
	i.mu.Lock()
	calls, settles := i.calls, i.settles
	i.calls, i.settles = nil, nil
	i.mu.Unlock()

	for n, settle := range settles {
		var res Result
		for _, out := range ir.FlattenEndpoints(calls[n].Outputs) {
			res.Updates = append(res.Updates, Update{Endpoint: out.Endpoint, Value: n})
		}
		settle(res)
	}
	return len(settles)
}

// memRecorder keeps transitions and executions in memory.
type memRecorder struct {
	mu          sync.Mutex
	transitions []ir.Transition
	executions  []ir.Execution
}

func (r *memRecorder) RecordExecution(_ context.Context, x ir.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, x)
	return nil
}

func (r *memRecorder) RecordTransition(_ context.Context, t ir.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return nil
}

// chainSpecs is src.v → A → mid.v → B → end.v.
func chainSpecs() []ir.CallbackSpec {
	return []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "v")), Outputs: eps(ep("mid", "v"))},
		{Name: "B", Inputs: eps(ep("mid", "v")), Outputs: eps(ep("end", "v"))},
	}
}

// =============================================================================
// Construction
// =============================================================================

// TestNew_RejectsCycle tests that a two-callback loop fails construction.
func TestNew_RejectsCycle(t *testing.T) {
	g, err := graph.Build([]ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("b", "v")), Outputs: eps(ep("a", "v"))},
		{Name: "B", Inputs: eps(ep("a", "v")), Outputs: eps(ep("b", "v"))},
	})
	require.NoError(t, err)

	_, err = New(g, tree.New(), &syncInvoker{}, WithLogger(quietLogger()))
	require.Error(t, err)
	var cycleErr *graph.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

// TestNew_AllowsSelfReference tests that a callback may read its own
// output.
func TestNew_AllowsSelfReference(t *testing.T) {
	g, err := graph.Build([]ir.CallbackSpec{
		{Name: "counter", Inputs: eps(ep("c", "n")), Outputs: eps(ep("c", "n"))},
	})
	require.NoError(t, err)

	s, err := New(g, tree.New(), &syncInvoker{}, WithLogger(quietLogger()), WithBudget(3))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Budget())
}

// =============================================================================
// Ordering
// =============================================================================

// TestScheduler_Start_ChainRunsInOrder tests that an initial call waits for
// the callback producing its input, and that the dependent replaces the
// initial call.
func TestScheduler_Start_ChainRunsInOrder(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, chainSpecs())

	require.NoError(t, s.Start())
	drain(t, s)

	assert.Equal(t, []string{"A", "B"}, inv.labels())
	assert.True(t, inv.calls[0].InitialCall)
	assert.False(t, inv.calls[1].InitialCall, "B runs as A's dependent")
	assert.Equal(t, ir.Direct, inv.calls[1].ChangedPropIDs[ep("mid", "v").String()])
	assert.Equal(t, "g-1", inv.calls[0].ExecutionGroup)
	assert.Equal(t, "g-1", inv.calls[1].ExecutionGroup)
	assert.True(t, s.Idle())
}

// TestScheduler_Submit_TriggersReaders tests a user change with no
// execution group.
func TestScheduler_Submit_TriggersReaders(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, chainSpecs())

	require.NoError(t, s.Submit(eps(ep("src", "v")), ir.Direct))
	drain(t, s)

	require.Equal(t, []string{"A", "B"}, inv.labels())
	assert.Empty(t, inv.calls[0].ExecutionGroup)
	assert.Equal(t, map[string]ir.ChangeStrength{ep("src", "v").String(): ir.Direct}, inv.calls[0].ChangedPropIDs)
	assert.True(t, s.Idle())
}

// TestScheduler_SelfLoopRunsOnce tests that a callback writing its own
// input does not re-trigger itself.
func TestScheduler_SelfLoopRunsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "c")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "counter", Inputs: eps(ep("c", "n")), Outputs: eps(ep("c", "n")), PreventInitialCall: true},
	}, WithMetrics(m))

	require.NoError(t, s.Submit(eps(ep("c", "n")), ir.Direct))
	drain(t, s)

	assert.Equal(t, []string{"counter"}, inv.labels())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("circular")))
}

// TestScheduler_PreventInitialCall tests that flagged callbacks are not
// requested on start.
func TestScheduler_PreventInitialCall(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	specs := chainSpecs()
	specs[0].PreventInitialCall = true
	specs[1].PreventInitialCall = true
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, specs)

	require.NoError(t, s.Start())
	drain(t, s)

	assert.Empty(t, inv.labels())
}

// TestScheduler_PatternInstances tests that a MATCH callback runs once per
// mounted component.
func TestScheduler_PatternInstances(t *testing.T) {
	tr := tree.New()
	for _, role := range []string{"a", "b", "c"} {
		require.NoError(t, tr.Add(ir.DictID(map[string]ir.Value{"role": ir.Str(role)})))
	}
	match := ir.DictID(map[string]ir.Value{"role": ir.Wild(ir.Match)})
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "render", Inputs: eps(ir.NewEndpoint(match, "value")), Outputs: eps(ir.NewEndpoint(match, "children"))},
	})

	require.NoError(t, s.Start())
	drain(t, s)

	require.Len(t, inv.calls, 3)
	var roles []string
	for _, c := range inv.calls {
		v, ok := c.Binding.Get("role")
		require.True(t, ok)
		roles = append(roles, v.String())

		outs := ir.FlattenEndpoints(c.Outputs)
		require.Len(t, outs, 1)
		got, _ := outs[0].ID.Get("role")
		assert.True(t, got.Equal(v), "instance writes its own component")
	}
	assert.ElementsMatch(t, []string{ir.Str("a").String(), ir.Str("b").String(), ir.Str("c").String()}, roles)
}

// TestScheduler_CircularWaitBrokenByAssumption tests that two callbacks
// reading each other's output as state both run, in priority order.
func TestScheduler_CircularWaitBrokenByAssumption(t *testing.T) {
	tr := mountAll(t, "src", "x", "y")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "a")), State: eps(ep("y", "v")), Outputs: eps(ep("x", "v"))},
		{Name: "B", Inputs: eps(ep("src", "b")), State: eps(ep("x", "v")), Outputs: eps(ep("y", "v"))},
	})

	require.NoError(t, s.Start())
	drain(t, s)

	assert.Equal(t, []string{"A", "B"}, inv.labels())
	assert.True(t, s.Idle())
}

// =============================================================================
// Deduplication
// =============================================================================

// TestScheduler_DedupeRequested tests merging of duplicate requests.
func TestScheduler_DedupeRequested(t *testing.T) {
	ctx := context.Background()
	tr := mountAll(t, "p", "o")
	s := newTestScheduler(t, tr, &syncInvoker{}, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("p", "a"), ep("p", "b")), Outputs: eps(ep("o", "v"))},
	})
	spec := s.graph.Specs()[0]

	initial := ir.NewResolvedCallback(spec, ir.Binding{})
	initial.InitialCall = true
	initial.ExecutionGroup = "g0"

	first := ir.NewResolvedCallback(spec, ir.Binding{})
	first.MarkChanged(ep("p", "a").String(), ir.Direct)
	first.ExecutionGroup = "g1"

	last := ir.NewResolvedCallback(spec, ir.Binding{})
	last.MarkChanged(ep("p", "a").String(), ir.Indirect)
	last.MarkChanged(ep("p", "b").String(), ir.Indirect)

	s.mu.Lock()
	s.request(ctx, initial, "")
	s.request(ctx, first, "")
	kept := s.request(ctx, last, "")
	moved := s.dedupeRequested(ctx)
	s.mu.Unlock()

	assert.True(t, moved)
	snap := s.Snapshot()
	require.Equal(t, 1, snap.Len(BucketRequested))
	assert.Equal(t, BucketRequested, kept.bucket())
	assert.Equal(t, map[string]ir.ChangeStrength{
		ep("p", "a").String(): ir.Direct,
		ep("p", "b").String(): ir.Indirect,
	}, kept.rc.ChangedPropIDs)
	assert.Equal(t, "g1", kept.rc.ExecutionGroup, "most recent non-empty group wins")
}

// TestScheduler_StaleInGroupDropped tests that an initial call is skipped
// when its group's producer ran without updating its input.
func TestScheduler_StaleInGroupDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "src", "mid", "end")
	inv := &syncInvoker{skip: map[string]bool{"A": true}}
	s := newTestScheduler(t, tr, inv, chainSpecs(), WithMetrics(m))

	require.NoError(t, s.Start())
	drain(t, s)

	assert.Equal(t, []string{"A"}, inv.labels())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("stale_group")))
	assert.True(t, s.Idle())
}

// =============================================================================
// Budget and deferred values
// =============================================================================

// TestScheduler_BudgetNeverExceeded tests the concurrency ceiling across
// many independent callbacks.
func TestScheduler_BudgetNeverExceeded(t *testing.T) {
	const callbacks = 30
	const budget = 5

	tr := tree.New()
	var specs []ir.CallbackSpec
	for i := range callbacks {
		id := ir.DictID(map[string]ir.Value{"cell": ir.Num(float64(i))})
		require.NoError(t, tr.Add(id))
		specs = append(specs, ir.CallbackSpec{Outputs: eps(ir.NewEndpoint(id, "v"))})
	}
	inv := &pendingInvoker{}
	s := newTestScheduler(t, tr, inv, specs, WithBudget(budget))

	require.NoError(t, s.Start())
	drain(t, s)

	total := 0
	for rounds := 0; rounds < callbacks; rounds++ {
		snap := s.Snapshot()
		inFlight := snap.Len(BucketBlocked) + snap.InFlight()
		require.LessOrEqual(t, inFlight, budget)
		assert.Equal(t, budget-inFlight, snap.Available)

		n := inv.settleAll()
		if n == 0 {
			break
		}
		total += n
		drain(t, s)
	}

	assert.Equal(t, callbacks, total)
	assert.True(t, s.Idle())
	assert.Equal(t, budget, s.Snapshot().Available)
}

// TestScheduler_StoredUntilGroupSettles tests that executed members of a
// group wait in stored while another member is in flight.
func TestScheduler_StoredUntilGroupSettles(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	inv := &pendingInvoker{}
	s := newTestScheduler(t, tr, inv, chainSpecs())

	require.NoError(t, s.Start())
	drain(t, s)
	assert.Equal(t, 1, s.Snapshot().Len(BucketWatched), "A in flight")

	require.Equal(t, 1, inv.settleAll())
	drain(t, s)
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Len(BucketStored), "A stored")
	assert.Equal(t, 1, snap.Len(BucketWatched), "B in flight")

	require.Equal(t, 1, inv.settleAll())
	drain(t, s)
	assert.True(t, s.Idle())
}

// TestScheduler_PrunedWhileWatched tests that removing an output component
// drops the in-flight instance, frees its slot, and ignores its late
// result.
func TestScheduler_PrunedWhileWatched(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "src", "dst")
	inv := &pendingInvoker{}
	var completed []string
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "v")), Outputs: eps(ep("dst", "v"))},
	}, WithMetrics(m), WithBudget(2), WithHooks(Hooks{
		OnCompleted: func(rc *ir.ResolvedCallback, _ Result) { completed = append(completed, rc.ResolvedID) },
	}))

	require.NoError(t, s.Start())
	drain(t, s)
	require.Equal(t, 1, s.Snapshot().Len(BucketWatched))
	assert.Equal(t, 1, s.Snapshot().Available)

	require.True(t, tr.Remove(sid("dst")))
	require.NoError(t, s.TreeChanged())
	drain(t, s)
	assert.True(t, s.Idle())
	assert.Equal(t, 2, s.Snapshot().Available)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("pruned")))

	require.Equal(t, 1, inv.settleAll())
	drain(t, s)
	assert.Empty(t, completed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleResults.WithLabelValues("result")))
}

// TestScheduler_PrunedWhileRequested tests that an instance still waiting
// for budget is dropped once its only output leaves the tree.
func TestScheduler_PrunedWhileRequested(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "src", "d1", "d2")
	inv := &pendingInvoker{}
	var completed []string
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "a")), Outputs: eps(ep("d1", "v"))},
		{Name: "B", Inputs: eps(ep("src", "b")), Outputs: eps(ep("d2", "v"))},
	}, WithMetrics(m), WithBudget(1), WithHooks(Hooks{
		OnCompleted: func(rc *ir.ResolvedCallback, _ Result) { completed = append(completed, rc.ResolvedID) },
	}))

	require.NoError(t, s.Start())
	drain(t, s)
	require.Equal(t, 1, s.Snapshot().Len(BucketWatched))
	require.Equal(t, 1, s.Snapshot().Len(BucketRequested))

	require.True(t, tr.Remove(sid("d1")))
	require.True(t, tr.Remove(sid("d2")))
	require.NoError(t, s.TreeChanged())
	drain(t, s)
	assert.True(t, s.Idle())
	assert.Equal(t, 0, s.Snapshot().Len(BucketRequested))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.drops.WithLabelValues("pruned")))

	require.Equal(t, 1, inv.settleAll())
	drain(t, s)
	assert.Empty(t, completed)
	assert.Zero(t, inv.settleAll())
}

// TestScheduler_StaleProbe tests that a readiness probe settling after its
// instance was superseded is discarded.
func TestScheduler_StaleProbe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "src", "dst")
	require.NoError(t, tr.SetLoading(sid("src")))
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "v")), Outputs: eps(ep("dst", "v"))},
	}, WithMetrics(m))

	require.NoError(t, s.Start())
	drain(t, s)
	require.Equal(t, 1, s.Snapshot().Len(BucketBlocked))

	require.NoError(t, s.Submit(eps(ep("src", "v")), ir.Direct))
	drain(t, s)
	require.Equal(t, 1, s.Snapshot().Len(BucketBlocked), "replacement waits on the same component")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("superseded")))

	tr.FinishLoading(sid("src"))
	drain(t, s)

	require.Equal(t, []string{"A"}, inv.labels())
	assert.False(t, inv.calls[0].InitialCall)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleResults.WithLabelValues("probe")))
	assert.True(t, s.Idle())
}

// TestScheduler_BlockedTargetRemoved tests that a blocked instance whose
// output leaves the tree is dropped instead of invoked.
func TestScheduler_BlockedTargetRemoved(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "src", "dst")
	require.NoError(t, tr.SetLoading(sid("dst")))
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "v")), Outputs: eps(ep("dst", "v")), PreventInitialCall: true},
	}, WithMetrics(m), WithBudget(2))

	require.NoError(t, s.Submit(eps(ep("src", "v")), ir.Direct))
	drain(t, s)
	require.Equal(t, 1, s.Snapshot().Len(BucketBlocked))

	require.True(t, tr.Remove(sid("dst")))
	require.NoError(t, s.SubmitMutation(Mutation{Removed: []ir.Identifier{sid("dst")}}))
	drain(t, s)

	assert.Empty(t, inv.labels())
	assert.True(t, s.Idle())
	assert.Equal(t, 2, s.Snapshot().Available)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("pruned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleResults.WithLabelValues("probe")))
}

// neverReady settles every probe false at once.
type neverReady struct {
	mu     sync.Mutex
	probes int
}

func (r *neverReady) AwaitReady([]ir.Identifier) *future.Future[bool] {
	r.mu.Lock()
	r.probes++
	r.mu.Unlock()
	return future.Ready(false)
}

// TestScheduler_ProbeNotReady tests that an instance whose probe settles
// false releases its slot and waits for the next tree event.
func TestScheduler_ProbeNotReady(t *testing.T) {
	tr := mountAll(t, "src", "dst")
	inv := &syncInvoker{}
	ready := &neverReady{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "v")), Outputs: eps(ep("dst", "v")), PreventInitialCall: true},
	}, WithReadiness(ready), WithBudget(1))

	require.NoError(t, s.Submit(eps(ep("src", "v")), ir.Direct))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Len(BucketPrioritized))
	assert.Equal(t, 0, snap.Len(BucketBlocked))
	assert.Equal(t, 1, snap.Available)
	assert.Equal(t, 1, ready.probes)
	assert.Empty(t, inv.labels())

	require.NoError(t, s.TreeChanged())
	require.NoError(t, s.Drain(ctx))
	assert.Equal(t, 2, ready.probes, "tree change allows one more probe")
	assert.Equal(t, 1, s.Snapshot().Len(BucketPrioritized))
	assert.Empty(t, inv.labels())
}

// TestScheduler_PartialPruneForgetsChanges tests that an admitted instance
// losing one of two outputs keeps running but forgets change keys on
// components that left the tree.
func TestScheduler_PartialPruneForgetsChanges(t *testing.T) {
	tr := mountAll(t, "src", "d1", "d2")
	inv := &pendingInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "a")), Outputs: eps(ep("d1", "v"), ep("d2", "v")), PreventInitialCall: true},
	})

	require.NoError(t, s.Submit(eps(ep("src", "a")), ir.Direct))
	drain(t, s)
	require.Len(t, s.buckets[BucketWatched], 1)
	watched := s.buckets[BucketWatched][0]
	require.Contains(t, watched.rc.ChangedPropIDs, ep("src", "a").String())

	require.True(t, tr.Remove(sid("src")))
	require.True(t, tr.Remove(sid("d1")))
	require.NoError(t, s.TreeChanged())
	drain(t, s)

	require.Equal(t, BucketWatched, watched.bucket())
	assert.Empty(t, watched.rc.ChangedPropIDs)
}

// =============================================================================
// Errors, hooks and recording
// =============================================================================

// TestScheduler_ExecutionError tests that a failed callback is reported and
// triggers nothing.
func TestScheduler_ExecutionError(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	specs := chainSpecs()
	specs[1].PreventInitialCall = true
	boom := errors.New("boom")
	inv := &syncInvoker{fail: map[string]error{"A": boom}}

	var infos []ErrorInfo
	s := newTestScheduler(t, tr, inv, specs, WithHooks(Hooks{
		OnError: func(_ string, info ErrorInfo) { infos = append(infos, info) },
	}))

	require.NoError(t, s.Start())
	drain(t, s)

	assert.Equal(t, []string{"A"}, inv.labels())
	require.Len(t, infos, 1)
	assert.Equal(t, "A", infos[0].Callback)
	assert.True(t, IsExecutionError(infos[0].Err))
	assert.ErrorIs(t, infos[0].Err, boom)
	assert.True(t, s.Idle())
}

// TestScheduler_OnCompletedAppliesUpdates tests that completion hooks see
// every successful instance with its filtered updates.
func TestScheduler_OnCompletedAppliesUpdates(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, chainSpecs(), WithHooks(Hooks{
		OnCompleted: func(_ *ir.ResolvedCallback, res Result) {
			for _, u := range res.Updates {
				require.NoError(t, tr.Set(u.Endpoint.ID, u.Endpoint.Property, u.Value))
			}
		},
	}))

	require.NoError(t, s.Start())
	drain(t, s)

	v, ok := tr.Get(sid("end"), "v")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

// TestScheduler_RecordsTransitions tests that every bucket move is recorded
// with increasing seq.
func TestScheduler_RecordsTransitions(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	rec := &memRecorder{}
	s := newTestScheduler(t, tr, &syncInvoker{}, chainSpecs(), WithRecorder(rec, "run-1"))

	require.NoError(t, s.Start())
	drain(t, s)

	require.NotEmpty(t, rec.transitions)
	first := rec.transitions[0]
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "request", first.Event)
	assert.Equal(t, string(BucketRequested), first.To)
	assert.Equal(t, "initial", first.Detail)

	for i := 1; i < len(rec.transitions); i++ {
		assert.Greater(t, rec.transitions[i].Seq, rec.transitions[i-1].Seq)
	}
	last := rec.transitions[len(rec.transitions)-1]
	assert.Equal(t, string(BucketDone), last.To)

	require.Len(t, rec.executions, 2)
	assert.Equal(t, "A", rec.executions[0].Callback)
	assert.Equal(t, []string{ep("mid", "v").String()}, rec.executions[0].UpdatedProps)
	assert.False(t, rec.executions[1].Failed())
}

// TestScheduler_Metrics tests execution counters and bucket gauges.
func TestScheduler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := mountAll(t, "src", "mid", "end")
	s := newTestScheduler(t, tr, &syncInvoker{}, chainSpecs(), WithMetrics(m))

	require.NoError(t, s.Start())
	drain(t, s)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.executions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops.WithLabelValues("superseded_initial")))
	for _, b := range Buckets {
		assert.Equal(t, 0.0, testutil.ToFloat64(m.bucketSize.WithLabelValues(string(b))), b)
	}
	assert.Equal(t, float64(DefaultBudget), testutil.ToFloat64(m.budgetAvailable))
}

// =============================================================================
// Mutations and the loop
// =============================================================================

// TestScheduler_MutationMountsComponent tests that mounting a component
// runs the callbacks touching it as initial calls.
func TestScheduler_MutationMountsComponent(t *testing.T) {
	tr := mountAll(t, "src")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, []ir.CallbackSpec{
		{Name: "A", Inputs: eps(ep("src", "v")), Outputs: eps(ep("dst", "v"))},
	})

	require.NoError(t, s.Start())
	drain(t, s)
	assert.Empty(t, inv.labels(), "dst not mounted")

	require.NoError(t, tr.Add(sid("dst")))
	require.NoError(t, s.SubmitMutation(Mutation{Added: []ir.Identifier{sid("dst")}}))
	drain(t, s)

	require.Equal(t, []string{"A"}, inv.labels())
	assert.True(t, inv.calls[0].InitialCall)
	assert.Equal(t, "g-2", inv.calls[0].ExecutionGroup)
}

// TestScheduler_Run tests the event loop end to end.
func TestScheduler_Run(t *testing.T) {
	tr := mountAll(t, "src", "mid", "end")
	inv := &syncInvoker{}
	s := newTestScheduler(t, tr, inv, chainSpecs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool {
		return len(inv.labels()) == 2 && s.Idle()
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.ErrorIs(t, s.Submit(eps(ep("src", "v")), ir.Direct), ErrStopped)
}
