package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/cascade/internal/graph"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/resolve"
)

// Scheduler is the single-writer callback lifecycle loop.
//
// It owns every tracked instance and moves them between buckets:
// requested → prioritized → (blocked) → executing → (watched) → executed →
// (stored) → done. Instances may be dropped from any non-terminal bucket.
//
// CRITICAL: All bucket mutations happen on the goroutine running Run (or
// Drain). External callers use Start, Submit, SubmitMutation and
// TreeChanged, which only enqueue events.
//
// Thread-safety model:
//   - Start/Submit/SubmitMutation/TreeChanged/Stop: safe from any goroutine
//   - Run/Drain: must be called from exactly one goroutine at a time
//   - Snapshot/Idle: safe from any goroutine
//
// INVARIANTS:
//   - Each instance sits in exactly one bucket; fsm events are the only
//     way to move it
//   - A resolved id appears at most once across prioritized, blocked,
//     executing and watched
//   - blocked + executing + watched never exceeds the budget
type Scheduler struct {
	graph     *graph.Graph
	tree      resolve.Tree
	resolver  *resolve.Resolver
	invoker   Invoker
	readiness Readiness
	hooks     Hooks
	recorder  Recorder
	metrics   *Metrics
	logger    *slog.Logger
	clock     Sequencer
	groups    GroupGenerator
	runID     string

	budgetSize int
	budget     *budget
	maxSteps   int

	queue *eventQueue

	mu      sync.RWMutex
	buckets map[Bucket][]*entry
	seq     int64
}

// SchedulerOption allows configuration of scheduler parameters.
type SchedulerOption func(*Scheduler)

// WithBudget sets the concurrency ceiling.
//
// Default: 12 (DefaultBudget)
func WithBudget(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.budgetSize = n
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithGroupGenerator sets the execution-group token source.
// Default: UUIDv7Generator.
func WithGroupGenerator(g GroupGenerator) SchedulerOption {
	return func(s *Scheduler) {
		s.groups = g
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithRecorder records every transition and settled invocation under
// runID.
func WithRecorder(r Recorder, runID string) SchedulerOption {
	return func(s *Scheduler) {
		s.recorder = r
		s.runID = runID
	}
}

// WithClock sets the transition sequencer. Default: NewClock().
func WithClock(c Sequencer) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithReadiness sets the readiness probe. Default: the tree itself when it
// implements Readiness, otherwise every component is ready.
func WithReadiness(r Readiness) SchedulerOption {
	return func(s *Scheduler) {
		s.readiness = r
	}
}

// WithHooks sets the completion and error notifications.
func WithHooks(h Hooks) SchedulerOption {
	return func(s *Scheduler) {
		s.hooks = h
	}
}

// WithMaxSteps bounds the scheduling passes per event.
//
// Default: 10000 (DefaultMaxSteps)
func WithMaxSteps(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.maxSteps = n
	}
}

// New creates a scheduler over a built graph.
//
// The graph is checked for cycles over its placeholder domain first; a
// *graph.CycleError is returned and nothing is scheduled.
func New(g *graph.Graph, tree resolve.Tree, invoker Invoker, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		graph:      g,
		tree:       tree,
		invoker:    invoker,
		logger:     slog.Default(),
		clock:      NewClock(),
		groups:     UUIDv7Generator{},
		budgetSize: DefaultBudget,
		maxSteps:   DefaultMaxSteps,
		queue:      newEventQueue(),
		buckets:    make(map[Bucket][]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.readiness == nil {
		if r, ok := tree.(Readiness); ok {
			s.readiness = r
		} else {
			s.readiness = alwaysReady{}
		}
	}

	if err := g.CheckAcyclic(); err != nil {
		return nil, err
	}

	s.budget = newBudget(s.budgetSize)
	s.resolver = resolve.New(g, tree, s.logger)
	s.metrics.observeBudget(s.budget.available())
	return s, nil
}

// Resolver exposes the scheduler's resolver for inspection in tests and
// tools. It must not be used while Run is active.
func (s *Scheduler) Resolver() *resolve.Resolver { return s.resolver }

// Budget returns the concurrency ceiling.
func (s *Scheduler) Budget() int { return s.budget.Size() }

// =============================================================================
// External API
// =============================================================================

// Start checks the tree-expanded callbacks for cycles and requests the
// initial call of every callback not marked prevent_initial_call, all in
// one execution group.
func (s *Scheduler) Start() error {
	if err := resolve.New(s.graph, s.tree, s.logger).CheckCycles(); err != nil {
		s.reportError(err, ErrorInfo{Err: err})
		return err
	}
	return s.enqueue(event{typ: eventStart})
}

// Submit reports endpoints the user changed. Triggered instances carry
// strength on those endpoints and belong to no execution group.
func (s *Scheduler) Submit(endpoints []ir.Endpoint, strength ir.ChangeStrength) error {
	return s.enqueue(event{typ: eventSubmit, endpoints: slices.Clone(endpoints), strength: strength})
}

// Mutation describes a tree change the caller has already applied.
type Mutation struct {
	// Added components get initial calls for the callbacks that touch them.
	Added []ir.Identifier
	// Removed components only cause pruning.
	Removed []ir.Identifier
	// Changed endpoints trigger their readers with DIRECT strength.
	Changed []ir.Endpoint
}

// SubmitMutation reports a tree mutation batch. Every instance it spawns
// shares one new execution group.
func (s *Scheduler) SubmitMutation(m Mutation) error {
	return s.enqueue(event{typ: eventMutation, mutation: &m})
}

// TreeChanged asks the scheduler to re-index the tree and prune instances
// whose outputs are gone.
func (s *Scheduler) TreeChanged() error {
	return s.enqueue(event{typ: eventTreeChanged})
}

func (s *Scheduler) enqueue(ev event) error {
	if !s.queue.Enqueue(ev) {
		return ErrStopped
	}
	return nil
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: On event processing failure, the error is logged and
// processing continues. Failures are local to the instances involved.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", "budget", s.budget.Size(), "callbacks", len(s.graph.Specs()))

	for {
		ev, ok := s.queue.TryDequeue()
		if ok {
			s.processEvent(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel closes with the queue, so this case
			// fires immediately once stopped.
			if s.queue.Closed() && s.queue.Len() == 0 {
				s.logger.Info("scheduler stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes queued events until the queue is empty, then returns.
// Deferred probes and results that settle later are picked up by the next
// Drain. Must not be called while Run is active.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := s.queue.TryDequeue()
		if !ok {
			return nil
		}
		s.processEvent(ctx, ev)
	}
}

// Stop gracefully shuts down the scheduler.
// Closes the event queue, which will cause Run() to return.
func (s *Scheduler) Stop() {
	s.queue.Close()
}

// QueueLen returns the number of unprocessed events.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}

// Snapshot is a point-in-time copy of bucket membership.
type Snapshot struct {
	// Buckets maps each non-terminal bucket to its resolved ids, in
	// arrival order.
	Buckets map[Bucket][]string
	// Available is the number of free admission slots.
	Available int
}

// Len returns the size of bucket b.
func (s Snapshot) Len(b Bucket) int {
	return len(s.Buckets[b])
}

// InFlight returns executing + watched.
func (s Snapshot) InFlight() int {
	return s.Len(BucketExecuting) + s.Len(BucketWatched)
}

// Snapshot returns the current bucket membership.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Buckets: make(map[Bucket][]string, len(Buckets)), Available: s.budget.available()}
	for _, b := range Buckets {
		ids := make([]string, len(s.buckets[b]))
		for i, e := range s.buckets[b] {
			ids[i] = e.rc.ResolvedID
		}
		snap.Buckets[b] = ids
	}
	return snap
}

// Idle reports whether no event is queued and no instance is tracked.
func (s *Scheduler) Idle() bool {
	if s.queue.Len() > 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range Buckets {
		if len(s.buckets[b]) > 0 {
			return false
		}
	}
	return true
}

// =============================================================================
// Event handling
// =============================================================================

// processEvent applies one event and then runs scheduling passes until
// nothing moves.
// CRITICAL: Called only from the loop goroutine.
func (s *Scheduler) processEvent(ctx context.Context, ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.typ {
	case eventStart:
		s.handleStart(ctx)
	case eventSubmit:
		s.requestTriggered(ctx, ev.endpoints, ev.strength, "")
	case eventMutation:
		s.releaseHeld()
		s.handleMutation(ctx, ev.mutation)
	case eventTreeChanged:
		s.releaseHeld()
		s.resolver.Refresh()
	case eventProbe:
		s.handleProbe(ctx, ev.entry, ev.ready)
	case eventResult:
		s.handleResult(ctx, ev.entry, ev.result)
	default:
		s.logger.Error("unknown event type", "type", int(ev.typ))
		return
	}

	if err := s.round(ctx, ev.typ.String()); err != nil {
		s.reportError(err, ErrorInfo{Err: err})
	}
}

// releaseHeld lets instances requeued after a failed probe try again.
func (s *Scheduler) releaseHeld() {
	for _, e := range s.buckets[BucketPrioritized] {
		e.held = false
	}
}

// handleStart requests every initial call.
func (s *Scheduler) handleStart(ctx context.Context) {
	group := s.groups.Generate()
	n := 0
	for _, spec := range s.graph.Specs() {
		if spec.PreventInitialCall {
			continue
		}
		rcs, err := s.resolver.ExpandPatternOutputs(spec)
		if err != nil {
			s.reportError(err, ErrorInfo{Callback: spec.Label(), Err: err})
			continue
		}
		for _, rc := range rcs {
			rc.InitialCall = true
			rc.ExecutionGroup = group
			rc.Priority = s.resolver.Priority(rc)
			s.request(ctx, rc, "initial")
			n++
		}
	}
	s.logger.Info("initial calls requested", "group", group, "count", n)
}

// handleMutation re-indexes the tree, requests initial calls for callbacks
// touching added components, and triggers readers of changed endpoints.
func (s *Scheduler) handleMutation(ctx context.Context, m *Mutation) {
	s.resolver.Refresh()
	group := s.groups.Generate()

	added := make(map[string]bool, len(m.Added))
	for _, id := range m.Added {
		added[id.String()] = true
	}
	if len(added) > 0 {
		for _, spec := range s.graph.Specs() {
			if spec.PreventInitialCall {
				continue
			}
			rcs, err := s.resolver.ExpandPatternOutputs(spec)
			if err != nil {
				s.reportError(err, ErrorInfo{Callback: spec.Label(), Err: err})
				continue
			}
			for _, rc := range rcs {
				if !s.touches(rc, added) {
					continue
				}
				rc.InitialCall = true
				rc.ExecutionGroup = group
				rc.Priority = s.resolver.Priority(rc)
				s.request(ctx, rc, "mounted")
			}
		}
	}

	s.requestTriggered(ctx, m.Changed, ir.Direct, group)
	s.logger.Debug("tree mutation applied",
		"group", group,
		"added", len(m.Added),
		"removed", len(m.Removed),
		"changed", len(m.Changed),
	)
}

// touches reports whether any resolved endpoint of rc lives on a component
// in ids.
func (s *Scheduler) touches(rc *ir.ResolvedCallback, ids map[string]bool) bool {
	for _, id := range s.resolver.IDs(rc) {
		if ids[id.String()] {
			return true
		}
	}
	return false
}

// requestTriggered requests every instance reading the given endpoints.
func (s *Scheduler) requestTriggered(ctx context.Context, endpoints []ir.Endpoint, strength ir.ChangeStrength, group string) {
	for _, ep := range endpoints {
		if ep.ID.HasWildcard() {
			s.logger.Error("ignoring trigger on wildcard endpoint", "endpoint", ep.String())
			continue
		}
		rcs, err := s.resolver.ResolveInputs(ep.ID, ep.Property, strength)
		if err != nil {
			s.reportError(err, ErrorInfo{Err: fmt.Errorf("resolve readers of %s: %w", ep, err)})
			continue
		}
		for _, rc := range rcs {
			rc.ExecutionGroup = group
			s.request(ctx, rc, "")
		}
	}
}

// =============================================================================
// Bucket bookkeeping
// =============================================================================

// request adds a new instance to requested.
func (s *Scheduler) request(ctx context.Context, rc *ir.ResolvedCallback, detail string) *entry {
	s.seq++
	e := newEntry(rc, s.seq, s.onMove)
	s.buckets[BucketRequested] = append(s.buckets[BucketRequested], e)
	s.metrics.observeRequest()
	s.record(ctx, e, "request", "", BucketRequested, detail)
	return e
}

// move fires a lifecycle event and updates bucket membership. Slots are
// released when the instance leaves blocked, executing and watched.
func (s *Scheduler) move(ctx context.Context, e *entry, ev string, detail string) bool {
	from := e.bucket()
	if err := e.fsm.Event(ctx, ev); err != nil {
		s.logger.Error("illegal lifecycle transition",
			"resolved_id", e.rc.ResolvedID,
			"event", ev,
			"bucket", string(from),
			"error", err,
		)
		return false
	}
	to := e.bucket()

	s.buckets[from] = slices.DeleteFunc(s.buckets[from], func(x *entry) bool { return x == e })
	if to != BucketDone && to != BucketDropped {
		s.buckets[to] = append(s.buckets[to], e)
	}
	if e.slot && !holdsSlot(to) {
		e.slot = false
		s.budget.release()
		s.metrics.observeBudget(s.budget.available())
	}

	s.record(ctx, e, ev, from, to, detail)
	return true
}

// drop removes an instance without completing it.
func (s *Scheduler) drop(ctx context.Context, e *entry, reason string) {
	if s.move(ctx, e, evDrop, reason) {
		s.metrics.observeDrop(reason)
		s.logger.Debug("callback dropped", "resolved_id", e.rc.ResolvedID, "reason", reason)
	}
}

func holdsSlot(b Bucket) bool {
	return b == BucketBlocked || b == BucketExecuting || b == BucketWatched
}

// onMove is the fsm enter_state callback.
func (s *Scheduler) onMove(_ *entry, event string, from, to Bucket) {
	s.metrics.observeMove(event, from, to)
}

// record forwards a transition to the recorder.
func (s *Scheduler) record(ctx context.Context, e *entry, ev string, from, to Bucket, detail string) {
	if s.recorder == nil {
		return
	}
	t := ir.Transition{
		RunID:      s.runID,
		Seq:        s.clock.Next(),
		ResolvedID: e.rc.ResolvedID,
		Callback:   e.rc.Spec.Label(),
		Event:      ev,
		From:       string(from),
		To:         string(to),
		Group:      e.rc.ExecutionGroup,
		Detail:     detail,
	}
	if err := s.recorder.RecordTransition(ctx, t); err != nil {
		s.logger.Warn("recording transition failed",
			"resolved_id", t.ResolvedID,
			"event", t.Event,
			"seq", t.Seq,
			"error", err,
		)
	}
}

// recordExecution forwards a settled outcome to the recorder.
func (s *Scheduler) recordExecution(ctx context.Context, e *entry) {
	if s.recorder == nil {
		return
	}
	x := ir.Execution{
		RunID:        s.runID,
		Seq:          s.clock.Next(),
		ResolvedID:   e.rc.ResolvedID,
		Callback:     e.rc.Spec.Label(),
		Group:        e.rc.ExecutionGroup,
		UpdatedProps: slices.Clone(e.rc.Meta.UpdatedProps),
	}
	if e.result.Err != nil {
		x.Error = e.result.Err.Error()
	}
	if err := s.recorder.RecordExecution(ctx, x); err != nil {
		s.logger.Warn("recording execution failed",
			"resolved_id", x.ResolvedID,
			"seq", x.Seq,
			"error", err,
		)
	}
}

// reportError logs and forwards an error to Hooks.OnError.
func (s *Scheduler) reportError(err error, info ErrorInfo) {
	s.logger.Error("scheduler error",
		"resolved_id", info.ResolvedID,
		"callback", info.Callback,
		"group", info.ExecutionGroup,
		"error", err,
	)
	if s.hooks.OnError != nil {
		s.hooks.OnError(err.Error(), info)
	}
}

// entries returns the entries of the given buckets, in bucket order.
func (s *Scheduler) entries(buckets ...Bucket) []*entry {
	var out []*entry
	for _, b := range buckets {
		out = append(out, s.buckets[b]...)
	}
	return out
}
