package engine

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/cascade/internal/future"
	"github.com/roach88/cascade/internal/ir"
)

// Call is what the invoker receives for one instance. Endpoint lists are
// resolved against the tree at admission time.
type Call struct {
	ResolvedID     string
	Spec           *ir.CallbackSpec
	Binding        ir.Binding
	Outputs        [][]ir.ResolvedEndpoint
	Inputs         [][]ir.ResolvedEndpoint
	State          [][]ir.ResolvedEndpoint
	ChangedPropIDs map[string]ir.ChangeStrength
	ExecutionGroup string
	InitialCall    bool
}

// Update is one output value produced by a callback.
type Update struct {
	Endpoint ir.Endpoint
	Value    any
}

// Result is the outcome of one invocation. A non-nil Err means the
// callback failed and Updates is ignored.
type Result struct {
	Updates []Update
	Err     error
}

// Invoker runs callback business logic.
//
// Invoke must not block: it returns a future that is either already
// settled (the scheduler moves the instance straight to executed) or
// settles later from any goroutine (the instance waits in watched).
type Invoker interface {
	Invoke(ctx context.Context, call Call) *future.Future[Result]
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, call Call) *future.Future[Result]

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, call Call) *future.Future[Result] {
	return f(ctx, call)
}

// Readiness answers whether the components an instance touches can be
// used yet. A settled-true future admits the instance immediately; any
// other future parks it in blocked until it settles. An instance whose
// probe settles false is dropped if one of its outputs left the tree,
// otherwise it waits in prioritized for the next tree event.
type Readiness interface {
	AwaitReady(ids []ir.Identifier) *future.Future[bool]
}

type alwaysReady struct{}

func (alwaysReady) AwaitReady([]ir.Identifier) *future.Future[bool] {
	return future.Ready(true)
}

// Recorder persists lifecycle transitions and invocation outcomes. Both
// share one seq space.
type Recorder interface {
	RecordTransition(ctx context.Context, t ir.Transition) error
	RecordExecution(ctx context.Context, x ir.Execution) error
}

// ErrorInfo is the context passed to Hooks.OnError.
type ErrorInfo struct {
	ResolvedID     string
	Callback       string
	ExecutionGroup string
	Err            error
}

// Hooks are notifications to the layer that owns the tree. They run on the
// scheduler goroutine and must not call back into the scheduler
// synchronously.
type Hooks struct {
	// OnCompleted receives every successful instance with its result. This
	// is where the caller applies Updates to its tree; the scheduler
	// re-indexes the tree afterwards.
	OnCompleted func(rc *ir.ResolvedCallback, result Result)

	// OnError receives execution failures, cycle reports and resolution
	// invariant violations.
	OnError func(message string, info ErrorInfo)
}

// =============================================================================
// Execution
// =============================================================================

// buildCall resolves the instance's endpoints for the invoker.
// CRITICAL: Called only from the loop goroutine.
func (s *Scheduler) buildCall(e *entry) Call {
	rc := e.rc
	return Call{
		ResolvedID:     rc.ResolvedID,
		Spec:           rc.Spec,
		Binding:        rc.Binding,
		Outputs:        s.resolver.Outputs(rc),
		Inputs:         s.resolver.Inputs(rc),
		State:          s.resolver.State(rc),
		ChangedPropIDs: maps.Clone(rc.ChangedPropIDs),
		ExecutionGroup: rc.ExecutionGroup,
		InitialCall:    rc.InitialCall,
	}
}

// invoke hands an executing instance to the invoker.
// CRITICAL: Called only from the loop goroutine.
func (s *Scheduler) invoke(ctx context.Context, e *entry) {
	s.logger.Debug("invoking callback",
		"resolved_id", e.rc.ResolvedID,
		"callback", e.rc.Spec.Label(),
		"group", e.rc.ExecutionGroup,
		"priority", e.rc.Priority,
	)

	f := s.invoker.Invoke(ctx, s.buildCall(e))
	if f == nil {
		s.settle(ctx, e, Result{Err: errNilFuture})
		return
	}
	if res, ok := f.Value(); ok {
		s.settle(ctx, e, res)
		return
	}

	s.move(ctx, e, evWatch, "")
	f.OnSettle(func(res Result) {
		s.queue.Enqueue(event{typ: eventResult, entry: e, result: res})
	})
}

// handleResult consumes a deferred invocation result.
func (s *Scheduler) handleResult(ctx context.Context, e *entry, res Result) {
	if e.bucket() != BucketWatched {
		s.stale(e, "result")
		return
	}
	s.settle(ctx, e, res)
}

// handleProbe consumes a settled readiness probe for a blocked instance.
func (s *Scheduler) handleProbe(ctx context.Context, e *entry, ready bool) {
	if e.bucket() != BucketBlocked {
		s.stale(e, "probe")
		return
	}
	if !ready {
		s.resolver.Refresh()
		if anyEmpty(s.resolver.Outputs(e.rc)) {
			s.stale(e, "probe")
			s.drop(ctx, e, "pruned")
			return
		}
		if s.move(ctx, e, evRequeue, "not_ready") {
			e.held = true
		}
		return
	}
	if s.move(ctx, e, evExecute, "") {
		s.invoke(ctx, e)
	}
}

// stale discards a probe or result for an instance that moved on.
func (s *Scheduler) stale(e *entry, stage string) {
	err := &StaleReferenceError{ResolvedID: e.rc.ResolvedID, Stage: stage, Bucket: e.bucket()}
	s.metrics.observeStale(stage)
	s.logger.Debug("discarding stale deferred value", "resolved_id", e.rc.ResolvedID, "error", err)
}

// settle records the invocation outcome and moves the instance to
// executed. Only updates to the instance's resolved outputs count.
func (s *Scheduler) settle(ctx context.Context, e *entry, res Result) {
	allProps := s.resolver.OutputKeys(e.rc)
	meta := &ir.ExecutionMeta{AllProps: allProps}

	if res.Err != nil {
		e.rc.ChangedPropIDs = make(map[string]ir.ChangeStrength)
		res.Updates = nil
	} else {
		var kept []Update
		for _, u := range res.Updates {
			key := u.Endpoint.String()
			if !slices.Contains(allProps, key) {
				s.logger.Warn("ignoring update outside resolved outputs",
					"resolved_id", e.rc.ResolvedID,
					"endpoint", key,
				)
				continue
			}
			kept = append(kept, u)
			if !slices.Contains(meta.UpdatedProps, key) {
				meta.UpdatedProps = append(meta.UpdatedProps, key)
			}
		}
		slices.Sort(meta.UpdatedProps)
		res.Updates = kept
	}

	e.rc.Meta = meta
	e.result = &res
	s.metrics.observeExecution(res.Err != nil)
	s.recordExecution(ctx, e)

	detail := ""
	if res.Err != nil {
		detail = "error"
	}
	s.move(ctx, e, evSettle, detail)
}
