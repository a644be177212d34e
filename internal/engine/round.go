package engine

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/cascade/internal/future"
	"github.com/roach88/cascade/internal/ir"
)

// round runs scheduling passes until a pass moves nothing.
//
// Pass order is fixed: deduplication and pruning always run before the
// readiness test, so a pass never admits a superseded instance.
// CRITICAL: Called only from the loop goroutine.
func (s *Scheduler) round(ctx context.Context, cause string) error {
	quota := newStepQuota(s.maxSteps)
	for {
		if err := quota.Check(cause); err != nil {
			return err
		}

		moved := s.dedupeRequested(ctx)
		moved = s.pruneCircular(ctx) || moved
		moved = s.supersede(ctx) || moved
		moved = s.prune(ctx) || moved
		moved = s.prioritize(ctx) || moved
		moved = s.admit(ctx) || moved
		moved = s.finishExecuted(ctx) || moved
		moved = s.releaseStored(ctx) || moved
		if !moved {
			return nil
		}
	}
}

// =============================================================================
// Deduplication
// =============================================================================

// dedupeRequested collapses requested instances sharing a resolved id.
//
// An initial call coexisting with real triggers is dropped. A single
// remaining trigger is kept as is; several are merged into the most recent
// one with key-wise maximum change strengths and the most recent
// execution group.
func (s *Scheduler) dedupeRequested(ctx context.Context) bool {
	requested := s.buckets[BucketRequested]
	if len(requested) < 2 {
		return false
	}

	var order []string
	groups := make(map[string][]*entry)
	for _, e := range requested {
		id := e.rc.ResolvedID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], e)
	}

	moved := false
	for _, id := range order {
		group := groups[id]
		if len(group) == 1 {
			continue
		}

		var initial, triggered []*entry
		for _, e := range group {
			if e.rc.InitialCall {
				initial = append(initial, e)
			} else {
				triggered = append(triggered, e)
			}
		}
		if len(triggered) > 0 {
			for _, e := range initial {
				s.drop(ctx, e, "superseded_initial")
			}
			moved = moved || len(initial) > 0
		} else {
			triggered = initial
		}
		if len(triggered) == 1 {
			continue
		}

		keep := triggered[len(triggered)-1]
		for _, e := range group {
			if e != keep {
				keep.rc.ChangedPropIDs = ir.MergeChanged(keep.rc.ChangedPropIDs, e.rc.ChangedPropIDs)
			}
		}
		for i := len(triggered) - 1; i >= 0; i-- {
			if g := triggered[i].rc.ExecutionGroup; g != "" {
				keep.rc.ExecutionGroup = g
				break
			}
		}
		for _, e := range triggered[:len(triggered)-1] {
			s.drop(ctx, e, "merged")
		}
		moved = true
	}
	return moved
}

// supersede drops instances in prioritized, blocked, executing and watched
// that a newer requested instance replaces.
func (s *Scheduler) supersede(ctx context.Context) bool {
	requested := make(map[string]bool, len(s.buckets[BucketRequested]))
	for _, e := range s.buckets[BucketRequested] {
		requested[e.rc.ResolvedID] = true
	}
	if len(requested) == 0 {
		return false
	}

	moved := false
	for _, e := range s.entries(activeBuckets...) {
		if requested[e.rc.ResolvedID] {
			s.drop(ctx, e, "superseded")
			moved = true
		}
	}
	return moved
}

// =============================================================================
// Pruning
// =============================================================================

// pruneCircular drops requested instances whose own callback already ran
// earlier in their trigger chain.
func (s *Scheduler) pruneCircular(ctx context.Context) bool {
	moved := false
	for _, e := range slices.Clone(s.buckets[BucketRequested]) {
		if e.rc.HasPredecessor(e.rc.Spec.ID()) {
			s.drop(ctx, e, "circular")
			moved = true
		}
	}
	return moved
}

// prune drops instances none of whose outputs resolve in the tree.
// Requested instances that lost only some outputs are kept, with changes
// on unmounted components forgotten.
func (s *Scheduler) prune(ctx context.Context) bool {
	moved := false
	for _, e := range slices.Clone(s.buckets[BucketRequested]) {
		outputs := s.resolver.Outputs(e.rc)
		switch {
		case allEmpty(outputs):
			s.drop(ctx, e, "pruned")
			moved = true
		case anyEmpty(outputs):
			s.forgetMissing(e.rc)
		}
	}
	for _, e := range s.entries(activeBuckets...) {
		outputs := s.resolver.Outputs(e.rc)
		switch {
		case allEmpty(outputs):
			s.drop(ctx, e, "pruned")
			moved = true
		case anyEmpty(outputs):
			s.forgetMissing(e.rc)
		}
	}
	return moved
}

// forgetMissing removes change keys whose component left the tree.
func (s *Scheduler) forgetMissing(rc *ir.ResolvedCallback) {
	maps.DeleteFunc(rc.ChangedPropIDs, func(key string, _ ir.ChangeStrength) bool {
		return !s.resolver.ExistsKey(key)
	})
}

func allEmpty(groups [][]ir.ResolvedEndpoint) bool {
	for _, g := range groups {
		if len(g) > 0 {
			return false
		}
	}
	return true
}

func anyEmpty(groups [][]ir.ResolvedEndpoint) bool {
	return slices.ContainsFunc(groups, func(g []ir.ResolvedEndpoint) bool { return len(g) == 0 })
}

// =============================================================================
// Readiness
// =============================================================================

// readyAmong returns the candidates whose inputs and state do not read an
// output that one of against may still change. A candidate's own outputs
// never block it. With transitive set, outputs reachable through
// downstream callbacks count too.
func (s *Scheduler) readyAmong(candidates, against []*entry, transitive bool) []*entry {
	outstanding := make(map[string]bool)
	for _, a := range against {
		if transitive {
			maps.Copy(outstanding, s.resolver.SubsequentOutputs(a.rc))
			continue
		}
		for _, key := range s.resolver.OutputKeys(a.rc) {
			outstanding[key] = true
		}
	}

	var ready []*entry
	for _, c := range candidates {
		own := s.resolver.OutputKeys(c.rc)
		blocked := false
		for _, key := range s.resolver.DependencyKeys(c.rc) {
			if outstanding[key] && !slices.Contains(own, key) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, c)
		}
	}
	return ready
}

// prioritize promotes ready requested instances.
//
// When nothing is ready and every pending instance is still requested, the
// requested set waits on itself. The highest-priority instance is assumed
// ready; candidates still blocked by the assumed set record the assumed
// callback as a predecessor so the loop ends once it comes back around.
func (s *Scheduler) prioritize(ctx context.Context) bool {
	requested := s.buckets[BucketRequested]
	if len(requested) == 0 {
		return false
	}

	pending := s.entries(pendingBuckets...)
	ready := s.readyAmong(requested, pending, true)

	if len(ready) == 0 && len(requested) == len(pending) {
		candidates := sortByPriority(requested)
		for len(candidates) > 0 {
			chosen := candidates[0]
			ready = append(ready, chosen)
			candidates = candidates[1:]

			stillReady := s.readyAmong(candidates, ready, false)
			for _, c := range candidates {
				if slices.Contains(stillReady, c) {
					continue
				}
				if !c.rc.HasPredecessor(chosen.rc.Spec.ID()) {
					c.rc.Predecessors = append(c.rc.Predecessors, chosen.rc.Spec.ID())
				}
			}
			candidates = stillReady
		}
		s.logger.Info("circular wait broken by assumption",
			"resolved_id", ready[0].rc.ResolvedID,
			"assumed", len(ready),
			"waiting", len(requested)-len(ready),
		)
	}

	moved := false
	for _, e := range ready {
		if s.staleInGroup(e) {
			s.drop(ctx, e, "stale_group")
		} else {
			s.move(ctx, e, evPrioritize, "")
		}
		moved = true
	}
	return moved
}

// staleInGroup reports whether a ready instance can be skipped because
// its execution group already ran everything that could change its inputs
// without changing any of them.
//
// This is approximate: an instance is only dropped when its group has
// stored members, none of its inputs are multi-valued, every input is
// among the group's possible outputs, and none was actually updated.
func (s *Scheduler) staleInGroup(e *entry) bool {
	group := e.rc.ExecutionGroup
	if group == "" {
		return false
	}
	var stored []*entry
	for _, st := range s.buckets[BucketStored] {
		if st.rc.ExecutionGroup == group {
			stored = append(stored, st)
		}
	}
	if len(stored) == 0 {
		return false
	}
	for _, in := range e.rc.Spec.Inputs {
		if in.ID.IsMultiValued() {
			return false
		}
	}

	allProps := make(map[string]bool)
	updated := make(map[string]bool)
	for _, st := range stored {
		if st.rc.Meta == nil {
			continue
		}
		for _, k := range st.rc.Meta.AllProps {
			allProps[k] = true
		}
		for _, k := range st.rc.Meta.UpdatedProps {
			updated[k] = true
		}
	}

	for _, key := range s.resolver.InputKeys(e.rc) {
		if updated[key] || !allProps[key] {
			return false
		}
	}
	return true
}

// sortByPriority returns a copy ordered by descending priority, stable for
// equal priorities.
func sortByPriority(in []*entry) []*entry {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b *entry) int {
		return strings.Compare(b.rc.Priority, a.rc.Priority)
	})
	return out
}

// =============================================================================
// Admission
// =============================================================================

type admission struct {
	e     *entry
	probe *future.Future[bool]
}

// admit moves prioritized instances into execution while slots remain.
// Instances whose readiness probe has already settled true go first, in
// priority order; the rest wait in blocked for their probe.
func (s *Scheduler) admit(ctx context.Context) bool {
	prioritized := s.buckets[BucketPrioritized]
	if len(prioritized) == 0 || s.budget.available() == 0 {
		return false
	}

	var immediate, deferred []admission
	for _, e := range sortByPriority(prioritized) {
		if e.held {
			continue
		}
		probe := s.readiness.AwaitReady(s.resolver.IDs(e.rc))
		if ok, settled := probe.Value(); settled && ok {
			immediate = append(immediate, admission{e: e, probe: probe})
		} else {
			deferred = append(deferred, admission{e: e, probe: probe})
		}
	}

	moved := false
	for _, a := range append(immediate, deferred...) {
		if !s.budget.tryAcquire() {
			break
		}
		a.e.slot = true
		moved = true

		if ok, settled := a.probe.Value(); settled && ok {
			if s.move(ctx, a.e, evExecute, "") {
				s.invoke(ctx, a.e)
			}
			continue
		}

		e := a.e
		s.move(ctx, e, evBlock, "")
		a.probe.OnSettle(func(ready bool) {
			s.queue.Enqueue(event{typ: eventProbe, entry: e, ready: ready})
		})
	}
	s.metrics.observeBudget(s.budget.available())
	return moved
}

// =============================================================================
// Completion
// =============================================================================

// finishExecuted notifies the caller of every executed instance, requests
// the dependents of what they updated, and moves them on to stored or
// done.
func (s *Scheduler) finishExecuted(ctx context.Context) bool {
	executed := slices.Clone(s.buckets[BucketExecuted])
	if len(executed) == 0 {
		return false
	}

	for _, e := range executed {
		if e.result.Err != nil {
			err := &ExecutionError{
				ResolvedID:     e.rc.ResolvedID,
				Callback:       e.rc.Spec.Label(),
				ExecutionGroup: e.rc.ExecutionGroup,
				Err:            e.result.Err,
			}
			s.reportError(err, ErrorInfo{
				ResolvedID:     e.rc.ResolvedID,
				Callback:       e.rc.Spec.Label(),
				ExecutionGroup: e.rc.ExecutionGroup,
				Err:            err,
			})
			continue
		}
		if s.hooks.OnCompleted != nil {
			s.hooks.OnCompleted(e.rc.Clone(), *e.result)
		}
	}

	// Completion hooks may have changed the tree.
	s.resolver.Refresh()

	for _, e := range executed {
		if e.result.Err == nil {
			s.requestDependents(ctx, e)
		}
		if e.rc.ExecutionGroup != "" {
			s.move(ctx, e, evStore, "")
		} else {
			s.move(ctx, e, evComplete, "")
		}
	}
	return true
}

// requestDependents triggers the readers of every endpoint e updated.
// Dependents join e's execution group and extend its predecessor chain.
func (s *Scheduler) requestDependents(ctx context.Context, e *entry) {
	parent := e.rc
	chain := append(slices.Clone(parent.Predecessors), parent.Spec.ID())

	seen := make(map[string]bool)
	for _, u := range e.result.Updates {
		key := u.Endpoint.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		deps, err := s.resolver.ResolveInputs(u.Endpoint.ID, u.Endpoint.Property, ir.Direct)
		if err != nil {
			s.reportError(err, ErrorInfo{ResolvedID: parent.ResolvedID, Callback: parent.Spec.Label(), Err: err})
			continue
		}
		for _, dep := range deps {
			dep.Predecessors = slices.Clone(chain)
			dep.ExecutionGroup = parent.ExecutionGroup
			s.request(ctx, dep, "dependent")
		}
	}
}

// releaseStored completes stored instances whose execution group has no
// pending member left.
func (s *Scheduler) releaseStored(ctx context.Context) bool {
	stored := s.buckets[BucketStored]
	if len(stored) == 0 {
		return false
	}

	pendingGroups := make(map[string]bool)
	for _, e := range s.entries(pendingBuckets...) {
		if g := e.rc.ExecutionGroup; g != "" {
			pendingGroups[g] = true
		}
	}

	moved := false
	for _, e := range slices.Clone(stored) {
		if !pendingGroups[e.rc.ExecutionGroup] {
			s.move(ctx, e, evComplete, "group_settled")
			moved = true
		}
	}
	return moved
}
