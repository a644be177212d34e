// Package resolve binds callback declarations to a live component tree.
//
// A Resolver turns a changed endpoint into the concrete callback instances
// it triggers, expands pattern callbacks into one instance per distinct
// MATCH tuple, and resolves an instance's endpoints to tree paths on
// demand.
package resolve

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/cascade/internal/graph"
	"github.com/roach88/cascade/internal/ir"
)

// Resolver expands callbacks against a Tree.
//
// Lookups go through an index built from Tree.Snapshot. Call Refresh after
// the tree changes; until then the resolver answers for the old tree.
//
// Resolver is not safe for concurrent use. The scheduler owns one and
// calls it from its loop goroutine only.
type Resolver struct {
	graph  *graph.Graph
	tree   Tree
	idx    *index
	logger *slog.Logger

	// subsequent caches SubsequentOutputs per resolved id; cleared on Refresh.
	subsequent map[string]map[string]bool
}

// New creates a resolver and indexes the current tree.
func New(g *graph.Graph, t Tree, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{graph: g, tree: t, logger: logger}
	r.Refresh()
	return r
}

// Refresh re-indexes the tree.
func (r *Resolver) Refresh() {
	r.idx = buildIndex(r.tree.Snapshot())
	r.subsequent = make(map[string]map[string]bool)
	r.logger.Debug("resolver index refreshed", "components", r.idx.size)
}

// Graph returns the dependency graph.
func (r *Resolver) Graph() *graph.Graph { return r.graph }

// Exists reports whether id is mounted in the indexed tree.
func (r *Resolver) Exists(id ir.Identifier) bool {
	_, ok := r.idx.lookup(id)
	return ok
}

// ExistsKey reports whether the component addressed by an endpoint key
// ("<id>.<prop>") is mounted. Properties never contain ".", so the id is
// everything before the last one.
func (r *Resolver) ExistsKey(key string) bool {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return false
	}
	_, ok := r.idx.byID[key[:i]]
	return ok
}

// =============================================================================
// Endpoint resolution
// =============================================================================

// resolveEndpoint lists the concrete endpoints e addresses. Exact ids
// resolve to themselves if mounted; pattern ids to every mounted component
// matching under ref.
func (r *Resolver) resolveEndpoint(e ir.Endpoint, ref *graph.Ref) ([]ir.ResolvedEndpoint, error) {
	if !e.ID.HasWildcard() {
		n, ok := r.idx.lookup(e.ID)
		if !ok || !n.HasProp(e.Property) {
			return nil, nil
		}
		return []ir.ResolvedEndpoint{{Endpoint: ir.NewEndpoint(n.ID, e.Property), Path: n.Path}}, nil
	}

	var out []ir.ResolvedEndpoint
	for _, n := range r.idx.bySig[e.ID.Signature()] {
		ok, err := graph.MatchID(e.ID, n.ID, ref)
		if err != nil {
			return nil, err
		}
		if ok && n.HasProp(e.Property) {
			out = append(out, ir.ResolvedEndpoint{Endpoint: ir.NewEndpoint(n.ID, e.Property), Path: n.Path})
		}
	}
	return out, nil
}

// resolveList resolves each declaration against the instance binding.
// Binding references are declared MATCH at every key, so Match cannot
// report a contradiction here.
func (r *Resolver) resolveList(list []ir.Endpoint, rc *ir.ResolvedCallback) [][]ir.ResolvedEndpoint {
	ref := graph.BindingRef(rc.Binding)
	out := make([][]ir.ResolvedEndpoint, len(list))
	for i, e := range list {
		res, err := r.resolveEndpoint(e, ref)
		if err != nil {
			r.logger.Error("endpoint resolution failed",
				"resolved_id", rc.ResolvedID,
				"endpoint", e.String(),
				"error", err,
			)
			continue
		}
		out[i] = res
	}
	return out
}

// Outputs resolves the instance's outputs, one list per declared output.
func (r *Resolver) Outputs(rc *ir.ResolvedCallback) [][]ir.ResolvedEndpoint {
	return r.resolveList(rc.Spec.Outputs, rc)
}

// Inputs resolves the instance's inputs, one list per declared input.
// ALLSMALLER positions yield the mounted components strictly below the
// bound value; an empty list means there are none yet.
func (r *Resolver) Inputs(rc *ir.ResolvedCallback) [][]ir.ResolvedEndpoint {
	return r.resolveList(rc.Spec.Inputs, rc)
}

// State resolves the instance's state endpoints.
func (r *Resolver) State(rc *ir.ResolvedCallback) [][]ir.ResolvedEndpoint {
	return r.resolveList(rc.Spec.State, rc)
}

// OutputKeys returns the endpoint keys of every resolved output.
func (r *Resolver) OutputKeys(rc *ir.ResolvedCallback) []string {
	return keysOf(r.Outputs(rc))
}

// DependencyKeys returns the endpoint keys of every resolved input and
// state endpoint.
func (r *Resolver) DependencyKeys(rc *ir.ResolvedCallback) []string {
	return append(keysOf(r.Inputs(rc)), keysOf(r.State(rc))...)
}

// InputKeys returns the endpoint keys of every resolved input.
func (r *Resolver) InputKeys(rc *ir.ResolvedCallback) []string {
	return keysOf(r.Inputs(rc))
}

// IDs returns every component id the instance touches, for readiness
// probes.
func (r *Resolver) IDs(rc *ir.ResolvedCallback) []ir.Identifier {
	var ids []ir.Identifier
	seen := make(map[string]bool)
	for _, group := range [][][]ir.ResolvedEndpoint{r.Outputs(rc), r.Inputs(rc), r.State(rc)} {
		for _, e := range ir.FlattenEndpoints(group) {
			key := e.ID.String()
			if !seen[key] {
				seen[key] = true
				ids = append(ids, e.ID)
			}
		}
	}
	return ids
}

func keysOf(groups [][]ir.ResolvedEndpoint) []string {
	var keys []string
	for _, g := range groups {
		for _, e := range g {
			keys = append(keys, e.Key())
		}
	}
	return keys
}

// =============================================================================
// Instance expansion
// =============================================================================

// ExpandPatternOutputs expands spec against the whole tree: one instance
// per distinct MATCH tuple among mounted components that satisfy an
// output, or a single bulk instance when the spec binds no MATCH keys and
// at least one output resolves.
func (r *Resolver) ExpandPatternOutputs(spec *ir.CallbackSpec) ([]*ir.ResolvedCallback, error) {
	return r.expand(spec, nil)
}

// expand is ExpandPatternOutputs restricted to outputs matching ref.
func (r *Resolver) expand(spec *ir.CallbackSpec, ref *graph.Ref) ([]*ir.ResolvedCallback, error) {
	matchKeys := spec.MatchKeys()
	if len(matchKeys) == 0 {
		rc := ir.NewResolvedCallback(spec, ir.Binding{})
		if len(r.OutputKeys(rc)) == 0 {
			return nil, nil
		}
		return []*ir.ResolvedCallback{rc}, nil
	}

	// The first single-valued output determines the instances; with only
	// multi-valued outputs every output contributes tuples.
	candidates := spec.Outputs
	if i := spec.FirstSingleOutput(); i >= 0 {
		candidates = spec.Outputs[i : i+1]
	}

	var out []*ir.ResolvedCallback
	seen := make(map[string]bool)
	for _, o := range candidates {
		for _, n := range r.idx.bySig[o.ID.Signature()] {
			ok, err := graph.MatchID(o.ID, n.ID, ref)
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", spec.ID(), err)
			}
			if !ok || !n.HasProp(o.Property) {
				continue
			}
			rc := ir.NewResolvedCallback(spec, bindingOf(matchKeys, n.ID))
			if seen[rc.ResolvedID] {
				continue
			}
			seen[rc.ResolvedID] = true
			out = append(out, rc)
		}
	}
	return out, nil
}

func bindingOf(keys []string, id ir.Identifier) ir.Binding {
	vals := make([]ir.Value, len(keys))
	for i, k := range keys {
		vals[i], _ = id.Get(k)
	}
	return ir.Binding{Keys: keys, Values: vals}
}

// ResolveOutputs returns the instance producing (id, prop), or nil when no
// callback declares it.
func (r *Resolver) ResolveOutputs(id ir.Identifier, prop string) *ir.ResolvedCallback {
	spec, _, ok := r.graph.OutputMatch(id, prop)
	if !ok {
		return nil
	}
	return ir.NewResolvedCallback(spec, bindingOf(spec.MatchKeys(), id))
}

// ResolveInputs returns the instances triggered by a change to (id, prop),
// tagged with strength on that endpoint and carrying their priority.
// Instances are deduplicated by resolved id.
func (r *Resolver) ResolveInputs(id ir.Identifier, prop string, strength ir.ChangeStrength) ([]*ir.ResolvedCallback, error) {
	return r.triggered(id, prop, strength, true)
}

func (r *Resolver) triggered(id ir.Identifier, prop string, strength ir.ChangeStrength, withPriority bool) ([]*ir.ResolvedCallback, error) {
	key := ir.NewEndpoint(id, prop).String()

	var out []*ir.ResolvedCallback
	byID := make(map[string]*ir.ResolvedCallback)
	for _, t := range r.graph.Triggers(id, prop) {
		rcs, err := r.expand(t.Spec, graph.IDRef(id, t.Pattern))
		if err != nil {
			return nil, err
		}
		for _, rc := range rcs {
			if existing, ok := byID[rc.ResolvedID]; ok {
				existing.MarkChanged(key, strength)
				continue
			}
			rc.MarkChanged(key, strength)
			if withPriority {
				rc.Priority = r.Priority(rc)
			}
			byID[rc.ResolvedID] = rc
			out = append(out, rc)
		}
	}
	return out, nil
}

// =============================================================================
// Chain analysis
// =============================================================================

// Priority encodes the shape of the dependency chain downstream of rc:
// the number of levels followed by the number of instances triggered at
// each level, each clamped to 35 and written as one base-36 digit.
// Comparing the strings lexically, larger runs first: deeper chains before
// shallower ones, then wider first levels.
func (r *Resolver) Priority(rc *ir.ResolvedCallback) string {
	callbacks := []*ir.ResolvedCallback{rc}
	touchedOutputs := make(map[string]bool)
	touchedCallbacks := make(map[string]bool)
	var levels []int

	for len(callbacks) > 0 {
		var fresh []*ir.ResolvedCallback
		for _, c := range callbacks {
			if !touchedCallbacks[c.ResolvedID] {
				touchedCallbacks[c.ResolvedID] = true
				fresh = append(fresh, c)
			}
		}

		var next []*ir.ResolvedCallback
		for _, c := range fresh {
			for _, o := range ir.FlattenEndpoints(r.Outputs(c)) {
				if touchedOutputs[o.Key()] {
					continue
				}
				touchedOutputs[o.Key()] = true
				triggered, err := r.triggered(o.ID, o.Property, ir.Indirect, false)
				if err != nil {
					r.logger.Debug("priority walk skipped endpoint", "endpoint", o.Key(), "error", err)
					continue
				}
				next = append(next, triggered...)
			}
		}
		if len(next) > 0 {
			levels = append(levels, len(next))
		}
		callbacks = next
	}

	var b strings.Builder
	b.WriteString(digit36(len(levels)))
	for _, n := range levels {
		b.WriteString(digit36(n))
	}
	return b.String()
}

func digit36(n int) string {
	return strconv.FormatInt(int64(min(n, 35)), 36)
}

// SubsequentOutputs returns every endpoint key rc may change, directly or
// through the callbacks its outputs trigger, transitively.
func (r *Resolver) SubsequentOutputs(rc *ir.ResolvedCallback) map[string]bool {
	if cached, ok := r.subsequent[rc.ResolvedID]; ok {
		return cached
	}

	touched := make(map[string]bool)
	callbacks := []*ir.ResolvedCallback{rc}
	for len(callbacks) > 0 {
		var next []*ir.ResolvedCallback
		for _, c := range callbacks {
			for _, o := range ir.FlattenEndpoints(r.Outputs(c)) {
				if touched[o.Key()] {
					continue
				}
				touched[o.Key()] = true
				triggered, err := r.triggered(o.ID, o.Property, ir.Indirect, false)
				if err != nil {
					continue
				}
				next = append(next, triggered...)
			}
		}
		callbacks = next
	}

	r.subsequent[rc.ResolvedID] = touched
	return touched
}

// CheckCycles expands every callback against the current tree and runs
// cycle detection over the concrete endpoints.
func (r *Resolver) CheckCycles() error {
	det := graph.NewCycleDetector()
	for _, spec := range r.graph.Specs() {
		rcs, err := r.ExpandPatternOutputs(spec)
		if err != nil {
			return err
		}
		for _, rc := range rcs {
			det.Register(graph.Registration{
				Owner:   rc.ResolvedID,
				Inputs:  r.InputKeys(rc),
				Outputs: r.OutputKeys(rc),
			})
		}
	}
	return det.CheckAcyclic()
}
