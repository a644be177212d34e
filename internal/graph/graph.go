package graph

import (
	"log/slog"

	"github.com/roach88/cascade/internal/ir"
)

// PatternEntry groups the callbacks that declare the same pattern id for
// one property. Specs with the same key signature but a different mix of
// wildcards and literals get separate entries.
type PatternEntry struct {
	Pattern   ir.Identifier
	Callbacks []*ir.CallbackSpec
}

// Trigger pairs a callback with the declared input id that a concrete
// endpoint matched. The resolver uses Pattern as the reference when
// expanding the callback's outputs.
type Trigger struct {
	Spec    *ir.CallbackSpec
	Pattern ir.Identifier
}

// Graph indexes callback declarations by the endpoints they read and write.
//
// Exact ids are keyed by (canonical id, property). Pattern ids are keyed by
// (sorted key signature, property) and then matched with Match.
//
// INVARIANTS:
//   - Specs() preserves declaration order and contains valid specs only
//   - a concrete endpoint has at most one producer unless AllowDuplicate
//     was declared
//   - Graph is immutable after Build
type Graph struct {
	specs []*ir.CallbackSpec

	outputs map[string]map[string][]*ir.CallbackSpec
	inputs  map[string]map[string][]*ir.CallbackSpec

	outputPatterns map[string]map[string][]*PatternEntry
	inputPatterns  map[string]map[string][]*PatternEntry
}

// Build validates specs and indexes the valid ones.
//
// Validation reports every violation, not just the first. Invalid specs
// are left out of the graph and the returned error is a *ValidationErrors;
// the graph is usable either way.
func Build(specs []ir.CallbackSpec) (*Graph, error) {
	g := &Graph{
		outputs:        make(map[string]map[string][]*ir.CallbackSpec),
		inputs:         make(map[string]map[string][]*ir.CallbackSpec),
		outputPatterns: make(map[string]map[string][]*PatternEntry),
		inputPatterns:  make(map[string]map[string][]*PatternEntry),
	}

	valid, verrs := validate(specs)
	for _, spec := range valid {
		g.add(spec)
	}

	slog.Debug("dependency graph built",
		"callbacks", len(specs),
		"valid", len(valid),
		"invalid", len(specs)-len(valid),
	)

	if len(verrs) > 0 {
		return g, &ValidationErrors{Errors: verrs}
	}
	return g, nil
}

func (g *Graph) add(spec *ir.CallbackSpec) {
	g.specs = append(g.specs, spec)
	for _, out := range spec.Outputs {
		if out.ID.HasWildcard() {
			addPattern(g.outputPatterns, out, spec)
		} else {
			addExact(g.outputs, out, spec)
		}
	}
	for _, in := range spec.Inputs {
		if in.ID.HasWildcard() {
			addPattern(g.inputPatterns, in, spec)
		} else {
			addExact(g.inputs, in, spec)
		}
	}
}

func addExact(index map[string]map[string][]*ir.CallbackSpec, e ir.Endpoint, spec *ir.CallbackSpec) {
	key := e.ID.String()
	byProp, ok := index[key]
	if !ok {
		byProp = make(map[string][]*ir.CallbackSpec)
		index[key] = byProp
	}
	byProp[e.Property] = append(byProp[e.Property], spec)
}

func addPattern(index map[string]map[string][]*PatternEntry, e ir.Endpoint, spec *ir.CallbackSpec) {
	sig := e.ID.Signature()
	byProp, ok := index[sig]
	if !ok {
		byProp = make(map[string][]*PatternEntry)
		index[sig] = byProp
	}
	for _, entry := range byProp[e.Property] {
		if entry.Pattern.Equal(e.ID) {
			entry.Callbacks = append(entry.Callbacks, spec)
			return
		}
	}
	byProp[e.Property] = append(byProp[e.Property], &PatternEntry{
		Pattern:   e.ID,
		Callbacks: []*ir.CallbackSpec{spec},
	})
}

// Specs returns the valid callbacks in declaration order.
func (g *Graph) Specs() []*ir.CallbackSpec {
	return g.specs
}

// OutputsFor returns the callback that produces (id, prop), or nil.
// Exact declarations win over patterns; among patterns the first matching
// entry wins.
func (g *Graph) OutputsFor(id ir.Identifier, prop string) *ir.CallbackSpec {
	spec, _, _ := g.OutputMatch(id, prop)
	return spec
}

// OutputMatch is OutputsFor plus the declared output id that matched, so
// callers can read the MATCH substitution off the concrete id.
func (g *Graph) OutputMatch(id ir.Identifier, prop string) (*ir.CallbackSpec, ir.Identifier, bool) {
	if specs := g.outputs[id.String()][prop]; len(specs) > 0 {
		return specs[0], id, true
	}
	if !id.IsDict() {
		return nil, ir.Identifier{}, false
	}
	for _, entry := range g.outputPatterns[id.Signature()][prop] {
		ok, _ := Match(id.Keys(), id.Values(), entry.Pattern.Values(), nil)
		if ok && len(entry.Callbacks) > 0 {
			return entry.Callbacks[0], entry.Pattern, true
		}
	}
	return nil, ir.Identifier{}, false
}

// InputsFor returns every callback that reads (id, prop) as an Input, in
// index order, without duplicates.
func (g *Graph) InputsFor(id ir.Identifier, prop string) []*ir.CallbackSpec {
	var specs []*ir.CallbackSpec
	seen := make(map[*ir.CallbackSpec]bool)
	for _, t := range g.Triggers(id, prop) {
		if !seen[t.Spec] {
			seen[t.Spec] = true
			specs = append(specs, t.Spec)
		}
	}
	return specs
}

// Triggers returns every (callback, declared input id) pair that a change
// to (id, prop) triggers. Exact declarations come first, then pattern
// entries in declaration order.
func (g *Graph) Triggers(id ir.Identifier, prop string) []Trigger {
	var out []Trigger
	for _, spec := range g.inputs[id.String()][prop] {
		out = append(out, Trigger{Spec: spec, Pattern: id})
	}
	if !id.IsDict() {
		return out
	}
	for _, entry := range g.inputPatterns[id.Signature()][prop] {
		ok, _ := Match(id.Keys(), id.Values(), entry.Pattern.Values(), nil)
		if !ok {
			continue
		}
		for _, spec := range entry.Callbacks {
			out = append(out, Trigger{Spec: spec, Pattern: entry.Pattern})
		}
	}
	return out
}

// PatternEntries returns the pattern entries for a signature and property.
func (g *Graph) PatternEntries(outputs bool, signature, prop string) []*PatternEntry {
	if outputs {
		return g.outputPatterns[signature][prop]
	}
	return g.inputPatterns[signature][prop]
}
