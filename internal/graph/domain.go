package graph

import (
	"slices"

	"github.com/roach88/cascade/internal/ir"
)

// Domain is the synthetic value set per dictionary key used to expand
// pattern callbacks before any tree exists.
//
// Each key holds the sorted union of the literals declared at that key.
// Keys that appear with ALLSMALLER are padded with sentinels strictly below
// the minimum and above the maximum, so every MATCH value has a smaller and
// a larger neighbour. Keys with no literal at all get one placeholder.
type Domain map[string][]ir.Value

// BuildDomain collects the placeholder domain from every declared id.
func BuildDomain(specs []*ir.CallbackSpec) Domain {
	literals := make(map[string][]ir.Value)
	expand := make(map[string]bool)
	seen := make(map[string]bool)

	for _, spec := range specs {
		for _, list := range [][]ir.Endpoint{spec.Outputs, spec.Inputs, spec.State} {
			for _, e := range list {
				keys, vals := e.ID.Keys(), e.ID.Values()
				for i, k := range keys {
					seen[k] = true
					switch {
					case vals[i].Is(ir.AllSmaller):
						expand[k] = true
					case !vals[i].IsWildcard():
						literals[k] = append(literals[k], vals[i])
					}
				}
			}
		}
	}

	d := make(Domain, len(seen))
	for k := range seen {
		vals := literals[k]
		slices.SortFunc(vals, ir.Value.Compare)
		vals = slices.CompactFunc(vals, ir.Value.Equal)
		switch {
		case expand[k]:
			vals = append([]ir.Value{ir.Below()}, vals...)
			vals = append(vals, ir.Above())
		case len(vals) == 0:
			vals = []ir.Value{ir.Above()}
		}
		d[k] = vals
	}
	return d
}

// Values returns the domain at key, or nil.
func (d Domain) Values(key string) []ir.Value {
	return d[key]
}

// Bindings enumerates every MATCH substitution of spec over the domain.
// A spec without MATCH keys has exactly one, empty, binding.
func (d Domain) Bindings(spec *ir.CallbackSpec) []ir.Binding {
	keys := spec.MatchKeys()
	if len(keys) == 0 {
		return []ir.Binding{{}}
	}

	tuples := [][]ir.Value{{}}
	for _, k := range keys {
		var next [][]ir.Value
		for _, t := range tuples {
			for _, v := range d[k] {
				next = append(next, append(slices.Clone(t), v))
			}
		}
		tuples = next
	}

	out := make([]ir.Binding, len(tuples))
	for i, t := range tuples {
		out[i] = ir.Binding{Keys: keys, Values: t}
	}
	return out
}

// ExpandID substitutes every wildcard position of id. MATCH takes the
// bound value; ALLSMALLER takes the domain values below it (every domain
// value when the key is unbound); ALL takes the whole domain. The result
// is the cartesian product over positions.
func (d Domain) ExpandID(id ir.Identifier, b ir.Binding) []ir.Identifier {
	if !id.HasWildcard() {
		return []ir.Identifier{id}
	}

	out := []ir.Identifier{id}
	for i, k := range id.Keys() {
		v := id.Values()[i]
		if !v.IsWildcard() {
			continue
		}
		choices := d.choices(k, v, b)
		var next []ir.Identifier
		for _, partial := range out {
			for _, c := range choices {
				next = append(next, partial.With(k, c))
			}
		}
		out = next
	}
	return out
}

func (d Domain) choices(key string, v ir.Value, b ir.Binding) []ir.Value {
	bound, isBound := b.Get(key)
	switch {
	case v.Is(ir.Match) && isBound:
		return []ir.Value{bound}
	case v.Is(ir.AllSmaller) && isBound:
		var below []ir.Value
		for _, c := range d[key] {
			if c.Less(bound) {
				below = append(below, c)
			}
		}
		return below
	default:
		return d[key]
	}
}

// Expand resolves spec against the domain into one Registration per
// binding, for cycle analysis.
func (d Domain) Expand(spec *ir.CallbackSpec) []Registration {
	var regs []Registration
	for _, b := range d.Bindings(spec) {
		r := Registration{Owner: ir.ResolvedID(spec, b)}
		for _, out := range spec.Outputs {
			for _, id := range d.ExpandID(out.ID, b) {
				r.Outputs = append(r.Outputs, ir.NewEndpoint(id, out.Property).String())
			}
		}
		for _, in := range spec.Inputs {
			for _, id := range d.ExpandID(in.ID, b) {
				r.Inputs = append(r.Inputs, ir.NewEndpoint(id, in.Property).String())
			}
		}
		regs = append(regs, r)
	}
	return regs
}

// CheckAcyclic expands every callback over the placeholder domain and runs
// cycle detection. It returns a *CycleError or nil.
func (g *Graph) CheckAcyclic() error {
	d := BuildDomain(g.specs)
	det := NewCycleDetector()
	for _, spec := range g.specs {
		for _, r := range d.Expand(spec) {
			det.Register(r)
		}
	}
	return det.CheckAcyclic()
}
