package graph

import (
	"slices"

	"github.com/roach88/cascade/internal/ir"
)

// Ref is the reference side of a wildcard comparison: the concrete values
// of another id at some keys, plus the pattern values declared there.
//
// A nil Patterns slice means every position was declared MATCH, which is
// the shape of a callback instance's binding.
type Ref struct {
	Keys     []string
	Values   []ir.Value
	Patterns []ir.Value
}

// BindingRef builds the reference for a callback instance.
func BindingRef(b ir.Binding) *Ref {
	return &Ref{Keys: b.Keys, Values: b.Values}
}

// IDRef builds the reference for a concrete id that matched pattern.
func IDRef(concrete, pattern ir.Identifier) *Ref {
	return &Ref{
		Keys:     concrete.Keys(),
		Values:   concrete.Values(),
		Patterns: pattern.Values(),
	}
}

func (r *Ref) pattern(i int) ir.Value {
	if r.Patterns == nil {
		return ir.Wild(ir.Match)
	}
	return r.Patterns[i]
}

// Match reports whether candidate values satisfy patternVals, all aligned
// with keys.
//
//   - Literal positions require equality.
//   - ALL matches anything.
//   - Without a reference every wildcard position matches.
//   - With a reference, MATCH requires the reference value at the same key
//     to be equal, and ALLSMALLER requires the candidate to be strictly
//     smaller than it. When the reference itself was declared ALLSMALLER
//     the candidate must be strictly greater. Reference positions declared
//     ALL, or keys the reference lacks, do not constrain.
//
// ALLSMALLER on both sides is a contradiction and returns an InvariantError.
func Match(keys []string, vals, patternVals []ir.Value, ref *Ref) (bool, error) {
	for i, key := range keys {
		pv := patternVals[i]
		v := vals[i]

		if !pv.IsWildcard() {
			if !v.Equal(pv) {
				return false, nil
			}
			continue
		}
		if ref == nil || pv.Is(ir.All) {
			continue
		}

		j := slices.Index(ref.Keys, key)
		if j < 0 {
			continue
		}
		refPattern := ref.pattern(j)
		if pv.Is(ir.AllSmaller) && refPattern.Is(ir.AllSmaller) {
			return false, &InvariantError{
				Key:     key,
				Message: "ALLSMALLER cannot be resolved against ALLSMALLER",
			}
		}
		if refPattern.Is(ir.All) {
			continue
		}

		want := 0
		switch {
		case pv.Is(ir.AllSmaller):
			want = -1
		case refPattern.Is(ir.AllSmaller):
			want = 1
		}
		if sign(v.Compare(ref.Values[j])) != want {
			return false, nil
		}
	}
	return true, nil
}

// MatchID reports whether the concrete candidate id satisfies pattern.
// String ids match by equality; dictionaries must share the key signature.
func MatchID(pattern, candidate ir.Identifier, ref *Ref) (bool, error) {
	if pattern.IsDict() != candidate.IsDict() {
		return false, nil
	}
	if !pattern.IsDict() {
		return pattern.Equal(candidate), nil
	}
	if !slices.Equal(pattern.Keys(), candidate.Keys()) {
		return false, nil
	}
	return Match(pattern.Keys(), candidate.Values(), pattern.Values(), ref)
}

// Overlap reports whether two declared endpoints could address the same
// concrete endpoint: same property and, for dictionaries, the same keys
// with no position where both sides hold different literals.
func Overlap(a, b ir.Endpoint) bool {
	if a.Property != b.Property || a.ID.IsDict() != b.ID.IsDict() {
		return false
	}
	if !a.ID.IsDict() {
		return a.ID.Equal(b.ID)
	}
	if !slices.Equal(a.ID.Keys(), b.ID.Keys()) {
		return false
	}
	av, bv := a.ID.Values(), b.ID.Values()
	for i := range av {
		if av[i].IsWildcard() || bv[i].IsWildcard() {
			continue
		}
		if !av[i].Equal(bv[i]) {
			return false
		}
	}
	return true
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	default:
		return 0
	}
}
