package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

func specPtrs(specs ...ir.CallbackSpec) []*ir.CallbackSpec {
	out := make([]*ir.CallbackSpec, len(specs))
	for i := range specs {
		out[i] = &specs[i]
	}
	return out
}

// TestBuildDomain_UnionOfLiterals tests that literals across all declared
// ids are merged and sorted per key.
func TestBuildDomain_UnionOfLiterals(t *testing.T) {
	d := BuildDomain(specPtrs(
		cb(outs(dep("x", "index", 3)), dep("x", "index", 1)),
		cb(outs(dep("y", "index", match)), dep("x", "index", 2), dep("x", "index", 3)),
	))

	vals := d.Values("index")
	require.Len(t, vals, 3)
	assert.True(t, vals[0].Equal(ir.Num(1)))
	assert.True(t, vals[1].Equal(ir.Num(2)))
	assert.True(t, vals[2].Equal(ir.Num(3)))
}

// TestBuildDomain_SentinelsForAllSmaller tests padding below and above.
func TestBuildDomain_SentinelsForAllSmaller(t *testing.T) {
	d := BuildDomain(specPtrs(
		cb(outs(dep("x", "index", match)), dep("x", "index", allSmaller), dep("z", "index", 5)),
	))

	vals := d.Values("index")
	require.Len(t, vals, 3)
	assert.True(t, vals[0].Equal(ir.Below()))
	assert.True(t, vals[1].Equal(ir.Num(5)))
	assert.True(t, vals[2].Equal(ir.Above()))
}

// TestBuildDomain_PlaceholderWithoutLiterals tests wildcard-only keys.
func TestBuildDomain_PlaceholderWithoutLiterals(t *testing.T) {
	d := BuildDomain(specPtrs(cb(outs(dep("x", "index", match)))))
	assert.Len(t, d.Values("index"), 1)
}

// TestDomain_Bindings tests cartesian enumeration of MATCH keys.
func TestDomain_Bindings(t *testing.T) {
	spec := cb(outs(dep("x", "row", match, "col", match)))
	d := Domain{
		"row": {ir.Num(1), ir.Num(2)},
		"col": {ir.Str("a"), ir.Str("b"), ir.Str("c")},
	}

	bindings := d.Bindings(&spec)
	assert.Len(t, bindings, 6)
	assert.Equal(t, []string{"col", "row"}, bindings[0].Keys)

	none := cb(outs(ep("plain", "x")))
	assert.Len(t, d.Bindings(&none), 1)
}

// TestDomain_ExpandID tests wildcard substitution against a binding.
func TestDomain_ExpandID(t *testing.T) {
	d := Domain{"index": {ir.Below(), ir.Num(1), ir.Num(2), ir.Above()}}
	b := ir.Binding{Keys: []string{"index"}, Values: []ir.Value{ir.Num(2)}}

	assert.Len(t, d.ExpandID(dict("index", match), b), 1)
	assert.Len(t, d.ExpandID(dict("index", allSmaller), b), 2, "below sentinel and 1")
	assert.Len(t, d.ExpandID(dict("index", all), b), 4)

	first := ir.Binding{Keys: []string{"index"}, Values: []ir.Value{ir.Below()}}
	assert.Empty(t, d.ExpandID(dict("index", allSmaller), first), "no lower siblings yet")
}
