package ir

import (
	"maps"
	"slices"
	"strings"
)

// ChangeStrength grades how certain a change to an endpoint is.
type ChangeStrength int

const (
	// Indirect marks an endpoint that some pending callback may change.
	Indirect ChangeStrength = 1
	// Direct marks an endpoint that was edited by the user or written by a
	// completed callback.
	Direct ChangeStrength = 2
)

// String returns DIRECT or INDIRECT.
func (c ChangeStrength) String() string {
	switch c {
	case Direct:
		return "DIRECT"
	case Indirect:
		return "INDIRECT"
	default:
		return "NONE"
	}
}

// Binding is the MATCH substitution of a callback instance: one concrete
// value per MATCH key of the spec. Bulk and exact callbacks have an empty
// binding.
type Binding struct {
	Keys   []string
	Values []Value
}

// Get returns the bound value for key.
func (b Binding) Get(key string) (Value, bool) {
	i := slices.Index(b.Keys, key)
	if i < 0 {
		return Value{}, false
	}
	return b.Values[i], true
}

// IsEmpty reports whether nothing is bound.
func (b Binding) IsEmpty() bool { return len(b.Keys) == 0 }

// String renders the bound values in key order, comma separated.
func (b Binding) String() string {
	parts := make([]string, len(b.Values))
	for i, v := range b.Values {
		enc, err := marshalCanonicalValue(v)
		if err != nil {
			parts[i] = v.String()
			continue
		}
		parts[i] = string(enc)
	}
	return strings.Join(parts, ",")
}

// ExecutionMeta records what an executed instance could have changed and
// what it actually changed.
type ExecutionMeta struct {
	AllProps     []string
	UpdatedProps []string
}

// ResolvedCallback is a CallbackSpec bound to a concrete MATCH substitution.
//
// Endpoint lists are not stored: they are recomputed against the current
// tree on demand so that pruning always sees live paths.
type ResolvedCallback struct {
	Spec    *CallbackSpec
	Binding Binding

	// ResolvedID is stable for spec + substitution.
	ResolvedID string

	// ChangedPropIDs maps endpoint keys to change strength.
	ChangedPropIDs map[string]ChangeStrength

	// ExecutionGroup is shared by instances spawned from one mutation batch.
	// Empty means the instance belongs to no group.
	ExecutionGroup string

	InitialCall bool

	// Priority orders admission; larger strings run first.
	Priority string

	// Predecessors lists the spec ids that led to this instance. An instance
	// whose own spec id appears here has completed a loop.
	Predecessors []string

	// Meta is set once the instance has executed.
	Meta *ExecutionMeta
}

// NewResolvedCallback binds spec to binding and derives the resolved id.
func NewResolvedCallback(spec *CallbackSpec, binding Binding) *ResolvedCallback {
	return &ResolvedCallback{
		Spec:           spec,
		Binding:        binding,
		ResolvedID:     ResolvedID(spec, binding),
		ChangedPropIDs: make(map[string]ChangeStrength),
	}
}

// ResolvedID derives the instance identity from the spec id and the bound
// MATCH values.
func ResolvedID(spec *CallbackSpec, binding Binding) string {
	if binding.IsEmpty() {
		return spec.ID()
	}
	return spec.ID() + "|" + binding.String()
}

// Clone returns a deep copy; maps and slices are not shared.
func (rc *ResolvedCallback) Clone() *ResolvedCallback {
	c := *rc
	c.ChangedPropIDs = maps.Clone(rc.ChangedPropIDs)
	if c.ChangedPropIDs == nil {
		c.ChangedPropIDs = make(map[string]ChangeStrength)
	}
	c.Predecessors = slices.Clone(rc.Predecessors)
	if rc.Meta != nil {
		meta := ExecutionMeta{
			AllProps:     slices.Clone(rc.Meta.AllProps),
			UpdatedProps: slices.Clone(rc.Meta.UpdatedProps),
		}
		c.Meta = &meta
	}
	return &c
}

// MarkChanged records strength for key, keeping the stronger of the old and
// new value.
func (rc *ResolvedCallback) MarkChanged(key string, strength ChangeStrength) {
	if rc.ChangedPropIDs == nil {
		rc.ChangedPropIDs = make(map[string]ChangeStrength)
	}
	if strength > rc.ChangedPropIDs[key] {
		rc.ChangedPropIDs[key] = strength
	}
}

// HasPredecessor reports whether specID appears in the predecessor chain.
func (rc *ResolvedCallback) HasPredecessor(specID string) bool {
	return slices.Contains(rc.Predecessors, specID)
}

// MergeChanged folds other into dst using key-wise maximum.
func MergeChanged(dst, other map[string]ChangeStrength) map[string]ChangeStrength {
	if dst == nil {
		dst = make(map[string]ChangeStrength, len(other))
	}
	for k, v := range other {
		if v > dst[k] {
			dst[k] = v
		}
	}
	return dst
}
