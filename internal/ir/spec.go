package ir

import (
	"slices"
	"strings"
)

// CallbackSpec is a declared, unresolved callback: ordered Output, Input and
// State endpoints whose ids may contain wildcards.
type CallbackSpec struct {
	// Name is an optional human label. It does not take part in identity
	// unless AllowDuplicate is set.
	Name string

	Outputs []Endpoint
	Inputs  []Endpoint
	State   []Endpoint

	// PreventInitialCall skips the callback when the scheduler starts.
	PreventInitialCall bool

	// AllowDuplicate exempts the outputs from the overlap check so several
	// callbacks may write the same endpoint.
	AllowDuplicate bool
}

// ID is the stable callback identity derived from its outputs. A single
// output renders as "<id>.<prop>"; several outputs as "..<a>...<b>..".
// Callbacks that allow duplicate outputs are suffixed with "@<name>" so
// that they stay distinguishable.
func (s *CallbackSpec) ID() string {
	var id string
	if len(s.Outputs) == 1 {
		id = s.Outputs[0].String()
	} else {
		parts := make([]string, len(s.Outputs))
		for i, o := range s.Outputs {
			parts[i] = o.String()
		}
		id = ".." + strings.Join(parts, "...") + ".."
	}
	if s.AllowDuplicate && s.Name != "" {
		id += "@" + s.Name
	}
	return id
}

// Label returns Name when set, otherwise ID.
func (s *CallbackSpec) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID()
}

// MatchKeys returns the sorted MATCH keys of the first output. A valid spec
// has the same set on every output.
func (s *CallbackSpec) MatchKeys() []string {
	if len(s.Outputs) == 0 {
		return nil
	}
	return s.Outputs[0].ID.WildcardKeys(Match)
}

// FirstSingleOutput returns the index of the first output that resolves to
// at most one component per MATCH tuple, or -1 when every output is
// multi-valued.
func (s *CallbackSpec) FirstSingleOutput() int {
	return slices.IndexFunc(s.Outputs, func(e Endpoint) bool {
		return !e.ID.IsMultiValued()
	})
}

// HasPatternOutputs reports whether any output id contains a wildcard.
func (s *CallbackSpec) HasPatternOutputs() bool {
	return slices.ContainsFunc(s.Outputs, func(e Endpoint) bool {
		return e.ID.HasWildcard()
	})
}

// Dependencies returns Inputs followed by State.
func (s *CallbackSpec) Dependencies() []Endpoint {
	deps := make([]Endpoint, 0, len(s.Inputs)+len(s.State))
	deps = append(deps, s.Inputs...)
	return append(deps, s.State...)
}
