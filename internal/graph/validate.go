package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cascade/internal/ir"
)

// validate checks every spec and returns the valid ones, in declaration
// order, along with all violations found.
//
// Structural checks run per spec. Output overlap is checked afterwards in
// declaration order against the outputs of specs already accepted, so the
// earlier of two conflicting callbacks keeps its outputs.
func validate(specs []ir.CallbackSpec) ([]*ir.CallbackSpec, []*ValidationError) {
	var (
		errs     []*ValidationError
		accepted []*ir.CallbackSpec
		names    = make(map[string]int)
		claimed  []claim
	)

	for i := range specs {
		spec := &specs[i]
		label := specLabel(spec, i)

		specErrs := validateSpec(spec, label)

		// E209: duplicate names
		if spec.Name != "" {
			if first, dup := names[spec.Name]; dup {
				specErrs = append(specErrs, &ValidationError{
					Code:     ErrDuplicateCallbackName,
					Callback: label,
					Field:    "name",
					Message:  fmt.Sprintf("name %q already used by callbacks[%d]", spec.Name, first),
				})
			} else {
				names[spec.Name] = i
			}
		}

		if len(specErrs) == 0 && !spec.AllowDuplicate {
			specErrs = append(specErrs, checkOutputOverlap(spec, label, claimed)...)
		}

		if len(specErrs) > 0 {
			errs = append(errs, specErrs...)
			continue
		}

		accepted = append(accepted, spec)
		if !spec.AllowDuplicate {
			for _, out := range spec.Outputs {
				claimed = append(claimed, claim{endpoint: out, owner: label})
			}
		}
	}

	return accepted, errs
}

// claim records an output endpoint owned by an accepted spec.
type claim struct {
	endpoint ir.Endpoint
	owner    string
}

func specLabel(spec *ir.CallbackSpec, i int) string {
	if spec.Name != "" {
		return spec.Name
	}
	if len(spec.Outputs) > 0 && !slices.ContainsFunc(spec.Outputs, func(e ir.Endpoint) bool {
		return e.ID.IsZero()
	}) {
		return spec.ID()
	}
	return fmt.Sprintf("callbacks[%d]", i)
}

// validateSpec runs the structural checks on one spec.
func validateSpec(spec *ir.CallbackSpec, label string) []*ValidationError {
	var errs []*ValidationError

	// E207: at least one output
	if len(spec.Outputs) == 0 {
		errs = append(errs, &ValidationError{
			Code:     ErrNoOutputs,
			Callback: label,
			Field:    "outputs",
			Message:  "at least one output is required",
		})
	}

	errs = append(errs, validateEndpoints(spec.Outputs, "outputs", label, true)...)
	errs = append(errs, validateEndpoints(spec.Inputs, "inputs", label, false)...)
	errs = append(errs, validateEndpoints(spec.State, "state", label, false)...)

	if len(spec.Outputs) == 0 {
		return errs
	}

	// E205: every output binds the same MATCH keys
	matchKeys := spec.MatchKeys()
	for j := 1; j < len(spec.Outputs); j++ {
		keys := spec.Outputs[j].ID.WildcardKeys(ir.Match)
		if !slices.Equal(keys, matchKeys) {
			errs = append(errs, &ValidationError{
				Code:     ErrMismatchedMatchKeys,
				Callback: label,
				Field:    fmt.Sprintf("outputs[%d]", j),
				Message: fmt.Sprintf("MATCH keys [%s] differ from outputs[0] MATCH keys [%s]",
					strings.Join(keys, ","), strings.Join(matchKeys, ",")),
			})
		}
	}

	// E206: inputs and state may only use MATCH/ALLSMALLER on bound keys
	for _, group := range []struct {
		field     string
		endpoints []ir.Endpoint
	}{
		{"inputs", spec.Inputs},
		{"state", spec.State},
	} {
		for j, e := range group.endpoints {
			for _, w := range []ir.Wildcard{ir.Match, ir.AllSmaller} {
				for _, key := range e.ID.WildcardKeys(w) {
					if slices.Contains(matchKeys, key) {
						continue
					}
					errs = append(errs, &ValidationError{
						Code:     ErrUnboundWildcardKey,
						Callback: label,
						Field:    fmt.Sprintf("%s[%d].id.%s", group.field, j, key),
						Message:  fmt.Sprintf("%s on key %q which no output binds with MATCH", w, key),
					})
				}
			}
		}
	}

	return errs
}

// validateEndpoints checks property names, ids and wildcard roles.
func validateEndpoints(endpoints []ir.Endpoint, field, label string, outputs bool) []*ValidationError {
	var errs []*ValidationError
	for j, e := range endpoints {
		at := fmt.Sprintf("%s[%d]", field, j)

		// E201: property required
		if strings.TrimSpace(e.Property) == "" {
			errs = append(errs, &ValidationError{
				Code:     ErrEmptyProperty,
				Callback: label,
				Field:    at + ".property",
				Message:  "property is required and must be non-empty",
			})
		}

		// E208: id required
		if e.ID.IsZero() {
			errs = append(errs, &ValidationError{
				Code:     ErrEmptyID,
				Callback: label,
				Field:    at + ".id",
				Message:  "id must be a non-empty string or a non-empty mapping",
			})
		}

		// E202: outputs permit ALL and MATCH only
		if outputs {
			for _, key := range e.ID.WildcardKeys(ir.AllSmaller) {
				errs = append(errs, &ValidationError{
					Code:     ErrWildcardRole,
					Callback: label,
					Field:    at + ".id." + key,
					Message:  "ALLSMALLER is only permitted in inputs and state",
				})
			}
		}
	}
	return errs
}

// checkOutputOverlap reports outputs that collide with each other or with
// outputs already claimed by earlier specs.
func checkOutputOverlap(spec *ir.CallbackSpec, label string, claimed []claim) []*ValidationError {
	var errs []*ValidationError
	for j, out := range spec.Outputs {
		at := fmt.Sprintf("outputs[%d]", j)

		for k := 0; k < j; k++ {
			if Overlap(out, spec.Outputs[k]) {
				errs = append(errs, overlapError(label, at, out, spec.Outputs[k], fmt.Sprintf("outputs[%d]", k)))
			}
		}
		for _, c := range claimed {
			if Overlap(out, c.endpoint) {
				errs = append(errs, overlapError(label, at, out, c.endpoint, c.owner))
			}
		}
	}
	return errs
}

func overlapError(label, field string, out, other ir.Endpoint, owner string) *ValidationError {
	code := ErrOverlappingOutput
	if !out.ID.HasWildcard() && !other.ID.HasWildcard() {
		code = ErrDuplicateOutput
	}
	return &ValidationError{
		Code:     code,
		Callback: label,
		Field:    field,
		Message:  fmt.Sprintf("output %s collides with %s declared by %s", out, other, owner),
	}
}
