package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/cascade/internal/ir"
)

// Compile reads every callback under the root's "callback" struct, in
// declaration order. A root without callbacks compiles to an empty slice.
//
// The CUE value should be the file root, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	specs, err := Compile(v)
func Compile(root cue.Value) ([]ir.CallbackSpec, error) {
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	specs := []ir.CallbackSpec{}
	callbacks := root.LookupPath(cue.ParsePath("callback"))
	if !callbacks.Exists() {
		return specs, nil
	}

	iter, err := callbacks.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		spec, err := CompileCallback(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// CompileString compiles CUE source. filename only labels positions in
// errors.
func CompileString(src, filename string) ([]ir.CallbackSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// CompileCallback parses one callback struct.
func CompileCallback(name string, v cue.Value) (ir.CallbackSpec, error) {
	if err := v.Err(); err != nil {
		return ir.CallbackSpec{}, formatCUEError(err)
	}
	spec := ir.CallbackSpec{Name: name}
	field := func(f string) string { return fmt.Sprintf("callback.%s.%s", name, f) }

	var err error
	if spec.Outputs, err = parseEndpoints(v, "outputs", field("outputs")); err != nil {
		return spec, err
	}
	if len(spec.Outputs) == 0 {
		return spec, &CompileError{
			Field:   field("outputs"),
			Message: "at least one output is required",
			Pos:     v.Pos(),
		}
	}
	if spec.Inputs, err = parseEndpoints(v, "inputs", field("inputs")); err != nil {
		return spec, err
	}
	if spec.State, err = parseEndpoints(v, "state", field("state")); err != nil {
		return spec, err
	}
	if spec.PreventInitialCall, err = parseFlag(v, "prevent_initial_call", field("prevent_initial_call")); err != nil {
		return spec, err
	}
	if spec.AllowDuplicate, err = parseFlag(v, "allow_duplicate", field("allow_duplicate")); err != nil {
		return spec, err
	}
	return spec, nil
}

// parseEndpoints reads an optional list of {id, property} structs.
func parseEndpoints(v cue.Value, path, field string) ([]ir.Endpoint, error) {
	list := v.LookupPath(cue.ParsePath(path))
	if !list.Exists() {
		return nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.Endpoint
	for i := 0; iter.Next(); i++ {
		elem := iter.Value()
		at := fmt.Sprintf("%s[%d]", field, i)

		idVal := elem.LookupPath(cue.ParsePath("id"))
		if !idVal.Exists() {
			return nil, &CompileError{Field: at + ".id", Message: "id is required", Pos: elem.Pos()}
		}
		id, err := parseID(idVal, at+".id")
		if err != nil {
			return nil, err
		}

		propVal := elem.LookupPath(cue.ParsePath("property"))
		if !propVal.Exists() {
			return nil, &CompileError{Field: at + ".property", Message: "property is required", Pos: elem.Pos()}
		}
		prop, err := propVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, ir.NewEndpoint(id, prop))
	}
	return out, nil
}

// parseID reads a string id or a struct of scalar values.
func parseID(v cue.Value, field string) (ir.Identifier, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return ir.Identifier{}, formatCUEError(err)
		}
		return ir.StringID(s), nil
	case cue.StructKind:
		entries := make(map[string]ir.Value)
		iter, err := v.Fields()
		if err != nil {
			return ir.Identifier{}, formatCUEError(err)
		}
		for iter.Next() {
			key := iter.Label()
			val, err := parseValue(iter.Value(), field+"."+key)
			if err != nil {
				return ir.Identifier{}, err
			}
			entries[key] = val
		}
		return ir.DictID(entries), nil
	default:
		return ir.Identifier{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("id must be a string or struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// parseValue reads one dictionary id value.
func parseValue(v cue.Value, field string) (ir.Value, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return ir.Value{}, formatCUEError(err)
		}
		return ir.Str(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return ir.Value{}, formatCUEError(err)
		}
		return ir.Num(float64(n)), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return ir.Value{}, formatCUEError(err)
		}
		return ir.Num(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return ir.Value{}, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		var names []any
		iter, err := v.List()
		if err != nil {
			return ir.Value{}, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return ir.Value{}, &CompileError{Field: field, Message: "wildcard name must be a string", Pos: v.Pos()}
			}
			names = append(names, s)
		}
		w, err := ir.FromAny(names)
		if err != nil {
			return ir.Value{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return w, nil
	default:
		return ir.Value{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported id value kind %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func parseFlag(v cue.Value, path, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: "must be a boolean", Pos: f.Pos()}
	}
	return b, nil
}
