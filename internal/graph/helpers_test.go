package graph

import (
	"github.com/roach88/cascade/internal/ir"
)

// ep builds an endpoint on a string id.
func ep(id, prop string) ir.Endpoint {
	return ir.NewEndpoint(ir.StringID(id), prop)
}

// dict builds a dictionary id from alternating key/value arguments.
// Values may be ir.Value, string, int or bool.
func dict(kv ...any) ir.Identifier {
	m := make(map[string]ir.Value, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v, err := ir.FromAny(kv[i+1])
		if err != nil {
			panic(err)
		}
		m[kv[i].(string)] = v
	}
	return ir.DictID(m)
}

// dep builds an endpoint on a dictionary id.
func dep(prop string, kv ...any) ir.Endpoint {
	return ir.NewEndpoint(dict(kv...), prop)
}

var (
	all        = ir.Wild(ir.All)
	match      = ir.Wild(ir.Match)
	allSmaller = ir.Wild(ir.AllSmaller)
)

// cb builds a spec from outputs and inputs.
func cb(outputs []ir.Endpoint, inputs ...ir.Endpoint) ir.CallbackSpec {
	return ir.CallbackSpec{Outputs: outputs, Inputs: inputs}
}

func outs(e ...ir.Endpoint) []ir.Endpoint { return e }
