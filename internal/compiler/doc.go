// Package compiler turns CUE callback declarations into ir.CallbackSpec
// values.
//
// A declaration file holds a "callback" struct keyed by callback name:
//
//	callback: render_row: {
//		outputs: [{id: {type: "row", index: ["MATCH"]}, property: "children"}]
//		inputs: [{id: {type: "row", index: ["MATCH"]}, property: "value"}]
//		state: [{id: "theme", property: "value"}]
//		prevent_initial_call: false
//		allow_duplicate: false
//	}
//
// An id is a string or a struct of scalar values. A one-element list naming
// ALL, MATCH or ALLSMALLER is a wildcard. The compiler checks shape only;
// graph.Build validates the compiled set.
package compiler
