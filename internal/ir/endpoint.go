package ir

import "strings"

// Path addresses a component inside the tree, root first.
type Path []string

// String joins the path segments with "/".
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Endpoint is an (id, property) pair, the unit of dependency tracking.
type Endpoint struct {
	ID       Identifier
	Property string
}

// NewEndpoint builds an endpoint.
func NewEndpoint(id Identifier, property string) Endpoint {
	return Endpoint{ID: id, Property: property}
}

// String renders "<canonical id>.<property>". This is the key used in
// changedPropIds and in every endpoint-keyed map.
func (e Endpoint) String() string {
	return e.ID.String() + "." + e.Property
}

// Equal reports whether both id and property match.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.Property == o.Property && e.ID.Equal(o.ID)
}

// ResolvedEndpoint is a concrete endpoint paired with its tree path.
type ResolvedEndpoint struct {
	Endpoint
	Path Path
}

// Key is the endpoint key (see Endpoint.String).
func (r ResolvedEndpoint) Key() string {
	return r.Endpoint.String()
}

// FlattenEndpoints concatenates per-declaration endpoint lists.
func FlattenEndpoints(groups [][]ResolvedEndpoint) []ResolvedEndpoint {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]ResolvedEndpoint, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
