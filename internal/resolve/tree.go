package resolve

import (
	"slices"

	"github.com/roach88/cascade/internal/ir"
)

// Tree is the read side of the component tree the scheduler works against.
// Implementations must be safe to call from the scheduler goroutine while
// other goroutines mutate the tree.
type Tree interface {
	// Exists reports whether a component with id is mounted.
	Exists(id ir.Identifier) bool
	// Path returns the component's address.
	Path(id ir.Identifier) (ir.Path, bool)
	// Snapshot lists every mounted component in tree order.
	Snapshot() []Node
}

// Node is one mounted component.
type Node struct {
	ID ir.Identifier
	// Props lists the properties the component declares. Empty means any
	// property is addressable.
	Props []string
	Path  ir.Path
}

// HasProp reports whether prop is addressable on the node.
func (n Node) HasProp(prop string) bool {
	return len(n.Props) == 0 || slices.Contains(n.Props, prop)
}

// index is a point-in-time lookup structure over a tree snapshot.
type index struct {
	byID  map[string]Node
	bySig map[string][]Node
	size  int
}

func buildIndex(nodes []Node) *index {
	idx := &index{
		byID:  make(map[string]Node, len(nodes)),
		bySig: make(map[string][]Node),
		size:  len(nodes),
	}
	for _, n := range nodes {
		idx.byID[n.ID.String()] = n
		if n.ID.IsDict() {
			sig := n.ID.Signature()
			idx.bySig[sig] = append(idx.bySig[sig], n)
		}
	}
	return idx
}

func (idx *index) lookup(id ir.Identifier) (Node, bool) {
	n, ok := idx.byID[id.String()]
	return n, ok
}
