// Package tree provides an in-memory component tree.
//
// MemTree stores mounted components, their property values, and which
// components are still loading. It satisfies resolve.Tree for the
// resolver and answers readiness probes for the scheduler.
package tree

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/cascade/internal/future"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/resolve"
)

type node struct {
	id    ir.Identifier
	props []string
	path  ir.Path
	vals  map[string]any
}

type waiter struct {
	pending map[string]bool
	settle  func(bool)
}

// MemTree is a mutex-guarded component tree. Safe for concurrent use.
type MemTree struct {
	mu      sync.RWMutex
	order   []string
	nodes   map[string]*node
	loading map[string]bool
	waiters []*waiter
	seq     int
}

// New creates an empty tree.
func New() *MemTree {
	return &MemTree{
		nodes:   make(map[string]*node),
		loading: make(map[string]bool),
	}
}

// Add mounts a component. props lists its declared properties; none means
// any property is addressable. The component is placed at the end of the
// tree and addressed as children/<n>.
func (t *MemTree) Add(id ir.Identifier, props ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id.IsZero() {
		return fmt.Errorf("mount: empty component id")
	}
	if id.HasWildcard() {
		return fmt.Errorf("mount %s: wildcard in component id", id)
	}
	key := id.String()
	if _, ok := t.nodes[key]; ok {
		return fmt.Errorf("mount %s: component already mounted", id)
	}

	t.nodes[key] = &node{
		id:    id,
		props: slices.Clone(props),
		path:  ir.Path{"children", strconv.Itoa(t.seq)},
		vals:  make(map[string]any),
	}
	t.seq++
	t.order = append(t.order, key)
	return nil
}

// Remove unmounts a component. Pending readiness probes that include it
// settle false.
func (t *MemTree) Remove(id ir.Identifier) bool {
	t.mu.Lock()
	key := id.String()
	if _, ok := t.nodes[key]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.nodes, key)
	delete(t.loading, key)
	t.order = slices.DeleteFunc(t.order, func(k string) bool { return k == key })

	var failed []*waiter
	t.waiters = slices.DeleteFunc(t.waiters, func(w *waiter) bool {
		if w.pending[key] {
			failed = append(failed, w)
			return true
		}
		return false
	})
	t.mu.Unlock()

	for _, w := range failed {
		w.settle(false)
	}
	return true
}

// Exists implements resolve.Tree.
func (t *MemTree) Exists(id ir.Identifier) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id.String()]
	return ok
}

// Path implements resolve.Tree.
func (t *MemTree) Path(id ir.Identifier) (ir.Path, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id.String()]
	if !ok {
		return nil, false
	}
	return slices.Clone(n.path), true
}

// Snapshot implements resolve.Tree.
func (t *MemTree) Snapshot() []resolve.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]resolve.Node, 0, len(t.order))
	for _, key := range t.order {
		n := t.nodes[key]
		out = append(out, resolve.Node{
			ID:    n.id,
			Props: slices.Clone(n.props),
			Path:  slices.Clone(n.path),
		})
	}
	return out
}

// Len returns the number of mounted components.
func (t *MemTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// =============================================================================
// Property values
// =============================================================================

// Set stores a property value on a mounted component.
func (t *MemTree) Set(id ir.Identifier, prop string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id.String()]
	if !ok {
		return fmt.Errorf("set %s.%s: component not mounted", id, prop)
	}
	n.vals[prop] = value
	return nil
}

// Get reads a property value.
func (t *MemTree) Get(id ir.Identifier, prop string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id.String()]
	if !ok {
		return nil, false
	}
	v, ok := n.vals[prop]
	return v, ok
}

// Values reads every resolved endpoint, leaving absent values nil.
func (t *MemTree) Values(endpoints []ir.ResolvedEndpoint) []any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]any, len(endpoints))
	for i, e := range endpoints {
		if n, ok := t.nodes[e.ID.String()]; ok {
			out[i] = n.vals[e.Property]
		}
	}
	return out
}

// =============================================================================
// Loading state
// =============================================================================

// SetLoading marks a component as loading. Readiness probes covering it
// wait until FinishLoading or Remove.
func (t *MemTree) SetLoading(id ir.Identifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.String()
	if _, ok := t.nodes[key]; !ok {
		return fmt.Errorf("loading %s: component not mounted", id)
	}
	t.loading[key] = true
	return nil
}

// FinishLoading clears the loading mark and settles any probe that was
// waiting only on loaded components.
func (t *MemTree) FinishLoading(id ir.Identifier) {
	t.mu.Lock()
	key := id.String()
	delete(t.loading, key)

	var ready []*waiter
	t.waiters = slices.DeleteFunc(t.waiters, func(w *waiter) bool {
		delete(w.pending, key)
		if len(w.pending) == 0 {
			ready = append(ready, w)
			return true
		}
		return false
	})
	t.mu.Unlock()

	for _, w := range ready {
		w.settle(true)
	}
}

// AwaitReady returns a future that settles true once none of ids is
// loading, or false if one of them is unmounted first. Ids that are not
// mounted do not hold the probe up. The future is already settled when
// nothing is loading.
func (t *MemTree) AwaitReady(ids []ir.Identifier) *future.Future[bool] {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := make(map[string]bool)
	for _, id := range ids {
		key := id.String()
		if t.loading[key] {
			pending[key] = true
		}
	}
	if len(pending) == 0 {
		return future.Ready(true)
	}

	f, settle := future.New[bool]()
	t.waiters = append(t.waiters, &waiter{pending: pending, settle: settle})
	return f
}
