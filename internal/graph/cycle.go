package graph

import (
	"slices"
)

// shadowSuffix marks the stand-in node for an endpoint a callback both
// reads and writes.
const shadowSuffix = "′"

// Registration is one concrete callback instance as seen by the cycle
// detector: the endpoint keys it reads and writes.
type Registration struct {
	Owner   string
	Inputs  []string
	Outputs []string
}

// CycleDetector maintains a directed multigraph over concrete endpoints
// with an edge Input → Output for every pair in every registered instance.
//
// A callback that reads and writes the same endpoint (an incrementing
// counter) is legal. Its self edge targets a shadow node endpoint′
// instead, and every other callback reading the endpoint also depends on
// endpoint′. Cycles through other callbacks are still found; the counter
// alone is not one.
//
// CycleDetector is not safe for concurrent use.
type CycleDetector struct {
	regs []Registration
}

// NewCycleDetector creates an empty detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{}
}

// Register adds one instance.
func (d *CycleDetector) Register(r Registration) {
	d.regs = append(d.regs, r)
}

// Len returns the number of registered instances.
func (d *CycleDetector) Len() int {
	return len(d.regs)
}

// edges builds the adjacency lists, sorted for deterministic traversal.
func (d *CycleDetector) edges() map[string][]string {
	adj := make(map[string][]string)
	addNode := func(n string) {
		if _, ok := adj[n]; !ok {
			adj[n] = nil
		}
	}
	addEdge := func(from, to string) {
		addNode(from)
		addNode(to)
		adj[from] = append(adj[from], to)
	}

	// First pass: direct edges, self references go to the shadow node.
	shadowOwners := make(map[string][]int)
	for i, r := range d.regs {
		for _, out := range r.Outputs {
			addNode(out)
		}
		for _, in := range r.Inputs {
			addNode(in)
			for _, out := range r.Outputs {
				target := out
				if slices.Contains(r.Inputs, out) {
					target = out + shadowSuffix
					if !slices.Contains(shadowOwners[out], i) {
						shadowOwners[out] = append(shadowOwners[out], i)
					}
				}
				addEdge(in, target)
			}
		}
	}

	// Second pass: other readers of a self-referenced endpoint also depend
	// on its shadow.
	for endpoint, owners := range shadowOwners {
		shadow := endpoint + shadowSuffix
		for i, r := range d.regs {
			if slices.Contains(owners, i) || !slices.Contains(r.Inputs, endpoint) {
				continue
			}
			for _, out := range r.Outputs {
				addEdge(shadow, out)
			}
		}
	}

	for n, next := range adj {
		slices.Sort(next)
		adj[n] = slices.Compact(next)
	}
	return adj
}

// CheckAcyclic returns a *CycleError describing the shortest cycle, or nil.
func (d *CycleDetector) CheckAcyclic() error {
	_, err := d.Order()
	return err
}

// Order returns the endpoints in topological order (Kahn's algorithm,
// ties broken lexically). If the graph has a cycle it returns a
// *CycleError carrying the shortest cycle instead.
func (d *CycleDetector) Order() ([]string, error) {
	adj := d.edges()

	indegree := make(map[string]int, len(adj))
	for n := range adj {
		indegree[n] += 0
		for _, m := range adj[n] {
			indegree[m]++
		}
	}

	var ready []string
	for n, deg := range indegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(adj))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		var freed []string
		for _, m := range adj[n] {
			indegree[m]--
			if indegree[m] == 0 {
				freed = append(freed, m)
			}
		}
		if len(freed) > 0 {
			ready = append(ready, freed...)
			slices.Sort(ready)
		}
	}

	if len(order) == len(adj) {
		return order, nil
	}

	// Restrict to the nodes Kahn could not order and find the shortest
	// cycle inside their strongly connected components.
	rest := make(map[string][]string)
	for n, deg := range indegree {
		if deg > 0 {
			rest[n] = nil
		}
	}
	for n := range rest {
		for _, m := range adj[n] {
			if _, ok := rest[m]; ok {
				rest[n] = append(rest[n], m)
			}
		}
	}
	return nil, &CycleError{Path: shortestCycle(rest)}
}

// shortestCycle returns the shortest cycle in graph as a closed path.
// Ties are broken by the lexically smallest start node.
func shortestCycle(graph map[string][]string) []string {
	var best []string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !slices.Contains(graph[scc[0]], scc[0]) {
			continue
		}
		members := make(map[string]bool, len(scc))
		for _, n := range scc {
			members[n] = true
		}
		slices.Sort(scc)
		for _, start := range scc {
			path := bfsCycle(graph, members, start)
			if path == nil {
				continue
			}
			if best == nil || len(path) < len(best) ||
				(len(path) == len(best) && path[0] < best[0]) {
				best = path
			}
		}
	}
	return best
}

// bfsCycle finds the shortest path from start back to start within members.
func bfsCycle(graph map[string][]string, members map[string]bool, start string) []string {
	parent := map[string]string{}
	queue := []string{start}
	visited := map[string]bool{}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range graph[n] {
			if !members[m] {
				continue
			}
			if m == start {
				path := []string{start}
				for cur := n; cur != start; cur = parent[cur] {
					path = append(path, cur)
				}
				slices.Reverse(path[1:])
				return append(path, start)
			}
			if visited[m] {
				continue
			}
			visited[m] = true
			parent[m] = n
			queue = append(queue, m)
		}
	}
	return nil
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so output is deterministic.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the stack into one component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}
