// Package depgraph is an internal helper used by the registry to order
// module loading by declared dependency and to detect dependency cycles.
package depgraph

import "sort"

// Graph tracks directed dependency edges between module ids.
type Graph struct {
	nodes    map[string]struct{}
	incoming map[string]map[string]struct{}
	outgoing map[string]map[string]struct{}
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
		outgoing: make(map[string]map[string]struct{}),
	}
}

// AddNode ensures id is present in the graph, even with no edges.
func (g *Graph) AddNode(id string) {
	if _, exists := g.nodes[id]; exists {
		return
	}
	g.nodes[id] = struct{}{}
	g.incoming[id] = make(map[string]struct{})
	g.outgoing[id] = make(map[string]struct{})
}

// AddEdge records that dependent depends on dependency.
func (g *Graph) AddEdge(dependent, dependency string) {
	g.AddNode(dependent)
	g.AddNode(dependency)
	g.outgoing[dependent][dependency] = struct{}{}
	g.incoming[dependency][dependent] = struct{}{}
}

// HasNode reports whether id is present in the graph.
func (g *Graph) HasNode(id string) bool {
	if g == nil {
		return false
	}
	_, ok := g.nodes[id]
	return ok
}

// DetectCycle returns one cycle (as a node-id path, first element repeated
// at the end) if present, or nil if the graph is acyclic.
func (g *Graph) DetectCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string
	var cycle []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for dep := range g.outgoing[node] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if onStack[dep] {
				idx := len(path) - 1
				for idx >= 0 && path[idx] != dep {
					idx--
				}
				if idx >= 0 {
					cycle = append([]string{}, path[idx:]...)
					cycle = append(cycle, dep)
					return true
				}
			}
		}

		onStack[node] = false
		path = path[:len(path)-1]
		return false
	}

	for _, node := range g.sortedNodes() {
		if !visited[node] {
			if dfs(node) {
				break
			}
		}
	}

	return cycle
}

// TopologicalSort returns node ids in dependency order (dependencies
// before dependents) via Kahn's algorithm, with a deterministic
// lexicographic tie-break. Returns the detected cycle (non-nil) as the
// second value when the graph cannot be fully ordered.
func (g *Graph) TopologicalSort() ([]string, []string) {
	remaining := make(map[string]int, len(g.nodes))
	for node := range g.nodes {
		remaining[node] = len(g.outgoing[node])
	}

	queue := make([]string, 0, len(g.nodes))
	for node, deps := range remaining {
		if deps == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range g.GetDependents(current) {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				queue = append(queue, dependent)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, g.DetectCycle()
	}

	return result, nil
}

// GetDependencies returns the (sorted) direct dependencies of node.
func (g *Graph) GetDependencies(node string) []string {
	return sortedKeys(g.outgoing[node])
}

// GetDependents returns the (sorted) direct dependents of node.
func (g *Graph) GetDependents(node string) []string {
	return sortedKeys(g.incoming[node])
}

func sortedKeys(m map[string]struct{}) []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) sortedNodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
