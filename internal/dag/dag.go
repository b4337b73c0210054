// Package dag builds the model dependency graph and answers ordering
// queries for the planner.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fathomdata/trellis/internal/types"
)

// CycleError reports a dependency cycle with the offending path.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Graph is a build-once, read-many dependency graph. Nodes are dense
// integer ids over the sorted model names; an edge u -> v means v
// depends on u.
type Graph struct {
	names []string
	ids   map[string]int
	up    [][]int
	down  [][]int
	depth []int
	topo  []int
}

// Build constructs the graph from model definitions, rejecting cycles.
func Build(models map[string]*types.ModelDefinition) (*Graph, error) {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	g := &Graph{
		names: names,
		ids:   make(map[string]int, len(names)),
		up:    make([][]int, len(names)),
		down:  make([][]int, len(names)),
		depth: make([]int, len(names)),
	}
	for i, name := range names {
		g.ids[name] = i
	}
	for i, name := range names {
		for _, dep := range models[name].Dependencies {
			u, ok := g.ids[dep]
			if !ok {
				return nil, &types.ValidationError{
					Field:  "dependencies",
					Reason: fmt.Sprintf("model %s depends on unknown model %s", name, dep),
				}
			}
			g.up[i] = append(g.up[i], u)
			g.down[u] = append(g.down[u], i)
		}
	}
	for i := range g.up {
		sort.Ints(g.up[i])
		sort.Ints(g.down[i])
	}
	if err := g.sortTopological(); err != nil {
		return nil, err
	}
	return g, nil
}

// sortTopological computes a deterministic topological order (Kahn's
// algorithm with a lexicographic tie-break, which dense sorted ids
// make a plain integer ordering) and longest-path depths.
func (g *Graph) sortTopological() error {
	n := len(g.names)
	indegree := make([]int, n)
	for i := range g.up {
		indegree[i] = len(g.up[i])
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	g.topo = make([]int, 0, n)
	for len(ready) > 0 {
		// ready is kept sorted; ids are assigned over sorted names, so
		// taking the smallest id is the lexicographic tie-break.
		node := ready[0]
		ready = ready[1:]
		g.topo = append(g.topo, node)
		for _, next := range g.down[node] {
			d := g.depth[node] + 1
			if d > g.depth[next] {
				g.depth[next] = d
			}
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertSorted(ready, next)
			}
		}
	}

	if len(g.topo) != n {
		return &CycleError{Cycle: g.findCycle(indegree)}
	}
	return nil
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

// findCycle walks the residual graph (nodes with nonzero indegree) to
// name one concrete cycle for the error message.
func (g *Graph) findCycle(indegree []int) []string {
	inCycle := map[int]bool{}
	for i, d := range indegree {
		if d > 0 {
			inCycle[i] = true
		}
	}
	for start := range inCycle {
		path := []int{start}
		seen := map[int]int{start: 0}
		node := start
		for {
			advanced := false
			for _, up := range g.up[node] {
				if !inCycle[up] {
					continue
				}
				if at, ok := seen[up]; ok {
					cycle := append(append([]int{}, path[at:]...), up)
					names := make([]string, len(cycle))
					for i, id := range cycle {
						names[i] = g.names[id]
					}
					return names
				}
				seen[up] = len(path)
				path = append(path, up)
				node = up
				advanced = true
				break
			}
			if !advanced {
				break
			}
		}
	}
	return nil
}

// Has reports whether the model is a node in the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.ids[name]
	return ok
}

// TopologicalOrder returns model names in deterministic dependency
// order.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, len(g.topo))
	for i, id := range g.topo {
		out[i] = g.names[id]
	}
	return out
}

// Depth returns the longest path from any source to the model. The
// planner uses it as the step's parallel group.
func (g *Graph) Depth(name string) int {
	id, ok := g.ids[name]
	if !ok {
		return 0
	}
	return g.depth[id]
}

// Upstream returns the transitive closure of the model's dependencies,
// sorted.
func (g *Graph) Upstream(name string) []string {
	return g.closure(name, g.up)
}

// Downstream returns the transitive closure of the model's dependents,
// sorted.
func (g *Graph) Downstream(name string) []string {
	return g.closure(name, g.down)
}

func (g *Graph) closure(name string, edges [][]int) []string {
	start, ok := g.ids[name]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.names))
	stack := []int{start}
	var out []string
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range edges[node] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, g.names[next])
			stack = append(stack, next)
		}
	}
	sort.Strings(out)
	return out
}
