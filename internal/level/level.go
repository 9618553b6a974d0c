// Package level computes bottom-up dependency levels over the calls graph.
// A procedure that calls no tracked procedure sits at level 0; every other
// procedure sits one above its deepest callee.
package level

import (
	"log/slog"
	"strings"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// maxLoggedCycles caps cycle diagnostics output.
const maxLoggedCycles = 5

// Result reports one resolver pass.
type Result struct {
	Levels   map[string]int `json:"levels"`
	Cycles   [][]string     `json:"cycles,omitempty"`
	Degraded bool           `json:"degraded"` // cycle blocked the topological order; all levels forced to 0
}

// Resolver recomputes dependency levels for every procedure in the graph.
type Resolver struct {
	g *graph.Graph
}

// New creates a resolver bound to a graph store.
func New(g *graph.Graph) *Resolver {
	return &Resolver{g: g}
}

// Resolve runs a full pass: cycle diagnostics, topological sort over
// calls/accesses edges, then bottom-up leveling in reverse topological order.
// When a cycle makes a true order impossible, every procedure is assigned
// level 0 and a warning is logged — a degraded mode, not a failure.
// Levels are written back into the graph's procedure nodes.
func (r *Resolver) Resolve() Result {
	procs := r.g.ProcedureIDs()
	result := Result{Levels: make(map[string]int, len(procs))}
	if len(procs) == 0 {
		slog.Warn("resolver.skip", "reason", "no_procedures")
		return result
	}

	edges := r.g.EdgesOfType(graph.EdgeCalls, graph.EdgeAccesses)
	adj, vertices := buildAdjacency(procs, edges)

	result.Cycles = findCycles(adj, vertices, maxLoggedCycles)
	if len(result.Cycles) > 0 {
		slog.Warn("resolver.cycles", "count", len(result.Cycles))
		for _, cycle := range result.Cycles {
			slog.Warn("resolver.cycle", "path", strings.Join(cycle, " -> ")+" -> "+cycle[0])
		}
	}

	order, ok := topoSort(adj, vertices)
	if !ok {
		// Degraded mode: a cycle blocks the true order.
		for _, p := range procs {
			result.Levels[p] = 0
			r.g.SetDependencyLevel(p, 0)
		}
		result.Degraded = true
		slog.Warn("resolver.degraded", "reason", "cycle_blocks_topological_order")
		return result
	}

	// Reverse topological order: callees are leveled before their callers,
	// so Level = 1 + max(callee levels) needs a single pass.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if !r.g.HasProcedure(id) {
			continue
		}
		level := 0
		for _, callee := range adj[id] {
			if !r.g.HasProcedure(callee) {
				continue // untracked callee or table target
			}
			if l := result.Levels[callee] + 1; l > level {
				level = l
			}
		}
		result.Levels[id] = level
		r.g.SetDependencyLevel(id, level)
	}

	slog.Info("resolver.done", "procedures", len(result.Levels), "degraded", result.Degraded)
	return result
}

// buildAdjacency collects the successor lists of the calls/accesses graph.
// Vertices include edge endpoints that have no node yet (forward references).
func buildAdjacency(procs []string, edges []*graph.Edge) (map[string][]string, []string) {
	adj := make(map[string][]string)
	seen := make(map[string]bool)
	var vertices []string

	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			vertices = append(vertices, id)
		}
	}
	for _, p := range procs {
		add(p)
	}
	for _, e := range edges {
		add(e.Source)
		add(e.Target)
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj, vertices
}

// topoSort is Kahn's algorithm. The order runs callers-first (sources of the
// calls graph come out before their callees). ok is false when a cycle
// prevents a complete order.
func topoSort(adj map[string][]string, vertices []string) (order []string, ok bool) {
	indegree := make(map[string]int, len(vertices))
	for _, v := range vertices {
		indegree[v] = 0
	}
	for _, targets := range adj {
		for _, t := range targets {
			indegree[t]++
		}
	}

	var queue []string
	for _, v := range vertices {
		if indegree[v] == 0 {
			queue = append(queue, v)
		}
	}

	order = make([]string, 0, len(vertices))
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		for _, t := range adj[v] {
			indegree[t]--
			if indegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	return order, len(order) == len(vertices)
}

// findCycles enumerates up to limit distinct cycles for diagnostics using an
// iterative DFS that reconstructs the loop when it hits a vertex already on
// the current path. Diagnostics only — leveling never depends on this list.
func findCycles(adj map[string][]string, vertices []string, limit int) [][]string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(vertices))
	var cycles [][]string

	type frame struct {
		vertex string
		next   int
	}

	for _, start := range vertices {
		if color[start] != white || len(cycles) >= limit {
			continue
		}
		stack := []frame{{vertex: start}}
		color[start] = gray
		var path []string
		path = append(path, start)

		for len(stack) > 0 && len(cycles) < limit {
			f := &stack[len(stack)-1]
			targets := adj[f.vertex]
			if f.next < len(targets) {
				t := targets[f.next]
				f.next++
				switch color[t] {
				case white:
					color[t] = gray
					stack = append(stack, frame{vertex: t})
					path = append(path, t)
				case gray:
					// Back edge: the cycle is the path suffix starting at t.
					for i, v := range path {
						if v == t {
							cycle := make([]string, len(path)-i)
							copy(cycle, path[i:])
							cycles = append(cycles, cycle)
							break
						}
					}
				}
				continue
			}
			color[f.vertex] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
	return cycles
}
