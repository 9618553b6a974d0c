// Package crawler walks the knowledge graph: bounded dependency-tree
// collection, field provenance tracing, and the impact/flow queries derived
// from them.
package crawler

import (
	"log/slog"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// defaultTraceDepth bounds field traces started without an explicit depth.
const defaultTraceDepth = 10

// Crawler reads from one long-lived graph store.
type Crawler struct {
	g *graph.Graph
}

// New creates a crawler bound to a graph store.
func New(g *graph.Graph) *Crawler {
	return &Crawler{g: g}
}

// TreeNode is one node of a dependency tree.
type TreeNode struct {
	Type            string      `json:"type,omitempty"` // procedure or table on child entries
	Name            string      `json:"name"`
	Depth           int         `json:"depth"`
	Truncated       bool        `json:"truncated,omitempty"`
	Error           string      `json:"error,omitempty"`
	ComplexityScore int         `json:"complexity_score,omitempty"`
	Columns         int         `json:"columns,omitempty"` // table leaves only
	Dependencies    []*TreeNode `json:"dependencies"`
}

// CrawlResult is the outcome of one crawl.
type CrawlResult struct {
	DependenciesTree *TreeNode `json:"dependencies_tree"`
	ProceduresFound  []string  `json:"procedures_found"`
	TablesFound      []string  `json:"tables_found"`
	// DepthReached echoes the requested max depth, not the deepest node
	// actually visited. Downstream consumers read the literal value.
	DepthReached int `json:"depth_reached"`
}

// crawlFrame phases: expandPhase resolves and expands a procedure;
// tablesPhase attaches its table leaves after all child subtrees finished,
// so deeper procedures claim shared tables first.
const (
	expandPhase = iota
	tablesPhase
)

type crawlFrame struct {
	phase  int
	name   string
	depth  int
	parent *TreeNode
	node   *TreeNode               // tablesPhase
	ctx    *graph.ProcedureContext // tablesPhase
}

// CrawlProcedure collects the transitive dependencies of a procedure into a
// tree, bounded by maxDepth. One visited set spans the whole call: each
// procedure expands at most once regardless of how many paths reach it, which
// keeps diamonds and cycles finite. A missing node becomes an errored leaf,
// never a failure. Implemented with an explicit work stack so pathological
// chains cannot exhaust goroutine stack space.
func (c *Crawler) CrawlProcedure(start string, maxDepth int, includeTables bool) *CrawlResult {
	visitedProcs := map[string]bool{}
	visitedTables := map[string]bool{}
	var procsFound, tablesFound []string
	var root *TreeNode

	stack := []*crawlFrame{{phase: expandPhase, name: start, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.phase == tablesPhase {
			for _, table := range f.ctx.CalledTables {
				if visitedTables[table] {
					continue
				}
				visitedTables[table] = true
				tablesFound = append(tablesFound, table)
				columns := 0
				if info := c.g.GetTableInfo(table); info != nil {
					columns = len(info.Columns)
				}
				f.node.Dependencies = append(f.node.Dependencies, &TreeNode{
					Type:         "table",
					Name:         table,
					Depth:        f.depth + 1,
					Columns:      columns,
					Dependencies: []*TreeNode{},
				})
			}
			continue
		}

		var node *TreeNode
		switch {
		case f.depth > maxDepth || visitedProcs[f.name]:
			node = &TreeNode{
				Name:         f.name,
				Depth:        f.depth,
				Truncated:    f.depth > maxDepth,
				Dependencies: []*TreeNode{},
			}
		default:
			visitedProcs[f.name] = true
			procsFound = append(procsFound, f.name)

			ctx := c.g.GetProcedureContext(f.name)
			if ctx == nil {
				node = &TreeNode{
					Name:         f.name,
					Depth:        f.depth,
					Error:        "procedure not found in graph",
					Dependencies: []*TreeNode{},
				}
				break
			}

			node = &TreeNode{
				Name:            f.name,
				Depth:           f.depth,
				ComplexityScore: ctx.ComplexityScore,
				Dependencies:    []*TreeNode{},
			}
			// Table leaves attach after the children's subtrees, so the
			// tables frame goes under the child frames on the stack.
			if includeTables {
				stack = append(stack, &crawlFrame{phase: tablesPhase, node: node, ctx: ctx, depth: f.depth})
			}
			for i := len(ctx.CalledProcedures) - 1; i >= 0; i-- {
				stack = append(stack, &crawlFrame{
					phase:  expandPhase,
					name:   ctx.CalledProcedures[i],
					depth:  f.depth + 1,
					parent: node,
				})
			}
		}

		if f.parent == nil {
			root = node
		} else {
			node.Type = "procedure"
			f.parent.Dependencies = append(f.parent.Dependencies, node)
		}
	}

	slog.Debug("crawler.crawl", "start", start, "max_depth", maxDepth,
		"procedures", len(procsFound), "tables", len(tablesFound))

	return &CrawlResult{
		DependenciesTree: root,
		ProceduresFound:  procsFound,
		TablesFound:      tablesFound,
		DepthReached:     maxDepth,
	}
}

// Impact is the blast radius of a procedure: who calls it and what it
// transitively touches.
type Impact struct {
	Procedure          string   `json:"procedure"`
	Callers            []string `json:"callers"`
	CallerCount        int      `json:"caller_count"`
	Dependencies       []string `json:"dependencies"`
	DependencyCount    int      `json:"dependency_count"`
	AffectedTables     []string `json:"affected_tables"`
	AffectedTableCount int      `json:"affected_table_count"`
	TotalImpactScore   int      `json:"total_impact_score"`
}

// ProcedureImpact combines incoming callers with the crawl of outgoing
// dependencies into a single impact score.
func (c *Crawler) ProcedureImpact(name string, maxDepth int) *Impact {
	callers := c.g.GetCallers(name)
	crawl := c.CrawlProcedure(name, maxDepth, true)

	return &Impact{
		Procedure:          name,
		Callers:            callers,
		CallerCount:        len(callers),
		Dependencies:       crawl.ProceduresFound,
		DependencyCount:    len(crawl.ProceduresFound),
		AffectedTables:     crawl.TablesFound,
		AffectedTableCount: len(crawl.TablesFound),
		TotalImpactScore:   len(callers) + len(crawl.ProceduresFound),
	}
}
