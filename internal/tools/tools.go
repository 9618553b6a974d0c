// Package tools exposes the knowledge graph over MCP.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dbgraph/procgraph-mcp/internal/analyzer"
	"github.com/dbgraph/procgraph-mcp/internal/crawler"
	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp      *mcp.Server
	g        *graph.Graph
	analyzer *analyzer.Analyzer
	crawler  *crawler.Crawler
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(g *graph.Graph, a *analyzer.Analyzer) *Server {
	srv := &Server{
		g:        g,
		analyzer: a,
		crawler:  crawler.New(g),
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "procgraph-mcp",
				Version: "0.1.0",
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	// 1. analyze_procedure
	s.mcp.AddTool(&mcp.Tool{
		Name:        "analyze_procedure",
		Description: "Get a procedure's full analysis: parameters, business logic, complexity, called procedures/tables, and field usage. Looks up the cached graph first, then .prc files, then the database, analyzing on demand.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"procedure_name": {
					"type": "string",
					"description": "Procedure name, optionally schema-qualified (e.g. 'BILLING.UPDATE_ORDER')"
				},
				"force_refresh": {
					"type": "boolean",
					"description": "Re-analyze even if the procedure is already in the graph"
				}
			},
			"required": ["procedure_name"]
		}`),
	}, s.handleAnalyzeProcedure)

	// 2. analyze_table
	s.mcp.AddTool(&mcp.Tool{
		Name:        "analyze_table",
		Description: "Get a table's metadata: columns with types and keys, foreign keys, indexes, and derived relationships. Cached graph first, then the configured database.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {
					"type": "string",
					"description": "Table name, optionally schema-qualified"
				},
				"force_refresh": {
					"type": "boolean",
					"description": "Re-fetch from the database even if cached"
				}
			},
			"required": ["table_name"]
		}`),
	}, s.handleAnalyzeTable)

	// 3. force_refresh
	s.mcp.AddTool(&mcp.Tool{
		Name:        "force_refresh",
		Description: "Re-analyze one entity (procedure or table), bypassing the cache. Use after the underlying object changed.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entity_name": {
					"type": "string",
					"description": "Name of the entity to refresh"
				},
				"entity_type": {
					"type": "string",
					"description": "Kind of entity",
					"enum": ["procedure", "table"]
				}
			},
			"required": ["entity_name", "entity_type"]
		}`),
	}, s.handleForceRefresh)

	// 4. get_procedure_context
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_procedure_context",
		Description: "Read a procedure's context straight from the graph, without on-demand analysis. Returns null data when the procedure is not indexed yet.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"procedure_name": {
					"type": "string",
					"description": "Procedure name; bare names match any schema"
				}
			},
			"required": ["procedure_name"]
		}`),
	}, s.handleGetProcedureContext)

	// 5. get_table_info
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_table_info",
		Description: "Read a table's stored metadata from the graph, without touching the database.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table_name": {
					"type": "string",
					"description": "Table name; bare names match any schema"
				}
			},
			"required": ["table_name"]
		}`),
	}, s.handleGetTableInfo)

	// 6. get_callers
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_callers",
		Description: "List the procedures that call a given procedure (direct callers only).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"procedure_name": {
					"type": "string",
					"description": "Procedure whose callers to list"
				}
			},
			"required": ["procedure_name"]
		}`),
	}, s.handleGetCallers)

	// 7. crawl_procedure
	s.mcp.AddTool(&mcp.Tool{
		Name:        "crawl_procedure",
		Description: "Walk a procedure's transitive dependencies into a tree: called procedures at each depth and, optionally, accessed tables as leaves. Cycle-safe and depth-bounded.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"procedure_name": {
					"type": "string",
					"description": "Root procedure of the crawl"
				},
				"max_depth": {
					"type": "integer",
					"description": "Maximum crawl depth (default 3)"
				},
				"include_tables": {
					"type": "boolean",
					"description": "Attach accessed tables as leaves (default true)"
				}
			},
			"required": ["procedure_name"]
		}`),
	}, s.handleCrawlProcedure)

	// 8. trace_field
	s.mcp.AddTool(&mcp.Tool{
		Name:        "trace_field",
		Description: "Trace a field through the call graph from a starting procedure: every read/write/transform occurrence, tables that define the field, and the transformations applied along the way.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"field_name": {
					"type": "string",
					"description": "Field/column name to trace (e.g. 'STATUS')"
				},
				"start_procedure": {
					"type": "string",
					"description": "Procedure to start the trace from"
				},
				"max_depth": {
					"type": "integer",
					"description": "Maximum trace depth (default 10)"
				}
			},
			"required": ["field_name", "start_procedure"]
		}`),
	}, s.handleTraceField)

	// 9. analyze_field_flow
	s.mcp.AddTool(&mcp.Tool{
		Name:        "analyze_field_flow",
		Description: "Full data-flow view of one field: the procedures and tables that produce it, the procedures that consume it, and (when a start procedure is given) a recursive trace.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"field_name": {
					"type": "string",
					"description": "Field/column name"
				},
				"start_procedure": {
					"type": "string",
					"description": "Optional procedure to start a recursive trace from"
				}
			},
			"required": ["field_name"]
		}`),
	}, s.handleAnalyzeFieldFlow)

	// 10. get_procedure_impact
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_procedure_impact",
		Description: "Blast-radius report for a procedure: direct callers, transitive dependencies, affected tables, and a combined impact score. Use before changing or dropping a procedure.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"procedure_name": {
					"type": "string",
					"description": "Procedure to assess"
				},
				"max_depth": {
					"type": "integer",
					"description": "Dependency crawl depth (default 3)"
				}
			},
			"required": ["procedure_name"]
		}`),
	}, s.handleGetProcedureImpact)

	// 11. query_field_usage
	s.mcp.AddTool(&mcp.Tool{
		Name:        "query_field_usage",
		Description: "Find which procedures use a field and how (read/write/transform), optionally scoped to one procedure.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"field_name": {
					"type": "string",
					"description": "Field/column name"
				},
				"procedure_name": {
					"type": "string",
					"description": "Optional procedure scope"
				}
			},
			"required": ["field_name"]
		}`),
	}, s.handleQueryFieldUsage)

	// 12. get_field_relationships
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_field_relationships",
		Description: "Summarize a field across the graph: which procedures read it, which write it, and the relationships of its field nodes (e.g. belongs_to links to procedures).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"field_name": {
					"type": "string",
					"description": "Field/column name"
				}
			},
			"required": ["field_name"]
		}`),
	}, s.handleGetFieldRelationships)

	// 13. graph_statistics
	s.mcp.AddTool(&mcp.Tool{
		Name:        "graph_statistics",
		Description: "Node/edge counts by type plus snapshot metadata for the knowledge graph.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleGraphStatistics)

	// 14. compute_dependency_levels
	s.mcp.AddTool(&mcp.Tool{
		Name:        "compute_dependency_levels",
		Description: "Recompute bottom-up dependency levels for every procedure (level 0 = calls no tracked procedure). Reports cycles; a cycle forces all levels to 0.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleComputeDependencyLevels)

	// 15. index_directory
	s.mcp.AddTool(&mcp.Tool{
		Name:        "index_directory",
		Description: "Batch-analyze every .prc file in the configured procedures directory. Unchanged files (by content hash) are skipped. Finishes with a dependency-level pass and a snapshot save.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleIndexDirectory)
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument with a default value.
func getBoolArg(args map[string]any, key string, defaultVal bool) bool {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}
