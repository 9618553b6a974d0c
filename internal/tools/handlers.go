package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dbgraph/procgraph-mcp/internal/level"
)

// Crawl and impact reports default to a shallow walk; deep crawls of a hub
// procedure can touch most of the graph.
const defaultCrawlDepth = 3

const defaultTraceDepth = 10

func (s *Server) handleAnalyzeProcedure(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "procedure_name")
	if name == "" {
		return errResult("procedure_name is required"), nil
	}
	force := getBoolArg(args, "force_refresh", false)
	return jsonResult(s.analyzer.GetOrAnalyzeProcedure(ctx, name, force)), nil
}

func (s *Server) handleAnalyzeTable(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "table_name")
	if name == "" {
		return errResult("table_name is required"), nil
	}
	force := getBoolArg(args, "force_refresh", false)
	return jsonResult(s.analyzer.GetOrAnalyzeTable(ctx, name, force)), nil
}

func (s *Server) handleForceRefresh(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "entity_name")
	kind := getStringArg(args, "entity_type")
	if name == "" || kind == "" {
		return errResult("entity_name and entity_type are required"), nil
	}
	return jsonResult(s.analyzer.ForceRefresh(ctx, name, kind)), nil
}

func (s *Server) handleGetProcedureContext(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "procedure_name")
	if name == "" {
		return errResult("procedure_name is required"), nil
	}
	pctx := s.g.GetProcedureContext(name)
	return jsonResult(map[string]any{
		"found": pctx != nil,
		"data":  pctx,
	}), nil
}

func (s *Server) handleGetTableInfo(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "table_name")
	if name == "" {
		return errResult("table_name is required"), nil
	}
	info := s.g.GetTableInfo(name)
	return jsonResult(map[string]any{
		"found": info != nil,
		"data":  info,
	}), nil
}

func (s *Server) handleGetCallers(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "procedure_name")
	if name == "" {
		return errResult("procedure_name is required"), nil
	}
	callers := s.g.GetCallers(name)
	return jsonResult(map[string]any{
		"procedure": name,
		"callers":   callers,
		"count":     len(callers),
	}), nil
}

func (s *Server) handleCrawlProcedure(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "procedure_name")
	if name == "" {
		return errResult("procedure_name is required"), nil
	}
	maxDepth := getIntArg(args, "max_depth", defaultCrawlDepth)
	includeTables := getBoolArg(args, "include_tables", true)
	return jsonResult(s.crawler.CrawlProcedure(name, maxDepth, includeTables)), nil
}

func (s *Server) handleTraceField(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	field := getStringArg(args, "field_name")
	start := getStringArg(args, "start_procedure")
	if field == "" || start == "" {
		return errResult("field_name and start_procedure are required"), nil
	}
	maxDepth := getIntArg(args, "max_depth", defaultTraceDepth)
	return jsonResult(s.crawler.TraceField(field, start, maxDepth)), nil
}

func (s *Server) handleAnalyzeFieldFlow(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	field := getStringArg(args, "field_name")
	if field == "" {
		return errResult("field_name is required"), nil
	}
	start := getStringArg(args, "start_procedure")
	return jsonResult(s.crawler.AnalyzeFieldFlow(field, start)), nil
}

func (s *Server) handleGetProcedureImpact(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	name := getStringArg(args, "procedure_name")
	if name == "" {
		return errResult("procedure_name is required"), nil
	}
	maxDepth := getIntArg(args, "max_depth", defaultCrawlDepth)
	return jsonResult(s.crawler.ProcedureImpact(name, maxDepth)), nil
}

func (s *Server) handleQueryFieldUsage(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	field := getStringArg(args, "field_name")
	if field == "" {
		return errResult("field_name is required"), nil
	}
	proc := getStringArg(args, "procedure_name")
	usages := s.g.QueryFieldUsage(field, proc)
	return jsonResult(map[string]any{
		"field":  field,
		"usages": usages,
		"count":  len(usages),
	}), nil
}

func (s *Server) handleGetFieldRelationships(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	field := getStringArg(args, "field_name")
	if field == "" {
		return errResult("field_name is required"), nil
	}
	return jsonResult(map[string]any{
		"field":         field,
		"usage":         s.g.GetFieldUsage(field),
		"relationships": s.g.GetFieldRelationships(field),
	}), nil
}

func (s *Server) handleGraphStatistics(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.g.Stats()), nil
}

func (s *Server) handleComputeDependencyLevels(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := level.New(s.g).Resolve()
	s.g.SaveToCache()
	return jsonResult(result), nil
}

func (s *Server) handleIndexDirectory(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.analyzer.AnalyzeDirectory(ctx)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(stats), nil
}
