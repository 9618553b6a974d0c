package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dbgraph/procgraph-mcp/internal/analyzer"
	"github.com/dbgraph/procgraph-mcp/internal/enrich"
	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

func testServer(t *testing.T) (*Server, *graph.Graph) {
	t.Helper()
	g := graph.New(filepath.Join(t.TempDir(), "knowledge_graph.json"))
	a := analyzer.New(g, enrich.Static{})
	return NewServer(g, a), g
}

func callReq(argsJSON string) *mcp.CallToolRequest {
	return &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Arguments: json.RawMessage(argsJSON)},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func TestGetProcedureContextTool(t *testing.T) {
	srv, g := testServer(t)
	g.AddProcedure(graph.ProcedureInput{Name: "UPDATE_ORDER", Schema: "BILLING", ComplexityScore: 7})

	res, err := srv.handleGetProcedureContext(context.Background(), callReq(`{"procedure_name": "UPDATE_ORDER"}`))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"found": true`) || !strings.Contains(text, "BILLING.UPDATE_ORDER") {
		t.Errorf("unexpected result: %s", text)
	}
}

func TestGetProcedureContextToolMiss(t *testing.T) {
	srv, _ := testServer(t)
	res, err := srv.handleGetProcedureContext(context.Background(), callReq(`{"procedure_name": "GHOST"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatal("a miss is data, not a tool error")
	}
	if !strings.Contains(resultText(t, res), `"found": false`) {
		t.Errorf("unexpected result: %s", resultText(t, res))
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	srv, _ := testServer(t)
	res, err := srv.handleGetProcedureContext(context.Background(), callReq(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("missing procedure_name should be a tool error")
	}
}

func TestCrawlProcedureTool(t *testing.T) {
	srv, g := testServer(t)
	g.AddProcedure(graph.ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.B"}})
	g.AddProcedure(graph.ProcedureInput{Name: "B", Schema: "S"})

	res, err := srv.handleCrawlProcedure(context.Background(), callReq(`{"procedure_name": "S.A", "max_depth": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"procedures_found"`) || !strings.Contains(text, "S.B") {
		t.Errorf("unexpected crawl result: %s", text)
	}
}

func TestAnalyzeProcedureToolNotFound(t *testing.T) {
	srv, _ := testServer(t)
	res, err := srv.handleAnalyzeProcedure(context.Background(), callReq(`{"procedure_name": "GHOST"}`))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"success": false`) || !strings.Contains(text, "not found") {
		t.Errorf("unexpected result: %s", text)
	}
}

func TestComputeDependencyLevelsTool(t *testing.T) {
	srv, g := testServer(t)
	g.AddProcedure(graph.ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.B"}})
	g.AddProcedure(graph.ProcedureInput{Name: "B", Schema: "S"})

	res, err := srv.handleComputeDependencyLevels(context.Background(), callReq(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"S.A": 1`) || !strings.Contains(text, `"S.B": 0`) {
		t.Errorf("unexpected levels: %s", text)
	}
}

func TestGetFieldRelationshipsTool(t *testing.T) {
	srv, g := testServer(t)
	g.AddProcedure(graph.ProcedureInput{
		Name: "P", Schema: "S",
		FieldsUsed: map[string]*graph.FieldUse{
			"STATUS": {Operations: []string{"read", "write"}},
		},
	})
	g.AddFieldUsage(graph.FieldInput{FieldName: "STATUS", TableName: "S.ORDERS"})

	res, err := srv.handleGetFieldRelationships(context.Background(), callReq(`{"field_name": "STATUS"}`))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"written_by"`) || !strings.Contains(text, "S.ORDERS") {
		t.Errorf("unexpected result: %s", text)
	}
}

func TestGraphStatisticsTool(t *testing.T) {
	srv, g := testServer(t)
	g.AddProcedure(graph.ProcedureInput{Name: "P", Schema: "S"})
	g.AddTable(graph.TableInput{Name: "T", Schema: "S"})

	res, err := srv.handleGraphStatistics(context.Background(), callReq(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"procedure": 1`) || !strings.Contains(text, `"table": 1`) {
		t.Errorf("unexpected stats: %s", text)
	}
}

func TestArgHelpers(t *testing.T) {
	args, err := parseArgs(callReq(`{"s": "x", "n": 7, "b": true}`))
	if err != nil {
		t.Fatal(err)
	}
	if getStringArg(args, "s") != "x" || getStringArg(args, "missing") != "" {
		t.Error("string arg")
	}
	if getIntArg(args, "n", 3) != 7 || getIntArg(args, "missing", 3) != 3 {
		t.Error("int arg")
	}
	if !getBoolArg(args, "b", false) || !getBoolArg(args, "missing", true) {
		t.Error("bool arg")
	}

	empty, err := parseArgs(&mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}})
	if err != nil || len(empty) != 0 {
		t.Errorf("nil arguments should parse to empty map: %v, %v", empty, err)
	}
}
