package graph

import (
	"os"
	"path/filepath"
	"testing"
)

func tempGraph(t *testing.T) *Graph {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "knowledge_graph.json"))
}

func TestAddProcedureAndContext(t *testing.T) {
	g := tempGraph(t)

	g.AddProcedure(ProcedureInput{
		Name:             "CALC_TOTALS",
		Schema:           "BILLING",
		CalledProcedures: []string{"BILLING.APPLY_TAX"},
		CalledTables:     []string{"BILLING.INVOICES"},
		ComplexityScore:  7,
		SourceCode:       "BEGIN NULL; END;",
		Parameters: []Parameter{
			{Name: "p_invoice_id", Type: "NUMBER", Direction: "IN", Position: 1},
		},
	})

	ctx := g.GetProcedureContext("BILLING.CALC_TOTALS")
	if ctx == nil {
		t.Fatal("expected context, got nil")
	}
	if ctx.FullName != "BILLING.CALC_TOTALS" {
		t.Errorf("full name: %s", ctx.FullName)
	}
	if len(ctx.CalledProcedures) != 1 || ctx.CalledProcedures[0] != "BILLING.APPLY_TAX" {
		t.Errorf("called procedures: %v", ctx.CalledProcedures)
	}
	if len(ctx.CalledTables) != 1 || ctx.CalledTables[0] != "BILLING.INVOICES" {
		t.Errorf("called tables: %v", ctx.CalledTables)
	}
	if ctx.ComplexityScore != 7 {
		t.Errorf("complexity: %d", ctx.ComplexityScore)
	}

	// Suffix and bare-name resolution.
	if g.GetProcedureContext("CALC_TOTALS") == nil {
		t.Error("expected suffix match to resolve")
	}
	if g.GetProcedureContext("X.NOPE") != nil {
		t.Error("expected nil for unknown procedure")
	}
}

func TestDefaultSchema(t *testing.T) {
	g := tempGraph(t)
	id := g.AddProcedure(ProcedureInput{Name: "ORPHAN"})
	if id != "UNKNOWN.ORPHAN" {
		t.Errorf("expected UNKNOWN schema, got %s", id)
	}
}

func TestForwardReferences(t *testing.T) {
	g := tempGraph(t)

	// Edge to a procedure that does not exist yet.
	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.B"}})

	ctx := g.GetProcedureContext("S.A")
	if len(ctx.CalledProcedures) != 1 {
		t.Fatalf("expected dangling edge to be recorded: %v", ctx.CalledProcedures)
	}

	// Target appears later and the edge resolves.
	g.AddProcedure(ProcedureInput{Name: "B", Schema: "S"})
	callers := g.GetCallers("S.B")
	if len(callers) != 1 || callers[0] != "S.A" {
		t.Errorf("callers after late insert: %v", callers)
	}
}

func TestEdgesAppendOnlyOnReAdd(t *testing.T) {
	g := tempGraph(t)

	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.B"}})
	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.C"}})

	if got := g.NodeCount(); got != 1 {
		t.Errorf("expected 1 node after re-add, got %d", got)
	}
	// Re-adding with a different dependency list does not retract old edges.
	ctx := g.GetProcedureContext("S.A")
	if len(ctx.CalledProcedures) != 2 {
		t.Errorf("expected accumulated edges, got %v", ctx.CalledProcedures)
	}
}

func TestParallelEdgeKeys(t *testing.T) {
	g := tempGraph(t)

	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.B", "S.B"}})

	edges := g.EdgesOfType(EdgeCalls)
	if len(edges) != 2 {
		t.Fatalf("expected 2 parallel edges, got %d", len(edges))
	}
	if edges[0].Key == edges[1].Key {
		t.Errorf("parallel edges must get distinct keys: %d vs %d", edges[0].Key, edges[1].Key)
	}
}

func TestAddTableReferences(t *testing.T) {
	g := tempGraph(t)

	g.AddTable(TableInput{
		Name:   "ORDERS",
		Schema: "SALES",
		Columns: []Column{
			{Name: "ORDER_ID", DataType: "NUMBER", IsPrimaryKey: true},
			{Name: "CUSTOMER_ID", DataType: "NUMBER", IsForeignKey: true, ForeignKeyTable: "SALES.CUSTOMERS"},
		},
		ForeignKeys: []ForeignKey{
			{Columns: []string{"CUSTOMER_ID"}, ReferencedTable: "SALES.CUSTOMERS", ReferencedColumns: []string{"CUSTOMER_ID"}},
		},
	})

	info := g.GetTableInfo("ORDERS")
	if info == nil {
		t.Fatal("expected table info")
	}
	if len(info.Columns) != 2 {
		t.Errorf("columns: %d", len(info.Columns))
	}
	refs := info.Relationships["foreign_key"]
	if len(refs) != 1 || refs[0] != "SALES.CUSTOMERS" {
		t.Errorf("foreign_key relationships: %v", refs)
	}
}

func TestAddFieldUsage(t *testing.T) {
	g := tempGraph(t)

	g.AddFieldUsage(FieldInput{
		FieldName: "STATUS",
		TableName: "SALES.ORDERS",
		DataType:  "VARCHAR2",
	})

	rels := g.GetFieldRelationships("STATUS")
	targets := rels["field_of_table"]
	if len(targets) != 1 || targets[0] != "SALES.ORDERS" {
		t.Errorf("field_of_table: %v", targets)
	}
}

func TestGetCallers(t *testing.T) {
	g := tempGraph(t)

	g.AddProcedure(ProcedureInput{Name: "LEAF", Schema: "S"})
	g.AddProcedure(ProcedureInput{Name: "P1", Schema: "S", CalledProcedures: []string{"S.LEAF"}})
	g.AddProcedure(ProcedureInput{Name: "P2", Schema: "S", CalledProcedures: []string{"S.LEAF"}})
	// Table access must not count as a caller.
	g.AddProcedure(ProcedureInput{Name: "P3", Schema: "S", CalledTables: []string{"S.LEAF"}})

	callers := g.GetCallers("S.LEAF")
	if len(callers) != 2 {
		t.Fatalf("expected 2 callers, got %v", callers)
	}
	if callers[0] != "S.P1" || callers[1] != "S.P2" {
		t.Errorf("callers not sorted: %v", callers)
	}

	if got := g.GetCallers("S.MISSING"); len(got) != 0 {
		t.Errorf("expected no callers for missing node, got %v", got)
	}
}

func TestQueryFieldUsage(t *testing.T) {
	g := tempGraph(t)

	g.AddProcedure(ProcedureInput{
		Name: "P1", Schema: "S",
		FieldsUsed: map[string]*FieldUse{
			"STATUS": {Operations: []string{"read", "write"}},
		},
	})
	g.AddProcedure(ProcedureInput{
		Name: "P2", Schema: "S",
		FieldsUsed: map[string]*FieldUse{
			"STATUS": {Operations: []string{"read"}},
		},
	})

	all := g.QueryFieldUsage("STATUS", "")
	if len(all) != 2 {
		t.Fatalf("expected 2 usages, got %d", len(all))
	}

	scoped := g.QueryFieldUsage("STATUS", "P1")
	if len(scoped) != 1 || scoped[0].Procedure != "S.P1" {
		t.Errorf("scoped query: %+v", scoped)
	}

	usage := g.GetFieldUsage("STATUS")
	if len(usage.WrittenBy) != 1 || usage.WrittenBy[0] != "S.P1" {
		t.Errorf("written_by: %v", usage.WrittenBy)
	}
	if len(usage.ReadBy) != 2 {
		t.Errorf("read_by: %v", usage.ReadBy)
	}
}

func TestMetadataUpdatedAtBumps(t *testing.T) {
	g := tempGraph(t)
	if g.UpdatedAt() != "" {
		t.Fatalf("fresh graph should have no updated_at, got %q", g.UpdatedAt())
	}
	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S"})
	if g.UpdatedAt() == "" {
		t.Error("add_procedure must bump updated_at")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "knowledge_graph.json")
	g := New(path)

	g.AddProcedure(ProcedureInput{
		Name: "A", Schema: "S",
		CalledProcedures: []string{"S.B", "S.B"}, // parallel edges survive
		CalledTables:     []string{"S.T1"},
		ComplexityScore:  4,
		SourceCode:       "BEGIN NULL; END;",
		FieldsUsed: map[string]*FieldUse{
			"STATUS": {
				Operations:      []string{"write"},
				Transformations: []string{"UPPER(STATUS)"},
				Contexts:        []UseContext{{Type: "update", Context: "UPDATE t SET status=1"}},
			},
		},
	})
	g.AddTable(TableInput{
		Name: "T1", Schema: "S",
		Columns:     []Column{{Name: "STATUS", DataType: "VARCHAR2", IsPrimaryKey: true}},
		ForeignKeys: []ForeignKey{{Columns: []string{"X"}, ReferencedTable: "S.T2", ReferencedColumns: []string{"Y"}}},
		RowCount:    1234,
	})
	g.AddFieldUsage(FieldInput{FieldName: "STATUS", TableName: "S.T1", DataType: "VARCHAR2"})
	g.SaveToCache()

	reloaded := New(path)
	if reloaded.NodeCount() != g.NodeCount() {
		t.Fatalf("node count mismatch: %d vs %d", reloaded.NodeCount(), g.NodeCount())
	}
	if reloaded.EdgeCount() != g.EdgeCount() {
		t.Fatalf("edge count mismatch: %d vs %d", reloaded.EdgeCount(), g.EdgeCount())
	}

	ctx := reloaded.GetProcedureContext("S.A")
	if ctx == nil {
		t.Fatal("procedure lost in round trip")
	}
	if ctx.ComplexityScore != 4 || ctx.SourceCode != "BEGIN NULL; END;" {
		t.Errorf("attributes lost: %+v", ctx)
	}
	use := ctx.FieldsUsed["STATUS"]
	if use == nil || len(use.Transformations) != 1 || use.Transformations[0] != "UPPER(STATUS)" {
		t.Errorf("fields_used lost: %+v", use)
	}

	info := reloaded.GetTableInfo("S.T1")
	if info == nil || info.RowCount != 1234 || !info.Columns[0].IsPrimaryKey {
		t.Errorf("table attributes lost: %+v", info)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "nope", "missing.json"))
	if g.NodeCount() != 0 {
		t.Errorf("expected empty graph, got %d nodes", g.NodeCount())
	}
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := New(path)
	if g.NodeCount() != 0 {
		t.Errorf("expected empty graph from corrupt file, got %d nodes", g.NodeCount())
	}
}

func TestClear(t *testing.T) {
	g := tempGraph(t)
	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S", CalledProcedures: []string{"S.B"}})
	g.Clear()
	if g.NodeCount() != 0 || g.EdgeCount() != 0 {
		t.Errorf("clear left data: %d nodes, %d edges", g.NodeCount(), g.EdgeCount())
	}
	if g.GetProcedureContext("S.A") != nil {
		t.Error("expected nil after clear")
	}
}

func TestStats(t *testing.T) {
	g := tempGraph(t)
	g.AddProcedure(ProcedureInput{Name: "A", Schema: "S", CalledTables: []string{"S.T"}})
	g.AddTable(TableInput{Name: "T", Schema: "S"})

	stats := g.Stats()
	if stats.TotalNodes != 2 || stats.NodeTypes[NodeProcedure] != 1 || stats.NodeTypes[NodeTable] != 1 {
		t.Errorf("node stats: %+v", stats)
	}
	if stats.EdgeTypes[EdgeAccesses] != 1 {
		t.Errorf("edge stats: %+v", stats)
	}
}
