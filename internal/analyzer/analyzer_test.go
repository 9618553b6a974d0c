package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dbgraph/procgraph-mcp/internal/enrich"
	"github.com/dbgraph/procgraph-mcp/internal/graph"
	"github.com/dbgraph/procgraph-mcp/internal/loader"
)

// fakeDB is a DatabaseLoader backed by maps.
type fakeDB struct {
	procs      map[string]string
	tables     map[string]*graph.TableInput
	procCalls  int
	tableCalls int
}

func (f *fakeDB) LoadProcedure(_ context.Context, name string) (string, error) {
	f.procCalls++
	return f.procs[name], nil
}

func (f *fakeDB) LoadProcedures(context.Context) (map[string]string, error) {
	return f.procs, nil
}

func (f *fakeDB) LoadTable(_ context.Context, name string) (*graph.TableInput, error) {
	f.tableCalls++
	return f.tables[name], nil
}

func (f *fakeDB) Close() error { return nil }

// failingEnricher always fails BusinessLogic.
type failingEnricher struct{}

func (failingEnricher) BusinessLogic(context.Context, string, string) (string, error) {
	return "", errors.New("model unavailable")
}

func (failingEnricher) ComplexityScore(context.Context, string) int { return 5 }

func tempGraph(t *testing.T) *graph.Graph {
	t.Helper()
	return graph.New(filepath.Join(t.TempDir(), "knowledge_graph.json"))
}

func procDir(t *testing.T, files map[string]string) *loader.FileLoader {
	t.Helper()
	dir := t.TempDir()
	for name, code := range files {
		if err := os.WriteFile(filepath.Join(dir, name+".prc"), []byte(code), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return loader.NewFileLoader(dir)
}

func TestProcedureFromFileBeatsDatabase(t *testing.T) {
	db := &fakeDB{procs: map[string]string{"UPDATE_ORDER": "BEGIN db; END;"}}
	files := procDir(t, map[string]string{"UPDATE_ORDER": "BEGIN SELECT status FROM orders; END;"})
	a := New(tempGraph(t), enrich.Static{}, WithFileLoader(files), WithDatabase(db))

	result := a.GetOrAnalyzeProcedure(context.Background(), "UPDATE_ORDER", false)
	if !result.Success || result.Source != "file" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if db.procCalls != 0 {
		t.Error("database must not be consulted when the file hits")
	}

	pctx, ok := result.Data.(*graph.ProcedureContext)
	if !ok || pctx == nil {
		t.Fatalf("expected procedure context, got %T", result.Data)
	}
	if len(pctx.CalledTables) == 0 {
		t.Error("static extraction did not run")
	}
}

func TestProcedureCacheFirst(t *testing.T) {
	g := tempGraph(t)
	g.AddProcedure(graph.ProcedureInput{Name: "CACHED", Schema: "S"})
	db := &fakeDB{}
	a := New(g, enrich.Static{}, WithDatabase(db))

	result := a.GetOrAnalyzeProcedure(context.Background(), "S.CACHED", false)
	if !result.Success || result.Source != "cache" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if db.procCalls != 0 {
		t.Error("cache hit must not touch loaders")
	}
}

func TestProcedureFromDatabase(t *testing.T) {
	db := &fakeDB{procs: map[string]string{"S.CALC": "BEGIN UPDATE t SET a=1; END;"}}
	a := New(tempGraph(t), enrich.Static{}, WithDatabase(db))

	result := a.GetOrAnalyzeProcedure(context.Background(), "S.CALC", false)
	if !result.Success || result.Source != "database" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProcedureNotFound(t *testing.T) {
	a := New(tempGraph(t), enrich.Static{}, WithDatabase(&fakeDB{}))
	result := a.GetOrAnalyzeProcedure(context.Background(), "GHOST", false)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "procedure 'GHOST' not found in files or database" {
		t.Errorf("unexpected error text: %q", result.Error)
	}
}

func TestProcedureEnrichmentFailureKeepsGraphClean(t *testing.T) {
	g := tempGraph(t)
	files := procDir(t, map[string]string{"BROKEN": "BEGIN NULL; END;"})
	a := New(g, failingEnricher{}, WithFileLoader(files))

	result := a.GetOrAnalyzeProcedure(context.Background(), "BROKEN", false)
	if result.Success {
		t.Fatal("expected failure")
	}
	if g.GetProcedureContext("BROKEN") != nil {
		t.Error("failed analysis must not be ingested")
	}
}

func TestForceRefreshReanalyzes(t *testing.T) {
	g := tempGraph(t)
	files := procDir(t, map[string]string{"P": "BEGIN SELECT a FROM t1; END;"})
	a := New(g, enrich.Static{}, WithFileLoader(files))

	if r := a.GetOrAnalyzeProcedure(context.Background(), "P", false); !r.Success {
		t.Fatalf("seed analysis failed: %+v", r)
	}

	// Rewrite the file; without force the stale cache answer survives.
	if err := os.WriteFile(filepath.Join(files.Dir(), "P.prc"), []byte("BEGIN SELECT a FROM t2; END;"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := a.GetOrAnalyzeProcedure(context.Background(), "P", false)
	if r.Source != "cache" {
		t.Fatalf("expected cache hit, got %+v", r)
	}

	r = a.ForceRefresh(context.Background(), "P", "procedure")
	if !r.Success || r.Source != "file" {
		t.Fatalf("force refresh failed: %+v", r)
	}
	pctx := r.Data.(*graph.ProcedureContext)
	found := false
	for _, tbl := range pctx.CalledTables {
		if tbl == "T2" {
			found = true
		}
	}
	if !found {
		t.Errorf("refresh did not pick up new table: %v", pctx.CalledTables)
	}
}

func TestForceRefreshInvalidType(t *testing.T) {
	a := New(tempGraph(t), enrich.Static{})
	if r := a.ForceRefresh(context.Background(), "X", "view"); r.Success {
		t.Error("expected failure for unknown entity type")
	}
}

func TestTableRequiresDatabase(t *testing.T) {
	a := New(tempGraph(t), enrich.Static{})
	r := a.GetOrAnalyzeTable(context.Background(), "ORDERS", false)
	if r.Success {
		t.Fatal("expected failure without database")
	}
	if r.Error != "database not configured, cannot fetch table 'ORDERS'" {
		t.Errorf("unexpected error text: %q", r.Error)
	}
}

func TestTableFromDatabase(t *testing.T) {
	db := &fakeDB{tables: map[string]*graph.TableInput{
		"S.ORDERS": {Name: "ORDERS", Schema: "S", Columns: []graph.Column{{Name: "ID", IsPrimaryKey: true}}},
	}}
	g := tempGraph(t)
	a := New(g, enrich.Static{}, WithDatabase(db))

	r := a.GetOrAnalyzeTable(context.Background(), "S.ORDERS", false)
	if !r.Success || r.Source != "database" {
		t.Fatalf("unexpected result: %+v", r)
	}

	// Second lookup hits the cache.
	r = a.GetOrAnalyzeTable(context.Background(), "S.ORDERS", false)
	if r.Source != "cache" || db.tableCalls != 1 {
		t.Errorf("expected cache hit, got %+v after %d loads", r, db.tableCalls)
	}
}

func TestTableNotFound(t *testing.T) {
	a := New(tempGraph(t), enrich.Static{}, WithDatabase(&fakeDB{}))
	if r := a.GetOrAnalyzeTable(context.Background(), "GHOST", false); r.Success {
		t.Error("expected failure")
	}
}

func TestAnalyzeDirectory(t *testing.T) {
	g := tempGraph(t)
	files := procDir(t, map[string]string{
		"A": "BEGIN UNKNOWN.B(); END;",
		"B": "BEGIN SELECT x FROM t; END;",
	})
	a := New(g, enrich.Static{}, WithFileLoader(files))

	stats, err := a.AnalyzeDirectory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Analyzed != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// Levels were computed: A calls B, so A sits above B.
	actx := g.GetProcedureContext("UNKNOWN.A")
	bctx := g.GetProcedureContext("UNKNOWN.B")
	if actx == nil || bctx == nil {
		t.Fatal("procedures not ingested")
	}
	if actx.DependencyLevel <= bctx.DependencyLevel {
		t.Errorf("levels not computed: A=%d B=%d", actx.DependencyLevel, bctx.DependencyLevel)
	}

	// Second pass skips unchanged files.
	stats, err = a.AnalyzeDirectory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Analyzed != 0 || stats.Skipped != 2 {
		t.Errorf("unchanged files not skipped: %+v", stats)
	}
}

func TestAnalyzeDirectoryWithoutDirIsNoop(t *testing.T) {
	a := New(tempGraph(t), enrich.Static{})
	stats, err := a.AnalyzeDirectory(context.Background())
	if err != nil || stats.Analyzed != 0 {
		t.Errorf("unexpected: %+v, %v", stats, err)
	}
}
