// Package analyzer resolves procedures and tables on demand. Lookups walk a
// priority chain — graph cache, then .prc files, then the database — and
// every successful analysis is ingested into the graph and snapshotted, so
// the next lookup is a cache hit.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dbgraph/procgraph-mcp/internal/enrich"
	"github.com/dbgraph/procgraph-mcp/internal/extract"
	"github.com/dbgraph/procgraph-mcp/internal/graph"
	"github.com/dbgraph/procgraph-mcp/internal/loader"
)

// Result reports one on-demand lookup. Failures are data, not errors: a
// procedure that cannot be found or analyzed comes back Success=false with
// the reason in Error.
type Result struct {
	Success bool   `json:"success"`
	Source  string `json:"source,omitempty"` // cache, file, database
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Analyzer fetches and analyzes entities that are not in the graph yet.
type Analyzer struct {
	// mu serializes check-then-populate sequences so two concurrent misses
	// on the same name do not both run the expensive analysis.
	mu sync.Mutex

	g        *graph.Graph
	enricher enrich.Enricher
	files    *loader.FileLoader    // optional
	db       loader.DatabaseLoader // optional

	digests map[string]uint64 // procedure name -> last ingested source digest
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFileLoader points the analyzer at a directory of .prc files.
func WithFileLoader(fl *loader.FileLoader) Option {
	return func(a *Analyzer) { a.files = fl }
}

// WithDatabase wires a database backend into the chain.
func WithDatabase(db loader.DatabaseLoader) Option {
	return func(a *Analyzer) { a.db = db }
}

// New creates an analyzer over a graph store.
func New(g *graph.Graph, enricher enrich.Enricher, opts ...Option) *Analyzer {
	a := &Analyzer{g: g, enricher: enricher, digests: map[string]uint64{}}
	for _, opt := range opts {
		opt(a)
	}
	slog.Info("analyzer.init", "files", a.files != nil, "database", a.db != nil)
	return a
}

// GetOrAnalyzeProcedure returns a procedure context, analyzing on demand
// when the graph does not have it. Chain: cache (unless forceRefresh),
// .prc file, database. The graph is only updated after the whole analysis
// succeeded, and the snapshot is saved before returning.
func (a *Analyzer) GetOrAnalyzeProcedure(ctx context.Context, procName string, forceRefresh bool) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !forceRefresh {
		if pctx := a.g.GetProcedureContext(procName); pctx != nil {
			slog.Info("analyzer.cache_hit", "procedure", procName)
			return Result{Success: true, Source: "cache", Data: pctx}
		}
	}
	slog.Info("analyzer.miss", "procedure", procName, "force", forceRefresh)

	sourceCode, source := "", ""
	if a.files != nil {
		code, err := a.files.Load(procName)
		if err != nil {
			slog.Warn("analyzer.file_lookup", "procedure", procName, "error", err)
		} else if code != "" {
			sourceCode, source = code, "file"
		}
	}
	if sourceCode == "" && a.db != nil {
		code, err := a.db.LoadProcedure(ctx, procName)
		if err != nil {
			slog.Warn("analyzer.db_lookup", "procedure", procName, "error", err)
		} else if code != "" {
			sourceCode, source = code, "database"
		}
	}
	if sourceCode == "" {
		return failure("procedure '%s' not found in files or database", procName)
	}

	if err := a.ingestProcedure(ctx, procName, sourceCode); err != nil {
		slog.Error("analyzer.analyze", "procedure", procName, "error", err)
		return failure("%v", err)
	}
	a.g.SaveToCache()

	slog.Info("analyzer.done", "procedure", procName, "source", source)
	return Result{Success: true, Source: source, Data: a.g.GetProcedureContext(procName)}
}

// ingestProcedure runs the static pass and the enricher over one source
// body and upserts the result. Field facts always come from the static
// pass, never from the enricher.
func (a *Analyzer) ingestProcedure(ctx context.Context, procName, sourceCode string) error {
	schema, name := graph.SplitQualified(procName)

	static := extract.Analyze(sourceCode)

	businessLogic, err := a.enricher.BusinessLogic(ctx, name, sourceCode)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", procName, err)
	}
	complexity := a.enricher.ComplexityScore(ctx, sourceCode)
	if complexity < 1 || complexity > 10 {
		slog.Warn("analyzer.score_invalid", "procedure", procName, "score", complexity)
		complexity = 5
	}

	a.g.AddProcedure(graph.ProcedureInput{
		Name:             name,
		Schema:           schema,
		Parameters:       static.Parameters,
		CalledProcedures: static.Procedures,
		CalledTables:     static.Tables,
		BusinessLogic:    businessLogic,
		ComplexityScore:  complexity,
		SourceCode:       sourceCode,
		FieldsUsed:       static.Fields,
	})
	return nil
}

// GetOrAnalyzeTable returns table metadata, fetching from the database on a
// cache miss. Tables have no file representation, so the chain is cache
// then database.
func (a *Analyzer) GetOrAnalyzeTable(ctx context.Context, tableName string, forceRefresh bool) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !forceRefresh {
		if info := a.g.GetTableInfo(tableName); info != nil {
			slog.Info("analyzer.cache_hit", "table", tableName)
			return Result{Success: true, Source: "cache", Data: info}
		}
	}

	if a.db == nil {
		return failure("database not configured, cannot fetch table '%s'", tableName)
	}

	input, err := a.db.LoadTable(ctx, tableName)
	if err != nil {
		slog.Error("analyzer.table_load", "table", tableName, "error", err)
		return failure("%v", err)
	}
	if input == nil {
		return failure("table '%s' not found in database", tableName)
	}

	id := a.g.AddTable(*input)
	a.g.SaveToCache()

	slog.Info("analyzer.done", "table", tableName)
	return Result{Success: true, Source: "database", Data: a.g.GetTableInfo(id)}
}

// ForceRefresh re-analyzes one entity, bypassing the cache.
func (a *Analyzer) ForceRefresh(ctx context.Context, entityName, entityType string) Result {
	slog.Info("analyzer.force_refresh", "entity", entityName, "type", entityType)
	switch strings.ToLower(entityType) {
	case "procedure":
		return a.GetOrAnalyzeProcedure(ctx, entityName, true)
	case "table":
		return a.GetOrAnalyzeTable(ctx, entityName, true)
	default:
		return failure("invalid entity type: %s", entityType)
	}
}
