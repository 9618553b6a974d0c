package analyzer

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dbgraph/procgraph-mcp/internal/extract"
	"github.com/dbgraph/procgraph-mcp/internal/graph"
	"github.com/dbgraph/procgraph-mcp/internal/level"
)

// IndexStats summarizes one AnalyzeDirectory pass.
type IndexStats struct {
	Analyzed int  `json:"analyzed"`
	Skipped  int  `json:"skipped"` // unchanged since the last pass
	Failed   int  `json:"failed"`
	Degraded bool `json:"degraded"` // level pass hit a call cycle
}

// fileAnalysis is the per-file output of the parallel phase.
type fileAnalysis struct {
	name   string
	code   string
	digest uint64
	static *extract.Result
	logic  string
	score  int
	err    error
}

// AnalyzeDirectory ingests every .prc file under the configured directory.
// Extraction and enrichment run in parallel; graph writes are serialized.
// Files whose content digest matches the previous pass are skipped. Ends
// with a dependency-level pass and a snapshot save.
func (a *Analyzer) AnalyzeDirectory(ctx context.Context) (IndexStats, error) {
	var stats IndexStats
	if a.files == nil {
		slog.Warn("analyzer.index_skip", "reason", "no_procedures_dir")
		return stats, nil
	}

	procFiles, err := a.files.LoadAll()
	if err != nil {
		return stats, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var pending []fileAnalysis
	for _, f := range procFiles {
		if a.digests[f.Name] == f.Digest {
			stats.Skipped++
			continue
		}
		pending = append(pending, fileAnalysis{name: f.Name, code: f.Code, digest: f.Digest})
	}

	eg := new(errgroup.Group)
	eg.SetLimit(runtime.NumCPU())
	for i := range pending {
		eg.Go(func() error {
			p := &pending[i]
			p.static = extract.Analyze(p.code)
			p.logic, p.err = a.enricher.BusinessLogic(ctx, p.name, p.code)
			if p.err != nil {
				return nil
			}
			p.score = a.enricher.ComplexityScore(ctx, p.code)
			if p.score < 1 || p.score > 10 {
				p.score = 5
			}
			return nil
		})
	}
	_ = eg.Wait()

	for i := range pending {
		p := &pending[i]
		if p.err != nil {
			slog.Error("analyzer.index_file", "procedure", p.name, "error", p.err)
			stats.Failed++
			continue
		}
		schema, name := graph.SplitQualified(p.name)
		a.g.AddProcedure(graph.ProcedureInput{
			Name:             name,
			Schema:           schema,
			Parameters:       p.static.Parameters,
			CalledProcedures: p.static.Procedures,
			CalledTables:     p.static.Tables,
			BusinessLogic:    p.logic,
			ComplexityScore:  p.score,
			SourceCode:       p.code,
			FieldsUsed:       p.static.Fields,
		})
		a.digests[p.name] = p.digest
		stats.Analyzed++
	}

	// Fresh ingestion invalidates dependency levels; recompute over the
	// whole graph before saving.
	result := level.New(a.g).Resolve()
	stats.Degraded = result.Degraded

	a.g.SaveToCache()
	slog.Info("analyzer.index_done",
		"analyzed", stats.Analyzed, "skipped", stats.Skipped,
		"failed", stats.Failed, "degraded", stats.Degraded)
	return stats, nil
}
