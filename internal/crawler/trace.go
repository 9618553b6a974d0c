package crawler

import (
	"log/slog"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// StepContext carries the evidence behind one trace step.
type StepContext struct {
	Field      string          `json:"field,omitempty"`
	Usage      *graph.FieldUse `json:"usage,omitempty"`
	Table      string          `json:"table,omitempty"`
	ColumnInfo *graph.Column   `json:"column_info,omitempty"`
}

// TraceStep is one recorded occurrence of the traced field.
type TraceStep struct {
	Procedure string      `json:"procedure"`
	Operation string      `json:"operation"` // read, write, transform, read_from_table
	Context   StepContext `json:"context"`
	Depth     int         `json:"depth"`
}

// TracePath is the complete provenance trace of one field.
type TracePath struct {
	Path            []TraceStep `json:"path"`
	Sources         []string    `json:"sources"`
	Destinations    []string    `json:"destinations"`
	Transformations []string    `json:"transformations"`
	FieldName       string      `json:"field_name"`
}

type traceFrame struct {
	phase int
	name  string
	depth int
	ctx   *graph.ProcedureContext // tablesPhase
}

// TraceField follows a field from a starting procedure through the call
// graph, collecting every read/write/transform occurrence. Recursion into
// callees is unconditional — the field may be produced deeper and consumed
// here through a table — so there is no pruning on "field not used here".
// Tables whose columns include the field are recorded as sources. The
// visited set grows monotonically for the whole call, which makes cycles
// safe.
func (c *Crawler) TraceField(fieldName, startProcedure string, maxDepth int) *TracePath {
	visited := map[string]bool{}
	trace := &TracePath{FieldName: fieldName}

	stack := []*traceFrame{{phase: expandPhase, name: startProcedure, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.phase == tablesPhase {
			c.traceTables(trace, f)
			continue
		}

		if f.depth > maxDepth || visited[f.name] {
			continue
		}
		visited[f.name] = true

		ctx := c.g.GetProcedureContext(f.name)
		if ctx == nil {
			continue
		}

		if use, ok := ctx.FieldsUsed[fieldName]; ok {
			for _, op := range use.Operations {
				trace.Path = append(trace.Path, TraceStep{
					Procedure: f.name,
					Operation: op,
					Context:   StepContext{Field: fieldName, Usage: use},
					Depth:     f.depth,
				})
				if op == "transform" {
					for _, tf := range use.Transformations {
						trace.Transformations = appendUnique(trace.Transformations, tf)
					}
				}
			}
			if containsOp(use.Operations, "write") {
				trace.Sources = append(trace.Sources, f.name)
			}
			if containsOp(use.Operations, "read") {
				trace.Destinations = append(trace.Destinations, f.name)
			}
		}

		// Table-column sources for this procedure are recorded after the
		// callee subtrees, same layering as the crawl.
		stack = append(stack, &traceFrame{phase: tablesPhase, name: f.name, depth: f.depth, ctx: ctx})
		for i := len(ctx.CalledProcedures) - 1; i >= 0; i-- {
			stack = append(stack, &traceFrame{phase: expandPhase, name: ctx.CalledProcedures[i], depth: f.depth + 1})
		}
	}

	slog.Debug("crawler.trace", "field", fieldName, "start", startProcedure,
		"steps", len(trace.Path), "sources", len(trace.Sources), "destinations", len(trace.Destinations))
	return trace
}

// traceTables records read_from_table steps for each accessed table whose
// columns include the traced field.
func (c *Crawler) traceTables(trace *TracePath, f *traceFrame) {
	for _, table := range f.ctx.CalledTables {
		info := c.g.GetTableInfo(table)
		if info == nil {
			continue
		}
		for _, col := range info.Columns {
			if col.Name != trace.FieldName {
				continue
			}
			trace.Sources = append(trace.Sources, table+" (table)")
			trace.Path = append(trace.Path, TraceStep{
				Procedure: f.name,
				Operation: "read_from_table",
				Context:   StepContext{Table: table, Field: trace.FieldName, ColumnInfo: &col},
				Depth:     f.depth,
			})
		}
	}
}

// FieldEndpoint is one place a field is produced or consumed.
type FieldEndpoint struct {
	Type         string `json:"type"` // procedure or table
	Name         string `json:"name"`
	Field        string `json:"field"`
	Operation    string `json:"operation,omitempty"`
	DataType     string `json:"data_type,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key,omitempty"`
}

// FindFieldSources lists procedures that write the field and tables that
// define it as a column. Non-recursive: a flat usage and column scan.
func (c *Crawler) FindFieldSources(fieldName string, maxResults int) []FieldEndpoint {
	var sources []FieldEndpoint

	usages := c.g.QueryFieldUsage(fieldName, "")
	if len(usages) > maxResults {
		usages = usages[:maxResults]
	}
	for _, u := range usages {
		if containsOp(u.Usage.Operations, "write") {
			sources = append(sources, FieldEndpoint{
				Type:      "procedure",
				Name:      u.Procedure,
				Field:     fieldName,
				Operation: "write",
			})
		}
	}

	for _, hit := range c.g.FindTablesWithColumn(fieldName) {
		sources = append(sources, FieldEndpoint{
			Type:         "table",
			Name:         hit.TableID,
			Field:        fieldName,
			DataType:     hit.Column.DataType,
			IsPrimaryKey: hit.Column.IsPrimaryKey,
		})
	}

	if len(sources) > maxResults {
		sources = sources[:maxResults]
	}
	return sources
}

// FindFieldDestinations lists procedures that read the field.
func (c *Crawler) FindFieldDestinations(fieldName string, maxResults int) []FieldEndpoint {
	var destinations []FieldEndpoint

	usages := c.g.QueryFieldUsage(fieldName, "")
	if len(usages) > maxResults {
		usages = usages[:maxResults]
	}
	for _, u := range usages {
		if containsOp(u.Usage.Operations, "read") {
			destinations = append(destinations, FieldEndpoint{
				Type:      "procedure",
				Name:      u.Procedure,
				Field:     fieldName,
				Operation: "read",
			})
		}
	}

	if len(destinations) > maxResults {
		destinations = destinations[:maxResults]
	}
	return destinations
}

// FieldFlow is the combined source/destination/trace view of one field.
type FieldFlow struct {
	FieldName         string          `json:"field_name"`
	Sources           []FieldEndpoint `json:"sources"`
	Destinations      []FieldEndpoint `json:"destinations"`
	Trace             *TracePath      `json:"trace,omitempty"`
	TotalSources      int             `json:"total_sources"`
	TotalDestinations int             `json:"total_destinations"`
}

// AnalyzeFieldFlow combines the flat endpoint scans with an optional
// recursive trace from startProcedure.
func (c *Crawler) AnalyzeFieldFlow(fieldName, startProcedure string) *FieldFlow {
	const maxResults = 10

	flow := &FieldFlow{
		FieldName:    fieldName,
		Sources:      c.FindFieldSources(fieldName, maxResults),
		Destinations: c.FindFieldDestinations(fieldName, maxResults),
	}
	if startProcedure != "" {
		flow.Trace = c.TraceField(fieldName, startProcedure, defaultTraceDepth)
	}
	flow.TotalSources = len(flow.Sources)
	flow.TotalDestinations = len(flow.Destinations)
	return flow
}

func containsOp(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
