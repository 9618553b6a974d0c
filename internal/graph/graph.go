// Package graph implements the procedure knowledge graph: a directed
// multigraph of procedures, tables and fields keyed by qualified name
// (schema.name), with JSON snapshot persistence.
package graph

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeProcedure NodeType = "procedure"
	NodeTable     NodeType = "table"
	NodeField     NodeType = "field"
)

// EdgeType classifies graph edges.
type EdgeType string

const (
	EdgeCalls      EdgeType = "calls"      // procedure -> procedure
	EdgeAccesses   EdgeType = "accesses"   // procedure -> table
	EdgeReferences EdgeType = "references" // table -> table (foreign key)
	EdgeBelongsTo  EdgeType = "belongs_to" // field -> table
)

// DefaultSchema is used when a record carries no schema qualifier.
const DefaultSchema = "UNKNOWN"

// Parameter is one procedure parameter in declaration order.
type Parameter struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Direction string `json:"direction"` // IN, OUT, IN_OUT
	Position  int    `json:"position"`
}

// UseContext records one concrete occurrence of a field in source code.
type UseContext struct {
	Type    string `json:"type"` // select, insert, update
	Context string `json:"context"`
}

// FieldUse aggregates how a procedure uses one field.
type FieldUse struct {
	Operations      []string     `json:"operations"` // read, write, transform
	Transformations []string     `json:"transformations"`
	Contexts        []UseContext `json:"contexts"`
}

// Column describes one table column.
type Column struct {
	Name             string `json:"name"`
	DataType         string `json:"data_type"`
	Nullable         bool   `json:"nullable"`
	IsPrimaryKey     bool   `json:"is_primary_key"`
	IsForeignKey     bool   `json:"is_foreign_key"`
	ForeignKeyTable  string `json:"foreign_key_table,omitempty"`
	ForeignKeyColumn string `json:"foreign_key_column,omitempty"`
	DefaultValue     string `json:"default_value,omitempty"`
	Comment          string `json:"comment,omitempty"`
}

// ForeignKey describes one foreign-key constraint on a table.
type ForeignKey struct {
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
}

// Index describes one table index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Procedure is the attribute record of a procedure node.
type Procedure struct {
	Name            string               `json:"name"`
	Schema          string               `json:"schema"`
	Parameters      []Parameter          `json:"parameters"`
	BusinessLogic   string               `json:"business_logic"`
	ComplexityScore int                  `json:"complexity_score"`
	SourceCode      string               `json:"source_code"`
	FieldsUsed      map[string]*FieldUse `json:"fields_used"`
	DependencyLevel int                  `json:"dependency_level"`
	UpdatedAt       string               `json:"updated_at"`
}

// Table is the attribute record of a table node.
type Table struct {
	Name            string       `json:"name"`
	Schema          string       `json:"schema"`
	Columns         []Column     `json:"columns"`
	ForeignKeys     []ForeignKey `json:"foreign_keys"`
	Indexes         []Index      `json:"indexes"`
	BusinessPurpose string       `json:"business_purpose"`
	ComplexityScore int          `json:"complexity_score"`
	RowCount        int64        `json:"row_count"`
	UpdatedAt       string       `json:"updated_at"`
}

// Field is the attribute record of a field node.
type Field struct {
	FieldName    string         `json:"field_name"`
	TableName    string         `json:"table_name"`
	DataType     string         `json:"data_type"`
	IsPrimaryKey bool           `json:"is_primary_key"`
	IsForeignKey bool           `json:"is_foreign_key"`
	UsageInfo    map[string]any `json:"usage_info"`
	UpdatedAt    string         `json:"updated_at"`
}

// Node is one graph node. Exactly one of Procedure/Table/Field is set,
// matching Type.
type Node struct {
	ID        string
	Type      NodeType
	Procedure *Procedure
	Table     *Table
	Field     *Field
}

// Edge is one directed edge. Edges store target ids, not node pointers, so
// an edge to a not-yet-created node is legal and resolves once that node
// appears. Key disambiguates parallel edges between the same pair.
type Edge struct {
	Source            string   `json:"source"`
	Target            string   `json:"target"`
	Key               int      `json:"key"`
	Type              EdgeType `json:"edge_type"`
	Relationship      string   `json:"relationship"`
	Columns           []string `json:"columns,omitempty"`
	ReferencedColumns []string `json:"referenced_columns,omitempty"`
}

// Metadata carries snapshot bookkeeping. Timestamps are ISO 8601 or null.
type Metadata struct {
	CreatedAt *string `json:"created_at"`
	UpdatedAt *string `json:"updated_at"`
	Version   string  `json:"version"`
}

// Graph is the in-memory knowledge graph. All exported methods are safe for
// concurrent use; ingestion is expected to be single-writer.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	order     []string // node ids in insertion order
	edges     []*Edge
	out       map[string][]*Edge
	in        map[string][]*Edge
	pairKeys  map[string]int // "src\x00tgt" -> next multigraph key
	meta      Metadata
	cachePath string
}

// New creates a graph backed by the given snapshot path and loads any
// existing snapshot. A missing or corrupt snapshot degrades to an empty
// graph; New never fails.
func New(cachePath string) *Graph {
	g := &Graph{
		nodes:     make(map[string]*Node),
		out:       make(map[string][]*Edge),
		in:        make(map[string][]*Edge),
		pairKeys:  make(map[string]int),
		meta:      Metadata{Version: "1.0.0"},
		cachePath: cachePath,
	}
	g.LoadFromCache()
	return g
}

// now returns the current time in ISO 8601 format.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (g *Graph) touch() {
	ts := now()
	g.meta.UpdatedAt = &ts
}

// QualifiedName joins schema and name, substituting DefaultSchema when the
// schema is empty.
func QualifiedName(schema, name string) string {
	if schema == "" {
		schema = DefaultSchema
	}
	return schema + "." + name
}

// SplitQualified splits a qualified name into schema and bare name. Names
// without a qualifier get DefaultSchema.
func SplitQualified(qualified string) (schema, name string) {
	if i := strings.Index(qualified, "."); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return DefaultSchema, qualified
}

// ProcedureInput is the fact payload for AddProcedure.
type ProcedureInput struct {
	Name             string
	Schema           string
	Parameters       []Parameter
	CalledProcedures []string
	CalledTables     []string
	BusinessLogic    string
	ComplexityScore  int
	SourceCode       string
	FieldsUsed       map[string]*FieldUse
}

// TableInput is the fact payload for AddTable.
type TableInput struct {
	Name            string
	Schema          string
	Columns         []Column
	ForeignKeys     []ForeignKey
	Indexes         []Index
	BusinessPurpose string
	ComplexityScore int
	RowCount        int64
}

// FieldInput is the fact payload for AddFieldUsage.
type FieldInput struct {
	FieldName    string
	TableName    string
	DataType     string
	IsPrimaryKey bool
	IsForeignKey bool
	UsageInfo    map[string]any
}

// AddProcedure upserts a procedure node and appends calls/accesses edges for
// each dependency, even when the targets do not exist yet. Re-adding a
// procedure overwrites its scalar attributes but never retracts previously
// added edges (edges are append-only).
func (g *Graph) AddProcedure(in ProcedureInput) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	schema := in.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	id := schema + "." + in.Name

	rec := &Procedure{
		Name:            in.Name,
		Schema:          schema,
		Parameters:      in.Parameters,
		BusinessLogic:   in.BusinessLogic,
		ComplexityScore: in.ComplexityScore,
		SourceCode:      in.SourceCode,
		FieldsUsed:      in.FieldsUsed,
		UpdatedAt:       now(),
	}
	if rec.FieldsUsed == nil {
		rec.FieldsUsed = map[string]*FieldUse{}
	}
	// dependency_level is owned by the resolver; carry it across upserts.
	if prev := g.nodes[id]; prev != nil && prev.Procedure != nil {
		rec.DependencyLevel = prev.Procedure.DependencyLevel
	}
	g.putNode(&Node{ID: id, Type: NodeProcedure, Procedure: rec})

	for _, callee := range in.CalledProcedures {
		g.addEdge(&Edge{Source: id, Target: callee, Type: EdgeCalls, Relationship: "procedure_call"})
	}
	for _, table := range in.CalledTables {
		g.addEdge(&Edge{Source: id, Target: table, Type: EdgeAccesses, Relationship: "table_access"})
	}

	g.touch()
	slog.Debug("graph.add_procedure", "id", id,
		"calls", len(in.CalledProcedures), "accesses", len(in.CalledTables))
	return id
}

// AddTable upserts a table node and appends references edges derived from
// its foreign keys.
func (g *Graph) AddTable(in TableInput) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	schema := in.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	id := schema + "." + in.Name

	rec := &Table{
		Name:            in.Name,
		Schema:          schema,
		Columns:         in.Columns,
		ForeignKeys:     in.ForeignKeys,
		Indexes:         in.Indexes,
		BusinessPurpose: in.BusinessPurpose,
		ComplexityScore: in.ComplexityScore,
		RowCount:        in.RowCount,
		UpdatedAt:       now(),
	}
	g.putNode(&Node{ID: id, Type: NodeTable, Table: rec})

	for _, fk := range in.ForeignKeys {
		if fk.ReferencedTable == "" {
			continue
		}
		g.addEdge(&Edge{
			Source:            id,
			Target:            fk.ReferencedTable,
			Type:              EdgeReferences,
			Relationship:      "foreign_key",
			Columns:           fk.Columns,
			ReferencedColumns: fk.ReferencedColumns,
		})
	}

	g.touch()
	slog.Debug("graph.add_table", "id", id, "columns", len(in.Columns))
	return id
}

// AddFieldUsage upserts a field node and links it to its owning table.
func (g *Graph) AddFieldUsage(in FieldInput) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	tableName := in.TableName
	if tableName == "" {
		tableName = DefaultSchema
	}
	id := tableName + "." + in.FieldName

	rec := &Field{
		FieldName:    in.FieldName,
		TableName:    tableName,
		DataType:     in.DataType,
		IsPrimaryKey: in.IsPrimaryKey,
		IsForeignKey: in.IsForeignKey,
		UsageInfo:    in.UsageInfo,
		UpdatedAt:    now(),
	}
	if rec.UsageInfo == nil {
		rec.UsageInfo = map[string]any{}
	}
	g.putNode(&Node{ID: id, Type: NodeField, Field: rec})

	if tableName != DefaultSchema {
		g.addEdge(&Edge{Source: id, Target: tableName, Type: EdgeBelongsTo, Relationship: "field_of_table"})
	}

	g.touch()
	return id
}

// putNode inserts or replaces a node, preserving insertion order on upsert.
// Caller holds the write lock.
func (g *Graph) putNode(n *Node) {
	if _, ok := g.nodes[n.ID]; !ok {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}

// addEdge appends an edge, assigning the next multigraph key for the pair.
// Caller holds the write lock.
func (g *Graph) addEdge(e *Edge) {
	pair := e.Source + "\x00" + e.Target
	e.Key = g.pairKeys[pair]
	g.pairKeys[pair] = e.Key + 1
	g.edges = append(g.edges, e)
	g.out[e.Source] = append(g.out[e.Source], e)
	g.in[e.Target] = append(g.in[e.Target], e)
}

// findNode resolves a name to a node of the given type: exact id first, then
// suffix match (".name") or bare attribute-name match. Caller holds a lock.
func (g *Graph) findNode(name string, typ NodeType) *Node {
	if n, ok := g.nodes[name]; ok && n.Type == typ {
		return n
	}
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Type != typ {
			continue
		}
		if strings.HasSuffix(id, "."+name) || g.bareName(n) == name {
			return n
		}
	}
	return nil
}

func (g *Graph) bareName(n *Node) string {
	switch n.Type {
	case NodeProcedure:
		return n.Procedure.Name
	case NodeTable:
		return n.Table.Name
	case NodeField:
		return n.Field.FieldName
	}
	return ""
}

// ProcedureContext is the full resolved view of a procedure node.
type ProcedureContext struct {
	Name             string               `json:"name"`
	Schema           string               `json:"schema"`
	FullName         string               `json:"full_name"`
	Parameters       []Parameter          `json:"parameters"`
	BusinessLogic    string               `json:"business_logic"`
	ComplexityScore  int                  `json:"complexity_score"`
	DependencyLevel  int                  `json:"dependency_level"`
	CalledProcedures []string             `json:"called_procedures"`
	CalledTables     []string             `json:"called_tables"`
	FieldsUsed       map[string]*FieldUse `json:"fields_used"`
	SourceCode       string               `json:"source_code"`
}

// GetProcedureContext resolves a procedure by exact id, suffix or bare name.
// Returns nil on miss — absence is data here, never an error.
func (g *Graph) GetProcedureContext(name string) *ProcedureContext {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := g.findNode(name, NodeProcedure)
	if n == nil {
		return nil
	}

	var calledProcs, calledTables []string
	for _, e := range g.out[n.ID] {
		switch e.Type {
		case EdgeCalls:
			calledProcs = append(calledProcs, e.Target)
		case EdgeAccesses:
			calledTables = append(calledTables, e.Target)
		}
	}

	p := n.Procedure
	return &ProcedureContext{
		Name:             p.Name,
		Schema:           p.Schema,
		FullName:         n.ID,
		Parameters:       p.Parameters,
		BusinessLogic:    p.BusinessLogic,
		ComplexityScore:  p.ComplexityScore,
		DependencyLevel:  p.DependencyLevel,
		CalledProcedures: calledProcs,
		CalledTables:     calledTables,
		FieldsUsed:       p.FieldsUsed,
		SourceCode:       p.SourceCode,
	}
}

// TableDetails is the full resolved view of a table node.
type TableDetails struct {
	Name            string              `json:"name"`
	Schema          string              `json:"schema"`
	FullName        string              `json:"full_name"`
	Columns         []Column            `json:"columns"`
	ForeignKeys     []ForeignKey        `json:"foreign_keys"`
	Indexes         []Index             `json:"indexes"`
	BusinessPurpose string              `json:"business_purpose"`
	ComplexityScore int                 `json:"complexity_score"`
	RowCount        int64               `json:"row_count"`
	Relationships   map[string][]string `json:"relationships"`
}

// GetTableInfo resolves a table by exact id, suffix or bare name.
// Returns nil on miss.
func (g *Graph) GetTableInfo(name string) *TableDetails {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := g.findNode(name, NodeTable)
	if n == nil {
		return nil
	}

	relationships := map[string][]string{}
	for _, e := range g.out[n.ID] {
		rel := e.Relationship
		if rel == "" {
			rel = "unknown"
		}
		relationships[rel] = append(relationships[rel], e.Target)
	}

	t := n.Table
	return &TableDetails{
		Name:            t.Name,
		Schema:          t.Schema,
		FullName:        n.ID,
		Columns:         t.Columns,
		ForeignKeys:     t.ForeignKeys,
		Indexes:         t.Indexes,
		BusinessPurpose: t.BusinessPurpose,
		ComplexityScore: t.ComplexityScore,
		RowCount:        t.RowCount,
		Relationships:   relationships,
	}
}

// GetCallers returns the sorted ids of procedures with a calls edge into the
// named procedure. Empty on miss.
func (g *Graph) GetCallers(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := g.findNode(name, NodeProcedure)
	if n == nil {
		return nil
	}

	seen := map[string]bool{}
	var callers []string
	for _, e := range g.in[n.ID] {
		if e.Type == EdgeCalls && !seen[e.Source] {
			seen[e.Source] = true
			callers = append(callers, e.Source)
		}
	}
	sort.Strings(callers)
	return callers
}

// FieldUsageResult is one procedure's recorded usage of a field.
type FieldUsageResult struct {
	Procedure string    `json:"procedure"`
	Field     string    `json:"field"`
	Usage     *FieldUse `json:"usage"`
}

// QueryFieldUsage scans procedure fields_used records for a field, optionally
// scoped to procedures whose id ends with procedureName.
func (g *Graph) QueryFieldUsage(fieldName, procedureName string) []FieldUsageResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var results []FieldUsageResult
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Type != NodeProcedure {
			continue
		}
		if procedureName != "" && !strings.HasSuffix(id, procedureName) {
			continue
		}
		if use, ok := n.Procedure.FieldsUsed[fieldName]; ok {
			results = append(results, FieldUsageResult{Procedure: id, Field: fieldName, Usage: use})
		}
	}
	return results
}

// FieldUsageSummary splits field usage into readers and writers.
type FieldUsageSummary struct {
	ReadBy     []string `json:"read_by"`
	WrittenBy  []string `json:"written_by"`
	Procedures []string `json:"procedures"`
}

// GetFieldUsage reports which procedures read or write a field.
func (g *Graph) GetFieldUsage(fieldName string) FieldUsageSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	summary := FieldUsageSummary{}
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Type != NodeProcedure {
			continue
		}
		use, ok := n.Procedure.FieldsUsed[fieldName]
		if !ok {
			continue
		}
		summary.Procedures = append(summary.Procedures, id)
		for _, op := range use.Operations {
			switch op {
			case "read":
				summary.ReadBy = appendUnique(summary.ReadBy, id)
			case "write":
				summary.WrittenBy = appendUnique(summary.WrittenBy, id)
			}
		}
	}
	return summary
}

// GetFieldRelationships collects outgoing relationships of all field nodes
// with the given bare field name.
func (g *Graph) GetFieldRelationships(fieldName string) map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	relationships := map[string][]string{}
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Type != NodeField || n.Field.FieldName != fieldName {
			continue
		}
		for _, e := range g.out[id] {
			rel := e.Relationship
			if rel == "" {
				rel = "unknown"
			}
			relationships[rel] = append(relationships[rel], e.Target)
		}
	}
	return relationships
}

// TableColumnHit is a table whose schema contains a given column.
type TableColumnHit struct {
	TableID string
	Column  Column
}

// FindTablesWithColumn scans table nodes for a column by name.
func (g *Graph) FindTablesWithColumn(columnName string) []TableColumnHit {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var hits []TableColumnHit
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Type != NodeTable {
			continue
		}
		for _, col := range n.Table.Columns {
			if col.Name == columnName {
				hits = append(hits, TableColumnHit{TableID: id, Column: col})
			}
		}
	}
	return hits
}

// ProcedureIDs returns all procedure node ids in insertion order.
func (g *Graph) ProcedureIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if g.nodes[id].Type == NodeProcedure {
			ids = append(ids, id)
		}
	}
	return ids
}

// HasProcedure reports whether id resolves to a tracked procedure node by
// exact id only.
func (g *Graph) HasProcedure(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && n.Type == NodeProcedure
}

// EdgesOfType returns a copy of all edges with any of the given types, in
// insertion order.
func (g *Graph) EdgesOfType(types ...EdgeType) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Edge
	for _, e := range g.edges {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// SetDependencyLevel writes a resolver-computed level into a procedure node.
// Unknown ids are ignored.
func (g *Graph) SetDependencyLevel(id string, level int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok && n.Type == NodeProcedure {
		n.Procedure.DependencyLevel = level
	}
}

// UpdatedAt returns the metadata updated_at timestamp, or the empty string if
// the graph was never mutated. Downstream consumers poll this for staleness.
func (g *Graph) UpdatedAt() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.meta.UpdatedAt == nil {
		return ""
	}
	return *g.meta.UpdatedAt
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Clear removes all nodes and edges. There is no per-node delete.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]*Node)
	g.order = nil
	g.edges = nil
	g.out = make(map[string][]*Edge)
	g.in = make(map[string][]*Edge)
	g.pairKeys = make(map[string]int)
	g.touch()
	slog.Info("graph.clear")
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
