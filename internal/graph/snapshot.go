package graph

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// snapshot is the persisted wire format. Node attribute payloads are kept as
// raw JSON so each node_type round-trips through its own record struct.
type snapshot struct {
	Metadata Metadata          `json:"metadata"`
	Nodes    []json.RawMessage `json:"nodes"`
	Edges    []*Edge           `json:"edges"`
}

// nodeEnvelope carries the discriminator fields of a snapshot node.
type nodeEnvelope struct {
	ID       string   `json:"id"`
	NodeType NodeType `json:"node_type"`
}

// marshalNode flattens a node into {"id", "node_type", ...record attrs}.
func marshalNode(n *Node) (json.RawMessage, error) {
	var rec any
	switch n.Type {
	case NodeProcedure:
		rec = n.Procedure
	case NodeTable:
		rec = n.Table
	case NodeField:
		rec = n.Field
	}

	attrs, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	flat := map[string]any{}
	if err := json.Unmarshal(attrs, &flat); err != nil {
		return nil, err
	}
	flat["id"] = n.ID
	flat["node_type"] = n.Type
	return json.Marshal(flat)
}

// unmarshalNode rebuilds a node from its flattened snapshot form.
func unmarshalNode(raw json.RawMessage) (*Node, error) {
	var env nodeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	n := &Node{ID: env.ID, Type: env.NodeType}
	switch env.NodeType {
	case NodeTable:
		n.Table = &Table{}
		if err := json.Unmarshal(raw, n.Table); err != nil {
			return nil, err
		}
	case NodeField:
		n.Field = &Field{}
		if err := json.Unmarshal(raw, n.Field); err != nil {
			return nil, err
		}
	default:
		// Treat unknown node types as procedures, the dominant kind.
		n.Type = NodeProcedure
		n.Procedure = &Procedure{FieldsUsed: map[string]*FieldUse{}}
		if err := json.Unmarshal(raw, n.Procedure); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// SaveToCache writes the whole graph to the snapshot file, overwriting it
// wholesale. I/O failures are logged and swallowed — the process keeps
// running in-memory-only.
func (g *Graph) SaveToCache() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := snapshot{
		Metadata: g.meta,
		Nodes:    make([]json.RawMessage, 0, len(g.order)),
		Edges:    g.edges,
	}
	if snap.Edges == nil {
		snap.Edges = []*Edge{}
	}
	for _, id := range g.order {
		raw, err := marshalNode(g.nodes[id])
		if err != nil {
			slog.Error("graph.save.marshal.err", "id", id, "err", err)
			return
		}
		snap.Nodes = append(snap.Nodes, raw)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("graph.save.marshal.err", "err", err)
		return
	}

	if dir := filepath.Dir(g.cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("graph.save.mkdir.err", "dir", dir, "err", err)
			return
		}
	}
	if err := os.WriteFile(g.cachePath, data, 0o644); err != nil {
		slog.Error("graph.save.write.err", "path", g.cachePath, "err", err)
		return
	}
	slog.Info("graph.save", "path", g.cachePath, "nodes", len(snap.Nodes), "edges", len(snap.Edges))
}

// LoadFromCache replaces the in-memory graph with the snapshot contents.
// A missing or corrupt file degrades to an empty graph with a log line.
func (g *Graph) LoadFromCache() {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(g.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("graph.load.read.err", "path", g.cachePath, "err", err)
		} else {
			slog.Debug("graph.load.empty", "path", g.cachePath)
		}
		g.resetLocked()
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Error("graph.load.parse.err", "path", g.cachePath, "err", err)
		g.resetLocked()
		return
	}

	nodes := make(map[string]*Node, len(snap.Nodes))
	var order []string
	for _, raw := range snap.Nodes {
		n, err := unmarshalNode(raw)
		if err != nil {
			slog.Error("graph.load.node.err", "path", g.cachePath, "err", err)
			g.resetLocked()
			return
		}
		if _, ok := nodes[n.ID]; !ok {
			order = append(order, n.ID)
		}
		nodes[n.ID] = n
	}

	g.nodes = nodes
	g.order = order
	g.edges = nil
	g.out = make(map[string][]*Edge)
	g.in = make(map[string][]*Edge)
	g.pairKeys = make(map[string]int)
	for _, e := range snap.Edges {
		g.edges = append(g.edges, e)
		g.out[e.Source] = append(g.out[e.Source], e)
		g.in[e.Target] = append(g.in[e.Target], e)
		pair := e.Source + "\x00" + e.Target
		if e.Key >= g.pairKeys[pair] {
			g.pairKeys[pair] = e.Key + 1
		}
	}
	if snap.Metadata.Version != "" {
		g.meta = snap.Metadata
	} else {
		g.resetMetadataLocked()
	}

	slog.Info("graph.load", "path", g.cachePath, "nodes", len(g.nodes), "edges", len(g.edges))
}

// resetLocked starts an empty graph with fresh metadata. Caller holds the
// write lock.
func (g *Graph) resetLocked() {
	g.nodes = make(map[string]*Node)
	g.order = nil
	g.edges = nil
	g.out = make(map[string][]*Edge)
	g.in = make(map[string][]*Edge)
	g.pairKeys = make(map[string]int)
	g.resetMetadataLocked()
}

func (g *Graph) resetMetadataLocked() {
	ts := now()
	g.meta = Metadata{CreatedAt: &ts, Version: "1.0.0"}
}

// Statistics summarizes graph contents by node and edge type.
type Statistics struct {
	TotalNodes int              `json:"total_nodes"`
	TotalEdges int              `json:"total_edges"`
	NodeTypes  map[NodeType]int `json:"node_types"`
	EdgeTypes  map[EdgeType]int `json:"edge_types"`
	Metadata   Metadata         `json:"metadata"`
}

// Stats returns node/edge counts broken down by type.
func (g *Graph) Stats() Statistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Statistics{
		TotalNodes: len(g.nodes),
		TotalEdges: len(g.edges),
		NodeTypes:  map[NodeType]int{},
		EdgeTypes:  map[EdgeType]int{},
		Metadata:   g.meta,
	}
	for _, n := range g.nodes {
		stats.NodeTypes[n.Type]++
	}
	for _, e := range g.edges {
		stats.EdgeTypes[e.Type]++
	}
	return stats
}
