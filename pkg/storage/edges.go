package storage

import "regexp"

// Content references take the wiki-link form [[target]] or [[type:target]],
// e.g. [[blocks:feat-a1b2c3d4e5f6]]. The target must be a collection-prefixed
// node ID. References with no explicit type become "ref" edges.
var refPattern = regexp.MustCompile(`\[\[(?:([a-z][a-z-]*):)?((?:feat|sess|track)-[0-9a-f]+)\]\]`)

// DefaultEdgeType is the type assigned to untyped content references.
const DefaultEdgeType = "ref"

// ExtractEdges scans a node's content body for embedded cross-references and
// returns the outgoing edges, in content order.
//
// Edges are derived, not stored: they are recomputed whenever the
// referencing node is (re)loaded, so content edits and edge state can never
// drift apart. A reference to an ID that is not currently indexed is
// returned with Dangling set rather than treated as an error; both endpoints
// of an edge need not exist at all times.
func (e *FileEngine) ExtractEdges(node *Node) []*Edge {
	if node == nil || node.Content == "" {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	matches := refPattern.FindAllStringSubmatch(node.Content, -1)
	if len(matches) == 0 {
		return nil
	}

	edges := make([]*Edge, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		edgeType, target := m[1], NodeID(m[2])
		if edgeType == "" {
			edgeType = DefaultEdgeType
		}
		// One edge per (type, target) pair; repeated mentions collapse.
		key := edgeType + "\x00" + string(target)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		_, resolved := e.nodes[target]
		edges = append(edges, &Edge{
			From:     node.ID,
			To:       target,
			Type:     edgeType,
			Weight:   1,
			Dangling: !resolved,
		})
	}
	return edges
}

// UnresolvedEdges returns every dangling edge in the store, grouped in
// canonical node order. Useful for integrity reports.
func (e *FileEngine) UnresolvedEdges() []*Edge {
	var out []*Edge
	for _, node := range e.AllNodes() {
		for _, edge := range e.ExtractEdges(node) {
			if edge.Dangling {
				out = append(out, edge)
			}
		}
	}
	return out
}
