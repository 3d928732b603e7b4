package databases

import (
	"context"
	"sort"
	"sync"
)

type edgeKey struct{ src, rel string }

type memoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[edgeKey]map[string]map[string]any // key:(src,rel) -> dst -> props
}

func NewMemoryGraph() GraphDB {
	return &memoryGraph{
		nodes: make(map[string]Node),
		edges: make(map[edgeKey]map[string]map[string]any),
	}
}

func (m *memoryGraph) UpsertNode(_ context.Context, id string, labels []string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.nodes[id] = Node{ID: id, Labels: append([]string{}, labels...), Props: cp}
	return nil
}

func (m *memoryGraph) UpsertEdge(_ context.Context, srcID, rel, dstID string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{src: srcID, rel: rel}
	m.ensureEdgeKey(key)
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.edges[key][dstID] = cp
	return nil
}

func (m *memoryGraph) Neighbors(_ context.Context, id string, rel string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := edgeKey{src: id, rel: rel}
	var out []string
	if dsts, ok := m.edges[key]; ok {
		for dst := range dsts {
			out = append(out, dst)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryGraph) GetNode(_ context.Context, id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

func (m *memoryGraph) ensureEdgeKey(k edgeKey) {
	if _, ok := m.edges[k]; !ok {
		m.edges[k] = make(map[string]map[string]any)
	}
}

// TagOverlapPairs returns (documentA, documentB) ids sharing at least
// minShared MENTIONS->Tag neighbors, a candidate set for RELATES_TO edges.
func (m *memoryGraph) TagOverlapPairs(_ context.Context, minShared int) ([][2]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tagsByDoc := make(map[string]map[string]bool)
	for key, dsts := range m.edges {
		if key.rel != "MENTIONS" {
			continue
		}
		n, ok := m.nodes[key.src]
		if !ok || !hasLabel(n.Labels, "Document") {
			continue
		}
		set := tagsByDoc[key.src]
		if set == nil {
			set = make(map[string]bool)
			tagsByDoc[key.src] = set
		}
		for tag := range dsts {
			set[tag] = true
		}
	}

	var docs []string
	for d := range tagsByDoc {
		docs = append(docs, d)
	}
	sort.Strings(docs)

	var pairs [][2]string
	for i := 0; i < len(docs); i++ {
		for j := i + 1; j < len(docs); j++ {
			shared := 0
			for tag := range tagsByDoc[docs[i]] {
				if tagsByDoc[docs[j]][tag] {
					shared++
				}
			}
			if shared >= minShared {
				pairs = append(pairs, [2]string{docs[i], docs[j]})
			}
		}
	}
	return pairs, nil
}

// PruneOrphanTagNodes deletes Tag nodes with no incoming MENTIONS edge.
func (m *memoryGraph) PruneOrphanTagNodes(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	referenced := make(map[string]bool)
	for key, dsts := range m.edges {
		if key.rel != "MENTIONS" {
			continue
		}
		for dst := range dsts {
			referenced[dst] = true
		}
	}

	removed := 0
	for id, n := range m.nodes {
		if hasLabel(n.Labels, "Tag") && !referenced[id] {
			delete(m.nodes, id)
			removed++
		}
	}
	return removed, nil
}

// ListNodeIDsByLabel returns every node id carrying the given label.
func (m *memoryGraph) ListNodeIDsByLabel(_ context.Context, label string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, n := range m.nodes {
		if hasLabel(n.Labels, label) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeleteNodes removes the given node ids. Used by the GC sweep once the
// caller has confirmed, via RecordStore, that the underlying row is gone.
func (m *memoryGraph) DeleteNodes(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, ok := m.nodes[id]; ok {
			delete(m.nodes, id)
			removed++
		}
	}
	return removed, nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
