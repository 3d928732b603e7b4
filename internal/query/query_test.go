package query

import (
	"context"
	"testing"

	"finderskeepers/internal/config"
	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
)

func newTestManager() databases.Manager {
	return databases.Manager{
		Search:  databases.NewMemorySearch(),
		Vector:  databases.NewMemoryVector(),
		Graph:   databases.NewMemoryGraph(),
		Records: databases.NewMemoryRecords(),
	}
}

func TestQuery_CollapsesSameDocumentChunks(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager()

	mgr.Search.Index(ctx, "chunk:doc1:0", "golang channels are great for concurrency", map[string]string{"doc_id": "doc1"})
	mgr.Search.Index(ctx, "chunk:doc1:1", "channels channels channels concurrency pattern", map[string]string{"doc_id": "doc1"})
	mgr.Search.Index(ctx, "chunk:doc2:0", "unrelated document about gardening", map[string]string{"doc_id": "doc2"})

	e := New(mgr, nil, config.QueryConfig{DefaultK: 10, RRFK: 60, SameDocBonus: 0.01, SameDocCap: 3})
	resp, err := e.Query(ctx, Request{Query: "channels concurrency", Mode: ModeKeyword, TopK: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Items) == 0 {
		t.Fatal("expected at least one result")
	}
	seen := map[string]bool{}
	for _, it := range resp.Items {
		if seen[it.DocumentID] {
			t.Fatalf("document %s appeared more than once, collapse failed", it.DocumentID)
		}
		seen[it.DocumentID] = true
	}
	if !seen["doc1"] {
		t.Fatalf("expected doc1 present in results: %+v", resp.Items)
	}
}

func TestQuery_DeterministicTieBreak(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager()
	mgr.Search.Index(ctx, "chunk:docB:0", "same score term", map[string]string{"doc_id": "docB"})
	mgr.Search.Index(ctx, "chunk:docA:0", "same score term", map[string]string{"doc_id": "docA"})

	e := New(mgr, nil, config.QueryConfig{DefaultK: 10, RRFK: 60, SameDocBonus: 0.01, SameDocCap: 3})
	resp, err := e.Query(ctx, Request{Query: "same score term", Mode: ModeKeyword, TopK: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Items) < 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Items))
	}
	if resp.Items[0].Score == resp.Items[1].Score && resp.Items[0].DocumentID > resp.Items[1].DocumentID {
		t.Fatalf("expected ascending document_id on tied scores, got order %s then %s", resp.Items[0].DocumentID, resp.Items[1].DocumentID)
	}
}

func TestQuery_GraphAugmentedAddsRelatedDocument(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager()
	mgr.Search.Index(ctx, "chunk:doc1:0", "postgres indexing strategies", map[string]string{"doc_id": "doc1"})

	if err := mgr.Graph.UpsertNode(ctx, "doc1", []string{string(model.EntityDocument)}, nil); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Graph.UpsertNode(ctx, "doc2", []string{string(model.EntityDocument)}, nil); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Graph.UpsertEdge(ctx, "doc1", string(model.RelRelatesTo), "doc2", nil); err != nil {
		t.Fatal(err)
	}

	e := New(mgr, nil, config.QueryConfig{DefaultK: 10, RRFK: 60, SameDocBonus: 0.01, SameDocCap: 3, GraphBoost: 0.2, GraphTopN: 10, GraphMaxPerSeed: 5})
	resp, err := e.Query(ctx, Request{Query: "postgres indexing", Mode: ModeGraphAugmented, TopK: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, it := range resp.Items {
		if it.DocumentID == "doc2" {
			found = true
			if it.Provenance["graph_expanded_from"] != "doc1" {
				t.Fatalf("expected provenance to name doc1 as the seed, got %+v", it.Provenance)
			}
		}
	}
	if !found {
		t.Fatalf("expected doc2 to be added via one-hop RELATES_TO expansion, got %+v", resp.Items)
	}
}

func TestQuery_DefaultsTopKFromConfig(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager()
	for i := 0; i < 3; i++ {
		mgr.Search.Index(ctx, "chunk:doc"+string(rune('A'+i))+":0", "shared keyword", map[string]string{"doc_id": "doc" + string(rune('A'+i))})
	}
	e := New(mgr, nil, config.QueryConfig{DefaultK: 2, RRFK: 60, SameDocBonus: 0.01, SameDocCap: 3})
	resp, err := e.Query(ctx, Request{Query: "shared keyword", Mode: ModeKeyword})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(resp.Items) > 2 {
		t.Fatalf("expected at most DefaultK=2 results, got %d", len(resp.Items))
	}
}
