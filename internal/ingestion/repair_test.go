package ingestion

import (
	"context"
	"testing"
	"time"

	"finderskeepers/internal/config"
	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
)

func TestRepairWorker_ResumesRVOnlyDocument(t *testing.T) {
	ctx := context.Background()
	mgr := databases.Manager{
		Search:  databases.NewMemorySearch(),
		Vector:  databases.NewMemoryVector(),
		Graph:   databases.NewMemoryGraph(),
		Records: databases.NewMemoryRecords(),
	}
	doc := model.Document{ID: "doc:p:abc", Project: "p", Title: "t", Format: model.FormatText, ContentHash: "abc"}
	if err := mgr.Records.UpsertDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Search.Index(ctx, doc.ID, "some body text", map[string]string{"type": "doc"}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Records.SetIndexState(ctx, doc.ID, model.IndexStateRVOnly); err != nil {
		t.Fatal(err)
	}

	w := NewRepairWorker(mgr, fakeEmbedder{dim: 4}, config.RepairConfig{Interval: time.Hour, MaxAgeH: 0}, nil, nil)
	w.sweep(ctx)

	got, found, err := mgr.Records.GetDocument(ctx, doc.ID)
	if err != nil || !found {
		t.Fatalf("expected document still present: found=%v err=%v", found, err)
	}
	if got.IndexState != model.IndexStateOK {
		t.Fatalf("expected index_state ok after repair, got %s", got.IndexState)
	}
}

func TestGraphMaintainer_RecomputeRelatesToOnSharedTags(t *testing.T) {
	ctx := context.Background()
	g := databases.NewMemoryGraph()
	mgr := databases.Manager{Graph: g, Records: databases.NewMemoryRecords()}

	docA, docB := "doc:p:a", "doc:p:b"
	for _, d := range []string{docA, docB} {
		if err := g.UpsertNode(ctx, d, []string{"Document"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	for _, tag := range []string{"go", "testing"} {
		tagID := "tag:p:" + tag
		if err := g.UpsertNode(ctx, tagID, []string{"Tag"}, nil); err != nil {
			t.Fatal(err)
		}
		for _, d := range []string{docA, docB} {
			if err := g.UpsertEdge(ctx, d, "MENTIONS", tagID, nil); err != nil {
				t.Fatal(err)
			}
		}
	}

	gm := NewGraphMaintainer(mgr, time.Hour, nil)
	gm.recomputeRelatesTo(ctx)

	neighbors, err := g.Neighbors(ctx, docA, "RELATES_TO")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range neighbors {
		if n == docB {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected RELATES_TO edge from %s to %s, got neighbors %v", docA, docB, neighbors)
	}
}

func TestGraphMaintainer_PrunesOrphanTagNode(t *testing.T) {
	ctx := context.Background()
	g := databases.NewMemoryGraph()
	mgr := databases.Manager{Graph: g, Records: databases.NewMemoryRecords()}

	if err := g.UpsertNode(ctx, "tag:p:unused", []string{"Tag"}, nil); err != nil {
		t.Fatal(err)
	}

	gm := NewGraphMaintainer(mgr, time.Hour, nil)
	gm.gcOrphans(ctx)

	if _, ok := g.GetNode(ctx, "tag:p:unused"); ok {
		t.Fatal("expected orphan tag node to be pruned")
	}
}
