package ingestion

import (
	"context"
	"testing"
	"time"

	"finderskeepers/internal/chunker"
	"finderskeepers/internal/config"
	"finderskeepers/internal/extract"
	"finderskeepers/internal/persistence/databases"
)

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}
func (f fakeEmbedder) Name() string        { return "fake" }
func (f fakeEmbedder) Dimension() int      { return f.dim }
func (f fakeEmbedder) Ping(context.Context) error { return nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, databases.Manager) {
	t.Helper()
	mgr := databases.Manager{
		Search:  databases.NewMemorySearch(),
		Vector:  databases.NewMemoryVector(),
		Graph:   databases.NewMemoryGraph(),
		Records: databases.NewMemoryRecords(),
	}
	registry := extract.NewRegistry(extract.Options{})
	c := chunker.New(config.ChunkerConfig{})
	emb := fakeEmbedder{dim: 4}
	o := New(mgr, registry, c, emb, config.IngestionConfig{Workers: 2, QueueCapacity: 16}, nil)
	t.Cleanup(o.Stop)
	return o, mgr
}

func waitForTerminal(t *testing.T, o *Orchestrator, id JobID) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := o.GetJob(id)
		if ok && (job.Status == StatusDone || job.Status == StatusFailed || job.Status == StatusRepairPending) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", id)
	return Job{}
}

func TestIngestItem_PlainTextDocumentSucceeds(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	id, err := o.IngestItem(context.Background(), Item{
		Project:  "proj1",
		Filename: "note.txt",
		Data:     []byte("hello world, this is a note about testing."),
		Tags:     []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("IngestItem: %v", err)
	}
	job := waitForTerminal(t, o, id)
	if job.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", job.Status, job.Error)
	}
	if job.DocumentID == "" {
		t.Fatal("expected a document id to be assigned")
	}
	doc, found, err := mgr.Records.GetDocument(context.Background(), job.DocumentID)
	if err != nil || !found {
		t.Fatalf("expected document persisted, found=%v err=%v", found, err)
	}
	if doc.IndexState != "ok" {
		t.Fatalf("expected index_state ok, got %s", doc.IndexState)
	}
}

func TestIngestItem_DuplicateContentDeduplicates(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	data := []byte("duplicate content for dedup test")
	id1, _ := o.IngestItem(context.Background(), Item{Project: "proj1", Filename: "a.txt", Data: data})
	job1 := waitForTerminal(t, o, id1)
	if job1.Status != StatusDone {
		t.Fatalf("first ingest failed: %s", job1.Error)
	}

	id2, _ := o.IngestItem(context.Background(), Item{Project: "proj1", Filename: "b.txt", Data: data})
	job2 := waitForTerminal(t, o, id2)
	if job2.DocumentID != job1.DocumentID {
		t.Fatalf("expected deduplication onto %s, got %s", job1.DocumentID, job2.DocumentID)
	}
}

func TestIngestItem_DifferentBytesSameNormalizedTextDeduplicates(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	id1, _ := o.IngestItem(context.Background(), Item{
		Project: "proj1", Filename: "a.txt", Data: []byte("line one\nline two\n"),
	})
	job1 := waitForTerminal(t, o, id1)
	if job1.Status != StatusDone {
		t.Fatalf("first ingest failed: %s", job1.Error)
	}

	// Same text, re-saved with CRLF line endings: different raw bytes, but
	// content_hash is computed from normalized text, so this must dedup onto
	// the same document rather than produce a second one.
	id2, _ := o.IngestItem(context.Background(), Item{
		Project: "proj1", Filename: "b.txt", Data: []byte("line one\r\nline two\r\n"),
	})
	job2 := waitForTerminal(t, o, id2)
	if job2.DocumentID != job1.DocumentID {
		t.Fatalf("expected dedup onto %s via content_hash, got %s", job1.DocumentID, job2.DocumentID)
	}

	doc, found, err := mgr.Records.GetDocument(context.Background(), job1.DocumentID)
	if err != nil || !found {
		t.Fatalf("expected document persisted, found=%v err=%v", found, err)
	}
	if doc.ContentHash == "" {
		t.Fatal("expected content_hash to be set on the persisted document")
	}
}

func TestIngestItem_EmptyDocumentProducesSentinelChunk(t *testing.T) {
	o, mgr := newTestOrchestrator(t)
	id, _ := o.IngestItem(context.Background(), Item{Project: "proj1", Filename: "empty.txt", Data: []byte("   \n\n  ")})
	job := waitForTerminal(t, o, id)
	if job.Status != StatusDone {
		t.Fatalf("expected done for blank document, got %s (%s)", job.Status, job.Error)
	}

	results, err := mgr.Vector.SimilaritySearch(context.Background(), make([]float32, 4), 10, map[string]string{"doc_id": job.DocumentID})
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one sentinel chunk vector for the empty document, got %d", len(results))
	}
	if results[0].Metadata["empty"] != "true" {
		t.Fatalf("expected the sentinel chunk to be flagged empty in vector metadata, got %v", results[0].Metadata)
	}
}

func TestIngestItem_UnknownFormatFails(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	// Pure binary noise with no extension and no recognizable magic bytes.
	data := []byte{0x00, 0x01, 0x02, 0xfe, 0xff, 0x00, 0x10, 0x20}
	id, _ := o.IngestItem(context.Background(), Item{Project: "proj1", Filename: "blob.bin", Data: data})
	job := waitForTerminal(t, o, id)
	if job.Status != StatusFailed {
		t.Fatalf("expected failed for unrecognized format, got %s", job.Status)
	}
}

func TestSubscribeProgress_ReceivesTransitions(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id, _ := o.IngestItem(context.Background(), Item{Project: "proj1", Filename: "note.txt", Data: []byte("progress test content")})
	ch, unsub := o.SubscribeProgress(id)
	defer unsub()

	seen := map[Status]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[StatusDone] && !seen[StatusFailed] {
		select {
		case ev := <-ch:
			seen[ev.Status] = true
		case <-deadline:
			t.Fatal("timed out waiting for progress events")
		}
	}
}
