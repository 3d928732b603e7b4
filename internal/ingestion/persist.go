package ingestion

import (
	"context"
	"fmt"

	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
	"finderskeepers/internal/rag/embedder"
	"finderskeepers/internal/rag/ingest"
)

// persistDocument runs the RV -> VI -> GR write sequence and records
// index_state on the RV documents row at each step, so the repair worker
// knows exactly what is left to do after a partial failure. It never
// returns a document in a worse index_state than it started in: a failure
// mid-sequence leaves index_state at the last stage that succeeded and
// returns the error so the caller can move the job to repair_pending
// instead of failed.
func persistDocument(ctx context.Context, mgr databases.Manager, emb embedder.Embedder, doc model.Document, chunks []model.Chunk, text string) error {
	req := toIngestRequest(doc)
	crecs := toChunkRecords(chunks)

	doc.IndexState = model.IndexStatePending
	if err := mgr.Records.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert document registry row: %w", err)
	}

	if err := ingest.UpsertDocumentToSearch(ctx, mgr.Search, doc.ID, req, toPreprocessed(doc, text), 0); err != nil {
		return fmt.Errorf("rv document write: %w", err)
	}
	if _, err := ingest.UpsertChunksToSearch(ctx, mgr.Search, doc.ID, "english", crecs, req, 0); err != nil {
		return fmt.Errorf("rv chunk write: %w", err)
	}
	if err := mgr.Records.SetIndexState(ctx, doc.ID, model.IndexStateRVOnly); err != nil {
		return fmt.Errorf("record rv_only index state: %w", err)
	}

	if mgr.Vector != nil && emb != nil {
		if _, err := ingest.UpsertChunkEmbeddings(ctx, mgr.Vector, emb, doc.ID, "english", crecs, req, 0); err != nil {
			return fmt.Errorf("vi write (index_state left at rv_only for repair): %w", err)
		}
	}
	if err := mgr.Records.SetIndexState(ctx, doc.ID, model.IndexStateGraphPending); err != nil {
		return fmt.Errorf("record graph_pending index state: %w", err)
	}

	if mgr.Graph != nil {
		if _, err := ingest.UpsertDocAndChunksGraph(ctx, mgr.Graph, doc.ID, toPreprocessed(doc, text), req, crecs, 0); err != nil {
			return fmt.Errorf("gr write (index_state left at graph_pending for repair): %w", err)
		}
		if err := upsertEntityGraph(ctx, mgr.Graph, doc); err != nil {
			return fmt.Errorf("gr entity write (index_state left at graph_pending for repair): %w", err)
		}
	}
	return mgr.Records.SetIndexState(ctx, doc.ID, model.IndexStateOK)
}

// upsertEntityGraph layers the CONTAINS (Project->Document) and MENTIONS
// (Document->Tag) edges named in SPEC_FULL.md's entity model on top of the
// Doc/Chunk/HAS_CHUNK nodes rag/ingest already wrote for the same docID.
// RELATES_TO is deliberately not written here: it's computed later by the
// background tag-overlap job in graphmaint.go.
func upsertEntityGraph(ctx context.Context, g databases.GraphDB, doc model.Document) error {
	existingLabels := []string{}
	existingProps := map[string]any{}
	if n, ok := g.GetNode(ctx, doc.ID); ok {
		existingLabels = n.Labels
		existingProps = n.Props
	}
	if existingProps == nil {
		existingProps = map[string]any{}
	}
	if err := g.UpsertNode(ctx, doc.ID, withLabel(existingLabels, string(model.EntityDocument)), existingProps); err != nil {
		return err
	}

	projectNodeID := "project:" + doc.Project
	if err := g.UpsertNode(ctx, projectNodeID, []string{string(model.EntityProject)}, map[string]any{"name": doc.Project}); err != nil {
		return err
	}
	if err := g.UpsertEdge(ctx, projectNodeID, string(model.RelContains), doc.ID, nil); err != nil {
		return err
	}

	for _, tag := range doc.Tags {
		tagNodeID := "tag:" + doc.Project + ":" + tag
		if err := g.UpsertNode(ctx, tagNodeID, []string{string(model.EntityTag)}, map[string]any{"name": tag, "project": doc.Project}); err != nil {
			return err
		}
		if err := g.UpsertEdge(ctx, doc.ID, string(model.RelMentions), tagNodeID, nil); err != nil {
			return err
		}
	}
	return nil
}

func withLabel(labels []string, add string) []string {
	for _, l := range labels {
		if l == add {
			return labels
		}
	}
	return append(append([]string{}, labels...), add)
}

// repairDocument resumes a document whose index_state shows VI/GR writes
// are still outstanding, re-reading its chunks from the RV chunks table.
func repairDocument(ctx context.Context, mgr databases.Manager, emb embedder.Embedder, doc model.Document) error {
	chunks, text, err := reloadChunksFromSearch(ctx, mgr.Search, doc)
	if err != nil {
		return fmt.Errorf("reload chunks for repair: %w", err)
	}
	req := toIngestRequest(doc)
	crecs := toChunkRecords(chunks)

	switch doc.IndexState {
	case model.IndexStateRVOnly:
		if mgr.Vector != nil && emb != nil {
			if _, err := ingest.UpsertChunkEmbeddings(ctx, mgr.Vector, emb, doc.ID, "english", crecs, req, 0); err != nil {
				return fmt.Errorf("repair vi write: %w", err)
			}
		}
		if err := mgr.Records.SetIndexState(ctx, doc.ID, model.IndexStateGraphPending); err != nil {
			return err
		}
		fallthrough
	case model.IndexStateGraphPending:
		if mgr.Graph != nil {
			if _, err := ingest.UpsertDocAndChunksGraph(ctx, mgr.Graph, doc.ID, toPreprocessed(doc, text), req, crecs, 0); err != nil {
				return fmt.Errorf("repair gr write: %w", err)
			}
		}
		return mgr.Records.SetIndexState(ctx, doc.ID, model.IndexStateOK)
	default:
		return nil
	}
}

func toIngestRequest(doc model.Document) ingest.IngestRequest {
	md := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		md[k] = v
	}
	return ingest.IngestRequest{
		ID:       doc.ID,
		Title:    doc.Title,
		URL:      doc.SourceURL,
		Source:   string(doc.Format),
		Metadata: md,
		Tenant:   doc.Project,
	}
}

func toPreprocessed(doc model.Document, text string) ingest.PreprocessedDoc {
	return ingest.PreprocessedDoc{Text: text, Language: "english", Hash: doc.ContentHash}
}

func toChunkRecords(chunks []model.Chunk) []ingest.ChunkRecord {
	out := make([]ingest.ChunkRecord, len(chunks))
	for i, c := range chunks {
		out[i] = ingest.ChunkRecord{Index: c.Index, Text: c.Text, Empty: c.Empty}
	}
	return out
}

// reloadChunksFromSearch pulls a document's chunks back out of the RV store
// for the repair worker, which runs detached from the original extraction
// output. Falls back to the document body as a single chunk when the
// backend exposes no real chunks table (the memory/no-chunks-table path).
func reloadChunksFromSearch(ctx context.Context, search databases.FullTextSearch, doc model.Document) ([]model.Chunk, string, error) {
	docResult, ok, err := search.GetByID(ctx, doc.ID)
	if err != nil {
		return nil, "", err
	}
	text := ""
	if ok {
		text = docResult.Text
	}

	type chunkLister interface {
		ListChunks(ctx context.Context, docID string) ([]databases.SearchResult, error)
	}
	if lister, ok := search.(chunkLister); ok {
		results, err := lister.ListChunks(ctx, doc.ID)
		if err != nil {
			return nil, text, err
		}
		chunks := make([]model.Chunk, len(results))
		for i, r := range results {
			chunks[i] = model.Chunk{ID: r.ID, DocumentID: doc.ID, Project: doc.Project, Index: i, Text: r.Text, Empty: r.Text == ""}
		}
		return chunks, text, nil
	}
	return []model.Chunk{{ID: doc.ID + ":0", DocumentID: doc.ID, Project: doc.Project, Index: 0, Text: text, Empty: text == ""}}, text, nil
}
