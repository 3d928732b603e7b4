package query

import (
	"context"
	"sort"

	"finderskeepers/internal/model"
	"finderskeepers/internal/rag/retrieve"
)

// collapseByDocument implements spec.md 4.9's same-document rule: keep the
// best-scoring chunk per document_id and add a saturating bonus for the
// other chunks of that document that also matched, min(cap, otherChunks) *
// bonus, instead of retrieve.Diversify's opposite-direction dominance
// penalty.
func collapseByDocument(items []retrieve.RetrievedItem, bonus float64, sameDocCap int) []retrieve.RetrievedItem {
	if sameDocCap <= 0 {
		sameDocCap = 3
	}
	byDoc := map[string][]retrieve.RetrievedItem{}
	order := []string{}
	for _, it := range items {
		docID := it.DocID
		if docID == "" {
			docID = it.ID
		}
		if _, seen := byDoc[docID]; !seen {
			order = append(order, docID)
		}
		byDoc[docID] = append(byDoc[docID], it)
	}

	out := make([]retrieve.RetrievedItem, 0, len(order))
	for _, docID := range order {
		group := byDoc[docID]
		best := group[0]
		for _, it := range group[1:] {
			if it.Score > best.Score {
				best = it
			}
		}
		otherChunks := len(group) - 1
		if otherChunks > sameDocCap {
			otherChunks = sameDocCap
		}
		best.DocID = docID
		best.Score += float64(otherChunks) * bonus
		if best.Explanation == nil {
			best.Explanation = map[string]any{}
		}
		best.Explanation["other_matching_chunks"] = len(group) - 1
		best.Explanation["same_doc_bonus"] = float64(otherChunks) * bonus
		out = append(out, best)
	}
	return out
}

// augmentWithRelatesTo extends the top seeds one hop over RELATES_TO edges,
// adding any not-already-present neighbor document re-scored at GraphBoost
// weight against its seed's fused score, per spec.md 4.9's graph-augmented
// mode. Bounded by GraphTopN seeds and GraphMaxPerSeed neighbors per seed.
func (e *Engine) augmentWithRelatesTo(ctx context.Context, items []retrieve.RetrievedItem) []retrieve.RetrievedItem {
	topN := e.cfg.GraphTopN
	if topN <= 0 {
		topN = 10
	}
	maxPerSeed := e.cfg.GraphMaxPerSeed
	if maxPerSeed <= 0 {
		maxPerSeed = 5
	}
	if topN > len(items) {
		topN = len(items)
	}

	present := map[string]bool{}
	for _, it := range items {
		present[it.DocID] = true
	}

	out := append([]retrieve.RetrievedItem(nil), items...)
	for i := 0; i < topN; i++ {
		seed := items[i]
		neighbors, err := e.graph.Neighbors(ctx, seed.DocID, string(model.RelRelatesTo))
		if err != nil {
			continue
		}
		added := 0
		for _, nid := range neighbors {
			if present[nid] {
				continue
			}
			present[nid] = true
			out = append(out, retrieve.RetrievedItem{
				ID:    nid,
				DocID: nid,
				Score: seed.Score * e.cfg.GraphBoost,
				Explanation: map[string]any{
					"graph_expanded_from": seed.DocID,
					"graph_boost":         e.cfg.GraphBoost,
				},
			})
			added++
			if added >= maxPerSeed {
				break
			}
		}
	}
	return out
}

// sortDeterministic enforces spec.md 4.9's tie-break: score desc, then
// document_id asc.
func sortDeterministic(items []retrieve.RetrievedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].DocID < items[j].DocID
	})
}

func toItems(items []retrieve.RetrievedItem) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{
			DocumentID: it.DocID,
			ChunkID:    it.ID,
			Score:      it.Score,
			Snippet:    it.Snippet,
			Text:       it.Text,
			Title:      it.Doc.Title,
			URL:        it.Doc.URL,
			Provenance: it.Explanation,
		})
	}
	return out
}
