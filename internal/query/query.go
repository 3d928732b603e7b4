// Package query implements the hybrid retrieval engine named in
// SPEC_FULL.md's Query Engine component, generalizing
// internal/rag/retrieve's candidate-gathering/fusion primitives and
// internal/rag/service.Service.Retrieve's staged flow to the spec's exact
// scoring rule: k=4*top_k candidates per source, RRF-60 fusion, same-document
// chunk collapse with a saturating multi-chunk bonus, optional one-hop
// RELATES_TO graph augmentation, and a deterministic (score desc, document_id
// asc) tie-break.
package query

import (
	"context"

	"finderskeepers/internal/config"
	"finderskeepers/internal/persistence/databases"
	"finderskeepers/internal/rag/embedder"
	"finderskeepers/internal/rag/retrieve"
)

// Mode selects which retrieval paths contribute candidates.
type Mode string

const (
	ModeKeyword        Mode = "keyword"
	ModeVector         Mode = "vector"
	ModeHybrid         Mode = "hybrid"
	ModeGraphAugmented Mode = "graph-augmented"
)

// Request is one query call.
type Request struct {
	Project string
	Query   string
	TopK    int
	Mode    Mode
	Filters map[string]string
}

// Item is one ranked, deduplicated-by-document result.
type Item struct {
	DocumentID string
	ChunkID    string
	Score      float64
	Snippet    string
	Text       string
	Title      string
	URL        string
	// Provenance names which retrieval path(s) contributed (ft_rank, vec_rank,
	// graph_expanded_from) per spec.md 4.9's provenance requirement.
	Provenance map[string]any
}

// Response carries the ranked items plus diagnostics for debugging.
type Response struct {
	Query string
	Items []Item
	Debug map[string]any
}

// Engine executes Query calls against the three store adapters.
type Engine struct {
	search databases.FullTextSearch
	vector databases.VectorStore
	graph  databases.GraphDB
	emb    embedder.Embedder
	cfg    config.QueryConfig
}

func New(mgr databases.Manager, emb embedder.Embedder, cfg config.QueryConfig) *Engine {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	return &Engine{search: mgr.Search, vector: mgr.Vector, graph: mgr.Graph, emb: emb, cfg: cfg}
}

// Query runs spec.md 4.9's retrieval algorithm: gather k=4*top_k candidates
// from each requested source, fuse with RRF, collapse to one best chunk per
// document with a saturating multi-chunk bonus, optionally extend one hop
// over RELATES_TO, then return the deterministic top_k with provenance.
func (e *Engine) Query(ctx context.Context, req Request) (Response, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.DefaultK
	}
	candidateK := 4 * topK

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	opt := retrieve.RetrieveOptions{
		K: candidateK, FtK: candidateK, VecK: candidateK,
		RRFK: e.cfg.RRFK, UseRRF: true, Diversify: false,
		Tenant: req.Project, Filter: req.Filters,
	}
	plan := retrieve.BuildQueryPlan(ctx, req.Query, opt)
	if mode == ModeKeyword {
		plan.VecK = 0
	}
	if mode == ModeVector {
		plan.FtK = 0
	}

	var qvec []float32
	if plan.VecK > 0 && e.vector != nil && e.emb != nil {
		vs, err := e.emb.EmbedBatch(ctx, []string{plan.Query})
		if err != nil {
			return Response{}, err
		}
		if len(vs) > 0 {
			qvec = vs[0]
		}
	}

	fts, vrs, diag, err := retrieve.ParallelCandidates(ctx, e.search, e.vector, plan, qvec)
	if err != nil {
		return Response{}, err
	}

	// FuseAndDiversify with Diversify=false just runs RRF and caps to opt.K;
	// collapseByDocument below applies the spec's own same-document rule in
	// place of Diversify's opposite-direction penalty.
	fused := retrieve.FuseAndDiversify(fts, vrs, plan, opt)
	collapsed := collapseByDocument(fused, e.cfg.SameDocBonus, e.cfg.SameDocCap)

	if mode == ModeGraphAugmented && e.graph != nil {
		collapsed = e.augmentWithRelatesTo(ctx, collapsed)
	}

	sortDeterministic(collapsed)
	if len(collapsed) > topK {
		collapsed = collapsed[:topK]
	}

	enriched := retrieve.AttachDocMetadata(ctx, e.search, collapsed)
	enriched = retrieve.GenerateSnippets(ctx, e.search, enriched, retrieve.SnippetOptions{Lang: plan.Lang, Query: plan.Query})

	debug := map[string]any{
		"mode":        string(mode),
		"candidate_k": candidateK,
		"ft_count":    diag.FtCount,
		"vec_count":   diag.VecCount,
	}
	return Response{Query: plan.Query, Items: toItems(enriched), Debug: debug}, nil
}
