package ingestion

import (
	"context"
	"log/slog"
	"time"

	"finderskeepers/internal/config"
	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
	"finderskeepers/internal/rag/embedder"
)

// RepairWorker periodically sweeps documents stuck short of index_state=ok
// and resumes their VI/GR writes, so a process crash mid-persistDocument
// never leaves a document permanently half-indexed.
type RepairWorker struct {
	mgr   databases.Manager
	emb   embedder.Embedder
	cfg   config.RepairConfig
	log   *slog.Logger
	relay *RepairRelay
}

// NewRepairWorker wires a RepairWorker. relay may be nil, in which case
// sweep outcomes are only logged, never published.
func NewRepairWorker(mgr databases.Manager, emb embedder.Embedder, cfg config.RepairConfig, log *slog.Logger, relay *RepairRelay) *RepairWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAgeH <= 0 {
		cfg.MaxAgeH = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &RepairWorker{mgr: mgr, emb: emb, cfg: cfg, log: log, relay: relay}
}

// Run blocks, sweeping on cfg.Interval until ctx is canceled.
func (w *RepairWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep retries every document left at rv_only or graph_pending. A document
// whose repair still fails more than cfg.MaxAgeH hours after its last
// index_state change is logged at error level as a fatal repair outcome.
func (w *RepairWorker) sweep(ctx context.Context) {
	now := time.Now()
	stale, err := w.mgr.Records.ListStaleIndexState(ctx, []model.IndexState{
		model.IndexStatePending, model.IndexStateRVOnly, model.IndexStateGraphPending,
	}, now.Unix()+1)
	if err != nil {
		w.log.Error("repair sweep: list stale index state", "error", err)
		return
	}
	for _, doc := range stale {
		if doc.IndexState == model.IndexStatePending {
			// Never made it past the RV write; nothing to resume from safely,
			// leave it for a full re-ingest rather than guessing at content.
			continue
		}
		if err := repairDocument(ctx, w.mgr, w.emb, doc); err != nil {
			if now.Sub(doc.UpdatedAt) > time.Duration(w.cfg.MaxAgeH)*time.Hour {
				w.log.Error("repair sweep: document unrepaired past max age", "document_id", doc.ID, "index_state", doc.IndexState, "max_age_h", w.cfg.MaxAgeH, "error", err)
			} else {
				w.log.Warn("repair sweep: document still unrepaired", "document_id", doc.ID, "index_state", doc.IndexState, "error", err)
			}
			w.relay.notifyStillUnrepaired(ctx, doc.ID, string(doc.IndexState), err)
			continue
		}
		w.log.Info("repair sweep: document repaired", "document_id", doc.ID)
		w.relay.notifyRepaired(ctx, doc.ID, string(doc.IndexState))
	}
}
