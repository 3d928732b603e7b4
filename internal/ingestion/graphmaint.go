package ingestion

import (
	"context"
	"log/slog"
	"time"

	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
)

// relatesToMinSharedTags is the "at least 2 shared tags" threshold from
// SPEC_FULL.md's RELATES_TO recompute rule.
const relatesToMinSharedTags = 2

// tagOverlapScanner is an optional GraphDB capability exposing the join
// needed to recompute RELATES_TO edges without a generic graph query
// language. Backends that don't implement it simply skip the recompute.
type tagOverlapScanner interface {
	TagOverlapPairs(ctx context.Context, minShared int) ([][2]string, error)
}

// nodeLister/nodeDeleter back the orphan-Tag and deleted-Session GC sweep.
type nodeLister interface {
	ListNodeIDsByLabel(ctx context.Context, label string) ([]string, error)
}
type nodeDeleter interface {
	DeleteNodes(ctx context.Context, ids []string) (int, error)
}

// GraphMaintainer runs the two periodic graph upkeep jobs named in
// SPEC_FULL.md 4.6: RELATES_TO recompute on tag overlap, and an orphan
// Tag/Session node GC sweep.
type GraphMaintainer struct {
	mgr      databases.Manager
	interval time.Duration
	log      *slog.Logger
}

func NewGraphMaintainer(mgr databases.Manager, interval time.Duration, log *slog.Logger) *GraphMaintainer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &GraphMaintainer{mgr: mgr, interval: interval, log: log}
}

func (gm *GraphMaintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(gm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gm.recomputeRelatesTo(ctx)
			gm.gcOrphans(ctx)
		}
	}
}

func (gm *GraphMaintainer) recomputeRelatesTo(ctx context.Context) {
	scanner, ok := gm.mgr.Graph.(tagOverlapScanner)
	if !ok {
		return
	}
	pairs, err := scanner.TagOverlapPairs(ctx, relatesToMinSharedTags)
	if err != nil {
		gm.log.Error("graphmaint: tag overlap scan failed", "error", err)
		return
	}
	for _, p := range pairs {
		if err := gm.mgr.Graph.UpsertEdge(ctx, p[0], string(model.RelRelatesTo), p[1], nil); err != nil {
			gm.log.Warn("graphmaint: relates_to edge write failed", "a", p[0], "b", p[1], "error", err)
			continue
		}
		if err := gm.mgr.Graph.UpsertEdge(ctx, p[1], string(model.RelRelatesTo), p[0], nil); err != nil {
			gm.log.Warn("graphmaint: relates_to edge write failed", "a", p[1], "b", p[0], "error", err)
		}
	}
	if len(pairs) > 0 {
		gm.log.Info("graphmaint: relates_to recompute", "pairs", len(pairs))
	}
}

func (gm *GraphMaintainer) gcOrphans(ctx context.Context) {
	if pruner, ok := gm.mgr.Graph.(interface {
		PruneOrphanTagNodes(ctx context.Context) (int, error)
	}); ok {
		n, err := pruner.PruneOrphanTagNodes(ctx)
		if err != nil {
			gm.log.Error("graphmaint: orphan tag prune failed", "error", err)
		} else if n > 0 {
			gm.log.Info("graphmaint: pruned orphan tag nodes", "count", n)
		}
	}

	lister, okL := gm.mgr.Graph.(nodeLister)
	deleter, okD := gm.mgr.Graph.(nodeDeleter)
	if !okL || !okD || gm.mgr.Records == nil {
		return
	}
	sessionNodeIDs, err := lister.ListNodeIDsByLabel(ctx, string(model.EntitySession))
	if err != nil {
		gm.log.Error("graphmaint: list session nodes failed", "error", err)
		return
	}
	var dead []string
	for _, id := range sessionNodeIDs {
		if _, found, err := gm.mgr.Records.GetSession(ctx, id); err == nil && !found {
			dead = append(dead, id)
		}
	}
	if len(dead) == 0 {
		return
	}
	n, err := deleter.DeleteNodes(ctx, dead)
	if err != nil {
		gm.log.Error("graphmaint: delete orphan session nodes failed", "error", err)
		return
	}
	gm.log.Info("graphmaint: pruned orphan session nodes", "count", n)
}
