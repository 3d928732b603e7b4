package databases

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgGraph struct{ pool *pgxpool.Pool }

func NewPostgresGraph(pool *pgxpool.Pool) GraphDB {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS nodes (
  id TEXT PRIMARY KEY,
  labels TEXT[] NOT NULL DEFAULT '{}',
  props JSONB NOT NULL DEFAULT '{}'::jsonb
);
`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS edges (
  id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  rel TEXT NOT NULL,
  target TEXT NOT NULL,
  props JSONB NOT NULL DEFAULT '{}'::jsonb
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS edges_src_rel ON edges(source, rel)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS edges_dst_rel ON edges(target, rel)`)
	return &pgGraph{pool: pool}
}

func (g *pgGraph) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	// Ensure we never pass SQL NULL for the JSONB `props` column. If callers
	// provide nil, use an empty JSON object so the DB's NOT NULL constraint is
	// satisfied and default behavior is consistent.
	if props == nil {
		props = map[string]any{}
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO nodes(id, labels, props) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET labels=EXCLUDED.labels, props=EXCLUDED.props
`, id, labels, props)
	return err
}

func (g *pgGraph) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	// Same protection for edges.props
	if props == nil {
		props = map[string]any{}
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO edges(source, rel, target, props) VALUES($1,$2,$3,$4)
ON CONFLICT DO NOTHING
`, srcID, rel, dstID, props)
	return err
}

func (g *pgGraph) Neighbors(ctx context.Context, id string, rel string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT target FROM edges WHERE source=$1 AND rel=$2 ORDER BY target`, id, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{} // return empty slice rather than nil so JSON encodes as []
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *pgGraph) GetNode(ctx context.Context, id string) (Node, bool) {
	row := g.pool.QueryRow(ctx, `SELECT labels, props FROM nodes WHERE id=$1`, id)
	var labels []string
	var props map[string]any
	if err := row.Scan(&labels, &props); err != nil {
		return Node{}, false
	}
	return Node{ID: id, Labels: labels, Props: props}, true
}

// TagOverlapPairs returns document id pairs sharing at least minShared
// MENTIONS->Tag neighbors, a candidate set for a RELATES_TO recompute job.
func (g *pgGraph) TagOverlapPairs(ctx context.Context, minShared int) ([][2]string, error) {
	rows, err := g.pool.Query(ctx, `
SELECT a.source, b.source
FROM edges a
JOIN edges b ON a.target = b.target AND a.source < b.source
WHERE a.rel = 'MENTIONS' AND b.rel = 'MENTIONS'
GROUP BY a.source, b.source
HAVING COUNT(DISTINCT a.target) >= $1
ORDER BY a.source, b.source
`, minShared)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][2]string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		out = append(out, [2]string{a, b})
	}
	return out, rows.Err()
}

// PruneOrphanTagNodes deletes Tag nodes with no incoming MENTIONS edge.
func (g *pgGraph) PruneOrphanTagNodes(ctx context.Context) (int, error) {
	tag, err := g.pool.Exec(ctx, `
DELETE FROM nodes
WHERE 'Tag' = ANY(labels)
  AND id NOT IN (SELECT target FROM edges WHERE rel = 'MENTIONS')
`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListNodeIDsByLabel returns every node id carrying the given label.
func (g *pgGraph) ListNodeIDsByLabel(ctx context.Context, label string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT id FROM nodes WHERE $1 = ANY(labels) ORDER BY id`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteNodes removes the given node ids. Used by the GC sweep once the
// caller has confirmed, via RecordStore, that the underlying row is gone.
func (g *pgGraph) DeleteNodes(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := g.pool.Exec(ctx, `DELETE FROM nodes WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
