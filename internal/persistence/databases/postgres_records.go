package databases

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"finderskeepers/internal/model"
)

type pgRecords struct{ pool *pgxpool.Pool }

// NewPostgresRecords bootstraps the document registry and session log tables
// and returns a RecordStore backed by them.
func NewPostgresRecords(pool *pgxpool.Pool) RecordStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS documents_registry (
  id TEXT PRIMARY KEY,
  project TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  source_path TEXT NOT NULL DEFAULT '',
  source_url TEXT NOT NULL DEFAULT '',
  format TEXT NOT NULL DEFAULT 'unknown',
  mime_type TEXT NOT NULL DEFAULT '',
  content_hash TEXT NOT NULL DEFAULT '',
  size_bytes BIGINT NOT NULL DEFAULT 0,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  tags TEXT[] NOT NULL DEFAULT '{}',
  index_state TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	_, _ = pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS documents_registry_project_hash ON documents_registry(project, content_hash) WHERE content_hash <> ''`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS documents_registry_index_state ON documents_registry(index_state, updated_at)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  project TEXT NOT NULL DEFAULT '',
  agent_name TEXT NOT NULL DEFAULT '',
  started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  ended_at TIMESTAMPTZ,
  placeholder BOOLEAN NOT NULL DEFAULT false,
  summary TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS actions (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT '',
  target TEXT NOT NULL DEFAULT '',
  detail TEXT NOT NULL DEFAULT '',
  success BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS actions_session_idx ON actions(session_id, created_at)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversation_messages (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS conversation_messages_session_idx ON conversation_messages(session_id, created_at)`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS code_snippets (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  message_id TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL DEFAULT '',
  code TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return &pgRecords{pool: pool}
}

func (p *pgRecords) Close() { p.pool.Close() }

func (p *pgRecords) UpsertDocument(ctx context.Context, d model.Document) error {
	md := mapToJSON(d.Metadata)
	_, err := p.pool.Exec(ctx, `
INSERT INTO documents_registry(id, project, title, source_path, source_url, format, mime_type, content_hash, size_bytes, metadata, tags, index_state, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
ON CONFLICT (id) DO UPDATE SET
  project=EXCLUDED.project, title=EXCLUDED.title, source_path=EXCLUDED.source_path,
  source_url=EXCLUDED.source_url, format=EXCLUDED.format, mime_type=EXCLUDED.mime_type,
  content_hash=EXCLUDED.content_hash, size_bytes=EXCLUDED.size_bytes, metadata=EXCLUDED.metadata,
  tags=EXCLUDED.tags, index_state=EXCLUDED.index_state, updated_at=now()
`, d.ID, d.Project, d.Title, d.SourcePath, d.SourceURL, string(d.Format), d.MimeType,
		d.ContentHash, d.SizeBytes, md, d.Tags, string(d.IndexState), timeOrNow(d.CreatedAt))
	return err
}

func (p *pgRecords) GetDocument(ctx context.Context, id string) (model.Document, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, project, title, source_path, source_url, format, mime_type, content_hash, size_bytes, metadata, tags, index_state, created_at, updated_at
FROM documents_registry WHERE id=$1`, id)
	return scanDocument(row)
}

func (p *pgRecords) LookupDocumentByHash(ctx context.Context, project, hash string) (model.Document, bool, error) {
	if hash == "" {
		return model.Document{}, false, nil
	}
	row := p.pool.QueryRow(ctx, `
SELECT id, project, title, source_path, source_url, format, mime_type, content_hash, size_bytes, metadata, tags, index_state, created_at, updated_at
FROM documents_registry WHERE project=$1 AND content_hash=$2`, project, hash)
	return scanDocument(row)
}

func (p *pgRecords) SetIndexState(ctx context.Context, docID string, state model.IndexState) error {
	_, err := p.pool.Exec(ctx, `UPDATE documents_registry SET index_state=$2, updated_at=now() WHERE id=$1`, docID, string(state))
	return err
}

func (p *pgRecords) ListStaleIndexState(ctx context.Context, states []model.IndexState, olderThan int64) ([]model.Document, error) {
	ss := make([]string, len(states))
	for i, s := range states {
		ss[i] = string(s)
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, project, title, source_path, source_url, format, mime_type, content_hash, size_bytes, metadata, tags, index_state, created_at, updated_at
FROM documents_registry
WHERE index_state = ANY($1) AND updated_at < to_timestamp($2)
ORDER BY updated_at ASC`, ss, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		d, _, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *pgRecords) UpsertSession(ctx context.Context, s model.Session) error {
	md := mapToJSON(s.Metadata)
	var ended any
	if !s.EndedAt.IsZero() {
		ended = s.EndedAt
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO sessions(id, project, agent_name, started_at, ended_at, placeholder, summary, metadata)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  project=EXCLUDED.project, agent_name=EXCLUDED.agent_name, ended_at=COALESCE(EXCLUDED.ended_at, sessions.ended_at),
  placeholder=EXCLUDED.placeholder, summary=EXCLUDED.summary, metadata=EXCLUDED.metadata
`, s.ID, s.Project, s.AgentName, timeOrNow(s.StartedAt), ended, s.Placeholder, s.Summary, md)
	return err
}

func (p *pgRecords) GetSession(ctx context.Context, id string) (model.Session, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, project, agent_name, started_at, ended_at, placeholder, summary, metadata FROM sessions WHERE id=$1`, id)
	var s model.Session
	var ended *time.Time
	var md map[string]any
	if err := row.Scan(&s.ID, &s.Project, &s.AgentName, &s.StartedAt, &ended, &s.Placeholder, &s.Summary, &md); err != nil {
		if isNoRows(err) {
			return model.Session{}, false, nil
		}
		return model.Session{}, false, err
	}
	if ended != nil {
		s.EndedAt = *ended
	}
	s.Metadata = toStringMap(md)
	return s, true, nil
}

func (p *pgRecords) AppendAction(ctx context.Context, a model.Action) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO actions(id, session_id, kind, target, detail, success, created_at) VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING`, a.ID, a.SessionID, a.Kind, a.Target, a.Detail, a.Success, timeOrNow(a.CreatedAt))
	return err
}

func (p *pgRecords) AppendMessage(ctx context.Context, m model.ConversationMessage) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO conversation_messages(id, session_id, role, content, created_at) VALUES($1,$2,$3,$4,$5)
ON CONFLICT (id) DO NOTHING`, m.ID, m.SessionID, m.Role, m.Content, timeOrNow(m.CreatedAt))
	return err
}

func (p *pgRecords) AppendCodeSnippet(ctx context.Context, c model.CodeSnippet) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO code_snippets(id, session_id, message_id, language, code, created_at) VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING`, c.ID, c.SessionID, c.MessageID, c.Language, c.Code, timeOrNow(c.CreatedAt))
	return err
}

func (p *pgRecords) ListSessionMessages(ctx context.Context, sessionID string) ([]model.ConversationMessage, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, session_id, role, content, created_at FROM conversation_messages WHERE session_id=$1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *pgRecords) ListSessionActions(ctx context.Context, sessionID string) ([]model.Action, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, session_id, kind, target, detail, success, created_at FROM actions WHERE session_id=$1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Action
	for rows.Next() {
		var a model.Action
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Kind, &a.Target, &a.Detail, &a.Success, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (model.Document, bool, error) {
	return scanDocumentRows(row)
}

func scanDocumentRows(row rowScanner) (model.Document, bool, error) {
	var d model.Document
	var format, state string
	var md map[string]any
	if err := row.Scan(&d.ID, &d.Project, &d.Title, &d.SourcePath, &d.SourceURL, &format, &d.MimeType,
		&d.ContentHash, &d.SizeBytes, &md, &d.Tags, &state, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if isNoRows(err) {
			return model.Document{}, false, nil
		}
		return model.Document{}, false, err
	}
	d.Format = model.FormatTag(format)
	d.IndexState = model.IndexState(state)
	d.Metadata = toStringMap(md)
	return d, true, nil
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func toStringMap(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = ""
		}
	}
	return out
}
