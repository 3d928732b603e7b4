package databases

import (
	"context"

	"finderskeepers/internal/model"
)

// SearchResult represents a single hit from the full-text search backend.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Text     string
	Metadata map[string]string
}

// FullTextSearch defines the minimum interface for a pluggable FTS backend
// that indexes both whole documents and their chunks.
type FullTextSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	GetByID(ctx context.Context, id string) (SearchResult, bool, error)
}

// VectorResult represents a single nearest neighbor lookup result.
type VectorResult struct {
	ID       string
	Score    float64 // Higher is closer by default
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
	Dimension() int
}

// Node is a minimal in-memory representation of a graph node.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// GraphDB defines a portable interface for minimal graph operations.
type GraphDB interface {
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error
	Neighbors(ctx context.Context, id string, rel string) ([]string, error)
	GetNode(ctx context.Context, id string) (Node, bool)
}

// RecordStore persists the structured domain rows: document registry entries
// (with hash/format/index-state bookkeeping for the repair worker) and the
// session log (sessions, actions, conversation messages, code snippets).
type RecordStore interface {
	UpsertDocument(ctx context.Context, d model.Document) error
	GetDocument(ctx context.Context, id string) (model.Document, bool, error)
	LookupDocumentByHash(ctx context.Context, project, hash string) (model.Document, bool, error)
	SetIndexState(ctx context.Context, docID string, state model.IndexState) error
	ListStaleIndexState(ctx context.Context, states []model.IndexState, olderThan int64) ([]model.Document, error)

	UpsertSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, bool, error)
	AppendAction(ctx context.Context, a model.Action) error
	AppendMessage(ctx context.Context, m model.ConversationMessage) error
	AppendCodeSnippet(ctx context.Context, c model.CodeSnippet) error
	ListSessionMessages(ctx context.Context, sessionID string) ([]model.ConversationMessage, error)
	ListSessionActions(ctx context.Context, sessionID string) ([]model.Action, error)
}

// Manager holds concrete database backends resolved from configuration.
type Manager struct {
	Search  FullTextSearch
	Vector  VectorStore
	Graph   GraphDB
	Records RecordStore
}

// Close attempts to close any underlying pools. It's a no-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Search).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Vector).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Graph).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Records).(interface{ Close() }); ok {
		c.Close()
	}
}
