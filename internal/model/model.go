// Package model holds the domain types shared across ingestion, storage and
// query packages: documents, chunks, sessions and the artifacts a session
// logs as it runs (actions, conversation turns, code snippets).
package model

import "time"

// FormatTag identifies the family of extractor a document was routed to.
type FormatTag string

const (
	FormatText     FormatTag = "text"
	FormatMarkdown FormatTag = "markdown"
	FormatCode     FormatTag = "code"
	FormatHTML     FormatTag = "html"
	FormatPDF      FormatTag = "pdf"
	FormatOffice   FormatTag = "office"
	FormatImage    FormatTag = "image"
	FormatAudio    FormatTag = "audio"
	FormatVideo    FormatTag = "video"
	FormatArchive  FormatTag = "archive"
	FormatUnknown  FormatTag = "unknown"
)

// IndexState tracks how far a document made it through the RV -> VI -> GR
// write sequence, so the repair worker knows what is left to do.
type IndexState string

const (
	IndexStatePending      IndexState = "pending"
	IndexStateRVOnly       IndexState = "rv_only"
	IndexStateGraphPending IndexState = "graph_pending"
	IndexStateOK           IndexState = "ok"
)

// Document is a single ingested artifact: a note, a fetched URL, an
// uploaded file, or a synthesized session export.
type Document struct {
	ID          string
	Project     string
	Title       string
	SourcePath  string
	SourceURL   string
	Format      FormatTag
	MimeType    string
	// ContentHash is SHA-256 of the document's normalized text (post
	// extraction, post whitespace/control-char/Unicode normalization), the
	// spec's content_hash. (project, ContentHash) is the dedup key.
	ContentHash string
	SizeBytes   int64
	Metadata    map[string]string
	Tags        []string
	IndexState  IndexState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is one retrievable unit of a Document's extracted text.
type Chunk struct {
	ID         string
	DocumentID string
	Project    string
	Index      int
	Text       string
	TokenLen   int
	Metadata   map[string]string
	// Empty marks the single sentinel chunk produced for a document whose
	// normalized text is blank: indexed in RV/GR for metadata search but
	// written to VI with a zero vector instead of an embedding.
	Empty bool
}

// Embedding pairs a Chunk with its vector, persisted alongside the chunk so
// the vector index can be rebuilt without re-calling the embedding client.
type Embedding struct {
	ChunkID string
	Model   string
	Vector  []float32
}

// EntityKind enumerates the node labels written into the graph store.
type EntityKind string

const (
	EntityProject EntityKind = "Project"
	EntityDocument EntityKind = "Document"
	EntitySession EntityKind = "Session"
	EntityFile    EntityKind = "File"
	EntityTag     EntityKind = "Tag"
	EntityConcept EntityKind = "Concept"
)

// Relation enumerates the edge types written into the graph store.
type Relation string

const (
	RelContains       Relation = "CONTAINS"
	RelPartOfSession   Relation = "PART_OF_SESSION"
	RelMentions        Relation = "MENTIONS"
	RelRelatesTo       Relation = "RELATES_TO"
)

// Session is a logged coding-assistant session, populated incrementally by
// the webhook intake as the assistant reports actions and messages.
type Session struct {
	ID           string
	Project      string
	AgentName    string
	StartedAt    time.Time
	EndedAt      time.Time
	Placeholder  bool
	Summary      string
	Metadata     map[string]string
}

// Action is a single tool invocation reported by a session (file edit, shell
// command, search, etc).
type Action struct {
	ID        string
	SessionID string
	Kind      string
	Target    string
	Detail    string
	Success   bool
	CreatedAt time.Time
}

// ConversationMessage is one turn of a session transcript.
type ConversationMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// CodeSnippet is a fenced code block extracted from a conversation message.
type CodeSnippet struct {
	ID        string
	SessionID string
	MessageID string
	Language  string
	Code      string
	CreatedAt time.Time
}
