// Package ingestion implements the orchestrator that drives an ingested
// item through detection, extraction, chunking, embedding and the
// RV->VI->GR persistence sequence, generalizing the worker-pool/channel
// shape of internal/documents/pipeline.go and the stage-timed flow of
// internal/rag/service.Service.Ingest.
package ingestion

import (
	"time"

	"finderskeepers/internal/model"
)

// Priority is the job queue's priority band.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Status is a state in the ingestion state machine:
// queued -> detecting -> extracting -> chunking -> embedding -> persisting
// -> repair_pending | done | failed.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusDetecting     Status = "detecting"
	StatusExtracting    Status = "extracting"
	StatusChunking      Status = "chunking"
	StatusEmbedding     Status = "embedding"
	StatusPersisting    Status = "persisting"
	StatusRepairPending Status = "repair_pending"
	StatusDone          Status = "done"
	StatusFailed        Status = "failed"
)

// Item describes one file/URL/bytes payload to ingest.
type Item struct {
	Project       string
	Filename      string
	URL           string
	Data          []byte
	Tags          []string
	DocTypeHint   string
	Priority      Priority
	ForceReingest bool
	// ParentDocumentID is set when this item is a child entry unpacked from
	// an archive.
	ParentDocumentID string
}

// JobID identifies one enqueued ingestion job.
type JobID string

// Job is the orchestrator's record of one item moving through the state
// machine.
type Job struct {
	ID         JobID     `json:"job_id"`
	Item       Item      `json:"item"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProgressEvent is delivered to subscribers on every state transition.
type ProgressEvent struct {
	JobID      JobID     `json:"job_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	At         time.Time `json:"at"`
}

// Result bundles one job's outcome. The Orchestrator does not return or store
// it; job outcomes are recorded on Job (Status, Error, DocumentID).
type Result struct {
	JobID      JobID
	DocumentID string
	Status     Status
	Chunks     []model.Chunk
	Error      error
}
