package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"finderskeepers/internal/chunker"
	"finderskeepers/internal/config"
	"finderskeepers/internal/detect"
	"finderskeepers/internal/extract"
	"finderskeepers/internal/model"
	"finderskeepers/internal/persistence/databases"
	"finderskeepers/internal/rag/embedder"
)

// Orchestrator drives one Item through detection, extraction, chunking,
// embedding and persistence, generalizing internal/documents/pipeline.go's
// producer/worker-pool shape to the full state machine named in
// SPEC_FULL.md.
type Orchestrator struct {
	mgr      databases.Manager
	registry *extract.Registry
	chunks   chunker.Chunker
	emb      embedder.Embedder
	cfg      config.IngestionConfig

	q   *queue
	sf  *singleFlight
	rsf *RedisSingleFlight

	sem *semaphore.Weighted

	mu   sync.Mutex
	jobs map[JobID]*Job
	subs map[JobID][]chan ProgressEvent

	done   chan struct{}
	wg     sync.WaitGroup
	nextID uint64
}

// New wires an Orchestrator from its dependencies. rsf may be nil, in which
// case single-flight dedup is purely in-process.
func New(mgr databases.Manager, registry *extract.Registry, chunks chunker.Chunker, emb embedder.Embedder, cfg config.IngestionConfig, rsf *RedisSingleFlight) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	o := &Orchestrator{
		mgr:      mgr,
		registry: registry,
		chunks:   chunks,
		emb:      emb,
		cfg:      cfg,
		q:        newQueue(cfg.QueueCapacity),
		sf:       newSingleFlight(),
		rsf:      rsf,
		sem:      semaphore.NewWeighted(int64(workers)),
		jobs:     make(map[JobID]*Job),
		subs:     make(map[JobID][]chan ProgressEvent),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Stop closes done and waits for the workers to exit. A worker looks at done
// only once the queue is empty, so jobs already queued still run before Stop
// returns.
func (o *Orchestrator) Stop() {
	close(o.done)
	o.wg.Wait()
}

func (o *Orchestrator) newJobID() JobID {
	o.mu.Lock()
	o.nextID++
	n := o.nextID
	o.mu.Unlock()
	return JobID(fmt.Sprintf("job:%d:%d", time.Now().UnixNano(), n))
}

// IngestItem enqueues a single item and returns its JobID immediately; the
// caller tracks completion via GetJob or SubscribeProgress.
func (o *Orchestrator) IngestItem(ctx context.Context, item Item) (JobID, error) {
	id := o.newJobID()
	job := &Job{ID: id, Item: item, Status: StatusQueued, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	o.mu.Lock()
	o.jobs[id] = job
	o.mu.Unlock()
	o.q.push(job)
	return id, nil
}

// IngestBatch enqueues every item and returns their JobIDs in order.
func (o *Orchestrator) IngestBatch(ctx context.Context, items []Item) ([]JobID, error) {
	ids := make([]JobID, len(items))
	for i, it := range items {
		id, err := o.IngestItem(ctx, it)
		if err != nil {
			return ids[:i], err
		}
		ids[i] = id
	}
	return ids, nil
}

// Precheck reports whether item has already been ingested, without
// enqueueing anything — used by the HTTP layer to populate the
// dedup/document_id_if_known fields spec.md 6.1 asks an ingest response to
// carry synchronously. Dedup is keyed on content_hash (SPEC_FULL.md 4.4 step
// 5), which only exists once the item has been detected, extracted and its
// text normalized, so this runs that same work up front; a detect/extract
// failure here is not reported as an error — it just means the synchronous
// answer is "not a dup", and the real job run will surface the failure.
func (o *Orchestrator) Precheck(ctx context.Context, item Item) (docID string, dedup bool) {
	det := detect.Detect(item.Data, item.Filename)
	if det.Format == model.FormatUnknown {
		return "", false
	}
	raw, err := o.registry.Extract(ctx, extract.Input{
		Filename: item.Filename,
		URL:      item.URL,
		Data:     item.Data,
		Format:   det.Format,
		Lang:     det.Lang,
		MimeType: det.MIME,
	})
	if err != nil {
		return "", false
	}
	hash := contentHash(normalizeText(renderDocText(raw)))
	if existing, found, err := o.mgr.Records.LookupDocumentByHash(ctx, item.Project, hash); err == nil && found {
		return existing.ID, true
	}
	return "", false
}

func (o *Orchestrator) GetJob(jobID JobID) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// SubscribeProgress returns a channel fed every transition for jobID and an
// unsubscribe func. The channel is buffered so a slow reader cannot stall
// the worker driving the job.
func (o *Orchestrator) SubscribeProgress(jobID JobID) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)
	o.mu.Lock()
	o.subs[jobID] = append(o.subs[jobID], ch)
	o.mu.Unlock()
	unsub := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		subs := o.subs[jobID]
		for i, c := range subs {
			if c == ch {
				o.subs[jobID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsub
}

func (o *Orchestrator) setStatus(job *Job, status Status, errMsg string) {
	o.mu.Lock()
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	subs := append([]chan ProgressEvent(nil), o.subs[job.ID]...)
	o.mu.Unlock()

	ev := ProgressEvent{JobID: job.ID, Status: status, Error: errMsg, DocumentID: job.DocumentID, At: job.UpdatedAt}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		job, ok := o.q.pop(o.done)
		if !ok {
			return
		}
		o.sem.Acquire(context.Background(), 1)
		o.runJob(job)
		o.sem.Release(1)
	}
}

// runJob executes the full state machine for one job. Per SPEC_FULL.md
// 4.1/4.2: an unknown format is rejected before extraction is attempted, and
// an extraction failure persists nothing partial.
//
// Per SPEC_FULL.md 4.4, the raw byte hash (step 1) is used only to claim the
// in-process single-flight slot for this exact upload; dedup and
// content_hash (steps 4/5) are computed from the extracted, normalized text
// further down, after extraction succeeds.
func (o *Orchestrator) runJob(job *Job) {
	ctx := context.Background()
	item := job.Item

	claimKey := hashBytes(item.Data)
	if owner, claimed := o.claimSingleFlight(ctx, item.Project, claimKey, job.ID); !claimed {
		job.Error = fmt.Sprintf("deduplicated onto in-flight job %s", owner)
		o.setStatus(job, StatusDone, job.Error)
		return
	}
	defer o.releaseSingleFlight(ctx, item.Project, claimKey)

	o.setStatus(job, StatusDetecting, "")
	det := detect.Detect(item.Data, item.Filename)
	if det.Format == model.FormatUnknown {
		o.setStatus(job, StatusFailed, errUnsupportedFormat("unrecognized binary format").Error())
		return
	}

	o.setStatus(job, StatusExtracting, "")
	raw, err := o.registry.Extract(ctx, extract.Input{
		Filename: item.Filename,
		URL:      item.URL,
		Data:     item.Data,
		Format:   det.Format,
		Lang:     det.Lang,
		MimeType: det.MIME,
	})
	if err != nil {
		o.setStatus(job, StatusFailed, errExtractionFailed(err).Error())
		return
	}

	normalized := normalizeText(renderDocText(raw))
	hash := contentHash(normalized)

	if !item.ForceReingest {
		if existing, found, err := o.mgr.Records.LookupDocumentByHash(ctx, item.Project, hash); err == nil && found {
			job.DocumentID = existing.ID
			o.setStatus(job, StatusDone, "")
			return
		}
	}

	docID := documentID(item.Project, hash)
	doc := model.Document{
		ID:          docID,
		Project:     item.Project,
		Title:       documentTitle(raw.Title, item.Filename, item.URL),
		SourcePath:  item.Filename,
		SourceURL:   item.URL,
		Format:      det.Format,
		MimeType:    det.MIME,
		ContentHash: hash,
		SizeBytes:   int64(len(item.Data)),
		Metadata:    raw.Metadata,
		Tags:        item.Tags,
	}

	o.setStatus(job, StatusChunking, "")
	chunks := o.chunks.Chunk(raw, docID, item.Project)

	o.setStatus(job, StatusEmbedding, "")
	// Embedding happens inside persistDocument (batched alongside the
	// vector-index write) so a dimension mismatch is caught at the same
	// stage that would otherwise fail the VI write.

	o.setStatus(job, StatusPersisting, "")
	job.DocumentID = docID
	if err := persistDocument(ctx, o.mgr, o.emb, doc, chunks, normalized); err != nil {
		o.setStatus(job, StatusRepairPending, errStoreWriteFailed("RV/VI/GR", err).Error())
		return
	}

	for _, child := range raw.Children {
		childItem := Item{
			Project:          item.Project,
			Filename:         child.Name,
			Data:             child.Data,
			Priority:         item.Priority,
			ParentDocumentID: docID,
		}
		_, _ = o.IngestItem(ctx, childItem)
	}

	o.setStatus(job, StatusDone, "")
}

func (o *Orchestrator) claimSingleFlight(ctx context.Context, project, hash string, id JobID) (JobID, bool) {
	if o.rsf != nil {
		owner, claimed, err := o.rsf.Claim(ctx, project, hash, id)
		if err == nil {
			return owner, claimed
		}
	}
	existing, taken := o.sf.claim(project, hash, id)
	return existing, !taken
}

func (o *Orchestrator) releaseSingleFlight(ctx context.Context, project, hash string) {
	if o.rsf != nil {
		_ = o.rsf.Release(ctx, project, hash)
		return
	}
	o.sf.release(project, hash)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func documentID(project, hash string) string {
	return fmt.Sprintf("doc:%s:%s", project, hash[:16])
}

func documentTitle(extracted, filename, url string) string {
	if extracted != "" {
		return extracted
	}
	if filename != "" {
		return filename
	}
	return url
}

func renderDocText(raw extract.RawDocument) string {
	var b strings.Builder
	for i, blk := range raw.Blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(blk.Text)
	}
	return b.String()
}
