package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"finderskeepers/internal/ingestion"
	"finderskeepers/internal/query"
	"finderskeepers/internal/sessionlog"
	"finderskeepers/internal/validation"
)

type ingestResponse struct {
	JobID             ingestion.JobID `json:"job_id"`
	DocumentIDIfKnown string          `json:"document_id_if_known,omitempty"`
	Dedup             bool            `json:"dedup"`
}

// handleIngestFile implements POST /api/ingest/file: a multipart upload with
// form fields project/tags/priority, per spec.md 6.1.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		respondValidationError(w, "multipart form too large or malformed", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondValidationError(w, "missing file field", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondValidationError(w, "could not read uploaded file", err)
		return
	}

	item := ingestion.Item{
		Project:  r.FormValue("project"),
		Filename: header.Filename,
		Data:     data,
		Tags:     splitTags(r.FormValue("tags")),
		Priority: priorityOrDefault(r.FormValue("priority")),
	}
	s.enqueueAndRespond(w, r, item)
}

// handleIngestURL implements POST /api/ingest/url: JSON
// {url, project, tags?, priority?}. The item carries no bytes; the HTML
// extractor fetches the URL itself once the job reaches the extract stage.
func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL      string   `json:"url"`
		Project  string   `json:"project"`
		Tags     []string `json:"tags"`
		Priority string   `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondValidationError(w, "malformed JSON body", err)
		return
	}
	if body.URL == "" {
		respondValidationError(w, "url is required", nil)
		return
	}
	item := ingestion.Item{
		Project:  body.Project,
		Filename: filenameForURL(body.URL),
		URL:      body.URL,
		Tags:     body.Tags,
		Priority: priorityOrDefault(body.Priority),
	}
	s.enqueueAndRespond(w, r, item)
}

// handleIngestBatch implements POST /api/ingest/batch: JSON
// {items: [...], project, priority?}, returning one job_id immediately and
// fanning the items out to the orchestrator asynchronously.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Project  string `json:"project"`
		Priority string `json:"priority"`
		Items    []struct {
			URL      string   `json:"url"`
			Filename string   `json:"filename"`
			Tags     []string `json:"tags"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondValidationError(w, "malformed JSON body", err)
		return
	}
	if len(body.Items) == 0 {
		respondValidationError(w, "items must be non-empty", nil)
		return
	}
	project, err := validation.ProjectID(body.Project)
	if err != nil {
		respondValidationError(w, "project must be a single path segment with no traversal", err)
		return
	}
	priority := priorityOrDefault(body.Priority)
	items := make([]ingestion.Item, 0, len(body.Items))
	for _, it := range body.Items {
		filename := it.Filename
		if filename == "" && it.URL != "" {
			filename = filenameForURL(it.URL)
		}
		items = append(items, ingestion.Item{
			Project:  project,
			Filename: filename,
			URL:      it.URL,
			Tags:     it.Tags,
			Priority: priority,
		})
	}
	ids, err := s.orchestrator.IngestBatch(r.Context(), items)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	batchID := ids[0]
	respondJSON(w, http.StatusAccepted, map[string]any{"job_id": batchID})
}

func (s *Server) enqueueAndRespond(w http.ResponseWriter, r *http.Request, item ingestion.Item) {
	if item.Project == "" {
		respondValidationError(w, "project is required", nil)
		return
	}
	cleaned, err := validation.ProjectID(item.Project)
	if err != nil {
		respondValidationError(w, "project must be a single path segment with no traversal", err)
		return
	}
	item.Project = cleaned
	docID, dedup := s.orchestrator.Precheck(r.Context(), item)
	jobID, err := s.orchestrator.IngestItem(r.Context(), item)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ingestResponse{JobID: jobID, DocumentIDIfKnown: docID, Dedup: dedup})
}

// handleJobStatus implements GET /api/ingest/jobs/{job_id}.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := ingestion.JobID(mux.Vars(r)["job_id"])
	job, ok := s.orchestrator.GetJob(jobID)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleJobEvents implements GET /api/ingest/jobs/{job_id}/events: a
// server-sent-events stream of ProgressEvent JSON until the job reaches a
// terminal status, per spec.md 6.1.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := ingestion.JobID(mux.Vars(r)["job_id"])
	job, ok := s.orchestrator.GetJob(jobID)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(ev ingestion.ProgressEvent) {
		b, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", b)
		if canFlush {
			flusher.Flush()
		}
	}
	writeEvent(ingestion.ProgressEvent{JobID: job.ID, Status: job.Status, Error: job.Error, DocumentID: job.DocumentID, At: job.UpdatedAt})
	if isTerminal(job.Status) {
		return
	}

	ch, unsub := s.orchestrator.SubscribeProgress(jobID)
	defer unsub()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(ev)
			if isTerminal(ev.Status) {
				return
			}
		}
	}
}

func isTerminal(s ingestion.Status) bool {
	return s == ingestion.StatusDone || s == ingestion.StatusFailed || s == ingestion.StatusRepairPending
}

// handleSessionWebhook implements POST /webhook/session-logger.
func (s *Server) handleSessionWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActionType string            `json:"action_type"`
		SessionID  string            `json:"session_id"`
		AgentType  string            `json:"agent_type"`
		UserID     string            `json:"user_id"`
		Project    string            `json:"project"`
		Reason     string            `json:"reason"`
		Context    map[string]string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondValidationError(w, "malformed JSON body", err)
		return
	}
	if _, err := validation.SessionID(body.SessionID); err != nil {
		respondValidationError(w, "session_id must be a single path segment with no traversal", err)
		return
	}
	ev := sessionlog.SessionEvent{
		ActionType: body.ActionType,
		SessionID:  body.SessionID,
		AgentType:  body.AgentType,
		UserID:     body.UserID,
		Project:    body.Project,
		Reason:     body.Reason,
		Context:    body.Context,
	}
	if err := s.sessions.HandleSessionEvent(r.Context(), ev); err != nil {
		respondValidationError(w, "unrecognized action_type", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": ev.SessionID,
		"action":     ev.ActionType,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleActionWebhook implements POST /webhook/action-tracker. Per spec.md
// 6.2, a message is also recorded when details.message_type and
// details.content are both present.
func (s *Server) handleActionWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID     string            `json:"session_id"`
		ActionID      string            `json:"action_id"`
		ActionType    string            `json:"action_type"`
		Description   string            `json:"description"`
		Details       map[string]string `json:"details"`
		FilesAffected []string          `json:"files_affected"`
		Success       bool              `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondValidationError(w, "malformed JSON body", err)
		return
	}
	if _, err := validation.SessionID(body.SessionID); err != nil {
		respondValidationError(w, "session_id must be a single path segment with no traversal", err)
		return
	}
	ev := sessionlog.ActionEvent{
		ActionID:      body.ActionID,
		SessionID:     body.SessionID,
		ActionType:    body.ActionType,
		Description:   body.Description,
		Details:       body.Details,
		FilesAffected: body.FilesAffected,
		Success:       body.Success,
	}
	if body.Details != nil {
		ev.MessageType = body.Details["message_type"]
		ev.Content = body.Details["content"]
	}
	if err := s.sessions.HandleActionEvent(r.Context(), ev); err != nil {
		respondValidationError(w, "could not record action", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleQuery implements POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Q       string            `json:"q"`
		Project string            `json:"project"`
		TopK    int               `json:"top_k"`
		Filters map[string]string `json:"filters"`
		Mode    string            `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondValidationError(w, "malformed JSON body", err)
		return
	}
	if body.Q == "" {
		respondValidationError(w, "q is required", nil)
		return
	}
	project, err := validation.ProjectID(body.Project)
	if err != nil {
		respondValidationError(w, "project must be a single path segment with no traversal", err)
		return
	}
	start := time.Now()
	resp, err := s.queryEngine.Query(r.Context(), query.Request{
		Project: project,
		Query:   body.Q,
		TopK:    body.TopK,
		Mode:    query.Mode(body.Mode),
		Filters: body.Filters,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	results := make([]map[string]any, 0, len(resp.Items))
	for _, it := range resp.Items {
		results = append(results, map[string]any{
			"document_id": it.DocumentID,
			"title":       it.Title,
			"score":       it.Score,
			"provenance":  it.Provenance,
			"snippet":     it.Snippet,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"took_ms": time.Since(start).Milliseconds(),
	})
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func priorityOrDefault(raw string) ingestion.Priority {
	switch ingestion.Priority(raw) {
	case ingestion.PriorityLow, ingestion.PriorityHigh:
		return ingestion.Priority(raw)
	default:
		return ingestion.PriorityNormal
	}
}

var urlExtByContentHint = map[string]string{
	".pdf": ".pdf", ".md": ".md", ".txt": ".txt",
	".png": ".png", ".jpg": ".jpg", ".jpeg": ".jpeg", ".gif": ".gif",
}

// filenameForURL guesses a filename carrying an extension format-detection
// can key on; URLs with no recognized extension are treated as HTML pages,
// since that is the only extractor that fetches by URL itself.
func filenameForURL(rawURL string) string {
	urlPath := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		urlPath = u.Path
	}
	base := path.Base(urlPath)
	ext := strings.ToLower(path.Ext(base))
	if _, ok := urlExtByContentHint[ext]; ok {
		return base
	}
	if base == "" || base == "/" || base == "." {
		return "page.html"
	}
	if ext == ".html" || ext == ".htm" {
		return base
	}
	return base + ".html"
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondValidationError implements spec.md 7's ValidationError -> HTTP 400
// rule with the {error, detail} shape spec.md 6.2 names.
func respondValidationError(w http.ResponseWriter, msg string, cause error) {
	body := map[string]any{"error": msg}
	if cause != nil {
		body["detail"] = cause.Error()
	}
	respondJSON(w, http.StatusBadRequest, body)
}
