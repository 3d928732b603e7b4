package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finderskeepers/internal/chunker"
	"finderskeepers/internal/config"
	"finderskeepers/internal/extract"
	"finderskeepers/internal/ingestion"
	"finderskeepers/internal/persistence/databases"
	"finderskeepers/internal/query"
	"finderskeepers/internal/sessionlog"
)

func newTestServer(t *testing.T) (*Server, databases.Manager) {
	t.Helper()
	mgr := databases.Manager{
		Search:  databases.NewMemorySearch(),
		Vector:  databases.NewMemoryVector(),
		Graph:   databases.NewMemoryGraph(),
		Records: databases.NewMemoryRecords(),
	}
	registry := extract.NewRegistry(extract.Options{})
	c := chunker.New(config.ChunkerConfig{})
	cfg := config.IngestionConfig{Workers: 2, QueueCapacity: 16, MaxUploadBytes: 1024 * 1024}
	orch := ingestion.New(mgr, registry, c, nil, cfg, nil)
	t.Cleanup(orch.Stop)

	sessions := sessionlog.New(mgr.Records, orch)
	qe := query.New(mgr, nil, config.QueryConfig{DefaultK: 10, RRFK: 60, SameDocBonus: 0.01, SameDocCap: 3})
	return NewServer(orch, sessions, qe, cfg), mgr
}

func waitForJobTerminal(t *testing.T, s *Server, jobID ingestion.JobID) ingestion.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.orchestrator.GetJob(jobID)
		if ok && isTerminal(job.Status) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return ingestion.Job{}
}

func multipartFileBody(t *testing.T, fieldname, filename string, content []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile(fieldname, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestHandleIngestFile_AcceptsUploadAndReturnsJobID(t *testing.T) {
	s, _ := newTestServer(t)
	body, contentType := multipartFileBody(t, "file", "note.txt", []byte("hello world note"), map[string]string{
		"project": "proj1", "tags": "alpha,beta",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	job := waitForJobTerminal(t, s, resp.JobID)
	require.Equal(t, ingestion.StatusDone, job.Status)
}

func TestHandleIngestFile_MissingProjectIsValidationError(t *testing.T) {
	s, _ := newTestServer(t)
	body, contentType := multipartFileBody(t, "file", "note.txt", []byte("no project here"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp, "error")
}

func TestHandleIngestFile_RejectsProjectPathTraversal(t *testing.T) {
	s, _ := newTestServer(t)
	body, contentType := multipartFileBody(t, "file", "note.txt", []byte("hi"), map[string]string{
		"project": "../../etc",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngestURL_GuessesHTMLFilename(t *testing.T) {
	require.Equal(t, "page.html", filenameForURL("https://example.com/"))
	require.Equal(t, "report.pdf", filenameForURL("https://example.com/files/report.pdf"))
	require.Equal(t, "article.html", filenameForURL("https://example.com/blog/article"))
}

func TestHandleJobStatus_NotFoundForUnknownJob(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ingest/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionWebhook_NeverFailsOnUnknownSession(t *testing.T) {
	s, _ := newTestServer(t)
	payload, _ := json.Marshal(map[string]any{
		"action_type": "session_start",
		"session_id":  "sess-http-1",
		"agent_type":  "claude",
		"project":     "proj1",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook/session-logger", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleActionWebhook_RecordsMessageFromDetails(t *testing.T) {
	s, mgr := newTestServer(t)
	payload, _ := json.Marshal(map[string]any{
		"session_id":  "sess-http-2",
		"action_type": "note",
		"description": "added a note",
		"success":     true,
		"details": map[string]string{
			"message_type": "assistant",
			"content":      "here's a thought",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook/action-tracker", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	messages, err := mgr.Records.ListSessionMessages(req.Context(), "sess-http-2")
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestHandleQuery_RejectsEmptyQuery(t *testing.T) {
	s, _ := newTestServer(t)
	payload, _ := json.Marshal(map[string]any{"project": "proj1"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_ReturnsResultsForIndexedContent(t *testing.T) {
	s, mgr := newTestServer(t)
	require.NoError(t, mgr.Search.Index(context.Background(), "chunk:doc1:0", "postgres indexing strategies for large tables", map[string]string{"doc_id": "doc1"}))

	payload, _ := json.Marshal(map[string]any{"q": "postgres indexing", "project": "proj1", "mode": "keyword"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []map[string]any `json:"results"`
		TookMS  int64            `json:"took_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
}
