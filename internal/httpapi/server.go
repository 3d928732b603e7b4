// Package httpapi exposes the ingestion, webhook-intake, and query
// surfaces named in SPEC_FULL.md 6 over HTTP, generalizing the teacher's
// gorilla/mux-routed Server from a playground prompt/dataset API to the
// knowledge-hub's three concerns.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"finderskeepers/internal/config"
	"finderskeepers/internal/ingestion"
	"finderskeepers/internal/query"
	"finderskeepers/internal/sessionlog"
)

// Server wires the ingestion orchestrator, session logger, and query engine
// behind one gorilla/mux router.
type Server struct {
	orchestrator *ingestion.Orchestrator
	sessions     *sessionlog.Logger
	queryEngine  *query.Engine
	cfg          config.IngestionConfig
	router       *mux.Router
}

func NewServer(orchestrator *ingestion.Orchestrator, sessions *sessionlog.Logger, queryEngine *query.Engine, cfg config.IngestionConfig) *Server {
	s := &Server{orchestrator: orchestrator, sessions: sessions, queryEngine: queryEngine, cfg: cfg, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/ingest/file", s.handleIngestFile).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ingest/url", s.handleIngestURL).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ingest/batch", s.handleIngestBatch).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ingest/jobs/{job_id}", s.handleJobStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ingest/jobs/{job_id}/events", s.handleJobEvents).Methods(http.MethodGet)

	s.router.HandleFunc("/webhook/session-logger", s.handleSessionWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook/action-tracker", s.handleActionWebhook).Methods(http.MethodPost)

	s.router.HandleFunc("/api/query", s.handleQuery).Methods(http.MethodPost)
}
