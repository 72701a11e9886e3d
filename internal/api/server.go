package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docrecon/internal/config"
	"github.com/dgallion1/docrecon/internal/ocr"
	"github.com/dgallion1/docrecon/internal/pipeline"
	"github.com/dgallion1/docrecon/internal/store"
)

// JobQueue accepts uploads for background reconstruction.
type JobQueue interface {
	Submit(job *pipeline.Job) error
	GetJob(id string) *pipeline.Job
	QueueDepth() int
}

// Server is the HTTP API server for document reconstruction.
type Server struct {
	router chi.Router
	jobs   JobQueue
	store  *store.Store
	stats  *ocr.Stats
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server. stats may be nil.
func NewServer(jobs JobQueue, st *store.Store, stats *ocr.Stats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		jobs:  jobs,
		store: st,
		stats: stats,
		log:   log,
		cfg:   cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Post("/documents/batch", s.handleBatchUpload)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/jobs/{jobID}/result", s.handleJobResult)

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{docID}", s.handleGetDocument)
		r.Patch("/documents/{docID}", s.handleUpdateDocument)
		r.Delete("/documents/{docID}", s.handleDeleteDocument)
		r.Get("/documents/{docID}/pages", s.handleDocumentPages)

		r.Get("/stats/ocr", s.handleOCRStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		jsonError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.jobs.QueueDepth(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
