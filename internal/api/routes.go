package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webdoc/webdoc/internal/config"
	"github.com/webdoc/webdoc/internal/orchestrator"
	"github.com/webdoc/webdoc/internal/queue"
	"github.com/webdoc/webdoc/internal/worker"
	"github.com/webdoc/webdoc/internal/ws"
)

type Option func(*Handlers)

// WithWorkerStats adds the pipeline counters to GET /stats.
func WithWorkerStats(fn func() worker.Stats) Option {
	return func(h *Handlers) { h.workerStats = fn }
}

// WithQueueStats adds the queue backlog to GET /stats.
func WithQueueStats(fn func() queue.Stats) Option {
	return func(h *Handlers) { h.queueStats = fn }
}

// NewRouter mounts the job API. watch may be nil, in which case the
// websocket route is not registered.
func NewRouter(cfg *config.Config, orch *orchestrator.Orchestrator, watch *ws.Server, opts ...Option) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	h := NewHandlers(orch)
	for _, opt := range opts {
		opt(h)
	}

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Jobs
	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs/{id}", h.GetJob)
	if watch != nil {
		r.Get("/jobs/{id}/watch", watch.HandleWatch)
	}

	// Documents
	r.Get("/documents", h.ListDocuments)
	r.Delete("/documents/{id}", h.DeleteDocument)
	r.Get("/download/{filename}", h.Download)

	// Paths used by the web form client
	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", h.SubmitJob)
		r.Get("/scrape/{id}", h.GetJob)
		r.Get("/documents", h.ListDocuments)
		r.Delete("/documents/{id}", h.DeleteDocument)
		r.Get("/download/{filename}", h.Download)
	})

	return r
}
