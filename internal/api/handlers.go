package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/webdoc/webdoc/internal/job"
	"github.com/webdoc/webdoc/internal/orchestrator"
	"github.com/webdoc/webdoc/internal/queue"
	"github.com/webdoc/webdoc/internal/storage"
	"github.com/webdoc/webdoc/internal/worker"
)

const maxRequestBody = 64 << 10

var startTime = time.Now()

type Handlers struct {
	orch        *orchestrator.Orchestrator
	workerStats func() worker.Stats
	queueStats  func() queue.Stats
}

func NewHandlers(orch *orchestrator.Orchestrator) *Handlers {
	return &Handlers{orch: orch}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"jobs":           st,
	}
	if h.workerStats != nil {
		resp["workers"] = h.workerStats()
	}
	if h.queueStats != nil {
		resp["queue"] = h.queueStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := decodeSubmit(body)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	j, err := h.orch.Submit(r.Context(), req.URL, req.Format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := h.orch.Documents(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	j, f, err := h.orch.Open(r.Context(), filename)
	if errors.Is(err, job.ErrNotFound) || errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	modified := j.CreatedAt
	if j.CompletedAt != nil {
		modified = *j.CompletedAt
	}
	w.Header().Set("Content-Type", j.Format.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	http.ServeContent(w, r, filename, modified, f)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "job not found")
	case errors.Is(err, orchestrator.ErrNotCompleted):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
