package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/docserver/docserver/internal/config"
	"github.com/docserver/docserver/internal/job"
	"github.com/docserver/docserver/internal/upload"
)

const version = "0.1.0"

var startTime = time.Now()

// Dispatcher is the part of *job.Dispatcher the HTTP layer needs.
type Dispatcher interface {
	Submit(req job.Request) (uint64, error)
	Status(id uint64) (job.Status, bool)
	Remove(id uint64) bool
	Stats() job.Stats
	MaxConcurrent() int
}

type Handlers struct {
	cfg        *config.Config
	dispatcher Dispatcher
	manifest   *upload.Manifest
	log        logrus.FieldLogger
}

func NewHandlers(cfg *config.Config, d Dispatcher, log logrus.FieldLogger) *Handlers {
	return &Handlers{cfg: cfg, dispatcher: d, log: log}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"version":        version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"max_concurrent": h.dispatcher.MaxConcurrent(),
		"upload_mode":    h.cfg.UploadMode,
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"uploads":        h.dispatcher.Stats(),
	})
}

// IdentifierResponse carries the id of a submitted upload as a decimal
// string. An empty identifier means nothing was queued.
type IdentifierResponse struct {
	Identifier string `json:"identifier"`
	Error      string `json:"error,omitempty"`
}

type StatusResponse struct {
	ID string `json:"id"`
	job.Status
}

func (h *Handlers) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, IdentifierResponse{Error: "invalid request body"})
		return
	}

	id, err := h.dispatcher.Submit(req)
	if err != nil {
		h.log.WithError(err).WithField("path", req.Path).Error("upload submission failed")
		status := http.StatusInternalServerError
		if errors.Is(err, job.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, IdentifierResponse{Error: "upload not accepted"})
		return
	}

	writeJSON(w, http.StatusCreated, IdentifierResponse{Identifier: strconv.FormatUint(id, 10)})
}

// GetUpload returns the status of an upload. A finished status is only
// returned once; later requests get 404.
func (h *Handlers) GetUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "upload not found"})
		return
	}

	st, ok := h.dispatcher.Status(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "upload not found"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{ID: strconv.FormatUint(id, 10), Status: st})
}

func (h *Handlers) DeleteUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok || !h.dispatcher.Remove(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "upload not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListManifest(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	entries, err := h.manifest.List(user)
	if err != nil {
		h.log.WithError(err).WithField("user", user).Error("list manifest failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list uploads"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"uploads": entries,
		"count":   len(entries),
	})
}

func (h *Handlers) GetManifestEntry(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	path := chi.URLParam(r, "*")

	entry, err := h.manifest.Get(user, path)
	if err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "manifest entry not found"})
			return
		}
		h.log.WithError(err).WithFields(logrus.Fields{"user": user, "path": path}).Error("get manifest entry failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get upload"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// parseID reads the {id} URL parameter. Anything that is not a positive
// decimal uint64 is treated as unknown.
func parseID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
