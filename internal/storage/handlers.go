package storage

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Handlers exposes uploaded files over HTTP.
type Handlers struct {
	store    *Store
	onDelete func(namespace, path string) error
}

func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// OnDelete registers fn to run after a file was deleted, so indexes kept
// elsewhere can drop it too.
func (h *Handlers) OnDelete(fn func(namespace, path string) error) {
	h.onDelete = fn
}

func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	path := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	if path == "" {
		http.NotFound(w, r)
		return
	}

	content, err := h.store.Get(user, path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	path := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	if err := h.store.Delete(user, path); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if h.onDelete != nil {
		if err := h.onDelete(user, path); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type ListResponse struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	prefix := r.URL.Query().Get("prefix")

	files, err := h.store.List(user, prefix)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Files: files,
		Count: len(files),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
