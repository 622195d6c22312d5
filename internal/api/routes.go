package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/docserver/docserver/internal/config"
	"github.com/docserver/docserver/internal/storage"
	"github.com/docserver/docserver/internal/upload"
	"github.com/docserver/docserver/internal/ws"
)

func NewRouter(cfg *config.Config, d Dispatcher, log logrus.FieldLogger) http.Handler {
	return NewRouterWithStorage(cfg, d, log, nil, nil)
}

func NewRouterWithStorage(cfg *config.Config, d Dispatcher, log logrus.FieldLogger, files *storage.Store, manifest *upload.Manifest) http.Handler {
	return NewRouterWithWatch(cfg, d, log, files, manifest, nil)
}

func NewRouterWithWatch(cfg *config.Config, d Dispatcher, log logrus.FieldLogger, files *storage.Store, manifest *upload.Manifest, watch *ws.Server) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  log.WithField("component", "http"),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	h := NewHandlers(cfg, d, log)
	h.manifest = manifest

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	// Uploads API
	r.Post("/upload", h.SubmitUpload)
	r.Get("/upload/{id}", h.GetUpload)
	r.Delete("/upload/{id}", h.DeleteUpload)

	// Stored files
	if files != nil {
		fileHandlers := storage.NewHandlers(files)
		if manifest != nil {
			fileHandlers.OnDelete(manifest.Remove)
		}
		r.Route("/api/files/{user}", func(r chi.Router) {
			r.Get("/", fileHandlers.List)
			r.Get("/*", fileHandlers.Download)
			r.Delete("/*", fileHandlers.Delete)
		})
	}

	if manifest != nil {
		r.Get("/api/manifest/{user}", h.ListManifest)
		r.Get("/api/manifest/{user}/*", h.GetManifestEntry)
	}

	// WebSocket
	if watch != nil {
		r.Get("/ws/uploads", watch.HandleWatch)
	}

	return r
}
