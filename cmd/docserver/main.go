package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docserver/docserver/internal/api"
	"github.com/docserver/docserver/internal/config"
	"github.com/docserver/docserver/internal/db"
	"github.com/docserver/docserver/internal/job"
	"github.com/docserver/docserver/internal/logging"
	"github.com/docserver/docserver/internal/retention"
	"github.com/docserver/docserver/internal/storage"
	"github.com/docserver/docserver/internal/upload"
	"github.com/docserver/docserver/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (environment variables are used when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("docserver stopped with error")
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Load()
	} else {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// services holds what the chosen upload mode wires up besides the upload
// function itself.
type services struct {
	upload   job.UploadFunc
	files    *storage.Store
	manifest *upload.Manifest
	closeDB  func() error
}

func buildServices(cfg *config.Config, log *logrus.Logger) (*services, error) {
	switch cfg.UploadMode {
	case config.UploadModeStorage:
		files, err := storage.NewStore(filepath.Join(cfg.DataDir, "files"))
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		kv, err := db.NewStore(filepath.Join(cfg.DataDir, "db"), log)
		if err != nil {
			return nil, fmt.Errorf("open manifest db: %w", err)
		}
		manifest := upload.NewManifest(kv)
		uploader := upload.NewStorageUploader(cfg.SourceDir, files, manifest, log.WithField("component", "uploader"))
		return &services{
			upload:   uploader.Upload,
			files:    files,
			manifest: manifest,
			closeDB:  kv.Close,
		}, nil
	default:
		sim := upload.NewSimulated(cfg.FailureChance, cfg.MaxUploadTime)
		return &services{
			upload:  sim.Upload,
			closeDB: func() error { return nil },
		}, nil
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	log.WithFields(logrus.Fields{
		"node_id":        cfg.NodeID,
		"http_port":      cfg.HTTPPort,
		"upload_mode":    cfg.UploadMode,
		"max_concurrent": cfg.MaxConcurrent,
	}).Info("starting docserver")

	svc, err := buildServices(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.closeDB(); err != nil {
			log.WithError(err).Error("close manifest db")
		}
	}()

	watch := ws.NewServer(log.WithField("component", "ws"))
	dispatcher := job.NewDispatcher(svc.upload,
		job.WithMaxConcurrent(cfg.MaxConcurrent),
		job.WithLogger(log.WithField("component", "dispatcher")),
		job.WithObserver(watch.Publish),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	sweeper, err := retention.New(cfg.SweepSchedule, cfg.FinishedTTL, dispatcher, log.WithField("component", "retention"))
	if err != nil {
		return err
	}
	sweeper.Start()

	router := api.NewRouterWithWatch(cfg, dispatcher, log, svc.files, svc.manifest, watch)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr()).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
		log.Info("shutting down")
	case err := <-serveErr:
		sweeper.Stop()
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.MaxUploadTime+5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	sweeper.Stop()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("uploads still running at exit")
	}

	log.Info("server stopped")
	return nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "docserver - asynchronous document upload service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  HTTP_PORT, MAX_CONCURRENT, UPLOAD_MODE (simulate|storage), DATA_DIR, SOURCE_DIR,\n")
		fmt.Fprintf(os.Stderr, "  FAILURE_CHANCE, MAX_UPLOAD_TIME, FINISHED_TTL, SWEEP_SCHEDULE, LOG_LEVEL, LOG_FORMAT\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                  # Simulated uploads on :8000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  UPLOAD_MODE=storage %s              # Copy files into ./data\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config docserver.yaml\n", os.Args[0])
	}
}
