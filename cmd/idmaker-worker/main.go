package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/tendant/ortho-idmaker/internal/config"
	"github.com/tendant/ortho-idmaker/internal/dbosruntime"
	"github.com/tendant/ortho-idmaker/internal/dedupe"
	"github.com/tendant/ortho-idmaker/internal/handlers"
	"github.com/tendant/ortho-idmaker/internal/logging"
	"github.com/tendant/ortho-idmaker/internal/metrics"
	"github.com/tendant/ortho-idmaker/internal/repository/sqlite"
	"github.com/tendant/ortho-idmaker/internal/storage"
	"github.com/tendant/ortho-idmaker/internal/workflows"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, flush := logging.New("idmaker-worker", logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer flush()

	// Use HTTP API if CONTENT_API_URL is set, otherwise use embedded service
	var contentReader workflows.ContentReader
	var derivedWriter workflows.DerivedWriter
	if cfg.ContentAPIURL != "" {
		logger.Infow("using simple-content HTTP API", "url", cfg.ContentAPIURL)
		contentReader = storage.NewHTTPContentReader(cfg.ContentAPIURL)
		derivedWriter = storage.NewHTTPDerivedWriter(cfg.ContentAPIURL)
	} else {
		logger.Infow("using embedded simple-content service (development preset)", "storage_dir", cfg.StorageDir)
		svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.StorageDir))
		if err != nil {
			logger.Fatalw("failed to initialize simple-content service", "error", err)
		}
		defer cleanup()
		contentReader = storage.NewContentReader(svc)
		derivedWriter = storage.NewDerivedWriter(svc)
	}

	if cfg.DBOSDatabaseURL == "" {
		logger.Fatal("DBOS_SYSTEM_DATABASE_URL is required")
	}
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL: cfg.DBOSDatabaseURL,
		AppName:     "idmaker-worker",
		QueueName:   cfg.DBOSQueueName,
		Concurrency: cfg.DBOSConcurrency,
	})
	if err != nil {
		logger.Fatalw("failed to initialize DBOS", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime, m, logger)

	identify := workflows.NewIdentifyWorkflow(contentReader, derivedWriter, logger).WithMetrics(m)
	if cfg.SQLitePath != "" {
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			logger.Fatalw("failed to open detection store", "path", cfg.SQLitePath, "error", err)
		}
		defer db.Close()
		identify.WithRepositories(sqlite.NewRunRepository(db), sqlite.NewDetectionRepository(db))
	}
	workflowRunner.Register(pipeline.JobIdentify, identify)
	workflowRunner.Register(pipeline.JobTile, workflows.NewTileWorkflow(derivedWriter, logger))
	logger.Infow("✓ registered workflows", "jobs", []string{pipeline.JobIdentify, pipeline.JobTile})

	// Launch DBOS (must be done after workflow registration)
	if err := dbosRuntime.Launch(); err != nil {
		logger.Fatalw("failed to launch DBOS", "error", err)
	}
	defer dbosRuntime.Shutdown(10 * time.Second)
	logger.Infow("✓ DBOS runtime initialized", "queue", dbosRuntime.QueueName(), "concurrency", dbosRuntime.Concurrency())

	var seen handlers.SeenRecorder
	if cfg.DedupeDatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DedupeDatabaseURL)
		if err != nil {
			logger.Fatalw("failed to open dedupe database", "error", err)
		}
		defer db.Close()
		tracker, err := dedupe.NewTracker(db, logger)
		if err != nil {
			logger.Fatalw("failed to initialize dedupe tracker", "error", err)
		}
		seen = tracker
	}

	asyncHandler := handlers.NewAsyncHandler(workflowRunner, seen, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/process", asyncHandler.HandleProcessAsync)
	mux.HandleFunc("/v1/runs/", asyncHandler.HandleStatus)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Infow("✓ worker ready", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// handleHealth returns health status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}
