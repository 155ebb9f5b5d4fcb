package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/internal/config"
	"github.com/tendant/ortho-idmaker/internal/logging"
	"github.com/tendant/ortho-idmaker/internal/metrics"
	"github.com/tendant/ortho-idmaker/internal/repository/sqlite"
	"github.com/tendant/ortho-idmaker/internal/storage"
	"github.com/tendant/ortho-idmaker/internal/workflows"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// Exit codes
const (
	exitOK      = 0
	exitFailed  = 1
	exitPartial = 2
)

// Batch identification or tiling of one site, configured from the environment.
func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitFailed
	}

	logger, flush := logging.New("idmaker", logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer flush()

	req, err := cfg.Request()
	if err != nil {
		logger.Errorw("invalid configuration", "error", err)
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	runner := workflows.NewWorkflowRunner(nil, m, logger)

	var derivedWriter workflows.DerivedWriter
	var contentReader workflows.ContentReader
	if cfg.ContentAPIURL != "" {
		logger.Infow("using simple-content HTTP API", "url", cfg.ContentAPIURL)
		contentReader = storage.NewHTTPContentReader(cfg.ContentAPIURL)
		derivedWriter = storage.NewHTTPDerivedWriter(cfg.ContentAPIURL)
	}

	identify := workflows.NewIdentifyWorkflow(contentReader, derivedWriter, logger).WithMetrics(m)
	if cfg.SQLitePath != "" {
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			logger.Errorw("failed to open detection store", "path", cfg.SQLitePath, "error", err)
			return exitFailed
		}
		defer db.Close()
		identify.WithRepositories(sqlite.NewRunRepository(db), sqlite.NewDetectionRepository(db))
		logger.Infow("✓ detection store ready", "path", cfg.SQLitePath)
	}
	runner.Register(pipeline.JobIdentify, identify)
	runner.Register(pipeline.JobTile, workflows.NewTileWorkflow(derivedWriter, logger))

	wctx := &workflows.WorkflowContext{Ctx: ctx, Request: req}
	result, err := runner.Run(wctx)
	if err != nil {
		logger.Errorw("run failed", "job", req.Job, "run_id", wctx.RunID, "error", err)
		return exitFailed
	}

	printSummary(logger, req.Job, result)
	if failedTiles, _ := result.Outputs["failed_tiles"].([]string); len(failedTiles) > 0 {
		logger.Warnw("some tiles could not be processed", "failed_tiles", failedTiles)
		return exitPartial
	}
	return exitOK
}

func printSummary(logger *zap.SugaredLogger, job string, result *workflows.WorkflowResult) {
	out := result.Outputs
	switch job {
	case pipeline.JobIdentify:
		fmt.Printf("run %v: %v detections, %v individuals (%v duplicates) from %v tiles\n",
			out["run_id"], out["detections"], out["individuals"], out["duplicates"], out["tiles"])
		if p, ok := out["output_path"]; ok {
			fmt.Printf("table: %v\n", p)
		}
	case pipeline.JobTile:
		fmt.Printf("run %v: %v of %v tiles written, %v low contrast\ntable: %v\n",
			out["run_id"], out["written"], out["windows"], out["low_contrast"], out["table_path"])
	}
	logger.Debugw("run outputs", "outputs", out)
}
