// Package runner embeds the identify and tile workflows in another program,
// backed by DBOS for durable execution.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/internal/dbosruntime"
	"github.com/tendant/ortho-idmaker/internal/storage"
	"github.com/tendant/ortho-idmaker/internal/workflows"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// Config holds the configuration for initializing the pipeline runner
type Config struct {
	DatabaseURL        string // DBOS PostgreSQL connection string
	AppName            string // Application name for DBOS
	QueueName          string // DBOS queue name
	Concurrency        int    // Number of concurrent runs
	ContentAPIURL      string // URL of the content API server; empty disables publishing
	ApplicationVersion string // Optional: Override binary hash for version matching
	Logger             *zap.SugaredLogger
}

// Runner executes identify and tile runs via DBOS in this process
type Runner struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

// New creates and initializes a new pipeline runner with DBOS integration
func New(cfg Config) (*Runner, error) {
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		QueueName:          cfg.QueueName,
		Concurrency:        cfg.Concurrency,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime, nil, cfg.Logger)

	var (
		contentReader workflows.ContentReader
		derivedWriter workflows.DerivedWriter
	)
	if cfg.ContentAPIURL != "" {
		contentReader = storage.NewHTTPContentReader(cfg.ContentAPIURL)
		derivedWriter = storage.NewHTTPDerivedWriter(cfg.ContentAPIURL)
	}
	workflowRunner.Register(pipeline.JobIdentify, workflows.NewIdentifyWorkflow(contentReader, derivedWriter, cfg.Logger))
	workflowRunner.Register(pipeline.JobTile, workflows.NewTileWorkflow(derivedWriter, cfg.Logger))

	// Launch DBOS (must be after workflow registration)
	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Runner{
		runtime: dbosRuntime,
		runner:  workflowRunner,
	}, nil
}

// RunIdentify enqueues an identification run for a site
func (r *Runner) RunIdentify(ctx context.Context, site string, params pipeline.IdentifyParams) (string, error) {
	return r.runner.RunAsync(ctx, IdentifyRequest(site, params))
}

// RunTile enqueues a tiling run for a site
func (r *Runner) RunTile(ctx context.Context, site string, params pipeline.TileParams) (string, error) {
	return r.runner.RunAsync(ctx, TileRequest(site, params))
}

// Status reports the state of a run
func (r *Runner) Status(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the pipeline runner
func (r *Runner) Shutdown(timeoutSeconds int) {
	if r.runtime != nil {
		r.runtime.Shutdown(time.Duration(timeoutSeconds) * time.Second)
	}
}

// IdentifyRequest wraps identify parameters in a request
func IdentifyRequest(site string, params pipeline.IdentifyParams) pipeline.ProcessRequest {
	return pipeline.ProcessRequest{
		Site:     site,
		Job:      pipeline.JobIdentify,
		Identify: &params,
		Versions: map[string]int{pipeline.DerivedTypeDetectionTable: 1},
	}
}

// TileRequest wraps tile parameters in a request
func TileRequest(site string, params pipeline.TileParams) pipeline.ProcessRequest {
	return pipeline.ProcessRequest{
		Site:     site,
		Job:      pipeline.JobTile,
		Tile:     &params,
		Versions: map[string]int{pipeline.DerivedTypeGeorefTable: 1},
	}
}
