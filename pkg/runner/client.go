package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/ortho-idmaker/internal/dbosruntime"
	"github.com/tendant/ortho-idmaker/internal/workflows"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// Client provides a client-only API for starting runs without executing them
// Use this in applications that want to enqueue runs for workers to execute
type Client struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

// NewClient creates a client that can start runs but doesn't execute them
// Workers must be running separately to execute the enqueued runs
func NewClient(cfg Config) (*Client, error) {
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		QueueName:          cfg.QueueName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	// No workflows registered: enqueue only
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime, nil, cfg.Logger)

	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Client{
		runtime: dbosRuntime,
		runner:  workflowRunner,
	}, nil
}

// RunIdentify enqueues an identification run for workers to execute
func (c *Client) RunIdentify(ctx context.Context, site string, params pipeline.IdentifyParams) (string, error) {
	return c.runner.RunAsync(ctx, IdentifyRequest(site, params))
}

// RunTile enqueues a tiling run for workers to execute
func (c *Client) RunTile(ctx context.Context, site string, params pipeline.TileParams) (string, error) {
	return c.runner.RunAsync(ctx, TileRequest(site, params))
}

// Status reports the state of a run
func (c *Client) Status(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	return c.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the client
func (c *Client) Shutdown(timeoutSeconds int) {
	if c.runtime != nil {
		c.runtime.Shutdown(time.Duration(timeoutSeconds) * time.Second)
	}
}
