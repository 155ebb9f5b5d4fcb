// Package dbosruntime hosts identify and tile runs on DBOS. It owns the
// durable queue runs are enqueued on and answers status lookups for
// GET /v1/runs/{id} from the DBOS system tables.
package dbosruntime

import (
	"context"
	"database/sql"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Runtime is one process's DBOS context plus its run queue. Identify and tile
// workflows are registered against Context before Launch.
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       *dbos.WorkflowQueue
	config      Config
	db          *sql.DB
	status      *StatusStore
}

// NewRuntime connects to the DBOS system database and declares the run queue,
// bounded to cfg.Concurrency runs per worker. Nothing executes until Launch.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}
	cfg.WithDefaults()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create DBOS context for %s", cfg.AppName)
	}
	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName, dbos.WithWorkerConcurrency(cfg.Concurrency))

	// status reads go straight to dbos.workflow_status
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		dbos.Shutdown(dbosCtx, time.Second)
		return nil, errors.Wrap(err, "failed to open run status database")
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       &queue,
		config:      cfg,
		db:          db,
		status:      NewStatusStore(db),
	}, nil
}

// Launch starts dequeuing runs and recovers runs left pending by a previous
// worker.
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return errors.Wrap(err, "failed to launch DBOS")
	}
	return nil
}

// Shutdown waits up to timeout for in-flight runs, then closes the status
// database.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Context is the DBOS context workflows are registered and enqueued with.
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName names the queue identify and tile runs are enqueued on.
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency is the per-worker cap on runs executing at once.
func (r *Runtime) Concurrency() int {
	return r.config.Concurrency
}

// GetWorkflowStatus looks up an enqueued run by its run ID. Unknown IDs return
// ErrWorkflowNotFound.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, runID string) (*WorkflowStatusInfo, error) {
	return r.status.Get(ctx, runID)
}
