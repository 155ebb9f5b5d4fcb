package workflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/internal/dbosruntime"
	"github.com/tendant/ortho-idmaker/internal/metrics"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution.
// Error is a message rather than an error value so results survive DBOS checkpointing.
type WorkflowResult struct {
	Success bool
	Error   string
	Outputs map[string]interface{}
}

func failed(err error) *WorkflowResult {
	return &WorkflowResult{Success: false, Error: err.Error()}
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// WorkflowRunner executes workflows
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
}

// NewWorkflowRunner creates a workflow runner. dbosRuntime may be nil, in which
// case only synchronous runs are available.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime, m *metrics.Metrics, logger *zap.SugaredLogger) *WorkflowRunner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
		metrics:     m,
		logger:      logger,
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Run executes a workflow synchronously. A missing RunID is generated.
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		err := errors.Wrapf(ErrWorkflowNotFound, "job %q", wctx.Request.Job)
		return failed(err), err
	}
	if wctx.RunID == "" {
		wctx.RunID = uuid.NewString()
	}

	r.logger.Debugw("running workflow", "workflow", workflow.Name(), "run_id", wctx.RunID)
	result, err := workflow.Execute(wctx)
	err = runErr(result, err)
	r.metrics.ObserveRun(wctx.Request.Job, err)
	if err != nil {
		r.logger.Errorw("workflow failed", "workflow", workflow.Name(), "run_id", wctx.RunID, "error", err)
	}
	return result, err
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", errors.New("DBOS runtime not initialized")
	}
	// Workers may run in another process, so only the request is checked here.
	if err := req.Validate(); err != nil {
		return "", err
	}

	workflowID := fmt.Sprintf("%s-%s", req.DedupeKey(), uuid.NewString())

	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to enqueue workflow")
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return failed(err), err
	}

	// DBOSContext implements context.Context
	return r.Run(&WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	})
}

// GetStatus retrieves the status of an enqueued run
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires DBOS runtime")
	}
	info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &pipeline.RunStatus{
		RunID:     info.WorkflowUUID,
		State:     dbosruntime.State(info.Status),
		Name:      info.Name,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
	}, nil
}

func runErr(result *WorkflowResult, err error) error {
	if err != nil {
		return err
	}
	if result != nil && !result.Success {
		return errors.New(result.Error)
	}
	return nil
}
