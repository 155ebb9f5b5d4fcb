package dbosruntime

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ErrWorkflowNotFound is returned when DBOS has no record of a workflow ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowStatusInfo represents the status of a workflow
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	CreatedAt    int64
	UpdatedAt    int64
}

// StatusStore queries the DBOS workflow status table.
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore wraps a connection to the DBOS system database.
func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

// Get retrieves the status row of a workflow
func (s *StatusStore) Get(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := s.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrWorkflowNotFound, "workflow %s", workflowUUID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query workflow status")
	}

	return &info, nil
}

// State maps a DBOS workflow status to the run states reported by the worker:
// pending, running, succeeded, failed or cancelled.
func State(dbosStatus string) string {
	switch dbosStatus {
	case "ENQUEUED":
		return "pending"
	case "PENDING":
		return "running"
	case "SUCCESS":
		return "succeeded"
	case "ERROR", "MAX_RECOVERY_ATTEMPTS_EXCEEDED", "RETRIES_EXCEEDED":
		return "failed"
	case "CANCELLED":
		return "cancelled"
	default:
		return "unknown"
	}
}
