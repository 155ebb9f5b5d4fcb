package workflows

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

var (
	// ErrWorkflowNotFound is returned when no workflow is registered for a job
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepFailed is returned when a workflow step fails
	ErrStepFailed = errors.New("workflow step failed")

	// ErrInvalidRequest is returned when the request is invalid
	ErrInvalidRequest = pipeline.ErrInvalidRequest
)

// StepError names the workflow step that failed. It matches both ErrStepFailed
// and the underlying cause.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

func stepFailed(step string, err error) error {
	return &StepError{Step: step, Err: err}
}
