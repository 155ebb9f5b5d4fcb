// Package repository defines persistence for identification runs and their
// detection tables.
package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/table"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run describes one identification run.
type Run struct {
	ID          string
	OrthoPath   string
	ModelClass  string
	Policy      string
	Radius      float64
	Detections  int
	Individuals int
	FailedTiles []string
	CreatedAt   time.Time
}

// RunRepository defines the interface for run bookkeeping.
type RunRepository interface {
	// Create operations
	Upsert(ctx context.Context, run *Run) error

	// Read operations
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
}

// DetectionRepository defines the interface for final detection rows.
type DetectionRepository interface {
	// Create operations
	InsertBatch(ctx context.Context, runID string, rows []table.Row) error

	// Read operations
	GetByRun(ctx context.Context, runID string) ([]table.Row, error)
	CountIndividuals(ctx context.Context, runID string) (int, error)

	// Delete operations
	DeleteByRun(ctx context.Context, runID string) error
}
