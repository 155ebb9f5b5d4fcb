package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/repository"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Upsert creates the run or replaces its counters.
func (r *RunRepository) Upsert(ctx context.Context, run *repository.Run) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO runs (id, ortho_path, model_class, policy, radius, detections, individuals, failed_tiles)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ortho_path = excluded.ortho_path,
			model_class = excluded.model_class,
			policy = excluded.policy,
			radius = excluded.radius,
			detections = excluded.detections,
			individuals = excluded.individuals,
			failed_tiles = excluded.failed_tiles
	`, run.ID, run.OrthoPath, run.ModelClass, run.Policy, run.Radius, run.Detections, run.Individuals,
		strings.Join(run.FailedTiles, "\n"))
	if err != nil {
		return errors.Wrapf(err, "failed to upsert run %s", run.ID)
	}
	return nil
}

// Get retrieves one run.
func (r *RunRepository) Get(ctx context.Context, id string) (*repository.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, ortho_path, model_class, policy, radius, detections, individuals, failed_tiles, created_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(repository.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan run")
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]repository.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, ortho_path, model_class, policy, radius, detections, individuals, failed_tiles, created_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []repository.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*repository.Run, error) {
	var (
		run    repository.Run
		failed string
	)
	if err := s.Scan(&run.ID, &run.OrthoPath, &run.ModelClass, &run.Policy, &run.Radius,
		&run.Detections, &run.Individuals, &failed, &run.CreatedAt); err != nil {
		return nil, err
	}
	if failed != "" {
		run.FailedTiles = strings.Split(failed, "\n")
	}
	return &run, nil
}
