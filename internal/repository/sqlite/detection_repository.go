package sqlite

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/table"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch replaces the detection table of a run in a single transaction.
// Row order is kept as the ordinal.
func (r *DetectionRepository) InsertBatch(ctx context.Context, runID string, rows []table.Row) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM detections WHERE run_id = ?`, runID); err != nil {
		return errors.Wrap(err, "failed to clear detections")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (run_id, ordinal, tile_name, model_class, canonical_id, provisional_id,
			confidence, rel_x, rel_y, abs_x, abs_y, geo_x, geo_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, runID, i, row.TileName, row.ModelClass,
			row.CanonicalID.String(), row.ProvisionalID.String(),
			row.Confidence, row.RelX, row.RelY, row.AbsX, row.AbsY, row.GeoX, row.GeoY); err != nil {
			return errors.Wrapf(err, "failed to insert detection %d", i)
		}
	}

	return tx.Commit()
}

// GetByRun retrieves the detection table of a run in ordinal order.
func (r *DetectionRepository) GetByRun(ctx context.Context, runID string) ([]table.Row, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT tile_name, model_class, canonical_id, provisional_id,
			confidence, rel_x, rel_y, abs_x, abs_y, geo_x, geo_y
		FROM detections WHERE run_id = ? ORDER BY ordinal
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query detections")
	}
	defer rows.Close()

	var out []table.Row
	for rows.Next() {
		var (
			row                    table.Row
			canonical, provisional string
		)
		if err := rows.Scan(&row.TileName, &row.ModelClass, &canonical, &provisional,
			&row.Confidence, &row.RelX, &row.RelY, &row.AbsX, &row.AbsY, &row.GeoX, &row.GeoY); err != nil {
			return nil, errors.Wrap(err, "failed to scan detection")
		}
		if row.CanonicalID, err = uuid.Parse(canonical); err != nil {
			return nil, errors.Wrapf(err, "bad canonical id %q", canonical)
		}
		if row.ProvisionalID, err = uuid.Parse(provisional); err != nil {
			return nil, errors.Wrapf(err, "bad provisional id %q", provisional)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountIndividuals returns the number of distinct canonical IDs in a run.
func (r *DetectionRepository) CountIndividuals(ctx context.Context, runID string) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	err := r.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT canonical_id) FROM detections WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count individuals")
	}
	return n, nil
}

// DeleteByRun removes all detections of a run.
func (r *DetectionRepository) DeleteByRun(ctx context.Context, runID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM detections WHERE run_id = ?`, runID); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	return nil
}
