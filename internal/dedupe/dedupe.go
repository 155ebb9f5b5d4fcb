// Package dedupe keeps a ledger of run submissions so repeated requests for the
// same site and job are visible to the caller.
package dedupe

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

// Tracker tracks duplicate run submissions
type Tracker struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewTracker creates a dedupe tracker over a postgres or sqlite database
func NewTracker(db *sql.DB, logger *zap.SugaredLogger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	tracker := &Tracker{db: db, logger: logger}

	if err := tracker.ensureTable(); err != nil {
		return nil, errors.Wrap(err, "failed to ensure dedupe table")
	}

	return tracker, nil
}

// ensureTable creates the process_dedupe table if it doesn't exist
func (t *Tracker) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS process_dedupe (
			dedupe_key TEXT PRIMARY KEY,
			job TEXT NOT NULL,
			job_version INTEGER,
			first_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			seen_count INTEGER DEFAULT 1
		)
	`

	if _, err := t.db.Exec(query); err != nil {
		return errors.Wrap(err, "failed to create process_dedupe table")
	}

	t.logger.Info("✓ process_dedupe table ready")
	return nil
}

// Record records a submission and returns how many times its key has been seen
func (t *Tracker) Record(ctx context.Context, req pipeline.ProcessRequest) (int, error) {
	version := req.Version(derivedTypeFor(req.Job))

	query := `
		INSERT INTO process_dedupe (dedupe_key, job, job_version, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 1)
		ON CONFLICT (dedupe_key) DO UPDATE
		SET last_seen_at = CURRENT_TIMESTAMP,
		    seen_count = process_dedupe.seen_count + 1,
		    job_version = EXCLUDED.job_version
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, req.DedupeKey(), req.Job, version).Scan(&seenCount)
	if err != nil {
		return 0, errors.Wrap(err, "failed to record dedupe")
	}
	if seenCount > 1 {
		t.logger.Infow("repeated submission", "key", req.DedupeKey(), "seen_count", seenCount)
	}

	return seenCount, nil
}

// GetSeenCount retrieves the seen count for a dedupe key
func (t *Tracker) GetSeenCount(ctx context.Context, key string) (int, error) {
	query := `SELECT seen_count FROM process_dedupe WHERE dedupe_key = $1`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, key).Scan(&seenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get seen count")
	}

	return seenCount, nil
}

func derivedTypeFor(job string) string {
	if job == pipeline.JobTile {
		return pipeline.DerivedTypeGeorefTable
	}
	return pipeline.DerivedTypeDetectionTable
}
