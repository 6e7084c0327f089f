package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"deer-cwd-pairing/internal/models"
	"deer-cwd-pairing/internal/utils"
)

// Schema creates the pairing tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS pairing_runs (
	run_id          UUID PRIMARY KEY,
	seed            BIGINT NOT NULL,
	trials          INTEGER NOT NULL,
	cases           INTEGER NOT NULL,
	controls        INTEGER NOT NULL,
	best_trial      INTEGER NOT NULL,
	matches         INTEGER NOT NULL,
	unmatched       INTEGER NOT NULL,
	median_interval DOUBLE PRECISION NOT NULL,
	median_age_diff DOUBLE PRECISION,
	source          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trial_summaries (
	run_id           UUID NOT NULL REFERENCES pairing_runs(run_id) ON DELETE CASCADE,
	trial            INTEGER NOT NULL,
	rank             INTEGER NOT NULL,
	seed             BIGINT NOT NULL,
	matches          INTEGER NOT NULL,
	unmatched        INTEGER NOT NULL,
	short_intervals  INTEGER NOT NULL,
	median_interval  DOUBLE PRECISION NOT NULL,
	median_age_diff  DOUBLE PRECISION,
	large_age_diffs  INTEGER NOT NULL,
	missing_age_diff INTEGER NOT NULL,
	PRIMARY KEY (run_id, trial)
);

CREATE TABLE IF NOT EXISTS pairing_assignments (
	run_id             UUID NOT NULL REFERENCES pairing_runs(run_id) ON DELETE CASCADE,
	case_id            TEXT NOT NULL,
	control_id         TEXT NOT NULL,
	case_coverage_days INTEGER NOT NULL,
	sex_match          BOOLEAN NOT NULL,
	interval_match     INTEGER NOT NULL,
	age_diff           DOUBLE PRECISION,
	tier               TEXT NOT NULL,
	PRIMARY KEY (run_id, case_id),
	UNIQUE (run_id, control_id)
);

CREATE INDEX IF NOT EXISTS idx_trial_summaries_rank ON trial_summaries(run_id, rank);
`

// PairingRepository handles pairing run database operations.
type PairingRepository struct {
	db *DB
}

// NewPairingRepository creates a new pairing repository.
func NewPairingRepository(db *DB) *PairingRepository {
	return &PairingRepository{db: db}
}

// EnsureSchema creates the pairing tables if needed.
func (r *PairingRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	utils.GetLogger().Info("Pairing schema ready")
	return nil
}

// SaveRun stores the run, every trial summary and the selected assignments in
// one transaction.
func (r *PairingRepository) SaveRun(ctx context.Context, run *models.RunResult, source string) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pairing_runs (
				run_id, seed, trials, cases, controls, best_trial,
				matches, unmatched, median_interval, median_age_diff, source, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			run.RunID, run.Seed, run.Trials, run.Cases, run.Controls, run.Best.Trial,
			run.Best.Matches, run.Best.Unmatched, run.Best.MedianInterval,
			nullableFloat(run.Best.MedianAgeDiff), source, run.StartedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range run.Results {
			t := &run.Results[i]
			batch.Queue(`
				INSERT INTO trial_summaries (
					run_id, trial, rank, seed, matches, unmatched, short_intervals,
					median_interval, median_age_diff, large_age_diffs, missing_age_diff
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				run.RunID, t.Trial, t.Rank, t.Seed, t.Matches, t.Unmatched, t.ShortIntervals,
				t.MedianInterval, nullableFloat(t.MedianAgeDiff), t.LargeAgeDiffs, t.MissingAgeDiff,
			)
		}
		for _, a := range run.Selected() {
			batch.Queue(`
				INSERT INTO pairing_assignments (
					run_id, case_id, control_id, case_coverage_days,
					sex_match, interval_match, age_diff, tier
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				run.RunID, a.CaseID, a.ControlID, a.CaseCoverageDays,
				a.SexMatch, a.IntervalMatch, a.AgeDiff, string(a.Tier),
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert run details: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	utils.GetLogger().Info("Saved pairing run",
		utils.String("run_id", run.RunID),
		utils.Int("trials", len(run.Results)),
		utils.Int("assignments", len(run.Selected())),
	)
	return nil
}

// DeleteRun removes a stored run with its trial summaries and assignments.
// It reports whether the run existed.
func (r *PairingRepository) DeleteRun(ctx context.Context, runID string) (bool, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM pairing_runs WHERE run_id = $1`, runID)
	if err != nil {
		return false, fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	utils.GetLogger().Info("Deleted pairing run", utils.String("run_id", runID))
	return true, nil
}

// GetRun retrieves a stored run by ID.
func (r *PairingRepository) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	query := `
		SELECT run_id::text, seed, trials, cases, controls, best_trial,
		       matches, unmatched, median_interval, median_age_diff, source, created_at
		FROM pairing_runs
		WHERE run_id = $1`

	rec := &models.RunRecord{}
	err := r.db.pool.QueryRow(ctx, query, runID).Scan(
		&rec.RunID, &rec.Seed, &rec.Trials, &rec.Cases, &rec.Controls, &rec.BestTrial,
		&rec.Matches, &rec.Unmatched, &rec.MedianInterval, &rec.MedianAgeDiff, &rec.Source, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return rec, nil
}

// GetRunAssignments retrieves the selected assignments of a stored run ordered by case.
func (r *PairingRepository) GetRunAssignments(ctx context.Context, runID string) ([]models.Assignment, error) {
	query := `
		SELECT case_id, control_id, case_coverage_days, sex_match, interval_match, age_diff, tier
		FROM pairing_assignments
		WHERE run_id = $1
		ORDER BY case_id`

	rows, err := r.db.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		var a models.Assignment
		var tier string
		if err := rows.Scan(
			&a.CaseID, &a.ControlID, &a.CaseCoverageDays, &a.SexMatch, &a.IntervalMatch, &a.AgeDiff, &tier,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.Tier = models.MatchTier(tier)
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return assignments, nil
}

// ListRecentRuns returns the most recent runs, newest first.
func (r *PairingRepository) ListRecentRuns(ctx context.Context, since time.Duration, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id::text, seed, trials, cases, controls, best_trial,
		       matches, unmatched, median_interval, median_age_diff, source, created_at
		FROM pairing_runs
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, time.Now().UTC().Add(-since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var rec models.RunRecord
		if err := rows.Scan(
			&rec.RunID, &rec.Seed, &rec.Trials, &rec.Cases, &rec.Controls, &rec.BestTrial,
			&rec.Matches, &rec.Unmatched, &rec.MedianInterval, &rec.MedianAgeDiff, &rec.Source, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// nullableFloat maps non-finite statistics to NULL.
func nullableFloat(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
