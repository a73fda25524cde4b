package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/popcore/populate/internal/populate"
)

// RunRepo persists finished run summaries for operator history.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

type runRow struct {
	RunID           string    `db:"run_id"`
	Task            string    `db:"task"`
	StartTime       time.Time `db:"start_time"`
	EndTime         time.Time `db:"end_time"`
	DurationSeconds float64   `db:"duration_seconds"`
	RecordsFetched  int64     `db:"records_fetched"`
	RecordsInserted int64     `db:"records_inserted"`
	RecordsUpdated  int64     `db:"records_updated"`
	RecordsSkipped  int64     `db:"records_skipped"`
	RecordsFailed   int64     `db:"records_failed"`
	APICalls        int64     `db:"api_calls"`
	ErrorCount      int       `db:"error_count"`
	DryRun          bool      `db:"dry_run"`
}

// Save records one run summary.
func (r *RunRepo) Save(ctx context.Context, s *populate.Summary) error {
	row := runRow{
		RunID:           s.RunID,
		Task:            s.Task,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.DurationSeconds,
		RecordsFetched:  s.RecordsFetched,
		RecordsInserted: s.RecordsInserted,
		RecordsUpdated:  s.RecordsUpdated,
		RecordsSkipped:  s.RecordsSkipped,
		RecordsFailed:   s.RecordsFailed,
		APICalls:        s.APICalls,
		ErrorCount:      s.ErrorCount,
		DryRun:          s.DryRun,
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO population_runs (
			run_id, task, start_time, end_time, duration_seconds,
			records_fetched, records_inserted, records_updated,
			records_skipped, records_failed, api_calls, error_count, dry_run
		) VALUES (
			:run_id, :task, :start_time, :end_time, :duration_seconds,
			:records_fetched, :records_inserted, :records_updated,
			:records_skipped, :records_failed, :api_calls, :error_count, :dry_run
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// Recent returns the latest run summaries, newest first.
func (r *RunRepo) Recent(ctx context.Context, limit int) ([]populate.Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, task, start_time, end_time, duration_seconds,
		       records_fetched, records_inserted, records_updated,
		       records_skipped, records_failed, api_calls, error_count, dry_run
		FROM population_runs
		ORDER BY start_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}

	summaries := make([]populate.Summary, len(rows))
	for i, row := range rows {
		summaries[i] = populate.Summary{
			RunID:           row.RunID,
			Task:            row.Task,
			StartTime:       row.StartTime,
			EndTime:         row.EndTime,
			DurationSeconds: row.DurationSeconds,
			RecordsFetched:  row.RecordsFetched,
			RecordsInserted: row.RecordsInserted,
			RecordsUpdated:  row.RecordsUpdated,
			RecordsSkipped:  row.RecordsSkipped,
			RecordsFailed:   row.RecordsFailed,
			APICalls:        row.APICalls,
			ErrorCount:      row.ErrorCount,
			DryRun:          row.DryRun,
		}
	}
	return summaries, nil
}
