package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// RunRepository stores run history in export_runs and export_items.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) StartRun(ctx context.Context, run domain.RunRecord) error {
	query := `
		INSERT INTO export_runs (id, status, dry_run, force, total, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	if err := r.db.exec(ctx, query, run.ID, run.Status, run.DryRun, run.Force, run.Total, run.StartedAt); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

func (r *RunRepository) RecordItem(ctx context.Context, item domain.ItemRecord) error {
	query := `
		INSERT INTO export_items (
			run_id, ref, dest_key, status, error_kind,
			error_message, duration_ms, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	err := r.db.exec(ctx, query,
		item.RunID, item.Ref, item.Key, item.Status, item.Kind,
		nullString(item.Error), item.DurationMS, item.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.Ref, err)
	}
	return nil
}

func (r *RunRepository) FinishRun(ctx context.Context, run domain.RunRecord) error {
	query := `
		UPDATE export_runs
		SET status = $1, total = $2, processed = $3, skipped = $4,
		    failed = $5, planned = $6, error_message = $7, finished_at = $8
		WHERE id = $9
	`
	err := r.db.exec(ctx, query,
		run.Status, run.Total, run.Processed, run.Skipped,
		run.Failed, run.Planned, nullString(run.Error), run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, status, dry_run, force, total, processed, skipped, failed, planned,
	COALESCE(error_message, '') AS error_message, started_at, finished_at`

// GetRun returns nil when the run does not exist.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	var run domain.RunRecord
	err := r.db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM export_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	runs := []domain.RunRecord{}
	err := r.db.SelectContext(ctx, &runs, `SELECT `+runColumns+` FROM export_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func (r *RunRepository) Items(ctx context.Context, runID string) ([]domain.ItemRecord, error) {
	query := `
		SELECT run_id, ref, dest_key, status, error_kind,
		       COALESCE(error_message, '') AS error_message, duration_ms, finished_at
		FROM export_items
		WHERE run_id = $1
		ORDER BY id
	`
	items := []domain.ItemRecord{}
	if err := r.db.SelectContext(ctx, &items, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list items of run %s: %w", runID, err)
	}
	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
