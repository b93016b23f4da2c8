package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-etl/internal/models"
)

// insertBatchSize bounds the rows sent in one multi-row INSERT
const insertBatchSize = 500

// CreateRun inserts a run in its starting state
func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO etl_runs (id, status, output_path, stripe_status, started_at)
		VALUES (:id, :status, :output_path, :stripe_status, :started_at)`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final state and counters of a run
func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE etl_runs
		SET status = :status,
			zuora_rows = :zuora_rows,
			stripe_rows = :stripe_rows,
			stripe_status = :stripe_status,
			rows_written = :rows_written,
			duplicate_ids = :duplicate_ids,
			failed_stage = :failed_stage,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", models.ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	err := s.db.GetContext(ctx, &run, "SELECT * FROM etl_runs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	var runs []models.Run
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM etl_runs ORDER BY started_at DESC LIMIT $1", limit)
	return runs, err
}

// SaveOrders replaces the loaded rows of a run within one transaction
func (s *Store) SaveOrders(ctx context.Context, runID string, orders []models.CombinedOrder) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM combined_orders WHERE run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to clear orders for run %s: %w", runID, err)
	}

	query := `
		INSERT INTO combined_orders
			(run_id, row_num, order_id, order_date, customer_email, order_total, source_system, extra)
		VALUES
			(:run_id, :row_num, :order_id, :order_date, :customer_email, :order_total, :source_system, :extra)`

	for start := 0; start < len(orders); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(orders) {
			end = len(orders)
		}
		if _, err := tx.NamedExecContext(ctx, query, orders[start:end]); err != nil {
			return fmt.Errorf("failed to insert orders %d-%d: %w", start+1, end, err)
		}
	}

	return tx.Commit()
}

// CountOrders returns the number of rows loaded for a run
func (s *Store) CountOrders(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM combined_orders WHERE run_id = $1", runID)
	return n, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
