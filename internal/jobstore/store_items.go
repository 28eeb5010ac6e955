package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EnqueueItems inserts pending work items for a job. Re-enqueueing a source
// key the job already holds is a no-op, so scheduler redelivery of the same
// item set cannot duplicate work.
func (s *Store) EnqueueItems(ctx context.Context, jobID string, items []WorkItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, item := range items {
		sourceKey := strings.TrimSpace(item.SourceKey)
		if sourceKey == "" {
			return 0, errors.New("work item source key is required")
		}
		mediaKind := item.MediaKind
		if mediaKind == "" {
			mediaKind = "image"
		}
		result, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO work_items (job_id, source_key, media_kind, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			jobID,
			sourceKey,
			mediaKind,
			ItemPending,
			timestamp,
			timestamp,
		)
		if err != nil {
			return 0, fmt.Errorf("enqueue item %s: %w", sourceKey, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("enqueue item %s: %w", sourceKey, err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return inserted, nil
}

// GetWorkItem fetches a single work item. Missing items return (nil, nil).
func (s *Store) GetWorkItem(ctx context.Context, jobID, sourceKey string) (*WorkItem, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE job_id = ? AND source_key = ?`,
		jobID,
		sourceKey,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// UpdateWorkItem persists changes to an existing work item.
func (s *Store) UpdateWorkItem(ctx context.Context, item *WorkItem) error {
	if item == nil {
		return errors.New("work item is nil")
	}
	item.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE work_items
         SET media_kind = ?, status = ?, artifact_id = ?, error = ?, updated_at = ?
         WHERE job_id = ? AND source_key = ?`,
		item.MediaKind,
		item.Status,
		nullableString(item.ArtifactID),
		nullableString(item.Error),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.JobID,
		item.SourceKey,
	)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: work item %s/%s", ErrNotFound, item.JobID, item.SourceKey)
	}
	return nil
}

// PendingWorkItems returns up to limit unresolved items for a job in stable
// source-key order, so repeated batch invocations see the same slice. Items
// left in processing by an interrupted run are selected again; item work is
// idempotent, so reprocessing them converges on the same outcome.
func (s *Store) PendingWorkItems(ctx context.Context, jobID string, limit int) ([]*WorkItem, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items WHERE job_id = ? AND status IN (?, ?) ORDER BY source_key`
	args := []any{jobID, ItemPending, ItemProcessing}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending work items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListItems returns all work items for a job in source-key order.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE job_id = ? ORDER BY source_key`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// CountItems tallies a job's work items per status.
func (s *Store) CountItems(ctx context.Context, jobID string) (Counts, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM work_items WHERE job_id = ? GROUP BY status`,
		jobID,
	)
	if err != nil {
		return Counts{}, fmt.Errorf("count work items: %w", err)
	}
	defer rows.Close()

	counts := Counts{}
	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Counts{}, err
		}
		switch status {
		case ItemPending:
			counts.Pending += count
		case ItemProcessing:
			counts.Processing += count
		case ItemCompleted:
			counts.Completed += count
		case ItemSkipped:
			counts.Skipped += count
		case ItemFailed:
			counts.Failed += count
		}
	}
	return counts, rows.Err()
}

// ResetFailedItems returns a job's failed items to pending, clearing their
// error state. It reports how many items were reset.
func (s *Store) ResetFailedItems(ctx context.Context, jobID string) (int, error) {
	return s.resetItems(ctx, jobID, true)
}

// ResetAllItems returns every item of a job to pending for a full rerun.
func (s *Store) ResetAllItems(ctx context.Context, jobID string) (int, error) {
	return s.resetItems(ctx, jobID, false)
}

func (s *Store) resetItems(ctx context.Context, jobID string, failedOnly bool) (int, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	query := `UPDATE work_items SET status = ?, artifact_id = NULL, error = NULL, updated_at = ? WHERE job_id = ?`
	args := []any{ItemPending, timestamp, jobID}
	if failedOnly {
		query += ` AND status = ?`
		args = append(args, ItemFailed)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset work items: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset work items: %w", err)
	}
	return int(affected), nil
}

const itemColumns = "job_id, source_key, media_kind, status, artifact_id, error, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*WorkItem, error) {
	var (
		jobID      string
		sourceKey  string
		mediaKind  string
		statusStr  string
		artifactID sql.NullString
		errMessage sql.NullString
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&jobID,
		&sourceKey,
		&mediaKind,
		&statusStr,
		&artifactID,
		&errMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &WorkItem{
		JobID:      jobID,
		SourceKey:  sourceKey,
		MediaKind:  mediaKind,
		Status:     ItemStatus(statusStr),
		ArtifactID: artifactID.String,
		Error:      errMessage.String,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]*WorkItem, error) {
	var items []*WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
