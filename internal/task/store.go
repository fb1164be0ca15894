package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Store is the durable task-record contract. Mutations that change status
// append their event row in the same transaction; (false, nil) returns mean
// the record does not exist and the call was a no-op.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Task, error)
	ListQueued(ctx context.Context) ([]*Task, error)
	UpdateStatus(ctx context.Context, taskID, status string, progress *Progress, errorMsg string) (bool, error)
	UpdateProgress(ctx context.Context, taskID string, progress *Progress) (bool, error)
	UpdateMetadata(ctx context.Context, taskID string, meta map[string]any) (bool, error)
	Delete(ctx context.Context, taskID string) (bool, error)
	Events(ctx context.Context, taskID string, limit int) ([]*Event, error)
	Stats(ctx context.Context) (*Stats, error)
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
	RecoverInterrupted(ctx context.Context) (int, error)
}

type SQLiteStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const taskColumns = `task_id, job_key, source_locator, source_title, status, progress,
	error_message, created_at, updated_at, completed_at, processing_time,
	output_size, segment_count, transcript_length`

func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = StatusQueued
	}

	progress, err := marshalProgress(t.Progress)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (task_id, job_key, source_locator, source_title, status, progress,
			error_message, created_at, updated_at, segment_count, transcript_length)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TaskID, t.JobKey, t.SourceLocator, nullString(t.SourceTitle), t.Status, progress,
		nullString(t.ErrorMessage), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
		t.SegmentCount, t.TranscriptLength)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, event_type, message, timestamp)
		VALUES (?, ?, ?, ?)
	`, t.TaskID, EventCreated, "task created for "+t.JobKey, fmtTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert created event: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

func (s *SQLiteStore) List(ctx context.Context, status string, limit, offset int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *SQLiteStore) ListQueued(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC, rowid ASC`,
		StatusQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, taskID, status string, progress *Progress, errorMsg string) (bool, error) {
	if !ValidStatus(status) {
		return false, fmt.Errorf("invalid status %q", status)
	}

	progressJSON, err := marshalProgress(progress)
	if err != nil {
		return false, err
	}

	now := fmtTime(time.Now().UTC())
	var completedAt any
	if IsTerminal(status) {
		completedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// progress and completed_at keep their previous values when the new
	// value is NULL; completed_at is therefore sticky once set.
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, progress = COALESCE(?, progress),
			error_message = ?, updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE task_id = ?
	`, status, progressJSON, nullString(errorMsg), now, completedAt, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	message := "status changed to " + status
	if errorMsg != "" {
		message += ": " + errorMsg
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, event_type, message, timestamp)
		VALUES (?, ?, ?, ?)
	`, taskID, EventStatusChange, message, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert status event: %w", err)
	}

	return true, tx.Commit()
}

// UpdateProgress refreshes the progress column and updated_at without
// appending an event. Status transitions go through UpdateStatus.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, taskID string, progress *Progress) (bool, error) {
	progressJSON, err := marshalProgress(progress)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET progress = COALESCE(?, progress), updated_at = ?
		WHERE task_id = ?
	`, progressJSON, fmtTime(time.Now().UTC()), taskID)
	if err != nil {
		return false, fmt.Errorf("failed to update progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, taskID string, meta map[string]any) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		if _, ok := metadataColumns[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		sets = append(sets, metadataColumns[k]+" = ?")
		args = append(args, meta[k])
	}
	args = append(args, taskID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update metadata: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, taskID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_events WHERE task_id = ?", taskID); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE task_id = ?", taskID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	return true, tx.Commit()
}

func (s *SQLiteStore) Events(ctx context.Context, taskID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, event_type, message, timestamp
		FROM task_events WHERE task_id = ?
		ORDER BY id DESC LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var message sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.EventType, &message, &ts); err != nil {
			return nil, err
		}
		e.Message = message.String
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{StatusCounts: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&stats.TotalTasks); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusCounts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(processing_time) FROM tasks
		WHERE status = ? AND processing_time IS NOT NULL
	`, StatusCompleted).Scan(&avg)
	if err != nil {
		return nil, err
	}
	stats.AvgProcessingTime = avg.Float64

	since := fmtTime(time.Now().UTC().Add(-24 * time.Hour))
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE created_at >= ?", since).Scan(&stats.RecentTasks)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("invalid retention %d days", olderThanDays)
	}
	cutoff := fmtTime(time.Now().UTC().AddDate(0, 0, -olderThanDays))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Only terminal rows age out; the boundary keys on completed_at so a
	// long-queued or still-processing task is never eligible.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM task_events WHERE task_id IN (
			SELECT task_id FROM tasks
			WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
		)
	`, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusCompleted, StatusFailed, cutoff)
	if err != nil {
		return 0, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(deleted), tx.Commit()
}

// RecoverInterrupted marks tasks stranded in processing by a previous run
// as failed. Queued tasks are left alone so the scheduler can re-enqueue
// them at startup.
func (s *SQLiteStore) RecoverInterrupted(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT task_id FROM tasks WHERE status = ?", StatusProcessing)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := s.UpdateStatus(ctx, id, StatusFailed, nil, "interrupted by restart"); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var sourceTitle, progress, errorMsg, completedAt sql.NullString
	var createdAt, updatedAt string
	var processingTime sql.NullFloat64
	var outputSize sql.NullInt64

	err := row.Scan(&t.TaskID, &t.JobKey, &t.SourceLocator, &sourceTitle, &t.Status, &progress,
		&errorMsg, &createdAt, &updatedAt, &completedAt, &processingTime,
		&outputSize, &t.SegmentCount, &t.TranscriptLength)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fillTask(&t, sourceTitle, progress, errorMsg, createdAt, updatedAt, completedAt, processingTime, outputSize)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		var t Task
		var sourceTitle, progress, errorMsg, completedAt sql.NullString
		var createdAt, updatedAt string
		var processingTime sql.NullFloat64
		var outputSize sql.NullInt64

		if err := rows.Scan(&t.TaskID, &t.JobKey, &t.SourceLocator, &sourceTitle, &t.Status, &progress,
			&errorMsg, &createdAt, &updatedAt, &completedAt, &processingTime,
			&outputSize, &t.SegmentCount, &t.TranscriptLength); err != nil {
			return nil, err
		}
		fillTask(&t, sourceTitle, progress, errorMsg, createdAt, updatedAt, completedAt, processingTime, outputSize)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func fillTask(t *Task, sourceTitle, progress, errorMsg sql.NullString, createdAt, updatedAt string,
	completedAt sql.NullString, processingTime sql.NullFloat64, outputSize sql.NullInt64) {
	t.SourceTitle = sourceTitle.String
	t.ErrorMessage = errorMsg.String
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			t.CompletedAt = &ts
		}
	}
	if processingTime.Valid {
		v := processingTime.Float64
		t.ProcessingTime = &v
	}
	if outputSize.Valid {
		v := outputSize.Int64
		t.OutputSize = &v
	}
	if progress.Valid && progress.String != "" {
		var p Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err == nil {
			t.Progress = &p
		}
	}
}

func marshalProgress(p *Progress) (any, error) {
	if p == nil {
		return nil, nil
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal progress: %w", err)
	}
	return string(buf), nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
