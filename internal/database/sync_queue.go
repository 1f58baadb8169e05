package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncTask is a pending mirror update for one reservation.
type SyncTask struct {
	ID            int64
	TaskType      string
	ReservationID int64
	RetryCount    int
}

const maxSyncRetries = 5

// staleClaimAge is how long a task may sit in processing before it is handed
// back to pending. Covers workers that crashed between claim and completion.
const staleClaimAge = 10 * time.Minute

// EnqueueTask queues a mirror update. Implements service.SyncQueue.
func (db *DB) EnqueueTask(ctx context.Context, taskType string, reservationID int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO sync_queue (task_type, reservation_id)
		VALUES (?, ?)`, taskType, reservationID)
	if err != nil {
		return fmt.Errorf("enqueue sync task: %w", err)
	}
	return nil
}

// DequeueTasks claims up to limit tasks that are due, marking them as
// processing. Claims older than staleClaimAge are handed back to pending
// first, so a crashed worker run does not strand its batch.
func (db *DB) DequeueTasks(ctx context.Context, limit int) ([]SyncTask, error) {
	if _, err := db.ExecContext(ctx, `UPDATE sync_queue
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at <= datetime('now', ?)`,
		fmt.Sprintf("-%d minutes", int(staleClaimAge.Minutes()))); err != nil {
		return nil, fmt.Errorf("reclaim stale sync tasks: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, task_type, reservation_id, retry_count
		FROM sync_queue
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= CURRENT_TIMESTAMP)
		ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []SyncTask
	for rows.Next() {
		var t SyncTask
		if err := rows.Scan(&t.ID, &t.TaskType, &t.ReservationID, &t.RetryCount); err != nil {
			return nil, fmt.Errorf("scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if _, err := db.ExecContext(ctx, `UPDATE sync_queue
			SET status = 'processing', claimed_at = CURRENT_TIMESTAMP
			WHERE id = ?`, t.ID); err != nil {
			return nil, fmt.Errorf("claim sync task %d: %w", t.ID, err)
		}
	}
	return tasks, nil
}

// MarkTaskDone finalizes a successfully mirrored task.
func (db *DB) MarkTaskDone(ctx context.Context, taskID int64) error {
	_, err := db.ExecContext(ctx, `UPDATE sync_queue
		SET status = 'done', processed_at = CURRENT_TIMESTAMP WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("mark sync task %d done: %w", taskID, err)
	}
	return nil
}

// MarkTaskFailed records the error and schedules a retry with exponential
// backoff, or gives up after maxSyncRetries.
func (db *DB) MarkTaskFailed(ctx context.Context, taskID int64, retryCount int, taskErr error) error {
	if retryCount+1 >= maxSyncRetries {
		_, err := db.ExecContext(ctx, `UPDATE sync_queue
			SET status = 'failed', last_error = ?, processed_at = CURRENT_TIMESTAMP
			WHERE id = ?`, taskErr.Error(), taskID)
		if err != nil {
			return fmt.Errorf("mark sync task %d failed: %w", taskID, err)
		}
		return nil
	}

	backoff := time.Duration(1<<uint(retryCount)) * time.Minute
	_, err := db.ExecContext(ctx, `UPDATE sync_queue
		SET status = 'pending', claimed_at = NULL, retry_count = retry_count + 1,
			last_error = ?, next_retry_at = ?
		WHERE id = ?`, taskErr.Error(), time.Now().UTC().Add(backoff), taskID)
	if err != nil {
		return fmt.Errorf("reschedule sync task %d: %w", taskID, err)
	}
	return nil
}

// PendingTaskCount reports queue depth for the health endpoint.
func (db *DB) PendingTaskCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status IN ('pending', 'processing')`).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count pending sync tasks: %w", err)
	}
	return n, nil
}
