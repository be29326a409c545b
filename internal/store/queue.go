package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tillpoint-offline-sync/internal/model"
)

// The pending-change queue holds one job per server-bound mutation. Jobs are
// always written in the same transaction as the record they mirror so queue
// and store cannot diverge.

func appendJobTx(ctx context.Context, e execer, j *model.QueueJob) error {
	query := `
		INSERT INTO pending_sync
			(id, type, record_id, data, status, retry_count, last_error, last_retry, next_retry_at, created_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := e.ExecContext(ctx, query,
		j.ID, j.Type, j.RecordID, string(j.Data), j.Status, j.RetryCount,
		j.LastError, nullTime(j.LastRetry), nullTime(j.NextRetryAt), j.CreatedAt, nullTime(j.SyncedAt))
	if err != nil {
		return fmt.Errorf("failed to append queue job: %w", err)
	}
	return nil
}

// AppendJob writes a standalone queue job, used only for mutations that have
// no local record to pair with (e.g. a status update for an order the
// terminal never cached).
func (s *Store) AppendJob(ctx context.Context, j *model.QueueJob) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		return appendJobTx(ctx, s.db, j)
	})
}

// PutOrderWithJob writes an order and its queue job in one transaction.
func (s *Store) PutOrderWithJob(ctx context.Context, o *model.Order, j *model.QueueJob) error {
	return s.pairWithJob(ctx, j, func(tx *sql.Tx) error { return putOrderTx(ctx, tx, o) })
}

// PutReceiptWithJob writes a receipt and its queue job in one transaction.
func (s *Store) PutReceiptWithJob(ctx context.Context, r *model.Receipt, j *model.QueueJob) error {
	return s.pairWithJob(ctx, j, func(tx *sql.Tx) error { return putReceiptTx(ctx, tx, r) })
}

// PutBillRequestWithJob writes a bill request and its queue job in one transaction.
func (s *Store) PutBillRequestWithJob(ctx context.Context, b *model.BillRequest, j *model.QueueJob) error {
	return s.pairWithJob(ctx, j, func(tx *sql.Tx) error { return putBillRequestTx(ctx, tx, b) })
}

func (s *Store) pairWithJob(ctx context.Context, j *model.QueueJob, put func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin paired write: %w", err)
		}
		defer tx.Rollback()

		if err := put(tx); err != nil {
			return err
		}
		if err := appendJobTx(ctx, tx, j); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// PendingJobs returns all pending queue jobs in creation order, oldest first.
// Order matters: later jobs may depend on earlier ones receiving their server
// id first.
func (s *Store) PendingJobs(ctx context.Context) ([]model.QueueJob, error) {
	return s.queryJobs(ctx, `
		SELECT id, type, record_id, data, status, retry_count, last_error, last_retry, next_retry_at, created_at, synced_at
		FROM pending_sync WHERE status = ? ORDER BY created_at, rowid`, model.JobStatusPending)
}

// ListJobsByStatus returns queue jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status string) ([]model.QueueJob, error) {
	return s.queryJobs(ctx, `
		SELECT id, type, record_id, data, status, retry_count, last_error, last_retry, next_retry_at, created_at, synced_at
		FROM pending_sync WHERE status = ? ORDER BY created_at, rowid`, status)
}

// GetJob retrieves one queue job by id. Not found is (nil, nil).
func (s *Store) GetJob(ctx context.Context, id string) (*model.QueueJob, error) {
	jobs, err := s.queryJobs(ctx, `
		SELECT id, type, record_id, data, status, retry_count, last_error, last_retry, next_retry_at, created_at, synced_at
		FROM pending_sync WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// CountJobs returns the number of jobs per status.
func (s *Store) CountJobs(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pending_sync GROUP BY status`)
		if err != nil {
			return fmt.Errorf("failed to count jobs: %w", err)
		}
		defer rows.Close()

		clear(counts)
		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("failed to scan job count: %w", err)
			}
			counts[status] = n
		}
		return rows.Err()
	})
	return counts, err
}

// MarkJobSynced transitions a job to synced. Synced jobs are never selected
// by a subsequent drain pass.
func (s *Store) MarkJobSynced(ctx context.Context, id string, syncedAt time.Time) error {
	return s.execJobUpdate(ctx, `
		UPDATE pending_sync SET status = ?, synced_at = ?, last_error = '' WHERE id = ?`,
		model.JobStatusSynced, syncedAt, id)
}

// MarkJobRejected transitions a job to the terminal rejected status after the
// server refused the mutation. Rejected jobs surface through the status API
// for manual resolution instead of retrying forever.
func (s *Store) MarkJobRejected(ctx context.Context, id string, reason string) error {
	return s.execJobUpdate(ctx, `
		UPDATE pending_sync SET status = ?, last_error = ?, last_retry = ? WHERE id = ?`,
		model.JobStatusRejected, reason, time.Now().UTC(), id)
}

// MarkJobFailed transitions a job to the terminal failed status once the
// network-class retry ceiling is reached.
func (s *Store) MarkJobFailed(ctx context.Context, id string, reason string) error {
	return s.execJobUpdate(ctx, `
		UPDATE pending_sync SET status = ?, last_error = ?, last_retry = ? WHERE id = ?`,
		model.JobStatusFailed, reason, time.Now().UTC(), id)
}

// RecordJobRetry increments the retry counter after a network-class failure
// and schedules the next attempt; the job stays pending.
func (s *Store) RecordJobRetry(ctx context.Context, id string, errMsg string, nextRetryAt time.Time) error {
	return s.execJobUpdate(ctx, `
		UPDATE pending_sync
		SET retry_count = retry_count + 1, last_error = ?, last_retry = ?, next_retry_at = ?
		WHERE id = ?`,
		errMsg, time.Now().UTC(), nextRetryAt, id)
}

// UpdateJobData rewrites a pending job's payload, used when an earlier job in
// the same pass translated an offline placeholder id this payload references.
func (s *Store) UpdateJobData(ctx context.Context, id string, data json.RawMessage, recordID string) error {
	return s.execJobUpdate(ctx, `
		UPDATE pending_sync SET data = ?, record_id = ? WHERE id = ?`,
		string(data), recordID, id)
}

// RetryJob flips a terminal rejected/failed job back to pending for a manual
// re-attempt, resetting its retry bookkeeping.
func (s *Store) RetryJob(ctx context.Context, id string) error {
	return s.execJobUpdate(ctx, `
		UPDATE pending_sync
		SET status = ?, retry_count = 0, last_error = '', next_retry_at = NULL
		WHERE id = ? AND status IN (?, ?)`,
		model.JobStatusPending, id, model.JobStatusRejected, model.JobStatusFailed)
}

func (s *Store) execJobUpdate(ctx context.Context, query string, args ...any) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update queue job: %w", err)
		}
		return nil
	})
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]model.QueueJob, error) {
	var out []model.QueueJob
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list queue jobs: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var j model.QueueJob
			var data string
			var lastErr sql.NullString
			var lastRetry, nextRetry, syncedAt sql.NullTime
			if err := rows.Scan(&j.ID, &j.Type, &j.RecordID, &data, &j.Status, &j.RetryCount,
				&lastErr, &lastRetry, &nextRetry, &j.CreatedAt, &syncedAt); err != nil {
				return fmt.Errorf("failed to scan queue job: %w", err)
			}
			j.Data = json.RawMessage(data)
			j.LastError = lastErr.String
			j.LastRetry = timePtr(lastRetry)
			j.NextRetryAt = timePtr(nextRetry)
			j.SyncedAt = timePtr(syncedAt)
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}
