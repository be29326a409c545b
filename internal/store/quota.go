package store

import (
	"context"
	"fmt"
	"log"
	"time"
)

// quotaHighWater is the fraction of the storage budget that triggers the
// advisory cleanup pass.
const quotaHighWater = 0.9

// syncedJobMaxAge is how long already-synced queue entries are kept before
// they become eviction candidates.
const syncedJobMaxAge = 30 * 24 * time.Hour

// EstimateUsage returns the store's approximate on-disk size in bytes,
// derived from the SQLite page count.
func (s *Store) EstimateUsage(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
			return fmt.Errorf("failed to read page count: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
			return fmt.Errorf("failed to read page size: %w", err)
		}
		return nil
	})
	return pageCount * pageSize, err
}

// QuotaBytes returns the configured storage budget.
func (s *Store) QuotaBytes() int64 {
	return s.opts.QuotaBytes
}

// CleanupSyncedJobs deletes synced queue entries older than threshold and
// returns how many were removed. Pending, rejected and failed jobs are never
// evicted.
func (s *Store) CleanupSyncedJobs(ctx context.Context, threshold time.Duration) (int64, error) {
	var deleted int64
	err := s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		cutoff := time.Now().Add(-threshold)
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM pending_sync WHERE status = 'synced' AND created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to clean up synced jobs: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err == nil && deleted > 0 {
		log.Printf("[Store] Cleaned up %d synced queue entries (threshold: %v)", deleted, threshold)
	}
	return deleted, err
}

// MaybeCleanup estimates quota usage and, above the high-water mark, evicts
// old synced queue entries. Best-effort: failures are logged, not fatal.
func (s *Store) MaybeCleanup(ctx context.Context) {
	used, err := s.EstimateUsage(ctx)
	if err != nil {
		log.Printf("[Store] Quota estimate failed: %v", err)
		return
	}
	if float64(used) < quotaHighWater*float64(s.opts.QuotaBytes) {
		return
	}

	log.Printf("[Store] Quota high-water mark crossed (%d of %d bytes)", used, s.opts.QuotaBytes)
	if _, err := s.CleanupSyncedJobs(ctx, syncedJobMaxAge); err != nil {
		log.Printf("[Store] Quota cleanup failed: %v", err)
	}
}
