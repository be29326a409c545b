package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Settings is the single-record settings collection.
type Settings struct {
	TerminalID string     `json:"terminal_id"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PutSettings upserts the single settings row.
func (s *Store) PutSettings(ctx context.Context, st *Settings) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		query := `
			INSERT INTO settings (id, terminal_id, last_sync_at, updated_at)
			VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				terminal_id = excluded.terminal_id,
				last_sync_at = excluded.last_sync_at,
				updated_at = excluded.updated_at`

		if _, err := s.db.ExecContext(ctx, query, st.TerminalID, nullTime(st.LastSyncAt), st.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert settings: %w", err)
		}
		return nil
	})
}

// GetSettings returns the settings row. Not found is (nil, nil).
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	var out *Settings
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var st Settings
		var lastSync sql.NullTime
		err := s.db.QueryRowContext(ctx,
			`SELECT terminal_id, last_sync_at, updated_at FROM settings WHERE id = 1`).
			Scan(&st.TerminalID, &lastSync, &st.UpdatedAt)
		if err == sql.ErrNoRows {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get settings: %w", err)
		}
		st.LastSyncAt = timePtr(lastSync)
		out = &st
		return nil
	})
	return out, err
}

// TouchLastSync stamps the settings row with the time of the last successful
// sync pass.
func (s *Store) TouchLastSync(ctx context.Context, terminalID string, at time.Time) error {
	st := &Settings{TerminalID: terminalID, LastSyncAt: &at, UpdatedAt: at}
	return s.PutSettings(ctx, st)
}
