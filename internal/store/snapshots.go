package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tillpoint-offline-sync/internal/model"
)

// Snapshot collections (menu items, tables, staff, reports) are simple
// replace-on-refresh caches: every successful server fetch clears the
// collection and rewrites it wholesale. No incremental merge.

// ReplaceMenuItems rewrites the menu snapshot.
func (s *Store) ReplaceMenuItems(ctx context.Context, items []model.MenuItem) error {
	return s.replaceSnapshot(ctx, "menu_items", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO menu_items (id, category, type, payload) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, it := range items {
			payload, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("failed to encode menu item %s: %w", it.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, it.ID, it.Category, it.Type, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMenuItems returns the cached menu snapshot in insertion order.
func (s *Store) ListMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	payloads, err := s.querySnapshot(ctx, `SELECT payload FROM menu_items ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	out := make([]model.MenuItem, 0, len(payloads))
	for _, p := range payloads {
		var it model.MenuItem
		if err := json.Unmarshal([]byte(p), &it); err != nil {
			return nil, fmt.Errorf("failed to decode menu item: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}

// ListMenuItemsByCategory returns cached menu items for one category.
func (s *Store) ListMenuItemsByCategory(ctx context.Context, category string) ([]model.MenuItem, error) {
	payloads, err := s.querySnapshot(ctx,
		`SELECT payload FROM menu_items WHERE category = ? ORDER BY rowid`, category)
	if err != nil {
		return nil, err
	}
	out := make([]model.MenuItem, 0, len(payloads))
	for _, p := range payloads {
		var it model.MenuItem
		if err := json.Unmarshal([]byte(p), &it); err != nil {
			return nil, fmt.Errorf("failed to decode menu item: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}

// ReplaceTables rewrites the dining table snapshot.
func (s *Store) ReplaceTables(ctx context.Context, tables []model.Table) error {
	return s.replaceSnapshot(ctx, "dining_tables", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO dining_tables (id, number, capacity, status, payload) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range tables {
			payload, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to encode table %s: %w", t.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, t.ID, t.Number, t.Capacity, t.Status, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTables returns the cached dining table snapshot.
func (s *Store) ListTables(ctx context.Context) ([]model.Table, error) {
	payloads, err := s.querySnapshot(ctx, `SELECT payload FROM dining_tables ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	out := make([]model.Table, 0, len(payloads))
	for _, p := range payloads {
		var t model.Table
		if err := json.Unmarshal([]byte(p), &t); err != nil {
			return nil, fmt.Errorf("failed to decode table: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// ReplaceStaff rewrites the users/waiters snapshot.
func (s *Store) ReplaceStaff(ctx context.Context, staff []model.Staff) error {
	return s.replaceSnapshot(ctx, "staff", func(tx *sql.Tx) error {
		// Duplicate usernames in one snapshot are a data-integrity anomaly;
		// last write wins rather than rejecting the refresh.
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO staff (id, username, phone_number, role, payload) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				id = excluded.id,
				phone_number = excluded.phone_number,
				role = excluded.role,
				payload = excluded.payload`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range staff {
			payload, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to encode staff %s: %w", m.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, m.ID, m.Username, m.PhoneNumber, m.Role, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListStaff returns the cached staff snapshot.
func (s *Store) ListStaff(ctx context.Context) ([]model.Staff, error) {
	payloads, err := s.querySnapshot(ctx, `SELECT payload FROM staff ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	out := make([]model.Staff, 0, len(payloads))
	for _, p := range payloads {
		var m model.Staff
		if err := json.Unmarshal([]byte(p), &m); err != nil {
			return nil, fmt.Errorf("failed to decode staff: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// GetStaffByUsername looks a staff member up by the unique username index.
// Not found is (nil, nil).
func (s *Store) GetStaffByUsername(ctx context.Context, username string) (*model.Staff, error) {
	var out *model.Staff
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var payload string
		err := s.db.QueryRowContext(ctx,
			`SELECT payload FROM staff WHERE username = ?`, username).Scan(&payload)
		if err == sql.ErrNoRows {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get staff: %w", err)
		}
		var m model.Staff
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return fmt.Errorf("failed to decode staff: %w", err)
		}
		out = &m
		return nil
	})
	return out, err
}

// ReplaceReports rewrites the dashboard/report snapshot collection.
func (s *Store) ReplaceReports(ctx context.Context, reports []model.Report) error {
	return s.replaceSnapshot(ctx, "reports", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO reports (id, type, date, payload, fetched_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range reports {
			if _, err := stmt.ExecContext(ctx, r.ID, r.Type, r.Date, string(r.Payload), r.FetchedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListReportsByType returns cached reports of one type.
func (s *Store) ListReportsByType(ctx context.Context, reportType string) ([]model.Report, error) {
	var out []model.Report
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, type, date, payload, fetched_at FROM reports WHERE type = ? ORDER BY rowid`, reportType)
		if err != nil {
			return fmt.Errorf("failed to list reports: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var r model.Report
			var payload string
			var fetched time.Time
			if err := rows.Scan(&r.ID, &r.Type, &r.Date, &payload, &fetched); err != nil {
				return fmt.Errorf("failed to scan report: %w", err)
			}
			r.Payload = json.RawMessage(payload)
			r.FetchedAt = fetched
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// PutReport upserts a single report snapshot, used for per-section dashboard
// refreshes that must not clobber other cached sections.
func (s *Store) PutReport(ctx context.Context, r *model.Report) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		query := `
			INSERT INTO reports (id, type, date, payload, fetched_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				date = excluded.date,
				payload = excluded.payload,
				fetched_at = excluded.fetched_at`

		if _, err := s.db.ExecContext(ctx, query, r.ID, r.Type, r.Date, string(r.Payload), r.FetchedAt); err != nil {
			return fmt.Errorf("failed to upsert report: %w", err)
		}
		return nil
	})
}

// GetReport retrieves a report snapshot by id. Not found is (nil, nil).
func (s *Store) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var out *model.Report
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var r model.Report
		var payload string
		err := s.db.QueryRowContext(ctx,
			`SELECT id, type, date, payload, fetched_at FROM reports WHERE id = ?`, id).
			Scan(&r.ID, &r.Type, &r.Date, &payload, &r.FetchedAt)
		if err == sql.ErrNoRows {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get report: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		out = &r
		return nil
	})
	return out, err
}

// MarkFetched records a successful full fetch of a collection, letting the
// read path tell "empty because truly empty" from "empty because never
// cached".
func (s *Store) MarkFetched(ctx context.Context, collection string, at time.Time) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		query := `
			INSERT INTO fetch_log (collection, fetched_at) VALUES (?, ?)
			ON CONFLICT(collection) DO UPDATE SET fetched_at = excluded.fetched_at`
		if _, err := s.db.ExecContext(ctx, query, collection, at); err != nil {
			return fmt.Errorf("failed to mark fetch: %w", err)
		}
		return nil
	})
}

// LastFetched returns when a collection was last fully fetched, or nil if it
// never was.
func (s *Store) LastFetched(ctx context.Context, collection string) (*time.Time, error) {
	var out *time.Time
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var at time.Time
		err := s.db.QueryRowContext(ctx,
			`SELECT fetched_at FROM fetch_log WHERE collection = ?`, collection).Scan(&at)
		if err == sql.ErrNoRows {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read fetch log: %w", err)
		}
		out = &at
		return nil
	})
	return out, err
}

// CountSnapshot reports how many rows a snapshot collection holds. Surfaced
// on the status screen so an operator can see what the terminal would be left
// with when the link drops.
func (s *Store) CountSnapshot(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}
		return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+collection).Scan(&n)
	})
	return n, err
}

func (s *Store) replaceSnapshot(ctx context.Context, table string, insert func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin refresh: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
		if err := insert(tx); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", table, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit refresh: %w", err)
		}
		return nil
	})
}

func (s *Store) querySnapshot(ctx context.Context, query string, args ...any) ([]string, error) {
	var payloads []string
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("snapshot query failed: %w", err)
		}
		defer rows.Close()

		payloads = payloads[:0]
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return fmt.Errorf("failed to scan snapshot row: %w", err)
			}
			payloads = append(payloads, payload)
		}
		return rows.Err()
	})
	return payloads, err
}
