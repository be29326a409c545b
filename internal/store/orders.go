package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tillpoint-offline-sync/internal/model"
)

// PutOrder upserts an order by primary key (overwrite semantics).
func (s *Store) PutOrder(ctx context.Context, o *model.Order) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		return putOrderTx(ctx, s.db, o)
	})
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putOrderTx(ctx context.Context, e execer, o *model.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	query := `
		INSERT INTO orders (id, status, table_id, cashier_id, is_offline, payload, created_at, updated_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			table_id = excluded.table_id,
			cashier_id = excluded.cashier_id,
			is_offline = excluded.is_offline,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			synced_at = excluded.synced_at`

	_, err = e.ExecContext(ctx, query,
		o.ID, o.Status, o.TableID, o.CashierID, o.IsOffline, string(payload),
		o.CreatedAt, o.UpdatedAt, nullTime(o.SyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id. Not found is (nil, nil), not an error.
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o *model.Order
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var payload string
		err := s.db.QueryRowContext(ctx, `SELECT payload FROM orders WHERE id = ?`, id).Scan(&payload)
		if err == sql.ErrNoRows {
			o = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}

		var decoded model.Order
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return fmt.Errorf("failed to decode order %s: %w", id, err)
		}
		o = &decoded
		return nil
	})
	return o, err
}

// ListOrders returns all cached orders in insertion order.
func (s *Store) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx, `SELECT payload FROM orders ORDER BY rowid`)
}

// ListOrdersByStatus returns orders matching a lifecycle status.
func (s *Store) ListOrdersByStatus(ctx context.Context, status string) ([]model.Order, error) {
	return s.queryOrders(ctx, `SELECT payload FROM orders WHERE status = ? ORDER BY rowid`, status)
}

// ListOfflineOrders returns orders not yet confirmed by the server.
func (s *Store) ListOfflineOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx, `SELECT payload FROM orders WHERE is_offline = 1 ORDER BY rowid`)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	var out []model.Order
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list orders: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return fmt.Errorf("failed to scan order: %w", err)
			}
			var o model.Order
			if err := json.Unmarshal([]byte(payload), &o); err != nil {
				return fmt.Errorf("failed to decode order: %w", err)
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	return out, err
}

// ReplaceOrders clears the collection and rewrites it from a fresh server
// snapshot. Offline-created orders awaiting sync are preserved so a refresh
// cannot drop un-synced work.
func (s *Store) ReplaceOrders(ctx context.Context, orders []model.Order) error {
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

		if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE is_offline = 0`); err != nil {
			return fmt.Errorf("failed to clear orders: %w", err)
		}
		for i := range orders {
			if err := putOrderTx(ctx, tx, &orders[i]); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// DeleteOrder removes an order by id. Admin-only, online-only operation.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return nil
	})
}

// ReplaceOrderID swaps an offline placeholder id for the server-assigned id
// and stores the merged record under the new key in one transaction. The
// placeholder row is removed outright: a lookup by the old id afterwards is a
// defined "not found".
func (s *Store) ReplaceOrderID(ctx context.Context, oldID string, merged *model.Order) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin id replace: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("failed to drop placeholder order: %w", err)
		}
		if err := putOrderTx(ctx, tx, merged); err != nil {
			return err
		}
		return tx.Commit()
	})
}
