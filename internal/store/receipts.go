package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tillpoint-offline-sync/internal/model"
)

// PutReceipt upserts a receipt by primary key.
func (s *Store) PutReceipt(ctx context.Context, r *model.Receipt) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		return putReceiptTx(ctx, s.db, r)
	})
}

func putReceiptTx(ctx context.Context, e execer, r *model.Receipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	// order_id carries a unique index; a second receipt for the same order
	// replaces the first (last write wins, a data-integrity anomaly rather
	// than a rejected write).
	if _, err := e.ExecContext(ctx,
		`DELETE FROM receipts WHERE order_id = ? AND id <> ?`, r.OrderID, r.ID); err != nil {
		return fmt.Errorf("failed to displace duplicate receipt: %w", err)
	}

	query := `
		INSERT INTO receipts (id, order_id, is_offline, payload, created_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_id = excluded.order_id,
			is_offline = excluded.is_offline,
			payload = excluded.payload,
			synced_at = excluded.synced_at`

	_, err = e.ExecContext(ctx, query,
		r.ID, r.OrderID, r.IsOffline, string(payload), r.CreatedAt, nullTime(r.SyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by id. Not found is (nil, nil).
func (s *Store) GetReceipt(ctx context.Context, id string) (*model.Receipt, error) {
	return s.getReceipt(ctx, `SELECT payload FROM receipts WHERE id = ?`, id)
}

// GetReceiptByOrder retrieves a receipt via the unique order_id index.
func (s *Store) GetReceiptByOrder(ctx context.Context, orderID string) (*model.Receipt, error) {
	return s.getReceipt(ctx, `SELECT payload FROM receipts WHERE order_id = ?`, orderID)
}

func (s *Store) getReceipt(ctx context.Context, query string, arg string) (*model.Receipt, error) {
	var out *model.Receipt
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var payload string
		err := s.db.QueryRowContext(ctx, query, arg).Scan(&payload)
		if err == sql.ErrNoRows {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get receipt: %w", err)
		}
		var r model.Receipt
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return fmt.Errorf("failed to decode receipt: %w", err)
		}
		out = &r
		return nil
	})
	return out, err
}

// ReplaceReceiptID swaps an offline placeholder id for the server-assigned id
// in one transaction, removing the placeholder row.
func (s *Store) ReplaceReceiptID(ctx context.Context, oldID string, merged *model.Receipt) error {
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

		if _, err := tx.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("failed to drop placeholder receipt: %w", err)
		}
		if err := putReceiptTx(ctx, tx, merged); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// PutBillRequest upserts a bill request by primary key.
func (s *Store) PutBillRequest(ctx context.Context, b *model.BillRequest) error {
	return s.withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		return putBillRequestTx(ctx, s.db, b)
	})
}

func putBillRequestTx(ctx context.Context, e execer, b *model.BillRequest) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode bill request: %w", err)
	}

	query := `
		INSERT INTO bill_requests (id, order_id, status, is_offline, payload, created_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_id = excluded.order_id,
			status = excluded.status,
			is_offline = excluded.is_offline,
			payload = excluded.payload,
			synced_at = excluded.synced_at`

	_, err = e.ExecContext(ctx, query,
		b.ID, b.OrderID, b.Status, b.IsOffline, string(payload), b.CreatedAt, nullTime(b.SyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert bill request: %w", err)
	}
	return nil
}

// GetBillRequest retrieves a bill request by id. Not found is (nil, nil).
func (s *Store) GetBillRequest(ctx context.Context, id string) (*model.BillRequest, error) {
	var out *model.BillRequest
	err := s.withRetry(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}

		var payload string
		err := s.db.QueryRowContext(ctx, `SELECT payload FROM bill_requests WHERE id = ?`, id).Scan(&payload)
		if err == sql.ErrNoRows {
			out = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get bill request: %w", err)
		}
		var b model.BillRequest
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return fmt.Errorf("failed to decode bill request: %w", err)
		}
		out = &b
		return nil
	})
	return out, err
}

// ListBillRequestsByOrder returns bill requests referencing an order.
func (s *Store) ListBillRequestsByOrder(ctx context.Context, orderID string) ([]model.BillRequest, error) {
	payloads, err := s.querySnapshot(ctx,
		`SELECT payload FROM bill_requests WHERE order_id = ? ORDER BY rowid`, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]model.BillRequest, 0, len(payloads))
	for _, p := range payloads {
		var b model.BillRequest
		if err := json.Unmarshal([]byte(p), &b); err != nil {
			return nil, fmt.Errorf("failed to decode bill request: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// ReplaceBillRequestID swaps an offline placeholder id for the server id.
func (s *Store) ReplaceBillRequestID(ctx context.Context, oldID string, merged *model.BillRequest) error {
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

		if _, err := tx.ExecContext(ctx, `DELETE FROM bill_requests WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("failed to drop placeholder bill request: %w", err)
		}
		if err := putBillRequestTx(ctx, tx, merged); err != nil {
			return err
		}
		return tx.Commit()
	})
}
