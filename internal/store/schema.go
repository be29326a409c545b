package store

import (
	"context"
	"fmt"
	"log"
)

// schemaVersion is the current schema version. Opening a store persisted at a
// lower version applies the missing migrations exactly once; existing data is
// never dropped or rewritten by an upgrade.
const schemaVersion = 2

var allTables = []string{
	"orders", "menu_items", "dining_tables", "staff",
	"receipts", "bill_requests", "reports", "pending_sync", "settings", "fetch_log",
}

// migrations[i] upgrades the schema from version i to i+1. Statements are
// additive only: CREATE TABLE/INDEX IF NOT EXISTS.
var migrations = [][]string{
	// v0 -> v1: core collections and the pending-change queue.
	{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			table_id TEXT,
			cashier_id TEXT,
			is_offline INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			synced_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_cashier ON orders(cashier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_offline ON orders(is_offline)`,

		`CREATE TABLE IF NOT EXISTS menu_items (
			id TEXT PRIMARY KEY,
			category TEXT,
			type TEXT,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_menu_category ON menu_items(category)`,
		`CREATE INDEX IF NOT EXISTS idx_menu_type ON menu_items(type)`,

		`CREATE TABLE IF NOT EXISTS dining_tables (
			id TEXT PRIMARY KEY,
			number INTEGER,
			capacity INTEGER,
			status TEXT,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tables_status ON dining_tables(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tables_number ON dining_tables(number)`,
		`CREATE INDEX IF NOT EXISTS idx_tables_capacity ON dining_tables(capacity)`,

		`CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			phone_number TEXT,
			role TEXT,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staff_phone ON staff(phone_number)`,
		`CREATE INDEX IF NOT EXISTS idx_staff_role ON staff(role)`,

		`CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			is_offline INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			synced_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_created ON receipts(created_at)`,

		`CREATE TABLE IF NOT EXISTS bill_requests (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			status TEXT NOT NULL,
			is_offline INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			synced_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_billreq_order ON bill_requests(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_billreq_status ON bill_requests(status)`,

		`CREATE TABLE IF NOT EXISTS pending_sync (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			data TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_retry DATETIME,
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL,
			synced_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_type ON pending_sync(type)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_sync(status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_sync(created_at)`,
	},
	// v1 -> v2: report snapshots and the single-row settings collection.
	{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			date TEXT NOT NULL,
			payload TEXT NOT NULL,
			fetched_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_type ON reports(type)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_date ON reports(date)`,

		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			terminal_id TEXT NOT NULL,
			last_sync_at DATETIME,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fetch_log (
			collection TEXT PRIMARY KEY,
			fetched_at DATETIME NOT NULL
		)`,
	},
}

// migrate applies all migrations newer than the persisted user_version.
// A store persisted at a higher version than this binary knows is refused
// rather than silently operated on.
func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("store schema v%d is newer than supported v%d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upgrade: %w", err)
	}
	defer tx.Rollback()

	for v := current; v < schemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration v%d failed: %w", v+1, err)
			}
		}
		log.Printf("[Store] Applied schema upgrade v%d -> v%d", v, v+1)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}
