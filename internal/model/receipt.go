package model

import "time"

// Receipt records a settled payment for an order.
type Receipt struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	CashierID     string     `json:"cashier_id,omitempty"`
	IsOffline     bool       `json:"is_offline"`
	CreatedAt     time.Time  `json:"created_at"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

// Bill request statuses.
const (
	BillRequestOpen   = "open"
	BillRequestClosed = "closed"
)

// BillRequest is a waiter-initiated request to bring the bill to a table.
type BillRequest struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	TableID   string     `json:"table_id,omitempty"`
	Status    string     `json:"status"`
	IsOffline bool       `json:"is_offline"`
	CreatedAt time.Time  `json:"created_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}
