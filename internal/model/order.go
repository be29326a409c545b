package model

import "time"

// Order lifecycle statuses.
const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusReady      = "ready"
	OrderStatusCompleted  = "completed"
	OrderStatusPaid       = "paid"
	OrderStatusCancelled  = "cancelled"
)

// Line item types, used to route items to kitchen vs bar displays.
const (
	ItemTypeFood  = "food"
	ItemTypeDrink = "drink"
)

// OrderItem is a single line on an order.
type OrderItem struct {
	ItemID    string  `json:"item_id,omitempty"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Status    string  `json:"status"`
}

// LineTotal returns quantity * unit price for this line.
func (i OrderItem) LineTotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// Order represents a dine-in or takeaway order as stored on the terminal.
//
// ID is either the server-assigned id (stored as its decimal string) or an
// offline placeholder id generated by pkg/uid while disconnected. Once the
// synchronizer receives the server id the placeholder is replaced outright,
// never aliased.
type Order struct {
	ID          string      `json:"id"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
	TableID     string      `json:"table_id,omitempty"`
	WaiterID    string      `json:"waiter_id,omitempty"`
	CashierID   string      `json:"cashier_id,omitempty"`
	Status      string      `json:"status"`
	IsOffline   bool        `json:"is_offline"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	SyncedAt    *time.Time  `json:"synced_at,omitempty"`
}

// OrderStatusUpdate is the payload of an update-order-status mutation.
type OrderStatusUpdate struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
