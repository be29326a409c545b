package recorder

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"tillpoint-offline-sync/internal/model"
)

// Normalization happens exactly once, here at the recorder boundary, so every
// downstream consumer (store, queue, synchronizer) can trust the shape.
// Required numeric fields are never stored as null: a missing quantity
// becomes 1, a missing price becomes 0, so no stored total can ever be NaN.

// PlaceholderItemName replaces a missing or blank item name.
const PlaceholderItemName = "Unknown Item"

// Defaults for missing numeric fields.
const (
	DefaultQuantity = 1
	DefaultPrice    = 0.0
)

// OrderDraft is a loosely typed create-order payload as it arrives from a UI
// action. Numeric fields are `any` because form inputs routinely deliver
// string-typed numbers.
type OrderDraft struct {
	ID        string           `json:"id,omitempty"`
	TableID   string           `json:"table_id,omitempty"`
	WaiterID  string           `json:"waiter_id,omitempty"`
	CashierID string           `json:"cashier_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Items     []OrderItemDraft `json:"items"`
}

// OrderItemDraft is one loosely typed order line.
type OrderItemDraft struct {
	ItemID    string `json:"item_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	Quantity  any    `json:"quantity,omitempty"`
	UnitPrice any    `json:"price,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ReceiptDraft is a loosely typed create-receipt payload.
type ReceiptDraft struct {
	ID            string `json:"id,omitempty"`
	OrderID       string `json:"order_id"`
	Total         any    `json:"total,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	CashierID     string `json:"cashier_id,omitempty"`
}

// BillRequestDraft is a loosely typed create-bill-request payload.
type BillRequestDraft struct {
	ID      string `json:"id,omitempty"`
	OrderID string `json:"order_id"`
	TableID string `json:"table_id,omitempty"`
}

// NormalizeOrder converts a draft into the canonical stored order shape. The
// aggregate total is recomputed from the normalized lines.
func NormalizeOrder(d OrderDraft, now time.Time) model.Order {
	items := make([]model.OrderItem, 0, len(d.Items))
	var total float64
	for _, raw := range d.Items {
		item := normalizeItem(raw)
		total += item.LineTotal()
		items = append(items, item)
	}

	status := strings.TrimSpace(d.Status)
	if status == "" {
		status = model.OrderStatusPending
	}

	return model.Order{
		ID:          d.ID,
		Items:       items,
		TotalAmount: roundMoney(total),
		TableID:     d.TableID,
		WaiterID:    d.WaiterID,
		CashierID:   d.CashierID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func normalizeItem(d OrderItemDraft) model.OrderItem {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = PlaceholderItemName
	}
	itemType := strings.TrimSpace(d.Type)
	if itemType != model.ItemTypeFood && itemType != model.ItemTypeDrink {
		itemType = model.ItemTypeFood
	}
	status := strings.TrimSpace(d.Status)
	if status == "" {
		status = model.OrderStatusPending
	}

	qty := CoerceInt(d.Quantity, DefaultQuantity)
	if qty < 1 {
		qty = DefaultQuantity
	}
	price := CoerceFloat(d.UnitPrice, DefaultPrice)
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		price = DefaultPrice
	}

	return model.OrderItem{
		ItemID:    d.ItemID,
		Name:      name,
		Type:      itemType,
		Quantity:  qty,
		UnitPrice: price,
		Status:    status,
	}
}

// NormalizeReceipt converts a draft into the canonical stored receipt shape.
// When the draft carries no total, the caller passes the order's total as the
// fallback.
func NormalizeReceipt(d ReceiptDraft, fallbackTotal float64, now time.Time) model.Receipt {
	total := CoerceFloat(d.Total, fallbackTotal)
	if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		total = fallbackTotal
	}
	method := strings.TrimSpace(d.PaymentMethod)
	if method == "" {
		method = "cash"
	}
	return model.Receipt{
		ID:            d.ID,
		OrderID:       d.OrderID,
		Total:         roundMoney(total),
		PaymentMethod: method,
		CashierID:     d.CashierID,
		CreatedAt:     now,
	}
}

// NormalizeBillRequest converts a draft into the canonical stored shape.
func NormalizeBillRequest(d BillRequestDraft, now time.Time) model.BillRequest {
	return model.BillRequest{
		ID:        d.ID,
		OrderID:   d.OrderID,
		TableID:   d.TableID,
		Status:    model.BillRequestOpen,
		CreatedAt: now,
	}
}

// CoerceInt extracts an integer from a loosely typed value, falling back to
// def for nil, blanks and garbage.
func CoerceInt(v any, def int) int {
	switch t := v.(type) {
	case nil:
		return def
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return def
		}
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
		return def
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return def
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
		return def
	default:
		return def
	}
}

// CoerceFloat extracts a float from a loosely typed value, falling back to
// def for nil, blanks and garbage.
func CoerceFloat(v any, def float64) float64 {
	switch t := v.(type) {
	case nil:
		return def
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return def
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return def
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return def
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return def
	default:
		return def
	}
}

// roundMoney keeps stored currency amounts at cent precision.
func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
