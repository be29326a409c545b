// Package recorder intercepts every write action and commits it locally
// first: the normalized record and its queue job land in the persistent store
// in one transaction, then the UI sees immediate success. This runs
// unconditionally, online or not, so a mid-flight network failure during a
// later server call degrades to the offline path instead of losing the write.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tillpoint-offline-sync/internal/api"
	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/model"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/pkg/uid"
)

// ErrOnlineOnly is returned when an online-only operation is attempted while
// disconnected.
var ErrOnlineOnly = errors.New("recorder: operation requires connectivity")

// ErrMissingOrderRef is returned when a mutation references no order.
var ErrMissingOrderRef = errors.New("recorder: order reference required")

// Recorder pairs local record writes with pending-change queue jobs.
type Recorder struct {
	store   *store.Store
	client  *api.Client
	monitor *connectivity.Monitor
}

// New creates a recorder. client and monitor are only consulted by the
// online-only admin operations; the mutation path is purely local.
func New(st *store.Store, client *api.Client, monitor *connectivity.Monitor) *Recorder {
	return &Recorder{store: st, client: client, monitor: monitor}
}

// CreateOrder normalizes and persists a new order with its create_order queue
// job. Records created without a server id receive an offline placeholder id
// and are marked is_offline until the synchronizer confirms them.
func (r *Recorder) CreateOrder(ctx context.Context, draft OrderDraft) (*model.Order, error) {
	now := time.Now().UTC()
	order := NormalizeOrder(draft, now)
	if order.ID == "" {
		order.ID = uid.NewOffline()
	}
	order.IsOffline = true

	job, err := newJob(model.JobCreateOrder, order.ID, order, now)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutOrderWithJob(ctx, &order, job); err != nil {
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	log.Printf("[Recorder] Recorded order %s (%d items, total %.2f)", order.ID, len(order.Items), order.TotalAmount)
	return &order, nil
}

// UpdateOrderStatus persists a status change and its queue job. The
// read-modify-write runs as one unbroken sequence against the store; when the
// order is not cached locally the job is still queued so the server-side copy
// is updated on the next sync.
func (r *Recorder) UpdateOrderStatus(ctx context.Context, orderID, status, updatedBy string) (*model.Order, error) {
	if orderID == "" {
		return nil, ErrMissingOrderRef
	}
	now := time.Now().UTC()

	update := model.OrderStatusUpdate{
		OrderID:   orderID,
		Status:    status,
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}
	job, err := newJob(model.JobUpdateOrderStatus, orderID, update, now)
	if err != nil {
		return nil, err
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		log.Printf("[Recorder] Status update for uncached order %s queued", orderID)
		if err := r.store.AppendJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to queue status update: %w", err)
		}
		return nil, nil
	}

	order.Status = status
	order.UpdatedAt = now
	order.IsOffline = true
	if err := r.store.PutOrderWithJob(ctx, order, job); err != nil {
		return nil, fmt.Errorf("failed to record status update: %w", err)
	}

	log.Printf("[Recorder] Recorded status %s for order %s", status, orderID)
	return order, nil
}

// CreateReceipt normalizes and persists a receipt with its queue job. The
// total falls back to the referenced order's total when the draft omits it.
func (r *Recorder) CreateReceipt(ctx context.Context, draft ReceiptDraft) (*model.Receipt, error) {
	if draft.OrderID == "" {
		return nil, ErrMissingOrderRef
	}
	now := time.Now().UTC()

	var fallback float64
	if order, err := r.store.GetOrder(ctx, draft.OrderID); err != nil {
		return nil, err
	} else if order != nil {
		fallback = order.TotalAmount
	}

	receipt := NormalizeReceipt(draft, fallback, now)
	if receipt.ID == "" {
		receipt.ID = uid.NewOffline()
	}
	receipt.IsOffline = true

	job, err := newJob(model.JobCreateReceipt, receipt.ID, receipt, now)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutReceiptWithJob(ctx, &receipt, job); err != nil {
		return nil, fmt.Errorf("failed to record receipt: %w", err)
	}

	log.Printf("[Recorder] Recorded receipt %s for order %s (%.2f)", receipt.ID, receipt.OrderID, receipt.Total)
	return &receipt, nil
}

// CreateBillRequest normalizes and persists a bill request with its queue job.
func (r *Recorder) CreateBillRequest(ctx context.Context, draft BillRequestDraft) (*model.BillRequest, error) {
	if draft.OrderID == "" {
		return nil, ErrMissingOrderRef
	}
	now := time.Now().UTC()

	bill := NormalizeBillRequest(draft, now)
	if bill.ID == "" {
		bill.ID = uid.NewOffline()
	}
	bill.IsOffline = true

	job, err := newJob(model.JobCreateBillRequest, bill.ID, bill, now)
	if err != nil {
		return nil, err
	}
	if err := r.store.PutBillRequestWithJob(ctx, &bill, job); err != nil {
		return nil, fmt.Errorf("failed to record bill request: %w", err)
	}

	log.Printf("[Recorder] Recorded bill request %s for order %s", bill.ID, bill.OrderID)
	return &bill, nil
}

// DeleteOrder is the explicit admin hard-delete. Online-only: it goes
// straight to the backend and is never queued; the local copy is removed only
// after the server confirms.
func (r *Recorder) DeleteOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return ErrMissingOrderRef
	}
	if r.monitor == nil || !r.monitor.Online() || r.client == nil {
		return ErrOnlineOnly
	}
	if err := r.client.DeleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("backend delete failed: %w", err)
	}
	if err := r.store.DeleteOrder(ctx, orderID); err != nil {
		return err
	}
	log.Printf("[Recorder] Deleted order %s", orderID)
	return nil
}

func newJob(jobType, recordID string, payload any, now time.Time) (*model.QueueJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", jobType, err)
	}
	return &model.QueueJob{
		ID:        uid.New(),
		Type:      jobType,
		RecordID:  recordID,
		Data:      data,
		Status:    model.JobStatusPending,
		CreatedAt: now,
	}, nil
}
