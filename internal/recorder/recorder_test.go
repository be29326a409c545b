package recorder

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint-offline-sync/internal/model"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/pkg/uid"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rec.db"), store.Options{
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, nil, nil), st
}

func TestCreateOrderPairsRecordWithJob(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	order, err := rec.CreateOrder(ctx, OrderDraft{
		TableID: "5",
		Items: []OrderItemDraft{
			{Name: "Burger", Type: "food", Quantity: 2, UnitPrice: 12.5},
			{Name: "Cola", Type: "drink", Quantity: "1", UnitPrice: "3"},
		},
	})
	require.NoError(t, err)

	assert.True(t, uid.IsOffline(order.ID))
	assert.True(t, order.IsOffline)
	assert.Equal(t, 28.0, order.TotalAmount)

	stored, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 28.0, stored.TotalAmount)

	jobs, err := st.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobCreateOrder, jobs[0].Type)
	assert.Equal(t, order.ID, jobs[0].RecordID)

	// The queued payload carries the normalized order, not the raw draft.
	var queued model.Order
	require.NoError(t, json.Unmarshal(jobs[0].Data, &queued))
	assert.Equal(t, 28.0, queued.TotalAmount)
	assert.Equal(t, 2, queued.Items[1].Quantity)
}

func TestUpdateOrderStatusCached(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	created, err := rec.CreateOrder(ctx, OrderDraft{
		Items: []OrderItemDraft{{Name: "Soup", Quantity: 1, UnitPrice: 4.0}},
	})
	require.NoError(t, err)

	updated, err := rec.UpdateOrderStatus(ctx, created.ID, model.OrderStatusReady, "amira")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.OrderStatusReady, updated.Status)
	assert.True(t, updated.IsOffline)

	jobs, err := st.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobUpdateOrderStatus, jobs[1].Type)
}

func TestUpdateOrderStatusUncached(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	// The order lives only server-side; the change is queued anyway.
	updated, err := rec.UpdateOrderStatus(ctx, "1042", model.OrderStatusPaid, "jonas")
	require.NoError(t, err)
	assert.Nil(t, updated)

	jobs, err := st.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "1042", jobs[0].RecordID)

	var update model.OrderStatusUpdate
	require.NoError(t, json.Unmarshal(jobs[0].Data, &update))
	assert.Equal(t, model.OrderStatusPaid, update.Status)
	assert.Equal(t, "jonas", update.UpdatedBy)
}

func TestUpdateOrderStatusRequiresOrderRef(t *testing.T) {
	rec, _ := newTestRecorder(t)

	_, err := rec.UpdateOrderStatus(context.Background(), "", model.OrderStatusPaid, "")
	assert.ErrorIs(t, err, ErrMissingOrderRef)
}

func TestCreateReceiptFallsBackToOrderTotal(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	order, err := rec.CreateOrder(ctx, OrderDraft{
		Items: []OrderItemDraft{{Name: "Burger", Quantity: 2, UnitPrice: 8.5}},
	})
	require.NoError(t, err)

	receipt, err := rec.CreateReceipt(ctx, ReceiptDraft{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, 17.0, receipt.Total)
	assert.Equal(t, "cash", receipt.PaymentMethod)
	assert.True(t, uid.IsOffline(receipt.ID))

	jobs, err := st.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobCreateReceipt, jobs[1].Type)
}

func TestCreateBillRequest(t *testing.T) {
	rec, st := newTestRecorder(t)
	ctx := context.Background()

	bill, err := rec.CreateBillRequest(ctx, BillRequestDraft{OrderID: "1042", TableID: "5"})
	require.NoError(t, err)
	assert.Equal(t, model.BillRequestOpen, bill.Status)
	assert.True(t, bill.IsOffline)

	stored, err := st.GetBillRequest(ctx, bill.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestDeleteOrderOfflineRefused(t *testing.T) {
	rec, _ := newTestRecorder(t)

	// No monitor wired: the recorder must refuse rather than queue a delete.
	err := rec.DeleteOrder(context.Background(), "1042")
	assert.ErrorIs(t, err, ErrOnlineOnly)
}
