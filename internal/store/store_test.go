package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint-offline-sync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(id string) *model.Order {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Order{
		ID: id,
		Items: []model.OrderItem{
			{Name: "Burger", Type: model.ItemTypeFood, Quantity: 2, UnitPrice: 8.5, Status: model.OrderStatusPending},
		},
		TotalAmount: 17.0,
		TableID:     "5",
		Status:      model.OrderStatusPending,
		IsOffline:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOrder(ctx, testOrder("offline_1_abc")))

	got, err := s.GetOrder(ctx, "offline_1_abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "offline_1_abc", got.ID)
	assert.Equal(t, 17.0, got.TotalAmount)
	assert.True(t, got.IsOffline)
	assert.Len(t, got.Items, 1)
}

func TestGetOrderMiss(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetOrder(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutOrderUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	o := testOrder("7")
	require.NoError(t, s.PutOrder(ctx, o))

	o.Status = model.OrderStatusPaid
	o.IsOffline = false
	require.NoError(t, s.PutOrder(ctx, o))

	all, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.OrderStatusPaid, all[0].Status)
	assert.False(t, all[0].IsOffline)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.PutOrder(ctx, testOrder("42")))
	require.NoError(t, s.Close())

	// Reopening runs migrations again; an already-current schema is a no-op
	// and loses nothing.
	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetOrder(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "42", got.ID)
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	err := s.PutOrder(context.Background(), testOrder("1"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplaceOrdersPreservesOffline(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	synced := testOrder("100")
	synced.IsOffline = false
	require.NoError(t, s.PutOrder(ctx, synced))

	offline := testOrder("offline_9_xyz")
	require.NoError(t, s.PutOrder(ctx, offline))

	// A snapshot refresh replaces server-owned rows only; the un-synced
	// offline order must survive.
	fresh := testOrder("200")
	fresh.IsOffline = false
	require.NoError(t, s.ReplaceOrders(ctx, []model.Order{*fresh}))

	all, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	ids := []string{all[0].ID, all[1].ID}
	assert.Contains(t, ids, "200")
	assert.Contains(t, ids, "offline_9_xyz")
}

func TestReplaceOrderID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOrder(ctx, testOrder("offline_5_old")))

	merged := testOrder("1042")
	merged.IsOffline = false
	require.NoError(t, s.ReplaceOrderID(ctx, "offline_5_old", merged))

	// The placeholder is gone outright, not aliased.
	old, err := s.GetOrder(ctx, "offline_5_old")
	require.NoError(t, err)
	assert.Nil(t, old)

	got, err := s.GetOrder(ctx, "1042")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsOffline)
}

func TestSnapshotReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceMenuItems(ctx, []model.MenuItem{
		{ID: "1", Name: "Burger", Category: "mains", Type: model.ItemTypeFood, Price: 8.5, Available: true},
		{ID: "2", Name: "Cola", Category: "drinks", Type: model.ItemTypeDrink, Price: 5.5, Available: true},
	}))

	items, err := s.ListMenuItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Replace-on-refresh: stale rows do not linger.
	require.NoError(t, s.ReplaceMenuItems(ctx, []model.MenuItem{
		{ID: "3", Name: "Soup", Category: "mains", Type: model.ItemTypeFood, Price: 4.0, Available: true},
	}))

	items, err = s.ListMenuItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Soup", items[0].Name)

	byCat, err := s.ListMenuItemsByCategory(ctx, "mains")
	require.NoError(t, err)
	assert.Len(t, byCat, 1)
}

func TestStaffLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceStaff(ctx, []model.Staff{
		{ID: "1", Username: "amira", Role: "waiter"},
		{ID: "2", Username: "jonas", Role: "admin"},
	}))

	got, err := s.GetStaffByUsername(ctx, "amira")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "waiter", got.Role)

	missing, err := s.GetStaffByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFetchLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Never fetched: nil timestamp distinguishes "no data" from "empty".
	ts, err := s.LastFetched(ctx, "menu_items")
	require.NoError(t, err)
	assert.Nil(t, ts)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.MarkFetched(ctx, "menu_items", at))

	ts, err = s.LastFetched(ctx, "menu_items")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.Equal(at))
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutOrder(ctx, testOrder("1")))
	require.NoError(t, s.ReplaceMenuItems(ctx, []model.MenuItem{{ID: "1", Name: "Burger"}}))
	require.NoError(t, s.MarkFetched(ctx, "menu_items", time.Now().UTC()))

	require.NoError(t, s.Reset(ctx))

	orders, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	items, err := s.ListMenuItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	ts, err := s.LastFetched(ctx, "menu_items")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TouchLastSync(ctx, "terminal-1", at))

	got, err = s.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "terminal-1", got.TerminalID)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(at))
}

func TestEstimateUsage(t *testing.T) {
	s := openTestStore(t)

	usage, err := s.EstimateUsage(context.Background())
	require.NoError(t, err)
	assert.Greater(t, usage, int64(0))
	assert.Equal(t, int64(512<<20), s.QuotaBytes())
}

func TestIndexedOrderQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	paid := testOrder("1")
	paid.Status = model.OrderStatusPaid
	paid.IsOffline = false
	require.NoError(t, s.PutOrder(ctx, paid))
	require.NoError(t, s.PutOrder(ctx, testOrder("offline_2_a")))

	byStatus, err := s.ListOrdersByStatus(ctx, model.OrderStatusPaid)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "1", byStatus[0].ID)

	offline, err := s.ListOfflineOrders(ctx)
	require.NoError(t, err)
	require.Len(t, offline, 1)
	assert.Equal(t, "offline_2_a", offline[0].ID)

	n, err := s.CountSnapshot(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBillRequestsByOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutBillRequest(ctx, &model.BillRequest{
		ID: "b1", OrderID: "42", Status: model.BillRequestOpen, CreatedAt: now,
	}))
	require.NoError(t, s.PutBillRequest(ctx, &model.BillRequest{
		ID: "b2", OrderID: "43", Status: model.BillRequestOpen, CreatedAt: now,
	}))

	bills, err := s.ListBillRequestsByOrder(ctx, "42")
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, "b1", bills[0].ID)
}

func TestReportsSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.ReplaceReports(ctx, []model.Report{
		{ID: "dashboard:stats", Type: "stats", Date: "2026-08-28", Payload: []byte(`{"orders":17}`), FetchedAt: now},
		{ID: "dashboard:sales", Type: "sales", Date: "2026-08-28", Payload: []byte(`{"revenue":412.5}`), FetchedAt: now},
	}))

	stats, err := s.ListReportsByType(ctx, "stats")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.JSONEq(t, `{"orders":17}`, string(stats[0].Payload))

	// Per-section upsert must not clobber the other cached sections.
	require.NoError(t, s.PutReport(ctx, &model.Report{
		ID: "dashboard:stats", Type: "stats", Date: "2026-08-28", Payload: []byte(`{"orders":18}`), FetchedAt: now,
	}))

	got, err := s.GetReport(ctx, "dashboard:stats")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"orders":18}`, string(got.Payload))

	other, err := s.GetReport(ctx, "dashboard:sales")
	require.NoError(t, err)
	require.NotNil(t, other)
}

func TestReceiptPerOrderUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutReceipt(ctx, &model.Receipt{
		ID: "offline_1_r", OrderID: "42", Total: 28.0, PaymentMethod: "cash", CreatedAt: now,
	}))
	// A second receipt for the same order supersedes the first.
	require.NoError(t, s.PutReceipt(ctx, &model.Receipt{
		ID: "offline_2_r", OrderID: "42", Total: 28.0, PaymentMethod: "card", CreatedAt: now,
	}))

	got, err := s.GetReceiptByOrder(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "offline_2_r", got.ID)

	gone, err := s.GetReceipt(ctx, "offline_1_r")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
