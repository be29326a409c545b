package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint-offline-sync/internal/api"
	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/model"
	"tillpoint-offline-sync/internal/recorder"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/pkg/uid"
)

// fakeBackend is a scripted POS backend. It hands out sequential server ids
// and records every mutation body it receives.
type fakeBackend struct {
	mu         sync.Mutex
	nextID     int64
	bodies     map[string][]string // method+path prefix -> raw bodies
	mutations  int
	authStatus int
	orderCode  int // non-zero forces this status on POST /orders
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextID: 1041, bodies: make(map[string][]string), authStatus: http.StatusOK}
}

func (f *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.URL.Path == "/auth/verify" {
			w.WriteHeader(f.authStatus)
			return
		}

		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		f.bodies[key] = append(f.bodies[key], string(body))
		f.mutations++

		if r.Method == http.MethodPost && r.URL.Path == "/orders" && f.orderCode != 0 {
			w.WriteHeader(f.orderCode)
			fmt.Fprint(w, `{"error":"scripted failure"}`)
			return
		}

		f.nextID++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"success":true,"data":{"id":%d}}`, f.nextID)
	})
}

func (f *fakeBackend) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func (f *fakeBackend) lastBody(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	bodies := f.bodies[key]
	if len(bodies) == 0 {
		return ""
	}
	return bodies[len(bodies)-1]
}

type fixture struct {
	store   *store.Store
	backend *fakeBackend
	monitor *connectivity.Monitor
	rec     *recorder.Recorder
	syncer  *Syncer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"), store.Options{
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client := api.New(srv.URL, "test-token", time.Second)
	monitor := connectivity.New("unused:1", time.Minute)
	monitor.SetOnline(true)

	return &fixture{
		store:   st,
		backend: backend,
		monitor: monitor,
		rec:     recorder.New(st, client, monitor),
		syncer:  New(st, client, monitor, nil, cfg),
	}
}

func TestSyncReplacesPlaceholderID(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Burger", Quantity: 2, UnitPrice: 8.5}},
	})
	require.NoError(t, err)
	require.True(t, uid.IsOffline(order.ID))

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Aborted)
	assert.Equal(t, 1, outcome.Synced)
	assert.Equal(t, "Synced 1 items", outcome.Message())

	// The placeholder is replaced outright.
	gone, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	synced, err := f.store.GetOrder(ctx, "1042")
	require.NoError(t, err)
	require.NotNil(t, synced)
	assert.False(t, synced.IsOffline)
	assert.NotNil(t, synced.SyncedAt)
	assert.Equal(t, 17.0, synced.TotalAmount)

	jobs, err := f.store.ListJobsByStatus(ctx, model.JobStatusSynced)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "1042", jobs[0].RecordID)

	// Settings carry the last successful pass.
	settings, err := f.store.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.NotNil(t, settings.LastSyncAt)
}

func TestSyncRemapsLaterJobReferences(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	order, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Cola", Quantity: 2, UnitPrice: 5.5}},
	})
	require.NoError(t, err)

	// Receipt and bill request recorded against the offline placeholder.
	_, err = f.rec.CreateReceipt(ctx, recorder.ReceiptDraft{OrderID: order.ID})
	require.NoError(t, err)
	_, err = f.rec.CreateBillRequest(ctx, recorder.BillRequestDraft{OrderID: order.ID, TableID: "5"})
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Synced)

	// The backend must see the server order id, never the placeholder.
	receiptBody := f.backend.lastBody("POST /receipts")
	assert.Contains(t, receiptBody, `"order_id":"1042"`)
	assert.NotContains(t, receiptBody, order.ID)

	billBody := f.backend.lastBody("POST /bill-requests")
	assert.Contains(t, billBody, `"order_id":"1042"`)

	receipt, err := f.store.GetReceiptByOrder(ctx, "1042")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.False(t, receipt.IsOffline)
}

func TestSyncOrderStatusForUncachedOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.rec.UpdateOrderStatus(ctx, "1042", model.OrderStatusPaid, "jonas")
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Synced)

	body := f.backend.lastBody("PATCH /orders/1042/status")
	assert.Contains(t, body, `"status":"paid"`)
}

func TestSyncRejectionIsTerminal(t *testing.T) {
	f := newFixture(t, Config{})
	f.backend.orderCode = http.StatusUnprocessableEntity
	ctx := context.Background()

	order, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Pie", Quantity: 1, UnitPrice: 3.0}},
	})
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Synced)
	assert.Equal(t, 1, outcome.Rejected)
	assert.Equal(t, "Synced 0 items (1 rejected, 0 failed)", outcome.Message())

	jobs, err := f.store.ListJobsByStatus(ctx, model.JobStatusRejected)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].LastError, "422")

	// The local record stays, still flagged offline, for manual resolution.
	local, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.True(t, local.IsOffline)

	// A rejected job is not picked up again.
	outcome, err = f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Rejected)
	assert.Equal(t, 0, outcome.Synced)
}

func TestSyncServerErrorRetriesWithBackoff(t *testing.T) {
	f := newFixture(t, Config{BackoffBase: time.Minute})
	f.backend.orderCode = http.StatusInternalServerError
	ctx := context.Background()

	_, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Tea", Quantity: 1, UnitPrice: 2.0}},
	})
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Retried)

	jobs, err := f.store.ListJobsByStatus(ctx, model.JobStatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].RetryCount)
	require.NotNil(t, jobs[0].NextRetryAt)
	assert.True(t, jobs[0].NextRetryAt.After(time.Now().UTC()))

	// Until the backoff window passes the job is deferred, not re-attempted.
	outcome, err = f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Deferred)
	assert.Equal(t, 0, outcome.Retried)
}

func TestSyncRetryCeilingMarksFailed(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	f.backend.orderCode = http.StatusBadGateway
	ctx := context.Background()

	_, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Stew", Quantity: 1, UnitPrice: 6.0}},
	})
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Failed)

	jobs, err := f.store.ListJobsByStatus(ctx, model.JobStatusFailed)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Terminal())
}

func TestSyncAbortsWhenOffline(t *testing.T) {
	f := newFixture(t, Config{})
	f.monitor.SetOnline(false)
	ctx := context.Background()

	_, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Cake", Quantity: 1, UnitPrice: 4.5}},
	})
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Aborted)
	assert.Equal(t, "offline", outcome.Reason)
	assert.True(t, strings.HasPrefix(outcome.Message(), "Sync failed:"))

	// Nothing consumed, nothing sent.
	assert.Equal(t, 0, f.backend.mutationCount())
	pending, err := f.store.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSyncAbortsOnAuthFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.backend.authStatus = http.StatusUnauthorized
	ctx := context.Background()

	_, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Juice", Quantity: 1, UnitPrice: 3.5}},
	})
	require.NoError(t, err)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Aborted)
	assert.Contains(t, outcome.Reason, "auth verification failed")
	assert.Equal(t, 0, f.backend.mutationCount())
}

func TestSyncedJobsAreNotResent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.rec.CreateOrder(ctx, recorder.OrderDraft{
		Items: []recorder.OrderItemDraft{{Name: "Wrap", Quantity: 1, UnitPrice: 7.0}},
	})
	require.NoError(t, err)

	_, err = f.syncer.Sync(ctx)
	require.NoError(t, err)
	sent := f.backend.mutationCount()
	assert.Equal(t, 1, sent)

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Synced)
	assert.Equal(t, sent, f.backend.mutationCount())
}

func TestConcurrentTriggersCoalesce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	st, err := store.Open(filepath.Join(t.TempDir(), "coalesce.db"), store.Options{
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/verify" {
			close(started)
			<-release
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"data":{"id":1}}`)
	}))
	t.Cleanup(srv.Close)

	monitor := connectivity.New("unused:1", time.Minute)
	monitor.SetOnline(true)
	sy := New(st, api.New(srv.URL, "t", 5*time.Second), monitor, nil, Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := sy.Sync(context.Background())
		errCh <- err
	}()

	<-started
	assert.True(t, sy.Syncing())

	// A trigger during an active pass is a coalesced no-op.
	_, err = sy.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, sy.Syncing())
	assert.NotNil(t, sy.LastOutcome())
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	sy := New(nil, nil, nil, nil, Config{BackoffBase: 30 * time.Second, BackoffMax: 30 * time.Minute})

	assert.Equal(t, 30*time.Second, sy.backoff(0))
	assert.Equal(t, time.Minute, sy.backoff(1))
	assert.Equal(t, 8*time.Minute, sy.backoff(4))
	assert.Equal(t, 30*time.Minute, sy.backoff(7))
	assert.Equal(t, 30*time.Minute, sy.backoff(40))
}

func TestUnknownJobTypeRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.store.AppendJob(ctx, &model.QueueJob{
		ID:        "j-weird",
		Type:      "reticulate_splines",
		RecordID:  "x",
		Data:      json.RawMessage(`{}`),
		Status:    model.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}))

	outcome, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Rejected)
}
