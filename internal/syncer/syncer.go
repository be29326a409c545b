// Package syncer drains the pending-change queue against the live backend.
// One pass at a time: triggers arriving while a pass is active are coalesced
// into no-ops. Within a pass, jobs run in creation order because later jobs
// may reference offline placeholder ids that earlier jobs translate.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tillpoint-offline-sync/internal/api"
	"tillpoint-offline-sync/internal/cache"
	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/model"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/pkg/uid"
)

// ErrSyncInProgress is returned to a trigger that arrives while a pass is
// already active. Not a failure: the active pass covers the trigger's intent.
var ErrSyncInProgress = errors.New("syncer: pass already in progress")

const verifiedTokenKey = "auth:verified"

// Config tunes the synchronizer.
type Config struct {
	// Interval between periodic passes while online. Default 5m.
	Interval time.Duration

	// MaxAttempts is the network-class retry ceiling per job, after which
	// the job transitions to the terminal failed status. Default 10.
	MaxAttempts int

	// BackoffBase and BackoffMax bound the exponential retry backoff.
	// Defaults 30s and 30m.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// TerminalID stamps the settings row after a successful pass.
	TerminalID string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Minute
	}
	return c
}

// Outcome summarizes one drain pass for the caller to present to the user.
type Outcome struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Synced     int       `json:"synced"`
	Retried    int       `json:"retried"`
	Rejected   int       `json:"rejected"`
	Failed     int       `json:"failed"`
	Deferred   int       `json:"deferred"`
	Aborted    bool      `json:"aborted"`
	Reason     string    `json:"reason,omitempty"`
}

// Message renders the user-facing summary line.
func (o *Outcome) Message() string {
	if o.Aborted {
		return "Sync failed: " + o.Reason
	}
	if o.Rejected > 0 || o.Failed > 0 {
		return fmt.Sprintf("Synced %d items (%d rejected, %d failed)", o.Synced, o.Rejected, o.Failed)
	}
	return fmt.Sprintf("Synced %d items", o.Synced)
}

// Syncer is the queue-drain state machine: Idle -> Syncing -> Idle.
type Syncer struct {
	store   *store.Store
	client  *api.Client
	monitor *connectivity.Monitor
	hot     cache.Cache
	cfg     Config

	syncing atomic.Bool

	mu          sync.Mutex
	lastOutcome *Outcome

	stopCh      chan struct{}
	stopOnce    sync.Once
	unsubscribe func()
}

// New creates a synchronizer. hot may be nil; it only suppresses repeat
// token-verify calls between passes.
func New(st *store.Store, client *api.Client, monitor *connectivity.Monitor, hot cache.Cache, cfg Config) *Syncer {
	return &Syncer{
		store:   st,
		client:  client,
		monitor: monitor,
		hot:     hot,
		cfg:     cfg.withDefaults(),
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to connectivity transitions and launches the periodic
// trigger. Each trigger runs a pass in its own goroutine; coalescing makes
// overlapping triggers harmless.
func (s *Syncer) Start() {
	s.unsubscribe = s.monitor.Subscribe(
		func() { go s.triggered("reconnect") },
		nil,
	)

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.monitor.Online() {
					s.triggered("interval")
				}
			case <-s.stopCh:
				return
			}
		}
	}()

	log.Printf("[Syncer] Started (interval %v, retry ceiling %d)", s.cfg.Interval, s.cfg.MaxAttempts)
}

// Stop halts the periodic trigger and connectivity subscription. An in-flight
// pass is not cancelled; it finishes on its own.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// Syncing reports whether a pass is currently active.
func (s *Syncer) Syncing() bool {
	return s.syncing.Load()
}

// LastOutcome returns the most recent pass summary, or nil before the first
// pass.
func (s *Syncer) LastOutcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

func (s *Syncer) triggered(cause string) {
	outcome, err := s.Sync(context.Background())
	if errors.Is(err, ErrSyncInProgress) {
		return
	}
	if err != nil {
		log.Printf("[Syncer] Pass (%s) error: %v", cause, err)
		return
	}
	log.Printf("[Syncer] Pass (%s): %s", cause, outcome.Message())
}

// Sync runs one drain pass. It never panics past its boundary; per-job
// failures are recorded on the job and the pass continues.
func (s *Syncer) Sync(ctx context.Context) (*Outcome, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	outcome := &Outcome{StartedAt: time.Now().UTC()}
	defer func() {
		outcome.FinishedAt = time.Now().UTC()
		s.mu.Lock()
		s.lastOutcome = outcome
		s.mu.Unlock()
	}()

	// Preconditions: link up and token accepted. Abort without consuming
	// queue items when either fails.
	if !s.monitor.Online() {
		outcome.Aborted = true
		outcome.Reason = "offline"
		return outcome, nil
	}
	if err := s.verifyToken(ctx); err != nil {
		outcome.Aborted = true
		outcome.Reason = "auth verification failed: " + err.Error()
		return outcome, nil
	}

	jobs, err := s.store.PendingJobs(ctx)
	if err != nil {
		outcome.Aborted = true
		outcome.Reason = "queue read failed: " + err.Error()
		return outcome, nil
	}

	// Offline placeholder ids translated during this pass. Later jobs
	// referencing a just-translated id are rewritten before dispatch.
	remap := make(map[string]string)
	now := time.Now().UTC()

	for i := range jobs {
		job := &jobs[i]

		if job.NextRetryAt != nil && now.Before(*job.NextRetryAt) {
			outcome.Deferred++
			continue
		}

		if err := s.remapJobRefs(ctx, job, remap); err != nil {
			log.Printf("[Syncer] Job %s remap failed: %v", job.ID, err)
		}

		if err := s.dispatch(ctx, job, remap); err != nil {
			s.recordFailure(ctx, job, err, outcome)
			continue
		}
		outcome.Synced++
	}

	if outcome.Synced > 0 {
		if err := s.store.TouchLastSync(ctx, s.cfg.TerminalID, time.Now().UTC()); err != nil {
			log.Printf("[Syncer] Failed to stamp last sync: %v", err)
		}
	}
	s.store.MaybeCleanup(ctx)
	return outcome, nil
}

// verifyToken performs the lightweight auth check, caching a success for a
// few minutes so periodic passes do not hammer the verify endpoint.
func (s *Syncer) verifyToken(ctx context.Context) error {
	if s.hot != nil {
		if _, err := s.hot.Get(ctx, verifiedTokenKey); err == nil {
			return nil
		}
	}
	if err := s.client.VerifyToken(ctx); err != nil {
		return err
	}
	if s.hot != nil {
		_ = s.hot.Set(ctx, verifiedTokenKey, []byte("1"), 5*time.Minute)
	}
	return nil
}

// remapJobRefs rewrites order references in a job payload when the order's
// placeholder id was translated earlier in this pass. The rewritten payload
// is persisted so a partially completed pass leaves the queue consistent.
func (s *Syncer) remapJobRefs(ctx context.Context, job *model.QueueJob, remap map[string]string) error {
	if len(remap) == 0 {
		return nil
	}

	var refs struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(job.Data, &refs); err != nil {
		return nil // payload carries no references
	}
	serverID, ok := remap[refs.OrderID]
	if !ok {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	payload["order_id"] = serverID
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to re-encode payload: %w", err)
	}

	job.Data = data
	if job.RecordID == refs.OrderID {
		job.RecordID = serverID
	}
	return s.store.UpdateJobData(ctx, job.ID, job.Data, job.RecordID)
}

func (s *Syncer) dispatch(ctx context.Context, job *model.QueueJob, remap map[string]string) error {
	switch job.Type {
	case model.JobCreateOrder:
		return s.syncCreateOrder(ctx, job, remap)
	case model.JobUpdateOrderStatus:
		return s.syncOrderStatus(ctx, job, remap)
	case model.JobCreateReceipt:
		return s.syncCreateReceipt(ctx, job)
	case model.JobCreateBillRequest:
		return s.syncCreateBillRequest(ctx, job)
	default:
		// Unknown job types are rejected rather than retried forever.
		return &api.StatusError{Code: 400, Body: "unknown job type " + job.Type}
	}
}

func (s *Syncer) syncCreateOrder(ctx context.Context, job *model.QueueJob, remap map[string]string) error {
	res, err := s.client.CreateOrder(ctx, job.Data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	local, err := s.store.GetOrder(ctx, job.RecordID)
	if err != nil {
		return err
	}
	if local == nil {
		local = &model.Order{ID: job.RecordID, CreatedAt: now}
	}

	// Merge the server's authoritative body over the local copy.
	merged := *local
	_ = json.Unmarshal(api.UnwrapData(res.Body), &merged)
	merged.IsOffline = false
	merged.UpdatedAt = now
	merged.SyncedAt = &now

	oldID := job.RecordID
	if res.ID != 0 {
		merged.ID = uid.FromServer(res.ID)
	}
	if merged.ID != oldID {
		if err := s.store.ReplaceOrderID(ctx, oldID, &merged); err != nil {
			return err
		}
		remap[oldID] = merged.ID
	} else if err := s.store.PutOrder(ctx, &merged); err != nil {
		return err
	}

	return s.store.MarkJobSynced(ctx, job.ID, now)
}

func (s *Syncer) syncOrderStatus(ctx context.Context, job *model.QueueJob, remap map[string]string) error {
	var update model.OrderStatusUpdate
	if err := json.Unmarshal(job.Data, &update); err != nil {
		return &api.StatusError{Code: 400, Body: "malformed status update payload"}
	}
	orderID := update.OrderID
	if serverID, ok := remap[orderID]; ok {
		orderID = serverID
	}

	res, err := s.client.UpdateOrderStatus(ctx, orderID, job.Data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if local, err := s.store.GetOrder(ctx, orderID); err != nil {
		return err
	} else if local != nil {
		merged := *local
		_ = json.Unmarshal(api.UnwrapData(res.Body), &merged)
		merged.ID = local.ID
		merged.IsOffline = false
		merged.UpdatedAt = now
		merged.SyncedAt = &now
		if err := s.store.PutOrder(ctx, &merged); err != nil {
			return err
		}
	}

	return s.store.MarkJobSynced(ctx, job.ID, now)
}

func (s *Syncer) syncCreateReceipt(ctx context.Context, job *model.QueueJob) error {
	res, err := s.client.CreateReceipt(ctx, job.Data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	local, err := s.store.GetReceipt(ctx, job.RecordID)
	if err != nil {
		return err
	}
	if local == nil {
		local = &model.Receipt{ID: job.RecordID, CreatedAt: now}
	}

	// job.Data carries any order-id translation from earlier in this pass;
	// fold it in so the stored receipt references the server order id.
	merged := *local
	_ = json.Unmarshal(job.Data, &merged)
	_ = json.Unmarshal(api.UnwrapData(res.Body), &merged)
	merged.ID = local.ID
	merged.IsOffline = false
	merged.SyncedAt = &now

	oldID := job.RecordID
	if res.ID != 0 {
		merged.ID = uid.FromServer(res.ID)
	}
	if merged.ID != oldID {
		if err := s.store.ReplaceReceiptID(ctx, oldID, &merged); err != nil {
			return err
		}
	} else if err := s.store.PutReceipt(ctx, &merged); err != nil {
		return err
	}

	return s.store.MarkJobSynced(ctx, job.ID, now)
}

func (s *Syncer) syncCreateBillRequest(ctx context.Context, job *model.QueueJob) error {
	res, err := s.client.CreateBillRequest(ctx, job.Data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	local, err := s.store.GetBillRequest(ctx, job.RecordID)
	if err != nil {
		return err
	}
	if local == nil {
		local = &model.BillRequest{ID: job.RecordID, Status: model.BillRequestOpen, CreatedAt: now}
	}

	merged := *local
	_ = json.Unmarshal(job.Data, &merged)
	_ = json.Unmarshal(api.UnwrapData(res.Body), &merged)
	merged.ID = local.ID
	merged.IsOffline = false
	merged.SyncedAt = &now

	oldID := job.RecordID
	if res.ID != 0 {
		merged.ID = uid.FromServer(res.ID)
	}
	if merged.ID != oldID {
		if err := s.store.ReplaceBillRequestID(ctx, oldID, &merged); err != nil {
			return err
		}
	} else if err := s.store.PutBillRequest(ctx, &merged); err != nil {
		return err
	}

	return s.store.MarkJobSynced(ctx, job.ID, now)
}

// recordFailure classifies a dispatch error. Server-class 4xx rejections are
// terminal; everything else (connect, timeout, 5xx) stays pending with
// exponential backoff up to the retry ceiling.
func (s *Syncer) recordFailure(ctx context.Context, job *model.QueueJob, dispatchErr error, outcome *Outcome) {
	if api.IsRejection(dispatchErr) {
		log.Printf("[Syncer] Job %s (%s) rejected by server: %v", job.ID, job.Type, dispatchErr)
		if err := s.store.MarkJobRejected(ctx, job.ID, dispatchErr.Error()); err != nil {
			log.Printf("[Syncer] Failed to mark job %s rejected: %v", job.ID, err)
		}
		outcome.Rejected++
		return
	}

	attempts := job.RetryCount + 1
	if attempts >= s.cfg.MaxAttempts {
		log.Printf("[Syncer] Job %s (%s) failed permanently after %d attempts: %v",
			job.ID, job.Type, attempts, dispatchErr)
		if err := s.store.MarkJobFailed(ctx, job.ID, dispatchErr.Error()); err != nil {
			log.Printf("[Syncer] Failed to mark job %s failed: %v", job.ID, err)
		}
		outcome.Failed++
		return
	}

	next := time.Now().UTC().Add(s.backoff(job.RetryCount))
	if err := s.store.RecordJobRetry(ctx, job.ID, dispatchErr.Error(), next); err != nil {
		log.Printf("[Syncer] Failed to record retry for job %s: %v", job.ID, err)
	}
	outcome.Retried++
}

// backoff returns the delay before attempt retryCount+2: base doubled per
// prior retry, capped at BackoffMax.
func (s *Syncer) backoff(retryCount int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	return d
}
