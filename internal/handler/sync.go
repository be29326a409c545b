package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tillpoint-offline-sync/internal/connectivity"
	"tillpoint-offline-sync/internal/store"
	"tillpoint-offline-sync/internal/syncer"
	"tillpoint-offline-sync/pkg/apierror"
	"tillpoint-offline-sync/pkg/response"
)

// SyncHandler exposes the synchronizer and pending-change queue for the
// terminal's status screen.
type SyncHandler struct {
	store   *store.Store
	syncer  *syncer.Syncer
	monitor *connectivity.Monitor
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(st *store.Store, sy *syncer.Syncer, monitor *connectivity.Monitor) *SyncHandler {
	return &SyncHandler{store: st, syncer: sy, monitor: monitor}
}

// SyncStatusResponse represents the sync status payload.
type SyncStatusResponse struct {
	Online        bool             `json:"online"`
	Syncing       bool             `json:"syncing"`
	Queue         map[string]int64 `json:"queue"`
	OfflineOrders int              `json:"offline_orders"`
	Collections   map[string]int64 `json:"collections"`
	LastSyncAt    *time.Time       `json:"last_sync_at,omitempty"`
	LastOutcome   *syncer.Outcome  `json:"last_outcome,omitempty"`
	UsageBytes    int64            `json:"usage_bytes"`
	QuotaBytes    int64            `json:"quota_bytes"`
}

// snapshotCollections are the server-owned collections surfaced in the
// status payload, so the UI can tell an empty cache from a stale one.
var snapshotCollections = []string{"orders", "menu_items", "dining_tables", "staff"}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountJobs(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError("failed to read queue: "+err.Error()))
		return
	}

	usage, err := h.store.EstimateUsage(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError("failed to size store: "+err.Error()))
		return
	}

	offline, err := h.store.ListOfflineOrders(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError("failed to list offline orders: "+err.Error()))
		return
	}

	collections := make(map[string]int64, len(snapshotCollections))
	for _, name := range snapshotCollections {
		n, err := h.store.CountSnapshot(r.Context(), name)
		if err != nil {
			response.Error(w, apierror.InternalError("failed to count "+name+": "+err.Error()))
			return
		}
		collections[name] = n
	}

	status := SyncStatusResponse{
		Online:        h.monitor.Online(),
		Syncing:       h.syncer.Syncing(),
		Queue:         counts,
		OfflineOrders: len(offline),
		Collections:   collections,
		LastOutcome:   h.syncer.LastOutcome(),
		UsageBytes:    usage,
		QuotaBytes:    h.store.QuotaBytes(),
	}
	if settings, err := h.store.GetSettings(r.Context()); err == nil && settings != nil {
		status.LastSyncAt = settings.LastSyncAt
	}

	response.OK(w, status)
}

// Trigger handles POST /sync/trigger: a manual sync-now request from the
// status screen. A pass already in flight answers 409; its result covers the
// caller's intent.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.syncer.Sync(r.Context())
	if errors.Is(err, syncer.ErrSyncInProgress) {
		response.Error(w, apierror.Conflict("sync already in progress"))
		return
	}
	if err != nil {
		response.Error(w, apierror.InternalError("sync failed: "+err.Error()))
		return
	}
	response.OK(w, map[string]any{
		"message": outcome.Message(),
		"outcome": outcome,
	})
}

// ListJobs handles GET /sync/jobs?status=pending. Without a status filter it
// returns pending jobs, the set the next pass will attempt.
func (h *SyncHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "pending"
	}

	jobs, err := h.store.ListJobsByStatus(r.Context(), status)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to list jobs: "+err.Error()))
		return
	}
	response.OK(w, jobs)
}

// RetryJob handles POST /sync/jobs/{id}/retry: manual requeue of a terminal
// (rejected or failed) job after the operator fixed the underlying cause.
func (h *SyncHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to load job: "+err.Error()))
		return
	}
	if job == nil {
		response.Error(w, apierror.NotFound("job not found"))
		return
	}
	if !job.Terminal() {
		response.Error(w, apierror.Conflict("job is not in a terminal state"))
		return
	}

	if err := h.store.RetryJob(r.Context(), jobID); err != nil {
		response.Error(w, apierror.InternalError("failed to requeue job: "+err.Error()))
		return
	}
	response.OK(w, map[string]string{"job_id": jobID, "status": "pending"})
}

// Reset handles POST /offline/reset: wipes every local collection including
// the queue. Intended for the logout / switch-venue flow; queued changes that
// never synced are lost, which is why the UI confirms first.
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(r.Context()); err != nil {
		response.Error(w, apierror.InternalError("failed to reset offline data: "+err.Error()))
		return
	}
	response.OK(w, map[string]string{"status": "reset"})
}
