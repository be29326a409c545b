package model

import (
	"encoding/json"
	"time"
)

// Queue job types, one per server-bound mutation kind.
const (
	JobCreateOrder       = "create_order"
	JobUpdateOrderStatus = "update_order_status"
	JobCreateReceipt     = "create_receipt"
	JobCreateBillRequest = "create_bill_request"
)

// Queue job statuses.
//
// pending  - waiting for (another) delivery attempt
// synced   - accepted by the server, kept for audit until quota cleanup
// rejected - server refused the mutation (4xx), needs manual resolution
// failed   - retry ceiling reached on network-class errors
const (
	JobStatusPending  = "pending"
	JobStatusSynced   = "synced"
	JobStatusRejected = "rejected"
	JobStatusFailed   = "failed"
)

// QueueJob is one entry of the pending-change queue. Data holds a snapshot of
// the normalized mutation at enqueue time; it is written in the same store
// transaction as the record it mirrors, so queue and store never diverge.
type QueueJob struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	RecordID    string          `json:"record_id"`
	Status      string          `json:"status"`
	RetryCount  int             `json:"retry_count"`
	LastError   string          `json:"last_error,omitempty"`
	LastRetry   *time.Time      `json:"last_retry,omitempty"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	SyncedAt    *time.Time      `json:"synced_at,omitempty"`
}

// Terminal reports true when the job will never be attempted again.
func (j *QueueJob) Terminal() bool {
	return j.Status == JobStatusSynced || j.Status == JobStatusRejected || j.Status == JobStatusFailed
}
