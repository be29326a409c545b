package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillpoint-offline-sync/internal/model"
)

func testJob(id, jobType, recordID string, createdAt time.Time) *model.QueueJob {
	return &model.QueueJob{
		ID:        id,
		Type:      jobType,
		RecordID:  recordID,
		Data:      json.RawMessage(`{"order_id":"` + recordID + `"}`),
		Status:    model.JobStatusPending,
		CreatedAt: createdAt,
	}
}

func TestPutOrderWithJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	order := testOrder("offline_1_abc")
	job := testJob("j1", model.JobCreateOrder, order.ID, now)
	require.NoError(t, s.PutOrderWithJob(ctx, order, job))

	// Record and queue entry land together or not at all.
	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	jobs, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobCreateOrder, jobs[0].Type)
	assert.Equal(t, order.ID, jobs[0].RecordID)
}

func TestPendingJobsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.AppendJob(ctx, testJob("j2", model.JobCreateReceipt, "r1", base.Add(time.Minute))))
	require.NoError(t, s.AppendJob(ctx, testJob("j1", model.JobCreateOrder, "o1", base)))
	require.NoError(t, s.AppendJob(ctx, testJob("j3", model.JobCreateBillRequest, "b1", base.Add(2*time.Minute))))

	jobs, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "j2", jobs[1].ID)
	assert.Equal(t, "j3", jobs[2].ID)
}

func TestJobStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.AppendJob(ctx, testJob("j1", model.JobCreateOrder, "o1", now)))

	// pending -> retry bookkeeping
	next := now.Add(30 * time.Second)
	require.NoError(t, s.RecordJobRetry(ctx, "j1", "connect timeout", next))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "connect timeout", job.LastError)
	require.NotNil(t, job.NextRetryAt)
	assert.True(t, job.NextRetryAt.Equal(next))

	// pending -> synced
	require.NoError(t, s.MarkJobSynced(ctx, "j1", now))
	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSynced, job.Status)
	assert.True(t, job.Terminal())

	// A synced job leaves the pending set for good.
	pending, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkJobRejectedAndRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.AppendJob(ctx, testJob("j1", model.JobCreateOrder, "o1", now)))
	require.NoError(t, s.MarkJobRejected(ctx, "j1", "backend returned 422: bad table"))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRejected, job.Status)
	assert.True(t, job.Terminal())

	// Manual requeue resets the retry bookkeeping.
	require.NoError(t, s.RetryJob(ctx, "j1"))
	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, job.LastError)
	assert.Nil(t, job.NextRetryAt)
}

func TestMarkJobFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendJob(ctx, testJob("j1", model.JobCreateOrder, "o1", time.Now().UTC())))
	require.NoError(t, s.MarkJobFailed(ctx, "j1", "gave up after 10 attempts"))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
}

func TestCountJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.AppendJob(ctx, testJob("j1", model.JobCreateOrder, "o1", now)))
	require.NoError(t, s.AppendJob(ctx, testJob("j2", model.JobCreateOrder, "o2", now)))
	require.NoError(t, s.AppendJob(ctx, testJob("j3", model.JobCreateReceipt, "r1", now)))
	require.NoError(t, s.MarkJobSynced(ctx, "j3", now))

	counts, err := s.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.JobStatusPending])
	assert.Equal(t, int64(1), counts[model.JobStatusSynced])
}

func TestUpdateJobData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendJob(ctx, testJob("j1", model.JobCreateReceipt, "offline_1_o", time.Now().UTC())))

	rewritten := json.RawMessage(`{"order_id":"1042"}`)
	require.NoError(t, s.UpdateJobData(ctx, "j1", rewritten, "1042"))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "1042", job.RecordID)
	assert.JSONEq(t, `{"order_id":"1042"}`, string(job.Data))
}

func TestCleanupSyncedJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testJob("j-old", model.JobCreateOrder, "o1", now.Add(-60*24*time.Hour))
	require.NoError(t, s.AppendJob(ctx, old))
	oldSynced := now.Add(-45 * 24 * time.Hour)
	require.NoError(t, s.MarkJobSynced(ctx, "j-old", oldSynced))

	recent := testJob("j-new", model.JobCreateOrder, "o2", now)
	require.NoError(t, s.AppendJob(ctx, recent))
	require.NoError(t, s.MarkJobSynced(ctx, "j-new", now))

	// Pending jobs are never eligible, no matter their age.
	stale := testJob("j-pending", model.JobCreateOrder, "o3", now.Add(-90*24*time.Hour))
	require.NoError(t, s.AppendJob(ctx, stale))

	removed, err := s.CleanupSyncedJobs(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := s.GetJob(ctx, "j-old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := s.GetJob(ctx, "j-pending")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
