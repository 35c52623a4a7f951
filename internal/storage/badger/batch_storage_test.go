package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

func newTestBatchStorage(t *testing.T) (*JobStorage, *BatchStorage) {
	t.Helper()

	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	return jobs, NewBatchStorage(db, jobs, logger)
}

func addBatchJob(t *testing.T, jobs *JobStorage, batchID string, status models.JobStatus) *models.Job {
	t.Helper()

	ctx := context.Background()
	job := models.NewJob("pdf", nil)
	job.BatchID = batchID
	require.NoError(t, jobs.CreateJob(ctx, job))

	switch status {
	case models.JobStatusProcessing:
		_, err := jobs.ClaimPending(ctx, job.ID)
		require.NoError(t, err)
	case models.JobStatusCompleted:
		_, err := jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, nil, nil, nil)
		require.NoError(t, err)
	case models.JobStatusFailed:
		_, err := jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, nil, nil,
			&models.JobError{Code: "HandlerException", Message: "failed"})
		require.NoError(t, err)
	}
	return job
}

func TestAggregateCounts(t *testing.T) {
	jobs, batches := newTestBatchStorage(t)
	ctx := context.Background()

	batch := models.NewBatch("nightly", "user_1", 4)
	require.NoError(t, batches.CreateBatch(ctx, batch))

	addBatchJob(t, jobs, batch.ID, models.JobStatusPending)
	addBatchJob(t, jobs, batch.ID, models.JobStatusProcessing)
	addBatchJob(t, jobs, batch.ID, models.JobStatusCompleted)
	addBatchJob(t, jobs, batch.ID, models.JobStatusFailed)

	agg, err := batches.Aggregate(ctx, batch.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, agg.PendingJobs)
	assert.Equal(t, 1, agg.ProcessingJobs)
	assert.Equal(t, 1, agg.CompletedJobs)
	assert.Equal(t, 1, agg.FailedJobs)
	// Counter conservation
	assert.Equal(t, agg.TotalJobs, agg.PendingJobs+agg.ProcessingJobs+agg.CompletedJobs+agg.FailedJobs)

	// Not every job is terminal yet
	assert.Equal(t, models.BatchStatusProcessing, agg.Status)
	assert.True(t, agg.IsActive)
	assert.Nil(t, agg.CompletedAt)
}

func TestAggregateCompletesAndIsIdempotent(t *testing.T) {
	jobs, batches := newTestBatchStorage(t)
	ctx := context.Background()

	batch := models.NewBatch("small", "", 2)
	require.NoError(t, batches.CreateBatch(ctx, batch))

	addBatchJob(t, jobs, batch.ID, models.JobStatusCompleted)
	addBatchJob(t, jobs, batch.ID, models.JobStatusFailed)

	agg, err := batches.Aggregate(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, agg.Status)
	assert.False(t, agg.IsActive)
	require.NotNil(t, agg.CompletedAt)
	firstCompleted := *agg.CompletedAt

	time.Sleep(5 * time.Millisecond)

	// Re-aggregation keeps the completion time and counters stable
	again, err := batches.Aggregate(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, again.Status)
	require.NotNil(t, again.CompletedAt)
	assert.True(t, again.CompletedAt.Equal(firstCompleted))
	assert.Equal(t, agg.CompletedJobs, again.CompletedJobs)
	assert.Equal(t, agg.FailedJobs, again.FailedJobs)
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	_, batches := newTestBatchStorage(t)
	ctx := context.Background()

	batch := models.NewBatch("empty", "", 0)
	require.NoError(t, batches.CreateBatch(ctx, batch))

	agg, err := batches.Aggregate(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, agg.Status)
	require.NotNil(t, agg.CompletedAt)
}

func TestAggregateMissingBatch(t *testing.T) {
	_, batches := newTestBatchStorage(t)

	_, err := batches.Aggregate(context.Background(), "batch_missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestArchiveTerminalOlderThan(t *testing.T) {
	jobs, batches := newTestBatchStorage(t)
	ctx := context.Background()

	oldBatch := models.NewBatch("old", "", 1)
	require.NoError(t, batches.CreateBatch(ctx, oldBatch))
	addBatchJob(t, jobs, oldBatch.ID, models.JobStatusCompleted)
	_, err := batches.Aggregate(ctx, oldBatch.ID)
	require.NoError(t, err)

	// Backdate the completion beyond the retention window
	stored, err := batches.GetBatch(ctx, oldBatch.ID)
	require.NoError(t, err)
	past := time.Now().Add(-200 * time.Hour)
	stored.CompletedAt = &past
	require.NoError(t, batches.db.Store().Update(stored.ID, stored))

	recentBatch := models.NewBatch("recent", "", 1)
	require.NoError(t, batches.CreateBatch(ctx, recentBatch))
	addBatchJob(t, jobs, recentBatch.ID, models.JobStatusCompleted)
	_, err = batches.Aggregate(ctx, recentBatch.ID)
	require.NoError(t, err)

	activeBatch := models.NewBatch("active", "", 1)
	require.NoError(t, batches.CreateBatch(ctx, activeBatch))
	addBatchJob(t, jobs, activeBatch.ID, models.JobStatusProcessing)
	_, err = batches.Aggregate(ctx, activeBatch.ID)
	require.NoError(t, err)

	archived, err := batches.ArchiveTerminalOlderThan(ctx, time.Now().Add(-168*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	check, err := batches.GetBatch(ctx, oldBatch.ID)
	require.NoError(t, err)
	assert.True(t, check.Archived)

	check, err = batches.GetBatch(ctx, recentBatch.ID)
	require.NoError(t, err)
	assert.False(t, check.Archived)

	check, err = batches.GetBatch(ctx, activeBatch.ID)
	require.NoError(t, err)
	assert.False(t, check.Archived)
}
