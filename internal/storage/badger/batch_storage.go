package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// BatchStorage implements the BatchStorage interface for Badger. Counters
// are always derived by recounting member jobs, never incremented, so
// aggregation stays idempotent no matter how often it runs.
type BatchStorage struct {
	db     *BadgerDB
	jobs   *JobStorage
	logger arbor.ILogger
	mu     sync.Mutex
}

// Compile-time interface assertion
var _ interfaces.BatchStorage = (*BatchStorage)(nil)

// NewBatchStorage creates a new BatchStorage instance
func NewBatchStorage(db *BadgerDB, jobs *JobStorage, logger arbor.ILogger) *BatchStorage {
	return &BatchStorage{
		db:     db,
		jobs:   jobs,
		logger: logger,
	}
}

// CreateBatch persists a new batch record
func (s *BatchStorage) CreateBatch(ctx context.Context, batch *models.Batch) error {
	if batch == nil {
		return fmt.Errorf("batch is required")
	}
	if batch.ID == "" {
		return fmt.Errorf("batch ID is required")
	}

	now := time.Now()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	if err := s.db.Store().Upsert(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// GetBatch returns the batch by ID
func (s *BatchStorage) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var batch models.Batch
	if err := s.db.Store().Get(id, &batch); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("batch %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

// ListBatches returns batches newest first
func (s *BatchStorage) ListBatches(ctx context.Context, limit, offset int) ([]*models.Batch, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var batches []models.Batch
	if err := s.db.Store().Find(&batches, query); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	result := make([]*models.Batch, len(batches))
	for i := range batches {
		result[i] = &batches[i]
	}
	return result, nil
}

// Aggregate recounts the batch's jobs per status and writes the counters.
// The batch completes once every job is terminal; a batch created with zero
// jobs completes on its first aggregation.
func (s *BatchStorage) Aggregate(ctx context.Context, batchID string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.JobStatus]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	} {
		n, err := s.jobs.CountJobs(ctx, interfaces.JobListOptions{BatchID: batchID, Status: status})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs for batch %s: %w", status, batchID, err)
		}
		counts[status] = n
	}

	now := time.Now()
	batch.PendingJobs = counts[models.JobStatusPending]
	batch.ProcessingJobs = counts[models.JobStatusProcessing]
	batch.CompletedJobs = counts[models.JobStatusCompleted]
	batch.FailedJobs = counts[models.JobStatusFailed]
	batch.UpdatedAt = now

	if batch.CompletedJobs+batch.FailedJobs >= batch.TotalJobs {
		if batch.Status != models.BatchStatusCompleted {
			batch.Status = models.BatchStatusCompleted
			batch.IsActive = false
		}
		if batch.CompletedAt == nil {
			batch.CompletedAt = &now
		}
	}

	if err := s.db.Store().Update(batch.ID, batch); err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}
	return batch, nil
}

// ArchiveBatch soft-deletes the batch from default listings
func (s *BatchStorage) ArchiveBatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}

	batch.Archived = true
	batch.IsActive = false
	batch.UpdatedAt = time.Now()
	if err := s.db.Store().Update(batch.ID, batch); err != nil {
		return fmt.Errorf("failed to archive batch: %w", err)
	}
	return nil
}

// ArchiveTerminalOlderThan archives completed batches finished before the
// cutoff. Used by the maintenance sweep.
func (s *BatchStorage) ArchiveTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var batches []models.Batch
	query := badgerhold.Where("Status").Eq(models.BatchStatusCompleted).And("Archived").Eq(false)
	if err := s.db.Store().Find(&batches, query); err != nil {
		return 0, fmt.Errorf("failed to find completed batches: %w", err)
	}

	archived := 0
	for i := range batches {
		batch := &batches[i]
		if batch.CompletedAt == nil || batch.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.ArchiveBatch(ctx, batch.ID); err != nil {
			s.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to archive batch")
			continue
		}
		archived++
	}
	return archived, nil
}
