package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/fabrica/internal/models"
)

// ErrNotFound is returned by storage lookups for unknown IDs
var ErrNotFound = errors.New("not found")

// JobListOptions filters and pages job queries
type JobListOptions struct {
	Status   models.JobStatus
	Type     string
	BatchID  string
	UserID   string
	Archived *bool
	Limit    int
	Offset   int
	// OldestFirst orders by created_at ascending; default is newest first
	OldestFirst bool
}

// JobStorage persists jobs and their append-only logs.
//
// Status side effects belong to the store: a transition to processing stamps
// processing_started_at once, a transition to a terminal status stamps
// completed_at once. Every mutation refreshes updated_at.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts JobListOptions) ([]*models.Job, error)
	CountJobs(ctx context.Context, opts JobListOptions) (int, error)

	// UpdateJobStatus applies a status transition together with optional
	// progress, results and error updates. Returns false when the job is
	// already terminal and the transition was refused.
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, progress *models.JobProgress, results *models.JobResults, jobErr *models.JobError) (bool, error)

	// ClaimPending atomically moves a pending job to processing. Returns
	// false when the job was no longer pending (lost race or already done).
	ClaimPending(ctx context.Context, id string) (bool, error)

	AppendLog(ctx context.Context, id, level, message string) error
	GetLogs(ctx context.Context, id string, limit int) ([]models.LogEntry, error)

	// ResetStalled fails every processing job whose processing_started_at is
	// older than maxProcessing. Returns the number of jobs reset and the
	// distinct batch IDs that need re-aggregation.
	ResetStalled(ctx context.Context, maxProcessing time.Duration) (int, []string, error)

	ArchiveJob(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error
}

// BatchStorage persists batches and derives their counters
type BatchStorage interface {
	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*models.Batch, error)

	// Aggregate recounts the batch's jobs per status and writes the
	// counters. Marks the batch completed once completed+failed == total.
	// Idempotent.
	Aggregate(ctx context.Context, batchID string) (*models.Batch, error)

	ArchiveBatch(ctx context.Context, id string) error

	// ArchiveTerminalOlderThan archives completed batches whose completed_at
	// is before the cutoff. Returns the number archived.
	ArchiveTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager bundles the stores over a shared database
type StorageManager interface {
	Jobs() JobStorage
	Batches() BatchStorage
	Close() error
}
