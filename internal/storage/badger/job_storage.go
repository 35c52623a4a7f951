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

// JobStorage implements the JobStorage interface for Badger.
//
// BadgerHold has no conditional update, so every read-modify-write runs
// under the store mutex. All mutations in this process go through this
// struct, which makes the mutex sufficient for claim semantics.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// Compile-time interface assertion
var _ interfaces.JobStorage = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob persists a new job record
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns the job with its log entries merged in
func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.getJob(id)
	if err != nil {
		return nil, err
	}

	logs, err := s.GetLogs(ctx, id, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to load job logs")
		logs = []models.LogEntry{}
	}
	job.LogEntries = logs
	return job, nil
}

// getJob fetches the raw job document without logs
func (s *JobStorage) getJob(id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job.LogEntries == nil {
		job.LogEntries = []models.LogEntry{}
	}
	return &job, nil
}

func buildJobQuery(opts interfaces.JobListOptions) *badgerhold.Query {
	query := badgerhold.Where("ID").Ne("")

	if opts.Status != "" {
		query = query.And("Status").Eq(opts.Status)
	}
	if opts.Type != "" {
		query = query.And("Type").Eq(opts.Type)
	}
	if opts.BatchID != "" {
		query = query.And("BatchID").Eq(opts.BatchID)
	}
	if opts.UserID != "" {
		query = query.And("UserID").Eq(opts.UserID)
	}
	if opts.Archived != nil {
		query = query.And("Archived").Eq(*opts.Archived)
	}
	return query
}

// ListJobs returns jobs matching the options, newest first by default
func (s *JobStorage) ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, error) {
	query := buildJobQuery(opts)

	if opts.OldestFirst {
		query = query.SortBy("CreatedAt")
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Skip(opts.Offset)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the options
func (s *JobStorage) CountJobs(ctx context.Context, opts interfaces.JobListOptions) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, buildJobQuery(opts))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// UpdateJobStatus applies a status transition with its side effects.
// Terminal jobs refuse further transitions; the caller learns this from
// the returned bool, not an error.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, progress *models.JobProgress, results *models.JobResults, jobErr *models.JobError) (bool, error) {
	if !status.IsValid() {
		return false, fmt.Errorf("invalid job status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return false, err
	}

	if job.IsTerminal() {
		return false, nil
	}

	now := time.Now()
	job.Status = status

	if status == models.JobStatusProcessing && job.ProcessingStartedAt == nil {
		job.ProcessingStartedAt = &now
	}
	if status.IsTerminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}

	if progress != nil {
		applyProgress(job, progress)
	}
	if results != nil {
		results.Normalize()
		job.Results = results
	}

	// Error is only ever present on failed jobs
	if status == models.JobStatusFailed {
		if jobErr != nil {
			job.Error = jobErr
		}
	} else {
		job.Error = nil
	}

	job.UpdatedAt = now
	if err := s.db.Store().Update(job.ID, job); err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	return true, nil
}

// applyProgress clamps the percent to [0,100] and never lets it decrease
func applyProgress(job *models.Job, progress *models.JobProgress) {
	p := *progress
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	if job.Progress != nil && p.Percent < job.Progress.Percent {
		p.Percent = job.Progress.Percent
	}
	job.Progress = &p
}

// ClaimPending atomically moves a pending job into processing
func (s *JobStorage) ClaimPending(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return false, err
	}

	if job.Status != models.JobStatusPending {
		return false, nil
	}

	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.ProcessingStartedAt = &now
	job.Progress = &models.JobProgress{Step: "initializing", Percent: 0}
	job.UpdatedAt = now

	if err := s.db.Store().Update(job.ID, job); err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return true, nil
}

// ResetStalled fails processing jobs whose claim outlived maxProcessing.
// The caller re-aggregates the returned batch IDs.
func (s *JobStorage) ResetStalled(ctx context.Context, maxProcessing time.Duration) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusProcessing)); err != nil {
		return 0, nil, fmt.Errorf("failed to find processing jobs: %w", err)
	}

	threshold := time.Now().Add(-maxProcessing)
	count := 0
	batchIDs := make(map[string]struct{})

	for i := range jobs {
		job := &jobs[i]
		if job.ProcessingStartedAt == nil || job.ProcessingStartedAt.After(threshold) {
			continue
		}

		now := time.Now()
		job.Status = models.JobStatusFailed
		job.Error = &models.JobError{
			Code:    "PROCESSING_TIMEOUT",
			Message: fmt.Sprintf("job exceeded maximum processing time of %s", maxProcessing),
			Details: map[string]interface{}{
				"processing_started_at": job.ProcessingStartedAt.Format(time.RFC3339),
			},
		}
		if job.Progress != nil {
			job.Progress.Step = "error"
		} else {
			job.Progress = &models.JobProgress{Step: "error"}
		}
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
		job.UpdatedAt = now

		if err := s.db.Store().Update(job.ID, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reset stalled job")
			continue
		}
		s.appendLogRecord(job.ID, models.LogLevelError, "Job timed out and was reset by the stall sweep")

		count++
		if job.BatchID != "" {
			batchIDs[job.BatchID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(batchIDs))
	for id := range batchIDs {
		ids = append(ids, id)
	}
	return count, ids, nil
}

// ArchiveJob soft-deletes the job from default listings
func (s *JobStorage) ArchiveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return err
	}

	job.Archived = true
	job.UpdatedAt = time.Now()
	if err := s.db.Store().Update(job.ID, job); err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}
	return nil
}

// DeleteJob removes the job and its log records
func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Store().Delete(id, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return s.deleteLogRecords(id)
}
