package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// logSequence is a global counter to ensure unique log keys and stable
// ordering even within the same nanosecond
var logSequence uint64

// jobLogRecord is the persisted form of one job log line. Logs live in
// their own collection and get merged into the job document on read, so a
// chatty handler never bloats the job record it is rewriting.
type jobLogRecord struct {
	Key       string `badgerhold:"key"`
	JobID     string `badgerhold:"index"`
	Seq       uint64
	Timestamp time.Time
	Level     string
	Message   string
}

// AppendLog adds an entry to the job's append-only log. Unknown levels are
// coerced to info. The job's updated_at is refreshed so activity is visible
// without reading the log collection.
func (s *JobStorage) AppendLog(ctx context.Context, id, level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return err
	}

	if err := s.appendLogRecord(id, level, message); err != nil {
		return err
	}

	job.UpdatedAt = time.Now()
	if err := s.db.Store().Update(job.ID, job); err != nil {
		return fmt.Errorf("failed to touch job after log append: %w", err)
	}
	return nil
}

// appendLogRecord writes the log record itself. Callers hold s.mu.
func (s *JobStorage) appendLogRecord(jobID, level, message string) error {
	seq := atomic.AddUint64(&logSequence, 1)
	record := &jobLogRecord{
		Key:       fmt.Sprintf("%s_%d_%d", jobID, time.Now().UnixNano(), seq),
		JobID:     jobID,
		Seq:       seq,
		Timestamp: time.Now(),
		Level:     models.NormalizeLogLevel(level),
		Message:   message,
	}

	if err := s.db.Store().Insert(record.Key, record); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// GetLogs returns the job's log entries in append order. limit 0 means all.
func (s *JobStorage) GetLogs(ctx context.Context, id string, limit int) ([]models.LogEntry, error) {
	query := badgerhold.Where("JobID").Eq(id).SortBy("Timestamp", "Seq")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []jobLogRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get job logs: %w", err)
	}

	entries := make([]models.LogEntry, len(records))
	for i, r := range records {
		entries[i] = models.LogEntry{
			Timestamp: r.Timestamp,
			Level:     r.Level,
			Message:   r.Message,
		}
	}
	return entries, nil
}

// deleteLogRecords removes all log records for a job. Callers hold s.mu.
func (s *JobStorage) deleteLogRecords(jobID string) error {
	if err := s.db.Store().DeleteMatching(&jobLogRecord{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete job logs: %w", err)
	}
	return nil
}
