package models

import (
	"time"

	"github.com/ternarybob/fabrica/internal/common"
)

// BatchStatus represents the aggregate state of a batch
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)

// Batch groups jobs submitted together. Counters are derived from the
// member jobs by aggregation and always satisfy
// completed+failed+pending+processing == total.
type Batch struct {
	ID             string      `json:"batch_id" badgerhold:"key"`
	Name           string      `json:"batch_name,omitempty"`
	Status         BatchStatus `json:"status" badgerhold:"index"`
	CreatedAt      time.Time   `json:"created_at" badgerhold:"index"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	UserID         string      `json:"user_id,omitempty"`
	Archived       bool        `json:"archived"`
	IsActive       bool        `json:"is_active"`
	TotalJobs      int         `json:"total_jobs"`
	CompletedJobs  int         `json:"completed_jobs"`
	FailedJobs     int         `json:"failed_jobs"`
	PendingJobs    int         `json:"pending_jobs"`
	ProcessingJobs int         `json:"processing_jobs"`
}

// NewBatch creates an active batch in the processing state
func NewBatch(name, userID string, totalJobs int) *Batch {
	now := time.Now()
	return &Batch{
		ID:        common.NewBatchID(),
		Name:      name,
		Status:    BatchStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
		IsActive:  true,
		TotalJobs: totalJobs,
	}
}

// IsTerminal returns true once every member job has finished
func (b *Batch) IsTerminal() bool {
	return b.Status == BatchStatusCompleted
}
