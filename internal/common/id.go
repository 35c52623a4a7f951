package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBatchID generates a unique batch ID with the "batch_" prefix
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// NewProcessID generates a unique process ID with the "proc_" prefix.
// Process IDs identify a single acceptance of a submission, not the job.
func NewProcessID() string {
	return "proc_" + uuid.New().String()
}
