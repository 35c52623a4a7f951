package models

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/fabrica/internal/common"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true for statuses a job never leaves
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid checks whether the status is one of the known lifecycle states
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobProgress tracks handler progress through named steps
type JobProgress struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// JobError is the persisted error of a failed job
type JobError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface so a JobError can travel through
// normal error returns
func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JobResults is the envelope handlers populate with their outputs.
// All fields are optional; Assets is never nil after normalization.
type JobResults struct {
	MarkdownFile    string                 `json:"markdown_file,omitempty"`
	MarkdownContent string                 `json:"markdown_content,omitempty"`
	Assets          []string               `json:"assets"`
	StructuredData  map[string]interface{} `json:"structured_data,omitempty"`
	TargetDir       string                 `json:"target_dir,omitempty"`
	AssetDir        string                 `json:"asset_dir,omitempty"`
	ArchiveFilename string                 `json:"archive_filename,omitempty"`
}

// Normalize ensures slice fields are non-nil for stable JSON output
func (r *JobResults) Normalize() {
	if r.Assets == nil {
		r.Assets = []string{}
	}
}

// LogLevel values accepted on job log entries
const (
	LogLevelDebug    = "debug"
	LogLevelInfo     = "info"
	LogLevelWarning  = "warning"
	LogLevelError    = "error"
	LogLevelCritical = "critical"
)

// NormalizeLogLevel coerces unknown levels to info
func NormalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelInfo:
		return LogLevelInfo
	case LogLevelWarning, "warn":
		return LogLevelWarning
	case LogLevelError:
		return LogLevelError
	case LogLevelCritical, "fatal":
		return LogLevelCritical
	}
	return LogLevelInfo
}

// LogEntry is a single line of a job's append-only log
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Job is the persistent unit of work
type Job struct {
	ID                  string                 `json:"job_id" badgerhold:"key"`
	Type                string                 `json:"job_type" badgerhold:"index"`
	Name                string                 `json:"job_name"`
	Status              JobStatus              `json:"status" badgerhold:"index"`
	Parameters          map[string]interface{} `json:"parameters"`
	Progress            *JobProgress           `json:"progress,omitempty"`
	Results             *JobResults            `json:"results,omitempty"`
	Error               *JobError              `json:"error,omitempty"`
	LogEntries          []LogEntry             `json:"log_entries" badgerhold:"-"`
	CreatedAt           time.Time              `json:"created_at" badgerhold:"index"`
	UpdatedAt           time.Time              `json:"updated_at"`
	ProcessingStartedAt *time.Time             `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	UserID              string                 `json:"user_id,omitempty"`
	BatchID             string                 `json:"batch_id,omitempty" badgerhold:"index"`
	Archived            bool                   `json:"archived"`
}

// NewJob creates a pending job with a fresh ID and derived name
func NewJob(jobType string, parameters map[string]interface{}) *Job {
	if parameters == nil {
		parameters = make(map[string]interface{})
	}
	now := time.Now()
	return &Job{
		ID:         common.NewJobID(),
		Type:       jobType,
		Name:       DeriveJobName(jobType, parameters),
		Status:     JobStatusPending,
		Parameters: parameters,
		LogEntries: []LogEntry{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DeriveJobName builds a human-readable name from the submission parameters
// when the client supplied none: file base name, then URL host+path, then the
// job type itself.
func DeriveJobName(jobType string, parameters map[string]interface{}) string {
	if name, ok := parameters["job_name"].(string); ok && name != "" {
		return name
	}
	if filename, ok := parameters["filename"].(string); ok && filename != "" {
		return filepath.Base(filename)
	}
	if rawURL, ok := parameters["url"].(string); ok && rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			return strings.TrimSuffix(u.Host+u.Path, "/")
		}
		return rawURL
	}
	return jobType
}

// Validate checks structural integrity of the job record
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %s", j.Status)
	}
	if j.Progress != nil && (j.Progress.Percent < 0 || j.Progress.Percent > 100) {
		return fmt.Errorf("progress percent out of range: %d", j.Progress.Percent)
	}
	return nil
}

// IsTerminal returns true once the job has completed or failed
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// GetParamString returns a string parameter or the default
func (j *Job) GetParamString(key, defaultValue string) string {
	if v, ok := j.Parameters[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultValue
}

// WebhookConfig extracts the webhook settings from parameters.webhook.
// Returns nil when the job carries no webhook.
func (j *Job) WebhookConfig() *WebhookConfig {
	raw, ok := j.Parameters["webhook"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	cfg := &WebhookConfig{}
	if u, ok := m["url"].(string); ok {
		cfg.URL = u
	}
	if t, ok := m["token"].(string); ok {
		cfg.Token = t
	}
	if id, ok := m["jobId"].(string); ok {
		cfg.JobID = id
	}
	if cfg.URL == "" {
		return nil
	}
	return cfg
}
