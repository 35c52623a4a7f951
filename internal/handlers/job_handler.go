package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// waitPollInterval is the cadence of the wait_ms long-poll loop
const waitPollInterval = 250 * time.Millisecond

// maxUploadBytes caps multipart submissions
const maxUploadBytes = 200 * 1024 * 1024

// JobHandler handles job submission and retrieval
type JobHandler struct {
	store       interfaces.JobStorage
	batches     interfaces.BatchStorage
	validate    *validator.Validate
	artifactDir string
	logger      arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(store interfaces.JobStorage, batches interfaces.BatchStorage, artifactDir string, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		store:       store,
		batches:     batches,
		validate:    validator.New(),
		artifactDir: artifactDir,
		logger:      logger,
	}
}

// SubmitJobRequest is the JSON submission body
type SubmitJobRequest struct {
	JobType    string                 `json:"job_type" validate:"required"`
	Parameters map[string]interface{} `json:"parameters"`
	UserID     string                 `json:"user_id"`
}

// SubmitJobHandler accepts a job submission
// POST /api/jobs (application/json or multipart/form-data, ?wait_ms=N)
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	req, err := h.parseSubmission(r)
	if err != nil {
		WriteValidationError(w, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteValidationError(w, fmt.Sprintf("invalid submission: %v", err))
		return
	}

	job := models.NewJob(req.JobType, req.Parameters)
	job.UserID = req.UserID

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create job")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to create job")
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Msg("Job accepted")

	if waitMs := parseWaitMs(r); waitMs > 0 {
		if h.waitForJob(w, r, job.ID, time.Duration(waitMs)*time.Millisecond) {
			return
		}
	}

	WriteJSON(w, http.StatusAccepted, acceptancePayload(job))
}

// parseSubmission decodes a JSON or multipart submission. Multipart
// uploads land under the artifact root and the stored path replaces
// parameters.filename.
func (h *JobHandler) parseSubmission(r *http.Request) (*SubmitJobRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if len(contentType) >= 19 && contentType[:19] == "multipart/form-data" {
		return h.parseMultipart(r)
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024*1024)).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %v", err)
	}
	if req.Parameters == nil {
		req.Parameters = map[string]interface{}{}
	}
	return &req, nil
}

func (h *JobHandler) parseMultipart(r *http.Request) (*SubmitJobRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %v", err)
	}

	req := &SubmitJobRequest{
		JobType:    r.FormValue("job_type"),
		UserID:     r.FormValue("user_id"),
		Parameters: map[string]interface{}{},
	}

	if rawParams := r.FormValue("parameters"); rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &req.Parameters); err != nil {
			return nil, fmt.Errorf("invalid parameters field: %v", err)
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil
		}
		return nil, fmt.Errorf("invalid file field: %v", err)
	}
	defer file.Close()

	uploadDir := filepath.Join(h.artifactDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %v", err)
	}

	dest := filepath.Join(uploadDir, uuid.New().String()+"_"+filepath.Base(header.Filename))
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %v", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		return nil, fmt.Errorf("failed to store upload: %v", err)
	}

	req.Parameters["filename"] = dest
	return req, nil
}

// waitForJob long-polls the job until it is terminal or the budget runs
// out. Returns true when a response was written.
func (h *JobHandler) waitForJob(w http.ResponseWriter, r *http.Request, jobID string, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		job, err := h.store.GetJob(r.Context(), jobID)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Wait poll failed")
			return false
		}

		switch job.Status {
		case models.JobStatusCompleted:
			var data map[string]interface{}
			if job.Results != nil {
				data = job.Results.StructuredData
			}
			WriteSuccess(w, map[string]interface{}{
				"job_id":          job.ID,
				"status":          job.Status,
				"structured_data": data,
			})
			return true
		case models.JobStatusFailed:
			code := "JobFailed"
			message := "job failed"
			if job.Error != nil {
				code = job.Error.Code
				message = job.Error.Message
			}
			WriteErrorCode(w, http.StatusBadRequest, code, message)
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := waitPollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(wait):
		}
	}
}

func parseWaitMs(r *http.Request) int {
	if v := r.URL.Query().Get("wait_ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return ms
		}
	}
	return 0
}

// acceptancePayload is the 202 body for an accepted submission
func acceptancePayload(job *models.Job) map[string]interface{} {
	var webhookURL interface{}
	if cfg := job.WebhookConfig(); cfg != nil {
		webhookURL = cfg.URL
	}

	return map[string]interface{}{
		"status": "accepted",
		"job": map[string]interface{}{
			"id": job.ID,
		},
		"process": map[string]interface{}{
			"id":             common.NewProcessID(),
			"started":        time.Now().Format(time.RFC3339),
			"main_processor": job.Type,
			"is_from_cache":  false,
		},
		"webhook": webhookURL,
		"error":   nil,
	}
}

// GetJobHandler returns a job with its merged log entries
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteErrorCode(w, http.StatusNotFound, "NotFound", fmt.Sprintf("job %s not found", jobID))
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to get job")
		return
	}

	WriteSuccess(w, job)
}

// ListJobsHandler returns a paginated list of jobs
// GET /api/jobs?limit=50&offset=0&status=pending&type=pdf&batch_id=...
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := GetPaginationParams(r)

	opts := interfaces.JobListOptions{
		Status:  models.JobStatus(r.URL.Query().Get("status")),
		Type:    r.URL.Query().Get("type"),
		BatchID: r.URL.Query().Get("batch_id"),
		UserID:  r.URL.Query().Get("user_id"),
		Limit:   limit,
		Offset:  offset,
	}
	if opts.Status != "" && !opts.Status.IsValid() {
		WriteValidationError(w, fmt.Sprintf("invalid status filter: %s", opts.Status))
		return
	}

	// Archived jobs stay out of listings unless asked for
	includeArchived := r.URL.Query().Get("archived") == "true"
	if !includeArchived {
		archived := false
		opts.Archived = &archived
	}

	jobs, err := h.store.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to list jobs")
		return
	}

	total, err := h.store.CountJobs(r.Context(), interfaces.JobListOptions{
		Status:   opts.Status,
		Type:     opts.Type,
		BatchID:  opts.BatchID,
		UserID:   opts.UserID,
		Archived: opts.Archived,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count jobs")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to count jobs")
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// StatsHandler returns job counts per status
// GET /api/jobs/stats
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{}
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	} {
		count, err := h.store.CountJobs(r.Context(), interfaces.JobListOptions{Status: status})
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to count jobs")
			WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to count jobs")
			return
		}
		stats[string(status)] = count
	}

	WriteSuccess(w, stats)
}

// DeleteJobHandler removes a job record and its logs
// DELETE /api/jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteErrorCode(w, http.StatusNotFound, "NotFound", fmt.Sprintf("job %s not found", jobID))
			return
		}
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to get job")
		return
	}

	if err := h.store.DeleteJob(r.Context(), jobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to delete job")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to delete job")
		return
	}

	WriteSuccess(w, map[string]string{"job_id": jobID, "deleted": "true"})
}
