package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// BatchHandler handles batch submission and retrieval
type BatchHandler struct {
	store    interfaces.JobStorage
	batches  interfaces.BatchStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(store interfaces.JobStorage, batches interfaces.BatchStorage, logger arbor.ILogger) *BatchHandler {
	return &BatchHandler{
		store:    store,
		batches:  batches,
		validate: validator.New(),
		logger:   logger,
	}
}

// SubmitBatchRequest is the JSON body of a batch submission
type SubmitBatchRequest struct {
	BatchName string             `json:"batch_name"`
	UserID    string             `json:"user_id"`
	Jobs      []SubmitJobRequest `json:"jobs" validate:"dive"`
}

// SubmitBatchHandler creates a batch and enqueues its jobs. The batch
// record exists before any job does, so an early callback or poll never
// sees a job pointing at a missing batch. Enqueue failures are partial:
// the created subset is reported alongside the errors.
// POST /api/jobs/batch
func (h *BatchHandler) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SubmitBatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 10*1024*1024)).Decode(&req); err != nil {
		WriteValidationError(w, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteValidationError(w, fmt.Sprintf("invalid submission: %v", err))
		return
	}

	batch := models.NewBatch(req.BatchName, req.UserID, len(req.Jobs))
	if err := h.batches.CreateBatch(r.Context(), batch); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create batch")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to create batch")
		return
	}

	jobIDs := make([]string, 0, len(req.Jobs))
	enqueueErrors := make([]string, 0)

	for i, jobReq := range req.Jobs {
		if jobReq.JobType == "" {
			enqueueErrors = append(enqueueErrors, fmt.Sprintf("job %d: job_type is required", i))
			continue
		}

		job := models.NewJob(jobReq.JobType, jobReq.Parameters)
		job.BatchID = batch.ID
		job.UserID = req.UserID
		if jobReq.UserID != "" {
			job.UserID = jobReq.UserID
		}

		if err := h.store.CreateJob(r.Context(), job); err != nil {
			h.logger.Warn().Err(err).Int("index", i).Msg("Failed to enqueue batch job")
			enqueueErrors = append(enqueueErrors, fmt.Sprintf("job %d: %v", i, err))
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	// Failed enqueues shrink the batch to what actually exists; an empty
	// batch completes right here.
	if len(jobIDs) != batch.TotalJobs {
		batch.TotalJobs = len(jobIDs)
		if err := h.batches.CreateBatch(r.Context(), batch); err != nil {
			h.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to adjust batch total")
		}
	}

	aggregated, err := h.batches.Aggregate(r.Context(), batch.ID)
	if err != nil {
		h.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to aggregate new batch")
		aggregated = batch
	}

	h.logger.Info().
		Str("batch_id", batch.ID).
		Int("jobs", len(jobIDs)).
		Int("errors", len(enqueueErrors)).
		Msg("Batch accepted")

	payload := map[string]interface{}{
		"batch_id": batch.ID,
		"job_ids":  jobIDs,
		"batch":    aggregated,
	}
	if len(enqueueErrors) > 0 {
		payload["enqueue_errors"] = enqueueErrors
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "success",
		"data":   payload,
	})
}

// GetBatchHandler returns a batch with fresh counters
// GET /api/jobs/batch/{id}
func (h *BatchHandler) GetBatchHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	batch, err := h.batches.Aggregate(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteErrorCode(w, http.StatusNotFound, "NotFound", fmt.Sprintf("batch %s not found", batchID))
			return
		}
		h.logger.Error().Err(err).Str("batch_id", batchID).Msg("Failed to get batch")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to get batch")
		return
	}

	WriteSuccess(w, batch)
}

// ListBatchesHandler returns recent batches
// GET /api/jobs/batches?limit=50&offset=0
func (h *BatchHandler) ListBatchesHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := GetPaginationParams(r)

	batches, err := h.batches.ListBatches(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list batches")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to list batches")
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"batches": batches,
		"limit":   limit,
		"offset":  offset,
	})
}
