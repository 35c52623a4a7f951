package workers

import (
	"context"

	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// reportProgress persists a progress step and mirrors it to the job's
// webhook. Webhook failures are swallowed here: progress delivery is
// best-effort and must never fail the job.
func reportProgress(ctx context.Context, jc *interfaces.JobContext, step string, percent int, message string) {
	progress := &models.JobProgress{Step: step, Percent: percent, Message: message}
	if _, err := jc.Store.UpdateJobStatus(ctx, jc.Job.ID, models.JobStatusProcessing, progress, nil, nil); err != nil {
		jc.Logger.Warn().Err(err).Str("job_id", jc.Job.ID).Msg("Failed to persist progress")
	}

	cfg := jc.Job.WebhookConfig()
	if cfg == nil {
		return
	}

	// Mirror the persisted percent: the store clamps to [0,100] and never
	// lets a live job's percent decrease, and the callback must agree with
	// the record (nested pipelines restart their own step numbering).
	sent := percent
	if stored, err := jc.Store.GetJob(ctx, jc.Job.ID); err == nil && stored.Progress != nil {
		sent = stored.Progress.Percent
	}

	// Errors already logged by the dispatcher
	jc.Webhooks.SendProgress(ctx, cfg, jc.Job.ID, sent, message)
}

// logInfo appends an info line to the job's log, ignoring append failures
func logInfo(ctx context.Context, jc *interfaces.JobContext, message string) {
	if err := jc.Store.AppendLog(ctx, jc.Job.ID, models.LogLevelInfo, message); err != nil {
		jc.Logger.Warn().Err(err).Str("job_id", jc.Job.ID).Msg("Failed to append job log")
	}
}

// logWarning appends a warning line to the job's log
func logWarning(ctx context.Context, jc *interfaces.JobContext, message string) {
	if err := jc.Store.AppendLog(ctx, jc.Job.ID, models.LogLevelWarning, message); err != nil {
		jc.Logger.Warn().Err(err).Str("job_id", jc.Job.ID).Msg("Failed to append job log")
	}
}

// validationError builds the typed error for a bad parameter set. The code
// survives onto the failed job record.
func validationError(message string) *models.JobError {
	return &models.JobError{
		Code:    "ValidationError",
		Message: message,
	}
}

// checkCancelled returns the context error at a step boundary
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
