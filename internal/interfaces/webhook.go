package interfaces

import (
	"context"

	"github.com/ternarybob/fabrica/internal/models"
)

// WebhookDispatcher delivers callbacks to client-supplied endpoints.
//
// A nil config or empty URL is a no-op on every method; no outbound request
// is ever made for jobs without a webhook. Progress delivery failures are
// non-fatal to the caller.
type WebhookDispatcher interface {
	SendProgress(ctx context.Context, cfg *models.WebhookConfig, internalJobID string, percent int, message string) error
	SendCompleted(ctx context.Context, cfg *models.WebhookConfig, internalJobID string, message string, data map[string]interface{}) error
	SendError(ctx context.Context, cfg *models.WebhookConfig, internalJobID string, message string, jobErr *models.JobError) error
}
