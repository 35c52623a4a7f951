package interfaces

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/models"
)

// JobContext carries everything a handler needs during execution. The
// artifact directory is per-job and already created when Execute runs.
type JobContext struct {
	Job         *models.Job
	Store       JobStorage
	Webhooks    WebhookDispatcher
	ArtifactDir string
	Logger      arbor.ILogger
}

// Handler processes jobs of a single type.
//
// Execute must observe ctx cancellation at step boundaries, report progress
// monotonically, and leave its outputs in Job.Results. It never sets the
// terminal status itself; the worker manager does that from Execute's
// return value. Re-runs of the same job overwrite the same artifact
// directory, so a retried job converges to the same output.
type Handler interface {
	JobType() string
	Validate(job *models.Job) error
	Execute(ctx context.Context, jc *JobContext) error
}
