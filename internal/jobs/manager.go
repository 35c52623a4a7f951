package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// ManagerConfig controls the worker manager's timing and limits
type ManagerConfig struct {
	MaxConcurrent      int
	PollInterval       time.Duration
	StallCheckInterval time.Duration
	MaxProcessing      time.Duration
	ShutdownGrace      time.Duration
	ArtifactRoot       string
}

// ManagerConfigFromCommon converts the TOML worker section into manager timings
func ManagerConfigFromCommon(cfg common.WorkerConfig, artifactRoot string) ManagerConfig {
	mc := ManagerConfig{
		MaxConcurrent:      cfg.MaxConcurrentWorkers,
		PollInterval:       time.Duration(cfg.PollIntervalSeconds) * time.Second,
		StallCheckInterval: time.Duration(cfg.StallCheckIntervalSeconds) * time.Second,
		MaxProcessing:      time.Duration(cfg.MaxProcessingMinutes) * time.Minute,
		ShutdownGrace:      time.Duration(cfg.ShutdownGraceSeconds) * time.Second,
		ArtifactRoot:       artifactRoot,
	}
	if mc.MaxConcurrent <= 0 {
		mc.MaxConcurrent = 3
	}
	if mc.PollInterval <= 0 {
		mc.PollInterval = 5 * time.Second
	}
	if mc.StallCheckInterval <= 0 {
		mc.StallCheckInterval = 60 * time.Second
	}
	if mc.MaxProcessing <= 0 {
		mc.MaxProcessing = 10 * time.Minute
	}
	if mc.ShutdownGrace <= 0 {
		mc.ShutdownGrace = 30 * time.Second
	}
	return mc
}

// Manager drives job execution: it polls for pending jobs, claims them,
// runs the registered handler in its own goroutine, writes the terminal
// status, re-aggregates the batch, and delivers the terminal webhook.
// A periodic sweep fails jobs whose claim outlived MaxProcessing, so a
// crashed worker never leaves a job stuck in processing forever.
type Manager struct {
	store    interfaces.JobStorage
	batches  interfaces.BatchStorage
	registry *Registry
	webhooks interfaces.WebhookDispatcher
	events   interfaces.EventService
	config   ManagerConfig
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	running  bool

	lastSweep time.Time
}

// NewManager wires the worker manager. The event service may be nil.
func NewManager(store interfaces.JobStorage, batches interfaces.BatchStorage, registry *Registry, webhooks interfaces.WebhookDispatcher, events interfaces.EventService, config ManagerConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		store:    store,
		batches:  batches,
		registry: registry,
		webhooks: webhooks,
		events:   events,
		config:   config,
		logger:   logger,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Start recovers stalled jobs from a previous run, freezes the registry
// and launches the poll loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("worker manager already running")
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if err := os.MkdirAll(m.config.ArtifactRoot, 0755); err != nil {
		return fmt.Errorf("failed to create artifact root: %w", err)
	}

	m.sweepStalled(m.ctx)
	m.lastSweep = time.Now()
	m.registry.Freeze()

	m.logger.Info().
		Int("max_concurrent", m.config.MaxConcurrent).
		Dur("poll_interval", m.config.PollInterval).
		Strs("job_types", m.registry.Types()).
		Msg("Worker manager started")

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop cancels running jobs and waits up to ShutdownGrace for them to drain
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info().Msg("Worker manager stopped")
	case <-time.After(m.config.ShutdownGrace):
		m.logger.Warn().
			Dur("grace", m.config.ShutdownGrace).
			Msg("Worker manager shutdown grace expired, abandoning running jobs")
	}
}

// InflightCount returns the number of jobs currently executing
func (m *Manager) InflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	// First poll immediately rather than waiting out a full interval
	m.poll()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(m.lastSweep) >= m.config.StallCheckInterval {
				m.sweepStalled(m.ctx)
				m.lastSweep = time.Now()
			}
			m.poll()
		}
	}
}

// poll claims pending jobs up to the free concurrency slots, oldest first
func (m *Manager) poll() {
	m.mu.Lock()
	free := m.config.MaxConcurrent - len(m.inflight)
	m.mu.Unlock()
	if free <= 0 {
		return
	}

	pending, err := m.store.ListJobs(m.ctx, interfaces.JobListOptions{
		Status:      models.JobStatusPending,
		OldestFirst: true,
		Limit:       free * 2,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list pending jobs")
		return
	}

	for _, job := range pending {
		if free <= 0 {
			return
		}

		m.mu.Lock()
		_, busy := m.inflight[job.ID]
		m.mu.Unlock()
		if busy {
			continue
		}

		claimed, err := m.store.ClaimPending(m.ctx, job.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to claim job")
			continue
		}
		if !claimed {
			continue
		}

		jobCtx, jobCancel := context.WithCancel(m.ctx)
		m.mu.Lock()
		m.inflight[job.ID] = jobCancel
		m.mu.Unlock()
		free--

		m.wg.Add(1)
		go m.execute(jobCtx, job.ID)
	}
}

// execute runs one claimed job to its terminal state
func (m *Manager) execute(ctx context.Context, jobID string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.inflight[jobID]; ok {
			cancel()
			delete(m.inflight, jobID)
		}
		m.mu.Unlock()
	}()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load claimed job")
		return
	}

	if err := m.store.AppendLog(ctx, job.ID, models.LogLevelInfo, "Job-Verarbeitung gestartet"); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to append start log")
	}
	m.publishStatus(job, models.JobStatusProcessing)

	handler := m.registry.Get(job.Type)
	if handler == nil {
		m.finishFailed(job, &models.JobError{
			Code:    "UnknownJobType",
			Message: fmt.Sprintf("no handler registered for job type %q", job.Type),
		})
		return
	}

	jc := &interfaces.JobContext{
		Job:         job,
		Store:       m.store,
		Webhooks:    m.webhooks,
		ArtifactDir: filepath.Join(m.config.ArtifactRoot, job.ID),
		Logger:      m.logger,
	}

	started := time.Now()
	execErr := m.safeExecute(ctx, handler, jc)
	duration := time.Since(started)

	if execErr != nil {
		// Shutdown cancellation is not a handler failure. Leave the job
		// claimed in processing; the next startup's stall sweep recovers it.
		if ctx.Err() != nil && errors.Is(execErr, context.Canceled) {
			m.logger.Info().
				Str("job_id", job.ID).
				Str("job_type", job.Type).
				Msg("Job interrupted by shutdown, leaving claim for startup recovery")
			return
		}

		jobErr := classifyError(execErr, duration)
		m.logger.Warn().
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Str("code", jobErr.Code).
			Dur("duration", duration).
			Msg("Job failed")
		m.finishFailed(job, jobErr)
		return
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Dur("duration", duration).
		Msg("Job completed")
	m.finishCompleted(job, jc.Job.Results)
}

// safeExecute runs the handler with panic containment. A panicking handler
// fails its job; it never takes the manager down.
func (m *Manager) safeExecute(ctx context.Context, handler interfaces.Handler, jc *interfaces.JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			err = &panicError{value: r, stack: string(buf[:n])}
		}
	}()

	if err := os.MkdirAll(jc.ArtifactDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := handler.Validate(jc.Job); err != nil {
		return err
	}
	return handler.Execute(ctx, jc)
}

// panicError carries a handler panic into the normal error path
type panicError struct {
	value interface{}
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

// classifyError maps a handler error to the persisted job error. Typed
// errors keep their own code; everything else is labeled by its concrete
// type so the failure class survives into the record.
func classifyError(err error, duration time.Duration) *models.JobError {
	details := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	}

	switch e := err.(type) {
	case *models.JobError:
		if e.Details == nil {
			e.Details = details
		} else {
			e.Details["duration_ms"] = duration.Milliseconds()
		}
		return e
	case *panicError:
		details["traceback"] = e.stack
		return &models.JobError{
			Code:    "HandlerException",
			Message: e.Error(),
			Details: details,
		}
	default:
		details["error_type"] = fmt.Sprintf("%T", err)
		return &models.JobError{
			Code:    "HandlerException",
			Message: err.Error(),
			Details: details,
		}
	}
}

// finishCompleted writes the terminal success state and fans out
func (m *Manager) finishCompleted(job *models.Job, results *models.JobResults) {
	// Terminal bookkeeping continues through shutdown, so use a fresh context
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	progress := &models.JobProgress{Step: "completed", Percent: 100}
	changed, err := m.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, progress, results, nil)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to write terminal status, stall sweep will recover")
		return
	}
	if !changed {
		m.logger.Warn().Str("job_id", job.ID).Msg("Job already terminal, skipping completion")
		return
	}

	m.store.AppendLog(ctx, job.ID, models.LogLevelInfo, "Job completed")
	m.aggregateBatch(ctx, job.BatchID)
	m.publishStatus(job, models.JobStatusCompleted)

	if cfg := job.WebhookConfig(); cfg != nil {
		data := buildCompletedData(job, results)
		m.webhooks.SendCompleted(ctx, cfg, job.ID, "Job completed", data)
	}
}

// finishFailed writes the terminal failure state and fans out
func (m *Manager) finishFailed(job *models.Job, jobErr *models.JobError) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	progress := &models.JobProgress{Step: "error", Message: jobErr.Message}
	changed, err := m.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, progress, nil, jobErr)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to write terminal status, stall sweep will recover")
		return
	}
	if !changed {
		m.logger.Warn().Str("job_id", job.ID).Msg("Job already terminal, skipping failure")
		return
	}

	m.store.AppendLog(ctx, job.ID, models.LogLevelError, fmt.Sprintf("Job failed: %s", jobErr.Message))
	m.aggregateBatch(ctx, job.BatchID)
	m.publishStatus(job, models.JobStatusFailed)

	if cfg := job.WebhookConfig(); cfg != nil {
		m.webhooks.SendError(ctx, cfg, job.ID, jobErr.Message, jobErr)
	}
}

// sweepStalled fails jobs whose claim outlived MaxProcessing and
// re-aggregates the batches they belonged to
func (m *Manager) sweepStalled(ctx context.Context) {
	count, batchIDs, err := m.store.ResetStalled(ctx, m.config.MaxProcessing)
	if err != nil {
		m.logger.Error().Err(err).Msg("Stall sweep failed")
		return
	}
	if count == 0 {
		return
	}

	m.logger.Warn().
		Int("count", count).
		Dur("max_processing", m.config.MaxProcessing).
		Msg("Reset stalled jobs")

	for _, batchID := range batchIDs {
		m.aggregateBatch(ctx, batchID)
	}
}

func (m *Manager) aggregateBatch(ctx context.Context, batchID string) {
	if batchID == "" {
		return
	}
	batch, err := m.batches.Aggregate(ctx, batchID)
	if err != nil {
		m.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to aggregate batch")
		return
	}
	if m.events != nil {
		common.SafeGo(m.logger, "publishBatchEvent", func() {
			m.events.Publish(context.Background(), interfaces.Event{
				Type: interfaces.EventBatchUpdated,
				Payload: interfaces.BatchUpdatedPayload{
					BatchID: batch.ID,
					Status:  string(batch.Status),
				},
			})
		})
	}
}

func (m *Manager) publishStatus(job *models.Job, status models.JobStatus) {
	if m.events == nil {
		return
	}
	common.SafeGo(m.logger, "publishJobEvent", func() {
		m.events.Publish(context.Background(), interfaces.Event{
			Type: interfaces.EventJobStatusChanged,
			Payload: interfaces.JobStatusPayload{
				JobID:   job.ID,
				JobType: job.Type,
				Status:  string(status),
				BatchID: job.BatchID,
			},
		})
	})
}

// buildCompletedData assembles the compact reference payload for the
// completed webhook: download URLs plus small inline extracts. Clients
// fetch the heavy artifacts through the API.
func buildCompletedData(job *models.Job, results *models.JobResults) map[string]interface{} {
	data := map[string]interface{}{}
	if results == nil {
		return data
	}

	base := "/api/jobs/" + job.ID
	if results.MarkdownFile != "" || results.MarkdownContent != "" {
		data["markdown_url"] = base + "/download-markdown"
	}
	if results.ArchiveFilename != "" {
		data["archive_url"] = base + "/download-archive"
	}
	if results.StructuredData != nil {
		data["raw_url"] = base + "/download-raw"
	}
	if results.MarkdownContent != "" {
		data["extracted_text"] = results.MarkdownContent
	}

	// Transcription jobs surface their text directly in the callback
	if inner, ok := results.StructuredData["data"].(map[string]interface{}); ok {
		if transcription, ok := inner["transcription"]; ok {
			data["transcription"] = transcription
		}
	}
	return data
}
