package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"golang.org/x/time/rate"
)

const userAgent = "fabrica-webhook/1.0"

// jobRef identifies the job inside a callback payload
type jobRef struct {
	ID string `json:"id"`
}

// envelope is the only payload shape ever sent to a callback URL. The
// top-level keys are fixed: phase, message, job, data, and error on the
// error phase only. Clients parse this strictly, so nothing else may leak
// into the JSON.
type envelope struct {
	Phase   string           `json:"phase"`
	Message string           `json:"message"`
	Job     jobRef           `json:"job"`
	Data    interface{}      `json:"data"`
	Error   *models.JobError `json:"error,omitempty"`
}

// Dispatcher delivers job callbacks over HTTP. Progress callbacks use a
// short timeout and are fire-and-forget; terminal callbacks get a longer
// timeout. One attempt each, no retries: the job record stays the source
// of truth and clients poll it when a callback goes missing.
type Dispatcher struct {
	progressClient *http.Client
	terminalClient *http.Client
	limiter        *rate.Limiter
	logger         arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.WebhookDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a webhook dispatcher from configuration
func NewDispatcher(cfg common.WebhookConfig, logger arbor.ILogger) *Dispatcher {
	progressTimeout := time.Duration(cfg.ProgressTimeoutSeconds) * time.Second
	if progressTimeout <= 0 {
		progressTimeout = 15 * time.Second
	}
	terminalTimeout := time.Duration(cfg.TerminalTimeoutSeconds) * time.Second
	if terminalTimeout <= 0 {
		terminalTimeout = 30 * time.Second
	}

	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}

	return &Dispatcher{
		progressClient: &http.Client{Timeout: progressTimeout},
		terminalClient: &http.Client{Timeout: terminalTimeout},
		limiter:        rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		logger:         logger,
	}
}

// SendProgress delivers a progress callback. Failures are logged and
// returned, but callers treat them as non-fatal.
func (d *Dispatcher) SendProgress(ctx context.Context, cfg *models.WebhookConfig, internalJobID string, percent int, message string) error {
	if cfg == nil || cfg.URL == "" {
		return nil
	}

	payload := envelope{
		Phase:   "progress",
		Message: message,
		Job:     jobRef{ID: cfg.CallbackJobID(internalJobID)},
		Data:    map[string]interface{}{"progress": percent},
	}

	if err := d.deliver(ctx, d.progressClient, cfg, payload); err != nil {
		d.logger.Warn().Err(err).
			Str("job_id", internalJobID).
			Str("url", cfg.URL).
			Msg("Progress webhook delivery failed")
		return err
	}
	return nil
}

// SendCompleted delivers the terminal success callback
func (d *Dispatcher) SendCompleted(ctx context.Context, cfg *models.WebhookConfig, internalJobID string, message string, data map[string]interface{}) error {
	if cfg == nil || cfg.URL == "" {
		return nil
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	payload := envelope{
		Phase:   "completed",
		Message: message,
		Job:     jobRef{ID: cfg.CallbackJobID(internalJobID)},
		Data:    data,
	}

	if err := d.deliver(ctx, d.terminalClient, cfg, payload); err != nil {
		d.logger.Warn().Err(err).
			Str("job_id", internalJobID).
			Str("url", cfg.URL).
			Msg("Completed webhook delivery failed")
		return err
	}
	return nil
}

// SendError delivers the terminal failure callback. Data is null on the
// error phase; the error object carries the detail.
func (d *Dispatcher) SendError(ctx context.Context, cfg *models.WebhookConfig, internalJobID string, message string, jobErr *models.JobError) error {
	if cfg == nil || cfg.URL == "" {
		return nil
	}

	payload := envelope{
		Phase:   "error",
		Message: message,
		Job:     jobRef{ID: cfg.CallbackJobID(internalJobID)},
		Data:    nil,
		Error:   jobErr,
	}

	if err := d.deliver(ctx, d.terminalClient, cfg, payload); err != nil {
		d.logger.Warn().Err(err).
			Str("job_id", internalJobID).
			Str("url", cfg.URL).
			Msg("Error webhook delivery failed")
		return err
	}
	return nil
}

// deliver performs one rate-limited POST to the callback URL
func (d *Dispatcher) deliver(ctx context.Context, client *http.Client, cfg *models.WebhookConfig, payload envelope) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
		req.Header.Set("X-Callback-Token", cfg.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	d.logger.Debug().
		Str("phase", payload.Phase).
		Str("url", cfg.URL).
		Int("status", resp.StatusCode).
		Msg("Webhook delivered")
	return nil
}
