package models

// WebhookConfig is the callback configuration carried in parameters.webhook.
// JobID is the client-side identifier echoed back in every callback; when
// empty the platform job ID is used instead.
type WebhookConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

// CallbackJobID returns the identifier to place in outbound payloads
func (c *WebhookConfig) CallbackJobID(internalID string) string {
	if c != nil && c.JobID != "" {
		return c.JobID
	}
	return internalID
}
