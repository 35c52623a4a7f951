package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobStatusChanged EventType = "job_status_changed"
	EventBatchUpdated     EventType = "batch_updated"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// JobStatusPayload travels with EventJobStatusChanged
type JobStatusPayload struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Status  string `json:"status"`
	BatchID string `json:"batch_id,omitempty"`
}

// BatchUpdatedPayload travels with EventBatchUpdated
type BatchUpdatedPayload struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe from an event type
	Unsubscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
