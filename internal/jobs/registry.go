package jobs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

// Registry maps job types to their handlers. Registration happens during
// startup wiring; once the worker manager starts, the registry is frozen
// and further registration is refused.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]interfaces.Handler
	frozen   bool
	logger   arbor.ILogger
}

// NewRegistry creates an empty handler registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		handlers: make(map[string]interfaces.Handler),
		logger:   logger,
	}
}

// Register adds a handler for its job type. Duplicate types and
// registration after freeze are errors.
func (r *Registry) Register(handler interfaces.Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	jobType := handler.JobType()
	if jobType == "" {
		return fmt.Errorf("handler job type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register handler for %s", jobType)
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %s", jobType)
	}

	r.handlers[jobType] = handler
	r.logger.Debug().Str("job_type", jobType).Msg("Registered job handler")
	return nil
}

// Get returns the handler for a job type, or nil for unknown types
func (r *Registry) Get(jobType string) interfaces.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Types returns the registered job types sorted alphabetically
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Freeze locks the registry against further registration
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}
