package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
)

type APIHandler struct {
	jobTypes func() []string
	logger   arbor.ILogger
}

// NewAPIHandler creates the operational endpoints handler. jobTypes
// reports the registered handler types for the health payload.
func NewAPIHandler(jobTypes func() []string) *APIHandler {
	return &APIHandler{
		jobTypes: jobTypes,
		logger:   common.GetLogger(),
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	payload := map[string]interface{}{
		"status": "ok",
	}
	if h.jobTypes != nil {
		payload["job_types"] = h.jobTypes()
	}
	WriteJSON(w, http.StatusOK, payload)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
