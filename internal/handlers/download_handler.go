package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/yuin/goldmark"
)

// DownloadHandler serves job artifacts: the ZIP archive, the markdown
// document (raw or rendered) and the raw structured data.
type DownloadHandler struct {
	store  interfaces.JobStorage
	logger arbor.ILogger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(store interfaces.JobStorage, logger arbor.ILogger) *DownloadHandler {
	return &DownloadHandler{
		store:  store,
		logger: logger,
	}
}

// loadTerminalJob fetches the job and handles the shared status gates.
// Returns nil after writing a response when the job is missing or still
// running.
func (h *DownloadHandler) loadTerminalJob(w http.ResponseWriter, r *http.Request, jobID string) *models.Job {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteErrorCode(w, http.StatusNotFound, "NotFound", fmt.Sprintf("job %s not found", jobID))
			return nil
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteErrorCode(w, http.StatusInternalServerError, "StorageError", "failed to get job")
		return nil
	}

	// Artifacts do not exist yet while the job is live
	if !job.IsTerminal() {
		WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "processing",
			"job": map[string]interface{}{
				"id":       job.ID,
				"status":   job.Status,
				"progress": job.Progress,
			},
		})
		return nil
	}
	return job
}

// ArchiveHandler streams the job's ZIP archive
// GET /api/jobs/{id}/download-archive
func (h *DownloadHandler) ArchiveHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job := h.loadTerminalJob(w, r, jobID)
	if job == nil {
		return
	}

	if job.Results == nil {
		WriteErrorCode(w, http.StatusNotFound, "NoResults", "job has no results")
		return
	}
	if job.Results.ArchiveFilename == "" || job.Results.TargetDir == "" {
		WriteErrorCode(w, http.StatusNotFound, "NoAssetDir", "job produced no archive")
		return
	}

	archivePath := filepath.Join(job.Results.TargetDir, job.Results.ArchiveFilename)
	if _, err := os.Stat(archivePath); err != nil {
		WriteErrorCode(w, http.StatusNotFound, "NoAssetDir", "archive file is missing")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.Results.ArchiveFilename))
	http.ServeFile(w, r, archivePath)
}

// MarkdownHandler returns the job's markdown, rendered to HTML on demand
// GET /api/jobs/{id}/download-markdown?format=html
func (h *DownloadHandler) MarkdownHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job := h.loadTerminalJob(w, r, jobID)
	if job == nil {
		return
	}

	if job.Results == nil {
		WriteErrorCode(w, http.StatusNotFound, "NoResults", "job has no results")
		return
	}

	markdown := job.Results.MarkdownContent
	if markdown == "" && job.Results.MarkdownFile != "" {
		data, err := os.ReadFile(job.Results.MarkdownFile)
		if err == nil {
			markdown = string(data)
		}
	}
	if markdown == "" {
		WriteErrorCode(w, http.StatusNotFound, "NoMarkdown", "job produced no markdown")
		return
	}

	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Markdown rendering failed")
			WriteErrorCode(w, http.StatusInternalServerError, "RenderError", "failed to render markdown")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(markdown))
}

// RawHandler returns the job's structured data as JSON
// GET /api/jobs/{id}/download-raw
func (h *DownloadHandler) RawHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job := h.loadTerminalJob(w, r, jobID)
	if job == nil {
		return
	}

	if job.Results == nil || job.Results.StructuredData == nil {
		WriteErrorCode(w, http.StatusNotFound, "NoRaw", "job produced no structured data")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Results.StructuredData)
}
