package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (job and batch lifecycle events)
	mux.HandleFunc("/ws", s.app.WSHandler.ServeHTTP)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.StatsHandler)
	mux.HandleFunc("/api/jobs/batches", s.app.BatchHandler.ListBatchesHandler)
	mux.HandleFunc("/api/jobs/batch", s.app.BatchHandler.SubmitBatchHandler)
	mux.HandleFunc("/api/jobs/batch/", s.handleBatchRoutes) // GET /{id}
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)          // GET (list), POST (submit)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)         // /{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes the jobs collection endpoint by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.JobHandler.ListJobsHandler, s.app.JobHandler.SubmitJobHandler)
}

// handleJobRoutes routes /api/jobs/{id} and its artifact subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(path, "/")

	if parts[0] == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	jobID := parts[0]

	// /api/jobs/{id}
	if len(parts) == 1 {
		RouteResourceItem(w, r,
			func(w http.ResponseWriter, r *http.Request) { s.app.JobHandler.GetJobHandler(w, r, jobID) },
			nil,
			func(w http.ResponseWriter, r *http.Request) { s.app.JobHandler.DeleteJobHandler(w, r, jobID) },
		)
		return
	}

	// /api/jobs/{id}/download-*
	if len(parts) == 2 && r.Method == "GET" {
		switch parts[1] {
		case "download-archive":
			s.app.DownloadHandler.ArchiveHandler(w, r, jobID)
			return
		case "download-markdown":
			s.app.DownloadHandler.MarkdownHandler(w, r, jobID)
			return
		case "download-raw":
			s.app.DownloadHandler.RawHandler(w, r, jobID)
			return
		}
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleBatchRoutes routes /api/jobs/batch/{id} requests
func (s *Server) handleBatchRoutes(w http.ResponseWriter, r *http.Request) {
	batchID := strings.TrimPrefix(r.URL.Path, "/api/jobs/batch/")
	if batchID == "" || strings.Contains(batchID, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.BatchHandler.GetBatchHandler(w, r, batchID)
}
