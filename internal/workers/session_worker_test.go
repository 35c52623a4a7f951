package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/models"
)

func TestSessionWorkerValidate(t *testing.T) {
	w := NewSessionWorker(arbor.NewLogger())

	err := w.Validate(models.NewJob("session", nil))
	require.Error(t, err)
	jobErr, ok := err.(*models.JobError)
	require.True(t, ok)
	assert.Equal(t, "ValidationError", jobErr.Code)

	err = w.Validate(models.NewJob("session", map[string]interface{}{"url": "::not-a-url"}))
	assert.Error(t, err)

	err = w.Validate(models.NewJob("session", map[string]interface{}{"url": "http://example.com/page"}))
	assert.NoError(t, err)
}

func TestSessionWorkerCapturesPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Release Notes</title><script>evil()</script></head>` +
			`<body><h1>Notes</h1><p>All good.</p><style>.x{}</style></body></html>`))
	})
	mux.HandleFunc("/files/diagram.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := NewSessionWorker(arbor.NewLogger())
	job := models.NewJob("session", map[string]interface{}{
		"url":         srv.URL + "/page",
		"attachments": []interface{}{srv.URL + "/files/diagram.png"},
		"metadata":    map[string]interface{}{"source": "test"},
	})
	jc := newJobContext(t, job)

	require.NoError(t, w.Execute(context.Background(), jc))

	results := jc.Job.Results
	require.NotNil(t, results)
	assert.Contains(t, results.MarkdownContent, "# Release Notes")
	assert.Contains(t, results.MarkdownContent, "Source: "+srv.URL+"/page")
	assert.Contains(t, results.MarkdownContent, "All good.")
	assert.NotContains(t, results.MarkdownContent, "evil()")

	assert.Equal(t, []string{"diagram.png"}, results.Assets)
	saved, err := os.ReadFile(filepath.Join(results.AssetDir, "diagram.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(saved))

	assert.Equal(t, job.ID+".zip", results.ArchiveFilename)
	_, err = os.Stat(filepath.Join(results.TargetDir, results.ArchiveFilename))
	require.NoError(t, err)

	inner := results.StructuredData["data"].(map[string]interface{})
	assert.Equal(t, "Release Notes", inner["title"])
	assert.Equal(t, srv.URL+"/page", inner["url"])
	meta := inner["metadata"].(map[string]interface{})
	assert.Equal(t, "test", meta["source"])
}

func TestSessionWorkerBadAttachmentDegrades(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title></head><body><p>Body</p></body></html>`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := NewSessionWorker(arbor.NewLogger())
	job := models.NewJob("session", map[string]interface{}{
		"url":         srv.URL + "/page",
		"attachments": []interface{}{srv.URL + "/gone"},
	})
	jc := newJobContext(t, job)

	// The dead attachment does not fail the job
	require.NoError(t, w.Execute(context.Background(), jc))
	assert.Empty(t, jc.Job.Results.Assets)

	// The failure is visible in the job log
	stored, err := jc.Store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	foundWarning := false
	for _, entry := range stored.LogEntries {
		if entry.Level == models.LogLevelWarning {
			foundWarning = true
		}
	}
	assert.True(t, foundWarning)
}

func TestSessionWorkerFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewSessionWorker(arbor.NewLogger())
	job := models.NewJob("session", map[string]interface{}{"url": srv.URL})
	jc := newJobContext(t, job)

	assert.Error(t, w.Execute(context.Background(), jc))
}

func TestSessionWorkerTitleOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Original</title></head><body><p>x</p></body></html>`))
	}))
	defer srv.Close()

	w := NewSessionWorker(arbor.NewLogger())
	job := models.NewJob("session", map[string]interface{}{
		"url":   srv.URL,
		"title": "Overridden",
	})
	jc := newJobContext(t, job)

	require.NoError(t, w.Execute(context.Background(), jc))
	assert.Contains(t, jc.Job.Results.MarkdownContent, "# Overridden")
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "file.pdf", attachmentName("http://host/a/file.pdf", 0))
	assert.Equal(t, "attachment_3", attachmentName("http://host/", 2))
}
