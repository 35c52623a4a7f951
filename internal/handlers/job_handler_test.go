package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	badgerstore "github.com/ternarybob/fabrica/internal/storage/badger"
)

type handlerFixture struct {
	store   interfaces.JobStorage
	batches interfaces.BatchStorage
	jobs    *JobHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := badgerstore.NewJobStorage(db, logger)
	batches := badgerstore.NewBatchStorage(db, store, logger)

	return &handlerFixture{
		store:   store,
		batches: batches,
		jobs:    NewJobHandler(store, batches, t.TempDir(), logger),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func postJSON(t *testing.T, target string, payload interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSubmitJobAccepted(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, postJSON(t, "/api/jobs", map[string]interface{}{
		"job_type":   "pdf",
		"parameters": map[string]interface{}{"filename": "doc.pdf"},
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "accepted", body["status"])
	assert.Nil(t, body["error"])
	assert.Nil(t, body["webhook"])

	jobID := body["job"].(map[string]interface{})["id"].(string)
	assert.True(t, strings.HasPrefix(jobID, "job_"))

	process := body["process"].(map[string]interface{})
	assert.Equal(t, "pdf", process["main_processor"])
	assert.Equal(t, false, process["is_from_cache"])
	assert.NotEmpty(t, process["id"])
	assert.NotEmpty(t, process["started"])

	stored, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, "doc.pdf", stored.GetParamString("filename", ""))
}

func TestSubmitJobEchoesWebhookURL(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, postJSON(t, "/api/jobs", map[string]interface{}{
		"job_type": "pdf",
		"parameters": map[string]interface{}{
			"filename": "doc.pdf",
			"webhook":  map[string]interface{}{"url": "http://callback.local/hook"},
		},
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "http://callback.local/hook", body["webhook"])
}

func TestSubmitJobMissingType(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, postJSON(t, "/api/jobs", map[string]interface{}{
		"parameters": map[string]interface{}{"filename": "doc.pdf"},
	}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
}

func TestSubmitJobInvalidJSON(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJobMultipartUpload(t *testing.T) {
	f := newHandlerFixture(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("job_type", "pdf"))
	part, err := form.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	part.Write([]byte("%PDF-1.7 payload"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	jobID := body["job"].(map[string]interface{})["id"].(string)

	stored, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)

	storedPath := stored.GetParamString("filename", "")
	require.NotEmpty(t, storedPath)
	assert.True(t, strings.HasSuffix(storedPath, "_report.pdf"))

	data, err := os.ReadFile(storedPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 payload", string(data))
}

// completeFirstPendingJob waits for a pending job to appear and drives it
// to the given terminal state, standing in for the worker manager.
func completeFirstPendingJob(t *testing.T, store interfaces.JobStorage, status models.JobStatus, results *models.JobResults, jobErr *models.JobError) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			jobs, err := store.ListJobs(context.Background(), interfaces.JobListOptions{Status: models.JobStatusPending, Limit: 1})
			if err == nil && len(jobs) == 1 {
				if claimed, _ := store.ClaimPending(context.Background(), jobs[0].ID); claimed {
					store.UpdateJobStatus(context.Background(), jobs[0].ID, status, nil, results, jobErr)
				}
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
}

func TestSubmitJobWaitMsCompleted(t *testing.T) {
	f := newHandlerFixture(t)

	completeFirstPendingJob(t, f.store, models.JobStatusCompleted, &models.JobResults{
		StructuredData: map[string]interface{}{"data": map[string]interface{}{"pages": float64(3)}},
	}, nil)

	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, postJSON(t, "/api/jobs?wait_ms=2000", map[string]interface{}{
		"job_type": "pdf",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	structured := data["structured_data"].(map[string]interface{})
	assert.Equal(t, float64(3), structured["data"].(map[string]interface{})["pages"])
}

func TestSubmitJobWaitMsFailed(t *testing.T) {
	f := newHandlerFixture(t)

	completeFirstPendingJob(t, f.store, models.JobStatusFailed, nil,
		&models.JobError{Code: "ValidationError", Message: "bad input"})

	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, postJSON(t, "/api/jobs?wait_ms=2000", map[string]interface{}{
		"job_type": "pdf",
	}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "ValidationError", errObj["code"])
	assert.Equal(t, "bad input", errObj["message"])
}

func TestSubmitJobWaitMsTimeoutFallsBackToAccepted(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.SubmitJobHandler(rec, postJSON(t, "/api/jobs?wait_ms=300", map[string]interface{}{
		"job_type": "pdf",
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", decodeBody(t, rec)["status"])
}

func TestGetJobNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil), "job_missing")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NotFound", body["error"].(map[string]interface{})["code"])
}

func TestGetJobIncludesLogs(t *testing.T) {
	f := newHandlerFixture(t)

	job := models.NewJob("pdf", nil)
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	require.NoError(t, f.store.AppendLog(context.Background(), job.ID, "info", "queued"))

	rec := httptest.NewRecorder()
	f.jobs.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil), job.ID)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, job.ID, data["job_id"])

	logs := data["log_entries"].([]interface{})
	require.Len(t, logs, 1)
	assert.Equal(t, "queued", logs[0].(map[string]interface{})["message"])
}

func TestListJobsHidesArchivedByDefault(t *testing.T) {
	f := newHandlerFixture(t)

	keep := models.NewJob("pdf", nil)
	archived := models.NewJob("pdf", nil)
	require.NoError(t, f.store.CreateJob(context.Background(), keep))
	require.NoError(t, f.store.CreateJob(context.Background(), archived))
	require.NoError(t, f.store.ArchiveJob(context.Background(), archived.ID))

	rec := httptest.NewRecorder()
	f.jobs.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])
	jobs := data["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	assert.Equal(t, keep.ID, jobs[0].(map[string]interface{})["job_id"])

	rec = httptest.NewRecorder()
	f.jobs.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?archived=true", nil))
	data = decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
}

func TestListJobsInvalidStatus(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.jobs.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?status=sideways", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsHandler(t *testing.T) {
	f := newHandlerFixture(t)

	pending := models.NewJob("pdf", nil)
	running := models.NewJob("pdf", nil)
	require.NoError(t, f.store.CreateJob(context.Background(), pending))
	require.NoError(t, f.store.CreateJob(context.Background(), running))
	claimed, err := f.store.ClaimPending(context.Background(), running.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	rec := httptest.NewRecorder()
	f.jobs.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["pending"])
	assert.Equal(t, float64(1), data["processing"])
	assert.Equal(t, float64(0), data["completed"])
	assert.Equal(t, float64(0), data["failed"])
}

func TestDeleteJob(t *testing.T) {
	f := newHandlerFixture(t)

	job := models.NewJob("pdf", nil)
	require.NoError(t, f.store.CreateJob(context.Background(), job))

	rec := httptest.NewRecorder()
	f.jobs.DeleteJobHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil), job.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.jobs.DeleteJobHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil), job.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
