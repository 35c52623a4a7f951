package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/models"
)

func newBatchHandler(t *testing.T, f *handlerFixture) *BatchHandler {
	t.Helper()
	return NewBatchHandler(f.store, f.batches, arbor.NewLogger())
}

func TestSubmitBatch(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	rec := httptest.NewRecorder()
	h.SubmitBatchHandler(rec, postJSON(t, "/api/jobs/batch", map[string]interface{}{
		"batch_name": "nightly import",
		"user_id":    "user-1",
		"jobs": []map[string]interface{}{
			{"job_type": "pdf", "parameters": map[string]interface{}{"filename": "a.pdf"}},
			{"job_type": "audio", "parameters": map[string]interface{}{"filename": "b.mp3"}},
		},
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])

	data := body["data"].(map[string]interface{})
	batchID := data["batch_id"].(string)
	assert.True(t, strings.HasPrefix(batchID, "batch_"))

	jobIDs := data["job_ids"].([]interface{})
	require.Len(t, jobIDs, 2)
	assert.Nil(t, data["enqueue_errors"])

	batch := data["batch"].(map[string]interface{})
	assert.Equal(t, float64(2), batch["total_jobs"])
	assert.Equal(t, float64(2), batch["pending_jobs"])

	// Every job points back at the batch
	for _, raw := range jobIDs {
		job, err := f.store.GetJob(context.Background(), raw.(string))
		require.NoError(t, err)
		assert.Equal(t, batchID, job.BatchID)
		assert.Equal(t, "user-1", job.UserID)
	}
}

func TestSubmitEmptyBatchCompletesImmediately(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	rec := httptest.NewRecorder()
	h.SubmitBatchHandler(rec, postJSON(t, "/api/jobs/batch", map[string]interface{}{
		"batch_name": "empty",
		"jobs":       []map[string]interface{}{},
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	batch := data["batch"].(map[string]interface{})
	assert.Equal(t, string(models.BatchStatusCompleted), batch["status"])
}

func TestSubmitBatchPartialEnqueue(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	rec := httptest.NewRecorder()
	h.SubmitBatchHandler(rec, postJSON(t, "/api/jobs/batch", map[string]interface{}{
		"jobs": []map[string]interface{}{
			{"job_type": "pdf"},
			{"parameters": map[string]interface{}{"filename": "orphan"}},
		},
	}))

	require.Equal(t, http.StatusAccepted, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})

	require.Len(t, data["job_ids"].([]interface{}), 1)
	errs := data["enqueue_errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].(string), "job_type is required")

	// The batch total reflects what actually exists
	batch := data["batch"].(map[string]interface{})
	assert.Equal(t, float64(1), batch["total_jobs"])
}

func TestGetBatchHandler(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	batch := models.NewBatch("lookup", "", 1)
	require.NoError(t, f.batches.CreateBatch(context.Background(), batch))
	job := models.NewJob("pdf", nil)
	job.BatchID = batch.ID
	require.NoError(t, f.store.CreateJob(context.Background(), job))

	rec := httptest.NewRecorder()
	h.GetBatchHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/batch/"+batch.ID, nil), batch.ID)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, batch.ID, data["batch_id"])
	assert.Equal(t, float64(1), data["pending_jobs"])
}

func TestGetBatchNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	rec := httptest.NewRecorder()
	h.GetBatchHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/batch/batch_missing", nil), "batch_missing")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NotFound", body["error"].(map[string]interface{})["code"])
}

func TestListBatchesHandler(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, f.batches.CreateBatch(context.Background(), models.NewBatch(name, "", 0)))
	}

	rec := httptest.NewRecorder()
	h.ListBatchesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/batches?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Len(t, data["batches"].([]interface{}), 2)
	assert.Equal(t, float64(2), data["limit"])
}

func TestBatchHandlerRejectsGetOnSubmit(t *testing.T) {
	f := newHandlerFixture(t)
	h := newBatchHandler(t, f)

	rec := httptest.NewRecorder()
	h.SubmitBatchHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/batch", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
