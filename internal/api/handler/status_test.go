package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock StatusReader ---

type mockStatusReader struct {
	fn func(id uuid.UUID) (*models.GenerationJob, error)
}

func (m *mockStatusReader) GetStatus(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return m.fn(id)
}

// statusGet routes the request through chi so URLParam resolves.
func statusGet(t *testing.T, svc StatusReader, jobID string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{jobID}", NewStatusHandler(svc))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))
	return rec
}

// --- tests ---

func TestStatusHandler_CompletedJob(t *testing.T) {
	id := uuid.New()
	result := "PATIENT OVERVIEW: stable"
	svc := &mockStatusReader{fn: func(got uuid.UUID) (*models.GenerationJob, error) {
		assert.Equal(t, id, got)
		now := time.Now().UTC()
		return &models.GenerationJob{
			ID:            id,
			Kind:          models.KindClinicalReport,
			SubjectID:     "P-1",
			Status:        models.JobStatusCompleted,
			ResultContent: &result,
			AttemptCount:  1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}, nil
	}}

	rec := statusGet(t, svc, id.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data, errObj := parseEnvelope(t, rec)
	require.Nil(t, errObj)
	assert.Equal(t, id.String(), data["id"])
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, result, data["result_content"])
	assert.NotContains(t, data, "error_detail")
}

func TestStatusHandler_PendingJobOmitsResultFields(t *testing.T) {
	id := uuid.New()
	svc := &mockStatusReader{fn: func(uuid.UUID) (*models.GenerationJob, error) {
		return &models.GenerationJob{ID: id, Kind: models.KindSNLPrescription, SubjectID: "P-1", Status: models.JobStatusPending}, nil
	}}

	rec := statusGet(t, svc, id.String())
	require.Equal(t, http.StatusOK, rec.Code)

	data, _ := parseEnvelope(t, rec)
	assert.Equal(t, "pending", data["status"])
	assert.NotContains(t, data, "result_content")
	assert.NotContains(t, data, "error_detail")
}

func TestStatusHandler_InvalidUUID(t *testing.T) {
	svc := &mockStatusReader{fn: func(uuid.UUID) (*models.GenerationJob, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}

	rec := statusGet(t, svc, "not-a-uuid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, errObj := parseEnvelope(t, rec)
	require.NotNil(t, errObj)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
}

func TestStatusHandler_NotFound(t *testing.T) {
	svc := &mockStatusReader{fn: func(uuid.UUID) (*models.GenerationJob, error) {
		return nil, store.ErrNotFound
	}}

	rec := statusGet(t, svc, uuid.NewString())
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, errObj := parseEnvelope(t, rec)
	require.NotNil(t, errObj)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestStatusHandler_StoreErrorIs500(t *testing.T) {
	svc := &mockStatusReader{fn: func(uuid.UUID) (*models.GenerationJob, error) {
		return nil, errors.New("connection reset")
	}}

	rec := statusGet(t, svc, uuid.NewString())
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
