package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ayupilot/genjobs/internal/api/response"
	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// StatusReader defines the interface the handler depends on.
type StatusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewStatusHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.JSON(w, job)
	}
}
