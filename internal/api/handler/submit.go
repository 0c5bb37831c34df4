package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayupilot/genjobs/internal/api/response"
	"github.com/ayupilot/genjobs/internal/jobs"
	"github.com/ayupilot/genjobs/pkg/models"
)

// Submitter defines the interface the handler depends on.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.GenerationJob, error)
}

type submitRequest struct {
	Kind       string         `json:"kind"`
	SubjectID  string         `json:"subject_id"`
	Answers    map[string]any `json:"answers,omitempty"`
	FileBase64 string         `json:"file_base64,omitempty"`
	FileName   string         `json:"file_name,omitempty"`
	FileType   string         `json:"file_type,omitempty"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// It answers 202 with the job snapshot; for an idempotent re-submission the
// snapshot is the already-active job.
func NewSubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Kind == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "kind is required", nil)
			return
		}
		if req.SubjectID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_id is required", nil)
			return
		}

		var fileBytes []byte
		if req.FileBase64 != "" {
			var err error
			fileBytes, err = base64.StdEncoding.DecodeString(req.FileBase64)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file_base64 must be valid base64", nil)
				return
			}
		}

		job, err := svc.Submit(r.Context(), jobs.SubmitRequest{
			Kind:      models.JobKind(req.Kind),
			SubjectID: req.SubjectID,
			Answers:   req.Answers,
			FileBytes: fileBytes,
			FileName:  req.FileName,
			FileType:  req.FileType,
		})
		if err != nil {
			if errors.Is(err, jobs.ErrValidation) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit job", nil)
			return
		}

		response.Accepted(w, job)
	}
}
