// Package jobs is the public entry point of the generation pipeline: it
// accepts submissions, enforces the idempotency rule, and exposes status
// lookup. It never blocks on inference; workers pick jobs up from the queue.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ayupilot/genjobs/internal/blob"
	"github.com/ayupilot/genjobs/internal/queue"
	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/internal/subjects"
	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SubmitRequest holds a validated generation request. FileBytes carries the
// raw upload for image/document kinds; it is written to blob storage before
// the job's input payload is finalized.
type SubmitRequest struct {
	Kind      models.JobKind `validate:"required"`
	SubjectID string         `validate:"required"`
	Answers   map[string]any
	FileBytes []byte
	FileName  string
	FileType  string
}

// Service orchestrates job submission and status lookup.
type Service struct {
	store          store.Store
	queue          queue.Queue
	blobs          blob.Store
	subjects       subjects.Source
	validate       *validator.Validate
	reuseCompleted bool
}

// NewService creates a new Service. When reuseCompleted is set, a submission
// whose key matches an already-completed job returns that job instead of
// regenerating.
func NewService(st store.Store, q queue.Queue, blobs blob.Store, subs subjects.Source, reuseCompleted bool) *Service {
	return &Service{
		store:          st,
		queue:          q,
		blobs:          blobs,
		subjects:       subs,
		validate:       validator.New(),
		reuseCompleted: reuseCompleted,
	}
}

// Submit validates the request, freezes the input payload, and either
// returns the already-active job for the same (kind, subject, payload hash)
// or creates and enqueues a new pending job. It returns as soon as the job
// is durable; inference happens in the worker pool.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.GenerationJob, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	snap, err := s.subjects.GetSubject(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, subjects.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject %q", ErrValidation, req.SubjectID)
		}
		return nil, fmt.Errorf("load subject: %w", err)
	}

	input := models.JobInput{
		Subject:  *snap,
		Answers:  req.Answers,
		FileName: req.FileName,
		FileType: req.FileType,
	}
	if len(req.FileBytes) > 0 {
		sum := sha256.Sum256(req.FileBytes)
		input.FileHash = hex.EncodeToString(sum[:])
	}

	// A prescription generated right after a document analysis should see
	// that analysis; freeze it into the payload alongside the subject.
	if req.Kind == models.KindSNLPrescription {
		docCtx, err := s.store.FindLatestResult(ctx, models.KindDocumentAnalysis, req.SubjectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load document context: %w", err)
		}
		input.DocumentContext = docCtx
	}

	// The hash is computed before the upload: the blob URI carries a random
	// name, and a resubmission of identical bytes must land on the same key.
	payload, hash, err := encodePayload(input)
	if err != nil {
		return nil, err
	}

	// Idempotent submission: a double-click lands on the active job and
	// never re-uploads the file.
	existing, err := s.store.FindActiveJob(ctx, req.Kind, req.SubjectID, hash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find active job: %w", err)
	}

	if s.reuseCompleted {
		done, err := s.store.FindLatestCompleted(ctx, req.Kind, req.SubjectID, hash)
		if err == nil {
			return done, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find completed job: %w", err)
		}
	}

	if len(req.FileBytes) > 0 {
		uri, err := s.blobs.Put(ctx, req.FileBytes, filepath.Ext(req.FileName))
		if err != nil {
			return nil, fmt.Errorf("store upload: %w", err)
		}
		input.FileURI = uri
		if payload, err = json.Marshal(input); err != nil {
			return nil, fmt.Errorf("encode input payload: %w", err)
		}
	}

	now := time.Now().UTC()
	job := &models.GenerationJob{
		ID:           uuid.New(),
		Kind:         req.Kind,
		SubjectID:    req.SubjectID,
		InputPayload: payload,
		InputHash:    hash,
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		// Two submits racing past FindActiveJob: the partial unique index
		// lets exactly one insert win; the loser returns the winner's job.
		if errors.Is(err, store.ErrDuplicateKey) {
			if winner, ferr := s.store.FindActiveJob(ctx, req.Kind, req.SubjectID, hash); ferr == nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// A pending job that never reaches the queue would strand the
		// caller; fail it now rather than leaving it invisible.
		detail := fmt.Sprintf("enqueue failed: %v", err)
		if cerr := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPending, models.JobStatusFailed,
			store.WithErrorDetail(detail)); cerr != nil {
			slog.Error("failed to mark unenqueued job failed", "job_id", job.ID, "error", cerr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	slog.Info("job submitted", "job_id", job.ID, "kind", job.Kind, "subject_id", job.SubjectID)
	return job, nil
}

// GetStatus returns the full job snapshot.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) validateRequest(req SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !models.ValidKind(req.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, req.Kind)
	}
	switch req.Kind {
	case models.KindImageAnalysis, models.KindDocumentAnalysis:
		if len(req.FileBytes) == 0 {
			return fmt.Errorf("%w: %s requires an uploaded file", ErrValidation, req.Kind)
		}
	}
	return nil
}

// encodePayload produces the canonical JSON snapshot of the submitted
// inputs and its sha-256 hex. encoding/json writes struct fields in
// declaration order and map keys sorted, so identical inputs always hash
// identically. The caller folds the blob URI into the stored payload after
// hashing; the hash itself never depends on storage-generated names.
func encodePayload(input models.JobInput) (json.RawMessage, string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, "", fmt.Errorf("encode input payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	return payload, hex.EncodeToString(sum[:]), nil
}
