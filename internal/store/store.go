package store

import (
	"context"
	"errors"
	"time"

	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict is returned by UpdateJobStatus when the job's current status
// does not match the expected status. It signals a lost compare-and-set
// race (another worker or the reaper got there first) and is always
// handled internally, never surfaced to API callers.
var ErrConflict = errors.New("job status conflict")

// Store is the data access interface for generation jobs. The job table is
// the single source of truth for job state; all mutation goes through the
// compare-and-set UpdateJobStatus.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.GenerationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)

	// UpdateJobStatus transitions a job from expected to status atomically.
	// It returns ErrConflict if the current status differs from expected
	// and ErrNotFound if the job does not exist.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, status models.JobStatus, opts ...JobUpdateOption) error

	// FindActiveJob returns the non-terminal job for the submission key,
	// or ErrNotFound. At most one such job exists at a time.
	FindActiveJob(ctx context.Context, kind models.JobKind, subjectID, inputHash string) (*models.GenerationJob, error)

	// FindLatestCompleted returns the most recent completed job for the
	// submission key, or ErrNotFound. Used by the completed-job reuse policy.
	FindLatestCompleted(ctx context.Context, kind models.JobKind, subjectID, inputHash string) (*models.GenerationJob, error)

	// FindLatestResult returns the newest completed result content of the
	// given kind for a subject, or ErrNotFound. Used to chain a completed
	// document analysis into a later prescription prompt.
	FindLatestResult(ctx context.Context, kind models.JobKind, subjectID string) (string, error)

	// ListStuckJobs returns jobs of the given kind still generating whose
	// last update predates updatedBefore. Consumed by the reaper.
	ListStuckJobs(ctx context.Context, kind models.JobKind, updatedBefore time.Time, limit int) ([]*models.GenerationJob, error)
}

// JobUpdate carries the optional fields of a status transition. Exported so
// Store fakes in tests can apply options the same way PostgresStore does.
type JobUpdate struct {
	ResultContent *string
	ErrorDetail   *string
	AttemptCount  *int
}

type JobUpdateOption func(*JobUpdate)

// ApplyJobUpdateOptions folds opts into a JobUpdate.
func ApplyJobUpdateOptions(opts []JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// WithResult sets the result content; used on the transition to completed.
func WithResult(content string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ResultContent = &content
	}
}

// WithErrorDetail sets the failure cause; used on the transition to failed.
func WithErrorDetail(detail string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorDetail = &detail
	}
}

// WithAttemptCount records how many times a worker has tried the job.
func WithAttemptCount(n int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.AttemptCount = &n
	}
}
