// Package worker executes generation jobs: it pulls ids from the queue,
// claims jobs via compare-and-set, runs inference under per-kind timeouts,
// and writes results back. The reaper in this package force-terminates jobs
// whose worker died mid-generation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayupilot/genjobs/internal/ai"
	"github.com/ayupilot/genjobs/internal/config"
	"github.com/ayupilot/genjobs/internal/queue"
	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/google/uuid"
)

// Processor runs a single job attempt end to end.
type Processor struct {
	store    store.Store
	queue    queue.Queue
	provider models.InferenceProvider
	cfg      config.JobsConfig
}

func NewProcessor(st store.Store, q queue.Queue, provider models.InferenceProvider, cfg config.JobsConfig) *Processor {
	return &Processor{store: st, queue: q, provider: provider, cfg: cfg}
}

// Process loads the job, claims it, and performs one inference attempt.
// Retryable failures below the ceiling put the job back to pending and
// re-enqueue it; at the ceiling the job fails with the last cause. Lost
// compare-and-set races mean someone else owns the job and are not errors.
//
// A panic inside an attempt marks the job failed so the caller never waits
// on a job whose worker blew up.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) (err error) {
	start := time.Now()

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("dequeued unknown job", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}

	// Guards against redelivery of jobs the reaper or another worker
	// already moved on.
	if job.Status != models.JobStatusPending {
		slog.Debug("skipping job not pending", "job_id", jobID, "status", job.Status)
		return nil
	}

	if err := p.store.UpdateJobStatus(ctx, jobID, models.JobStatusPending, models.JobStatusGenerating); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.Debug("lost claim race", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	attempt := job.AttemptCount + 1

	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("panic during generation: %v", r)
			slog.Error("panic in job attempt", "job_id", jobID, "error", r)
			p.failJob(ctx, job, attempt, detail)
			err = fmt.Errorf("panic during generation: %v", r)
		}
	}()

	result, inferErr := p.runAttempt(ctx, job)
	if inferErr != nil {
		return p.handleFailure(ctx, job, attempt, inferErr)
	}

	if err := p.store.UpdateJobStatus(ctx, jobID, models.JobStatusGenerating, models.JobStatusCompleted,
		store.WithResult(result), store.WithAttemptCount(attempt)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.Warn("completion lost to concurrent transition", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}

	slog.Info("job completed",
		"job_id", jobID,
		"kind", job.Kind,
		"attempt", attempt,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// runAttempt builds the prompt and calls the provider under the job kind's
// timeout. The provider call is not interruptible once accepted; the
// deadline just bounds how long this attempt waits.
func (p *Processor) runAttempt(ctx context.Context, job *models.GenerationJob) (string, error) {
	req, err := ai.BuildRequest(job.Kind, job.InputPayload)
	if err != nil {
		return "", err
	}

	inferCtx, cancel := context.WithTimeout(ctx, p.cfg.TimeoutFor(job.Kind))
	defer cancel()

	result, err := p.provider.Infer(inferCtx, req)
	if err != nil {
		if errors.Is(inferCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", models.ErrInferenceTimeout, p.cfg.TimeoutFor(job.Kind))
		}
		return "", err
	}
	return result, nil
}

func (p *Processor) handleFailure(ctx context.Context, job *models.GenerationJob, attempt int, cause error) error {
	if attempt < p.cfg.RetryCeiling {
		if err := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusGenerating, models.JobStatusPending,
			store.WithAttemptCount(attempt)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				slog.Warn("retry lost to concurrent transition", "job_id", job.ID)
				return nil
			}
			return fmt.Errorf("release job for retry: %w", err)
		}
		if err := p.queue.Enqueue(ctx, job.ID); err != nil {
			// The job is pending but not queued; lease redelivery cannot
			// save it anymore, so surface the error for the pool to log.
			return fmt.Errorf("re-enqueue job: %w", err)
		}
		slog.Warn("job attempt failed, retrying",
			"job_id", job.ID, "kind", job.Kind, "attempt", attempt, "error", cause)
		return nil
	}

	p.failJob(ctx, job, attempt, fmt.Sprintf("generation failed after %d attempts: %v", attempt, cause))
	slog.Error("job failed at retry ceiling",
		"job_id", job.ID, "kind", job.Kind, "attempt", attempt, "error", cause)
	return nil
}

func (p *Processor) failJob(ctx context.Context, job *models.GenerationJob, attempt int, detail string) {
	if err := p.store.UpdateJobStatus(ctx, job.ID, models.JobStatusGenerating, models.JobStatusFailed,
		store.WithErrorDetail(detail), store.WithAttemptCount(attempt)); err != nil && !errors.Is(err, store.ErrConflict) {
		slog.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}
