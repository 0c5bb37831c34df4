package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayupilot/genjobs/internal/config"
	"github.com/ayupilot/genjobs/internal/queue"
	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/pkg/models"
)

const stuckBatchSize = 100

// Reaper guarantees no job stays in generating forever: jobs with no update
// for twice their kind's inference timeout are force-failed, and expired
// queue leases are put back in front of the workers.
type Reaper struct {
	store store.Store
	queue queue.Queue
	cfg   config.JobsConfig
}

func NewReaper(st store.Store, q queue.Queue, cfg config.JobsConfig) *Reaper {
	return &Reaper{store: st, queue: q, cfg: cfg}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started", "interval", r.cfg.ReaperInterval)
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: requeue expired leases, then fail stuck jobs.
func (r *Reaper) Sweep(ctx context.Context) {
	moved, err := r.queue.RequeueExpired(ctx)
	if err != nil {
		slog.Error("requeue expired leases", "error", err)
	} else if moved > 0 {
		slog.Warn("requeued jobs with expired leases", "count", moved)
	}

	now := time.Now().UTC()
	for _, kind := range models.Kinds {
		cutoff := now.Add(-2 * r.cfg.TimeoutFor(kind))
		stuck, err := r.store.ListStuckJobs(ctx, kind, cutoff, stuckBatchSize)
		if err != nil {
			slog.Error("list stuck jobs", "kind", kind, "error", err)
			continue
		}

		for _, job := range stuck {
			detail := fmt.Sprintf("generation timed out: no progress since %s", job.UpdatedAt.Format(time.RFC3339))
			err := r.store.UpdateJobStatus(ctx, job.ID, models.JobStatusGenerating, models.JobStatusFailed,
				store.WithErrorDetail(detail), store.WithAttemptCount(job.AttemptCount))
			if errors.Is(err, store.ErrConflict) {
				// the worker finished between the scan and this write
				continue
			}
			if err != nil {
				slog.Error("reap stuck job", "job_id", job.ID, "error", err)
				continue
			}
			slog.Warn("reaped stuck job", "job_id", job.ID, "kind", kind, "last_update", job.UpdatedAt)
		}
	}
}
