// Package poller turns an async generation job into a synchronous-feeling
// result for the calling side. It is a client-side convenience: its timeout
// bounds how long the caller waits, never the job itself, and polling can be
// resumed on any existing job id (e.g. after a UI reload).
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/google/uuid"
)

// ErrClientTimeout means the polling budget ran out before the job reached
// a terminal state. The job may still complete later; this is not a job
// failure.
var ErrClientTimeout = errors.New("polling budget exhausted")

// ErrJobFailed means the job itself reached the failed state.
var ErrJobFailed = errors.New("generation job failed")

// StatusReader fetches job snapshots. The orchestrator service satisfies it
// directly; remote callers can satisfy it with an HTTP client.
type StatusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
}

const (
	defaultInterval = 2 * time.Second
	defaultBudget   = 60 * time.Second
)

// Poller polls a job on a fixed interval up to a wall-clock budget.
type Poller struct {
	reader   StatusReader
	interval time.Duration
	budget   time.Duration
}

// New creates a Poller. Zero interval or budget fall back to 2s and 60s.
func New(reader StatusReader, interval, budget time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if budget <= 0 {
		budget = defaultBudget
	}
	return &Poller{reader: reader, interval: interval, budget: budget}
}

// Wait polls until the job is terminal, the budget runs out, or ctx is
// cancelled (e.g. a UI navigation event; cancelling never affects the job).
//
// Completed jobs return (job, nil). Failed jobs return the snapshot and an
// error wrapping ErrJobFailed. An exhausted budget returns the last
// observed snapshot and ErrClientTimeout.
func (p *Poller) Wait(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	deadline := time.Now().Add(p.budget)
	timer := time.NewTimer(0) // first check happens immediately
	defer timer.Stop()

	var last *models.GenerationJob
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
		}

		job, err := p.reader.GetStatus(ctx, id)
		if err != nil {
			return last, err
		}
		last = job

		switch job.Status {
		case models.JobStatusCompleted:
			return job, nil
		case models.JobStatusFailed:
			detail := "unknown cause"
			if job.ErrorDetail != nil {
				detail = *job.ErrorDetail
			}
			return job, fmt.Errorf("%w: %s", ErrJobFailed, detail)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last, ErrClientTimeout
		}
		wait := p.interval
		if remaining < wait {
			wait = remaining
		}
		timer.Reset(wait)
	}
}
