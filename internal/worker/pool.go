package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ayupilot/genjobs/internal/queue"
)

const defaultDequeueWait = 5 * time.Second

// Pool runs N workers against the shared queue. No worker owns a job except
// through the queue lease and the store's compare-and-set, so pools can run
// in multiple processes concurrently.
type Pool struct {
	queue       queue.Queue
	processor   *Processor
	workers     int
	dequeueWait time.Duration
}

func NewPool(q queue.Queue, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:       q,
		processor:   processor,
		workers:     workers,
		dequeueWait: defaultDequeueWait,
	}
}

// Run blocks until ctx is cancelled. Deliveries are acknowledged only after
// Process returns cleanly: by then the job has a durable outcome or belongs
// to someone else. Anything short of that keeps the lease alive so the job
// is redelivered.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("worker pool started", "workers", p.workers)

	jobCh := make(chan queue.Delivery)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for d := range jobCh {
				if err := p.processor.Process(ctx, d.JobID); err != nil {
					// No durable outcome was written. Keep the lease so
					// RequeueExpired redelivers the job; acking here would
					// strand it in pending forever.
					slog.Error("process job", "worker", n, "job_id", d.JobID, "error", err)
					continue
				}
				if err := p.queue.Ack(ctx, d); err != nil {
					slog.Error("ack job", "worker", n, "job_id", d.JobID, "error", err)
				}
			}
		}(i + 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			slog.Info("worker pool stopped")
			return
		default:
			d, err := p.queue.Dequeue(ctx, p.dequeueWait)
			if err != nil {
				if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
					slog.Error("dequeue", "error", err)
				}
				continue
			}
			select {
			case jobCh <- d:
			case <-ctx.Done():
				close(jobCh)
				wg.Wait()
				return
			}
		}
	}
}
