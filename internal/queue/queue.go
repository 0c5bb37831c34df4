// Package queue hands pending job ids from submitters to workers. Delivery
// is FIFO and at-least-once: a dequeued id is leased to the worker, and an
// id whose lease expires before acknowledgement becomes visible to another
// worker again.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmpty is returned by Dequeue when no job arrived within the wait window.
var ErrEmpty = errors.New("queue empty")

// Delivery is one leased hand-off of a job to a worker. Token identifies
// this delivery: the same job id can be delivered again after a retry
// re-enqueue, and an Ack must only release its own lease, not a successor's.
type Delivery struct {
	JobID uuid.UUID
	Token string
}

// Queue is the hand-off between the orchestrator and the worker pool.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue makes jobID available to workers.
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue blocks up to wait for the next job id and leases it to the
	// caller. Returns ErrEmpty when nothing arrived in time.
	Dequeue(ctx context.Context, wait time.Duration) (Delivery, error)
	// Ack releases the delivery after the worker has written a durable
	// outcome for the job. Un-acked deliveries are redelivered after the
	// lease expires.
	Ack(ctx context.Context, d Delivery) error
	// RequeueExpired moves jobs with expired leases back to the pending
	// queue and returns how many were moved.
	RequeueExpired(ctx context.Context) (int64, error)
}
