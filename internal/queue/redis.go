package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "genjobs:pending"
	processingKey = "genjobs:processing"
	leaseKey      = "genjobs:leases"
)

// RedisQueue implements Queue on Redis lists.
//
// Dequeue: BRPOPLPUSH pending -> processing, then the lease deadline and a
// per-delivery token are recorded in a hash. Ack: LREM from processing,
// HDEL the lease only if the token still matches (a later delivery of the
// same id owns the lease otherwise). RequeueExpired walks the lease hash
// and moves expired entries back to pending, which is what makes delivery
// at-least-once.
type RedisQueue struct {
	client *redis.Client
	lease  time.Duration
}

// NewRedisQueue creates a RedisQueue from a Redis URL. lease is the
// visibility timeout for dequeued jobs.
func NewRedisQueue(redisURL string, lease time.Duration) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &RedisQueue{client: redis.NewClient(opts), lease: lease}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := q.client.LPush(ctx, pendingKey, jobID.String()).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Delivery, error) {
	val, err := q.client.BRPopLPush(ctx, pendingKey, processingKey, wait).Result()
	if errors.Is(err, redis.Nil) {
		return Delivery{}, ErrEmpty
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("dequeue job: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		// Unparseable entries cannot be processed; drop them from the
		// processing list so they do not recirculate forever.
		_ = q.client.LRem(ctx, processingKey, 1, val).Err()
		return Delivery{}, fmt.Errorf("dequeued malformed job id %q: %w", val, err)
	}

	d := Delivery{JobID: id, Token: uuid.NewString()}
	deadline := time.Now().Add(q.lease).UnixMilli()
	if err := q.client.HSet(ctx, leaseKey, val, leaseValue(deadline, d.Token)).Err(); err != nil {
		return Delivery{}, fmt.Errorf("record lease: %w", err)
	}
	return d, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	val := d.JobID.String()
	if err := q.client.LRem(ctx, processingKey, 1, val).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}

	// The lease may belong to a later delivery of the same id (retry
	// re-enqueue raced this ack); only the matching token releases it.
	raw, err := q.client.HGet(ctx, leaseKey, val).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if _, token, ok := parseLease(raw); ok && token != d.Token {
		return nil
	}
	if err := q.client.HDel(ctx, leaseKey, val).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (q *RedisQueue) RequeueExpired(ctx context.Context) (int64, error) {
	leases, err := q.client.HGetAll(ctx, leaseKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read leases: %w", err)
	}

	now := time.Now().UnixMilli()
	var moved int64
	for val, raw := range leases {
		deadline, _, ok := parseLease(raw)
		if !ok || deadline > now {
			continue
		}

		// Only requeue if the entry is still sitting in the processing
		// list; a concurrent Ack may have already removed it.
		removed, err := q.client.LRem(ctx, processingKey, 1, val).Result()
		if err != nil {
			return moved, fmt.Errorf("requeue expired: %w", err)
		}
		if removed > 0 {
			if err := q.client.LPush(ctx, pendingKey, val).Err(); err != nil {
				return moved, fmt.Errorf("requeue expired: %w", err)
			}
			moved++
		}
		_ = q.client.HDel(ctx, leaseKey, val).Err()
	}
	return moved, nil
}

// leaseValue encodes a lease hash entry as "<deadlineMillis>:<token>".
func leaseValue(deadline int64, token string) string {
	return strconv.FormatInt(deadline, 10) + ":" + token
}

func parseLease(raw string) (deadline int64, token string, ok bool) {
	millis, token, found := strings.Cut(raw, ":")
	if !found {
		return 0, "", false
	}
	deadline, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return deadline, token, true
}
