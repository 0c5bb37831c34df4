package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayupilot/genjobs/internal/config"
	"github.com/ayupilot/genjobs/internal/queue"
	"github.com/ayupilot/genjobs/internal/store"
	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- in-memory store with real compare-and-set semantics ---

type transition struct {
	From models.JobStatus
	To   models.JobStatus
}

type memStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.GenerationJob
	transitions map[uuid.UUID][]transition
	conflicts   int
	getErrs     []error
	getCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:        make(map[uuid.UUID]*models.GenerationJob),
		transitions: make(map[uuid.UUID][]transition),
	}
}

func (s *memStore) Ping(_ context.Context) error { return nil }

func (s *memStore) CreateJob(_ context.Context, job *models.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		return nil, err
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, expected, status models.JobStatus, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != expected {
		s.conflicts++
		return store.ErrConflict
	}

	u := store.ApplyJobUpdateOptions(opts)
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if u.ResultContent != nil {
		job.ResultContent = u.ResultContent
	}
	if u.ErrorDetail != nil {
		job.ErrorDetail = u.ErrorDetail
	}
	if u.AttemptCount != nil {
		job.AttemptCount = *u.AttemptCount
	}
	s.transitions[id] = append(s.transitions[id], transition{From: expected, To: status})
	return nil
}

func (s *memStore) FindActiveJob(_ context.Context, _ models.JobKind, _, _ string) (*models.GenerationJob, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) FindLatestCompleted(_ context.Context, _ models.JobKind, _, _ string) (*models.GenerationJob, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) FindLatestResult(_ context.Context, _ models.JobKind, _ string) (string, error) {
	return "", store.ErrNotFound
}

func (s *memStore) ListStuckJobs(_ context.Context, kind models.JobKind, updatedBefore time.Time, limit int) ([]*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []*models.GenerationJob
	for _, job := range s.jobs {
		if job.Kind == kind && job.Status == models.JobStatusGenerating && job.UpdatedAt.Before(updatedBefore) {
			cp := *job
			stuck = append(stuck, &cp)
			if len(stuck) == limit {
				break
			}
		}
	}
	return stuck, nil
}

// failNextGet makes the next GetJob call return err instead of the job.
func (s *memStore) failNextGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErrs = append(s.getErrs, err)
}

// setUpdatedAt backdates a job for reaper tests.
func (s *memStore) setUpdatedAt(id uuid.UUID, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].UpdatedAt = ts
}

func (s *memStore) snapshot(t *testing.T, id uuid.UUID) *models.GenerationJob {
	t.Helper()
	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

var _ store.Store = (*memStore)(nil)

// --- in-memory queue ---

type memQueue struct {
	mu       sync.Mutex
	ch       chan queue.Delivery
	inflight map[string]queue.Delivery
	acked    []queue.Delivery
}

func newMemQueue() *memQueue {
	return &memQueue{
		ch:       make(chan queue.Delivery, 1024),
		inflight: make(map[string]queue.Delivery),
	}
}

func (q *memQueue) Enqueue(_ context.Context, jobID uuid.UUID) error {
	q.ch <- queue.Delivery{JobID: jobID, Token: uuid.NewString()}
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context, wait time.Duration) (queue.Delivery, error) {
	select {
	case d := <-q.ch:
		q.mu.Lock()
		q.inflight[d.Token] = d
		q.mu.Unlock()
		return d, nil
	case <-time.After(wait):
		return queue.Delivery{}, queue.ErrEmpty
	case <-ctx.Done():
		return queue.Delivery{}, queue.ErrEmpty
	}
}

func (q *memQueue) Ack(_ context.Context, d queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.Token)
	q.acked = append(q.acked, d)
	return nil
}

// RequeueExpired treats every unacked delivery as expired, matching what
// the Redis queue does once a lease deadline passes.
func (q *memQueue) RequeueExpired(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var moved int64
	for token, d := range q.inflight {
		delete(q.inflight, token)
		q.ch <- queue.Delivery{JobID: d.JobID, Token: uuid.NewString()}
		moved++
	}
	return moved, nil
}

func (q *memQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

var _ queue.Queue = (*memQueue)(nil)

// --- provider doubles ---

// scriptedProvider returns one canned outcome per call, in order.
type scriptedProvider struct {
	mu      sync.Mutex
	outcome []func(ctx context.Context) (string, error)
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Infer(ctx context.Context, _ models.InferenceRequest) (string, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	fn := p.outcome[min(i, len(p.outcome)-1)]
	p.mu.Unlock()
	return fn(ctx)
}

func succeed(text string) func(context.Context) (string, error) {
	return func(_ context.Context) (string, error) { return text, nil }
}

func blockUntilDeadline() func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", models.ErrInferenceTimeout
	}
}

func fail(err error) func(context.Context) (string, error) {
	return func(_ context.Context) (string, error) { return "", err }
}

// --- helpers ---

func testJobsConfig() config.JobsConfig {
	timeouts := make(map[models.JobKind]time.Duration, len(models.Kinds))
	for _, k := range models.Kinds {
		timeouts[k] = 50 * time.Millisecond
	}
	return config.JobsConfig{
		Workers:        2,
		RetryCeiling:   3,
		LeaseTimeout:   time.Second,
		ReaperInterval: 10 * time.Millisecond,
		KindTimeouts:   timeouts,
	}
}

func seedJob(t *testing.T, s *memStore, kind models.JobKind, subjectID string) *models.GenerationJob {
	t.Helper()
	payload, err := json.Marshal(models.JobInput{
		Subject: models.SubjectSnapshot{SubjectID: subjectID, Name: "Asha Rao", Age: 42, Gender: "female"},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	job := &models.GenerationJob{
		ID:           uuid.New(),
		Kind:         kind,
		SubjectID:    subjectID,
		InputPayload: payload,
		InputHash:    "testhash",
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func assertTerminalInvariant(t *testing.T, job *models.GenerationJob) {
	t.Helper()
	switch job.Status {
	case models.JobStatusCompleted:
		assert.NotNil(t, job.ResultContent)
		assert.Nil(t, job.ErrorDetail)
	case models.JobStatusFailed:
		assert.NotNil(t, job.ErrorDetail)
		assert.Nil(t, job.ResultContent)
	default:
		t.Fatalf("job not terminal: %s", job.Status)
	}
}

// --- tests ---

func TestProcess_Success(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		succeed("PATIENT OVERVIEW: stable"),
	}}
	p := NewProcessor(s, q, provider, testJobsConfig())

	job := seedJob(t, s, models.KindClinicalReport, "P-7")
	require.NoError(t, p.Process(context.Background(), job.ID))

	got := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.ResultContent)
	assert.Equal(t, "PATIENT OVERVIEW: stable", *got.ResultContent)
	assertTerminalInvariant(t, got)
}

// First attempt times out against the per-kind budget, second succeeds.
// Status must walk pending -> generating -> pending -> generating -> completed
// with attempt_count ending at 2.
func TestProcess_TimeoutThenSuccess(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		blockUntilDeadline(),
		succeed("Ashwagandha 500mg - Twice daily"),
	}}
	p := NewProcessor(s, q, provider, testJobsConfig())
	ctx := context.Background()

	job := seedJob(t, s, models.KindSNLPrescription, "P-1")

	require.NoError(t, p.Process(ctx, job.ID))
	mid := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusPending, mid.Status)
	assert.Equal(t, 1, mid.AttemptCount)
	assert.Nil(t, mid.ResultContent)
	assert.Nil(t, mid.ErrorDetail)

	// retry was re-enqueued
	d, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, d.JobID)

	require.NoError(t, p.Process(ctx, job.ID))
	got := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	require.NotNil(t, got.ResultContent)
	assert.Contains(t, *got.ResultContent, "Ashwagandha 500mg")
	assertTerminalInvariant(t, got)

	assert.Equal(t, []transition{
		{models.JobStatusPending, models.JobStatusGenerating},
		{models.JobStatusGenerating, models.JobStatusPending},
		{models.JobStatusPending, models.JobStatusGenerating},
		{models.JobStatusGenerating, models.JobStatusCompleted},
	}, s.transitions[job.ID])
}

// Infer fails every time with ceiling 3: job ends failed with the last
// cause and attempt_count = 3.
func TestProcess_FailsAtRetryCeiling(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		fail(errors.New("model overloaded")),
	}}
	p := NewProcessor(s, q, provider, testJobsConfig())
	ctx := context.Background()

	job := seedJob(t, s, models.KindKnowledgeReference, "P-2")
	require.NoError(t, q.Enqueue(ctx, job.ID))

	// drain the queue the way a worker would until nothing is left
	for {
		d, err := q.Dequeue(ctx, 50*time.Millisecond)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, p.Process(ctx, d.JobID))
		require.NoError(t, q.Ack(ctx, d))
	}

	got := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "model overloaded")
	assert.Contains(t, *got.ErrorDetail, "after 3 attempts")
	assertTerminalInvariant(t, got)
	assert.Equal(t, 3, provider.calls)
}

// Two workers racing on the same job id produce exactly one terminal write.
func TestProcess_ConcurrentClaim_SingleCompletion(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		succeed("generated once"),
	}}
	p := NewProcessor(s, q, provider, testJobsConfig())

	job := seedJob(t, s, models.KindClinicalReport, "P-3")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Process(context.Background(), job.ID)
		}()
	}
	wg.Wait()

	got := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assertTerminalInvariant(t, got)

	var completions int
	for _, tr := range s.transitions[job.ID] {
		if tr.To == models.JobStatusCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestProcess_SkipsNonPendingJob(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		succeed("should never run"),
	}}
	p := NewProcessor(s, q, provider, testJobsConfig())
	ctx := context.Background()

	job := seedJob(t, s, models.KindDocumentAnalysis, "P-4")
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusPending, models.JobStatusGenerating))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusGenerating, models.JobStatusFailed,
		store.WithErrorDetail("reaped"), store.WithAttemptCount(0)))

	require.NoError(t, p.Process(ctx, job.ID))

	got := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 0, provider.calls)
}

func TestProcess_UnknownJobIsDropped(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	p := NewProcessor(s, q, &scriptedProvider{outcome: []func(context.Context) (string, error){succeed("")}}, testJobsConfig())

	assert.NoError(t, p.Process(context.Background(), uuid.New()))
}

// A transient store error inside Process leaves no durable outcome, so the
// pool must not acknowledge the delivery: acking would strand the job in
// pending with nothing left to redeliver it. The lease expires instead and
// the redelivered job completes normally.
func TestPool_DoesNotAckAfterTransientStoreError(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		succeed("PATIENT OVERVIEW: recovered"),
	}}
	p := NewProcessor(s, q, provider, testJobsConfig())
	pool := NewPool(q, p, 1)
	pool.dequeueWait = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := seedJob(t, s, models.KindClinicalReport, "P-6")
	s.failNextGet(errors.New("connection reset by peer"))
	require.NoError(t, q.Enqueue(ctx, job.ID))

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// first delivery cannot even load the job: it must stay leased,
	// unacked, and untouched in the store
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.getCalls >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, q.ackCount())
	assert.Equal(t, models.JobStatusPending, s.snapshot(t, job.ID).Status)

	// lease expiry hands the job back; the retry runs to completion
	moved, err := q.RequeueExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, moved)

	require.Eventually(t, func() bool {
		j, err := s.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == models.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 1, q.ackCount())
	got := s.snapshot(t, job.ID)
	assert.Equal(t, 1, got.AttemptCount)
	assertTerminalInvariant(t, got)
}

// Liveness: even with every inference attempt timing out, the job reaches a
// terminal state once the pool has drained its retries.
func TestPool_LivenessUnderPersistentTimeouts(t *testing.T) {
	s := newMemStore()
	q := newMemQueue()
	provider := &scriptedProvider{outcome: []func(context.Context) (string, error){
		blockUntilDeadline(),
	}}
	cfg := testJobsConfig()
	p := NewProcessor(s, q, provider, cfg)
	pool := NewPool(q, p, 2)
	pool.dequeueWait = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := seedJob(t, s, models.KindImageAnalysis, "P-5")
	require.NoError(t, q.Enqueue(ctx, job.ID))

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		j, err := s.GetJob(context.Background(), job.ID)
		return err == nil && j.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	got := s.snapshot(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, cfg.RetryCeiling, got.AttemptCount)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "timeout")
	assertTerminalInvariant(t, got)
}
