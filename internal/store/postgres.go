package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, kind, subject_id, input_payload, input_hash, status,
	result_content, error_detail, attempt_count, created_at, updated_at`

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.Kind, &j.SubjectID, &j.InputPayload, &j.InputHash,
		&j.Status, &j.ResultContent, &j.ErrorDetail, &j.AttemptCount,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO generation_jobs (id, kind, subject_id, input_payload, input_hash, status, attempt_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Kind, job.SubjectID, job.InputPayload, job.InputHash,
		job.Status, job.AttemptCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus is the compare-and-set primitive: the UPDATE is guarded
// by the expected status, so two workers racing on the same job (or a
// worker racing the reaper) produce exactly one winner. Status, result,
// error and attempt count move in one statement, so readers never observe
// a partially written result/error pair.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, status models.JobStatus, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts)

	query := `UPDATE generation_jobs SET status = $3, updated_at = $4`
	args := []any{id, expected, status, time.Now().UTC()}
	argIdx := 5

	if params.ResultContent != nil {
		query += fmt.Sprintf(", result_content = $%d", argIdx)
		args = append(args, *params.ResultContent)
		argIdx++
	}
	if params.ErrorDetail != nil {
		query += fmt.Sprintf(", error_detail = $%d", argIdx)
		args = append(args, *params.ErrorDetail)
		argIdx++
	}
	if params.AttemptCount != nil {
		query += fmt.Sprintf(", attempt_count = $%d", argIdx)
		args = append(args, *params.AttemptCount)
		argIdx++
	}

	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from a lost race.
		var current models.JobStatus
		err := s.pool.QueryRow(ctx, `SELECT status FROM generation_jobs WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job status: %w", err)
		}
		return fmt.Errorf("%w: expected %s, is %s", ErrConflict, expected, current)
	}
	return nil
}

func (s *PostgresStore) FindActiveJob(ctx context.Context, kind models.JobKind, subjectID, inputHash string) (*models.GenerationJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs
		 WHERE kind = $1 AND subject_id = $2 AND input_hash = $3
		   AND status IN ('pending', 'generating')
		 ORDER BY created_at DESC LIMIT 1`,
		kind, subjectID, inputHash)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindLatestCompleted(ctx context.Context, kind models.JobKind, subjectID, inputHash string) (*models.GenerationJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs
		 WHERE kind = $1 AND subject_id = $2 AND input_hash = $3 AND status = 'completed'
		 ORDER BY updated_at DESC LIMIT 1`,
		kind, subjectID, inputHash)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find latest completed: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindLatestResult(ctx context.Context, kind models.JobKind, subjectID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT result_content FROM generation_jobs
		 WHERE kind = $1 AND subject_id = $2 AND status = 'completed' AND result_content IS NOT NULL
		 ORDER BY updated_at DESC LIMIT 1`,
		kind, subjectID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find latest result: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) ListStuckJobs(ctx context.Context, kind models.JobKind, updatedBefore time.Time, limit int) ([]*models.GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs
		 WHERE kind = $1 AND status = 'generating' AND updated_at < $2
		 ORDER BY updated_at ASC LIMIT $3`,
		kind, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.GenerationJob
	for rows.Next() {
		var j models.GenerationJob
		if err := rows.Scan(&j.ID, &j.Kind, &j.SubjectID, &j.InputPayload, &j.InputHash,
			&j.Status, &j.ResultContent, &j.ErrorDetail, &j.AttemptCount,
			&j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return strings.Contains(err.Error(), "duplicate key")
}
