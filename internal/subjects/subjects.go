// Package subjects reads patient records. The patient store is an external
// collaborator owned by the surrounding application; the pipeline reads a
// subject exactly once per submission to freeze a snapshot into the job's
// input payload.
package subjects

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayupilot/genjobs/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("subject not found")

// Source resolves a subject id into a point-in-time snapshot.
type Source interface {
	GetSubject(ctx context.Context, subjectID string) (*models.SubjectSnapshot, error)
}

// PostgresSource implements Source over the application's patients table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) GetSubject(ctx context.Context, subjectID string) (*models.SubjectSnapshot, error) {
	var snap models.SubjectSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT subject_id, name, age, gender, chief_complaints, medical_history, updated_at
		 FROM patients WHERE subject_id = $1`, subjectID,
	).Scan(&snap.SubjectID, &snap.Name, &snap.Age, &snap.Gender,
		&snap.ChiefComplaints, &snap.MedicalHistory, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return &snap, nil
}

var _ Source = (*PostgresSource)(nil)
