package models

import "time"

// SubjectSnapshot is the view of a patient record the pipeline freezes into
// a job's input payload at submission time. The patient store itself is an
// external collaborator; the pipeline only ever reads it once per submit.
type SubjectSnapshot struct {
	SubjectID       string    `db:"subject_id"       json:"subject_id"`
	Name            string    `db:"name"             json:"name"`
	Age             int       `db:"age"              json:"age"`
	Gender          string    `db:"gender"           json:"gender"`
	ChiefComplaints *string   `db:"chief_complaints" json:"chief_complaints,omitempty"`
	MedicalHistory  *string   `db:"medical_history"  json:"medical_history,omitempty"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}
