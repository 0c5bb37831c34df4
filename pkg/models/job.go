package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies which artifact a generation job produces.
type JobKind string

const (
	KindClinicalReport     JobKind = "clinical_report"
	KindSNLPrescription    JobKind = "snl_prescription"
	KindKnowledgeReference JobKind = "knowledge_reference"
	KindImageAnalysis      JobKind = "image_analysis"
	KindDocumentAnalysis   JobKind = "document_analysis"
)

// Kinds lists every valid job kind in a stable order.
var Kinds = []JobKind{
	KindClinicalReport,
	KindSNLPrescription,
	KindKnowledgeReference,
	KindImageAnalysis,
	KindDocumentAnalysis,
}

// ValidKind reports whether k is a known job kind.
func ValidKind(k JobKind) bool {
	for _, kind := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a generation job.
// Transitions: pending -> generating -> {completed, failed}. A worker that
// gives up an attempt below the retry ceiling moves the job back from
// generating to pending; completed and failed are final.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobInput is the decoded shape of a job's input payload. The orchestrator
// assembles it at submission time and the worker's prompt builder reads it;
// nothing mutates it in between.
//
// InputHash is computed over the canonical JSON encoding of this struct
// BEFORE FileURI is set: FileURI carries a storage-generated name, so two
// submissions of identical bytes must hash over FileHash (the sha-256 of
// the upload) rather than the URI, or they would never dedupe.
type JobInput struct {
	Subject         SubjectSnapshot `json:"subject"`
	Answers         map[string]any  `json:"answers,omitempty"`
	FileURI         string          `json:"file_uri,omitempty"`
	FileName        string          `json:"file_name,omitempty"`
	FileType        string          `json:"file_type,omitempty"`
	FileHash        string          `json:"file_hash,omitempty"`
	DocumentContext string          `json:"document_context,omitempty"`
}

// GenerationJob tracks one async AI generation request. The API returns a
// job id on POST /api/v1/jobs; the client polls GET /api/v1/jobs/{jobID}
// until the status is completed or failed.
//
// InputPayload is an immutable snapshot captured at submission time, so
// later mutation of the subject record cannot change an in-flight job's
// inputs. InputHash is the sha-256 of the canonicalized submitted inputs
// (see JobInput) and keys idempotent submission together with Kind and
// SubjectID: at most one non-terminal job may exist per
// (kind, subject_id, input_hash).
//
// On terminal jobs exactly one of ResultContent/ErrorDetail is set.
type GenerationJob struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	Kind          JobKind         `db:"kind"           json:"kind"`
	SubjectID     string          `db:"subject_id"     json:"subject_id"`
	InputPayload  json.RawMessage `db:"input_payload"  json:"input_payload"`
	InputHash     string          `db:"input_hash"     json:"input_hash"`
	Status        JobStatus       `db:"status"         json:"status"`
	ResultContent *string         `db:"result_content" json:"result_content,omitempty"`
	ErrorDetail   *string         `db:"error_detail"   json:"error_detail,omitempty"`
	AttemptCount  int             `db:"attempt_count"  json:"attempt_count"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"     json:"updated_at"`
}
