package domain

import (
	"database/sql"
	"time"
)

// Status is the job lifecycle state. PENDING jobs wait for admission,
// PROCESSING jobs have a running worker, COMPLETED and FAILED are terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// FileType classifies a harvested artifact.
type FileType string

const (
	// FileTypeOutputLog is the worker's stdout log object.
	FileTypeOutputLog FileType = "OUTPUT_LOG"
	// FileTypeErrorLog is the worker's stderr log object.
	FileTypeErrorLog FileType = "ERROR_LOG"
	// FileTypeGenerated is a file listed in the worker's manifest.
	FileTypeGenerated FileType = "GENERATED"
	// FileTypeZippedGenerated is the archive bundling all generated files.
	FileTypeZippedGenerated FileType = "ZIPPED_GENERATED"
)

// MaxInProgress caps the number of jobs simultaneously in PROCESSING.
// Admission above the cap simply waits for a slot to free up.
const MaxInProgress = 2

// Job is one user-submitted unit of work.
type Job struct {
	ID              string         `db:"id"`
	UserID          int64          `db:"user_id"`
	S3Bucket        string         `db:"s3_bucket"`
	S3Key           string         `db:"s3_key"`
	WorkerReference sql.NullString `db:"worker_reference"`
	Status          Status         `db:"status"`
	UploadRemoved   bool           `db:"upload_removed"`
	ResponseRemoved bool           `db:"response_removed"`
	Runtime         sql.NullInt64  `db:"runtime"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// JobFile is a result or log artifact belonging to a job. Rows are created
// once by the reconciliation sweep and never updated.
type JobFile struct {
	ID            string    `db:"id"`
	JobID         string    `db:"job_id"`
	S3Bucket      string    `db:"s3_bucket"`
	S3Key         string    `db:"s3_key"`
	FileName      string    `db:"file_name"`
	FileSize      int64     `db:"file_size"`
	FileTimestamp time.Time `db:"file_timestamp"`
	FileType      FileType  `db:"file_type"`
	CreatedAt     time.Time `db:"created_at"`
}

// User is the owner of a job; notifications go to its email address.
type User struct {
	ID         int64     `db:"id"`
	ExternalID string    `db:"external_id"`
	Email      string    `db:"email"`
	CreatedAt  time.Time `db:"created_at"`
}
