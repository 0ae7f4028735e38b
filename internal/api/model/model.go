package model

import (
	"database/sql"
	"time"
)

// Job is a read model over the jobs table.
type Job struct {
	ID              string         `db:"id"`
	UserID          int64          `db:"user_id"`
	S3Bucket        string         `db:"s3_bucket"`
	S3Key           string         `db:"s3_key"`
	WorkerReference sql.NullString `db:"worker_reference"`
	Status          string         `db:"status"`
	UploadRemoved   bool           `db:"upload_removed"`
	ResponseRemoved bool           `db:"response_removed"`
	Runtime         sql.NullInt64  `db:"runtime"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// JobFile is a read model over the job_files table.
type JobFile struct {
	ID            string    `db:"id"`
	JobID         string    `db:"job_id"`
	S3Bucket      string    `db:"s3_bucket"`
	S3Key         string    `db:"s3_key"`
	FileName      string    `db:"file_name"`
	FileSize      int64     `db:"file_size"`
	FileTimestamp time.Time `db:"file_timestamp"`
	FileType      string    `db:"file_type"`
	CreatedAt     time.Time `db:"created_at"`
}

// User is a read model over the users table.
type User struct {
	ID         int64     `db:"id"`
	ExternalID string    `db:"external_id"`
	Email      string    `db:"email"`
	CreatedAt  time.Time `db:"created_at"`
}
