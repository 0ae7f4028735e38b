package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
)

// Storage handles all database operations for the scheduler. It is bound to
// an sqlx.ExtContext so the same methods run against the pool for standalone
// operations and against a transaction for the sweep/admission cycle.
type Storage struct {
	q      sqlx.ExtContext
	logger *slog.Logger
}

// New creates a Storage bound to the given queryer (a *sqlx.DB or *sqlx.Tx).
func New(q sqlx.ExtContext, logger *slog.Logger) *Storage {
	return &Storage{
		q:      q,
		logger: logger,
	}
}

// CreateJob inserts a new PENDING job.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, user_id, s3_bucket, s3_key, status,
			upload_removed, response_removed, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			FALSE, FALSE, $6, $7
		)
	`

	_, err := s.q.ExecContext(
		ctx,
		query,
		job.ID,
		job.UserID,
		job.S3Bucket,
		job.S3Key,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.Int64("user_id", job.UserID),
		slog.String("s3_key", job.S3Key),
	)

	return nil
}

// CountProcessing returns the number of jobs currently in PROCESSING.
func (s *Storage) CountProcessing(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM jobs WHERE status = $1`

	if err := sqlx.GetContext(ctx, s.q, &count, query, domain.StatusProcessing); err != nil {
		return 0, fmt.Errorf("failed to count processing jobs: %w", err)
	}

	return count, nil
}

// ListProcessingIDs returns a snapshot of the ids of all PROCESSING jobs.
// Each row is re-fetched and locked individually before any mutation.
func (s *Storage) ListProcessingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	query := `SELECT id FROM jobs WHERE status = $1 ORDER BY created_at ASC`

	if err := sqlx.SelectContext(ctx, s.q, &ids, query, domain.StatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	return ids, nil
}

// LockJob re-fetches one job under a row lock, skipping the row when a
// concurrent invocation already holds it. Returns found=false for a skipped
// or missing row; the caller treats both as "someone else's problem".
func (s *Storage) LockJob(ctx context.Context, jobID string) (*domain.Job, bool, error) {
	query := `
		SELECT id, user_id, s3_bucket, s3_key, worker_reference, status,
		       upload_removed, response_removed, runtime, created_at, updated_at
		FROM jobs
		WHERE id = $1
		FOR UPDATE SKIP LOCKED
	`

	var job domain.Job
	err := sqlx.GetContext(ctx, s.q, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to lock job %s: %w", jobID, err)
	}

	return &job, true, nil
}

// NextPending selects and locks the single oldest PENDING job, skipping rows
// locked by concurrent invocations so two admissions never pick the same job.
func (s *Storage) NextPending(ctx context.Context) (*domain.Job, bool, error) {
	query := `
		SELECT id, user_id, s3_bucket, s3_key, worker_reference, status,
		       upload_removed, response_removed, runtime, created_at, updated_at
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var job domain.Job
	err := sqlx.GetContext(ctx, s.q, &job, query, domain.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to select next pending job: %w", err)
	}

	return &job, true, nil
}

// MarkProcessing transitions a PENDING job to PROCESSING and records the
// worker reference in the same statement.
func (s *Storage) MarkProcessing(ctx context.Context, jobID, workerReference string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_reference = $2,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := s.q.ExecContext(ctx, query, domain.StatusProcessing, workerReference, jobID, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job %s processing: %w", jobID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %s left PENDING before launch was recorded: %w", jobID, domain.ErrJobNotFound)
	}

	s.logger.Info("Job admitted",
		slog.String("job_id", jobID),
		slog.String("worker_reference", workerReference),
	)

	return nil
}

// MarkFailedLaunch transitions a PENDING job directly to FAILED after the
// launch gateway rejected it. No worker reference and no runtime are set.
func (s *Storage) MarkFailedLaunch(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	if _, err := s.q.ExecContext(ctx, query, domain.StatusFailed, jobID, domain.StatusPending); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}

	s.logger.Warn("Job failed at launch",
		slog.String("job_id", jobID),
	)

	return nil
}

// MarkTerminal transitions a PROCESSING job to COMPLETED or FAILED and
// records the worker runtime in seconds.
func (s *Storage) MarkTerminal(ctx context.Context, jobID string, status domain.Status, runtime int64) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    runtime = $2,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := s.q.ExecContext(ctx, query, status, runtime, jobID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", jobID, status, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		s.logger.Warn("Terminal transition skipped - job no longer PROCESSING",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return nil
	}

	s.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.Int64("runtime_seconds", runtime),
	)

	return nil
}

// SetUploadRemoved flips the input-artifact cleanup flag.
func (s *Storage) SetUploadRemoved(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET upload_removed = TRUE, updated_at = NOW() WHERE id = $1`

	if _, err := s.q.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to set upload_removed for job %s: %w", jobID, err)
	}

	return nil
}

// SetUploadRemovedByObject flips the cleanup flag for whichever job owns the
// given input object. Used by the retention sweep, which walks the bucket.
func (s *Storage) SetUploadRemovedByObject(ctx context.Context, bucket, key string) error {
	query := `UPDATE jobs SET upload_removed = TRUE, updated_at = NOW() WHERE s3_bucket = $1 AND s3_key = $2`

	if _, err := s.q.ExecContext(ctx, query, bucket, key); err != nil {
		return fmt.Errorf("failed to set upload_removed for %s/%s: %w", bucket, key, err)
	}

	return nil
}

// SetResponseRemoved flips the result-artifact cleanup flag.
func (s *Storage) SetResponseRemoved(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET response_removed = TRUE, updated_at = NOW() WHERE id = $1`

	if _, err := s.q.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to set response_removed for job %s: %w", jobID, err)
	}

	return nil
}

// CreateJobFile inserts one harvested artifact record.
func (s *Storage) CreateJobFile(ctx context.Context, file *domain.JobFile) error {
	query := `
		INSERT INTO job_files (
			id, job_id, s3_bucket, s3_key, file_name,
			file_size, file_timestamp, file_type, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.q.ExecContext(
		ctx,
		query,
		file.ID,
		file.JobID,
		file.S3Bucket,
		file.S3Key,
		file.FileName,
		file.FileSize,
		file.FileTimestamp,
		file.FileType,
		file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job file: %w", err)
	}

	return nil
}

// GetUserByID resolves a job owner.
func (s *Storage) GetUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, external_id, email, created_at FROM users WHERE id = $1`

	err := sqlx.GetContext(ctx, s.q, &user, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}

	return &user, nil
}

// GetUserByExternalID resolves the owner identity tag carried on a dropped
// object to a user row.
func (s *Storage) GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, external_id, email, created_at FROM users WHERE external_id = $1`

	err := sqlx.GetContext(ctx, s.q, &user, query, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by external id: %w", err)
	}

	return &user, nil
}
