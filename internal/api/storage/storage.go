package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tasknode/tasknode-be/internal/api/domain"
	"github.com/tasknode/tasknode-be/internal/api/model"
	"github.com/tasknode/tasknode-be/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// GetUserByExternalID resolves the authenticated caller to a user row.
func (s *Storage) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var user model.User
	query := `SELECT id, external_id, email, created_at FROM users WHERE external_id = $1`

	err := s.db.GetContext(ctx, &user, query, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// ListJobsByUser returns the owner's jobs, newest first.
func (s *Storage) ListJobsByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Job, error) {
	query := `
		SELECT id, user_id, s3_bucket, s3_key, worker_reference, status,
		       upload_removed, response_removed, runtime, created_at, updated_at
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var jobs []model.Job
	if err := s.db.SelectContext(ctx, &jobs, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// CountJobsByUser returns the owner's total job count.
func (s *Storage) CountJobsByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM jobs WHERE user_id = $1`

	if err := s.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

// GetJobByID fetches one of the owner's jobs by id.
func (s *Storage) GetJobByID(ctx context.Context, jobID string, userID int64) (*model.Job, error) {
	query := `
		SELECT id, user_id, s3_bucket, s3_key, worker_reference, status,
		       upload_removed, response_removed, runtime, created_at, updated_at
		FROM jobs
		WHERE id = $1 AND user_id = $2
	`

	var job model.Job
	err := s.db.GetContext(ctx, &job, query, jobID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetJobByIndex fetches the owner's n-th job, 1-based, newest first (index 1
// is the most recently created job).
func (s *Storage) GetJobByIndex(ctx context.Context, userID int64, index int) (*model.Job, error) {
	query := `
		SELECT id, user_id, s3_bucket, s3_key, worker_reference, status,
		       upload_removed, response_removed, runtime, created_at, updated_at
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1 OFFSET $2
	`

	var job model.Job
	err := s.db.GetContext(ctx, &job, query, userID, index-1)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by index: %w", err)
	}

	return &job, nil
}

// ListJobFiles returns the harvested artifacts for a job.
func (s *Storage) ListJobFiles(ctx context.Context, jobID string) ([]model.JobFile, error) {
	query := `
		SELECT id, job_id, s3_bucket, s3_key, file_name,
		       file_size, file_timestamp, file_type, created_at
		FROM job_files
		WHERE job_id = $1
		ORDER BY created_at ASC, file_name ASC
	`

	var files []model.JobFile
	if err := s.db.SelectContext(ctx, &files, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list job files: %w", err)
	}

	return files, nil
}
