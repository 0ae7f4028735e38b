package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
	"github.com/tasknode/tasknode-be/shared/email"
	"github.com/tasknode/tasknode-be/shared/fargate"
)

// reconcile brings every PROCESSING job whose worker has stopped to a
// terminal state, exactly once, harvesting results along the way.
//
// Expected conditions (row locked elsewhere, row already terminal, worker
// still running, missing artifacts) are skips. Hard errors abort the whole
// invocation and roll back the cycle transaction; sibling progress from the
// same cycle is discarded and retried next tick.
func (s *Scheduler) reconcile(ctx context.Context, store JobStore) error {
	ids, err := store.ListProcessingIDs(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("Reconciling jobs in progress",
		slog.Int("count", len(ids)),
	)

	for _, id := range ids {
		job, ok, err := store.LockJob(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			// Locked by a concurrent invocation.
			s.logger.Debug("Job row locked elsewhere, skipping",
				slog.String("job_id", id),
			)
			continue
		}
		if job.Status != domain.StatusProcessing {
			// A racing sweep already finalized it.
			continue
		}
		if !job.WorkerReference.Valid || job.WorkerReference.String == "" {
			s.logger.Warn("Processing job has no worker reference",
				slog.String("job_id", id),
			)
			continue
		}

		status, err := s.gateway.Query(ctx, job.WorkerReference.String)
		if err != nil {
			return fmt.Errorf("failed to query worker for job %s: %w", id, err)
		}

		if status.State != fargate.StateStopped {
			s.logger.Debug("Worker not stopped yet",
				slog.String("job_id", id),
				slog.String("state", status.State),
			)
			continue
		}

		runtime := workerRuntime(status)

		// Success iff the container exited zero. A stopped task with no
		// reported exit code counts as a failure.
		if status.ExitCode != nil && *status.ExitCode == 0 {
			err = s.finalizeCompleted(ctx, store, job, runtime)
		} else {
			err = s.finalizeFailed(ctx, store, job, runtime, status.ExitCode)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// finalizeCompleted harvests results, notifies the owner, transitions the
// job to COMPLETED, and purges the input artifact.
func (s *Scheduler) finalizeCompleted(ctx context.Context, store JobStore, job *domain.Job, runtime int64) error {
	generated, err := s.harvestManifest(ctx, store, job)
	if err != nil {
		return err
	}

	var links []email.Link

	if len(generated) > 0 {
		// The archive only gets a record if the worker actually uploaded it.
		archiveKey := domain.ArchiveKey(job.ID)
		info, found, err := s.objects.Head(ctx, s.processedBucket, archiveKey)
		if err != nil {
			return err
		}
		if found {
			file := &domain.JobFile{
				ID:            uuid.New().String(),
				JobID:         job.ID,
				S3Bucket:      s.processedBucket,
				S3Key:         archiveKey,
				FileName:      domain.ArchiveFileName,
				FileSize:      info.Size,
				FileTimestamp: info.LastModified,
				FileType:      domain.FileTypeZippedGenerated,
				CreatedAt:     time.Now().UTC(),
			}
			if err := store.CreateJobFile(ctx, file); err != nil {
				return err
			}

			if info.Size > 0 {
				url, err := s.objects.SignGetURL(s.processedBucket, archiveKey, domain.ResultDownloadExpiry, domain.ArchiveFileName)
				if err != nil {
					return err
				}
				links = append(links, email.Link{Name: domain.ArchiveFileName, URL: url})
			}
		}
	}

	logLinks, err := s.harvestLogs(ctx, store, job)
	if err != nil {
		return err
	}
	links = append(links, logLinks...)

	user, err := store.GetUserByID(ctx, job.UserID)
	if err != nil {
		return err
	}

	files := make([]email.GeneratedFile, len(generated))
	for i, g := range generated {
		files[i] = email.GeneratedFile{Name: g.FileName, Size: g.FileSize}
	}

	if err := s.notifier.JobCompleted(ctx, user.Email, job.ID, files, links); err != nil {
		return fmt.Errorf("failed to send completion notification for job %s: %w", job.ID, err)
	}

	if err := store.MarkTerminal(ctx, job.ID, domain.StatusCompleted, runtime); err != nil {
		return err
	}

	// The input workload is no longer needed; results stay until the
	// retention sweep purges them.
	if err := s.objects.Delete(ctx, job.S3Bucket, job.S3Key); err != nil {
		return err
	}

	return store.SetUploadRemoved(ctx, job.ID)
}

// finalizeFailed registers whatever logs exist, notifies the owner, and
// transitions the job to FAILED.
func (s *Scheduler) finalizeFailed(ctx context.Context, store JobStore, job *domain.Job, runtime int64, exitCode *int64) error {
	if exitCode != nil {
		s.logger.Info("Worker exited nonzero",
			slog.String("job_id", job.ID),
			slog.Int64("exit_code", *exitCode),
		)
	} else {
		s.logger.Warn("Worker stopped without an exit code",
			slog.String("job_id", job.ID),
		)
	}

	links, err := s.harvestLogs(ctx, store, job)
	if err != nil {
		return err
	}

	user, err := store.GetUserByID(ctx, job.UserID)
	if err != nil {
		return err
	}

	if err := s.notifier.JobFailed(ctx, user.Email, job.ID, links); err != nil {
		return fmt.Errorf("failed to send failure notification for job %s: %w", job.ID, err)
	}

	return store.MarkTerminal(ctx, job.ID, domain.StatusFailed, runtime)
}

// harvestLogs registers OUTPUT_LOG and ERROR_LOG records for log objects
// that exist. Zero-byte logs are recorded but get no download link.
func (s *Scheduler) harvestLogs(ctx context.Context, store JobStore, job *domain.Job) ([]email.Link, error) {
	logs := []struct {
		key      string
		name     string
		fileType domain.FileType
	}{
		{domain.OutputLogKey(job.ID), domain.OutputLogFileName, domain.FileTypeOutputLog},
		{domain.ErrorLogKey(job.ID), domain.ErrorLogFileName, domain.FileTypeErrorLog},
	}

	var links []email.Link
	for _, l := range logs {
		info, found, err := s.objects.Head(ctx, s.processedBucket, l.key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		file := &domain.JobFile{
			ID:            uuid.New().String(),
			JobID:         job.ID,
			S3Bucket:      s.processedBucket,
			S3Key:         l.key,
			FileName:      l.name,
			FileSize:      info.Size,
			FileTimestamp: info.LastModified,
			FileType:      l.fileType,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.CreateJobFile(ctx, file); err != nil {
			return nil, err
		}

		if info.Size > 0 {
			url, err := s.objects.SignGetURL(s.processedBucket, l.key, domain.ResultDownloadExpiry, l.name)
			if err != nil {
				return nil, err
			}
			links = append(links, email.Link{Name: l.name, URL: url})
		}
	}

	return links, nil
}

// workerRuntime computes elapsed execution in whole seconds. Missing start
// or stop timestamps yield zero rather than an error.
func workerRuntime(status *fargate.TaskStatus) int64 {
	if status.StartedAt.IsZero() || status.StoppedAt.IsZero() {
		return 0
	}

	seconds := int64(status.StoppedAt.Sub(status.StartedAt).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}
