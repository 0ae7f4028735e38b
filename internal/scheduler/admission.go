package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
	"github.com/tasknode/tasknode-be/shared/fargate"
)

// admitNext launches at most one new job per invocation, honoring the global
// cap on concurrently processing jobs. It must run after the reconciliation
// sweep in the same transaction so freed capacity is visible.
func (s *Scheduler) admitNext(ctx context.Context, store JobStore) error {
	inProgress, err := store.CountProcessing(ctx)
	if err != nil {
		return err
	}

	if inProgress >= domain.MaxInProgress {
		s.logger.Info("Max in progress jobs reached",
			slog.Int("in_progress", inProgress),
			slog.Int("cap", domain.MaxInProgress),
		)
		return nil
	}

	job, ok, err := store.NextPending(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("No pending jobs found")
		return nil
	}

	s.logger.Info("Admitting job",
		slog.String("job_id", job.ID),
		slog.Time("created_at", job.CreatedAt),
	)

	input, err := s.launchInput(job)
	if err != nil {
		return fmt.Errorf("failed to prepare launch for job %s: %w", job.ID, err)
	}

	handle, err := s.gateway.Launch(ctx, input)
	if err != nil || handle == "" {
		if err != nil {
			s.logger.Error("Worker launch failed",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		} else {
			s.logger.Error("Worker launch rejected - no task handle returned",
				slog.String("job_id", job.ID),
			)
		}
		// Infrastructure failure, not job failure, but surfaced identically:
		// the job goes straight to FAILED and an operator must resubmit.
		return store.MarkFailedLaunch(ctx, job.ID)
	}

	return store.MarkProcessing(ctx, job.ID, handle)
}

// launchInput signs the input download URL and one upload URL per expected
// output artifact. Every URL must be non-empty or the attempt fails before
// anything is launched.
func (s *Scheduler) launchInput(job *domain.Job) (*fargate.LaunchInput, error) {
	inputURL, err := s.objects.SignGetURL(job.S3Bucket, job.S3Key, domain.InputDownloadExpiry, "")
	if err != nil {
		return nil, err
	}
	if inputURL == "" {
		return nil, fmt.Errorf("empty signed download URL for %s/%s", job.S3Bucket, job.S3Key)
	}

	targets := []struct {
		env         string
		key         string
		contentType string
	}{
		{fargate.EnvZipUploadURL, domain.ArchiveKey(job.ID), "application/zip"},
		{fargate.EnvManifestUploadURL, domain.ManifestKey(job.ID), "text/plain"},
		{fargate.EnvOutputLogUploadURL, domain.OutputLogKey(job.ID), "text/plain"},
		{fargate.EnvErrorLogUploadURL, domain.ErrorLogKey(job.ID), "text/plain"},
		{fargate.EnvOutputTailURL, domain.OutputTailKey(job.ID), "text/plain"},
		{fargate.EnvErrorTailURL, domain.ErrorTailKey(job.ID), "text/plain"},
	}

	outputs := make(map[string]string, len(targets))
	for _, t := range targets {
		url, err := s.objects.SignPutURL(s.processedBucket, t.key, t.contentType, domain.ResultUploadExpiry, nil)
		if err != nil {
			return nil, err
		}
		if url == "" {
			return nil, fmt.Errorf("empty signed upload URL for %s", t.key)
		}
		outputs[t.env] = url
	}

	return &fargate.LaunchInput{
		InputURL:   inputURL,
		OutputURLs: outputs,
	}, nil
}
