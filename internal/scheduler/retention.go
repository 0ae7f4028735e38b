package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// retentionLoop periodically purges expired artifacts. This runs outside the
// cycle transaction; it only deletes objects and flips cleanup flags, both
// of which are safe to repeat.
func (s *Scheduler) retentionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("Retention loop stopping - stopChan closed")
			return

		case <-ctx.Done():
			s.logger.Info("Retention loop stopping - context canceled")
			return

		case <-ticker.C:
			if err := s.runRetention(ctx); err != nil {
				s.logger.Error("Retention sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// runRetention deletes result objects past the processed-bucket retention
// and input objects past the drop-bucket retention, recording the cleanup on
// the owning job rows.
func (s *Scheduler) runRetention(ctx context.Context) error {
	now := time.Now()

	processed, err := s.objects.List(ctx, s.processedBucket, "")
	if err != nil {
		return err
	}
	for _, object := range processed {
		if now.Sub(object.LastModified) <= s.processedRetention {
			continue
		}
		if err := s.objects.Delete(ctx, s.processedBucket, object.Key); err != nil {
			return err
		}
		s.logger.Info("Expired result object deleted",
			slog.String("key", object.Key),
		)
		if jobID, ok := jobIDFromResultKey(object.Key); ok {
			if err := s.store.SetResponseRemoved(ctx, jobID); err != nil {
				return err
			}
		}
	}

	dropped, err := s.objects.List(ctx, s.dropBucket, "")
	if err != nil {
		return err
	}
	for _, object := range dropped {
		if now.Sub(object.LastModified) <= s.dropRetention {
			continue
		}
		if err := s.objects.Delete(ctx, s.dropBucket, object.Key); err != nil {
			return err
		}
		s.logger.Info("Expired input object deleted",
			slog.String("key", object.Key),
		)
		if err := s.store.SetUploadRemovedByObject(ctx, s.dropBucket, object.Key); err != nil {
			return err
		}
	}

	return nil
}

// jobIDFromResultKey extracts the owning job id from a "{job_id}/..." result
// key. Keys that do not start with a job id are left alone.
func jobIDFromResultKey(key string) (string, bool) {
	prefix, _, found := strings.Cut(key, "/")
	if !found {
		return "", false
	}
	if _, err := uuid.Parse(prefix); err != nil {
		return "", false
	}
	return prefix, true
}
