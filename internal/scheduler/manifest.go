package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
)

type manifestEntry struct {
	Name      string
	Size      int64
	Timestamp time.Time
}

// harvestManifest reads the job's manifest object and creates one GENERATED
// record per line. A missing manifest means the worker generated no files
// and is not an error.
func (s *Scheduler) harvestManifest(ctx context.Context, store JobStore, job *domain.Job) ([]domain.JobFile, error) {
	key := domain.ManifestKey(job.ID)

	_, found, err := s.objects.Head(ctx, s.processedBucket, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	body, err := s.objects.Get(ctx, s.processedBucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	entries, err := parseManifest(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest for job %s: %w", job.ID, err)
	}

	files := make([]domain.JobFile, 0, len(entries))
	for _, entry := range entries {
		file := domain.JobFile{
			ID:            uuid.New().String(),
			JobID:         job.ID,
			S3Bucket:      s.processedBucket,
			S3Key:         key,
			FileName:      entry.Name,
			FileSize:      entry.Size,
			FileTimestamp: entry.Timestamp,
			FileType:      domain.FileTypeGenerated,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.CreateJobFile(ctx, &file); err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, nil
}

// parseManifest parses "name,size,unix_timestamp" lines. Empty lines are
// skipped; anything else malformed is a hard error.
func parseManifest(r io.Reader) ([]manifestEntry, error) {
	var entries []manifestEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q", domain.ErrMalformedManifest, line)
		}

		size, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid size in %q", domain.ErrMalformedManifest, line)
		}

		unixTimestamp, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp in %q", domain.ErrMalformedManifest, line)
		}

		entries = append(entries, manifestEntry{
			Name:      parts[0],
			Size:      size,
			Timestamp: time.Unix(unixTimestamp, 0).UTC(),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return entries, nil
}
