package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
	"github.com/tasknode/tasknode-be/shared/objectstore"
)

// ownerMetadataKey is the object metadata tag carrying the uploader's
// identity. S3 canonicalizes metadata key casing, so lookups are
// case-insensitive.
const ownerMetadataKey = "owner-id"

// fileDropEvent is the message published when a workload lands in the drop
// bucket.
type fileDropEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// setupConsumer configures QoS and starts consuming file-drop events.
func (s *Scheduler) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := s.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// One unacknowledged event at a time; drops are rare and cheap.
	if err := channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := s.rabbitClient.Consume(s.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("File-drop consumer started",
		slog.String("consumer_tag", s.consumerTag),
	)

	return deliveries, nil
}

// consumeFileDrops turns file-drop events into PENDING jobs.
func (s *Scheduler) consumeFileDrops(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("File-drop consumer stopping - stopChan closed")
			return

		case <-ctx.Done():
			s.logger.Info("File-drop consumer stopping - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var event fileDropEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				s.logger.Error("Failed to parse file-drop event",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages should go to the DLQ, not back here.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					s.logger.Error("Failed to NACK malformed event",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if event.Bucket == "" || event.Key == "" {
				s.logger.Error("File-drop event missing bucket or key",
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					s.logger.Error("Failed to NACK incomplete event",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if err := s.handleFileDrop(ctx, &event); err != nil {
				requeue := s.shouldRequeueDrop(err)
				s.logger.Error("Failed to handle file drop",
					slog.String("bucket", event.Bucket),
					slog.String("key", event.Key),
					slog.Bool("requeue", requeue),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, requeue); nackErr != nil {
					s.logger.Error("Failed to NACK event",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				s.logger.Error("Failed to ACK event",
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}

// handleFileDrop resolves the dropped object's owner from its metadata tag
// and creates a PENDING job for it.
func (s *Scheduler) handleFileDrop(ctx context.Context, event *fileDropEvent) error {
	info, found, err := s.objects.Head(ctx, event.Bucket, event.Key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("dropped object %s/%s no longer exists: %w", event.Bucket, event.Key, domain.ErrJobNotFound)
	}

	owner := ownerTag(info)
	if owner == "" {
		return fmt.Errorf("%w: %s/%s", domain.ErrMissingOwnerTag, event.Bucket, event.Key)
	}

	user, err := s.store.GetUserByExternalID(ctx, owner)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		S3Bucket:  event.Bucket,
		S3Key:     event.Key,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return s.store.CreateJob(ctx, job)
}

// shouldRequeueDrop decides whether a failed event goes back on the queue.
// Identity problems are permanent; everything else is assumed transient.
func (s *Scheduler) shouldRequeueDrop(err error) bool {
	if errors.Is(err, domain.ErrMissingOwnerTag) {
		return false
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		return false
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		return false
	}
	return true
}

func ownerTag(info *objectstore.ObjectInfo) string {
	for k, v := range info.Metadata {
		if strings.EqualFold(k, ownerMetadataKey) {
			return v
		}
	}
	return ""
}
