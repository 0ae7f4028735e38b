package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
	"github.com/tasknode/tasknode-be/internal/scheduler/storage"
	"github.com/tasknode/tasknode-be/shared/email"
	"github.com/tasknode/tasknode-be/shared/fargate"
	"github.com/tasknode/tasknode-be/shared/objectstore"
	"github.com/tasknode/tasknode-be/shared/postgresql"
	"github.com/tasknode/tasknode-be/shared/rabbitmq"
)

// JobStore is the durable job table as the scheduler sees it: counting and
// snapshotting PROCESSING rows, skip-locked row acquisition, and atomic
// status transitions. Implemented by storage.Storage bound to either the
// pool or the per-cycle transaction.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	CountProcessing(ctx context.Context) (int, error)
	ListProcessingIDs(ctx context.Context) ([]string, error)
	LockJob(ctx context.Context, jobID string) (*domain.Job, bool, error)
	NextPending(ctx context.Context) (*domain.Job, bool, error)
	MarkProcessing(ctx context.Context, jobID, workerReference string) error
	MarkFailedLaunch(ctx context.Context, jobID string) error
	MarkTerminal(ctx context.Context, jobID string, status domain.Status, runtime int64) error
	SetUploadRemoved(ctx context.Context, jobID string) error
	SetUploadRemovedByObject(ctx context.Context, bucket, key string) error
	SetResponseRemoved(ctx context.Context, jobID string) error
	CreateJobFile(ctx context.Context, file *domain.JobFile) error
	GetUserByID(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error)
}

// ObjectStore is the object storage collaborator. Missing objects are a
// normal outcome and are reported through the found bool, never as an error.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (*objectstore.ObjectInfo, bool, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]*objectstore.ObjectInfo, error)
	SignGetURL(bucket, key string, expire time.Duration, filename string) (string, error)
	SignPutURL(bucket, key, contentType string, expire time.Duration, metadata map[string]string) (string, error)
}

// LaunchGateway starts single-use workers and reports their lifecycle.
// Launch returns an empty handle for an expected rejection.
type LaunchGateway interface {
	Launch(ctx context.Context, input *fargate.LaunchInput) (string, error)
	Query(ctx context.Context, workerReference string) (*fargate.TaskStatus, error)
}

// Notifier delivers terminal-state notifications to job owners.
type Notifier interface {
	JobCompleted(ctx context.Context, to, jobID string, files []email.GeneratedFile, links []email.Link) error
	JobFailed(ctx context.Context, to, jobID string, links []email.Link) error
}

// Config holds scheduler configuration
type Config struct {
	Logger             *slog.Logger
	DBClient           *postgresql.Client
	RabbitClient       *rabbitmq.Client
	Objects            ObjectStore
	Gateway            LaunchGateway
	Notifier           Notifier
	DropBucket         string
	ProcessedBucket    string
	SweepInterval      time.Duration
	RetentionInterval  time.Duration
	ProcessedRetention time.Duration
	DropRetention      time.Duration
	ConsumerTag        string
}

// Scheduler owns the job lifecycle: it consumes file-drop events into
// PENDING jobs, runs the periodic sweep+admission cycle, and purges expired
// artifacts. Overlapping invocations synchronize purely through the store's
// row locks; there is no in-memory lock and no leader election.
type Scheduler struct {
	logger             *slog.Logger
	dbClient           *postgresql.Client
	rabbitClient       *rabbitmq.Client
	objects            ObjectStore
	gateway            LaunchGateway
	notifier           Notifier
	store              JobStore
	dropBucket         string
	processedBucket    string
	sweepInterval      time.Duration
	retentionInterval  time.Duration
	processedRetention time.Duration
	dropRetention      time.Duration
	consumerTag        string
	wg                 sync.WaitGroup
	stopChan           chan struct{}
}

// New creates a new Scheduler instance.
func New(cfg *Config) *Scheduler {
	return &Scheduler{
		logger:             cfg.Logger,
		dbClient:           cfg.DBClient,
		rabbitClient:       cfg.RabbitClient,
		objects:            cfg.Objects,
		gateway:            cfg.Gateway,
		notifier:           cfg.Notifier,
		store:              storage.New(cfg.DBClient.GetDB(), cfg.Logger),
		dropBucket:         cfg.DropBucket,
		processedBucket:    cfg.ProcessedBucket,
		sweepInterval:      cfg.SweepInterval,
		retentionInterval:  cfg.RetentionInterval,
		processedRetention: cfg.ProcessedRetention,
		dropRetention:      cfg.DropRetention,
		consumerTag:        cfg.ConsumerTag,
		stopChan:           make(chan struct{}),
	}
}

// Start launches the file-drop consumer, the cycle loop, and the retention
// loop, then blocks until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		slog.Duration("sweep_interval", s.sweepInterval),
		slog.Duration("retention_interval", s.retentionInterval),
	)

	deliveries, err := s.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up file-drop consumer: %w", err)
	}

	s.wg.Add(1)
	go s.consumeFileDrops(ctx, deliveries)

	s.wg.Add(1)
	go s.cycleLoop(ctx)

	s.wg.Add(1)
	go s.retentionLoop(ctx)

	<-ctx.Done()
	s.logger.Info("Scheduler context canceled, stopping...")

	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// cycleLoop runs one sweep+admission cycle per tick. Each tick is a
// short-lived run-to-completion invocation; overlapping invocations (other
// replicas, retries) are the concurrency case the row locks defend against.
func (s *Scheduler) cycleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// Run once at startup rather than waiting a full interval.
	if err := s.RunCycle(ctx); err != nil {
		s.logger.Error("Scheduler cycle failed",
			slog.Any("error", err),
		)
	}

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("Cycle loop stopping - stopChan closed")
			return

		case <-ctx.Done():
			s.logger.Info("Cycle loop stopping - context canceled")
			return

		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logger.Error("Scheduler cycle failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// RunCycle executes one invocation: reconciliation sweep first (freeing
// capacity from finished workers), then a single admission attempt. The
// whole cycle runs in one serializable transaction; any error rolls back
// every state change and the next tick retries from scratch. Both phases are
// idempotent under retry, so wholesale rollback is safe.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	tx, err := s.dbClient.BeginSerializableTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("Failed to roll back cycle transaction",
					slog.Any("error", rbErr),
				)
			}
		}
	}()

	store := storage.New(tx, s.logger)

	if err = s.reconcile(ctx, store); err != nil {
		return fmt.Errorf("reconciliation sweep failed: %w", err)
	}

	if err = s.admitNext(ctx, store); err != nil {
		return fmt.Errorf("admission failed: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cycle: %w", err)
	}

	return nil
}
