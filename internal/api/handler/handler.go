package handler

import (
	"log/slog"

	"github.com/tasknode/tasknode-be/internal/api/storage"
	"github.com/tasknode/tasknode-be/shared/objectstore"
	"github.com/tasknode/tasknode-be/shared/postgresql"
	"github.com/tasknode/tasknode-be/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Objects      *objectstore.Client
	DropBucket   string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	storage      *storage.Storage
	rabbitClient *rabbitmq.Client
	objects      *objectstore.Client
	dropBucket   string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		storage:      storage.NewStorage(deps.DBClient),
		rabbitClient: deps.RabbitClient,
		objects:      deps.Objects,
		dropBucket:   deps.DropBucket,
	}
}
