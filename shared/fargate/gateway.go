package fargate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecs"
)

// Environment variable names the processor container reads its presigned
// URLs from.
const (
	EnvDownloadURL        = "DOWNLOAD_URL"
	EnvZipUploadURL       = "ZIP_UPLOAD_URL"
	EnvManifestUploadURL  = "MANIFEST_UPLOAD_URL"
	EnvOutputLogUploadURL = "OUTPUT_LOG_UPLOAD_URL"
	EnvErrorLogUploadURL  = "ERROR_LOG_UPLOAD_URL"
	EnvOutputTailURL      = "OUTPUT_TAIL_UPLOAD_URL"
	EnvErrorTailURL       = "ERROR_TAIL_UPLOAD_URL"
)

// Task lifecycle states as reported by Query.
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateUnknown = "unknown"
)

// Config holds ECS launch configuration
type Config struct {
	Region         string
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
}

// LaunchInput carries the presigned URLs injected into the worker container.
type LaunchInput struct {
	InputURL   string
	OutputURLs map[string]string // env var name -> presigned PUT URL
}

// TaskStatus is the result of querying a launched task.
type TaskStatus struct {
	State     string
	ExitCode  *int64
	StartedAt time.Time
	StoppedAt time.Time
}

// Gateway launches single-use Fargate tasks and queries their status.
type Gateway struct {
	ecs    *ecs.ECS
	config *Config
	logger *slog.Logger
}

// NewGateway creates a new Fargate gateway.
func NewGateway(config *Config, logger *slog.Logger) (*Gateway, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logger.Info("Fargate gateway initialized",
		slog.String("cluster", config.Cluster),
		slog.String("task_definition", config.TaskDefinition),
	)

	return &Gateway{
		ecs:    ecs.New(sess),
		config: config,
		logger: logger,
	}, nil
}

// Launch starts one task on the configured task definition with the URLs
// injected as container environment overrides. It returns the task ARN, or
// an empty string when ECS accepted the call but placed no task (an expected
// rejection, reported via the failures list rather than an API error).
func (g *Gateway) Launch(ctx context.Context, input *LaunchInput) (string, error) {
	env := []*ecs.KeyValuePair{
		{Name: aws.String(EnvDownloadURL), Value: aws.String(input.InputURL)},
		{Name: aws.String("AWS_DEFAULT_REGION"), Value: aws.String(g.config.Region)},
	}
	for name, url := range input.OutputURLs {
		env = append(env, &ecs.KeyValuePair{Name: aws.String(name), Value: aws.String(url)})
	}

	resp, err := g.ecs.RunTaskWithContext(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(g.config.Cluster),
		TaskDefinition: aws.String(g.config.TaskDefinition),
		LaunchType:     aws.String(ecs.LaunchTypeFargate),
		NetworkConfiguration: &ecs.NetworkConfiguration{
			AwsvpcConfiguration: &ecs.AwsVpcConfiguration{
				Subnets:        aws.StringSlice(g.config.Subnets),
				SecurityGroups: aws.StringSlice(g.config.SecurityGroups),
				AssignPublicIp: aws.String(ecs.AssignPublicIpEnabled),
			},
		},
		Overrides: &ecs.TaskOverride{
			ContainerOverrides: []*ecs.ContainerOverride{
				{
					Name:        aws.String(g.config.ContainerName),
					Environment: env,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to run task: %w", err)
	}

	if len(resp.Tasks) == 0 {
		for _, failure := range resp.Failures {
			g.logger.Error("Task launch failure",
				slog.String("reason", aws.StringValue(failure.Reason)),
				slog.String("detail", aws.StringValue(failure.Detail)),
			)
		}
		return "", nil
	}

	arn := aws.StringValue(resp.Tasks[0].TaskArn)
	g.logger.Info("Task launched",
		slog.String("task_arn", arn),
	)

	return arn, nil
}

// Query returns the lifecycle state, exit code, and start/stop times of a
// task by its ARN. A task ECS no longer knows about reports StateUnknown.
func (g *Gateway) Query(ctx context.Context, taskARN string) (*TaskStatus, error) {
	resp, err := g.ecs.DescribeTasksWithContext(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(g.config.Cluster),
		Tasks:   []*string{aws.String(taskARN)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe task %s: %w", taskARN, err)
	}

	if len(resp.Tasks) == 0 {
		return &TaskStatus{State: StateUnknown}, nil
	}

	task := resp.Tasks[0]
	status := &TaskStatus{
		State:     StateRunning,
		StartedAt: aws.TimeValue(task.StartedAt),
		StoppedAt: aws.TimeValue(task.StoppedAt),
	}

	if aws.StringValue(task.LastStatus) == "STOPPED" {
		status.State = StateStopped
		if len(task.Containers) > 0 && task.Containers[0].ExitCode != nil {
			status.ExitCode = task.Containers[0].ExitCode
		}
	}

	return status, nil
}
