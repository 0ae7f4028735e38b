package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseConfig returns a configuration that passes both service validations.
func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "tasknode_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "file_drops_exchange",
			},
			Queue: QueueConfig{
				Name: "file_drops_queue",
			},
		},
		AWS: AWSConfig{
			Region:          "us-east-1",
			DropBucket:      "tasknode-file-drops",
			ProcessedBucket: "tasknode-processed",
			EmailSender:     "no-reply@tasknode.io",
			ECS: ECSConfig{
				Cluster:        "tasknode-workers",
				TaskDefinition: "tasknode-worker",
				ContainerName:  "worker",
			},
		},
		Scheduler: SchedulerConfig{
			SweepInterval:      time.Minute,
			RetentionInterval:  time.Hour,
			ProcessedRetention: 72 * time.Hour,
			DropRetention:      24 * time.Hour,
			ShutdownTimeout:    30 * time.Second,
		},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "tasknode_db", cfg.Database.Database)
				assert.Equal(t, "file_drops_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "file_drops_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "tasknode-file-drops", cfg.AWS.DropBucket)
				assert.Equal(t, "tasknode-processed", cfg.AWS.ProcessedBucket)
				assert.Equal(t, 72*time.Hour, cfg.Scheduler.ProcessedRetention)
				assert.Equal(t, "tasknode-api-service", cfg.App.Name)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "empty aws region",
			mutate:    func(c *Config) { c.AWS.Region = "" },
			wantErr:   true,
			errString: "aws region is required",
		},
		{
			name:      "empty drop bucket",
			mutate:    func(c *Config) { c.AWS.DropBucket = "" },
			wantErr:   true,
			errString: "drop bucket is required",
		},
		{
			name:      "empty processed bucket",
			mutate:    func(c *Config) { c.AWS.ProcessedBucket = "" },
			wantErr:   true,
			errString: "processed bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateSchedulerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "server port not required",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: false,
		},
		{
			name:      "zero sweep interval",
			mutate:    func(c *Config) { c.Scheduler.SweepInterval = 0 },
			wantErr:   true,
			errString: "sweep_interval must be greater than 0",
		},
		{
			name:      "zero retention interval",
			mutate:    func(c *Config) { c.Scheduler.RetentionInterval = 0 },
			wantErr:   true,
			errString: "retention_interval must be greater than 0",
		},
		{
			name:      "zero processed retention",
			mutate:    func(c *Config) { c.Scheduler.ProcessedRetention = 0 },
			wantErr:   true,
			errString: "retention durations must be greater than 0",
		},
		{
			name:      "zero drop retention",
			mutate:    func(c *Config) { c.Scheduler.DropRetention = 0 },
			wantErr:   true,
			errString: "retention durations must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Scheduler.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "shutdown_timeout must be greater than 0",
		},
		{
			name:      "empty ecs cluster",
			mutate:    func(c *Config) { c.AWS.ECS.Cluster = "" },
			wantErr:   true,
			errString: "ecs cluster is required",
		},
		{
			name:      "empty task definition",
			mutate:    func(c *Config) { c.AWS.ECS.TaskDefinition = "" },
			wantErr:   true,
			errString: "ecs task_definition is required",
		},
		{
			name:      "empty container name",
			mutate:    func(c *Config) { c.AWS.ECS.ContainerName = "" },
			wantErr:   true,
			errString: "ecs container_name is required",
		},
		{
			name:      "empty email sender",
			mutate:    func(c *Config) { c.AWS.EmailSender = "" },
			wantErr:   true,
			errString: "email sender address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateSchedulerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateSchedulerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
