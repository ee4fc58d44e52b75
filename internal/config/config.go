package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/haiha210/screenshot-service-be/internal/models"
)

// Config holds everything the worker reads from the environment. Loaded once
// in main and passed down by value.
type Config struct {
	AWSRegion string
	QueueURL  string
	Bucket    string
	Table     string

	BatchSize         int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration

	DefaultWidth  int
	DefaultHeight int
	RenderTimeout time.Duration

	LogLevel        string
	HealthPort      int
	MetricsPort     int
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults for
// everything except the four required AWS settings.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SQS_BATCH_SIZE", 5)
	v.SetDefault("SQS_VISIBILITY_TIMEOUT", 300)
	v.SetDefault("SQS_WAIT_TIME_SECONDS", 20)
	v.SetDefault("SCREENSHOT_WIDTH", 1920)
	v.SetDefault("SCREENSHOT_HEIGHT", 1080)
	v.SetDefault("SCREENSHOT_TIMEOUT", 30000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HEALTH_PORT", 8080)
	v.SetDefault("METRICS_PORT", 9090)
	v.SetDefault("SHUTDOWN_TIMEOUT", 30)

	cfg := Config{
		AWSRegion:         v.GetString("AWS_REGION"),
		QueueURL:          v.GetString("SQS_QUEUE_URL"),
		Bucket:            v.GetString("S3_BUCKET_NAME"),
		Table:             v.GetString("DYNAMODB_TABLE_NAME"),
		BatchSize:         v.GetInt("SQS_BATCH_SIZE"),
		VisibilityTimeout: time.Duration(v.GetInt("SQS_VISIBILITY_TIMEOUT")) * time.Second,
		WaitTime:          time.Duration(v.GetInt("SQS_WAIT_TIME_SECONDS")) * time.Second,
		DefaultWidth:      v.GetInt("SCREENSHOT_WIDTH"),
		DefaultHeight:     v.GetInt("SCREENSHOT_HEIGHT"),
		RenderTimeout:     time.Duration(v.GetInt("SCREENSHOT_TIMEOUT")) * time.Millisecond,
		LogLevel:          v.GetString("LOG_LEVEL"),
		HealthPort:        v.GetInt("HEALTH_PORT"),
		MetricsPort:       v.GetInt("METRICS_PORT"),
		ShutdownTimeout:   time.Duration(v.GetInt("SHUTDOWN_TIMEOUT")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, req := range []struct {
		name, value string
	}{
		{"AWS_REGION", c.AWSRegion},
		{"SQS_QUEUE_URL", c.QueueURL},
		{"S3_BUCKET_NAME", c.Bucket},
		{"DYNAMODB_TABLE_NAME", c.Table},
	} {
		if req.value == "" {
			return fmt.Errorf("config: %s is required", req.name)
		}
	}
	if c.BatchSize < 1 || c.BatchSize > 10 {
		return fmt.Errorf("config: SQS_BATCH_SIZE must be 1..10, got %d", c.BatchSize)
	}
	if c.DefaultWidth < models.MinWidth || c.DefaultWidth > models.MaxWidth {
		return fmt.Errorf("config: SCREENSHOT_WIDTH must be %d..%d, got %d", models.MinWidth, models.MaxWidth, c.DefaultWidth)
	}
	if c.DefaultHeight < models.MinHeight || c.DefaultHeight > models.MaxHeight {
		return fmt.Errorf("config: SCREENSHOT_HEIGHT must be %d..%d, got %d", models.MinHeight, models.MaxHeight, c.DefaultHeight)
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("config: SCREENSHOT_TIMEOUT must be positive")
	}
	return nil
}
