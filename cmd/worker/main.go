package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haiha210/screenshot-service-be/internal/config"
	"github.com/haiha210/screenshot-service-be/internal/consumer"
	"github.com/haiha210/screenshot-service-be/internal/queue"
	"github.com/haiha210/screenshot-service-be/internal/renderer"
	"github.com/haiha210/screenshot-service-be/internal/runtime"
	"github.com/haiha210/screenshot-service-be/internal/state"
	"github.com/haiha210/screenshot-service-be/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg.LogLevel)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatal().Err(err).Msg("load aws config")
	}

	store := state.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Table)
	objects := storage.NewS3(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.AWSRegion)
	q := queue.NewSQS(sqs.NewFromConfig(awsCfg), cfg.QueueURL, cfg.BatchSize, cfg.WaitTime, cfg.VisibilityTimeout)

	chrome, err := renderer.NewChrome(cfg.RenderTimeout, log)
	if err != nil {
		log.Fatal().Err(err).Msg("launch browser")
	}

	handler := consumer.New(store, objects, chrome, log, cfg.DefaultWidth, cfg.DefaultHeight)
	rt := runtime.New(cfg, q, handler, store, log)

	err = rt.Run(ctx)
	chrome.Close()
	if err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("worker_id", workerID()).
		Logger()
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
