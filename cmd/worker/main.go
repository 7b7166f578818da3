package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vidmetric/analyzer-worker/internal/clients"
	"github.com/vidmetric/analyzer-worker/internal/fetch"
	"github.com/vidmetric/analyzer-worker/internal/gemini"
	"github.com/vidmetric/analyzer-worker/internal/infra"
	"github.com/vidmetric/analyzer-worker/internal/models"
	"github.com/vidmetric/analyzer-worker/internal/pipeline"
	"github.com/vidmetric/analyzer-worker/internal/queue"
	"github.com/vidmetric/analyzer-worker/internal/storage"
)

func main() {
	// .env is a convenience for local runs; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	config := loadConfig()
	logger := infra.NewLogger(config.AppEnv)

	// Missing inference credentials are fatal before any network call.
	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Mode: "oneshot", "enqueue", or "standalone" queue consumer.
	mode := getEnv("WORKER_MODE", "standalone")
	switch mode {
	case "oneshot":
		runOneshot(config, logger)
	case "enqueue":
		runEnqueue(config, logger)
	default:
		runStandalone(config, logger)
	}
}

// parseRequestFlags builds an AnalysisRequest from the CLI contract shared
// by oneshot and enqueue modes. All fields except tags are required;
// validation happens in the pipeline.
func parseRequestFlags() *models.AnalysisRequest {
	requestID := flag.String("request-id", "", "opaque analysis request id (generated if empty)")
	videoURL := flag.String("video-url", "", "direct URL of the source video")
	platform := flag.String("platform", "", "target platform (tiktok, instagram, youtube)")
	targetAge := flag.String("target-age", "", "target audience age range, e.g. 18-24")
	targetGender := flag.String("target-gender", "", "target audience gender")
	targetTags := flag.String("target-tags", "", "comma-separated target interest tags")
	callbackURL := flag.String("callback-url", "", "URL receiving the results payload")
	flag.Parse()

	id := *requestID
	if id == "" {
		id = models.NewRequestID()
	}

	var tags []string
	for _, t := range strings.Split(*targetTags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	return &models.AnalysisRequest{
		RequestID:    id,
		VideoURL:     *videoURL,
		Platform:     *platform,
		TargetAge:    *targetAge,
		TargetGender: *targetGender,
		TargetTags:   tags,
		CallbackURL:  *callbackURL,
	}
}

// runOneshot processes a single request from CLI flags and exits 0 on
// success, non-zero on any unrecovered error. No queue, storage, or
// progress infrastructure is touched.
func runOneshot(config models.Config, logger zerolog.Logger) {
	req := parseRequestFlags()

	p := pipeline.New(
		newFetcher(config),
		newGeminiClient(config),
		clients.NewCallbackClient(config.WebhookSecret, 30*time.Second),
		nil,
		nil,
		logger,
	)

	if err := p.Run(context.Background(), req); err != nil {
		logger.Fatal().Err(err).Str("request_id", req.RequestID).Msg("analysis failed")
	}
	logger.Info().Str("request_id", req.RequestID).Msg("analysis succeeded")
}

// runEnqueue pushes a request onto the analysis queue and exits, mirroring
// what the upstream API does after validating a submission.
func runEnqueue(config models.Config, logger zerolog.Logger) {
	req := parseRequestFlags()
	if err := req.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid analysis request")
	}

	taskID, err := queue.Enqueue(config.RedisURL, req)
	if err != nil {
		logger.Fatal().Err(err).Str("request_id", req.RequestID).Msg("enqueue failed")
	}
	logger.Info().Str("request_id", req.RequestID).Str("task_id", taskID).Msg("analysis request enqueued")
}

// runStandalone runs the asynq queue consumer until SIGINT/SIGTERM.
func runStandalone(config models.Config, logger zerolog.Logger) {
	logger.Info().Msg("analyzer worker starting")

	ctx := context.Background()

	// Storage is optional: without a Postgres URL the worker processes
	// jobs without persistence, exactly like oneshot mode.
	var storageManager *storage.Manager
	if config.PostgresURL != "" {
		var err error
		storageManager, err = storage.NewManager(config.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize storage")
		}
		defer storageManager.Close()
		logger.Info().Msg("storage manager initialized")
	} else {
		logger.Info().Msg("POSTGRES_URL not set, persistence disabled")
	}

	redisOpts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	logger.Info().Msg("redis connection established")

	p := pipeline.New(
		newFetcher(config),
		newGeminiClient(config),
		clients.NewCallbackClient(config.WebhookSecret, 30*time.Second),
		storageManager,
		redisClient,
		logger,
	)

	consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    config.RedisURL,
		Concurrency: config.WorkerConcurrency,
		Processor:   p,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize queue consumer")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info().
		Int("concurrency", config.WorkerConcurrency).
		Str("temp_dir", config.TempDir).
		Msg("analyzer worker ready, waiting for jobs")

	select {
	case <-sigChan:
		logger.Info().Msg("shutdown signal received, stopping gracefully")
		consumer.Stop()
	case err := <-errChan:
		logger.Fatal().Err(err).Msg("worker error")
	}

	logger.Info().Msg("analyzer worker stopped")
}

func newFetcher(config models.Config) *fetch.Fetcher {
	return fetch.NewFetcher(&fetch.FetcherConfig{
		TempDir:     config.TempDir,
		MaxFileSize: config.MaxVideoSize,
	})
}

func newGeminiClient(config models.Config) *gemini.Client {
	return gemini.NewClient(gemini.ClientConfig{
		BaseURL: config.GeminiBaseURL,
		APIKey:  config.GeminiAPIKey,
		Model:   config.GeminiModel,
	})
}

// loadConfig resolves worker configuration from environment variables.
func loadConfig() models.Config {
	return models.Config{
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", gemini.DefaultBaseURL),
		GeminiModel:       getEnv("GEMINI_MODEL", gemini.DefaultModel),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		TempDir:           getEnv("TEMP_DIR", "/tmp/analyzer"),
		MaxVideoSize:      getEnvInt64("MAX_VIDEO_SIZE", 2*1024*1024*1024), // 2GB default
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 3),
		AppEnv:            getEnv("APP_ENV", "production"),
	}
}

// getEnv gets environment variable with default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable with default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets int64 environment variable with default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intValue int64
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}
