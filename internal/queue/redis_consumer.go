package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

// TaskTypeAnalyze is the asynq task type carrying an AnalysisRequest.
const TaskTypeAnalyze = "analyzer:process"

// Processor runs one analysis request end to end.
type Processor interface {
	Run(ctx context.Context, req *models.AnalysisRequest) error
}

// RedisConsumer consumes analysis jobs from the Redis-backed asynq queue.
type RedisConsumer struct {
	server    *asynq.Server
	processor Processor
	logger    zerolog.Logger
}

// RedisConsumerConfig holds consumer configuration.
type RedisConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Processor   Processor
	Logger      zerolog.Logger
}

// NewRedisConsumer creates a queue consumer. Task-level retries are asynq's
// concern; the pipeline itself never retries a failed stage.
func NewRedisConsumer(config *RedisConsumerConfig) (*RedisConsumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := config.Logger
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues: map[string]int{
				"analyzer:critical": 6,
				"analyzer:default":  3,
				"analyzer:low":      1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 1min, 2min, 4min
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
			}),
		},
	)

	return &RedisConsumer{
		server:    server,
		processor: config.Processor,
		logger:    logger,
	}, nil
}

// Start runs the consumer until Stop is called. It blocks.
func (rc *RedisConsumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeAnalyze, rc.handleAnalyzeTask)

	rc.logger.Info().Msg("starting analyzer worker")
	if err := rc.server.Run(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully.
func (rc *RedisConsumer) Stop() {
	rc.logger.Info().Msg("shutting down analyzer worker")
	rc.server.Shutdown()
}

func (rc *RedisConsumer) handleAnalyzeTask(ctx context.Context, task *asynq.Task) error {
	var req models.AnalysisRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal analysis request: %w", err)
	}

	rc.logger.Info().Str("request_id", req.RequestID).Msg("processing analysis request")
	if err := rc.processor.Run(ctx, &req); err != nil {
		rc.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("analysis request failed")
		return err
	}

	rc.logger.Info().Str("request_id", req.RequestID).Msg("analysis request completed")
	return nil
}

// NewAnalyzeTask builds the asynq task for an analysis request.
func NewAnalyzeTask(req *models.AnalysisRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}
	return asynq.NewTask(TaskTypeAnalyze, payload, asynq.Queue("analyzer:default")), nil
}

// Enqueue pushes an analysis request onto the queue, the producer-side
// counterpart of the consumer above.
func Enqueue(redisURL string, req *models.AnalysisRequest) (string, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)
	defer client.Close()

	task, err := NewAnalyzeTask(req)
	if err != nil {
		return "", err
	}
	info, err := client.Enqueue(task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}
