package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vidmetric/analyzer-worker/internal/clients"
	"github.com/vidmetric/analyzer-worker/internal/fetch"
	"github.com/vidmetric/analyzer-worker/internal/gemini"
	"github.com/vidmetric/analyzer-worker/internal/models"
	"github.com/vidmetric/analyzer-worker/internal/storage"
)

// Pipeline runs one analysis request end to end: fetch the video, upload it
// to the inference service, wait for remote processing, run the two chained
// generation calls, and deliver the combined results to the callback URL.
//
// Execution is fully sequential. Every stage error aborts the run; only the
// readiness poll retries, and only the not-yet-ready condition. The scratch
// file is removed on every exit path.
type Pipeline struct {
	fetcher  *fetch.Fetcher
	gemini   *gemini.Client
	callback *clients.CallbackClient
	storage  *storage.Manager // optional; nil in oneshot mode
	redis    *redis.Client    // optional; nil disables progress updates
	logger   zerolog.Logger
}

// New creates a pipeline. storage and redisClient may be nil: the oneshot
// CLI mode runs without persistence or progress pub/sub, exactly like the
// queue mode minus the bookkeeping.
func New(
	fetcher *fetch.Fetcher,
	geminiClient *gemini.Client,
	callback *clients.CallbackClient,
	storageManager *storage.Manager,
	redisClient *redis.Client,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		gemini:   geminiClient,
		callback: callback,
		storage:  storageManager,
		redis:    redisClient,
		logger:   logger,
	}
}

// Run processes a single analysis request. The returned error is the first
// unrecovered stage failure; persistence bookkeeping (status flips, result
// rows) is best-effort around it.
func (p *Pipeline) Run(ctx context.Context, req *models.AnalysisRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	log := p.logger.With().Str("request_id", req.RequestID).Logger()

	if p.storage != nil {
		if err := p.storage.StoreRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to store request: %w", err)
		}
	}

	err := p.run(ctx, log, req)
	if p.storage != nil {
		status, errMsg := "completed", ""
		if err != nil {
			status, errMsg = "failed", err.Error()
		}
		if updErr := p.storage.UpdateRequestStatus(ctx, req.RequestID, status, errMsg); updErr != nil {
			log.Error().Err(updErr).Msg("failed to update request status")
		}
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, log zerolog.Logger, req *models.AnalysisRequest) error {
	// Stage 1: download to scratch storage. The deferred cleanup is the
	// only guarantee the scratch file ever leaves disk, so it must be
	// registered before anything else can fail.
	log.Info().Str("video_url", req.VideoURL).Msg("downloading video")
	p.sendProgress(ctx, req.RequestID, "processing", "downloading", "Downloading source video")

	asset, err := p.fetcher.Fetch(ctx, req.VideoURL, req.RequestID)
	if err != nil {
		return fmt.Errorf("video download failed: %w", err)
	}
	defer func() {
		if cleanupErr := p.fetcher.Cleanup(asset); cleanupErr != nil {
			log.Warn().Err(cleanupErr).Str("path", asset.LocalPath).Msg("scratch cleanup failed")
		}
	}()
	log.Info().Str("path", asset.LocalPath).Str("mime_type", asset.MimeType).Msg("video downloaded")

	// Stage 2: binary upload to the Files API.
	p.sendProgress(ctx, req.RequestID, "processing", "uploading", "Uploading video to inference service")
	remote, err := p.gemini.UploadFile(ctx, asset.LocalPath, asset.MimeType)
	if err != nil {
		return fmt.Errorf("video upload failed: %w", err)
	}
	log.Info().Str("file_name", remote.Name).Msg("video uploaded")

	// Stage 3: block until the remote asset is ready.
	p.sendProgress(ctx, req.RequestID, "processing", "processing", "Waiting for remote video processing")
	if err := p.gemini.WaitForActive(ctx, remote.Name); err != nil {
		return fmt.Errorf("remote processing wait failed: %w", err)
	}
	log.Info().Msg("remote file active")

	// Stage 4: content analysis, bound to the uploaded asset.
	p.sendProgress(ctx, req.RequestID, "processing", "extracting", "Analyzing video content")
	extractText, err := p.gemini.GenerateContent(ctx, buildExtractPrompt(req), remote)
	if err != nil {
		return fmt.Errorf("content analysis failed: %w", err)
	}
	var analysis models.ContentAnalysis
	if err := gemini.ExtractJSON(extractText, &analysis); err != nil {
		return fmt.Errorf("content analysis failed: %w", err)
	}
	log.Info().Int("tags", len(analysis.Tags)).Msg("content analysis complete")

	// Stage 5: KPI prediction, text-only. The predictor reasons from the
	// extracted attributes, not the video itself.
	p.sendProgress(ctx, req.RequestID, "processing", "scoring", "Predicting KPI performance")
	scoreText, err := p.gemini.GenerateContent(ctx, buildScorePrompt(req, &analysis), nil)
	if err != nil {
		return fmt.Errorf("KPI prediction failed: %w", err)
	}
	var scoring struct {
		Results []models.KPIPrediction `json:"results"`
	}
	if err := gemini.ExtractJSON(scoreText, &scoring); err != nil {
		return fmt.Errorf("KPI prediction failed: %w", err)
	}
	log.Info().Int("kpis", len(scoring.Results)).Msg("KPI prediction complete")

	// Stage 6: persist and deliver. Both generation stages have succeeded
	// by this point, so the callback carries the complete result set.
	if p.storage != nil {
		p.sendProgress(ctx, req.RequestID, "processing", "saving", "Saving analysis results")
		if err := p.storage.StoreAnalysis(ctx, req.RequestID, &analysis); err != nil {
			log.Error().Err(err).Msg("failed to store content analysis")
		}
		if err := p.storage.StoreResults(ctx, req.RequestID, scoring.Results); err != nil {
			log.Error().Err(err).Msg("failed to store KPI results")
		}
	}

	payload := &models.CallbackPayload{
		RequestID:       req.RequestID,
		Results:         scoring.Results,
		Characteristics: &analysis,
	}
	if err := p.callback.Deliver(ctx, req.CallbackURL, payload); err != nil {
		return fmt.Errorf("result delivery failed: %w", err)
	}

	p.sendProgress(ctx, req.RequestID, "completed", "done", "Analysis complete")
	log.Info().Msg("analysis complete")
	return nil
}

// sendProgress publishes a stage transition on Redis for real-time
// consumers. Progress is best-effort and never fails the run.
func (p *Pipeline) sendProgress(ctx context.Context, requestID, status, stage, message string) {
	if p.redis == nil {
		return
	}

	update := models.ProgressUpdate{
		RequestID: requestID,
		Status:    status,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}

	channel := fmt.Sprintf("analyzer:progress:%s", requestID)
	if err := p.redis.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("request_id", requestID).Msg("progress publish failed")
	}
}
