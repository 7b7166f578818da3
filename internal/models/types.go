package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KPIVocabulary is the fixed set of marketing metrics predicted for every
// analysis run. The predictor is asked for one entry per KPI; downstream
// consumers tolerate partial coverage.
var KPIVocabulary = []string{
	"Impressions", "Reach", "CPM", "CTR", "CPC",
	"Completion Rate", "Conversions", "CPA", "ROAS", "View Duration",
}

// AnalysisRequest is the job payload consumed by the worker, either from CLI
// flags (oneshot mode) or from an asynq task (standalone mode). It is
// immutable for the duration of a run.
type AnalysisRequest struct {
	RequestID    string   `json:"requestId"`
	VideoURL     string   `json:"videoUrl"`
	Platform     string   `json:"platform"`
	TargetAge    string   `json:"targetAge"`
	TargetGender string   `json:"targetGender"`
	TargetTags   []string `json:"targetTags,omitempty"`
	CallbackURL  string   `json:"callbackUrl"`
}

// Validate checks the fields the pipeline cannot run without. Target tags
// are optional; everything else is required.
func (r *AnalysisRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.RequestID) == "":
		return fmt.Errorf("analysis request missing requestId")
	case strings.TrimSpace(r.VideoURL) == "":
		return fmt.Errorf("analysis request %s missing videoUrl", r.RequestID)
	case strings.TrimSpace(r.Platform) == "":
		return fmt.Errorf("analysis request %s missing platform", r.RequestID)
	case strings.TrimSpace(r.CallbackURL) == "":
		return fmt.Errorf("analysis request %s missing callbackUrl", r.RequestID)
	}
	return nil
}

// VideoAsset is the downloaded scratch file. The pipeline run owns it
// exclusively and deletes it at run end regardless of outcome.
type VideoAsset struct {
	LocalPath string
	MimeType  string
}

// RemoteFile is the opaque asset reference returned by the inference
// service's upload endpoint. URI is non-empty on any successful upload; the
// file expires server-side, so there is no local destruction step.
type RemoteFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
}

// ContentAnalysis is the structured result of the content-analysis
// generation call. Score fields are pointers: the remote model may omit
// them, and absent values must pass through to the callback unmodified.
// Defaulting to 50 happens only when composing the predictor prompt.
type ContentAnalysis struct {
	Tags              []string           `json:"tags"`
	QualityScore      *int               `json:"quality_score,omitempty"`
	HookStrength      *int               `json:"hook_strength,omitempty"`
	AudienceRelevance *int               `json:"audience_relevance,omitempty"`
	ContentSummary    string             `json:"content_summary,omitempty"`
	Characteristics   *CharacteristicSet `json:"characteristics,omitempty"`
}

// CharacteristicSet is the 11-field production-quality assessment distinct
// from the top-level scores. All fields are optional and forwarded to the
// callback exactly as the model returned them.
type CharacteristicSet struct {
	Objective         string `json:"objective,omitempty"` // educate, sell, entertain, inspire, inform
	Storytelling      *int   `json:"storytelling,omitempty"`
	AudioQuality      *int   `json:"audio_quality,omitempty"`
	VisualQuality     *int   `json:"visual_quality,omitempty"`
	EditingPacing     *int   `json:"editing_pacing,omitempty"`
	AudienceAwareness *int   `json:"audience_awareness,omitempty"`
	HookScore         *int   `json:"hook_score,omitempty"`
	CTAPresent        *bool  `json:"cta_present,omitempty"`
	Lighting          *int   `json:"lighting,omitempty"`
	Stability         *int   `json:"stability,omitempty"`
	FormatFit         *int   `json:"format_fit,omitempty"`
}

// KPIPrediction is one predicted metric. PredictedValue is free-form text
// with units ("8.5K", "3.2%", "$0.45") except View Duration, which is an
// integer millisecond count with no unit.
type KPIPrediction struct {
	KPIName        string `json:"kpi_name"`
	PredictedValue string `json:"predicted_value"`
	Score          int    `json:"score"`
	Explanation    string `json:"explanation,omitempty"`
}

// CallbackPayload is the body POSTed to the caller's callback URL once both
// generation calls have succeeded. Characteristics carries the full content
// analysis, matching what the webhook consumer stores alongside KPI rows.
type CallbackPayload struct {
	RequestID       string           `json:"requestId"`
	Results         []KPIPrediction  `json:"results"`
	Characteristics *ContentAnalysis `json:"characteristics,omitempty"`
}

// ProgressUpdate is published via Redis pub/sub for real-time pipeline
// progress.
type ProgressUpdate struct {
	RequestID string    `json:"requestId"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds worker configuration, resolved once from the environment at
// process start and passed into each component.
type Config struct {
	RedisURL          string
	PostgresURL       string // optional; empty disables persistence
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	WebhookSecret     string // optional bearer token for callback delivery
	TempDir           string
	MaxVideoSize      int64 // bytes
	WorkerConcurrency int
	AppEnv            string
}

// Validate reports fatal configuration problems before any network call is
// attempted. The inference API key is the one hard requirement shared by
// every mode.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return nil
}

// NewRequestID generates a unique analysis request ID.
func NewRequestID() string {
	return uuid.New().String()
}
