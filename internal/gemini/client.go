package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

// Default timing for the Files API and generateContent endpoints. Upload and
// generation move large payloads and get generous timeouts; status checks
// are small and fast.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"

	defaultUploadTimeout   = 180 * time.Second
	defaultStatusTimeout   = 30 * time.Second
	defaultGenerateTimeout = 120 * time.Second

	// DefaultPollInterval and DefaultPollTimeout bound the readiness wait.
	// Remote video processing is typically short, so a fixed interval with
	// no backoff is deliberate.
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 180 * time.Second

	generationTemperature     = 0.3
	generationMaxOutputTokens = 8192
)

// FileState is the inference service's reported processing status for an
// uploaded asset. Unrecognized states map to StateUnknown and are retried
// the same as StateProcessing so new server-side states don't break the
// poll loop.
type FileState int

const (
	StateProcessing FileState = iota
	StateActive
	StateFailed
	StateUnknown
)

func (s FileState) String() string {
	switch s {
	case StateProcessing:
		return "PROCESSING"
	case StateActive:
		return "ACTIVE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func parseFileState(state string) FileState {
	switch state {
	case "PROCESSING":
		return StateProcessing
	case "ACTIVE":
		return StateActive
	case "FAILED":
		return StateFailed
	default:
		return StateUnknown
	}
}

// Client talks to a Gemini-style inference service: binary file uploads,
// processing-state checks, and generateContent calls.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	// PollInterval and PollTimeout control WaitForActive and exist as
	// fields so tests can shrink them.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string // Default: the public Gemini endpoint
	APIKey  string
	Model   string // Default: gemini-2.5-flash
}

// NewClient creates a Gemini client with defaults applied. The API key must
// already have been validated by configuration; the client does not re-check
// it per call.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		model:   config.Model,
		// Per-call deadlines are set via context; the overall client cap
		// only guards against a wedged connection.
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		PollInterval: DefaultPollInterval,
		PollTimeout:  DefaultPollTimeout,
	}
}

type uploadResponse struct {
	File models.RemoteFile `json:"file"`
}

// UploadFile pushes the scratch file to the Files API via the raw upload
// protocol and returns the opaque remote reference. A success status with a
// missing URI is a contract violation by the service and fails without
// retry.
func (c *Client) UploadFile(ctx context.Context, localPath, mimeType string) (*models.RemoteFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, defaultUploadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/upload/v1beta/files?uploadType=media&key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if parsed.File.URI == "" {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Message:    "no file URI in upload response",
		}
	}
	if parsed.File.MimeType == "" {
		parsed.File.MimeType = mimeType
	}

	remote := parsed.File
	return &remote, nil
}

// GetFileState fetches the current processing state of an uploaded file.
func (c *Client) GetFileState(ctx context.Context, fileName string) (FileState, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultStatusTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, fileName, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StateUnknown, fmt.Errorf("file status check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return StateUnknown, fmt.Errorf("file status check failed (%d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StateUnknown, fmt.Errorf("failed to parse status response: %w", err)
	}
	return parseFileState(parsed.State), nil
}

// WaitForActive polls the file state at a fixed interval until it reaches
// ACTIVE. A FAILED state aborts immediately with ProcessingFailedError
// rather than waiting out the timeout; unknown states are retried the same
// as PROCESSING. On timeout the error carries the last observed state.
//
// This is the pipeline's only blocking wait.
func (c *Client) WaitForActive(ctx context.Context, fileName string) error {
	lastState := StateProcessing

	for elapsed := time.Duration(0); elapsed < c.PollTimeout; elapsed += c.PollInterval {
		state, err := c.GetFileState(ctx, fileName)
		if err != nil {
			return err
		}
		switch state {
		case StateActive:
			return nil
		case StateFailed:
			return &ProcessingFailedError{FileName: fileName}
		}
		lastState = state

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}

	return &TimeoutError{FileName: fileName, Timeout: c.PollTimeout, LastState: lastState}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateContent issues a generateContent call with the prompt as one
// content part and, when file is non-nil, a file-reference part binding the
// previously uploaded asset. Generation parameters favor deterministic,
// machine-parseable JSON output: this is a measurement task, not a creative
// one. Returns the first candidate's first part text.
func (c *Client) GenerateContent(ctx context.Context, prompt string, file *models.RemoteFile) (string, error) {
	parts := []part{{Text: prompt}}
	if file != nil {
		parts = append(parts, part{
			FileData: &fileData{MimeType: file.MimeType, FileURI: file.URI},
		})
	}

	body := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:      generationTemperature,
			MaxOutputTokens:  generationMaxOutputTokens,
			ResponseMimeType: "application/json",
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultGenerateTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &GenerationError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &GenerationError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &GenerationError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Message:    "response missing candidate content",
		}
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// ExtractJSON parses model output into v. The service is instructed to
// return raw JSON, but may still wrap or pad it, so parsing is permissive:
// first the greedy span from the first '{' to the last '}' is tried, then
// the whole text. Both tiers must be preserved; they defend against
// non-contractual output from an external service.
func ExtractJSON(text string, v interface{}) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
			return &MalformedResponseError{Text: text, Cause: err}
		}
		return nil
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return &MalformedResponseError{Text: text, Cause: err}
	}
	return nil
}
