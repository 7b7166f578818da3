package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

// CallbackClient delivers analysis results to the caller-supplied callback
// URL. Delivery is best-effort and never retried: a failed callback fails
// the run, but no re-queuing or compensation happens here.
type CallbackClient struct {
	httpClient *http.Client
	secret     string // optional bearer token
}

// NewCallbackClient creates a callback client. The secret is attached as a
// bearer token only when non-empty.
func NewCallbackClient(secret string, timeout time.Duration) *CallbackClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CallbackClient{
		httpClient: &http.Client{Timeout: timeout},
		secret:     secret,
	}
}

// Deliver POSTs the combined KPI predictions and content analysis for a
// request. It must only be called after both generation stages succeeded;
// partial results are never delivered.
func (c *CallbackClient) Deliver(ctx context.Context, callbackURL string, payload *models.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &CallbackError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// CallbackError reports a non-success response from the callback receiver.
type CallbackError struct {
	StatusCode int
	Body       string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback failed (%d): %s", e.StatusCode, e.Body)
}
