package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

func writeTestVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0644))
	return path
}

func TestUploadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload/v1beta/files", r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "video/mp4", r.Header.Get("Content-Type"))
		assert.Equal(t, "raw", r.Header.Get("X-Goog-Upload-Protocol"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "fake video bytes", string(body))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"file": map[string]string{
				"name":     "files/abc123",
				"uri":      "https://files.example/abc123",
				"mimeType": "video/mp4",
			},
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	remote, err := c.UploadFile(context.Background(), writeTestVideo(t), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "files/abc123", remote.Name)
	assert.Equal(t, "https://files.example/abc123", remote.URI)
	assert.Equal(t, "video/mp4", remote.MimeType)
}

func TestUploadFileMimeTypeFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Service omits mimeType; the client backfills the uploaded type.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"file": map[string]string{
				"name": "files/abc123",
				"uri":  "https://files.example/abc123",
			},
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	remote, err := c.UploadFile(context.Background(), writeTestVideo(t), "video/webm")
	require.NoError(t, err)
	assert.Equal(t, "video/webm", remote.MimeType)
}

func TestUploadFileMissingURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"file": map[string]string{"name": "files/abc123"},
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	_, err := c.UploadFile(context.Background(), writeTestVideo(t), "video/mp4")

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Message, "no file URI")
}

func TestUploadFileBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	_, err := c.UploadFile(context.Background(), writeTestVideo(t), "video/mp4")

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, http.StatusTooManyRequests, uploadErr.StatusCode)
}

// stateServer serves a fixed sequence of file states, one per poll.
func stateServer(t *testing.T, calls *int32, states ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/files/abc123", r.URL.Path)
		n := atomic.AddInt32(calls, 1)
		state := states[len(states)-1]
		if int(n) <= len(states) {
			state = states[n-1]
		}
		json.NewEncoder(w).Encode(map[string]string{"state": state})
	}))
}

func TestWaitForActiveAfterRetries(t *testing.T) {
	var calls int32
	server := stateServer(t, &calls, "PROCESSING", "PROCESSING", "ACTIVE")
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	c.PollInterval = time.Millisecond
	c.PollTimeout = time.Second

	require.NoError(t, c.WaitForActive(context.Background(), "files/abc123"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitForActiveFailedState(t *testing.T) {
	var calls int32
	server := stateServer(t, &calls, "FAILED")
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	c.PollInterval = time.Millisecond
	c.PollTimeout = time.Second

	err := c.WaitForActive(context.Background(), "files/abc123")
	var failedErr *ProcessingFailedError
	require.ErrorAs(t, err, &failedErr)
	assert.Equal(t, "files/abc123", failedErr.FileName)
	// FAILED aborts on the first poll, no timeout wait.
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWaitForActiveTimeout(t *testing.T) {
	var calls int32
	server := stateServer(t, &calls, "PROCESSING")
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	c.PollInterval = time.Millisecond
	c.PollTimeout = 3 * time.Millisecond

	err := c.WaitForActive(context.Background(), "files/abc123")
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, StateProcessing, timeoutErr.LastState)
	assert.Contains(t, err.Error(), "PROCESSING")
}

func TestWaitForActiveUnknownStateRetried(t *testing.T) {
	var calls int32
	server := stateServer(t, &calls, "QUEUED", "ACTIVE")
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	c.PollInterval = time.Millisecond
	c.PollTimeout = time.Second

	require.NoError(t, c.WaitForActive(context.Background(), "files/abc123"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerateContentWithFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req struct {
			Contents []struct {
				Parts []struct {
					Text     string `json:"text"`
					FileData *struct {
						MimeType string `json:"mimeType"`
						FileURI  string `json:"fileUri"`
					} `json:"fileData"`
				} `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				Temperature      float64 `json:"temperature"`
				MaxOutputTokens  int     `json:"maxOutputTokens"`
				ResponseMimeType string  `json:"responseMimeType"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "describe this video", req.Contents[0].Parts[0].Text)
		require.NotNil(t, req.Contents[0].Parts[1].FileData)
		assert.Equal(t, "https://files.example/abc123", req.Contents[0].Parts[1].FileData.FileURI)
		assert.Equal(t, "video/mp4", req.Contents[0].Parts[1].FileData.MimeType)
		assert.InDelta(t, 0.3, req.GenerationConfig.Temperature, 0.001)
		assert.Equal(t, 8192, req.GenerationConfig.MaxOutputTokens)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"tags\":[]}"}]}}]}`)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	text, err := c.GenerateContent(context.Background(), "describe this video", &models.RemoteFile{
		Name:     "files/abc123",
		URI:      "https://files.example/abc123",
		MimeType: "video/mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"tags":[]}`, text)
}

func TestGenerateContentTextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []json.RawMessage `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		// Without a file reference the request carries a single text part.
		assert.Len(t, req.Contents[0].Parts, 1)

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"results\":[]}"}]}}]}`)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	text, err := c.GenerateContent(context.Background(), "predict KPIs", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, text)
}

func TestGenerateContentMissingCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	_, err := c.GenerateContent(context.Background(), "prompt", nil)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Message, "missing candidate content")
}

func TestGenerateContentBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
	_, err := c.GenerateContent(context.Background(), "prompt", nil)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, http.StatusServiceUnavailable, genErr.StatusCode)
}

func TestExtractJSON(t *testing.T) {
	type result struct {
		Tags []string `json:"tags"`
	}

	t.Run("wrapped in prose", func(t *testing.T) {
		var v result
		err := ExtractJSON("Here is the analysis: {\"tags\":[\"cooking\"]} hope it helps", &v)
		require.NoError(t, err)
		assert.Equal(t, []string{"cooking"}, v.Tags)
	})

	t.Run("code fence", func(t *testing.T) {
		var v result
		err := ExtractJSON("```json\n{\"tags\":[\"travel\"]}\n```", &v)
		require.NoError(t, err)
		assert.Equal(t, []string{"travel"}, v.Tags)
	})

	t.Run("raw object", func(t *testing.T) {
		var v result
		require.NoError(t, ExtractJSON(`{"tags":[]}`, &v))
	})

	t.Run("no braces", func(t *testing.T) {
		var v result
		err := ExtractJSON("I could not analyze this video.", &v)
		var malformed *MalformedResponseError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("invalid json between braces", func(t *testing.T) {
		var v result
		err := ExtractJSON("{not json}", &v)
		var malformed *MalformedResponseError
		require.ErrorAs(t, err, &malformed)
		assert.Error(t, malformed.Cause)
	})
}

func TestFileStateString(t *testing.T) {
	assert.Equal(t, "PROCESSING", StateProcessing.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "UNKNOWN", StateUnknown.String())
	assert.Equal(t, StateUnknown, parseFileState("SOMETHING_NEW"))
}
