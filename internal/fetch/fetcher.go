package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vidmetric/analyzer-worker/internal/models"
)

// Fetcher downloads a source video into scratch storage. It performs a
// single streamed GET per request: the only retry loop in the pipeline is
// the remote-asset readiness poll, not the download.
type Fetcher struct {
	client      *http.Client
	tempDir     string
	maxFileSize int64 // 0 = unlimited
	userAgent   string
}

// FetcherConfig holds fetcher configuration.
type FetcherConfig struct {
	Timeout     time.Duration // Default: 2min
	MaxFileSize int64         // Default: 2GB
	TempDir     string        // Default: /tmp
}

// extensionByMime maps declared video mime types to scratch-file
// extensions. Anything unmapped falls back to .mp4.
var extensionByMime = map[string]string{
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"video/x-msvideo": ".avi",
	"video/mpeg":      ".mpeg",
}

// NewFetcher creates a fetcher with defaults applied.
func NewFetcher(config *FetcherConfig) *Fetcher {
	if config == nil {
		config = &FetcherConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 2 * 1024 * 1024 * 1024 // 2GB default
	}
	if config.TempDir == "" {
		config.TempDir = "/tmp"
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		tempDir:     config.TempDir,
		maxFileSize: config.MaxFileSize,
		userAgent:   "Mozilla/5.0 (compatible; VideoAnalyzer/1.0)",
	}
}

// Fetch streams the video at url into a uniquely named scratch file and
// returns the asset. Ownership of the file transfers to the caller, who must
// Cleanup it when the run ends.
//
// The declared content type decides the outcome before any body bytes are
// written: an "html" marker means the caller pasted a social-media page URL
// instead of a direct media URL and fails with NotAVideoError; any other
// non-video type is assumed to be a mislabeled video and treated as
// video/mp4.
func (f *Fetcher) Fetch(ctx context.Context, url, requestID string) (*models.VideoAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("video download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	mimeType := parseMediaType(resp.Header.Get("Content-Type"))

	if strings.Contains(mimeType, "html") {
		return nil, &NotAVideoError{ContentType: mimeType}
	}
	if !strings.HasPrefix(mimeType, "video/") {
		// Some hosts serve correct video bytes under octet-stream or
		// similar; tolerate the mislabel rather than fail.
		mimeType = "video/mp4"
	}

	tempFile, err := f.createScratchFile(requestID, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}

	if _, err := f.copyWithLimit(tempFile, resp.Body, f.maxFileSize); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("failed to close scratch file: %w", err)
	}

	return &models.VideoAsset{LocalPath: tempFile.Name(), MimeType: mimeType}, nil
}

// Cleanup removes the scratch file. A missing file is not an error: the run
// may have failed before the download completed, or cleanup may run twice.
func (f *Fetcher) Cleanup(asset *models.VideoAsset) error {
	if asset == nil || asset.LocalPath == "" {
		return nil
	}
	if err := os.Remove(asset.LocalPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ExtensionForMime returns the scratch-file extension for a video mime type,
// defaulting to .mp4 for anything unmapped.
func ExtensionForMime(mimeType string) string {
	if ext, ok := extensionByMime[mimeType]; ok {
		return ext
	}
	return ".mp4"
}

func (f *Fetcher) createScratchFile(requestID, mimeType string) (*os.File, error) {
	if err := os.MkdirAll(f.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	pattern := fmt.Sprintf("analyzer-%s-*%s", requestID, ExtensionForMime(mimeType))
	tempFile, err := os.CreateTemp(f.tempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return tempFile, nil
}

// copyWithLimit streams the body to disk, failing once the size limit is
// exceeded so oversized downloads never buffer in memory or fill the disk.
func (f *Fetcher) copyWithLimit(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	limitedReader := io.LimitReader(src, limit+1) // +1 to detect overflow
	written, err := io.Copy(dst, limitedReader)
	if err != nil {
		return written, err
	}
	if written > limit {
		return written, fmt.Errorf("video exceeded size limit: %d bytes (max: %d bytes)", written, limit)
	}
	return written, nil
}

// parseMediaType strips parameters from a Content-Type header value.
func parseMediaType(contentType string) string {
	mimeType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// NotAVideoError reports a URL that served an HTML page instead of raw
// video. Social media page URLs (TikTok, Instagram, YouTube) never serve the
// media directly, so this distinguishes the common user mistake of pasting a
// page URL from a genuine transport failure.
type NotAVideoError struct {
	ContentType string
}

func (e *NotAVideoError) Error() string {
	return fmt.Sprintf(
		"URL returned an HTML page (Content-Type: %s), not a video file; "+
			"provide a direct media URL instead of a social-media page URL",
		e.ContentType,
	)
}

// HTTPError represents a non-success download response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}
