package gemini

import (
	"fmt"
	"time"
)

// UploadError reports a failed or contract-violating Files API upload. A
// missing URI on a success status is treated the same as a bad status: the
// service broke its contract and the upload is not retried.
type UploadError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *UploadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload failed (%d): %s: %s", e.StatusCode, e.Message, e.Body)
	}
	return fmt.Sprintf("upload failed (%d): %s", e.StatusCode, e.Body)
}

// ProcessingFailedError reports that the service marked an uploaded file
// FAILED. This is terminal; polling stops immediately.
type ProcessingFailedError struct {
	FileName string
}

func (e *ProcessingFailedError) Error() string {
	return fmt.Sprintf("remote processing failed for file %s", e.FileName)
}

// TimeoutError reports that a file never reached ACTIVE within the poll
// timeout. LastState is the state seen on the final poll.
type TimeoutError struct {
	FileName  string
	Timeout   time.Duration
	LastState FileState
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("file %s not ACTIVE after %s (last state: %s)", e.FileName, e.Timeout, e.LastState)
}

// GenerationError reports a failed generateContent call, either a
// non-success status or a response missing the expected candidate/part
// structure.
type GenerationError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *GenerationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("generateContent failed (%d): %s: %s", e.StatusCode, e.Message, e.Body)
	}
	return fmt.Sprintf("generateContent failed (%d): %s", e.StatusCode, e.Body)
}

// MalformedResponseError reports model output that contained no parseable
// JSON object after both extraction tiers.
type MalformedResponseError struct {
	Text  string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("no JSON object in model response: %v", e.Cause)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}
