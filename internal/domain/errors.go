package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common domain errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidTaskUUID = errors.New("invalid task uuid")

	// Download errors
	ErrDownloadCanceled = errors.New("download canceled")
	ErrDownloadFailed   = errors.New("download failed")

	// Materialization errors
	ErrInvalidArchive   = errors.New("invalid bundle archive")
	ErrInvalidEntryName = errors.New("invalid archive entry name")

	// Cache storage errors
	ErrCacheDeleted        = errors.New("cache has been deleted")
	ErrEstimateUnsupported = errors.New("storage estimate not supported")

	// Task errors
	ErrTaskRunning            = errors.New("task is already running")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// DownloadError is returned when the bundle endpoint answers with a
// non-success status.
type DownloadError struct {
	TaskUUID   string
	StatusCode int
}

// Error returns the error message
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download task %q failed with status %d", e.TaskUUID, e.StatusCode)
}

// Is reports ErrDownloadFailed as the sentinel for every DownloadError.
func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}

// NewDownloadError builds the error for a failed bundle download. Server side
// failures (5xx, 429) are wrapped as retryable so callers can decide to retry,
// carrying the server's Retry-After hint when it sent one.
func NewDownloadError(taskUUID string, statusCode int, retryAfter time.Duration) error {
	de := &DownloadError{TaskUUID: taskUUID, StatusCode: statusCode}
	if statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests {
		return NewRetryableError(de, retryAfter)
	}
	return de
}

// SkippableError represents an error that can be logged and skipped.
// Processing can continue with the next item when this error occurs.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// RetryableError represents an error the caller may retry.
// Nothing in this module retries on its own.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// StatusCodeOf extracts the HTTP status carried by a DownloadError, if any.
func StatusCodeOf(err error) (int, bool) {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.StatusCode, true
	}
	return 0, false
}
