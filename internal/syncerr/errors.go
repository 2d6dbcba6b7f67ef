// Package syncerr defines the error taxonomy shared by the sync core.
// Callers classify failures with errors.As; no component matches on
// error strings except to recognize upstream rate-limit rejections.
package syncerr

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// RateLimitError signals an upstream 429 or equivalent. Always retryable
// up to the configured cap.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration // 0 when the upstream gave no hint
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "rate limited by upstream"
	}
	return e.Message
}

// TransientNetworkError signals a timeout or connection failure. Retryable.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network failure during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ValidationError signals a malformed item or payload shape. Not retryable;
// the item is logged and skipped.
type ValidationError struct {
	SKU    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.SKU == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.SKU, e.Reason)
}

// ConcurrencyError signals that a sync is already running. The executor does
// not retry; the scheduler defers to its next cycle.
type ConcurrencyError struct {
	RunID string
}

func (e *ConcurrencyError) Error() string {
	if e.RunID == "" {
		return "sync already running"
	}
	return fmt.Sprintf("sync already running (run %s)", e.RunID)
}

// StorageError signals a write failure. Retried at batch granularity, then
// surfaced as partial failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// rate-limit phrases seen from inventory APIs that answer 200 with an
// error body instead of a proper 429
var rateLimitPatterns = []string{
	"rate limit",
	"too many requests",
	"request limit exceeded",
	"429",
}

// IsRateLimit reports whether err should be treated as an upstream
// rate-limit rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is worth retrying at all.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	var tn *TransientNetworkError
	if errors.As(err, &tn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsValidation reports whether err marks a malformed item.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
