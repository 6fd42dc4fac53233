package common

import (
	"fmt"
	"time"
)

var (
	ErrModNotFound        = fmt.Errorf("mod not found")
	ErrNotFound           = fmt.Errorf("resource not found")
	ErrNetworkUnreachable = fmt.Errorf("network unreachable")
	ErrAuthRejected       = fmt.Errorf("authentication rejected")
	ErrNotLoggedIn        = fmt.Errorf("not logged in")
	ErrDownloadActive     = fmt.Errorf("download already active")
	ErrDownloadQueueFull  = fmt.Errorf("download queue is full")
	ErrNoLogoURL          = fmt.Errorf("mod has no logo url for requested tier")
	ErrLocalIO            = fmt.Errorf("local io failure")
)

// RateLimitedError reports that the server throttled the request and when it
// may be retried.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ValidationError carries the per-field messages of a rejected submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// IntegrityError reports a size or hash mismatch on a completed download.
type IntegrityError struct {
	Check    string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check %s failed: expected %s, got %s", e.Check, e.Expected, e.Actual)
}
